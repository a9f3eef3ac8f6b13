package exec

import (
	"context"
	"fmt"

	"github.com/fieldcore/runtime/internal/rpc"
)

// Methods implements rpc.Handler, exposing the dispatcher's RPC surface
// under the names §4.4.3 specifies.
func (d *Dispatcher) Methods() map[string]rpc.Method {
	return map[string]rpc.Method{
		"execute": func(ctx context.Context, args []any) (any, *rpc.CallError) {
			names, block, enableGamepads, err := parseExecuteArgs(args)
			if err != nil {
				return nil, rpc.NewCallError(err.Error(), nil)
			}
			results, err := d.Execute(ctx, names, block, enableGamepads)
			if err != nil {
				return nil, rpc.NewCallError(err.Error(), nil)
			}
			return resultsToWire(results), nil
		},
		"idle": func(ctx context.Context, args []any) (any, *rpc.CallError) {
			if err := d.Idle(ctx); err != nil {
				return nil, rpc.NewCallError(err.Error(), nil)
			}
			return nil, nil
		},
		"auto": func(ctx context.Context, args []any) (any, *rpc.CallError) {
			if err := d.Auto(ctx); err != nil {
				return nil, rpc.NewCallError(err.Error(), nil)
			}
			return nil, nil
		},
		"teleop": func(ctx context.Context, args []any) (any, *rpc.CallError) {
			if err := d.Teleop(ctx); err != nil {
				return nil, rpc.NewCallError(err.Error(), nil)
			}
			return nil, nil
		},
		"estop": func(ctx context.Context, args []any) (any, *rpc.CallError) {
			if err := d.Estop(ctx); err != nil {
				return nil, rpc.NewCallError(err.Error(), nil)
			}
			return nil, nil
		},
	}
}

func parseExecuteArgs(args []any) (names []string, block, enableGamepads bool, err error) {
	if len(args) < 1 {
		return nil, false, false, fmt.Errorf("exec: execute requires a request list")
	}
	raw, ok := args[0].([]any)
	if !ok {
		return nil, false, false, fmt.Errorf("exec: execute requests must be an array")
	}
	for _, r := range raw {
		name, ok := r.(string)
		if !ok {
			return nil, false, false, fmt.Errorf("exec: execute request entries must be strings")
		}
		names = append(names, name)
	}
	if len(args) > 1 {
		block, _ = args[1].(bool)
	}
	if len(args) > 2 {
		enableGamepads, _ = args[2].(bool)
	}
	return names, block, enableGamepads, nil
}

func resultsToWire(results []Result) []any {
	out := make([]any, len(results))
	for i, r := range results {
		if r.Err != nil {
			out[i] = map[string]any{"error": r.Err.Error()}
		} else {
			out[i] = r.Value
		}
	}
	return out
}
