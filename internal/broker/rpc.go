package broker

import (
	"context"

	"github.com/fieldcore/runtime/internal/rpc"
)

// Methods implements rpc.Handler, exposing get_option/set_option/lint/
// update_gamepads under the names §6 lists for broker-service.
func (b *Broker) Methods() map[string]rpc.Method {
	return map[string]rpc.Method{
		"get_option": func(ctx context.Context, args []any) (any, *rpc.CallError) {
			var name string
			if len(args) > 0 {
				name, _ = args[0].(string)
			}
			v, err := b.GetOption(name)
			if err != nil {
				return nil, rpc.NewCallError(err.Error(), nil)
			}
			return v, nil
		},
		"set_option": func(ctx context.Context, args []any) (any, *rpc.CallError) {
			if len(args) < 1 {
				return nil, rpc.NewCallError("set_option requires an options map", nil)
			}
			raw, ok := args[0].(map[string]any)
			if !ok {
				return nil, rpc.NewCallError("set_option argument must be a map", nil)
			}
			if err := b.SetOption(raw); err != nil {
				return nil, rpc.NewCallError(err.Error(), nil)
			}
			return nil, nil
		},
		"lint": func(ctx context.Context, args []any) (any, *rpc.CallError) {
			dir := "."
			if len(args) > 0 {
				if s, ok := args[0].(string); ok {
					dir = s
				}
			}
			issues, err := b.Lint(ctx, dir)
			if err != nil {
				return nil, rpc.NewCallError(err.Error(), nil)
			}
			return lintIssuesToWire(issues), nil
		},
		"update_gamepads": func(ctx context.Context, args []any) (any, *rpc.CallError) {
			if len(args) < 1 {
				return nil, rpc.NewCallError("update_gamepads requires an update map", nil)
			}
			raw, ok := args[0].(map[string]any)
			if !ok {
				return nil, rpc.NewCallError("update_gamepads argument must be a map", nil)
			}
			parsed, err := ParseGamepadUpdate(raw)
			if err != nil {
				return nil, rpc.NewCallError(err.Error(), nil)
			}
			if err := b.UpdateGamepads(parsed); err != nil {
				return nil, rpc.NewCallError(err.Error(), nil)
			}
			return nil, nil
		},
	}
}

func lintIssuesToWire(issues []LintIssue) []any {
	out := make([]any, len(issues))
	for i, issue := range issues {
		out[i] = map[string]any{
			"linter":   issue.FromLinter,
			"text":     issue.Text,
			"severity": issue.Severity,
			"path":     issue.Path,
			"line":     issue.Line,
		}
	}
	return out
}
