package device

import (
	"context"
	"errors"
	"time"

	"github.com/fieldcore/runtime/internal/rpc"
)

var errMissingUID = errors.New("device: uid argument required")

// Methods implements rpc.Handler, exposing list_uids/ping/disable/
// unsubscribe/subscribe/read/heartbeat under the names the device-service
// process registers.
func (m *Manager) Methods() map[string]rpc.Method {
	return map[string]rpc.Method{
		"list_uids": func(ctx context.Context, args []any) (any, *rpc.CallError) {
			uids := m.ListUIDs()
			out := make([]any, len(uids))
			for i, u := range uids {
				out[i] = u
			}
			return out, nil
		},
		"ping": func(ctx context.Context, args []any) (any, *rpc.CallError) {
			if err := m.Ping(ctx, optionalUID(args)); err != nil {
				return nil, rpc.NewCallError(err.Error(), nil)
			}
			return nil, nil
		},
		"disable": func(ctx context.Context, args []any) (any, *rpc.CallError) {
			if err := m.Disable(ctx, optionalUID(args)); err != nil {
				return nil, rpc.NewCallError(err.Error(), nil)
			}
			return nil, nil
		},
		"unsubscribe": func(ctx context.Context, args []any) (any, *rpc.CallError) {
			if err := m.Unsubscribe(ctx, optionalUID(args)); err != nil {
				return nil, rpc.NewCallError(err.Error(), nil)
			}
			return nil, nil
		},
		"subscribe": func(ctx context.Context, args []any) (any, *rpc.CallError) {
			uid, bitmap, intervalMS, err := parseSubscribeArgs(args)
			if err != nil {
				return nil, rpc.NewCallError(err.Error(), nil)
			}
			if err := m.Subscribe(ctx, uid, bitmap, intervalMS); err != nil {
				return nil, rpc.NewCallError(err.Error(), nil)
			}
			return nil, nil
		},
		"read": func(ctx context.Context, args []any) (any, *rpc.CallError) {
			uid, names, err := parseReadArgs(args)
			if err != nil {
				return nil, rpc.NewCallError(err.Error(), nil)
			}
			if err := m.Read(ctx, uid, names); err != nil {
				return nil, rpc.NewCallError(err.Error(), nil)
			}
			return nil, nil
		},
		"heartbeat": func(ctx context.Context, args []any) (any, *rpc.CallError) {
			uid, id, timeout, err := parseHeartbeatArgs(args)
			if err != nil {
				return nil, rpc.NewCallError(err.Error(), nil)
			}
			elapsed, err := m.Heartbeat(ctx, uid, id, timeout)
			if err != nil {
				return nil, rpc.NewCallError(err.Error(), nil)
			}
			return elapsed, nil
		},
	}
}

// optionalUID extracts a leading uid string argument, or "" (meaning
// "every discovered device") if the caller omitted it or passed nil.
func optionalUID(args []any) string {
	if len(args) == 0 || args[0] == nil {
		return ""
	}
	uid, _ := args[0].(string)
	return uid
}

func parseSubscribeArgs(args []any) (uid string, bitmap uint16, intervalMS uint16, err error) {
	if len(args) < 1 {
		return "", 0, 0, errMissingUID
	}
	uid, _ = args[0].(string)
	if len(args) > 1 {
		if b, ok := args[1].(float64); ok {
			bitmap = uint16(uint64(b))
		}
	}
	if len(args) > 2 {
		if iv, ok := args[2].(float64); ok {
			intervalMS = uint16(uint64(iv))
		}
	}
	return uid, bitmap, intervalMS, nil
}

func parseReadArgs(args []any) (uid string, names []string, err error) {
	if len(args) < 1 {
		return "", nil, errMissingUID
	}
	uid, _ = args[0].(string)
	if len(args) > 1 {
		if raw, ok := args[1].([]any); ok {
			for _, n := range raw {
				if s, ok := n.(string); ok {
					names = append(names, s)
				}
			}
		}
	}
	return uid, names, nil
}

func parseHeartbeatArgs(args []any) (uid string, id *uint8, timeout time.Duration, err error) {
	if len(args) < 1 {
		return "", nil, 0, errMissingUID
	}
	uid, _ = args[0].(string)
	if len(args) > 1 && args[1] != nil {
		if v, ok := args[1].(float64); ok {
			b := uint8(uint64(v))
			id = &b
		}
	}
	timeout = DefaultHeartbeatTimeout
	if len(args) > 2 {
		if s, ok := args[2].(float64); ok {
			timeout = time.Duration(s * float64(time.Second))
		}
	}
	return uid, id, timeout, nil
}
