package rpc

import "context"

// Method is one callable RPC method: given decoded args, it returns
// either a result or a structured CallError.
type Method func(ctx context.Context, args []any) (any, *CallError)

// Handler exposes a fixed table of {remote name: Method}. Service
// construction builds this table once from the concrete type's own
// Methods() implementation — a plain Go map literal, the build-time
// analogue of introspecting a Python object for @route-annotated
// methods. Unknown methods are rejected by Service, not by Handler.
type Handler interface {
	Methods() map[string]Method
}
