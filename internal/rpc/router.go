package rpc

import (
	"bytes"
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Router bridges two ROUTER sockets, frontend and backend. Inbound
// frames are the five-frame ZeroMQ ROUTER shape [sender_id][recipient_id]
// [payload]; the router rewrites to [sender_id, payload] and forwards to
// recipient_id on the opposite socket. A sender addressing itself is
// dropped and logged rather than forwarded.
type Router struct {
	frontend Node
	backend  Node
	logger   *zap.Logger
}

// NewRouter builds a Router bridging frontend and backend.
func NewRouter(frontend, backend Node, logger *zap.Logger) *Router {
	return &Router{frontend: frontend, backend: backend, logger: logger}
}

// Run starts the two forwarding directions and blocks until ctx is
// cancelled or either direction's Node fails permanently.
func (r *Router) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.forward(ctx, r.frontend, r.backend) })
	g.Go(func() error { return r.forward(ctx, r.backend, r.frontend) })
	return g.Wait()
}

func (r *Router) forward(ctx context.Context, from, to Node) error {
	for {
		inbound, err := from.Recv(ctx)
		if err != nil {
			return err
		}
		if len(inbound.Frames) < 3 {
			if r.logger != nil {
				r.logger.Warn("router: short frame, dropping")
			}
			continue
		}
		senderID := inbound.Frames[0]
		recipientID := inbound.Frames[1]
		payload := inbound.Frames[2]

		if bytes.Equal(senderID, recipientID) {
			if r.logger != nil {
				r.logger.Warn("router: dropping loopback message", zap.ByteString("id", senderID))
			}
			continue
		}

		if err := to.Send(ctx, []Frame{senderID, payload}, string(recipientID)); err != nil {
			if r.logger != nil {
				r.logger.Warn("router: forward failed", zap.Error(err))
			}
		}
	}
}
