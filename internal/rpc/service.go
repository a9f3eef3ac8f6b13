package rpc

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Service dispatches REQUEST and NOTIFICATION envelopes to a Handler's
// method table. It runs `concurrency` worker goroutines pulling from the
// same Node, matching the original's worker-pool Endpoint.
type Service struct {
	node    Node
	methods map[string]Method
	logger  *zap.Logger
}

// NewService builds a Service dispatching to handler over node.
func NewService(node Node, handler Handler, logger *zap.Logger) *Service {
	return &Service{node: node, methods: handler.Methods(), logger: logger}
}

// Run starts concurrency worker loops and blocks until ctx is cancelled
// or every worker's Node.Recv returns a permanent error.
func (s *Service) Run(ctx context.Context, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}
	var wg sync.WaitGroup
	errs := make(chan error, concurrency)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.worker(ctx)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil && err != context.Canceled {
			return err
		}
	}
	return nil
}

func (s *Service) worker(ctx context.Context) error {
	for {
		inbound, err := s.node.Recv(ctx)
		if err != nil {
			return err
		}
		s.handle(ctx, inbound)
	}
}

func (s *Service) handle(ctx context.Context, inbound Inbound) {
	if len(inbound.Frames) == 0 {
		return
	}
	payload := inbound.Frames[len(inbound.Frames)-1]
	var replyAddr string
	if len(inbound.Frames) > 1 {
		replyAddr = string(inbound.Frames[0])
	} else {
		replyAddr = inbound.Address
	}

	env, err := Decode(payload)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("service: dropping undecodable envelope", zap.Error(err))
		}
		return
	}

	switch env.Kind {
	case KindNotification:
		s.dispatch(ctx, env.Method, env.Args)
	case KindRequest:
		result, callErr := s.dispatchResult(ctx, env.Method, env.Args)
		resp, err := EncodeResponse(env.RequestID, callErr, result)
		if err != nil {
			if s.logger != nil {
				s.logger.Error("service: encode response", zap.Error(err))
			}
			return
		}
		if sendErr := s.node.Send(ctx, []Frame{resp}, replyAddr); sendErr != nil && s.logger != nil {
			s.logger.Warn("service: send response failed", zap.Error(sendErr))
		}
	default:
		if s.logger != nil {
			s.logger.Warn("service: unexpected envelope kind on inbound socket")
		}
	}
}

func (s *Service) dispatch(ctx context.Context, method string, args []any) {
	fn, ok := s.methods[method]
	if !ok {
		if s.logger != nil {
			s.logger.Warn("service: no such method", zap.String("method", method))
		}
		return
	}
	fn(ctx, args)
}

func (s *Service) dispatchResult(ctx context.Context, method string, args []any) (any, *CallError) {
	fn, ok := s.methods[method]
	if !ok {
		return nil, ErrNoSuchMethod(method)
	}
	return fn(ctx, args)
}
