package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-zeromq/zmq4"
	"go.uber.org/zap"
)

// SocketKind selects which of the three ZeroMQ socket shapes a SocketNode
// wraps: DEALER for endpoint-to-endpoint calls, ROUTER for broker
// frontends/backends, PUB/SUB for telemetry fan-out.
type SocketKind int

const (
	KindDealer SocketKind = iota
	KindRouter
	KindPub
	KindSub
)

// inboundQueueDepth bounds the background receive task's queue, the Go
// shape of the original's bounded asyncio.Queue between _recv_forever and
// the endpoint that drains it.
const inboundQueueDepth = 256

// SocketNode wraps a duplex, identity-addressed ZeroMQ socket. A
// background goroutine continuously receives and enqueues inbound
// multipart messages; Recv only ever drains that queue, never touches
// the socket directly, so a slow consumer cannot stall the wire.
type SocketNode struct {
	kind     SocketKind
	identity string
	endpoint string
	bind     bool
	logger   *zap.Logger

	mu     sync.Mutex
	sock   zmq4.Socket
	inbox  chan Inbound
	closed bool
	cancel context.CancelFunc
}

// NewSocketNode builds a node that will Listen on endpoint if bind is
// true, or Dial it otherwise. identity is only meaningful for DEALER
// sockets; ROUTER assigns peer identities itself.
func NewSocketNode(kind SocketKind, endpoint string, bind bool, identity string, logger *zap.Logger) *SocketNode {
	return &SocketNode{kind: kind, endpoint: endpoint, bind: bind, identity: identity, logger: logger}
}

func (n *SocketNode) newSocket(ctx context.Context) zmq4.Socket {
	opts := []zmq4.Option{}
	if n.identity != "" {
		opts = append(opts, zmq4.WithID(zmq4.SocketIdentity(n.identity)))
	}
	switch n.kind {
	case KindDealer:
		return zmq4.NewDealer(ctx, opts...)
	case KindRouter:
		return zmq4.NewRouter(ctx, opts...)
	case KindPub:
		return zmq4.NewPub(ctx, opts...)
	case KindSub:
		return zmq4.NewSub(ctx, opts...)
	default:
		return zmq4.NewDealer(ctx, opts...)
	}
}

// Open creates the underlying socket, binds or connects it, and starts
// the background receive loop.
func (n *SocketNode) Open(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.Background())
	sock := n.newSocket(loopCtx)

	var err error
	if n.bind {
		err = sock.Listen(n.endpoint)
	} else {
		err = sock.Dial(n.endpoint)
	}
	if err != nil {
		cancel()
		return fmt.Errorf("rpc: socket node open %s: %w", n.endpoint, err)
	}
	if n.kind == KindSub {
		if err := sock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
			sock.Close()
			cancel()
			return fmt.Errorf("rpc: subscribe all: %w", err)
		}
	}

	n.sock = sock
	n.inbox = make(chan Inbound, inboundQueueDepth)
	n.closed = false
	n.cancel = cancel
	go n.recvForever(sock, n.inbox)
	return nil
}

// recvForever is the background receive task: it reads multipart
// messages off the socket and enqueues them, reopening is left to the
// caller (via Open after a Close) rather than attempted inline, since
// zmq4 sockets are not safely restartable in place.
func (n *SocketNode) recvForever(sock zmq4.Socket, inbox chan<- Inbound) {
	for {
		msg, err := sock.Recv()
		if err != nil {
			if n.logger != nil {
				n.logger.Debug("socket node recv ended", zap.Error(err))
			}
			return
		}
		select {
		case inbox <- Inbound{Frames: msg.Frames}:
		default:
			if n.logger != nil {
				n.logger.Warn("socket node inbound queue full, dropping message")
			}
		}
	}
}

// Send transmits frames, prefixed with address as the ROUTER recipient
// identity when address is non-empty.
func (n *SocketNode) Send(ctx context.Context, frames []Frame, address string) error {
	n.mu.Lock()
	sock := n.sock
	closed := n.closed
	n.mu.Unlock()
	if closed || sock == nil {
		return ErrNodeClosed
	}
	parts := frames
	if address != "" {
		parts = append([]Frame{[]byte(address)}, frames...)
	}
	if err := sock.Send(zmq4.NewMsgFrom(parts...)); err != nil {
		n.closeOnFailure()
		return fmt.Errorf("rpc: socket send: %w", err)
	}
	return nil
}

// Recv drains the background queue, blocking until a message arrives or
// ctx is cancelled.
func (n *SocketNode) Recv(ctx context.Context) (Inbound, error) {
	n.mu.Lock()
	inbox := n.inbox
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return Inbound{}, ErrNodeClosed
	}
	select {
	case msg, ok := <-inbox:
		if !ok {
			return Inbound{}, ErrNodeClosed
		}
		return msg, nil
	case <-ctx.Done():
		return Inbound{}, ctx.Err()
	}
}

// closeOnFailure closes the transport on a send error. The node is not
// reopened, so later Send and Recv calls return ErrNodeClosed.
func (n *SocketNode) closeOnFailure() {
	n.Close()
}

func (n *SocketNode) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	if n.cancel != nil {
		n.cancel()
	}
	if n.sock != nil {
		return n.sock.Close()
	}
	return nil
}

func (n *SocketNode) Closed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}
