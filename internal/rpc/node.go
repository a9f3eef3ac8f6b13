package rpc

import (
	"context"
	"errors"
)

// Frame is one multipart piece of a node message: for socket nodes,
// [sender_identity, payload]; for datagram nodes, a single payload frame.
type Frame = []byte

// Inbound is a received multipart message alongside the address it
// logically came from (empty for connection-oriented sockets that do not
// expose a peer identity separately from the frame).
type Inbound struct {
	Frames  []Frame
	Address string
}

// Node is the abstract transport contract shared by SocketNode and
// DatagramNode: open/close, an addressed send, and a bounded inbound
// queue drained by Recv. Neither implementation reopens its transport: a
// failed Send closes the node and returns the error, and later calls
// return ErrNodeClosed.
type Node interface {
	Open(ctx context.Context) error
	Close() error
	Send(ctx context.Context, frames []Frame, address string) error
	Recv(ctx context.Context) (Inbound, error)
	Closed() bool
}

// ErrNodeClosed is returned by Recv/Send once the node has been closed
// and is not a transient condition the caller should retry past.
var ErrNodeClosed = errors.New("rpc: node closed")
