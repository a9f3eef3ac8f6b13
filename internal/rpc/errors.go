package rpc

import "fmt"

// CallError is the Go analogue of the original RemoteCallError(message,
// **context): a human-readable message plus a machine-readable context
// map that crosses the wire intact so a caller can branch on it.
type CallError struct {
	Message string
	Context map[string]any
}

func (e *CallError) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s %v", e.Message, e.Context)
}

// NewCallError builds a CallError with an optional context map.
func NewCallError(message string, context map[string]any) *CallError {
	return &CallError{Message: message, Context: context}
}

// ErrNoSuchMethod is returned by a Service when a request names a method
// the handler did not register.
func ErrNoSuchMethod(method string) *CallError {
	return NewCallError("no such method", map[string]any{"method": method})
}

// ErrMethodTimedOut builds the "method timed out" error. Service applies
// no deadline to handler methods and does not return it.
func ErrMethodTimedOut(method string) *CallError {
	return NewCallError("method timed out", map[string]any{"method": method})
}

// ErrRequestCollision signals the client exhausted its retry budget
// generating a fresh request id.
var ErrRequestCollision = fmt.Errorf("rpc: exhausted request id collision retries")

// ErrTransportClosed names a closed transport. The nodes do not return
// it; they report a closed node as ErrNodeClosed.
var ErrTransportClosed = fmt.Errorf("rpc: transport closed")
