// Package rpc implements the remote-call fabric: request/response calls
// and fire-and-forget notifications carried over ZeroMQ sockets or UDP
// multicast, routed through a broker's two-sided ROUTER.
package rpc

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Kind is the self-describing array's first element, distinguishing a
// request, a response, or a notification on the wire.
type Kind int

const (
	KindRequest Kind = iota
	KindResponse
	KindNotification
)

// Envelope is the decoded form of one wire payload. Only the fields that
// apply to Kind are populated.
type Envelope struct {
	Kind      Kind
	RequestID uint32
	Method    string
	Args      []any
	Err       *CallError
	Result    any
}

// wireRequest/wireResponse/wireNotification mirror the CBOR array shapes
// the fabric defines: `[0, id, method, args]`, `[1, id, error, result]`,
// `[2, method, args]`.
type wireRequest struct {
	_         struct{} `cbor:",toarray"`
	Kind      int
	RequestID uint32
	Method    string
	Args      []any
}

type wireResponse struct {
	_         struct{} `cbor:",toarray"`
	Kind      int
	RequestID uint32
	Err       *wireError
	Result    any
}

type wireError struct {
	_       struct{} `cbor:",toarray"`
	Message string
	Context map[string]any
}

type wireNotification struct {
	_      struct{} `cbor:",toarray"`
	Kind   int
	Method string
	Args   []any
}

// EncodeRequest serializes a request envelope.
func EncodeRequest(id uint32, method string, args []any) ([]byte, error) {
	return cbor.Marshal(wireRequest{Kind: int(KindRequest), RequestID: id, Method: method, Args: args})
}

// EncodeNotification serializes a notification envelope.
func EncodeNotification(method string, args []any) ([]byte, error) {
	return cbor.Marshal(wireNotification{Kind: int(KindNotification), Method: method, Args: args})
}

// EncodeResponse serializes a response envelope. Pass callErr == nil for a
// successful call.
func EncodeResponse(id uint32, callErr *CallError, result any) ([]byte, error) {
	var we *wireError
	if callErr != nil {
		we = &wireError{Message: callErr.Message, Context: callErr.Context}
	}
	return cbor.Marshal(wireResponse{Kind: int(KindResponse), RequestID: id, Err: we, Result: result})
}

// Decode inspects the leading array element to determine the envelope
// kind, then decodes the rest of the shape accordingly.
func Decode(payload []byte) (Envelope, error) {
	var probe []cbor.RawMessage
	if err := cbor.Unmarshal(payload, &probe); err != nil {
		return Envelope{}, fmt.Errorf("rpc: decode envelope: %w", err)
	}
	if len(probe) == 0 {
		return Envelope{}, fmt.Errorf("rpc: empty envelope")
	}
	var kind int
	if err := cbor.Unmarshal(probe[0], &kind); err != nil {
		return Envelope{}, fmt.Errorf("rpc: decode envelope kind: %w", err)
	}
	switch Kind(kind) {
	case KindRequest:
		var w wireRequest
		if err := cbor.Unmarshal(payload, &w); err != nil {
			return Envelope{}, fmt.Errorf("rpc: decode request: %w", err)
		}
		return Envelope{Kind: KindRequest, RequestID: w.RequestID, Method: w.Method, Args: w.Args}, nil
	case KindResponse:
		var w wireResponse
		if err := cbor.Unmarshal(payload, &w); err != nil {
			return Envelope{}, fmt.Errorf("rpc: decode response: %w", err)
		}
		env := Envelope{Kind: KindResponse, RequestID: w.RequestID, Result: w.Result}
		if w.Err != nil {
			env.Err = &CallError{Message: w.Err.Message, Context: w.Err.Context}
		}
		return env, nil
	case KindNotification:
		var w wireNotification
		if err := cbor.Unmarshal(payload, &w); err != nil {
			return Envelope{}, fmt.Errorf("rpc: decode notification: %w", err)
		}
		return Envelope{Kind: KindNotification, Method: w.Method, Args: w.Args}, nil
	default:
		return Envelope{}, fmt.Errorf("rpc: unknown envelope kind %d", kind)
	}
}
