package protocol

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/fieldcore/runtime/pkg/device"
)

// ValueSource supplies the natural-width, little-endian byte encoding of a
// parameter's current value by its bit index in a device type's parameter
// list. Implementations typically read straight out of a buffer block.
type ValueSource interface {
	ParamBytes(index int) []byte
}

func paramWidth(p device.Parameter) int {
	if p.Kind == device.KindBytes {
		return p.Width
	}
	return p.Kind.Size()
}

// iterBits walks the set bits of bitmap from LSB to MSB, matching the
// parameter map's iteration order.
func iterBits(bitmap uint16, fn func(index int)) {
	for bitmap != 0 {
		i := bits.TrailingZeros16(bitmap)
		fn(i)
		bitmap &^= 1 << uint(i)
	}
}

// EncodeDevWrite implements the DEV_WRITE/DEV_DATA batching rule: it emits
// one frame containing every set bit, or — if that payload would exceed
// MaxPayload — one frame per bit as a degenerate fallback.
func EncodeDevWrite(t Type, params []device.Parameter, bitmap uint16, src ValueSource) ([]Message, error) {
	if bitmap == 0 {
		return nil, nil
	}
	total := 2
	var sizeErr error
	iterBits(bitmap, func(i int) {
		if i >= len(params) {
			sizeErr = fmt.Errorf("protocol: bit %d has no parameter", i)
			return
		}
		total += paramWidth(params[i])
	})
	if sizeErr != nil {
		return nil, sizeErr
	}
	if total <= MaxPayload {
		payload := make([]byte, 2, total)
		binary.LittleEndian.PutUint16(payload, bitmap)
		iterBits(bitmap, func(i int) {
			payload = append(payload, src.ParamBytes(i)...)
		})
		return []Message{newMessage(t, payload)}, nil
	}

	// Degenerate fallback: one frame per bit.
	msgs := make([]Message, 0, bits.OnesCount16(bitmap))
	iterBits(bitmap, func(i int) {
		payload := make([]byte, 2, 2+paramWidth(params[i]))
		binary.LittleEndian.PutUint16(payload, 1<<uint(i))
		payload = append(payload, src.ParamBytes(i)...)
		msgs = append(msgs, newMessage(t, payload))
	})
	return msgs, nil
}

// ParamValues is a decoded DEV_WRITE/DEV_DATA payload: the bitmap and the
// raw bytes for each set bit, keyed by parameter index.
type ParamValues struct {
	Bitmap uint16
	Values map[int][]byte
}

// DecodeParamValues parses a DEV_WRITE or DEV_DATA payload against params,
// the device type's ordered parameter list.
func DecodeParamValues(m Message, params []device.Parameter) (ParamValues, error) {
	if len(m.Payload) < 2 {
		return ParamValues{}, &Error{Kind: KindLengthMismatch, Err: errShortFrame}
	}
	bitmap := binary.LittleEndian.Uint16(m.Payload[0:2])
	values := make(map[int][]byte, bits.OnesCount16(bitmap))
	offset := 2
	var decodeErr error
	iterBits(bitmap, func(i int) {
		if decodeErr != nil {
			return
		}
		if i >= len(params) {
			decodeErr = fmt.Errorf("protocol: bit %d has no parameter", i)
			return
		}
		width := paramWidth(params[i])
		if offset+width > len(m.Payload) {
			decodeErr = &Error{Kind: KindLengthMismatch, Err: errShortFrame}
			return
		}
		values[i] = m.Payload[offset : offset+width]
		offset += width
	})
	if decodeErr != nil {
		return ParamValues{}, decodeErr
	}
	return ParamValues{Bitmap: bitmap, Values: values}, nil
}
