package protocol

import "github.com/fieldcore/runtime/pkg/cobs"

// checksum is the XOR of every byte preceding the checksum field itself.
func checksum(frame []byte) byte {
	var sum byte
	for _, b := range frame {
		sum ^= b
	}
	return sum
}

// Decode unstuffs a COBS-encoded buffer (without its trailing delimiter),
// verifies the checksum and header, and returns the framed Message.
func Decode(encoded []byte) (Message, error) {
	raw, err := cobs.Decode(encoded)
	if err != nil {
		return Message{}, &Error{Kind: KindInvalidEncoding, Err: err}
	}
	if len(raw) < 3 {
		return Message{}, &Error{Kind: KindLengthMismatch, Err: errShortFrame}
	}
	t := Type(raw[0])
	payloadLen := int(raw[1])
	if len(raw) != 2+payloadLen+1 {
		return Message{}, &Error{Kind: KindLengthMismatch, Err: errShortFrame}
	}
	payload := raw[2 : 2+payloadLen]
	gotSum := raw[len(raw)-1]
	wantSum := checksum(raw[:len(raw)-1])
	if gotSum != wantSum {
		return Message{}, &Error{Kind: KindBadChecksum, Err: errShortFrame}
	}
	if !t.valid() {
		return Message{}, &Error{Kind: KindUnknownType, Err: errShortFrame}
	}
	out := make([]byte, payloadLen)
	copy(out, payload)
	return newMessage(t, out), nil
}

// EncodeInto writes msg's COBS-stuffed frame, including the trailing 0x00
// delimiter, into dst and returns the number of bytes written. dst must be
// at least MaxPayload+2+cobs overhead+1 bytes; callers typically size a
// fixed 512-byte stack buffer.
func EncodeInto(dst []byte, msg Message) (int, error) {
	raw, err := rawFrame(msg)
	if err != nil {
		return 0, err
	}
	encoded := cobs.Encode(raw)
	n := copy(dst, encoded)
	if n < len(encoded) {
		return 0, &Error{Kind: KindLengthMismatch, Err: errShortFrame}
	}
	dst[n] = cobs.Delimiter
	return n + 1, nil
}

// Encode is the allocating counterpart of EncodeInto, convenient for
// tests and callers that do not manage their own buffers.
func Encode(msg Message) ([]byte, error) {
	raw, err := rawFrame(msg)
	if err != nil {
		return nil, err
	}
	encoded := cobs.Encode(raw)
	return append(encoded, cobs.Delimiter), nil
}

func rawFrame(msg Message) ([]byte, error) {
	if len(msg.Payload) > MaxPayload {
		return nil, &Error{Kind: KindLengthMismatch, Err: errShortFrame}
	}
	frame := make([]byte, 2+len(msg.Payload)+1)
	frame[0] = byte(msg.Type)
	frame[1] = byte(len(msg.Payload))
	copy(frame[2:], msg.Payload)
	frame[len(frame)-1] = checksum(frame[:len(frame)-1])
	return frame, nil
}
