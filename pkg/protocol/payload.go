package protocol

import (
	"encoding/binary"

	"github.com/fieldcore/runtime/pkg/device"
)

// NewPing builds an empty PING frame.
func NewPing() Message { return newMessage(TypePing, nil) }

// NewDevDisable builds an empty DEV_DISABLE frame.
func NewDevDisable() Message { return newMessage(TypeDevDisable, nil) }

// NewSubReq builds a SUB_REQ frame requesting periodic DEV_DATA for the
// parameters in bitmap every intervalMS milliseconds.
func NewSubReq(bitmap uint16, intervalMS uint16) Message {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:2], bitmap)
	binary.LittleEndian.PutUint16(payload[2:4], intervalMS)
	return newMessage(TypeSubReq, payload)
}

// SubReqFields decodes a SUB_REQ payload.
func (m Message) SubReqFields() (bitmap, intervalMS uint16, err error) {
	if len(m.Payload) != 4 {
		return 0, 0, &Error{Kind: KindLengthMismatch, Err: errShortFrame}
	}
	return binary.LittleEndian.Uint16(m.Payload[0:2]), binary.LittleEndian.Uint16(m.Payload[2:4]), nil
}

// NewSubRes builds a SUB_RES frame announcing a device's UID alongside the
// subscription it accepted.
func NewSubRes(bitmap, intervalMS uint16, uid device.UID) Message {
	payload := make([]byte, 4+11)
	binary.LittleEndian.PutUint16(payload[0:2], bitmap)
	binary.LittleEndian.PutUint16(payload[2:4], intervalMS)
	binary.LittleEndian.PutUint16(payload[4:6], uid.DeviceID)
	payload[6] = uid.Year
	binary.LittleEndian.PutUint64(payload[7:15], uid.Random)
	return newMessage(TypeSubRes, payload)
}

// SubResFields decodes a SUB_RES payload.
func (m Message) SubResFields() (bitmap, intervalMS uint16, uid device.UID, err error) {
	if len(m.Payload) != 15 {
		return 0, 0, device.UID{}, &Error{Kind: KindLengthMismatch, Err: errShortFrame}
	}
	bitmap = binary.LittleEndian.Uint16(m.Payload[0:2])
	intervalMS = binary.LittleEndian.Uint16(m.Payload[2:4])
	uid.DeviceID = binary.LittleEndian.Uint16(m.Payload[4:6])
	uid.Year = m.Payload[6]
	uid.Random = binary.LittleEndian.Uint64(m.Payload[7:15])
	return bitmap, intervalMS, uid, nil
}

// NewDevRead builds a DEV_READ frame requesting the parameters in bitmap.
func NewDevRead(bitmap uint16) Message {
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, bitmap)
	return newMessage(TypeDevRead, payload)
}

// DevReadBitmap decodes a DEV_READ payload.
func (m Message) DevReadBitmap() (uint16, error) {
	if len(m.Payload) != 2 {
		return 0, &Error{Kind: KindLengthMismatch, Err: errShortFrame}
	}
	return binary.LittleEndian.Uint16(m.Payload), nil
}

// NewHBReq builds a HB_REQ frame carrying a single-byte id.
func NewHBReq(id uint8) Message { return newMessage(TypeHBReq, []byte{id}) }

// NewHBRes builds a HB_RES frame carrying a single-byte id.
func NewHBRes(id uint8) Message { return newMessage(TypeHBRes, []byte{id}) }

// HBID decodes the id field shared by HB_REQ and HB_RES.
func (m Message) HBID() (uint8, error) {
	if len(m.Payload) != 1 {
		return 0, &Error{Kind: KindLengthMismatch, Err: errShortFrame}
	}
	return m.Payload[0], nil
}

// NewError builds an ERROR frame carrying code.
func NewError(code ErrorCode) Message { return newMessage(TypeError, []byte{byte(code)}) }

// ErrorCodeOf decodes an ERROR payload.
func (m Message) ErrorCodeOf() (ErrorCode, error) {
	if len(m.Payload) != 1 {
		return 0, &Error{Kind: KindLengthMismatch, Err: errShortFrame}
	}
	return ErrorCode(m.Payload[0]), nil
}
