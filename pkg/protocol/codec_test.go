package protocol

import (
	"testing"

	"github.com/fieldcore/runtime/pkg/cobs"
	"github.com/fieldcore/runtime/pkg/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDecodeS1Vector reproduces the literal codec scenario: decoding
// 0x04 0x15 0x06 0x04 0x06 0xef 0xbe 0xad 0xde 0x35 yields a DEV_DATA with
// bitmap 0x0004 and a 32-bit param set to 0xDEADBEEF.
func TestDecodeS1Vector(t *testing.T) {
	encoded := []byte{0x04, 0x15, 0x06, 0x04, 0x06, 0xef, 0xbe, 0xad, 0xde, 0x35}
	msg, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, TypeDevData, msg.Type)
	assert.Len(t, msg.Payload, 6)

	params := []device.Parameter{
		device.NewParameter("a", device.KindBool),
		device.NewParameter("b", device.KindF64),
		device.NewParameter("id", device.KindU32),
	}
	vals, err := DecodeParamValues(msg, params)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0004), vals.Bitmap)
	require.Contains(t, vals.Values, 2)
	assert.Equal(t, []byte{0xef, 0xbe, 0xad, 0xde}, vals.Values[2])
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := NewSubReq(0x0007, 50)
	encoded, err := Encode(msg)
	require.NoError(t, err)
	assert.Equal(t, byte(cobs.Delimiter), encoded[len(encoded)-1])

	decoded, err := Decode(encoded[:len(encoded)-1])
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)

	bitmap, interval, err := decoded.SubReqFields()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0007), bitmap)
	assert.Equal(t, uint16(50), interval)
}

// TestChecksumDetection verifies that flipping any single byte of an
// encoded frame (never the delimiter) causes Decode to fail.
func TestChecksumDetection(t *testing.T) {
	msg := NewHBReq(7)
	encoded, err := Encode(msg)
	require.NoError(t, err)
	frame := encoded[:len(encoded)-1]

	for i := range frame {
		corrupt := append([]byte(nil), frame...)
		corrupt[i] ^= 0xFF
		_, err := Decode(corrupt)
		assert.Error(t, err, "flipping byte %d should invalidate the frame", i)
	}
}

func TestEncodeDevWriteSingleFrame(t *testing.T) {
	params := []device.Parameter{
		device.NewParameter("flag", device.KindBool),
		device.NewParameter("duty_cycle", device.KindF64),
		device.NewParameter("id", device.KindU32),
	}
	src := fakeSource{
		0: {1},
		2: {0xef, 0xbe, 0xad, 0xde},
	}
	msgs, err := EncodeDevWrite(TypeDevWrite, params, 0b0101, src)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	vals, err := DecodeParamValues(msgs[0], params)
	require.NoError(t, err)
	assert.Equal(t, uint16(0b0101), vals.Bitmap)
	assert.Equal(t, []byte{1}, vals.Values[0])
	assert.Equal(t, []byte{0xef, 0xbe, 0xad, 0xde}, vals.Values[2])
}

func TestEncodeDevWriteFallback(t *testing.T) {
	params := make([]device.Parameter, 4)
	for i := range params {
		params[i] = device.NewParameter("p", device.KindBytes)
		params[i].Width = 100 // four params * 100 bytes forces the fallback
	}
	src := fakeSource{
		0: make([]byte, 100),
		1: make([]byte, 100),
		2: make([]byte, 100),
		3: make([]byte, 100),
	}
	msgs, err := EncodeDevWrite(TypeDevData, params, 0b1111, src)
	require.NoError(t, err)
	assert.Len(t, msgs, 4, "total payload exceeds MaxPayload, so each bit gets its own frame")
	for _, m := range msgs {
		assert.LessOrEqual(t, len(m.Payload), MaxPayload)
	}
}

type fakeSource map[int][]byte

func (f fakeSource) ParamBytes(i int) []byte { return f[i] }
