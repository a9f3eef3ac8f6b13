package buffer

import (
	"testing"

	"github.com/fieldcore/runtime/pkg/device"
	"github.com/fieldcore/runtime/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams() []device.Parameter {
	flag := device.NewParameter("flag", device.KindBool)
	flag.Writeable = true

	duty := device.NewParameter("duty_cycle", device.KindF64)
	duty.Readable = true

	id := device.NewParameter("id", device.KindU32)
	id.Readable = true
	id.Writeable = true

	return []device.Parameter{flag, duty, id}
}

func openTestBuffer(t *testing.T, name string, params []device.Parameter) *Buffer {
	t.Helper()
	shmDir = t.TempDir()
	buf, err := Open(name, NewLayout(params), true)
	require.NoError(t, err)
	t.Cleanup(func() { buf.Close() })
	require.NoError(t, buf.SetValid(true))
	return buf
}

// TestS2ReadWrite reproduces the read/write scenario: set_value('flag',
// true); set_value('id', 0xDEADBEEF); get_write() emits exactly one frame
// encoding bitmap 0b0101 and both values little-endian.
func TestS2ReadWrite(t *testing.T) {
	buf := openTestBuffer(t, "s2", testParams())

	_, err := buf.SetValue("flag", 1)
	require.NoError(t, err)
	_, err = buf.SetValue("id", float64(0xDEADBEEF))
	require.NoError(t, err)

	msgs, err := buf.GetWrite()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte{0b0101, 0x00, 1, 0xef, 0xbe, 0xad, 0xde}, msgs[0].Payload)

	// control.write is cleared after GetWrite.
	msgsAgain, err := buf.GetWrite()
	require.NoError(t, err)
	assert.Empty(t, msgsAgain)
}

// TestS3ReadDenial reproduces get_value('flag') failing because flag is
// write-only.
func TestS3ReadDenial(t *testing.T) {
	buf := openTestBuffer(t, "s3", testParams())
	_, err := buf.GetValue("flag")
	assert.ErrorIs(t, err, ErrNotReadable)
}

// TestS4Clamp reproduces set_value('pos', -1.01) being clamped to -1.0 on
// a parameter bounded to [-1, 1].
func TestS4Clamp(t *testing.T) {
	pos := device.NewParameter("pos", device.KindF64)
	pos.Lower, pos.Upper = -1, 1
	pos.Readable, pos.Writeable = true, true

	buf := openTestBuffer(t, "s4", []device.Parameter{pos})
	clamped, err := buf.SetValue("pos", -1.01)
	require.NoError(t, err)
	assert.Equal(t, -1.0, clamped)

	// GetValue reads the read block, which SetValue does not write, so it
	// must not report the unclamped -1.01.
	got, err := buf.GetValue("pos")
	require.NoError(t, err)
	assert.NotEqual(t, -1.01, got, "stale read-block value, unaffected by the write")
}

// TestBitmapConservation is invariant #3: after UpdateData(m), GetUpdate
// returns exactly the parameters named by m's bitmap.
func TestBitmapConservation(t *testing.T) {
	id := device.NewParameter("id", device.KindU32)
	id.Readable = true
	duty := device.NewParameter("duty_cycle", device.KindF64)
	duty.Readable = true

	buf := openTestBuffer(t, "bitmap", []device.Parameter{id, duty})

	vals := protocol.ParamValues{
		Bitmap: 0b01,
		Values: map[int][]byte{0: {0xef, 0xbe, 0xad, 0xde}},
	}
	require.NoError(t, buf.UpdateData(vals))

	snapshot, err := buf.GetUpdate()
	require.NoError(t, err)
	require.Contains(t, snapshot, "id")
	assert.NotContains(t, snapshot, "duty_cycle")

	// A second call returns nothing: the bitmap was cleared.
	second, err := buf.GetUpdate()
	require.NoError(t, err)
	assert.Empty(t, second)
}

// TestValidBitGate is invariant #6: with valid=false every operation
// except SetValid(true) fails.
func TestValidBitGate(t *testing.T) {
	shmDir = t.TempDir()
	buf, err := Open("invalid", NewLayout(testParams()), true)
	require.NoError(t, err)
	t.Cleanup(func() { buf.Close() })

	_, err = buf.GetValue("duty_cycle")
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = buf.SetValue("id", 1)
	assert.ErrorIs(t, err, ErrInvalid)
	err = buf.SetSubscription(device.UID{DeviceID: 1}, 0b1)
	assert.ErrorIs(t, err, ErrInvalid)

	require.NoError(t, buf.SetValid(true))
	_, err = buf.GetValue("duty_cycle")
	assert.NoError(t, err)
}
