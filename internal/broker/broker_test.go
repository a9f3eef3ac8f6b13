package broker

import (
	"testing"

	"github.com/fieldcore/runtime/internal/buffer"
	"github.com/fieldcore/runtime/pkg/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestS5GamepadIngest reproduces: POSTing
// {"0": {"lx": -0.5, "ly": -1.0, "rx": 1.0, "ry": 0.5, "btn": 1}} sets
// joystick_left_x=-0.5, joystick_left_y=-1.0, joystick_right_x=1.0,
// joystick_right_y=0.5, button_a=true, button_b=false on gamepad slot 0.
func TestS5GamepadIngest(t *testing.T) {
	catalog := device.Catalog{}
	manager := buffer.NewManager(catalog)
	b := New(manager, nil, nil, nil)

	raw := map[string]any{
		"0": map[string]any{
			"lx":  -0.5,
			"ly":  -1.0,
			"rx":  1.0,
			"ry":  0.5,
			"btn": float64(1),
		},
	}
	parsed, err := ParseGamepadUpdate(raw)
	require.NoError(t, err)
	require.NoError(t, b.UpdateGamepads(parsed))

	buf, err := b.gamepadBuffer(0)
	require.NoError(t, err)

	lx, err := buf.GetValue("joystick_left_x")
	require.NoError(t, err)
	assert.InDelta(t, -0.5, lx, 1e-6)

	ly, err := buf.GetValue("joystick_left_y")
	require.NoError(t, err)
	assert.InDelta(t, -1.0, ly, 1e-6)

	rx, err := buf.GetValue("joystick_right_x")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, rx, 1e-6)

	ry, err := buf.GetValue("joystick_right_y")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, ry, 1e-6)

	a, err := buf.GetValue("button_a")
	require.NoError(t, err)
	assert.Equal(t, float64(1), a)

	bb, err := buf.GetValue("button_b")
	require.NoError(t, err)
	assert.Equal(t, float64(0), bb)
}
