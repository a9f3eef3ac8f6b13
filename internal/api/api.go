// Package api defines the student-facing handles: Robot (device access),
// Gamepad (joystick/button state), Field (match state), and the Alliance
// enum, plus a Print hook that funnels student output through the
// runtime's logger instead of stdout. The executor does not construct or
// pass these handles: a student entry point (exec.Func) receives only a
// context.
package api

import (
	"errors"
	"fmt"

	"github.com/fieldcore/runtime/internal/buffer"
	"github.com/fieldcore/runtime/pkg/device"
	"go.uber.org/zap"
)

// Alliance identifies which side of the field a robot is competing for.
type Alliance int

const (
	AllianceNone Alliance = iota
	AllianceBlue
	AllianceGold
)

func (a Alliance) String() string {
	switch a {
	case AllianceBlue:
		return "blue"
	case AllianceGold:
		return "gold"
	default:
		return "none"
	}
}

// ErrGamepadsDisabled is raised by every Gamepad accessor when the
// current phase was entered with enable_gamepads=false (autonomous).
var ErrGamepadsDisabled = errors.New("api: gamepad access disabled for this phase")

// Robot exposes get/set access to every connected Smart Device's buffer
// by UID, backed by the shared buffer.Manager.
type Robot struct {
	manager *buffer.Manager
	catalog device.Catalog
}

// NewRobot builds a Robot over manager and catalog.
func NewRobot(manager *buffer.Manager, catalog device.Catalog) *Robot {
	return &Robot{manager: manager, catalog: catalog}
}

// Get reads a parameter's current value from the named device's buffer.
func (r *Robot) Get(uid device.UID, param string) (float64, error) {
	buf, ok := r.manager.DeviceBuffer(uid)
	if !ok {
		return 0, fmt.Errorf("api: unknown device %s", uid)
	}
	return buf.GetValue(param)
}

// Set writes a parameter's value to the named device's buffer, returning
// the clamped value actually stored.
func (r *Robot) Set(uid device.UID, param string, value float64) (float64, error) {
	buf, ok := r.manager.DeviceBuffer(uid)
	if !ok {
		return 0, fmt.Errorf("api: unknown device %s", uid)
	}
	return buf.SetValue(param, value)
}

// Gamepad exposes one gamepad slot's joystick axes and buttons. enabled
// gates every accessor per the current phase's enable_gamepads setting.
type Gamepad struct {
	buf     *buffer.Buffer
	enabled bool
}

// NewGamepad wraps buf, a buffer opened via Manager.OpenGamepad.
func NewGamepad(buf *buffer.Buffer, enabled bool) *Gamepad {
	return &Gamepad{buf: buf, enabled: enabled}
}

func (g *Gamepad) axis(name string) (float64, error) {
	if !g.enabled {
		return 0, ErrGamepadsDisabled
	}
	return g.buf.GetValue(name)
}

func (g *Gamepad) button(name string) (bool, error) {
	if !g.enabled {
		return false, ErrGamepadsDisabled
	}
	v, err := g.buf.GetValue(name)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (g *Gamepad) JoystickLeftX() (float64, error)  { return g.axis("joystick_left_x") }
func (g *Gamepad) JoystickLeftY() (float64, error)  { return g.axis("joystick_left_y") }
func (g *Gamepad) JoystickRightX() (float64, error) { return g.axis("joystick_right_x") }
func (g *Gamepad) JoystickRightY() (float64, error) { return g.axis("joystick_right_y") }

func (g *Gamepad) ButtonA() (bool, error) { return g.button("button_a") }
func (g *Gamepad) ButtonB() (bool, error) { return g.button("button_b") }
func (g *Gamepad) ButtonX() (bool, error) { return g.button("button_x") }
func (g *Gamepad) ButtonY() (bool, error) { return g.button("button_y") }

// Field exposes match state. Only the alliance has an accessor; the match
// phase is not exposed.
type Field struct {
	buf *buffer.Buffer
}

// NewField wraps buf, the buffer opened via Manager.OpenField.
func NewField(buf *buffer.Buffer) *Field {
	return &Field{buf: buf}
}

// Alliance returns the robot's assigned alliance for the current match.
func (f *Field) Alliance() (Alliance, error) {
	v, err := f.buf.GetValue("alliance")
	if err != nil {
		return AllianceNone, err
	}
	return Alliance(v), nil
}

// Print is injected as student code's print() replacement, funneling
// output through the runtime's structured logger instead of stdout.
func Print(logger *zap.Logger) func(args ...any) {
	return func(args ...any) {
		logger.Info("student print", zap.Any("args", args))
	}
}
