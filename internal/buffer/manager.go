package buffer

import (
	"fmt"
	"sync"

	"github.com/fieldcore/runtime/pkg/device"
)

// Manager owns the lifecycle of every shared-memory region in the
// process: device buffers keyed by UID, one buffer per gamepad slot, and
// the single field-state buffer. It is the one place that knows the
// region naming scheme, so Device, Executor, and Broker processes agree
// on it without coordination beyond the catalog itself.
type Manager struct {
	catalog device.Catalog

	mu      sync.Mutex
	devices map[string]*Buffer // keyed by UID decimal string
}

// NewManager builds a Manager bound to catalog, the immutable device-type
// table loaded at startup.
func NewManager(catalog device.Catalog) *Manager {
	return &Manager{catalog: catalog, devices: make(map[string]*Buffer)}
}

func deviceRegionName(uid device.UID) string {
	return fmt.Sprintf("dev-%s", uid.String())
}

func gamepadRegionName(slot int) string {
	return fmt.Sprintf("gamepad-%d", slot)
}

const fieldRegionName = "field-0"

// OpenDevice allocates (or attaches to) the buffer for uid, typed
// according to deviceType's parameter list. The buffer starts invalid;
// callers mark it valid once discovery completes.
func (m *Manager) OpenDevice(uid device.UID, deviceType device.DeviceType) (*Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := uid.String()
	if existing, ok := m.devices[key]; ok {
		return existing, nil
	}
	layout := NewLayout(deviceType.Params)
	buf, err := Open(deviceRegionName(uid), layout, true)
	if err != nil {
		return nil, fmt.Errorf("buffer: open device %s: %w", key, err)
	}
	m.devices[key] = buf
	return buf, nil
}

// CloseDevice marks a device's buffer invalid, closes, and unlinks it —
// the sequence run on disconnection (serial error, broken pipe, timeout).
func (m *Manager) CloseDevice(uid device.UID) error {
	m.mu.Lock()
	buf, ok := m.devices[uid.String()]
	delete(m.devices, uid.String())
	m.mu.Unlock()
	if !ok {
		return nil
	}
	_ = buf.SetValid(false)
	if err := buf.Close(); err != nil {
		return err
	}
	return buf.Unlink()
}

// DeviceBuffer returns the open buffer for uid, if any.
func (m *Manager) DeviceBuffer(uid device.UID) (*Buffer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.devices[uid.String()]
	return buf, ok
}

// GamepadAxisNames and GamepadButtonNames fix the parameter layout every
// gamepad buffer shares: four joystick axes plus eight named buttons,
// mapped from the control-plane update's 16-bit button bitmask (bit k ->
// GamepadButtonNames[k]).
var GamepadAxisNames = []string{"joystick_left_x", "joystick_left_y", "joystick_right_x", "joystick_right_y"}

var GamepadButtonNames = []string{"button_a", "button_b", "button_x", "button_y", "button_lb", "button_rb", "button_back", "button_start"}

// gamepadLayout is fixed: four analog axes (f32) and eight named buttons
// (bool), all both readable and writeable since the Broker writes inbound
// joystick state and the Executor reads it back. Unlike a device buffer,
// there is no serial link to echo the write block into a separate read
// block, so this uses the shared single-slot layout instead of NewLayout's
// device-style write/read split.
func gamepadLayout() *Layout {
	params := make([]device.Parameter, 0, device.MaxParams)
	for _, name := range GamepadAxisNames {
		p := device.NewParameter(name, device.KindF32)
		p.Readable, p.Writeable = true, true
		params = append(params, p)
	}
	for _, name := range GamepadButtonNames {
		p := device.NewParameter(name, device.KindBool)
		p.Readable, p.Writeable = true, true
		params = append(params, p)
	}
	return NewSharedLayout(params)
}

// OpenGamepad allocates the buffer for the given gamepad slot (0-3).
func (m *Manager) OpenGamepad(slot int) (*Buffer, error) {
	buf, err := Open(gamepadRegionName(slot), gamepadLayout(), true)
	if err != nil {
		return nil, fmt.Errorf("buffer: open gamepad %d: %w", slot, err)
	}
	return buf, nil
}

// fieldLayout holds the alliance color and match phase the Broker derives
// from the field-management protocol. Shared single-slot layout, same
// reasoning as gamepadLayout: no device echoes this back over a wire.
func fieldLayout() *Layout {
	alliance := device.NewParameter("alliance", device.KindU8)
	alliance.Readable, alliance.Writeable = true, true
	phase := device.NewParameter("phase", device.KindU8)
	phase.Readable, phase.Writeable = true, true
	return NewSharedLayout([]device.Parameter{alliance, phase})
}

// OpenField allocates the single field-state buffer.
func (m *Manager) OpenField() (*Buffer, error) {
	buf, err := Open(fieldRegionName, fieldLayout(), true)
	if err != nil {
		return nil, fmt.Errorf("buffer: open field buffer: %w", err)
	}
	return buf, nil
}

// CloseAll closes every buffer the manager tracks, for orderly process
// shutdown.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for key, buf := range m.devices {
		if err := buf.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.devices, key)
	}
	return firstErr
}
