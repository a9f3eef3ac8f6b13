// Package broker implements the Broker process's RPC surface:
// configuration, student-code lint, and gamepad-input ingestion, all
// dispatched through the remote-call fabric's router. The broker does not
// publish telemetry.
package broker

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/fieldcore/runtime/internal/buffer"
	"github.com/fieldcore/runtime/pkg/device"
	"go.uber.org/zap"
)

// Broker owns the live option table, the shared-memory manager (for
// gamepad ingestion), and the set of currently
// connected device UIDs.
type Broker struct {
	manager *buffer.Manager
	logger  *zap.Logger
	linter  Linter

	mu       sync.RWMutex
	options  map[string]any
	uids     map[string]struct{}
	gamepads map[int]*buffer.Buffer
}

// New builds a Broker over manager, seeded with options.
func New(manager *buffer.Manager, options map[string]any, linter Linter, logger *zap.Logger) *Broker {
	if options == nil {
		options = make(map[string]any)
	}
	return &Broker{
		manager:  manager,
		logger:   logger,
		linter:   linter,
		options:  options,
		uids:     make(map[string]struct{}),
		gamepads: make(map[int]*buffer.Buffer),
	}
}

// GetOption returns a single named option, or every option when name is
// empty.
func (b *Broker) GetOption(name string) (any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if name == "" {
		out := make(map[string]any, len(b.options))
		for k, v := range b.options {
			out[k] = v
		}
		return out, nil
	}
	v, ok := b.options[name]
	if !ok {
		return nil, fmt.Errorf("broker: unknown option %q", name)
	}
	return v, nil
}

// SetOption merges updates into the live option table.
func (b *Broker) SetOption(updates map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range updates {
		b.options[k] = v
	}
	return nil
}

// UpdateUIDs replaces the set of currently connected device UIDs,
// reported by the device manager as devices attach and detach.
func (b *Broker) UpdateUIDs(uids []device.UID) {
	strs := make([]string, len(uids))
	for i, u := range uids {
		strs[i] = u.String()
	}
	b.UpdateUIDStrings(strs)
}

// UpdateUIDStrings is UpdateUIDs' wire-level counterpart: the device
// process reports connected UIDs as decimal strings over the fabric's
// list_uids RPC, so the broker stores them directly rather than
// reconstructing a device.UID from its decimal rendering.
func (b *Broker) UpdateUIDStrings(uids []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uids = make(map[string]struct{}, len(uids))
	for _, u := range uids {
		b.uids[u] = struct{}{}
	}
}

// ListUIDs returns the currently connected device UIDs in stable order.
func (b *Broker) ListUIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.uids))
	for k := range b.uids {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// GamepadInput is one gamepad slot's reading from the control-plane
// notification: four joystick axes in [-1, 1] and a button bitmask.
type GamepadInput struct {
	LeftX, LeftY, RightX, RightY float64
	Buttons                      uint16
}

// gamepadBuffer returns (opening if necessary) the buffer for slot.
func (b *Broker) gamepadBuffer(slot int) (*buffer.Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if buf, ok := b.gamepads[slot]; ok {
		return buf, nil
	}
	buf, err := b.manager.OpenGamepad(slot)
	if err != nil {
		return nil, err
	}
	if err := buf.SetValid(true); err != nil {
		return nil, err
	}
	b.gamepads[slot] = buf
	return buf, nil
}

// UpdateGamepads applies a slot -> GamepadInput map to the corresponding
// gamepad buffers: the four axes directly, and the button bitmask
// unpacked into buffer.GamepadButtonNames by bit position.
func (b *Broker) UpdateGamepads(update map[int]GamepadInput) error {
	for slot, in := range update {
		buf, err := b.gamepadBuffer(slot)
		if err != nil {
			return fmt.Errorf("broker: open gamepad %d: %w", slot, err)
		}
		axisValues := []float64{in.LeftX, in.LeftY, in.RightX, in.RightY}
		for i, name := range buffer.GamepadAxisNames {
			if _, err := buf.SetValue(name, axisValues[i]); err != nil {
				return fmt.Errorf("broker: set %s: %w", name, err)
			}
		}
		for i, name := range buffer.GamepadButtonNames {
			bit := float64(0)
			if in.Buttons&(1<<uint(i)) != 0 {
				bit = 1
			}
			if _, err := buf.SetValue(name, bit); err != nil {
				return fmt.Errorf("broker: set %s: %w", name, err)
			}
		}
	}
	return nil
}

// ParseGamepadUpdate decodes the control-plane notification's payload
// shape: {"<slot>": {"lx":..,"ly":..,"rx":..,"ry":..,"btn":..}}.
func ParseGamepadUpdate(raw map[string]any) (map[int]GamepadInput, error) {
	out := make(map[int]GamepadInput, len(raw))
	for key, v := range raw {
		slot, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("broker: gamepad slot %q is not an integer: %w", key, err)
		}
		fields, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("broker: gamepad slot %d payload must be a map", slot)
		}
		in := GamepadInput{
			LeftX:  floatField(fields, "lx"),
			LeftY:  floatField(fields, "ly"),
			RightX: floatField(fields, "rx"),
			RightY: floatField(fields, "ry"),
		}
		if btn, ok := fields["btn"]; ok {
			in.Buttons = uint16(floatFromAny(btn))
		}
		out[slot] = in
	}
	return out, nil
}

func floatField(m map[string]any, key string) float64 {
	return floatFromAny(m[key])
}

func floatFromAny(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	default:
		return 0
	}
}
