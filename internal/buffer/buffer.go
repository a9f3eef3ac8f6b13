package buffer

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"time"

	"github.com/fieldcore/runtime/pkg/device"
	"github.com/fieldcore/runtime/pkg/protocol"
)

// Buffer is a single mutex-protected shared-memory region: a device
// buffer, a gamepad slot, or the field-state block. Every operation
// except SetValid(true) on an invalid buffer fails with ErrInvalid.
type Buffer struct {
	name   string
	layout *Layout
	region *region
	lock   *robustLock
}

// Open maps or creates the named region sized for layout, taking the
// process-shared lock alongside it. create controls whether a missing
// backing file is allocated or treated as an error.
func Open(name string, layout *Layout, create bool) (*Buffer, error) {
	r, err := openRegion(name, layout.Size(), create)
	if err != nil {
		return nil, err
	}
	l := newRobustLock(lockPath(name))
	if err := l.open(); err != nil {
		r.close()
		return nil, err
	}
	return &Buffer{name: name, layout: layout, region: r, lock: l}, nil
}

// Close unmaps the region and releases the lock file handle without
// removing either from disk.
func (b *Buffer) Close() error {
	lockErr := b.lock.close()
	regionErr := b.region.close()
	if regionErr != nil {
		return regionErr
	}
	return lockErr
}

// Unlink removes the backing files entirely. Callers must Close first.
func (b *Buffer) Unlink() error {
	_ = unlinkRegion(b.name + ".lock")
	return unlinkRegion(b.name)
}

func (b *Buffer) Valid() bool {
	var valid bool
	b.lock.withLock(func() error {
		valid = b.region.data[offValid] == 1
		return nil
	})
	return valid
}

// SetValid sets the valid flag. It is the only operation permitted while
// the buffer is currently invalid.
func (b *Buffer) SetValid(v bool) error {
	return b.lock.withLock(func() error {
		if v {
			b.region.data[offValid] = 1
		} else {
			b.region.data[offValid] = 0
		}
		return nil
	})
}

func (b *Buffer) requireValid() error {
	if b.region.data[offValid] != 1 {
		return ErrInvalid
	}
	return nil
}

func (b *Buffer) paramIndex(name string) (int, device.Parameter, error) {
	for i, p := range b.layout.Params {
		if p.Name == name {
			return i, p, nil
		}
	}
	return 0, device.Parameter{}, fmt.Errorf("%w: %s", ErrUnknownParam, name)
}

func (b *Buffer) readControl() control {
	data := b.region.data[offControl:]
	return control{
		subscription: binary.LittleEndian.Uint16(data[0:2]),
		read:         binary.LittleEndian.Uint16(data[2:4]),
		write:        binary.LittleEndian.Uint16(data[4:6]),
		update:       binary.LittleEndian.Uint16(data[6:8]),
	}
}

func (b *Buffer) writeControl(c control) {
	data := b.region.data[offControl:]
	binary.LittleEndian.PutUint16(data[0:2], c.subscription)
	binary.LittleEndian.PutUint16(data[2:4], c.read)
	binary.LittleEndian.PutUint16(data[4:6], c.write)
	binary.LittleEndian.PutUint16(data[6:8], c.update)
}

func (b *Buffer) stampWrite() {
	binary.LittleEndian.PutUint64(b.region.data[offWriteTS:], uint64(time.Now().UnixNano()))
}

func (b *Buffer) stampRead() {
	binary.LittleEndian.PutUint64(b.region.data[offReadTS:], uint64(time.Now().UnixNano()))
}

// LastWrite returns the timestamp SetValue last stamped into write._timestamp.
// Zero means no write has ever landed.
func (b *Buffer) LastWrite() time.Time {
	var ts int64
	b.lock.withLock(func() error {
		ts = int64(binary.LittleEndian.Uint64(b.region.data[offWriteTS:]))
		return nil
	})
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(0, ts)
}

// LastUpdate returns the timestamp UpdateData last stamped into
// read._timestamp. Zero means no DEV_DATA has ever landed.
func (b *Buffer) LastUpdate() time.Time {
	var ts int64
	b.lock.withLock(func() error {
		ts = int64(binary.LittleEndian.Uint64(b.region.data[offReadTS:]))
		return nil
	})
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(0, ts)
}

// GetValue returns a parameter's current value from the read block.
func (b *Buffer) GetValue(name string) (float64, error) {
	var out float64
	err := b.lock.withLock(func() error {
		if err := b.requireValid(); err != nil {
			return err
		}
		i, p, err := b.paramIndex(name)
		if err != nil {
			return err
		}
		if !p.Readable {
			return fmt.Errorf("%w: %s", ErrNotReadable, name)
		}
		off, width, ok := b.layout.readBlockOffset(i)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotReadable, name)
		}
		out = decodeValue(b.region.data[off:off+width], p.Kind)
		return nil
	})
	return out, err
}

// SetValue clamps v (if the parameter is numeric and bounded) and writes
// it into the write block, marking the bit in control.write.
func (b *Buffer) SetValue(name string, v float64) (clamped float64, err error) {
	err = b.lock.withLock(func() error {
		if err := b.requireValid(); err != nil {
			return err
		}
		i, p, err := b.paramIndex(name)
		if err != nil {
			return err
		}
		if !p.Writeable {
			return fmt.Errorf("%w: %s", ErrNotWriteable, name)
		}
		off, width, ok := b.layout.writeBlockOffset(i)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotWriteable, name)
		}
		clamped, _ = p.Clamp(v)
		encodeValue(b.region.data[off:off+width], p.Kind, clamped)
		c := b.readControl()
		c.write |= 1 << uint(i)
		b.writeControl(c)
		b.stampWrite()
		return nil
	})
	return clamped, err
}

// SetRead sets control.read bits for the named parameters that are
// readable; names outside the catalog or not readable are ignored.
func (b *Buffer) SetRead(names ...string) error {
	return b.lock.withLock(func() error {
		if err := b.requireValid(); err != nil {
			return err
		}
		c := b.readControl()
		for _, name := range names {
			i, p, err := b.paramIndex(name)
			if err != nil || !p.Readable {
				continue
			}
			c.read |= 1 << uint(i)
		}
		b.writeControl(c)
		return nil
	})
}

// GetRead returns a DEV_READ message for any pending read bits and clears
// them, or ok=false if none are pending.
func (b *Buffer) GetRead() (msg protocol.Message, ok bool, err error) {
	err = b.lock.withLock(func() error {
		if err := b.requireValid(); err != nil {
			return err
		}
		c := b.readControl()
		if c.read == 0 {
			return nil
		}
		msg = protocol.NewDevRead(c.read)
		ok = true
		c.read = 0
		b.writeControl(c)
		return nil
	})
	return msg, ok, err
}

// GetWrite yields one or more DEV_WRITE messages covering the pending
// write bits (applying the batching rule) and clears control.write.
func (b *Buffer) GetWrite() ([]protocol.Message, error) {
	var msgs []protocol.Message
	err := b.lock.withLock(func() error {
		if err := b.requireValid(); err != nil {
			return err
		}
		c := b.readControl()
		if c.write == 0 {
			return nil
		}
		var encErr error
		msgs, encErr = protocol.EncodeDevWrite(protocol.TypeDevWrite, b.layout.Params, c.write, writeBlockSource{b})
		if encErr != nil {
			return encErr
		}
		c.write = 0
		b.writeControl(c)
		return nil
	})
	return msgs, err
}

// GetUpdate returns a snapshot of parameters flagged in control.update and
// clears the bitmap.
func (b *Buffer) GetUpdate() (map[string]float64, error) {
	out := make(map[string]float64)
	err := b.lock.withLock(func() error {
		if err := b.requireValid(); err != nil {
			return err
		}
		c := b.readControl()
		bitmap := c.update
		for bitmap != 0 {
			i := bits.TrailingZeros16(bitmap)
			bitmap &^= 1 << uint(i)
			p := b.layout.Params[i]
			off, width, ok := b.layout.readBlockOffset(i)
			if !ok {
				continue
			}
			out[p.Name] = decodeValue(b.region.data[off:off+width], p.Kind)
		}
		c.update = 0
		b.writeControl(c)
		return nil
	})
	return out, err
}

// UpdateData applies a decoded DEV_DATA payload to the read block, unions
// its bitmap into control.update, and stamps read._timestamp iff the
// bitmap was non-empty.
func (b *Buffer) UpdateData(vals protocol.ParamValues) error {
	return b.lock.withLock(func() error {
		if err := b.requireValid(); err != nil {
			return err
		}
		if vals.Bitmap == 0 {
			return nil
		}
		for i, raw := range vals.Values {
			off, width, ok := b.layout.readBlockOffset(i)
			if !ok || len(raw) != width {
				continue
			}
			copy(b.region.data[off:off+width], raw)
		}
		c := b.readControl()
		c.update |= vals.Bitmap
		b.writeControl(c)
		b.stampRead()
		return nil
	})
}

// SetSubscription records the device's UID and the subscription bitmap it
// accepted. Requires the buffer to already be valid, same as every other
// public operation besides SetValid(true).
func (b *Buffer) SetSubscription(uid device.UID, bitmap uint16) error {
	return b.lock.withLock(func() error {
		if err := b.requireValid(); err != nil {
			return err
		}
		data := b.region.data[offUID:]
		binary.LittleEndian.PutUint16(data[0:2], uid.DeviceID)
		data[2] = uid.Year
		binary.LittleEndian.PutUint64(data[3:11], uid.Random)
		c := b.readControl()
		c.subscription = bitmap
		b.writeControl(c)
		return nil
	})
}

// Params returns the parameter list this buffer was laid out with.
func (b *Buffer) Params() []device.Parameter {
	return b.layout.Params
}

// UID returns the buffer's recorded device UID.
func (b *Buffer) UID() device.UID {
	data := b.region.data[offUID:]
	return device.UID{
		DeviceID: binary.LittleEndian.Uint16(data[0:2]),
		Year:     data[2],
		Random:   binary.LittleEndian.Uint64(data[3:11]),
	}
}

// writeBlockSource adapts Buffer's write block to protocol.ValueSource so
// GetWrite can reuse the shared DEV_WRITE/DEV_DATA batching codec.
type writeBlockSource struct{ b *Buffer }

func (s writeBlockSource) ParamBytes(index int) []byte {
	off, width, ok := s.b.layout.writeBlockOffset(index)
	if !ok {
		return nil
	}
	return s.b.region.data[off : off+width]
}
