// Package buffer implements the shared-memory device buffer layer: one
// mutex-protected region per connected Smart Device, one per gamepad slot,
// and one for field state, each laid out deterministically from a device
// catalog entry at load time.
package buffer

import (
	"github.com/fieldcore/runtime/pkg/device"
)

// Control mirrors the four bitmaps that coordinate buffer access:
// subscription (which params a device streams), read (pending DEV_READ
// requests), write (pending DEV_WRITE requests), and update (params
// touched by the most recent DEV_DATA, consumed by GetUpdate).
type control struct {
	subscription uint16
	read         uint16
	write        uint16
	update       uint16
}

const controlSize = 8 // four uint16 bitmaps, little-endian on the wire

// fieldOffset records where one parameter's bytes live within a block,
// or -1 if the parameter does not participate in that block.
type fieldOffset struct {
	offset int
	width  int
}

// Layout is the deterministic byte layout generated from a device type's
// parameter list. The same catalog entry always produces the same layout
// in every process, so no layout metadata needs to travel over shared
// memory itself.
type Layout struct {
	Params    []device.Parameter
	writeOff  []fieldOffset // indexed by bit position
	readOff   []fieldOffset
	writeSize int
	readSize  int
	shared    bool // gamepad/field buffers: read and write views alias one block
}

// header layout, all offsets relative to the start of the mapped region:
//
//	0       valid flag (1 byte, 0 or 1)
//	1..11   uid (device_id u16 | year u8 | random u64), zero for non-device buffers
//	12..19  control block (subscription, read, write, update bitmaps)
//	20..27  write._timestamp (unix nanos, int64 LE)
//	28..35  read._timestamp (unix nanos, int64 LE)
//	36..    write block, then read block
const (
	offValid    = 0
	offUID      = 1
	uidSize     = 11
	offControl  = offUID + uidSize
	offWriteTS  = offControl + controlSize
	offReadTS   = offWriteTS + 8
	offDataBase = offReadTS + 8
)

// NewLayout computes the record layout for a device type's parameter list.
func NewLayout(params []device.Parameter) *Layout {
	l := &Layout{
		Params:   params,
		writeOff: make([]fieldOffset, len(params)),
		readOff:  make([]fieldOffset, len(params)),
	}
	writeCursor, readCursor := 0, 0
	for i, p := range params {
		width := p.Kind.Size()
		if p.Kind == device.KindBytes {
			width = p.Width
		}
		if p.Writeable {
			l.writeOff[i] = fieldOffset{offset: writeCursor, width: width}
			writeCursor += width
		} else {
			l.writeOff[i] = fieldOffset{offset: -1}
		}
		if p.Readable {
			l.readOff[i] = fieldOffset{offset: readCursor, width: width}
			readCursor += width
		} else {
			l.readOff[i] = fieldOffset{offset: -1}
		}
	}
	l.writeSize = writeCursor
	l.readSize = readCursor
	return l
}

// NewSharedLayout computes a layout for buffers with no physical device on
// the other end of the write/read split — gamepad and field state. Every
// parameter gets one storage slot: SetValue and GetValue both address it,
// so a write is visible to the next read without anything playing the role
// UpdateData plays for a real Smart Device's DEV_DATA frame.
func NewSharedLayout(params []device.Parameter) *Layout {
	l := &Layout{
		Params:   params,
		writeOff: make([]fieldOffset, len(params)),
		readOff:  make([]fieldOffset, len(params)),
		shared:   true,
	}
	cursor := 0
	for i, p := range params {
		if !p.Readable && !p.Writeable {
			l.writeOff[i] = fieldOffset{offset: -1}
			l.readOff[i] = fieldOffset{offset: -1}
			continue
		}
		width := p.Kind.Size()
		if p.Kind == device.KindBytes {
			width = p.Width
		}
		fo := fieldOffset{offset: cursor, width: width}
		cursor += width
		if p.Writeable {
			l.writeOff[i] = fo
		} else {
			l.writeOff[i] = fieldOffset{offset: -1}
		}
		if p.Readable {
			l.readOff[i] = fo
		} else {
			l.readOff[i] = fieldOffset{offset: -1}
		}
	}
	l.writeSize = cursor
	return l
}

// Size is the total number of bytes the region must hold.
func (l *Layout) Size() int {
	return offDataBase + l.writeSize + l.readSize
}

func (l *Layout) writeBlockOffset(index int) (offset, width int, ok bool) {
	fo := l.writeOff[index]
	if fo.offset < 0 {
		return 0, 0, false
	}
	return offDataBase + fo.offset, fo.width, true
}

func (l *Layout) readBlockOffset(index int) (offset, width int, ok bool) {
	fo := l.readOff[index]
	if fo.offset < 0 {
		return 0, 0, false
	}
	if l.shared {
		return offDataBase + fo.offset, fo.width, true
	}
	return offDataBase + l.writeSize + fo.offset, fo.width, true
}
