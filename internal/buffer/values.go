package buffer

import (
	"encoding/binary"
	"math"

	"github.com/fieldcore/runtime/pkg/device"
)

// encodeValue writes v (a numeric parameter's value, already clamped by
// the caller) into dst using the parameter's natural width and
// little-endian byte order.
func encodeValue(dst []byte, kind device.ParamKind, v float64) {
	switch kind {
	case device.KindBool:
		if v != 0 {
			dst[0] = 1
		} else {
			dst[0] = 0
		}
	case device.KindI8:
		dst[0] = byte(int8(v))
	case device.KindU8:
		dst[0] = byte(uint8(v))
	case device.KindI16:
		binary.LittleEndian.PutUint16(dst, uint16(int16(v)))
	case device.KindU16:
		binary.LittleEndian.PutUint16(dst, uint16(v))
	case device.KindI32:
		binary.LittleEndian.PutUint32(dst, uint32(int32(v)))
	case device.KindU32:
		binary.LittleEndian.PutUint32(dst, uint32(v))
	case device.KindI64:
		binary.LittleEndian.PutUint64(dst, uint64(int64(v)))
	case device.KindU64:
		binary.LittleEndian.PutUint64(dst, uint64(v))
	case device.KindF32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(v)))
	case device.KindF64:
		binary.LittleEndian.PutUint64(dst, math.Float64bits(v))
	}
}

// decodeValue is encodeValue's inverse.
func decodeValue(src []byte, kind device.ParamKind) float64 {
	switch kind {
	case device.KindBool:
		if src[0] != 0 {
			return 1
		}
		return 0
	case device.KindI8:
		return float64(int8(src[0]))
	case device.KindU8:
		return float64(src[0])
	case device.KindI16:
		return float64(int16(binary.LittleEndian.Uint16(src)))
	case device.KindU16:
		return float64(binary.LittleEndian.Uint16(src))
	case device.KindI32:
		return float64(int32(binary.LittleEndian.Uint32(src)))
	case device.KindU32:
		return float64(binary.LittleEndian.Uint32(src))
	case device.KindI64:
		return float64(int64(binary.LittleEndian.Uint64(src)))
	case device.KindU64:
		return float64(binary.LittleEndian.Uint64(src))
	case device.KindF32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(src)))
	case device.KindF64:
		return math.Float64frombits(binary.LittleEndian.Uint64(src))
	default:
		return 0
	}
}
