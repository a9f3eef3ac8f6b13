package device

import "math"

// ParamKind is the scalar wire type of a device parameter.
type ParamKind int

const (
	KindBool ParamKind = iota
	KindI8
	KindU8
	KindI16
	KindU16
	KindI32
	KindU32
	KindI64
	KindU64
	KindF32
	KindF64
	KindBytes
)

// Size returns the natural width in bytes of the kind. For KindBytes the
// caller must consult Parameter.Width instead; Size returns 0.
func (k ParamKind) Size() int {
	switch k {
	case KindBool, KindI8, KindU8:
		return 1
	case KindI16, KindU16:
		return 2
	case KindI32, KindU32, KindF32:
		return 4
	case KindI64, KindU64, KindF64:
		return 8
	default:
		return 0
	}
}

// MaxParams is the number of parameters a device type may declare. Capping
// at 16 keeps the subscription/read/write/update bitmaps each a single
// 16-bit word.
const MaxParams = 16

// MaxBytesWidth is the largest fixed-width byte-string parameter allowed.
const MaxBytesWidth = 253

// Parameter describes one parameter of a device type: its name, scalar
// type, optional numeric bounds, and read/write capability. Order within a
// DeviceType's Params slice is significant — the index is the bit position
// used in every control bitmap.
type Parameter struct {
	Name       string
	Kind       ParamKind
	Width      int // only meaningful when Kind == KindBytes
	Lower      float64
	Upper      float64
	Readable   bool
	Writeable  bool
}

// NewParameter returns a Parameter with unbounded numeric limits, matching
// the original's float('-inf')/float('inf') defaults.
func NewParameter(name string, kind ParamKind) Parameter {
	return Parameter{
		Name:  name,
		Kind:  kind,
		Lower: math.Inf(-1),
		Upper: math.Inf(1),
	}
}

// Clamp restricts value to [Lower, Upper] for numeric (non-bytes, non-bool)
// parameters and reports whether clamping was necessary.
func (p Parameter) Clamp(value float64) (clamped float64, exceeded bool) {
	if value < p.Lower {
		return p.Lower, true
	}
	if value > p.Upper {
		return p.Upper, true
	}
	return value, false
}
