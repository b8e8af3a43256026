package device

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
)

// ValueKind tells how a characteristic value was interpreted.
type ValueKind int

const (
	Opaque ValueKind = iota
	Float32
	Float64
)

func (k ValueKind) String() string {
	switch k {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "opaque"
	}
}

// Value is a decoded characteristic value.
type Value struct {
	Kind   ValueKind
	Number float64
	Raw    []byte
}

// DecodeValue interprets raw by length alone: 8 bytes is a float64, 4 bytes a
// float32, anything else is opaque. Both numeric forms are little-endian.
//
// An 8 byte payload holding two float32s decodes as one float64. That is intended.
func DecodeValue(raw []byte) Value {
	switch len(raw) {
	case 8:
		return Value{Kind: Float64, Number: math.Float64frombits(binary.LittleEndian.Uint64(raw)), Raw: raw}
	case 4:
		return Value{Kind: Float32, Number: float64(math.Float32frombits(binary.LittleEndian.Uint32(raw))), Raw: raw}
	default:
		return Value{Kind: Opaque, Raw: raw}
	}
}

// IsNumber reports whether the value decoded to a number.
func (v Value) IsNumber() bool {
	return v.Kind != Opaque
}

// String renders numbers with %g and opaque values as grouped hex, e.g. <01020304 05>.
func (v Value) String() string {
	switch v.Kind {
	case Float32:
		return strconv.FormatFloat(v.Number, 'g', -1, 32)
	case Float64:
		return strconv.FormatFloat(v.Number, 'g', -1, 64)
	default:
		return FormatOpaque(v.Raw)
	}
}

// FormatOpaque renders raw bytes as hex inside angle brackets, a space after every
// four bytes.
func FormatOpaque(raw []byte) string {
	var b strings.Builder
	b.WriteByte('<')
	for i := 0; i < len(raw); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		end := min(i+4, len(raw))
		b.WriteString(hex.EncodeToString(raw[i:end]))
	}
	b.WriteByte('>')
	return b.String()
}
