package grid

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DType is the storage type of a single pixel sample.
type DType uint8

const (
	DTypeInvalid DType = iota
	Uint8
	Int8
	Uint16
	Int16
	Uint32
	Int32
	Float32
	Float64
)

var dtypeNames = map[DType]string{
	Uint8:   "uint8",
	Int8:    "int8",
	Uint16:  "uint16",
	Int16:   "int16",
	Uint32:  "uint32",
	Int32:   "int32",
	Float32: "float32",
	Float64: "float64",
}

// ParseDType parses a dtype name such as "uint8" or "float32".
func ParseDType(name string) (DType, error) {
	for dt, n := range dtypeNames {
		if n == name {
			return dt, nil
		}
	}
	return DTypeInvalid, fmt.Errorf("unknown pixel dtype %q", name)
}

func (d DType) String() string {
	if n, ok := dtypeNames[d]; ok {
		return n
	}
	return fmt.Sprintf("dtype(%d)", uint8(d))
}

// Size returns the number of bytes per sample, or 0 for an invalid dtype.
func (d DType) Size() int {
	switch d {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

// Valid reports whether d is a known dtype.
func (d DType) Valid() bool { return d.Size() > 0 }

// IsFloat reports whether samples are IEEE floating point.
func (d DType) IsFloat() bool { return d == Float32 || d == Float64 }

// Decode reads one little-endian sample from b.
func (d DType) Decode(b []byte) float64 {
	switch d {
	case Uint8:
		return float64(b[0])
	case Int8:
		return float64(int8(b[0]))
	case Uint16:
		return float64(binary.LittleEndian.Uint16(b))
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case Uint32:
		return float64(binary.LittleEndian.Uint32(b))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	default:
		return math.NaN()
	}
}

// Encode writes v into b as one little-endian sample. Integer dtypes
// truncate toward zero and saturate at the type's range.
func (d DType) Encode(b []byte, v float64) {
	switch d {
	case Uint8:
		b[0] = uint8(saturate(v, 0, math.MaxUint8))
	case Int8:
		b[0] = uint8(int8(saturate(v, math.MinInt8, math.MaxInt8)))
	case Uint16:
		binary.LittleEndian.PutUint16(b, uint16(saturate(v, 0, math.MaxUint16)))
	case Int16:
		binary.LittleEndian.PutUint16(b, uint16(int16(saturate(v, math.MinInt16, math.MaxInt16))))
	case Uint32:
		binary.LittleEndian.PutUint32(b, uint32(saturate(v, 0, math.MaxUint32)))
	case Int32:
		binary.LittleEndian.PutUint32(b, uint32(int32(saturate(v, math.MinInt32, math.MaxInt32))))
	case Float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case Float64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}
}

// EncodeValue returns v encoded as a fresh sample slice.
func (d DType) EncodeValue(v float64) []byte {
	b := make([]byte, d.Size())
	d.Encode(b, v)
	return b
}

func saturate(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return math.Trunc(v)
}
