// Package kvdb implements Sapphire's process-wide typed key/value store,
// per spec.md §3 "KVDB Entry" and §4.4/§6.4.
package kvdb

import (
	"encoding/binary"
	"math"
)

// CatbusType enumerates the wire/value type tags KVDB entries, VM
// publish-table bindings, and catbus links all share.
type CatbusType uint8

const (
	TypeNone CatbusType = iota
	TypeBool
	TypeU8
	TypeU16
	TypeU32
	TypeU64
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeFloat
	TypeFixed16 // Q16.16
	TypeIPv4
	TypeMAC48
	TypeMAC64
	TypeKey128
	TypeString // variable-length, up to MaxStringLen
)

// MaxStringLen bounds a string-typed value, matching the ~488-byte ceiling
// spec.md cites for Catbus string variants.
const MaxStringLen = 488

// Size returns the fixed wire size of t in bytes, or -1 for TypeString
// (whose size is carried by the entry's Count/length instead).
func (t CatbusType) Size() int {
	switch t {
	case TypeBool, TypeU8, TypeI8:
		return 1
	case TypeU16, TypeI16:
		return 2
	case TypeU32, TypeI32, TypeFloat, TypeFixed16, TypeIPv4:
		return 4
	case TypeU64, TypeI64, TypeMAC64:
		return 8
	case TypeMAC48:
		return 6
	case TypeKey128:
		return 16
	case TypeString:
		return -1
	default:
		return 0
	}
}

func (t CatbusType) isNumeric() bool {
	switch t {
	case TypeBool, TypeU8, TypeU16, TypeU32, TypeU64,
		TypeI8, TypeI16, TypeI32, TypeI64, TypeFloat, TypeFixed16:
		return true
	default:
		return false
	}
}

// toI64 decodes a fixed-size numeric value into an int64 intermediate,
// per §4.4's type_convert policy.
func toI64(t CatbusType, b []byte) int64 {
	switch t {
	case TypeBool, TypeU8:
		return int64(b[0])
	case TypeI8:
		return int64(int8(b[0]))
	case TypeU16:
		return int64(binary.LittleEndian.Uint16(b))
	case TypeI16:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case TypeU32, TypeIPv4:
		return int64(binary.LittleEndian.Uint32(b))
	case TypeI32, TypeFixed16:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	case TypeU64:
		return int64(binary.LittleEndian.Uint64(b))
	case TypeI64:
		return int64(binary.LittleEndian.Uint64(b))
	case TypeFloat:
		bits := binary.LittleEndian.Uint32(b)
		return int64(math.Float32frombits(bits))
	default:
		return 0
	}
}

// saturate clamps v into the representable range of t before encoding.
func saturate(t CatbusType, v int64) int64 {
	var lo, hi int64
	switch t {
	case TypeBool:
		lo, hi = 0, 1
	case TypeU8:
		lo, hi = 0, math.MaxUint8
	case TypeI8:
		lo, hi = math.MinInt8, math.MaxInt8
	case TypeU16:
		lo, hi = 0, math.MaxUint16
	case TypeI16:
		lo, hi = math.MinInt16, math.MaxInt16
	case TypeU32, TypeIPv4:
		lo, hi = 0, math.MaxUint32
	case TypeI32, TypeFixed16:
		lo, hi = math.MinInt32, math.MaxInt32
	case TypeU64, TypeI64:
		return v // no narrower than int64
	default:
		return v
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// fromI64 encodes a saturated int64 intermediate into dst's wire form.
func fromI64(t CatbusType, v int64, dst []byte) {
	v = saturate(t, v)
	switch t {
	case TypeBool, TypeU8:
		dst[0] = byte(v)
	case TypeI8:
		dst[0] = byte(int8(v))
	case TypeU16, TypeI16:
		binary.LittleEndian.PutUint16(dst, uint16(v))
	case TypeU32, TypeI32, TypeFixed16, TypeIPv4:
		binary.LittleEndian.PutUint32(dst, uint32(v))
	case TypeU64, TypeI64:
		binary.LittleEndian.PutUint64(dst, uint64(v))
	case TypeFloat:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(v)))
	}
}

// Convert implements §4.4's single type_convert policy function: numeric
// to numeric goes through an int64 intermediate with saturation;
// string-to-string returns an unchanged copy of src; numeric<->string
// zero-fills the destination.
func Convert(srcType, dstType CatbusType, src []byte) []byte {
	if srcType == TypeString && dstType == TypeString {
		dst := make([]byte, len(src))
		copy(dst, src)
		return dst
	}
	if srcType == TypeString || dstType == TypeString {
		// Numeric<->string: destination is zero-filled; this runtime
		// does not perform textual number formatting here (that is
		// vm.Fmtstr's job) so the policy degrades to a zero-filled
		// buffer of the destination's size, matching the "zero-fill
		// destination" rule for untyped numeric<->string coercions
		// that don't go through fmtstr.
		size := dstType.Size()
		if size < 0 {
			size = len(src)
		}
		return make([]byte, size)
	}
	if !srcType.isNumeric() || !dstType.isNumeric() {
		size := dstType.Size()
		if size < 0 {
			size = 0
		}
		return make([]byte, size)
	}
	v := toI64(srcType, src)
	dst := make([]byte, dstType.Size())
	fromI64(dstType, v, dst)
	return dst
}
