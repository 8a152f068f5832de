package engine

import (
	"fmt"
	"math"

	"github.com/motorwasm/motor/wasm"
)

// Value is a single WebAssembly runtime value. The payload is stored as raw
// bits so that NaN payloads survive unchanged.
type Value struct {
	Type wasm.ValType
	bits uint64
}

// I32Value creates an i32 value.
func I32Value(v int32) Value {
	return Value{Type: wasm.ValI32, bits: uint64(uint32(v))}
}

// I64Value creates an i64 value.
func I64Value(v int64) Value {
	return Value{Type: wasm.ValI64, bits: uint64(v)}
}

// F32Value creates an f32 value.
func F32Value(v float32) Value {
	return Value{Type: wasm.ValF32, bits: uint64(math.Float32bits(v))}
}

// F64Value creates an f64 value.
func F64Value(v float64) Value {
	return Value{Type: wasm.ValF64, bits: math.Float64bits(v)}
}

// ZeroValue returns the zero value of the given type.
func ZeroValue(t wasm.ValType) Value {
	return Value{Type: t}
}

// I32 returns the value as a signed 32-bit integer.
func (v Value) I32() int32 {
	return int32(uint32(v.bits))
}

// U32 returns the value as an unsigned 32-bit integer.
func (v Value) U32() uint32 {
	return uint32(v.bits)
}

// I64 returns the value as a signed 64-bit integer.
func (v Value) I64() int64 {
	return int64(v.bits)
}

// U64 returns the value as an unsigned 64-bit integer.
func (v Value) U64() uint64 {
	return v.bits
}

// F32 returns the value as a 32-bit float.
func (v Value) F32() float32 {
	return math.Float32frombits(uint32(v.bits))
}

// F64 returns the value as a 64-bit float.
func (v Value) F64() float64 {
	return math.Float64frombits(v.bits)
}

// Bits returns the raw bit pattern.
func (v Value) Bits() uint64 {
	return v.bits
}

func (v Value) String() string {
	switch v.Type {
	case wasm.ValI32:
		return fmt.Sprintf("i32:%d", v.I32())
	case wasm.ValI64:
		return fmt.Sprintf("i64:%d", v.I64())
	case wasm.ValF32:
		return fmt.Sprintf("f32:%g", v.F32())
	case wasm.ValF64:
		return fmt.Sprintf("f64:%g", v.F64())
	default:
		return fmt.Sprintf("unknown:%#x", v.bits)
	}
}
