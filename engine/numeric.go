package engine

import (
	"math"
	"math/bits"

	"github.com/motorwasm/motor/wasm"
)

// applyNumeric executes a numeric instruction against the operand stack.
// A non-nil trap aborts the function; traps only arise from integer
// division and float-to-integer truncation.
func applyNumeric(op byte, f *execFrame) (Value, *Trap) {
	switch op {
	// i32 test and comparison
	case wasm.OpI32Eqz:
		return boolValue(f.pop().I32() == 0), nil
	case wasm.OpI32Eq:
		b, a := f.pop(), f.pop()
		return boolValue(a.I32() == b.I32()), nil
	case wasm.OpI32Ne:
		b, a := f.pop(), f.pop()
		return boolValue(a.I32() != b.I32()), nil
	case wasm.OpI32LtS:
		b, a := f.pop(), f.pop()
		return boolValue(a.I32() < b.I32()), nil
	case wasm.OpI32LtU:
		b, a := f.pop(), f.pop()
		return boolValue(a.U32() < b.U32()), nil
	case wasm.OpI32GtS:
		b, a := f.pop(), f.pop()
		return boolValue(a.I32() > b.I32()), nil
	case wasm.OpI32GtU:
		b, a := f.pop(), f.pop()
		return boolValue(a.U32() > b.U32()), nil
	case wasm.OpI32LeS:
		b, a := f.pop(), f.pop()
		return boolValue(a.I32() <= b.I32()), nil
	case wasm.OpI32LeU:
		b, a := f.pop(), f.pop()
		return boolValue(a.U32() <= b.U32()), nil
	case wasm.OpI32GeS:
		b, a := f.pop(), f.pop()
		return boolValue(a.I32() >= b.I32()), nil
	case wasm.OpI32GeU:
		b, a := f.pop(), f.pop()
		return boolValue(a.U32() >= b.U32()), nil

	// i64 test and comparison
	case wasm.OpI64Eqz:
		return boolValue(f.pop().I64() == 0), nil
	case wasm.OpI64Eq:
		b, a := f.pop(), f.pop()
		return boolValue(a.I64() == b.I64()), nil
	case wasm.OpI64Ne:
		b, a := f.pop(), f.pop()
		return boolValue(a.I64() != b.I64()), nil
	case wasm.OpI64LtS:
		b, a := f.pop(), f.pop()
		return boolValue(a.I64() < b.I64()), nil
	case wasm.OpI64LtU:
		b, a := f.pop(), f.pop()
		return boolValue(a.U64() < b.U64()), nil
	case wasm.OpI64GtS:
		b, a := f.pop(), f.pop()
		return boolValue(a.I64() > b.I64()), nil
	case wasm.OpI64GtU:
		b, a := f.pop(), f.pop()
		return boolValue(a.U64() > b.U64()), nil
	case wasm.OpI64LeS:
		b, a := f.pop(), f.pop()
		return boolValue(a.I64() <= b.I64()), nil
	case wasm.OpI64LeU:
		b, a := f.pop(), f.pop()
		return boolValue(a.U64() <= b.U64()), nil
	case wasm.OpI64GeS:
		b, a := f.pop(), f.pop()
		return boolValue(a.I64() >= b.I64()), nil
	case wasm.OpI64GeU:
		b, a := f.pop(), f.pop()
		return boolValue(a.U64() >= b.U64()), nil

	// float comparison
	case wasm.OpF32Eq:
		b, a := f.pop(), f.pop()
		return boolValue(a.F32() == b.F32()), nil
	case wasm.OpF32Ne:
		b, a := f.pop(), f.pop()
		return boolValue(a.F32() != b.F32()), nil
	case wasm.OpF32Lt:
		b, a := f.pop(), f.pop()
		return boolValue(a.F32() < b.F32()), nil
	case wasm.OpF32Gt:
		b, a := f.pop(), f.pop()
		return boolValue(a.F32() > b.F32()), nil
	case wasm.OpF32Le:
		b, a := f.pop(), f.pop()
		return boolValue(a.F32() <= b.F32()), nil
	case wasm.OpF32Ge:
		b, a := f.pop(), f.pop()
		return boolValue(a.F32() >= b.F32()), nil
	case wasm.OpF64Eq:
		b, a := f.pop(), f.pop()
		return boolValue(a.F64() == b.F64()), nil
	case wasm.OpF64Ne:
		b, a := f.pop(), f.pop()
		return boolValue(a.F64() != b.F64()), nil
	case wasm.OpF64Lt:
		b, a := f.pop(), f.pop()
		return boolValue(a.F64() < b.F64()), nil
	case wasm.OpF64Gt:
		b, a := f.pop(), f.pop()
		return boolValue(a.F64() > b.F64()), nil
	case wasm.OpF64Le:
		b, a := f.pop(), f.pop()
		return boolValue(a.F64() <= b.F64()), nil
	case wasm.OpF64Ge:
		b, a := f.pop(), f.pop()
		return boolValue(a.F64() >= b.F64()), nil

	// i32 arithmetic
	case wasm.OpI32Clz:
		return I32Value(int32(bits.LeadingZeros32(f.pop().U32()))), nil
	case wasm.OpI32Ctz:
		return I32Value(int32(bits.TrailingZeros32(f.pop().U32()))), nil
	case wasm.OpI32Popcnt:
		return I32Value(int32(bits.OnesCount32(f.pop().U32()))), nil
	case wasm.OpI32Add:
		b, a := f.pop(), f.pop()
		return I32Value(a.I32() + b.I32()), nil
	case wasm.OpI32Sub:
		b, a := f.pop(), f.pop()
		return I32Value(a.I32() - b.I32()), nil
	case wasm.OpI32Mul:
		b, a := f.pop(), f.pop()
		return I32Value(a.I32() * b.I32()), nil
	case wasm.OpI32DivS:
		b, a := f.pop(), f.pop()
		if b.I32() == 0 {
			return Value{}, NewTrap(TrapDivideByZero)
		}
		if a.I32() == math.MinInt32 && b.I32() == -1 {
			return Value{}, NewTrap(TrapIntegerOverflow)
		}
		return I32Value(a.I32() / b.I32()), nil
	case wasm.OpI32DivU:
		b, a := f.pop(), f.pop()
		if b.U32() == 0 {
			return Value{}, NewTrap(TrapDivideByZero)
		}
		return I32Value(int32(a.U32() / b.U32())), nil
	case wasm.OpI32RemS:
		b, a := f.pop(), f.pop()
		if b.I32() == 0 {
			return Value{}, NewTrap(TrapDivideByZero)
		}
		if a.I32() == math.MinInt32 && b.I32() == -1 {
			return I32Value(0), nil
		}
		return I32Value(a.I32() % b.I32()), nil
	case wasm.OpI32RemU:
		b, a := f.pop(), f.pop()
		if b.U32() == 0 {
			return Value{}, NewTrap(TrapDivideByZero)
		}
		return I32Value(int32(a.U32() % b.U32())), nil
	case wasm.OpI32And:
		b, a := f.pop(), f.pop()
		return I32Value(a.I32() & b.I32()), nil
	case wasm.OpI32Or:
		b, a := f.pop(), f.pop()
		return I32Value(a.I32() | b.I32()), nil
	case wasm.OpI32Xor:
		b, a := f.pop(), f.pop()
		return I32Value(a.I32() ^ b.I32()), nil
	case wasm.OpI32Shl:
		b, a := f.pop(), f.pop()
		return I32Value(a.I32() << (b.U32() & 31)), nil
	case wasm.OpI32ShrS:
		b, a := f.pop(), f.pop()
		return I32Value(a.I32() >> (b.U32() & 31)), nil
	case wasm.OpI32ShrU:
		b, a := f.pop(), f.pop()
		return I32Value(int32(a.U32() >> (b.U32() & 31))), nil
	case wasm.OpI32Rotl:
		b, a := f.pop(), f.pop()
		return I32Value(int32(bits.RotateLeft32(a.U32(), int(b.U32()&31)))), nil
	case wasm.OpI32Rotr:
		b, a := f.pop(), f.pop()
		return I32Value(int32(bits.RotateLeft32(a.U32(), -int(b.U32()&31)))), nil

	// i64 arithmetic
	case wasm.OpI64Clz:
		return I64Value(int64(bits.LeadingZeros64(f.pop().U64()))), nil
	case wasm.OpI64Ctz:
		return I64Value(int64(bits.TrailingZeros64(f.pop().U64()))), nil
	case wasm.OpI64Popcnt:
		return I64Value(int64(bits.OnesCount64(f.pop().U64()))), nil
	case wasm.OpI64Add:
		b, a := f.pop(), f.pop()
		return I64Value(a.I64() + b.I64()), nil
	case wasm.OpI64Sub:
		b, a := f.pop(), f.pop()
		return I64Value(a.I64() - b.I64()), nil
	case wasm.OpI64Mul:
		b, a := f.pop(), f.pop()
		return I64Value(a.I64() * b.I64()), nil
	case wasm.OpI64DivS:
		b, a := f.pop(), f.pop()
		if b.I64() == 0 {
			return Value{}, NewTrap(TrapDivideByZero)
		}
		if a.I64() == math.MinInt64 && b.I64() == -1 {
			return Value{}, NewTrap(TrapIntegerOverflow)
		}
		return I64Value(a.I64() / b.I64()), nil
	case wasm.OpI64DivU:
		b, a := f.pop(), f.pop()
		if b.U64() == 0 {
			return Value{}, NewTrap(TrapDivideByZero)
		}
		return I64Value(int64(a.U64() / b.U64())), nil
	case wasm.OpI64RemS:
		b, a := f.pop(), f.pop()
		if b.I64() == 0 {
			return Value{}, NewTrap(TrapDivideByZero)
		}
		if a.I64() == math.MinInt64 && b.I64() == -1 {
			return I64Value(0), nil
		}
		return I64Value(a.I64() % b.I64()), nil
	case wasm.OpI64RemU:
		b, a := f.pop(), f.pop()
		if b.U64() == 0 {
			return Value{}, NewTrap(TrapDivideByZero)
		}
		return I64Value(int64(a.U64() % b.U64())), nil
	case wasm.OpI64And:
		b, a := f.pop(), f.pop()
		return I64Value(a.I64() & b.I64()), nil
	case wasm.OpI64Or:
		b, a := f.pop(), f.pop()
		return I64Value(a.I64() | b.I64()), nil
	case wasm.OpI64Xor:
		b, a := f.pop(), f.pop()
		return I64Value(a.I64() ^ b.I64()), nil
	case wasm.OpI64Shl:
		b, a := f.pop(), f.pop()
		return I64Value(a.I64() << (b.U64() & 63)), nil
	case wasm.OpI64ShrS:
		b, a := f.pop(), f.pop()
		return I64Value(a.I64() >> (b.U64() & 63)), nil
	case wasm.OpI64ShrU:
		b, a := f.pop(), f.pop()
		return I64Value(int64(a.U64() >> (b.U64() & 63))), nil
	case wasm.OpI64Rotl:
		b, a := f.pop(), f.pop()
		return I64Value(int64(bits.RotateLeft64(a.U64(), int(b.U64()&63)))), nil
	case wasm.OpI64Rotr:
		b, a := f.pop(), f.pop()
		return I64Value(int64(bits.RotateLeft64(a.U64(), -int(b.U64()&63)))), nil

	// f32 arithmetic
	case wasm.OpF32Abs:
		return F32Value(float32(math.Abs(float64(f.pop().F32())))), nil
	case wasm.OpF32Neg:
		return F32Value(-f.pop().F32()), nil
	case wasm.OpF32Ceil:
		return F32Value(float32(math.Ceil(float64(f.pop().F32())))), nil
	case wasm.OpF32Floor:
		return F32Value(float32(math.Floor(float64(f.pop().F32())))), nil
	case wasm.OpF32Trunc:
		return F32Value(float32(math.Trunc(float64(f.pop().F32())))), nil
	case wasm.OpF32Nearest:
		return F32Value(float32(math.RoundToEven(float64(f.pop().F32())))), nil
	case wasm.OpF32Sqrt:
		return F32Value(float32(math.Sqrt(float64(f.pop().F32())))), nil
	case wasm.OpF32Add:
		b, a := f.pop(), f.pop()
		return F32Value(a.F32() + b.F32()), nil
	case wasm.OpF32Sub:
		b, a := f.pop(), f.pop()
		return F32Value(a.F32() - b.F32()), nil
	case wasm.OpF32Mul:
		b, a := f.pop(), f.pop()
		return F32Value(a.F32() * b.F32()), nil
	case wasm.OpF32Div:
		b, a := f.pop(), f.pop()
		return F32Value(a.F32() / b.F32()), nil
	case wasm.OpF32Min:
		b, a := f.pop(), f.pop()
		return F32Value(fmin32(a.F32(), b.F32())), nil
	case wasm.OpF32Max:
		b, a := f.pop(), f.pop()
		return F32Value(fmax32(a.F32(), b.F32())), nil
	case wasm.OpF32Copysign:
		b, a := f.pop(), f.pop()
		return F32Value(float32(math.Copysign(float64(a.F32()), float64(b.F32())))), nil

	// f64 arithmetic
	case wasm.OpF64Abs:
		return F64Value(math.Abs(f.pop().F64())), nil
	case wasm.OpF64Neg:
		return F64Value(-f.pop().F64()), nil
	case wasm.OpF64Ceil:
		return F64Value(math.Ceil(f.pop().F64())), nil
	case wasm.OpF64Floor:
		return F64Value(math.Floor(f.pop().F64())), nil
	case wasm.OpF64Trunc:
		return F64Value(math.Trunc(f.pop().F64())), nil
	case wasm.OpF64Nearest:
		return F64Value(math.RoundToEven(f.pop().F64())), nil
	case wasm.OpF64Sqrt:
		return F64Value(math.Sqrt(f.pop().F64())), nil
	case wasm.OpF64Add:
		b, a := f.pop(), f.pop()
		return F64Value(a.F64() + b.F64()), nil
	case wasm.OpF64Sub:
		b, a := f.pop(), f.pop()
		return F64Value(a.F64() - b.F64()), nil
	case wasm.OpF64Mul:
		b, a := f.pop(), f.pop()
		return F64Value(a.F64() * b.F64()), nil
	case wasm.OpF64Div:
		b, a := f.pop(), f.pop()
		return F64Value(a.F64() / b.F64()), nil
	case wasm.OpF64Min:
		b, a := f.pop(), f.pop()
		return F64Value(fmin64(a.F64(), b.F64())), nil
	case wasm.OpF64Max:
		b, a := f.pop(), f.pop()
		return F64Value(fmax64(a.F64(), b.F64())), nil
	case wasm.OpF64Copysign:
		b, a := f.pop(), f.pop()
		return F64Value(math.Copysign(a.F64(), b.F64())), nil

	// conversions
	case wasm.OpI32WrapI64:
		return I32Value(int32(f.pop().I64())), nil
	case wasm.OpI32TruncF32S:
		return truncToI32(float64(f.pop().F32()))
	case wasm.OpI32TruncF32U:
		return truncToU32(float64(f.pop().F32()))
	case wasm.OpI32TruncF64S:
		return truncToI32(f.pop().F64())
	case wasm.OpI32TruncF64U:
		return truncToU32(f.pop().F64())
	case wasm.OpI64ExtendI32S:
		return I64Value(int64(f.pop().I32())), nil
	case wasm.OpI64ExtendI32U:
		return I64Value(int64(f.pop().U32())), nil
	case wasm.OpI64TruncF32S:
		return truncToI64(float64(f.pop().F32()))
	case wasm.OpI64TruncF32U:
		return truncToU64(float64(f.pop().F32()))
	case wasm.OpI64TruncF64S:
		return truncToI64(f.pop().F64())
	case wasm.OpI64TruncF64U:
		return truncToU64(f.pop().F64())
	case wasm.OpF32ConvertI32S:
		return F32Value(float32(f.pop().I32())), nil
	case wasm.OpF32ConvertI32U:
		return F32Value(float32(f.pop().U32())), nil
	case wasm.OpF32ConvertI64S:
		return F32Value(float32(f.pop().I64())), nil
	case wasm.OpF32ConvertI64U:
		return F32Value(float32(f.pop().U64())), nil
	case wasm.OpF32DemoteF64:
		return F32Value(float32(f.pop().F64())), nil
	case wasm.OpF64ConvertI32S:
		return F64Value(float64(f.pop().I32())), nil
	case wasm.OpF64ConvertI32U:
		return F64Value(float64(f.pop().U32())), nil
	case wasm.OpF64ConvertI64S:
		return F64Value(float64(f.pop().I64())), nil
	case wasm.OpF64ConvertI64U:
		return F64Value(float64(f.pop().U64())), nil
	case wasm.OpF64PromoteF32:
		return F64Value(float64(f.pop().F32())), nil
	case wasm.OpI32ReinterpretF32:
		v := f.pop()
		return Value{Type: wasm.ValI32, bits: v.bits}, nil
	case wasm.OpI64ReinterpretF64:
		v := f.pop()
		return Value{Type: wasm.ValI64, bits: v.bits}, nil
	case wasm.OpF32ReinterpretI32:
		v := f.pop()
		return Value{Type: wasm.ValF32, bits: v.bits}, nil
	case wasm.OpF64ReinterpretI64:
		v := f.pop()
		return Value{Type: wasm.ValF64, bits: v.bits}, nil
	}
	// Unreachable after validation
	return Value{}, NewTrap(TrapUnreachable)
}

func boolValue(b bool) Value {
	if b {
		return I32Value(1)
	}
	return I32Value(0)
}

// fmin32 follows IEEE minimum semantics: NaN propagates and -0 orders
// below +0.
func fmin32(a, b float32) float32 {
	return float32(fmin64(float64(a), float64(b)))
}

func fmax32(a, b float32) float32 {
	return float32(fmax64(float64(a), float64(b)))
}

func fmin64(a, b float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	if a == 0 && b == 0 {
		if math.Signbit(a) {
			return a
		}
		return b
	}
	if a < b {
		return a
	}
	return b
}

func fmax64(a, b float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	if a == 0 && b == 0 {
		if math.Signbit(a) {
			return b
		}
		return a
	}
	if a > b {
		return a
	}
	return b
}

// Truncation conversions trap on NaN and on values whose integer part
// falls outside the target range.

func truncToI32(v float64) (Value, *Trap) {
	if math.IsNaN(v) {
		return Value{}, NewTrap(TrapInvalidConversion)
	}
	t := math.Trunc(v)
	if t < math.MinInt32 || t > math.MaxInt32 {
		return Value{}, NewTrap(TrapIntegerOverflow)
	}
	return I32Value(int32(t)), nil
}

func truncToU32(v float64) (Value, *Trap) {
	if math.IsNaN(v) {
		return Value{}, NewTrap(TrapInvalidConversion)
	}
	t := math.Trunc(v)
	if t < 0 || t > math.MaxUint32 {
		return Value{}, NewTrap(TrapIntegerOverflow)
	}
	return I32Value(int32(uint32(t))), nil
}

func truncToI64(v float64) (Value, *Trap) {
	if math.IsNaN(v) {
		return Value{}, NewTrap(TrapInvalidConversion)
	}
	t := math.Trunc(v)
	// 2^63 is not representable; the nearest float64 below it is
	// 9223372036854774784, while -2^63 is exact.
	if t >= 9223372036854775808.0 || t < -9223372036854775808.0 {
		return Value{}, NewTrap(TrapIntegerOverflow)
	}
	return I64Value(int64(t)), nil
}

func truncToU64(v float64) (Value, *Trap) {
	if math.IsNaN(v) {
		return Value{}, NewTrap(TrapInvalidConversion)
	}
	t := math.Trunc(v)
	if t < 0 || t >= 18446744073709551616.0 {
		return Value{}, NewTrap(TrapIntegerOverflow)
	}
	return I64Value(int64(uint64(t))), nil
}
