package engine

import (
	"context"
	"encoding/binary"
	"math"

	errs "github.com/motorwasm/motor/errors"
	"github.com/motorwasm/motor/wasm"
)

// maxCallDepth bounds interpreter recursion. Exceeding it traps with
// TrapCallStackExhausted instead of exhausting the Go stack.
const maxCallDepth = 1000

type interpreter struct {
	store *Store
	depth int
}

// label is an active structured control construct during execution.
type label struct {
	instrIdx int // index of the opening block/loop/if instruction
	height   int // operand stack height at entry
	arity    int // values a branch to this label carries
	opcode   byte
}

type execFrame struct {
	stack  []Value
	labels []label
}

func (f *execFrame) push(v Value) {
	f.stack = append(f.stack, v)
}

func (f *execFrame) pop() Value {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (it *interpreter) callFunction(ctx context.Context, fn *FunctionInstance, args []Value) ([]Value, error) {
	return it.call(ctx, fn, args, nil)
}

// call dispatches to either the interpreter loop or a host function. The
// caller instance, when present, is exposed to host functions so they can
// reach the calling module's memory.
func (it *interpreter) call(ctx context.Context, fn *FunctionInstance, args []Value, caller *ModuleInstance) ([]Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if it.depth >= maxCallDepth {
		return nil, &Trap{Code: TrapCallStackExhausted, Func: fn.Name}
	}
	it.depth++
	defer func() { it.depth-- }()

	if fn.Kind == FuncKindHost {
		return it.callHost(ctx, fn, args, caller)
	}

	locals := make([]Value, len(fn.Type.Params)+len(fn.Code.locals))
	copy(locals, args)
	for i, t := range fn.Code.locals {
		locals[len(fn.Type.Params)+i] = ZeroValue(t)
	}
	return it.exec(ctx, fn, locals)
}

func (it *interpreter) callHost(ctx context.Context, fn *FunctionInstance, args []Value, caller *ModuleInstance) ([]Value, error) {
	c := &Caller{Instance: caller, store: it.store}
	results, err := fn.Host(ctx, c, args)
	if err != nil {
		if _, ok := AsTrap(err); ok {
			return nil, err
		}
		return nil, &Trap{Code: TrapHostError, Func: fn.Name, Cause: err}
	}
	if len(results) != len(fn.Type.Results) {
		return nil, errs.TypeMismatch(errs.PhaseRuntime, []string{"host", fn.Name},
			"matching result count", "mismatched result count")
	}
	for i, r := range results {
		if r.Type != fn.Type.Results[i] {
			return nil, errs.TypeMismatch(errs.PhaseRuntime, []string{"host", fn.Name},
				fn.Type.Results[i].String(), r.Type.String())
		}
	}
	return results, nil
}

func blockArity(bt int32) int {
	if bt == wasm.BlockTypeVoid {
		return 0
	}
	return 1
}

func (it *interpreter) exec(ctx context.Context, fn *FunctionInstance, locals []Value) ([]Value, error) {
	code := fn.Code
	inst := fn.Module
	body := code.body
	f := &execFrame{}

	// branchTo unwinds to the label at the given relative depth and
	// returns the next pc. A depth equal to the label count means a
	// return from the function, signalled by -1.
	branchTo := func(depth int) int {
		if depth == len(f.labels) {
			return -1
		}
		idx := len(f.labels) - 1 - depth
		l := f.labels[idx]
		if l.opcode == wasm.OpLoop {
			f.stack = f.stack[:l.height]
			f.labels = f.labels[:idx+1]
			return l.instrIdx
		}
		vals := make([]Value, l.arity)
		copy(vals, f.stack[len(f.stack)-l.arity:])
		f.stack = append(f.stack[:l.height], vals...)
		f.labels = f.labels[:idx]
		return int(code.ctrl[l.instrIdx].End)
	}

	for pc := 0; pc < len(body); pc++ {
		instr := &body[pc]
		switch instr.Opcode {
		case wasm.OpUnreachable:
			return nil, &Trap{Code: TrapUnreachable, Func: fn.Name}

		case wasm.OpNop:

		case wasm.OpBlock:
			imm := instr.Imm.(wasm.BlockImm)
			f.labels = append(f.labels, label{
				opcode: wasm.OpBlock, instrIdx: pc,
				height: len(f.stack), arity: blockArity(imm.Type),
			})

		case wasm.OpLoop:
			f.labels = append(f.labels, label{
				opcode: wasm.OpLoop, instrIdx: pc, height: len(f.stack),
			})

		case wasm.OpIf:
			imm := instr.Imm.(wasm.BlockImm)
			cond := f.pop()
			f.labels = append(f.labels, label{
				opcode: wasm.OpIf, instrIdx: pc,
				height: len(f.stack), arity: blockArity(imm.Type),
			})
			if cond.I32() == 0 {
				if elseIdx := code.ctrl[pc].Else; elseIdx >= 0 {
					pc = int(elseIdx)
				} else {
					f.labels = f.labels[:len(f.labels)-1]
					pc = int(code.ctrl[pc].End)
				}
			}

		case wasm.OpElse:
			// Reached from the end of a taken then-branch
			l := f.labels[len(f.labels)-1]
			f.labels = f.labels[:len(f.labels)-1]
			pc = int(code.ctrl[l.instrIdx].End)

		case wasm.OpEnd:
			if len(f.labels) > 0 {
				f.labels = f.labels[:len(f.labels)-1]
			}

		case wasm.OpBr:
			imm := instr.Imm.(wasm.BranchImm)
			if next := branchTo(int(imm.LabelIdx)); next >= 0 {
				pc = next
			} else {
				return it.returnResults(f, code), nil
			}

		case wasm.OpBrIf:
			imm := instr.Imm.(wasm.BranchImm)
			if f.pop().I32() != 0 {
				if next := branchTo(int(imm.LabelIdx)); next >= 0 {
					pc = next
				} else {
					return it.returnResults(f, code), nil
				}
			}

		case wasm.OpBrTable:
			imm := instr.Imm.(wasm.BrTableImm)
			n := f.pop().U32()
			depth := imm.Default
			if uint64(n) < uint64(len(imm.Labels)) {
				depth = imm.Labels[n]
			}
			if next := branchTo(int(depth)); next >= 0 {
				pc = next
			} else {
				return it.returnResults(f, code), nil
			}

		case wasm.OpReturn:
			return it.returnResults(f, code), nil

		case wasm.OpCall:
			imm := instr.Imm.(wasm.CallImm)
			callee := it.store.Functions[inst.FuncAddrs[imm.FuncIdx]]
			if err := it.invoke(ctx, callee, f, inst); err != nil {
				return nil, err
			}

		case wasm.OpCallIndirect:
			imm := instr.Imm.(wasm.CallIndirectImm)
			elemIdx := f.pop().U32()
			table := it.store.Tables[inst.TableAddrs[0]]
			if uint64(elemIdx) >= uint64(len(table.Elems)) {
				return nil, &Trap{Code: TrapTableOutOfBounds, Func: fn.Name}
			}
			addr := table.Elems[elemIdx]
			if addr < 0 {
				return nil, &Trap{Code: TrapUninitializedElement, Func: fn.Name}
			}
			callee := it.store.Functions[addr]
			if !callee.Type.Equal(inst.Module.Types[imm.TypeIdx]) {
				return nil, &Trap{Code: TrapIndirectCallTypeMismatch, Func: fn.Name}
			}
			if err := it.invoke(ctx, callee, f, inst); err != nil {
				return nil, err
			}

		case wasm.OpDrop:
			f.pop()

		case wasm.OpSelect:
			cond := f.pop()
			b := f.pop()
			a := f.pop()
			if cond.I32() != 0 {
				f.push(a)
			} else {
				f.push(b)
			}

		case wasm.OpLocalGet:
			imm := instr.Imm.(wasm.LocalImm)
			f.push(locals[imm.LocalIdx])

		case wasm.OpLocalSet:
			imm := instr.Imm.(wasm.LocalImm)
			locals[imm.LocalIdx] = f.pop()

		case wasm.OpLocalTee:
			imm := instr.Imm.(wasm.LocalImm)
			locals[imm.LocalIdx] = f.stack[len(f.stack)-1]

		case wasm.OpGlobalGet:
			imm := instr.Imm.(wasm.GlobalImm)
			f.push(it.store.Globals[inst.GlobalAddrs[imm.GlobalIdx]].Val)

		case wasm.OpGlobalSet:
			imm := instr.Imm.(wasm.GlobalImm)
			it.store.Globals[inst.GlobalAddrs[imm.GlobalIdx]].Val = f.pop()

		case wasm.OpMemorySize:
			mem := it.store.Memories[inst.MemAddrs[0]]
			f.push(I32Value(int32(mem.Pages())))

		case wasm.OpMemoryGrow:
			mem := it.store.Memories[inst.MemAddrs[0]]
			delta := f.pop().U32()
			f.push(I32Value(mem.Grow(delta)))

		case wasm.OpI32Const:
			f.push(I32Value(instr.Imm.(wasm.I32Imm).Value))
		case wasm.OpI64Const:
			f.push(I64Value(instr.Imm.(wasm.I64Imm).Value))
		case wasm.OpF32Const:
			f.push(F32Value(instr.Imm.(wasm.F32Imm).Value))
		case wasm.OpF64Const:
			f.push(F64Value(instr.Imm.(wasm.F64Imm).Value))

		case wasm.OpI32Load, wasm.OpI64Load, wasm.OpF32Load, wasm.OpF64Load,
			wasm.OpI32Load8S, wasm.OpI32Load8U, wasm.OpI32Load16S, wasm.OpI32Load16U,
			wasm.OpI64Load8S, wasm.OpI64Load8U, wasm.OpI64Load16S, wasm.OpI64Load16U,
			wasm.OpI64Load32S, wasm.OpI64Load32U:
			imm := instr.Imm.(wasm.MemoryImm)
			mem := it.store.Memories[inst.MemAddrs[0]]
			base := f.pop().U32()
			v, ok := loadValue(mem, instr.Opcode, base, imm.Offset)
			if !ok {
				return nil, &Trap{Code: TrapMemoryOutOfBounds, Func: fn.Name}
			}
			f.push(v)

		case wasm.OpI32Store, wasm.OpI64Store, wasm.OpF32Store, wasm.OpF64Store,
			wasm.OpI32Store8, wasm.OpI32Store16, wasm.OpI64Store8, wasm.OpI64Store16,
			wasm.OpI64Store32:
			imm := instr.Imm.(wasm.MemoryImm)
			mem := it.store.Memories[inst.MemAddrs[0]]
			val := f.pop()
			base := f.pop().U32()
			if !storeValue(mem, instr.Opcode, base, imm.Offset, val) {
				return nil, &Trap{Code: TrapMemoryOutOfBounds, Func: fn.Name}
			}

		default:
			v, trap := applyNumeric(instr.Opcode, f)
			if trap != nil {
				trap.Func = fn.Name
				return nil, trap
			}
			f.push(v)
		}

		// Loop back-edges re-check for cancellation so runaway guest
		// code can be stopped from the host side.
		if pc >= 0 && pc < len(body) && body[pc].Opcode == wasm.OpLoop {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}

	return it.returnResults(f, code), nil
}

func (it *interpreter) returnResults(f *execFrame, code *compiledFunc) []Value {
	n := len(code.typ.Results)
	results := make([]Value, n)
	copy(results, f.stack[len(f.stack)-n:])
	return results
}

// invoke pops arguments for the callee, calls it, and pushes the results.
func (it *interpreter) invoke(ctx context.Context, callee *FunctionInstance, f *execFrame, caller *ModuleInstance) error {
	nArgs := len(callee.Type.Params)
	args := make([]Value, nArgs)
	copy(args, f.stack[len(f.stack)-nArgs:])
	f.stack = f.stack[:len(f.stack)-nArgs]

	results, err := it.call(ctx, callee, args, caller)
	if err != nil {
		return err
	}
	f.stack = append(f.stack, results...)
	return nil
}

func loadValue(mem *MemoryInstance, op byte, base, offset uint32) (Value, bool) {
	switch op {
	case wasm.OpI32Load:
		b, ok := mem.Read(base, offset, 4)
		if !ok {
			return Value{}, false
		}
		return I32Value(int32(binary.LittleEndian.Uint32(b))), true
	case wasm.OpI64Load:
		b, ok := mem.Read(base, offset, 8)
		if !ok {
			return Value{}, false
		}
		return I64Value(int64(binary.LittleEndian.Uint64(b))), true
	case wasm.OpF32Load:
		b, ok := mem.Read(base, offset, 4)
		if !ok {
			return Value{}, false
		}
		return F32Value(math.Float32frombits(binary.LittleEndian.Uint32(b))), true
	case wasm.OpF64Load:
		b, ok := mem.Read(base, offset, 8)
		if !ok {
			return Value{}, false
		}
		return F64Value(math.Float64frombits(binary.LittleEndian.Uint64(b))), true
	case wasm.OpI32Load8S:
		b, ok := mem.Read(base, offset, 1)
		if !ok {
			return Value{}, false
		}
		return I32Value(int32(int8(b[0]))), true
	case wasm.OpI32Load8U:
		b, ok := mem.Read(base, offset, 1)
		if !ok {
			return Value{}, false
		}
		return I32Value(int32(uint32(b[0]))), true
	case wasm.OpI32Load16S:
		b, ok := mem.Read(base, offset, 2)
		if !ok {
			return Value{}, false
		}
		return I32Value(int32(int16(binary.LittleEndian.Uint16(b)))), true
	case wasm.OpI32Load16U:
		b, ok := mem.Read(base, offset, 2)
		if !ok {
			return Value{}, false
		}
		return I32Value(int32(uint32(binary.LittleEndian.Uint16(b)))), true
	case wasm.OpI64Load8S:
		b, ok := mem.Read(base, offset, 1)
		if !ok {
			return Value{}, false
		}
		return I64Value(int64(int8(b[0]))), true
	case wasm.OpI64Load8U:
		b, ok := mem.Read(base, offset, 1)
		if !ok {
			return Value{}, false
		}
		return I64Value(int64(uint64(b[0]))), true
	case wasm.OpI64Load16S:
		b, ok := mem.Read(base, offset, 2)
		if !ok {
			return Value{}, false
		}
		return I64Value(int64(int16(binary.LittleEndian.Uint16(b)))), true
	case wasm.OpI64Load16U:
		b, ok := mem.Read(base, offset, 2)
		if !ok {
			return Value{}, false
		}
		return I64Value(int64(uint64(binary.LittleEndian.Uint16(b)))), true
	case wasm.OpI64Load32S:
		b, ok := mem.Read(base, offset, 4)
		if !ok {
			return Value{}, false
		}
		return I64Value(int64(int32(binary.LittleEndian.Uint32(b)))), true
	case wasm.OpI64Load32U:
		b, ok := mem.Read(base, offset, 4)
		if !ok {
			return Value{}, false
		}
		return I64Value(int64(uint64(binary.LittleEndian.Uint32(b)))), true
	}
	return Value{}, false
}

func storeValue(mem *MemoryInstance, op byte, base, offset uint32, val Value) bool {
	var buf [8]byte
	switch op {
	case wasm.OpI32Store, wasm.OpF32Store:
		binary.LittleEndian.PutUint32(buf[:4], val.U32())
		return mem.Write(base, offset, buf[:4])
	case wasm.OpI64Store, wasm.OpF64Store:
		binary.LittleEndian.PutUint64(buf[:8], val.U64())
		return mem.Write(base, offset, buf[:8])
	case wasm.OpI32Store8, wasm.OpI64Store8:
		buf[0] = byte(val.U64())
		return mem.Write(base, offset, buf[:1])
	case wasm.OpI32Store16, wasm.OpI64Store16:
		binary.LittleEndian.PutUint16(buf[:2], uint16(val.U64()))
		return mem.Write(base, offset, buf[:2])
	case wasm.OpI64Store32:
		binary.LittleEndian.PutUint32(buf[:4], uint32(val.U64()))
		return mem.Write(base, offset, buf[:4])
	}
	return false
}
