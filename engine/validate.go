package engine

import (
	"fmt"

	"github.com/motorwasm/motor/wasm"
)

// unknownType is the polymorphic stack slot produced by unreachable code.
const unknownType wasm.ValType = 0

// ctrlFrame tracks one entry of the control stack during function body
// validation. The bottom frame represents the function itself.
type ctrlFrame struct {
	out         []wasm.ValType
	height      int
	instrIdx    int // opening instruction, -1 for the function frame
	opcode      byte
	unreachable bool
}

// labelTypes returns the types a branch to this frame must provide: the
// result types for blocks and ifs, nothing for loops.
func (f *ctrlFrame) labelTypes() []wasm.ValType {
	if f.opcode == wasm.OpLoop {
		return nil
	}
	return f.out
}

type funcValidator struct {
	m      *wasm.Module
	fn     *compiledFunc
	locals []wasm.ValType
	vals   []wasm.ValType
	ctrls  []ctrlFrame
}

// validateFunc type checks a function body and fills in the control flow
// targets used by the interpreter.
func validateFunc(m *wasm.Module, fn *compiledFunc) error {
	v := &funcValidator{m: m, fn: fn}
	v.locals = append(append([]wasm.ValType{}, fn.typ.Params...), fn.locals...)
	v.ctrls = []ctrlFrame{{out: fn.typ.Results, instrIdx: -1}}

	for i := range fn.body {
		if len(v.ctrls) == 0 {
			return fmt.Errorf("instruction %d after function end", i)
		}
		if err := v.check(i, &fn.body[i]); err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
	}
	if len(v.ctrls) != 0 {
		return fmt.Errorf("function body missing end")
	}
	return nil
}

func (v *funcValidator) pushVal(t wasm.ValType) {
	v.vals = append(v.vals, t)
}

func (v *funcValidator) popVal() (wasm.ValType, error) {
	frame := &v.ctrls[len(v.ctrls)-1]
	if len(v.vals) == frame.height {
		if frame.unreachable {
			return unknownType, nil
		}
		return 0, fmt.Errorf("operand stack underflow")
	}
	t := v.vals[len(v.vals)-1]
	v.vals = v.vals[:len(v.vals)-1]
	return t, nil
}

func (v *funcValidator) popExpect(want wasm.ValType) error {
	got, err := v.popVal()
	if err != nil {
		return err
	}
	if got != want && got != unknownType && want != unknownType {
		return fmt.Errorf("type mismatch: expected %s, got %s", want, got)
	}
	return nil
}

func (v *funcValidator) popVals(types []wasm.ValType) error {
	for i := len(types) - 1; i >= 0; i-- {
		if err := v.popExpect(types[i]); err != nil {
			return err
		}
	}
	return nil
}

func (v *funcValidator) pushVals(types []wasm.ValType) {
	for _, t := range types {
		v.pushVal(t)
	}
}

func (v *funcValidator) pushCtrl(opcode byte, instrIdx int, out []wasm.ValType) {
	v.ctrls = append(v.ctrls, ctrlFrame{
		opcode:   opcode,
		instrIdx: instrIdx,
		out:      out,
		height:   len(v.vals),
	})
}

func (v *funcValidator) popCtrl() (ctrlFrame, error) {
	frame := v.ctrls[len(v.ctrls)-1]
	if err := v.popVals(frame.out); err != nil {
		return frame, err
	}
	if len(v.vals) != frame.height {
		return frame, fmt.Errorf("%d values left on stack at end of block", len(v.vals)-frame.height)
	}
	v.ctrls = v.ctrls[:len(v.ctrls)-1]
	return frame, nil
}

// setUnreachable marks the rest of the current block as stack-polymorphic.
func (v *funcValidator) setUnreachable() {
	frame := &v.ctrls[len(v.ctrls)-1]
	v.vals = v.vals[:frame.height]
	frame.unreachable = true
}

func (v *funcValidator) frameAt(depth uint32) (*ctrlFrame, error) {
	if int(depth) >= len(v.ctrls) {
		return nil, fmt.Errorf("branch depth %d exceeds block nesting %d", depth, len(v.ctrls))
	}
	return &v.ctrls[len(v.ctrls)-1-int(depth)], nil
}

func (v *funcValidator) localType(idx uint32) (wasm.ValType, error) {
	if int(idx) >= len(v.locals) {
		return 0, fmt.Errorf("local index %d out of range (have %d)", idx, len(v.locals))
	}
	return v.locals[idx], nil
}

func (v *funcValidator) globalType(idx uint32) (wasm.GlobalType, error) {
	imported := v.m.ImportedGlobalTypes()
	if int(idx) < len(imported) {
		return imported[idx], nil
	}
	declared := int(idx) - len(imported)
	if declared >= len(v.m.Globals) {
		return wasm.GlobalType{}, fmt.Errorf("global index %d out of range", idx)
	}
	return v.m.Globals[declared].Type, nil
}

func (v *funcValidator) hasMemory() bool {
	return v.m.NumImportedMemories()+len(v.m.Memories) > 0
}

func (v *funcValidator) hasTable() bool {
	return v.m.NumImportedTables()+len(v.m.Tables) > 0
}

func blockResults(bt int32) []wasm.ValType {
	switch bt {
	case wasm.BlockTypeI32:
		return []wasm.ValType{wasm.ValI32}
	case wasm.BlockTypeI64:
		return []wasm.ValType{wasm.ValI64}
	case wasm.BlockTypeF32:
		return []wasm.ValType{wasm.ValF32}
	case wasm.BlockTypeF64:
		return []wasm.ValType{wasm.ValF64}
	}
	return nil
}

func (v *funcValidator) check(i int, instr *wasm.Instruction) error {
	switch instr.Opcode {
	case wasm.OpUnreachable:
		v.setUnreachable()

	case wasm.OpNop:

	case wasm.OpBlock, wasm.OpLoop:
		imm := instr.Imm.(wasm.BlockImm)
		v.pushCtrl(instr.Opcode, i, blockResults(imm.Type))

	case wasm.OpIf:
		imm := instr.Imm.(wasm.BlockImm)
		if err := v.popExpect(wasm.ValI32); err != nil {
			return err
		}
		v.pushCtrl(wasm.OpIf, i, blockResults(imm.Type))

	case wasm.OpElse:
		frame := &v.ctrls[len(v.ctrls)-1]
		if frame.opcode != wasm.OpIf {
			return fmt.Errorf("else without matching if")
		}
		if err := v.popVals(frame.out); err != nil {
			return err
		}
		if len(v.vals) != frame.height {
			return fmt.Errorf("%d values left on stack before else", len(v.vals)-frame.height)
		}
		v.fn.ctrl[frame.instrIdx].Else = int32(i)
		frame.opcode = wasm.OpElse
		frame.unreachable = false

	case wasm.OpEnd:
		frame, err := v.popCtrl()
		if err != nil {
			return err
		}
		if frame.instrIdx >= 0 {
			v.fn.ctrl[frame.instrIdx].End = int32(i)
			if frame.opcode == wasm.OpElse {
				v.fn.ctrl[v.fn.ctrl[frame.instrIdx].Else].End = int32(i)
			} else if frame.opcode == wasm.OpIf && len(frame.out) > 0 {
				return fmt.Errorf("if with result type %s has no else", frame.out[0])
			}
		}
		v.pushVals(frame.out)

	case wasm.OpBr:
		imm := instr.Imm.(wasm.BranchImm)
		frame, err := v.frameAt(imm.LabelIdx)
		if err != nil {
			return err
		}
		if err := v.popVals(frame.labelTypes()); err != nil {
			return err
		}
		v.setUnreachable()

	case wasm.OpBrIf:
		imm := instr.Imm.(wasm.BranchImm)
		if err := v.popExpect(wasm.ValI32); err != nil {
			return err
		}
		frame, err := v.frameAt(imm.LabelIdx)
		if err != nil {
			return err
		}
		types := frame.labelTypes()
		if err := v.popVals(types); err != nil {
			return err
		}
		v.pushVals(types)

	case wasm.OpBrTable:
		imm := instr.Imm.(wasm.BrTableImm)
		if err := v.popExpect(wasm.ValI32); err != nil {
			return err
		}
		def, err := v.frameAt(imm.Default)
		if err != nil {
			return err
		}
		defTypes := def.labelTypes()
		for _, label := range imm.Labels {
			frame, err := v.frameAt(label)
			if err != nil {
				return err
			}
			types := frame.labelTypes()
			if len(types) != len(defTypes) {
				return fmt.Errorf("br_table targets have inconsistent arity")
			}
			for j := range types {
				if types[j] != defTypes[j] {
					return fmt.Errorf("br_table targets have inconsistent types")
				}
			}
		}
		if err := v.popVals(defTypes); err != nil {
			return err
		}
		v.setUnreachable()

	case wasm.OpReturn:
		if err := v.popVals(v.fn.typ.Results); err != nil {
			return err
		}
		v.setUnreachable()

	case wasm.OpCall:
		imm := instr.Imm.(wasm.CallImm)
		ft := v.m.GetFuncType(imm.FuncIdx)
		if ft == nil {
			return fmt.Errorf("call to undefined function %d", imm.FuncIdx)
		}
		if err := v.popVals(ft.Params); err != nil {
			return err
		}
		v.pushVals(ft.Results)

	case wasm.OpCallIndirect:
		imm := instr.Imm.(wasm.CallIndirectImm)
		if !v.hasTable() {
			return fmt.Errorf("call_indirect without a table")
		}
		if int(imm.TypeIdx) >= len(v.m.Types) {
			return fmt.Errorf("call_indirect type index %d out of range", imm.TypeIdx)
		}
		if err := v.popExpect(wasm.ValI32); err != nil {
			return err
		}
		ft := v.m.Types[imm.TypeIdx]
		if err := v.popVals(ft.Params); err != nil {
			return err
		}
		v.pushVals(ft.Results)

	case wasm.OpDrop:
		if _, err := v.popVal(); err != nil {
			return err
		}

	case wasm.OpSelect:
		if err := v.popExpect(wasm.ValI32); err != nil {
			return err
		}
		t1, err := v.popVal()
		if err != nil {
			return err
		}
		t2, err := v.popVal()
		if err != nil {
			return err
		}
		if t1 != t2 && t1 != unknownType && t2 != unknownType {
			return fmt.Errorf("select operands have different types: %s and %s", t2, t1)
		}
		if t1 == unknownType {
			v.pushVal(t2)
		} else {
			v.pushVal(t1)
		}

	case wasm.OpLocalGet:
		imm := instr.Imm.(wasm.LocalImm)
		t, err := v.localType(imm.LocalIdx)
		if err != nil {
			return err
		}
		v.pushVal(t)

	case wasm.OpLocalSet:
		imm := instr.Imm.(wasm.LocalImm)
		t, err := v.localType(imm.LocalIdx)
		if err != nil {
			return err
		}
		if err := v.popExpect(t); err != nil {
			return err
		}

	case wasm.OpLocalTee:
		imm := instr.Imm.(wasm.LocalImm)
		t, err := v.localType(imm.LocalIdx)
		if err != nil {
			return err
		}
		if err := v.popExpect(t); err != nil {
			return err
		}
		v.pushVal(t)

	case wasm.OpGlobalGet:
		imm := instr.Imm.(wasm.GlobalImm)
		gt, err := v.globalType(imm.GlobalIdx)
		if err != nil {
			return err
		}
		v.pushVal(gt.ValType)

	case wasm.OpGlobalSet:
		imm := instr.Imm.(wasm.GlobalImm)
		gt, err := v.globalType(imm.GlobalIdx)
		if err != nil {
			return err
		}
		if !gt.Mutable {
			return fmt.Errorf("global.set of immutable global %d", imm.GlobalIdx)
		}
		if err := v.popExpect(gt.ValType); err != nil {
			return err
		}

	case wasm.OpMemorySize:
		if !v.hasMemory() {
			return fmt.Errorf("memory.size without a memory")
		}
		v.pushVal(wasm.ValI32)

	case wasm.OpMemoryGrow:
		if !v.hasMemory() {
			return fmt.Errorf("memory.grow without a memory")
		}
		if err := v.popExpect(wasm.ValI32); err != nil {
			return err
		}
		v.pushVal(wasm.ValI32)

	case wasm.OpI32Const:
		v.pushVal(wasm.ValI32)
	case wasm.OpI64Const:
		v.pushVal(wasm.ValI64)
	case wasm.OpF32Const:
		v.pushVal(wasm.ValF32)
	case wasm.OpF64Const:
		v.pushVal(wasm.ValF64)

	default:
		if t, maxAlign, isStore, width, ok := memAccess(instr.Opcode); ok {
			if !v.hasMemory() {
				return fmt.Errorf("memory access without a memory")
			}
			imm := instr.Imm.(wasm.MemoryImm)
			if imm.Align > maxAlign {
				return fmt.Errorf("alignment %d exceeds natural alignment of %d-byte access", imm.Align, width)
			}
			if isStore {
				if err := v.popExpect(t); err != nil {
					return err
				}
				if err := v.popExpect(wasm.ValI32); err != nil {
					return err
				}
			} else {
				if err := v.popExpect(wasm.ValI32); err != nil {
					return err
				}
				v.pushVal(t)
			}
			return nil
		}
		return v.checkNumeric(instr.Opcode)
	}
	return nil
}

// memAccess returns the value type, the maximum alignment exponent, the
// access width in bytes, and whether the opcode is a store.
func memAccess(op byte) (t wasm.ValType, maxAlign uint32, isStore bool, width int, ok bool) {
	switch op {
	case wasm.OpI32Load:
		return wasm.ValI32, 2, false, 4, true
	case wasm.OpI64Load:
		return wasm.ValI64, 3, false, 8, true
	case wasm.OpF32Load:
		return wasm.ValF32, 2, false, 4, true
	case wasm.OpF64Load:
		return wasm.ValF64, 3, false, 8, true
	case wasm.OpI32Load8S, wasm.OpI32Load8U:
		return wasm.ValI32, 0, false, 1, true
	case wasm.OpI32Load16S, wasm.OpI32Load16U:
		return wasm.ValI32, 1, false, 2, true
	case wasm.OpI64Load8S, wasm.OpI64Load8U:
		return wasm.ValI64, 0, false, 1, true
	case wasm.OpI64Load16S, wasm.OpI64Load16U:
		return wasm.ValI64, 1, false, 2, true
	case wasm.OpI64Load32S, wasm.OpI64Load32U:
		return wasm.ValI64, 2, false, 4, true
	case wasm.OpI32Store:
		return wasm.ValI32, 2, true, 4, true
	case wasm.OpI64Store:
		return wasm.ValI64, 3, true, 8, true
	case wasm.OpF32Store:
		return wasm.ValF32, 2, true, 4, true
	case wasm.OpF64Store:
		return wasm.ValF64, 3, true, 8, true
	case wasm.OpI32Store8:
		return wasm.ValI32, 0, true, 1, true
	case wasm.OpI32Store16:
		return wasm.ValI32, 1, true, 2, true
	case wasm.OpI64Store8:
		return wasm.ValI64, 0, true, 1, true
	case wasm.OpI64Store16:
		return wasm.ValI64, 1, true, 2, true
	case wasm.OpI64Store32:
		return wasm.ValI64, 2, true, 4, true
	}
	return 0, 0, false, 0, false
}

// checkNumeric handles the uniform numeric instruction families.
func (v *funcValidator) checkNumeric(op byte) error {
	unop := func(t wasm.ValType) error {
		if err := v.popExpect(t); err != nil {
			return err
		}
		v.pushVal(t)
		return nil
	}
	binop := func(t wasm.ValType) error {
		if err := v.popExpect(t); err != nil {
			return err
		}
		if err := v.popExpect(t); err != nil {
			return err
		}
		v.pushVal(t)
		return nil
	}
	testop := func(t wasm.ValType) error {
		if err := v.popExpect(t); err != nil {
			return err
		}
		v.pushVal(wasm.ValI32)
		return nil
	}
	relop := func(t wasm.ValType) error {
		if err := v.popExpect(t); err != nil {
			return err
		}
		if err := v.popExpect(t); err != nil {
			return err
		}
		v.pushVal(wasm.ValI32)
		return nil
	}
	cvtop := func(from, to wasm.ValType) error {
		if err := v.popExpect(from); err != nil {
			return err
		}
		v.pushVal(to)
		return nil
	}

	switch op {
	case wasm.OpI32Eqz:
		return testop(wasm.ValI32)
	case wasm.OpI64Eqz:
		return testop(wasm.ValI64)

	case wasm.OpI32Eq, wasm.OpI32Ne, wasm.OpI32LtS, wasm.OpI32LtU, wasm.OpI32GtS,
		wasm.OpI32GtU, wasm.OpI32LeS, wasm.OpI32LeU, wasm.OpI32GeS, wasm.OpI32GeU:
		return relop(wasm.ValI32)
	case wasm.OpI64Eq, wasm.OpI64Ne, wasm.OpI64LtS, wasm.OpI64LtU, wasm.OpI64GtS,
		wasm.OpI64GtU, wasm.OpI64LeS, wasm.OpI64LeU, wasm.OpI64GeS, wasm.OpI64GeU:
		return relop(wasm.ValI64)
	case wasm.OpF32Eq, wasm.OpF32Ne, wasm.OpF32Lt, wasm.OpF32Gt, wasm.OpF32Le, wasm.OpF32Ge:
		return relop(wasm.ValF32)
	case wasm.OpF64Eq, wasm.OpF64Ne, wasm.OpF64Lt, wasm.OpF64Gt, wasm.OpF64Le, wasm.OpF64Ge:
		return relop(wasm.ValF64)

	case wasm.OpI32Clz, wasm.OpI32Ctz, wasm.OpI32Popcnt:
		return unop(wasm.ValI32)
	case wasm.OpI64Clz, wasm.OpI64Ctz, wasm.OpI64Popcnt:
		return unop(wasm.ValI64)

	case wasm.OpI32Add, wasm.OpI32Sub, wasm.OpI32Mul, wasm.OpI32DivS, wasm.OpI32DivU,
		wasm.OpI32RemS, wasm.OpI32RemU, wasm.OpI32And, wasm.OpI32Or, wasm.OpI32Xor,
		wasm.OpI32Shl, wasm.OpI32ShrS, wasm.OpI32ShrU, wasm.OpI32Rotl, wasm.OpI32Rotr:
		return binop(wasm.ValI32)
	case wasm.OpI64Add, wasm.OpI64Sub, wasm.OpI64Mul, wasm.OpI64DivS, wasm.OpI64DivU,
		wasm.OpI64RemS, wasm.OpI64RemU, wasm.OpI64And, wasm.OpI64Or, wasm.OpI64Xor,
		wasm.OpI64Shl, wasm.OpI64ShrS, wasm.OpI64ShrU, wasm.OpI64Rotl, wasm.OpI64Rotr:
		return binop(wasm.ValI64)

	case wasm.OpF32Abs, wasm.OpF32Neg, wasm.OpF32Ceil, wasm.OpF32Floor, wasm.OpF32Trunc,
		wasm.OpF32Nearest, wasm.OpF32Sqrt:
		return unop(wasm.ValF32)
	case wasm.OpF64Abs, wasm.OpF64Neg, wasm.OpF64Ceil, wasm.OpF64Floor, wasm.OpF64Trunc,
		wasm.OpF64Nearest, wasm.OpF64Sqrt:
		return unop(wasm.ValF64)

	case wasm.OpF32Add, wasm.OpF32Sub, wasm.OpF32Mul, wasm.OpF32Div, wasm.OpF32Min,
		wasm.OpF32Max, wasm.OpF32Copysign:
		return binop(wasm.ValF32)
	case wasm.OpF64Add, wasm.OpF64Sub, wasm.OpF64Mul, wasm.OpF64Div, wasm.OpF64Min,
		wasm.OpF64Max, wasm.OpF64Copysign:
		return binop(wasm.ValF64)

	case wasm.OpI32WrapI64:
		return cvtop(wasm.ValI64, wasm.ValI32)
	case wasm.OpI32TruncF32S, wasm.OpI32TruncF32U:
		return cvtop(wasm.ValF32, wasm.ValI32)
	case wasm.OpI32TruncF64S, wasm.OpI32TruncF64U:
		return cvtop(wasm.ValF64, wasm.ValI32)
	case wasm.OpI64ExtendI32S, wasm.OpI64ExtendI32U:
		return cvtop(wasm.ValI32, wasm.ValI64)
	case wasm.OpI64TruncF32S, wasm.OpI64TruncF32U:
		return cvtop(wasm.ValF32, wasm.ValI64)
	case wasm.OpI64TruncF64S, wasm.OpI64TruncF64U:
		return cvtop(wasm.ValF64, wasm.ValI64)
	case wasm.OpF32ConvertI32S, wasm.OpF32ConvertI32U:
		return cvtop(wasm.ValI32, wasm.ValF32)
	case wasm.OpF32ConvertI64S, wasm.OpF32ConvertI64U:
		return cvtop(wasm.ValI64, wasm.ValF32)
	case wasm.OpF32DemoteF64:
		return cvtop(wasm.ValF64, wasm.ValF32)
	case wasm.OpF64ConvertI32S, wasm.OpF64ConvertI32U:
		return cvtop(wasm.ValI32, wasm.ValF64)
	case wasm.OpF64ConvertI64S, wasm.OpF64ConvertI64U:
		return cvtop(wasm.ValI64, wasm.ValF64)
	case wasm.OpF64PromoteF32:
		return cvtop(wasm.ValF32, wasm.ValF64)
	case wasm.OpI32ReinterpretF32:
		return cvtop(wasm.ValF32, wasm.ValI32)
	case wasm.OpI64ReinterpretF64:
		return cvtop(wasm.ValF64, wasm.ValI64)
	case wasm.OpF32ReinterpretI32:
		return cvtop(wasm.ValI32, wasm.ValF32)
	case wasm.OpF64ReinterpretI64:
		return cvtop(wasm.ValI64, wasm.ValF64)
	}
	return fmt.Errorf("unhandled opcode 0x%02x", op)
}
