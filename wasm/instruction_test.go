package wasm_test

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/motorwasm/motor/wasm"
)

func TestDecodeInstructions(t *testing.T) {
	code := []byte{
		0x20, 0x00, // local.get 0
		0x20, 0x01, // local.get 1
		0x6A, // i32.add
		0x0B, // end
	}
	instrs, err := wasm.DecodeInstructions(code)
	if err != nil {
		t.Fatalf("DecodeInstructions: %v", err)
	}
	want := []wasm.Instruction{
		{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
		{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 1}},
		{Opcode: wasm.OpI32Add},
		{Opcode: wasm.OpEnd},
	}
	if !reflect.DeepEqual(instrs, want) {
		t.Errorf("got %+v, want %+v", instrs, want)
	}
}

func TestDecodeUnknownOpcode(t *testing.T) {
	_, err := wasm.DecodeInstructions([]byte{0xC0}) // sign-extension ops are not MVP
	if err == nil {
		t.Error("expected error for unknown opcode")
	}
}

func TestDecodeCallIndirectReservedByte(t *testing.T) {
	// call_indirect with nonzero reserved table byte
	_, err := wasm.DecodeInstructions([]byte{0x11, 0x00, 0x01, 0x0B})
	if err == nil {
		t.Error("expected error for nonzero reserved byte")
	}
}

func TestDecodeMemoryGrowReservedByte(t *testing.T) {
	_, err := wasm.DecodeInstructions([]byte{0x40, 0x01})
	if err == nil {
		t.Error("expected error for nonzero reserved byte")
	}
}

func TestDecodeTruncatedImmediate(t *testing.T) {
	_, err := wasm.DecodeInstructions([]byte{0x41}) // i32.const with no value
	if err == nil {
		t.Error("expected error for truncated immediate")
	}
}

func TestInstructionRoundTrip(t *testing.T) {
	instrs := []wasm.Instruction{
		{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: wasm.BlockTypeI32}},
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: -42}},
		{Opcode: wasm.OpBrIf, Imm: wasm.BranchImm{LabelIdx: 0}},
		{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: 1 << 40}},
		{Opcode: wasm.OpI32WrapI64},
		{Opcode: wasm.OpEnd},
		{Opcode: wasm.OpLoop, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}},
		{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: 0}},
		{Opcode: wasm.OpEnd},
		{Opcode: wasm.OpBrTable, Imm: wasm.BrTableImm{Labels: []uint32{0, 1}, Default: 2}},
		{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 3}},
		{Opcode: wasm.OpCallIndirect, Imm: wasm.CallIndirectImm{TypeIdx: 1}},
		{Opcode: wasm.OpI32Load, Imm: wasm.MemoryImm{Align: 2, Offset: 16}},
		{Opcode: wasm.OpI64Store8, Imm: wasm.MemoryImm{Align: 0, Offset: 0}},
		{Opcode: wasm.OpMemorySize},
		{Opcode: wasm.OpMemoryGrow},
		{Opcode: wasm.OpF32Const, Imm: wasm.F32Imm{Value: 1.5}},
		{Opcode: wasm.OpF64Const, Imm: wasm.F64Imm{Value: -0.25}},
		{Opcode: wasm.OpGlobalSet, Imm: wasm.GlobalImm{GlobalIdx: 7}},
		{Opcode: wasm.OpLocalTee, Imm: wasm.LocalImm{LocalIdx: 5}},
		{Opcode: wasm.OpSelect},
		{Opcode: wasm.OpEnd},
	}

	encoded := wasm.EncodeInstructions(instrs)
	decoded, err := wasm.DecodeInstructions(encoded)
	if err != nil {
		t.Fatalf("DecodeInstructions: %v", err)
	}
	if !reflect.DeepEqual(decoded, instrs) {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", decoded, instrs)
	}

	reencoded := wasm.EncodeInstructions(decoded)
	if !bytes.Equal(reencoded, encoded) {
		t.Error("re-encoding produced different bytes")
	}
}
