package wasm_test

import (
	"bytes"
	"testing"

	"github.com/motorwasm/motor/wasm"
)

func TestEncodeEmptyModule(t *testing.T) {
	m := &wasm.Module{}
	want := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
	if got := m.Encode(); !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestEncodeKnownBytes(t *testing.T) {
	// (module (func (export "answer") (result i32) i32.const 42))
	m := &wasm.Module{
		Types: []wasm.FuncType{{Results: []wasm.ValType{wasm.ValI32}}},
		Funcs: []uint32{0},
		Exports: []wasm.Export{
			{Name: "answer", Kind: wasm.KindFunc, Idx: 0},
		},
		Code: []wasm.FuncBody{
			{Code: wasm.EncodeInstructions([]wasm.Instruction{
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 42}},
				{Opcode: wasm.OpEnd},
			})},
		},
	}
	want := []byte{
		0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00,
		0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7F, // type section
		0x03, 0x02, 0x01, 0x00, // function section
		0x07, 0x0A, 0x01, 0x06, 'a', 'n', 's', 'w', 'e', 'r', 0x00, 0x00, // export section
		0x0A, 0x06, 0x01, 0x04, 0x00, 0x41, 0x2A, 0x0B, // code section
	}
	if got := m.Encode(); !bytes.Equal(got, want) {
		t.Errorf("encoding mismatch:\ngot  %v\nwant %v", got, want)
	}
}

func TestEncodeParseStable(t *testing.T) {
	// Encoding a parsed module again must produce identical bytes.
	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValF64}, Results: []wasm.ValType{wasm.ValF64}},
		},
		Funcs:    []uint32{0},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		Globals: []wasm.Global{
			{Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true}, Init: constI32(7)},
		},
		Code: []wasm.FuncBody{
			{Code: wasm.EncodeInstructions([]wasm.Instruction{
				{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
				{Opcode: wasm.OpF64Sqrt},
				{Opcode: wasm.OpEnd},
			})},
		},
	}
	first := m.Encode()
	parsed, err := wasm.ParseModule(first)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	second := parsed.Encode()
	if !bytes.Equal(first, second) {
		t.Error("parse/encode round trip changed bytes")
	}
}
