package wasm_test

import (
	"testing"

	"github.com/motorwasm/motor/wasm"
)

func endOnly() []byte {
	return wasm.EncodeInstructions([]wasm.Instruction{{Opcode: wasm.OpEnd}})
}

func TestValidateOK(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{{}},
		Funcs: []uint32{0},
		Code:  []wasm.FuncBody{{Code: endOnly()}},
		Exports: []wasm.Export{
			{Name: "f", Kind: wasm.KindFunc, Idx: 0},
		},
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateMultipleResults(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Results: []wasm.ValType{wasm.ValI32, wasm.ValI32}},
		},
		Funcs: []uint32{0},
		Code:  []wasm.FuncBody{{Code: endOnly()}},
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for function type with two results")
	}
}

func TestValidateBadTypeIndex(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{{}},
		Funcs: []uint32{5},
		Code:  []wasm.FuncBody{{Code: endOnly()}},
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for out-of-range type index")
	}
}

func TestValidateBadExportIndex(t *testing.T) {
	m := &wasm.Module{
		Exports: []wasm.Export{{Name: "f", Kind: wasm.KindFunc, Idx: 0}},
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for export of missing function")
	}
}

func TestValidateDuplicateExports(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{{}},
		Funcs: []uint32{0, 0},
		Code:  []wasm.FuncBody{{Code: endOnly()}, {Code: endOnly()}},
		Exports: []wasm.Export{
			{Name: "f", Kind: wasm.KindFunc, Idx: 0},
			{Name: "f", Kind: wasm.KindFunc, Idx: 1},
		},
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for duplicate export names")
	}
}

func TestValidateMultipleMemories(t *testing.T) {
	m := &wasm.Module{
		Memories: []wasm.MemoryType{
			{Limits: wasm.Limits{Min: 1}},
			{Limits: wasm.Limits{Min: 1}},
		},
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for more than one memory")
	}
}

func TestValidateImportedPlusDeclaredMemory(t *testing.T) {
	m := &wasm.Module{
		Imports: []wasm.Import{
			{Module: "env", Name: "mem", Desc: wasm.ImportDesc{
				Kind:   wasm.KindMemory,
				Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: 1}},
			}},
		},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for imported plus declared memory")
	}
}

func TestValidateLimits(t *testing.T) {
	tests := []struct {
		name    string
		limits  wasm.Limits
		wantErr bool
	}{
		{"ok", wasm.Limits{Min: 1, Max: ptrTo(uint32(4))}, false},
		{"min exceeds max", wasm.Limits{Min: 4, Max: ptrTo(uint32(1))}, true},
		{"min exceeds page cap", wasm.Limits{Min: wasm.MemoryMaxPages + 1}, true},
		{"max exceeds page cap", wasm.Limits{Min: 1, Max: ptrTo(wasm.MemoryMaxPages + 1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &wasm.Module{Memories: []wasm.MemoryType{{Limits: tt.limits}}}
			err := m.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate: err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateStartSignature(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{{Params: []wasm.ValType{wasm.ValI32}}},
		Funcs: []uint32{0},
		Code:  []wasm.FuncBody{{Code: endOnly()}},
		Start: ptrTo(uint32(0)),
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for start function with parameters")
	}
}

func TestValidateGlobalInitTypeMismatch(t *testing.T) {
	m := &wasm.Module{
		Globals: []wasm.Global{
			{Type: wasm.GlobalType{ValType: wasm.ValI64}, Init: constI32(1)},
		},
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for i32 initializer on i64 global")
	}
}

func TestValidateGlobalInitLocalGlobalRef(t *testing.T) {
	// global.get in an initializer may only reference imported globals
	init := wasm.EncodeInstructions([]wasm.Instruction{
		{Opcode: wasm.OpGlobalGet, Imm: wasm.GlobalImm{GlobalIdx: 0}},
		{Opcode: wasm.OpEnd},
	})
	m := &wasm.Module{
		Globals: []wasm.Global{
			{Type: wasm.GlobalType{ValType: wasm.ValI32}, Init: constI32(1)},
			{Type: wasm.GlobalType{ValType: wasm.ValI32}, Init: init},
		},
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for global.get of non-imported global")
	}
}

func TestValidateGlobalInitMutableImport(t *testing.T) {
	init := wasm.EncodeInstructions([]wasm.Instruction{
		{Opcode: wasm.OpGlobalGet, Imm: wasm.GlobalImm{GlobalIdx: 0}},
		{Opcode: wasm.OpEnd},
	})
	m := &wasm.Module{
		Imports: []wasm.Import{
			{Module: "env", Name: "g", Desc: wasm.ImportDesc{
				Kind:   wasm.KindGlobal,
				Global: &wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
			}},
		},
		Globals: []wasm.Global{
			{Type: wasm.GlobalType{ValType: wasm.ValI32}, Init: init},
		},
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for initializer referencing mutable global")
	}
}

func TestValidateDataOffsetType(t *testing.T) {
	badOffset := wasm.EncodeInstructions([]wasm.Instruction{
		{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: 0}},
		{Opcode: wasm.OpEnd},
	})
	m := &wasm.Module{
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		Data: []wasm.DataSegment{
			{MemIdx: 0, Offset: badOffset, Init: []byte{1}},
		},
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for i64 data segment offset")
	}
}

func TestValidateElementFuncIndex(t *testing.T) {
	m := &wasm.Module{
		Tables: []wasm.TableType{{ElemType: wasm.ElemTypeFuncRef, Limits: wasm.Limits{Min: 1}}},
		Elements: []wasm.Element{
			{TableIdx: 0, Offset: constI32(0), FuncIdxs: []uint32{3}},
		},
	}
	if err := m.Validate(); err == nil {
		t.Error("expected error for element referencing missing function")
	}
}
