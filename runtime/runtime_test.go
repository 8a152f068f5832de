package runtime_test

import (
	"context"
	"errors"
	"testing"

	"github.com/motorwasm/motor/engine"
	"github.com/motorwasm/motor/runtime"
	"github.com/motorwasm/motor/wasm"
)

// addModule exports add(a, b) = a + b.
func addModule() []byte {
	m := &wasm.Module{
		Types: []wasm.FuncType{{
			Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
			Results: []wasm.ValType{wasm.ValI32},
		}},
		Funcs: []uint32{0},
		Code: []wasm.FuncBody{{Code: wasm.EncodeInstructions([]wasm.Instruction{
			{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
			{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 1}},
			{Opcode: wasm.OpI32Add},
			{Opcode: wasm.OpEnd},
		})}},
		Exports: []wasm.Export{{Name: "add", Kind: wasm.KindFunc, Idx: 0}},
	}
	return m.Encode()
}

// importingModule imports mod.fn with the given signature and exports
// run(x) forwarding to it.
func importingModule(mod, fn string, ft wasm.FuncType) []byte {
	m := &wasm.Module{
		Types: []wasm.FuncType{ft},
		Imports: []wasm.Import{{
			Module: mod, Name: fn,
			Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0},
		}},
		Funcs: []uint32{0},
		Exports: []wasm.Export{{Name: "run", Kind: wasm.KindFunc, Idx: 1}},
	}
	var body []wasm.Instruction
	for i := range ft.Params {
		body = append(body, wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: uint32(i)}})
	}
	body = append(body,
		wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 0}},
		wasm.Instruction{Opcode: wasm.OpEnd},
	)
	m.Code = []wasm.FuncBody{{Code: wasm.EncodeInstructions(body)}}
	return m.Encode()
}

func TestLoadAndCall(t *testing.T) {
	rt := runtime.New()
	mod, err := rt.LoadModule(addModule())
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	inst, err := mod.Instantiate(context.Background())
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	got, err := inst.Call(context.Background(), "add", engine.I32Value(40), engine.I32Value(2))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got[0].I32() != 42 {
		t.Errorf("add(40, 2) = %d, want 42", got[0].I32())
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	rt := runtime.New()
	if _, err := rt.LoadModule([]byte("not wasm at all")); err == nil {
		t.Error("expected decode error")
	}
}

func TestRegisterFuncSignatures(t *testing.T) {
	i32x2toi32 := wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	}

	t.Run("plain", func(t *testing.T) {
		rt := runtime.New()
		if err := rt.RegisterFunc("env", "mul", func(a, b int32) int32 { return a * b }); err != nil {
			t.Fatalf("RegisterFunc: %v", err)
		}
		inst := instantiateBytes(t, rt, importingModule("env", "mul", i32x2toi32))
		got := call(t, inst, "run", engine.I32Value(6), engine.I32Value(7))
		if got[0].I32() != 42 {
			t.Errorf("got %d, want 42", got[0].I32())
		}
	})

	t.Run("context and error", func(t *testing.T) {
		rt := runtime.New()
		sentinel := errors.New("sentinel")
		err := rt.RegisterFunc("env", "mul", func(ctx context.Context, a, b int32) (int32, error) {
			return 0, sentinel
		})
		if err != nil {
			t.Fatalf("RegisterFunc: %v", err)
		}
		inst := instantiateBytes(t, rt, importingModule("env", "mul", i32x2toi32))
		_, callErr := inst.Call(context.Background(), "run", engine.I32Value(1), engine.I32Value(2))
		if !errors.Is(callErr, sentinel) {
			t.Errorf("got %v, want wrapped sentinel", callErr)
		}
	})

	t.Run("caller reads guest memory", func(t *testing.T) {
		rt := runtime.New()
		var got byte
		err := rt.RegisterFunc("env", "peek", func(caller *engine.Caller, addr int32) int32 {
			b, ok := caller.Memory().Read(uint32(addr), 0, 1)
			if !ok {
				return -1
			}
			got = b[0]
			return int32(b[0])
		})
		if err != nil {
			t.Fatalf("RegisterFunc: %v", err)
		}

		m := &wasm.Module{
			Types: []wasm.FuncType{{
				Params:  []wasm.ValType{wasm.ValI32},
				Results: []wasm.ValType{wasm.ValI32},
			}},
			Imports: []wasm.Import{{
				Module: "env", Name: "peek",
				Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0},
			}},
			Funcs:    []uint32{0},
			Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
			Data: []wasm.DataSegment{{
				Offset: wasm.EncodeInstructions([]wasm.Instruction{
					{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 5}},
					{Opcode: wasm.OpEnd},
				}),
				Init: []byte{0x7F},
			}},
			Code: []wasm.FuncBody{{Code: wasm.EncodeInstructions([]wasm.Instruction{
				{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
				{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 0}},
				{Opcode: wasm.OpEnd},
			})}},
			Exports: []wasm.Export{{Name: "run", Kind: wasm.KindFunc, Idx: 1}},
		}
		inst := instantiateBytes(t, rt, m.Encode())
		res := call(t, inst, "run", engine.I32Value(5))
		if res[0].I32() != 0x7F || got != 0x7F {
			t.Errorf("peek(5) = %d (host saw %#x), want 127", res[0].I32(), got)
		}
	})

	t.Run("unsupported parameter type", func(t *testing.T) {
		rt := runtime.New()
		if err := rt.RegisterFunc("env", "bad", func(s string) {}); err == nil {
			t.Error("expected error for string parameter")
		}
	})

	t.Run("not a function", func(t *testing.T) {
		rt := runtime.New()
		if err := rt.RegisterFunc("env", "bad", 42); err == nil {
			t.Error("expected error for non-function handler")
		}
	})
}

type clockHost struct {
	now int64
}

func (h *clockHost) Namespace() string { return "clock" }

func (h *clockHost) NowMillis() int64 { return h.now }

func (h *clockHost) SetNow(v int64) { h.now = v }

func TestRegisterHostMethods(t *testing.T) {
	rt := runtime.New()
	if err := rt.RegisterHost(&clockHost{now: 1234}); err != nil {
		t.Fatalf("RegisterHost: %v", err)
	}
	ft := wasm.FuncType{Results: []wasm.ValType{wasm.ValI64}}
	inst := instantiateBytes(t, rt, importingModule("clock", "now_millis", ft))
	got := call(t, inst, "run")
	if got[0].I64() != 1234 {
		t.Errorf("now_millis() = %d, want 1234", got[0].I64())
	}
}

func TestInstanceLinking(t *testing.T) {
	rt := runtime.New()
	calc, err := rt.LoadModule(addModule())
	if err != nil {
		t.Fatalf("LoadModule calc: %v", err)
	}
	if _, err := calc.InstantiateNamed(context.Background(), "calc"); err != nil {
		t.Fatalf("InstantiateNamed: %v", err)
	}

	ft := wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	}
	inst := instantiateBytes(t, rt, importingModule("calc", "add", ft))
	got := call(t, inst, "run", engine.I32Value(20), engine.I32Value(22))
	if got[0].I32() != 42 {
		t.Errorf("got %d, want 42", got[0].I32())
	}
}

func TestRegisterMemoryImport(t *testing.T) {
	rt := runtime.New()
	mem := rt.RegisterMemory("env", "mem", wasm.MemoryType{Limits: wasm.Limits{Min: 1}})
	mem.Data[3] = 99

	m := &wasm.Module{
		Types: []wasm.FuncType{{Results: []wasm.ValType{wasm.ValI32}}},
		Imports: []wasm.Import{{
			Module: "env", Name: "mem",
			Desc: wasm.ImportDesc{
				Kind:   wasm.KindMemory,
				Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: 1}},
			},
		}},
		Funcs: []uint32{0},
		Code: []wasm.FuncBody{{Code: wasm.EncodeInstructions([]wasm.Instruction{
			{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 3}},
			{Opcode: wasm.OpI32Load8U, Imm: wasm.MemoryImm{}},
			{Opcode: wasm.OpEnd},
		})}},
		Exports: []wasm.Export{{Name: "run", Kind: wasm.KindFunc, Idx: 0}},
	}
	inst := instantiateBytes(t, rt, m.Encode())
	got := call(t, inst, "run")
	if got[0].I32() != 99 {
		t.Errorf("got %d, want 99", got[0].I32())
	}
}

func TestRegisterTableImport(t *testing.T) {
	rt := runtime.New()
	max := uint32(3)
	tab := rt.RegisterTable("env", "tab", wasm.TableType{
		ElemType: wasm.ElemTypeFuncRef,
		Limits:   wasm.Limits{Min: 1, Max: &max},
	})

	// growing the shared table lets it satisfy a larger import minimum
	if old := tab.Grow(1); old != 1 {
		t.Fatalf("Grow(1) = %d, want 1", old)
	}
	if len(tab.Elems) != 2 {
		t.Fatalf("table size = %d, want 2", len(tab.Elems))
	}

	m := &wasm.Module{
		Types: []wasm.FuncType{{Results: []wasm.ValType{wasm.ValI32}}},
		Imports: []wasm.Import{{
			Module: "env", Name: "tab",
			Desc: wasm.ImportDesc{
				Kind: wasm.KindTable,
				Table: &wasm.TableType{
					ElemType: wasm.ElemTypeFuncRef,
					Limits:   wasm.Limits{Min: 2},
				},
			},
		}},
		Funcs: []uint32{0},
		Elements: []wasm.Element{{
			TableIdx: 0,
			Offset: wasm.EncodeInstructions([]wasm.Instruction{
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 1}},
				{Opcode: wasm.OpEnd},
			}),
			FuncIdxs: []uint32{0},
		}},
		Code: []wasm.FuncBody{{Code: wasm.EncodeInstructions([]wasm.Instruction{
			{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 7}},
			{Opcode: wasm.OpEnd},
		})}},
		Exports: []wasm.Export{{Name: "run", Kind: wasm.KindFunc, Idx: 0}},
	}
	inst := instantiateBytes(t, rt, m.Encode())
	got := call(t, inst, "run")
	if got[0].I32() != 7 {
		t.Errorf("got %d, want 7", got[0].I32())
	}
	if tab.Elems[1] < 0 {
		t.Error("element segment did not reach the shared table")
	}

	// growing past the declared maximum fails and leaves the size alone
	if got := tab.Grow(2); got != -1 {
		t.Errorf("Grow past max = %d, want -1", got)
	}
	if len(tab.Elems) != 2 {
		t.Errorf("table size after failed grow = %d, want 2", len(tab.Elems))
	}
}

func TestModuleExportListing(t *testing.T) {
	rt := runtime.New()
	mod, err := rt.LoadModule(addModule())
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	funcs := mod.ExportedFunctions()
	if len(funcs) != 1 || funcs[0].Name != "add" {
		t.Fatalf("exports = %+v, want one function \"add\"", funcs)
	}
	want := "(i32, i32) -> i32"
	if got := funcs[0].Type.String(); got != want {
		t.Errorf("type = %q, want %q", got, want)
	}
}

func instantiateBytes(t *testing.T, rt *runtime.Runtime, data []byte) *runtime.Instance {
	t.Helper()
	mod, err := rt.LoadModule(data)
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	inst, err := mod.Instantiate(context.Background())
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	return inst
}

func call(t *testing.T, inst *runtime.Instance, name string, args ...engine.Value) []engine.Value {
	t.Helper()
	res, err := inst.Call(context.Background(), name, args...)
	if err != nil {
		t.Fatalf("Call %s: %v", name, err)
	}
	return res
}
