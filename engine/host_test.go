package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/motorwasm/motor/engine"
	"github.com/motorwasm/motor/wasm"
)

// hostCallModule imports env.f of the given type and exports run, which
// forwards its i32 argument to the import.
func hostCallModule() *wasm.Module {
	ft := wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	}
	return &wasm.Module{
		Types: []wasm.FuncType{ft},
		Imports: []wasm.Import{{
			Module: "env", Name: "f",
			Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0},
		}},
		Funcs: []uint32{0},
		Code: []wasm.FuncBody{{Code: wasm.EncodeInstructions([]wasm.Instruction{
			{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
			{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 0}},
			{Opcode: wasm.OpEnd},
		})}},
		Exports: []wasm.Export{{Name: "run", Kind: wasm.KindFunc, Idx: 1}},
	}
}

func instantiateWithHost(t *testing.T, m *wasm.Module, ft wasm.FuncType, fn engine.HostFunc) *engine.ModuleInstance {
	t.Helper()
	cm, err := engine.Compile(m)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	store := engine.NewStore()
	imports := engine.Imports{}
	imports.Add("env", "f", store.AllocateHostFunc(ft, "f", fn))
	inst, err := store.Instantiate(context.Background(), cm, "test", imports)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	return inst
}

var hostFt = wasm.FuncType{
	Params:  []wasm.ValType{wasm.ValI32},
	Results: []wasm.ValType{wasm.ValI32},
}

func TestHostFunctionCall(t *testing.T) {
	inst := instantiateWithHost(t, hostCallModule(), hostFt,
		func(ctx context.Context, caller *engine.Caller, args []engine.Value) ([]engine.Value, error) {
			return []engine.Value{engine.I32Value(args[0].I32() * 3)}, nil
		})
	got := run(t, inst, engine.I32Value(14))
	if got[0].I32() != 42 {
		t.Errorf("got %d, want 42", got[0].I32())
	}
}

func TestHostErrorBecomesTrap(t *testing.T) {
	boom := errors.New("boom")
	inst := instantiateWithHost(t, hostCallModule(), hostFt,
		func(ctx context.Context, caller *engine.Caller, args []engine.Value) ([]engine.Value, error) {
			return nil, boom
		})
	trap := runTrap(t, inst, engine.I32Value(0))
	if trap.Code != engine.TrapHostError {
		t.Errorf("got %v, want host error trap", trap.Code)
	}
	if !errors.Is(trap, boom) {
		t.Error("original host error should be wrapped")
	}
}

func TestHostTrapPassesThrough(t *testing.T) {
	inst := instantiateWithHost(t, hostCallModule(), hostFt,
		func(ctx context.Context, caller *engine.Caller, args []engine.Value) ([]engine.Value, error) {
			return nil, engine.NewTrap(engine.TrapMemoryOutOfBounds)
		})
	trap := runTrap(t, inst, engine.I32Value(0))
	if trap.Code != engine.TrapMemoryOutOfBounds {
		t.Errorf("got %v, want the host's own trap code", trap.Code)
	}
}

func TestHostResultArityChecked(t *testing.T) {
	inst := instantiateWithHost(t, hostCallModule(), hostFt,
		func(ctx context.Context, caller *engine.Caller, args []engine.Value) ([]engine.Value, error) {
			return nil, nil // declared one result, returns none
		})
	_, err := inst.Call(context.Background(), "run", engine.I32Value(0))
	if err == nil {
		t.Fatal("expected error for wrong result arity")
	}
}

func TestHostSeesCallerMemory(t *testing.T) {
	m := hostCallModule()
	m.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}}
	m.Data = []wasm.DataSegment{{
		MemIdx: 0,
		Offset: constExpr(8),
		Init:   []byte("hi"),
	}}
	var seen string
	inst := instantiateWithHost(t, m, hostFt,
		func(ctx context.Context, caller *engine.Caller, args []engine.Value) ([]engine.Value, error) {
			b, ok := caller.Memory().Read(uint32(args[0].I32()), 0, 2)
			if !ok {
				return nil, errors.New("read out of range")
			}
			seen = string(b)
			return []engine.Value{engine.I32Value(0)}, nil
		})
	run(t, inst, engine.I32Value(8))
	if seen != "hi" {
		t.Errorf("host saw %q, want %q", seen, "hi")
	}
}

func TestCallArgumentTypeChecked(t *testing.T) {
	inst := instantiate(t, funcModule(wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	},
		wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
	))
	if _, err := inst.Call(context.Background(), "run", engine.I64Value(1)); err == nil {
		t.Error("expected error for i64 argument to i32 parameter")
	}
	if _, err := inst.Call(context.Background(), "run"); err == nil {
		t.Error("expected error for missing argument")
	}
}
