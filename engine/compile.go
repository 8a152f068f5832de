package engine

import (
	"fmt"

	errs "github.com/motorwasm/motor/errors"
	"github.com/motorwasm/motor/wasm"
	"go.uber.org/zap"
)

// CompiledModule is a validated module prepared for execution: every
// function body decoded, type checked, and annotated with the jump targets
// the interpreter follows for structured control flow.
type CompiledModule struct {
	Module *wasm.Module
	Funcs  []*compiledFunc // declared functions only, imports excluded
}

// compiledFunc is one function body ready for interpretation.
type compiledFunc struct {
	typ    wasm.FuncType
	locals []wasm.ValType // declared locals, params excluded
	body   []wasm.Instruction
	ctrl   []ctrlTargets // aligned with body
	name   string
}

// ctrlTargets holds the jump targets of a structured instruction. Else is
// -1 for an if without else; both are -1 for non-control instructions.
type ctrlTargets struct {
	Else int32
	End  int32
}

// Compile validates a module and prepares it for execution. The module must
// already have been parsed; structural validation runs first, then every
// function body is type checked.
func Compile(m *wasm.Module) (*CompiledModule, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	numImported := m.NumImportedFuncs()
	cm := &CompiledModule{
		Module: m,
		Funcs:  make([]*compiledFunc, len(m.Code)),
	}
	for i := range m.Code {
		typeIdx := m.Funcs[i]
		fn, err := compileFunc(m, m.Types[typeIdx], &m.Code[i])
		if err != nil {
			return nil, errs.Wrap(errs.PhaseValidate, errs.KindTypeMismatch, err,
				fmt.Sprintf("function %d", numImported+i))
		}
		fn.name = exportedName(m, uint32(numImported+i))
		cm.Funcs[i] = fn
	}

	Logger().Debug("compiled module",
		zap.Int("functions", len(cm.Funcs)),
		zap.Int("imports", len(m.Imports)),
		zap.Int("exports", len(m.Exports)))
	return cm, nil
}

func compileFunc(m *wasm.Module, typ wasm.FuncType, body *wasm.FuncBody) (*compiledFunc, error) {
	instrs, err := wasm.DecodeInstructions(body.Code)
	if err != nil {
		return nil, err
	}

	var locals []wasm.ValType
	for _, entry := range body.Locals {
		for i := uint32(0); i < entry.Count; i++ {
			locals = append(locals, entry.ValType)
		}
	}

	fn := &compiledFunc{
		typ:    typ,
		locals: locals,
		body:   instrs,
		ctrl:   make([]ctrlTargets, len(instrs)),
	}
	for i := range fn.ctrl {
		fn.ctrl[i] = ctrlTargets{Else: -1, End: -1}
	}
	if err := validateFunc(m, fn); err != nil {
		return nil, err
	}
	return fn, nil
}

func exportedName(m *wasm.Module, funcIdx uint32) string {
	for _, exp := range m.Exports {
		if exp.Kind == wasm.KindFunc && exp.Idx == funcIdx {
			return exp.Name
		}
	}
	return ""
}
