package wasm

import (
	"bytes"
	"fmt"

	errs "github.com/motorwasm/motor/errors"
)

// Validate checks the module for structural validity: every index refers to
// an existing entity, limits are coherent, and constant expressions are well
// typed. Function body type checking happens in the engine.
func (m *Module) Validate() error {
	if err := m.validateTypes(); err != nil {
		return err
	}
	if err := m.validateTypeIndices(); err != nil {
		return err
	}
	if err := m.validateFunctionIndices(); err != nil {
		return err
	}
	if err := m.validateTableIndices(); err != nil {
		return err
	}
	if err := m.validateMemoryIndices(); err != nil {
		return err
	}
	if err := m.validateGlobalIndices(); err != nil {
		return err
	}
	if err := m.validateExports(); err != nil {
		return err
	}
	if err := m.validateStart(); err != nil {
		return err
	}
	if err := m.validateLimits(); err != nil {
		return err
	}
	if err := m.validateConstExprs(); err != nil {
		return err
	}
	return nil
}

// ParseModuleValidate parses a WebAssembly binary and validates it.
// This is a convenience function combining ParseModule and Validate.
func ParseModuleValidate(data []byte) (*Module, error) {
	m, err := ParseModule(data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func invalid(detail string, args ...any) error {
	return errs.New(errs.PhaseValidate, errs.KindOutOfBounds).Detail(detail, args...).Build()
}

// validateTypes enforces the single-result rule. Multi-value function
// types use the same binary form but belong to a later proposal.
func (m *Module) validateTypes() error {
	for i, ft := range m.Types {
		if len(ft.Results) > 1 {
			return errs.New(errs.PhaseValidate, errs.KindInvalidInput).
				Detail("type %d has %d results, at most one is allowed", i, len(ft.Results)).Build()
		}
	}
	return nil
}

func (m *Module) validateTypeIndices() error {
	numTypes := uint32(len(m.Types))

	for i, typeIdx := range m.Funcs {
		if typeIdx >= numTypes {
			return invalid("function %d references invalid type index %d", i, typeIdx)
		}
	}
	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc && imp.Desc.TypeIdx >= numTypes {
			return invalid("import %d (%s.%s) references invalid type index %d", i, imp.Module, imp.Name, imp.Desc.TypeIdx)
		}
	}
	return nil
}

func (m *Module) validateFunctionIndices() error {
	numFuncs := uint32(m.NumImportedFuncs() + len(m.Funcs))

	if m.Start != nil && *m.Start >= numFuncs {
		return invalid("start function index %d exceeds function count %d", *m.Start, numFuncs)
	}
	for i, elem := range m.Elements {
		for j, funcIdx := range elem.FuncIdxs {
			if funcIdx >= numFuncs {
				return invalid("element %d, entry %d references invalid function index %d", i, j, funcIdx)
			}
		}
	}
	for i, exp := range m.Exports {
		if exp.Kind == KindFunc && exp.Idx >= numFuncs {
			return invalid("export %d (%s) references invalid function index %d", i, exp.Name, exp.Idx)
		}
	}
	return nil
}

func (m *Module) validateTableIndices() error {
	numTables := uint32(m.NumImportedTables() + len(m.Tables))

	if numTables > 1 {
		return errs.Limits(errs.PhaseValidate, nil, fmt.Sprintf("at most one table is allowed, found %d", numTables))
	}
	for i, elem := range m.Elements {
		if elem.TableIdx >= numTables {
			return invalid("element %d references invalid table index %d", i, elem.TableIdx)
		}
	}
	for i, exp := range m.Exports {
		if exp.Kind == KindTable && exp.Idx >= numTables {
			return invalid("export %d (%s) references invalid table index %d", i, exp.Name, exp.Idx)
		}
	}
	return nil
}

func (m *Module) validateMemoryIndices() error {
	numMemories := uint32(m.NumImportedMemories() + len(m.Memories))

	if numMemories > 1 {
		return errs.Limits(errs.PhaseValidate, nil, fmt.Sprintf("at most one memory is allowed, found %d", numMemories))
	}
	for i, data := range m.Data {
		if data.MemIdx >= numMemories {
			return invalid("data segment %d references invalid memory index %d", i, data.MemIdx)
		}
	}
	for i, exp := range m.Exports {
		if exp.Kind == KindMemory && exp.Idx >= numMemories {
			return invalid("export %d (%s) references invalid memory index %d", i, exp.Name, exp.Idx)
		}
	}
	return nil
}

func (m *Module) validateGlobalIndices() error {
	numGlobals := uint32(m.NumImportedGlobals() + len(m.Globals))

	for i, exp := range m.Exports {
		if exp.Kind == KindGlobal && exp.Idx >= numGlobals {
			return invalid("export %d (%s) references invalid global index %d", i, exp.Name, exp.Idx)
		}
	}
	return nil
}

func (m *Module) validateExports() error {
	seen := make(map[string]bool)
	for i, exp := range m.Exports {
		if seen[exp.Name] {
			return errs.New(errs.PhaseValidate, errs.KindInvalidInput).
				Detail("duplicate export name %q at index %d", exp.Name, i).Build()
		}
		seen[exp.Name] = true
	}
	return nil
}

func (m *Module) validateStart() error {
	if m.Start == nil {
		return nil
	}
	funcType := m.GetFuncType(*m.Start)
	if funcType == nil {
		return invalid("start function %d has no type", *m.Start)
	}
	if len(funcType.Params) != 0 || len(funcType.Results) != 0 {
		return errs.TypeMismatch(errs.PhaseValidate, []string{"start"}, "() -> ()", funcType.String())
	}
	return nil
}

func (m *Module) validateLimits() error {
	check := func(l Limits, what string, maxAllowed uint32) error {
		if l.Min > maxAllowed {
			return errs.Limits(errs.PhaseValidate, []string{what}, fmt.Sprintf("min %d exceeds maximum %d", l.Min, maxAllowed))
		}
		if l.Max != nil {
			if *l.Max > maxAllowed {
				return errs.Limits(errs.PhaseValidate, []string{what}, fmt.Sprintf("max %d exceeds maximum %d", *l.Max, maxAllowed))
			}
			if l.Min > *l.Max {
				return errs.Limits(errs.PhaseValidate, []string{what}, fmt.Sprintf("min %d exceeds max %d", l.Min, *l.Max))
			}
		}
		return nil
	}

	for i, imp := range m.Imports {
		switch {
		case imp.Desc.Kind == KindMemory && imp.Desc.Memory != nil:
			if err := check(imp.Desc.Memory.Limits, fmt.Sprintf("imported memory %d", i), MemoryMaxPages); err != nil {
				return err
			}
		case imp.Desc.Kind == KindTable && imp.Desc.Table != nil:
			if err := check(imp.Desc.Table.Limits, fmt.Sprintf("imported table %d", i), ^uint32(0)); err != nil {
				return err
			}
		}
	}
	for i, mem := range m.Memories {
		if err := check(mem.Limits, fmt.Sprintf("memory %d", i), MemoryMaxPages); err != nil {
			return err
		}
	}
	for i, t := range m.Tables {
		if err := check(t.Limits, fmt.Sprintf("table %d", i), ^uint32(0)); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) validateConstExprs() error {
	for i, g := range m.Globals {
		vt, err := m.constExprType(g.Init, fmt.Sprintf("global %d", i))
		if err != nil {
			return err
		}
		if vt != g.Type.ValType {
			return errs.TypeMismatch(errs.PhaseValidate, []string{fmt.Sprintf("global %d", i)}, g.Type.ValType.String(), vt.String())
		}
	}
	for i, elem := range m.Elements {
		vt, err := m.constExprType(elem.Offset, fmt.Sprintf("element %d", i))
		if err != nil {
			return err
		}
		if vt != ValI32 {
			return errs.TypeMismatch(errs.PhaseValidate, []string{fmt.Sprintf("element %d offset", i)}, "i32", vt.String())
		}
	}
	for i, d := range m.Data {
		vt, err := m.constExprType(d.Offset, fmt.Sprintf("data segment %d", i))
		if err != nil {
			return err
		}
		if vt != ValI32 {
			return errs.TypeMismatch(errs.PhaseValidate, []string{fmt.Sprintf("data segment %d offset", i)}, "i32", vt.String())
		}
	}
	return nil
}

// constExprType returns the result type of a constant expression. A
// global.get may only reference an imported immutable global.
func (m *Module) constExprType(expr []byte, what string) (ValType, error) {
	if len(expr) == 0 {
		return 0, invalid("%s has empty constant expression", what)
	}
	switch expr[0] {
	case OpI32Const:
		return ValI32, nil
	case OpI64Const:
		return ValI64, nil
	case OpF32Const:
		return ValF32, nil
	case OpF64Const:
		return ValF64, nil
	case OpGlobalGet:
		idx, err := ReadLEB128u(bytes.NewReader(expr[1:]))
		if err != nil {
			return 0, invalid("%s has malformed constant expression", what)
		}
		imported := m.ImportedGlobalTypes()
		if int(idx) >= len(imported) {
			return 0, invalid("%s references global %d which is not an imported global", what, idx)
		}
		if imported[idx].Mutable {
			return 0, errs.Mutability(errs.PhaseValidate, []string{what}, fmt.Sprintf("constant expression references mutable global %d", idx))
		}
		return imported[idx].ValType, nil
	}
	return 0, invalid("%s has invalid constant expression opcode 0x%02x", what, expr[0])
}
