package engine

import (
	"context"
	"fmt"

	errs "github.com/motorwasm/motor/errors"
	"github.com/motorwasm/motor/wasm"
	"go.uber.org/zap"
)

// Imports supplies external values for instantiation, keyed by module name
// then field name.
type Imports map[string]map[string]Extern

// Lookup returns the extern registered under module/name.
func (im Imports) Lookup(module, name string) (Extern, bool) {
	fields, ok := im[module]
	if !ok {
		return Extern{}, false
	}
	ext, ok := fields[name]
	return ext, ok
}

// Add registers an extern, creating the module map on first use.
func (im Imports) Add(module, name string, ext Extern) {
	fields, ok := im[module]
	if !ok {
		fields = map[string]Extern{}
		im[module] = fields
	}
	fields[name] = ext
}

// Instantiate creates a module instance in the store: imports are resolved
// and type checked, the module's own entities are allocated, active element
// and data segments are applied, and the start function (if any) runs.
//
// Segments are applied in module order and each one is bounds checked
// against the current table or memory size; an out-of-range segment or a
// trapping start function aborts instantiation, but mutations already made
// to imported entities remain visible.
func (s *Store) Instantiate(ctx context.Context, cm *CompiledModule, name string, imports Imports) (*ModuleInstance, error) {
	m := cm.Module
	inst := &ModuleInstance{
		Name:    name,
		Module:  m,
		Exports: map[string]Extern{},
		store:   s,
	}

	if err := s.resolveImports(inst, m, imports); err != nil {
		return nil, err
	}
	s.allocate(inst, cm)

	for _, exp := range m.Exports {
		var addr int
		switch exp.Kind {
		case wasm.KindFunc:
			addr = inst.FuncAddrs[exp.Idx]
		case wasm.KindTable:
			addr = inst.TableAddrs[exp.Idx]
		case wasm.KindMemory:
			addr = inst.MemAddrs[exp.Idx]
		case wasm.KindGlobal:
			addr = inst.GlobalAddrs[exp.Idx]
		}
		inst.Exports[exp.Name] = Extern{Kind: ExternKind(exp.Kind), Addr: addr}
	}

	if err := s.applyElements(inst, m); err != nil {
		return nil, err
	}
	if err := s.applyData(inst, m); err != nil {
		return nil, err
	}

	if m.Start != nil {
		start := s.Functions[inst.FuncAddrs[*m.Start]]
		interp := &interpreter{store: s}
		if _, err := interp.call(ctx, start, nil, inst); err != nil {
			return nil, errs.Instantiation(err)
		}
	}

	Logger().Debug("instantiated module",
		zap.String("name", name),
		zap.Int("functions", len(inst.FuncAddrs)),
		zap.Int("exports", len(inst.Exports)))
	return inst, nil
}

// resolveImports maps every import declaration to a store address supplied
// by the embedder, checking kind and type compatibility.
func (s *Store) resolveImports(inst *ModuleInstance, m *wasm.Module, imports Imports) error {
	for _, imp := range m.Imports {
		ext, ok := imports.Lookup(imp.Module, imp.Name)
		if !ok {
			return errs.MissingImport(imp.Module, imp.Name)
		}
		if byte(ext.Kind) != imp.Desc.Kind {
			return errs.IncompatibleImport(imp.Module, imp.Name,
				fmt.Sprintf("want %s, have %s", kindName(imp.Desc.Kind), kindName(byte(ext.Kind))))
		}

		switch imp.Desc.Kind {
		case wasm.KindFunc:
			want := m.Types[imp.Desc.TypeIdx]
			have := s.Functions[ext.Addr].Type
			if !want.Equal(have) {
				return errs.IncompatibleImport(imp.Module, imp.Name,
					fmt.Sprintf("function type %s incompatible with %s", have, want))
			}
			inst.FuncAddrs = append(inst.FuncAddrs, ext.Addr)

		case wasm.KindTable:
			want := imp.Desc.Table
			have := s.Tables[ext.Addr]
			if err := checkLimits(uint32(len(have.Elems)), have.Max, want.Limits); err != nil {
				return errs.IncompatibleImport(imp.Module, imp.Name, err.Error())
			}
			inst.TableAddrs = append(inst.TableAddrs, ext.Addr)

		case wasm.KindMemory:
			want := imp.Desc.Memory
			have := s.Memories[ext.Addr]
			if err := checkLimits(have.Pages(), have.Max, want.Limits); err != nil {
				return errs.IncompatibleImport(imp.Module, imp.Name, err.Error())
			}
			inst.MemAddrs = append(inst.MemAddrs, ext.Addr)

		case wasm.KindGlobal:
			want := imp.Desc.Global
			have := s.Globals[ext.Addr]
			if have.Type.ValType != want.ValType || have.Type.Mutable != want.Mutable {
				return errs.IncompatibleImport(imp.Module, imp.Name,
					fmt.Sprintf("global type %v incompatible with %v", have.Type, *want))
			}
			inst.GlobalAddrs = append(inst.GlobalAddrs, ext.Addr)
		}
	}
	return nil
}

// checkLimits verifies that an actual size and maximum satisfy the declared
// import limits: actual minimum at least the declared minimum, and actual
// maximum (if the declaration has one) present and no larger.
func checkLimits(actualMin uint32, actualMax *uint32, want wasm.Limits) error {
	if actualMin < want.Min {
		return fmt.Errorf("minimum size %d below required %d", actualMin, want.Min)
	}
	if want.Max != nil {
		if actualMax == nil {
			return fmt.Errorf("import requires maximum %d but none declared", *want.Max)
		}
		if *actualMax > *want.Max {
			return fmt.Errorf("maximum size %d exceeds allowed %d", *actualMax, *want.Max)
		}
	}
	return nil
}

// allocate creates store entities for the module's own declarations and
// appends their addresses to the instance index spaces, after the imported
// ones.
func (s *Store) allocate(inst *ModuleInstance, cm *CompiledModule) {
	m := cm.Module

	for _, code := range cm.Funcs {
		addr := len(s.Functions)
		s.Functions = append(s.Functions, &FunctionInstance{
			Type:   code.typ,
			Module: inst,
			Code:   code,
			Name:   code.name,
			Kind:   FuncKindWasm,
		})
		inst.FuncAddrs = append(inst.FuncAddrs, addr)
	}

	for _, tt := range m.Tables {
		ext := s.AllocateTable(tt)
		inst.TableAddrs = append(inst.TableAddrs, ext.Addr)
	}
	for _, mt := range m.Memories {
		ext := s.AllocateMemory(mt)
		inst.MemAddrs = append(inst.MemAddrs, ext.Addr)
	}
	for _, g := range m.Globals {
		val := s.evalInitExpr(inst, g.Init, g.Type.ValType)
		ext := s.AllocateGlobal(g.Type, val)
		inst.GlobalAddrs = append(inst.GlobalAddrs, ext.Addr)
	}
}

// evalInitExpr evaluates a constant initializer expression. The expression
// was validated at decode time: a single const or global.get of an imported
// immutable global, followed by end.
func (s *Store) evalInitExpr(inst *ModuleInstance, raw []byte, want wasm.ValType) Value {
	instrs, err := wasm.DecodeInstructions(raw)
	if err != nil || len(instrs) == 0 {
		return ZeroValue(want)
	}
	switch instrs[0].Opcode {
	case wasm.OpI32Const:
		return I32Value(instrs[0].Imm.(wasm.I32Imm).Value)
	case wasm.OpI64Const:
		return I64Value(instrs[0].Imm.(wasm.I64Imm).Value)
	case wasm.OpF32Const:
		return F32Value(instrs[0].Imm.(wasm.F32Imm).Value)
	case wasm.OpF64Const:
		return F64Value(instrs[0].Imm.(wasm.F64Imm).Value)
	case wasm.OpGlobalGet:
		idx := instrs[0].Imm.(wasm.GlobalImm).GlobalIdx
		return s.Globals[inst.GlobalAddrs[idx]].Val
	}
	return ZeroValue(want)
}

// applyElements copies element segment function addresses into tables.
func (s *Store) applyElements(inst *ModuleInstance, m *wasm.Module) error {
	for i, elem := range m.Elements {
		table := s.Tables[inst.TableAddrs[elem.TableIdx]]
		offset := s.evalInitExpr(inst, elem.Offset, wasm.ValI32).U32()
		end := uint64(offset) + uint64(len(elem.FuncIdxs))
		if end > uint64(len(table.Elems)) {
			return errs.Instantiation(&Trap{
				Code:  TrapTableOutOfBounds,
				Cause: fmt.Errorf("element segment %d spans [%d, %d) beyond table size %d", i, offset, end, len(table.Elems)),
			})
		}
		for j, fidx := range elem.FuncIdxs {
			table.Elems[offset+uint32(j)] = inst.FuncAddrs[fidx]
		}
	}
	return nil
}

// applyData copies data segment bytes into memories.
func (s *Store) applyData(inst *ModuleInstance, m *wasm.Module) error {
	for i, seg := range m.Data {
		mem := s.Memories[inst.MemAddrs[seg.MemIdx]]
		offset := s.evalInitExpr(inst, seg.Offset, wasm.ValI32).U32()
		end := uint64(offset) + uint64(len(seg.Init))
		if end > uint64(len(mem.Data)) {
			return errs.Instantiation(&Trap{
				Code:  TrapMemoryOutOfBounds,
				Cause: fmt.Errorf("data segment %d spans [%d, %d) beyond memory size %d", i, offset, end, len(mem.Data)),
			})
		}
		copy(mem.Data[offset:end], seg.Init)
	}
	return nil
}
