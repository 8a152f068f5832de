package runtime

import (
	"context"

	"github.com/motorwasm/motor/engine"
	"github.com/motorwasm/motor/wasm"
)

// Module is a loaded, validated module ready for instantiation.
type Module struct {
	runtime  *Runtime
	compiled *engine.CompiledModule
}

// ExportInfo describes one export with its resolved type.
type ExportInfo struct {
	Name string
	Kind byte
	Type wasm.FuncType // functions only
}

// Exports lists the module's exports in declaration order.
func (m *Module) Exports() []ExportInfo {
	mod := m.compiled.Module
	infos := make([]ExportInfo, 0, len(mod.Exports))
	for _, exp := range mod.Exports {
		info := ExportInfo{Name: exp.Name, Kind: exp.Kind}
		if exp.Kind == wasm.KindFunc {
			if ft := mod.GetFuncType(exp.Idx); ft != nil {
				info.Type = *ft
			}
		}
		infos = append(infos, info)
	}
	return infos
}

// ExportedFunctions returns the function exports only.
func (m *Module) ExportedFunctions() []ExportInfo {
	var funcs []ExportInfo
	for _, info := range m.Exports() {
		if info.Kind == wasm.KindFunc {
			funcs = append(funcs, info)
		}
	}
	return funcs
}

// ImportInfo describes one import requirement.
type ImportInfo struct {
	Module string
	Name   string
	Kind   byte
}

// Imports lists what the module requires at instantiation.
func (m *Module) Imports() []ImportInfo {
	mod := m.compiled.Module
	infos := make([]ImportInfo, 0, len(mod.Imports))
	for _, imp := range mod.Imports {
		infos = append(infos, ImportInfo{Module: imp.Module, Name: imp.Name, Kind: imp.Desc.Kind})
	}
	return infos
}

// Raw returns the decoded module for inspection.
func (m *Module) Raw() *wasm.Module {
	return m.compiled.Module
}

// Instantiate creates an instance in the runtime's store, resolving
// imports from registered host functions and exposed instances. The start
// function, if declared, runs before Instantiate returns.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	return m.InstantiateNamed(ctx, "")
}

// InstantiateNamed instantiates and, when name is non-empty, publishes the
// instance's exports so later modules can import them under that name.
func (m *Module) InstantiateNamed(ctx context.Context, name string) (*Instance, error) {
	imports := m.runtime.resolveImports()
	inst, err := m.runtime.store.Instantiate(ctx, m.compiled, name, imports)
	if err != nil {
		return nil, err
	}
	if name != "" {
		if err := m.runtime.expose(name, inst); err != nil {
			return nil, err
		}
	}
	return &Instance{runtime: m.runtime, inst: inst}, nil
}
