package engine

import (
	"context"
	"fmt"

	errs "github.com/motorwasm/motor/errors"
	"github.com/motorwasm/motor/wasm"
)

// Store owns all runtime entities: functions, tables, memories, and
// globals. Instances reference entities by store address (a plain index),
// never by pointer, so entities can be shared across module instances.
//
// A Store is not safe for concurrent use.
type Store struct {
	Functions []*FunctionInstance
	Tables    []*TableInstance
	Memories  []*MemoryInstance
	Globals   []*GlobalInstance
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// FuncKind discriminates module functions from host functions.
type FuncKind int

const (
	FuncKindWasm FuncKind = iota
	FuncKindHost
)

// HostFunc is a Go function callable from WebAssembly code. It receives the
// calling instance through the Caller and typed argument values, and returns
// result values matching its declared type. A returned error becomes a trap.
type HostFunc func(ctx context.Context, caller *Caller, args []Value) ([]Value, error)

// Caller gives a host function access to the instance that invoked it.
type Caller struct {
	Instance *ModuleInstance
	store    *Store
}

// Memory returns the calling instance's memory, or nil if it has none.
func (c *Caller) Memory() *MemoryInstance {
	if c.Instance == nil {
		return nil
	}
	return c.Instance.Memory()
}

// FunctionInstance is a function in the store: either WebAssembly code
// compiled for the interpreter or a host function.
type FunctionInstance struct {
	Type   wasm.FuncType
	Module *ModuleInstance // nil for host functions
	Code   *compiledFunc   // nil for host functions
	Host   HostFunc        // nil for wasm functions
	Name   string          // debug name, may be empty
	Kind   FuncKind
}

// GlobalInstance is a mutable or immutable global variable.
type GlobalInstance struct {
	Type wasm.GlobalType
	Val  Value
}

// TableInstance is a table of function store addresses. Uninitialized slots
// hold -1.
type TableInstance struct {
	Elems []int
	Max   *uint32
}

// Grow appends n uninitialized elements, respecting the declared maximum.
// It returns the previous size, or -1 if the table cannot grow.
func (t *TableInstance) Grow(n uint32) int32 {
	old := uint32(len(t.Elems))
	newSize := uint64(old) + uint64(n)
	if t.Max != nil && newSize > uint64(*t.Max) {
		return -1
	}
	if newSize > uint64(^uint32(0)) {
		return -1
	}
	for i := uint32(0); i < n; i++ {
		t.Elems = append(t.Elems, -1)
	}
	return int32(old)
}

// MemoryInstance is a linear memory. Data length is always a multiple of
// the page size.
type MemoryInstance struct {
	Data []byte
	Max  *uint32 // maximum size in pages, nil for none declared
}

// Pages returns the current size in 64 KiB pages.
func (m *MemoryInstance) Pages() uint32 {
	return uint32(len(m.Data)) / wasm.PageSize
}

// Grow extends the memory by delta pages. It returns the previous page
// count, or -1 if the limit would be exceeded. On failure the memory is
// unchanged.
func (m *MemoryInstance) Grow(delta uint32) int32 {
	old := m.Pages()
	newPages := uint64(old) + uint64(delta)
	limit := uint64(wasm.MemoryMaxPages)
	if m.Max != nil && uint64(*m.Max) < limit {
		limit = uint64(*m.Max)
	}
	if newPages > limit {
		return -1
	}
	grown := make([]byte, newPages*uint64(wasm.PageSize))
	copy(grown, m.Data)
	m.Data = grown
	return int32(old)
}

// Read returns n bytes at the effective address base+offset, or false if
// the access crosses the end of memory. The addition cannot overflow since
// both operands are 32-bit.
func (m *MemoryInstance) Read(base, offset uint32, n int) ([]byte, bool) {
	addr := uint64(base) + uint64(offset)
	end := addr + uint64(n)
	if end > uint64(len(m.Data)) {
		return nil, false
	}
	return m.Data[addr:end], true
}

// Write copies data to the effective address base+offset, or returns false
// if the access crosses the end of memory.
func (m *MemoryInstance) Write(base, offset uint32, data []byte) bool {
	addr := uint64(base) + uint64(offset)
	end := addr + uint64(len(data))
	if end > uint64(len(m.Data)) {
		return false
	}
	copy(m.Data[addr:end], data)
	return true
}

// ExternKind identifies the kind of an external value.
type ExternKind byte

const (
	ExternFunc   ExternKind = ExternKind(wasm.KindFunc)
	ExternTable  ExternKind = ExternKind(wasm.KindTable)
	ExternMemory ExternKind = ExternKind(wasm.KindMemory)
	ExternGlobal ExternKind = ExternKind(wasm.KindGlobal)
)

// Extern is a store address paired with its kind: the currency of imports
// and exports.
type Extern struct {
	Kind ExternKind
	Addr int
}

// ModuleInstance is an instantiated module: its index spaces mapped to
// store addresses plus the resolved export table.
type ModuleInstance struct {
	Name        string
	Module      *wasm.Module
	FuncAddrs   []int
	TableAddrs  []int
	MemAddrs    []int
	GlobalAddrs []int
	Exports     map[string]Extern

	store *Store
}

// Store returns the store this instance lives in.
func (inst *ModuleInstance) Store() *Store {
	return inst.store
}

// Memory returns the instance's memory, or nil if it has none.
func (inst *ModuleInstance) Memory() *MemoryInstance {
	if len(inst.MemAddrs) == 0 {
		return nil
	}
	return inst.store.Memories[inst.MemAddrs[0]]
}

// Global returns the global at the given module index.
func (inst *ModuleInstance) Global(idx uint32) (*GlobalInstance, error) {
	if int(idx) >= len(inst.GlobalAddrs) {
		return nil, errs.OutOfBounds(errs.PhaseRuntime, []string{"global"}, int(idx), len(inst.GlobalAddrs))
	}
	return inst.store.Globals[inst.GlobalAddrs[idx]], nil
}

// ExportedFunc resolves a function export to its store instance.
func (inst *ModuleInstance) ExportedFunc(name string) (*FunctionInstance, error) {
	ext, ok := inst.Exports[name]
	if !ok {
		return nil, errs.NotFound(errs.PhaseRuntime, "export", name)
	}
	if ext.Kind != ExternFunc {
		return nil, errs.TypeMismatch(errs.PhaseRuntime, []string{"export", name}, "function", kindName(byte(ext.Kind)))
	}
	return inst.store.Functions[ext.Addr], nil
}

// ExportedGlobal resolves a global export to its store instance.
func (inst *ModuleInstance) ExportedGlobal(name string) (*GlobalInstance, error) {
	ext, ok := inst.Exports[name]
	if !ok {
		return nil, errs.NotFound(errs.PhaseRuntime, "export", name)
	}
	if ext.Kind != ExternGlobal {
		return nil, errs.TypeMismatch(errs.PhaseRuntime, []string{"export", name}, "global", kindName(byte(ext.Kind)))
	}
	return inst.store.Globals[ext.Addr], nil
}

// ExportedMemory resolves a memory export to its store instance.
func (inst *ModuleInstance) ExportedMemory(name string) (*MemoryInstance, error) {
	ext, ok := inst.Exports[name]
	if !ok {
		return nil, errs.NotFound(errs.PhaseRuntime, "export", name)
	}
	if ext.Kind != ExternMemory {
		return nil, errs.TypeMismatch(errs.PhaseRuntime, []string{"export", name}, "memory", kindName(byte(ext.Kind)))
	}
	return inst.store.Memories[ext.Addr], nil
}

// Call invokes an exported function by name.
func (inst *ModuleInstance) Call(ctx context.Context, name string, args ...Value) ([]Value, error) {
	fn, err := inst.ExportedFunc(name)
	if err != nil {
		return nil, err
	}
	return inst.store.CallFunction(ctx, fn, args)
}

// CallFunction invokes a function instance with type-checked arguments.
func (s *Store) CallFunction(ctx context.Context, fn *FunctionInstance, args []Value) ([]Value, error) {
	if len(args) != len(fn.Type.Params) {
		return nil, errs.TypeMismatch(errs.PhaseRuntime, []string{"call"},
			fmt.Sprintf("%d arguments", len(fn.Type.Params)),
			fmt.Sprintf("%d arguments", len(args)))
	}
	for i, arg := range args {
		if arg.Type != fn.Type.Params[i] {
			return nil, errs.TypeMismatch(errs.PhaseRuntime, []string{"call", fmt.Sprintf("arg %d", i)},
				fn.Type.Params[i].String(), arg.Type.String())
		}
	}
	interp := &interpreter{store: s}
	return interp.callFunction(ctx, fn, args)
}

// AllocateHostFunc registers a host function and returns its extern.
func (s *Store) AllocateHostFunc(ft wasm.FuncType, name string, fn HostFunc) Extern {
	addr := len(s.Functions)
	s.Functions = append(s.Functions, &FunctionInstance{
		Type: ft,
		Host: fn,
		Name: name,
		Kind: FuncKindHost,
	})
	return Extern{Kind: ExternFunc, Addr: addr}
}

// AllocateGlobal creates a standalone global and returns its extern.
func (s *Store) AllocateGlobal(gt wasm.GlobalType, val Value) Extern {
	addr := len(s.Globals)
	s.Globals = append(s.Globals, &GlobalInstance{Type: gt, Val: val})
	return Extern{Kind: ExternGlobal, Addr: addr}
}

// AllocateMemory creates a standalone memory and returns its extern.
func (s *Store) AllocateMemory(mt wasm.MemoryType) Extern {
	addr := len(s.Memories)
	s.Memories = append(s.Memories, &MemoryInstance{
		Data: make([]byte, uint64(mt.Limits.Min)*uint64(wasm.PageSize)),
		Max:  mt.Limits.Max,
	})
	return Extern{Kind: ExternMemory, Addr: addr}
}

// AllocateTable creates a standalone table and returns its extern.
func (s *Store) AllocateTable(tt wasm.TableType) Extern {
	addr := len(s.Tables)
	elems := make([]int, tt.Limits.Min)
	for i := range elems {
		elems[i] = -1
	}
	s.Tables = append(s.Tables, &TableInstance{Elems: elems, Max: tt.Limits.Max})
	return Extern{Kind: ExternTable, Addr: addr}
}

func kindName(kind byte) string {
	switch kind {
	case wasm.KindFunc:
		return "function"
	case wasm.KindTable:
		return "table"
	case wasm.KindMemory:
		return "memory"
	case wasm.KindGlobal:
		return "global"
	}
	return "unknown"
}
