package runtime

import (
	"context"

	"github.com/motorwasm/motor/engine"
)

// Instance is an instantiated module. Calls type check their arguments
// against the export's declared signature; a trap unwinds the call but
// leaves the instance usable.
type Instance struct {
	runtime *Runtime
	inst    *engine.ModuleInstance
}

// Call invokes an exported function by name.
func (i *Instance) Call(ctx context.Context, name string, args ...engine.Value) ([]engine.Value, error) {
	return i.inst.Call(ctx, name, args...)
}

// Memory returns the instance's linear memory, or nil if it has none.
func (i *Instance) Memory() *engine.MemoryInstance {
	return i.inst.Memory()
}

// ExportedGlobal resolves a global export.
func (i *Instance) ExportedGlobal(name string) (*engine.GlobalInstance, error) {
	return i.inst.ExportedGlobal(name)
}

// Raw returns the underlying engine instance.
func (i *Instance) Raw() *engine.ModuleInstance {
	return i.inst
}
