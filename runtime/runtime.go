package runtime

import (
	"sync"

	"github.com/motorwasm/motor/engine"
	"github.com/motorwasm/motor/errors"
	"github.com/motorwasm/motor/wasm"
	"go.uber.org/zap"
)

// Runtime owns one engine store and a host function registry. Modules
// loaded through it share the store, so instances can import each other's
// exports and every host function is allocated exactly once.
//
// A Runtime is safe for concurrent registration, but instantiation and
// calls must not race each other.
type Runtime struct {
	store   *engine.Store
	hosts   *HostRegistry
	imports engine.Imports
	mu      sync.Mutex
}

func New() *Runtime {
	return &Runtime{
		store:   engine.NewStore(),
		hosts:   NewHostRegistry(),
		imports: engine.Imports{},
	}
}

// SetLogger routes engine debug logging to the given zap logger.
func SetLogger(l *zap.Logger) {
	engine.SetLogger(l)
}

// RegisterFunc registers a Go function as a host function. The
// WebAssembly signature is derived from fn's Go signature.
func (r *Runtime) RegisterFunc(module, name string, fn any) error {
	return r.hosts.RegisterFunc(module, name, fn)
}

// Register registers a host function with an explicit WebAssembly type.
func (r *Runtime) Register(module, name string, ft wasm.FuncType, fn engine.HostFunc) error {
	return r.hosts.Register(module, name, ft, fn)
}

// RegisterHost registers all exported methods of h as host functions.
// Must be called before instantiating modules that import them.
func (r *Runtime) RegisterHost(h Host) error {
	return r.hosts.RegisterHost(h)
}

// RegisterMemory creates a host-owned memory importable as module/name
// and returns it for direct access.
func (r *Runtime) RegisterMemory(module, name string, mt wasm.MemoryType) *engine.MemoryInstance {
	r.mu.Lock()
	defer r.mu.Unlock()
	ext := r.store.AllocateMemory(mt)
	r.imports.Add(module, name, ext)
	return r.store.Memories[ext.Addr]
}

// RegisterGlobal creates a host-owned global importable as module/name.
func (r *Runtime) RegisterGlobal(module, name string, gt wasm.GlobalType, val engine.Value) *engine.GlobalInstance {
	r.mu.Lock()
	defer r.mu.Unlock()
	ext := r.store.AllocateGlobal(gt, val)
	r.imports.Add(module, name, ext)
	return r.store.Globals[ext.Addr]
}

// RegisterTable creates a host-owned table importable as module/name.
func (r *Runtime) RegisterTable(module, name string, tt wasm.TableType) *engine.TableInstance {
	r.mu.Lock()
	defer r.mu.Unlock()
	ext := r.store.AllocateTable(tt)
	r.imports.Add(module, name, ext)
	return r.store.Tables[ext.Addr]
}

// LoadModule decodes and validates a WebAssembly binary. The returned
// Module is immutable and can be instantiated any number of times.
func (r *Runtime) LoadModule(data []byte) (*Module, error) {
	parsed, err := wasm.ParseModule(data)
	if err != nil {
		return nil, err
	}
	compiled, err := engine.Compile(parsed)
	if err != nil {
		return nil, err
	}
	return &Module{runtime: r, compiled: compiled}, nil
}

// Store exposes the underlying engine store.
func (r *Runtime) Store() *engine.Store {
	return r.store
}

// resolveImports snapshots host registrations plus exposed instances into
// the import set used for one instantiation.
func (r *Runtime) resolveImports() engine.Imports {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts.bind(r.store, r.imports)
	return r.imports
}

// expose publishes an instance's exports under the given module name so
// later instantiations can import them.
func (r *Runtime) expose(name string, inst *engine.ModuleInstance) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseLink, "instance name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for expName, ext := range inst.Exports {
		r.imports.Add(name, expName, ext)
	}
	return nil
}
