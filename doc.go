// Package motor is a WebAssembly interpreter for the core MVP feature set.
//
// The module is organized in layers:
//
//   - wasm: binary format types, decoder, encoder, and module-level validation
//   - engine: function-body validation, the store, instantiation, and the
//     stack interpreter
//   - runtime: the embedder facade with reflection-based host functions
//   - errors: structured error values shared across the layers
//
// Most embedders only need the runtime package:
//
//	rt := runtime.New()
//	mod, err := rt.LoadModule(wasmBytes)
//	inst, err := mod.Instantiate(ctx)
//	results, err := inst.Call(ctx, "add", engine.I32Value(1), engine.I32Value(2))
package motor
