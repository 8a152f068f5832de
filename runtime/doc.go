// Package runtime is the embedder-facing surface of the interpreter:
// load a binary, register host functions, instantiate, and call exports.
//
//	rt := runtime.New()
//	rt.RegisterFunc("env", "log", func(v int32) { ... })
//	mod, err := rt.LoadModule(wasmBytes)
//	inst, err := mod.Instantiate(ctx)
//	results, err := inst.Call(ctx, "add", engine.I32Value(1), engine.I32Value(2))
//
// Modules loaded by one Runtime share a single store. An instance made
// visible with InstantiateNamed can satisfy the imports of modules
// instantiated after it.
package runtime
