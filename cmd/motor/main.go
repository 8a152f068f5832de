package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/motorwasm/motor/engine"
	"github.com/motorwasm/motor/runtime"
	"github.com/motorwasm/motor/wasm"
)

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to wasm file")
		funcName    = flag.String("func", "", "Function to call (optional)")
		funcArgs    = flag.String("args", "", "Arguments, comma-separated, parsed per the signature")
		list        = flag.Bool("list", false, "List exported functions and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		verbose     = flag.Bool("v", false, "Verbose engine logging")
	)
	flag.Parse()

	// the file may also be given as the sole positional argument
	file := *wasmFile
	if file == "" && flag.NArg() == 1 {
		file = flag.Arg(0)
	}
	if file == "" {
		fmt.Fprintln(os.Stderr, "Usage: motor -wasm <file.wasm> [-func name] [-args a,b,...]")
		fmt.Fprintln(os.Stderr, "       motor -wasm <file.wasm> -list")
		fmt.Fprintln(os.Stderr, "       motor -wasm <file.wasm> -i  (interactive mode)")
		fmt.Fprintln(os.Stderr, "       motor <file.wasm>")
		os.Exit(1)
	}

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			runtime.SetLogger(logger)
			defer logger.Sync()
		}
	}

	if *interactive {
		if err := runInteractive(file); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(file, *funcName, *funcArgs, *list); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(file, funcName, argStr string, listOnly bool) error {
	ctx := context.Background()

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	rt := runtime.New()
	mod, err := rt.LoadModule(data)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}

	raw := mod.Raw()
	fmt.Printf("Module: %s\n", file)
	fmt.Printf("Functions: %d\n", len(raw.Funcs))
	fmt.Printf("Imports: %d\n", len(raw.Imports))
	fmt.Printf("Exports: %d\n", len(raw.Exports))

	funcs := mod.ExportedFunctions()
	fmt.Printf("\nExported functions:\n")
	for _, f := range funcs {
		fmt.Printf("  %s%s\n", f.Name, f.Type)
	}

	if listOnly {
		return nil
	}

	target, err := chooseFunction(funcs, funcName)
	if err != nil {
		return err
	}

	inst, err := mod.Instantiate(ctx)
	if err != nil {
		return fmt.Errorf("instantiate: %w", err)
	}

	args, err := parseArgs(argStr, target.Type.Params)
	if err != nil {
		return err
	}

	results, err := inst.Call(ctx, target.Name, args...)
	if err != nil {
		if trap, ok := engine.AsTrap(err); ok {
			return fmt.Errorf("%s trapped: %w", target.Name, trap)
		}
		return fmt.Errorf("call %s: %w", target.Name, err)
	}

	fmt.Printf("\n%s:", target.Name)
	if len(results) == 0 {
		fmt.Println(" (no results)")
	}
	for _, r := range results {
		fmt.Printf(" %s", r)
	}
	fmt.Println()
	return nil
}

// chooseFunction picks the named export, or the sole export when no name
// is given.
func chooseFunction(funcs []runtime.ExportInfo, name string) (runtime.ExportInfo, error) {
	if name != "" {
		for _, f := range funcs {
			if f.Name == name {
				return f, nil
			}
		}
		return runtime.ExportInfo{}, fmt.Errorf("no exported function %q", name)
	}
	switch len(funcs) {
	case 0:
		return runtime.ExportInfo{}, fmt.Errorf("module exports no functions")
	case 1:
		return funcs[0], nil
	}
	return runtime.ExportInfo{}, fmt.Errorf("module exports %d functions, pick one with -func", len(funcs))
}

// parseArgs converts the comma-separated argument string into typed
// values per the function signature.
func parseArgs(argStr string, params []wasm.ValType) ([]engine.Value, error) {
	var fields []string
	if argStr != "" {
		fields = strings.Split(argStr, ",")
	}
	if len(fields) != len(params) {
		return nil, fmt.Errorf("function takes %d arguments, got %d", len(params), len(fields))
	}
	args := make([]engine.Value, len(fields))
	for i, field := range fields {
		v, err := parseValue(strings.TrimSpace(field), params[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = v
	}
	return args, nil
}

func parseValue(s string, t wasm.ValType) (engine.Value, error) {
	switch t {
	case wasm.ValI32:
		v, err := strconv.ParseInt(s, 0, 32)
		if err != nil {
			return engine.Value{}, fmt.Errorf("%q is not an i32", s)
		}
		return engine.I32Value(int32(v)), nil
	case wasm.ValI64:
		v, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return engine.Value{}, fmt.Errorf("%q is not an i64", s)
		}
		return engine.I64Value(v), nil
	case wasm.ValF32:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return engine.Value{}, fmt.Errorf("%q is not an f32", s)
		}
		return engine.F32Value(float32(v)), nil
	case wasm.ValF64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return engine.Value{}, fmt.Errorf("%q is not an f64", s)
		}
		return engine.F64Value(v), nil
	}
	return engine.Value{}, fmt.Errorf("unsupported value type %v", t)
}
