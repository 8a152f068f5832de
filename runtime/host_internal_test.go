package runtime

import (
	"context"
	"testing"

	"github.com/motorwasm/motor/engine"
	"github.com/motorwasm/motor/wasm"
)

func TestToSnakeCase(t *testing.T) {
	tests := []struct{ in, want string }{
		{"ReadLine", "read_line"},
		{"Now", "now"},
		{"ReadHTTPBody", "read_http_body"},
		{"GetID", "get_id"},
		{"A", "a"},
	}
	for _, tc := range tests {
		if got := toSnakeCase(tc.in); got != tc.want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestWrapHostFuncTypeDerivation(t *testing.T) {
	tests := []struct {
		name string
		fn   any
		want string
	}{
		{"two i32 to i32", func(a, b int32) int32 { return 0 }, "(i32, i32) -> i32"},
		{"unsigned maps to same types", func(a uint32, b uint64) {}, "(i32, i64)"},
		{"floats", func(a float32) float64 { return 0 }, "(f32) -> f64"},
		{"context and caller skipped", func(ctx context.Context, c *engine.Caller, v int64) {}, "(i64)"},
		{"trailing error dropped", func() (int32, error) { return 0, nil }, "() -> i32"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ft, _, err := wrapHostFunc(tc.fn)
			if err != nil {
				t.Fatalf("wrapHostFunc: %v", err)
			}
			if got := ft.String(); got != tc.want {
				t.Errorf("derived %q, want %q", got, tc.want)
			}
		})
	}
}

func TestWrapHostFuncRejects(t *testing.T) {
	cases := []any{
		"not a function",
		func(s string) {},
		func() (int32, int32) { return 0, 0 }, // multi-value is out of scope
		func() (int32, string) { return 0, "" },
	}
	for _, fn := range cases {
		if _, _, err := wrapHostFunc(fn); err == nil {
			t.Errorf("wrapHostFunc(%T) should fail", fn)
		}
	}
}

func TestWrapHostFuncCallConversion(t *testing.T) {
	ft, hf, err := wrapHostFunc(func(a int32, b uint32) int32 {
		return a + int32(b)
	})
	if err != nil {
		t.Fatalf("wrapHostFunc: %v", err)
	}
	if len(ft.Params) != 2 {
		t.Fatalf("params = %d, want 2", len(ft.Params))
	}
	out, err := hf(context.Background(), nil, []engine.Value{engine.I32Value(-5), engine.I32Value(7)})
	if err != nil {
		t.Fatalf("host call: %v", err)
	}
	if out[0].I32() != 2 {
		t.Errorf("got %d, want 2", out[0].I32())
	}
	if out[0].Type != wasm.ValI32 {
		t.Errorf("result type = %v, want i32", out[0].Type)
	}
}
