package wasm_test

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/motorwasm/motor/wasm"
)

func TestLEB128Unsigned(t *testing.T) {
	tests := []struct {
		encoded []byte
		value   uint32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x01}, 1},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xff, 0x01}, 255},
		{[]byte{0x80, 0x02}, 256},
		{[]byte{0xff, 0x7f}, 16383},
		{[]byte{0x80, 0x80, 0x01}, 16384},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x0f}, 0xFFFFFFFF},
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			var buf bytes.Buffer
			wasm.WriteLEB128u(&buf, tt.value)
			if !bytes.Equal(buf.Bytes(), tt.encoded) {
				t.Errorf("encode %d: got %v, want %v", tt.value, buf.Bytes(), tt.encoded)
			}

			r := bytes.NewReader(tt.encoded)
			got, err := wasm.ReadLEB128u(r)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tt.value {
				t.Errorf("decode: got %d, want %d", got, tt.value)
			}
		})
	}
}

func TestLEB128Signed(t *testing.T) {
	tests := []struct {
		encoded []byte
		value   int32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x01}, 1},
		{[]byte{0x7f}, -1},
		{[]byte{0x3f}, 63},
		{[]byte{0x40}, -64},
		{[]byte{0xc0, 0x00}, 64},
		{[]byte{0xbf, 0x7f}, -65},
		{[]byte{0x80, 0x7f}, -128},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x07}, math.MaxInt32},
		{[]byte{0x80, 0x80, 0x80, 0x80, 0x78}, math.MinInt32},
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			var buf bytes.Buffer
			wasm.WriteLEB128s(&buf, tt.value)
			if !bytes.Equal(buf.Bytes(), tt.encoded) {
				t.Errorf("encode %d: got %v, want %v", tt.value, buf.Bytes(), tt.encoded)
			}

			r := bytes.NewReader(tt.encoded)
			got, err := wasm.ReadLEB128s(r)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tt.value {
				t.Errorf("decode: got %d, want %d", got, tt.value)
			}
		})
	}
}

func TestLEB128Signed64RoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 63, -64, 64, -65, 1 << 32, -(1 << 32), math.MaxInt64, math.MinInt64}
	for _, v := range values {
		var buf bytes.Buffer
		wasm.WriteLEB128s64(&buf, v)
		got, err := wasm.ReadLEB128s64(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("decode %d: %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d: got %d", v, got)
		}
	}
}

func TestLEB128Overflow(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"u32 six bytes", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x0f}},
		{"u32 final byte unused bits", []byte{0xff, 0xff, 0xff, 0xff, 0x7f}},
		{"u32 bit 32 set", []byte{0x80, 0x80, 0x80, 0x80, 0x10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wasm.ReadLEB128u(bytes.NewReader(tt.data))
			if !errors.Is(err, wasm.ErrOverflow) {
				t.Errorf("expected ErrOverflow, got %v", err)
			}
		})
	}
}

func TestLEB128SignedFinalByte(t *testing.T) {
	// In a full-width encoding the final byte's spare bits must agree
	// with the sign bit.
	tests := []struct {
		name  string
		data  []byte
		value int32
		bad   bool
	}{
		{"redundant -1", []byte{0xff, 0xff, 0xff, 0xff, 0x7f}, -1, false},
		{"sign set spare bits clear", []byte{0xff, 0xff, 0xff, 0xff, 0x0f}, 0, true},
		{"sign clear spare bits set", []byte{0x80, 0x80, 0x80, 0x80, 0x70}, 0, true},
		{"six bytes", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x7f}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := wasm.ReadLEB128s(bytes.NewReader(tt.data))
			if tt.bad {
				if !errors.Is(err, wasm.ErrOverflow) {
					t.Fatalf("expected ErrOverflow, got %d, %v", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tt.value {
				t.Errorf("decode: got %d, want %d", got, tt.value)
			}
		})
	}
}

func TestLEB128Signed64FinalByte(t *testing.T) {
	redundant := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f}
	got, err := wasm.ReadLEB128s64(bytes.NewReader(redundant))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != -1 {
		t.Errorf("decode: got %d, want -1", got)
	}

	bad := [][]byte{
		{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7e},
		{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x7e},
	}
	for _, data := range bad {
		if _, err := wasm.ReadLEB128s64(bytes.NewReader(data)); !errors.Is(err, wasm.ErrOverflow) {
			t.Errorf("%v: expected ErrOverflow, got %v", data, err)
		}
	}
}

func TestFloatRoundTrip(t *testing.T) {
	f32s := []float32{0, 1.5, -2.25, float32(math.Inf(1)), math.MaxFloat32}
	for _, v := range f32s {
		var buf bytes.Buffer
		wasm.WriteFloat32(&buf, v)
		got, err := wasm.ReadFloat32(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("ReadFloat32: %v", err)
		}
		if got != v {
			t.Errorf("round trip %v: got %v", v, got)
		}
	}

	f64s := []float64{0, 3.14159, -1e300, math.Inf(-1)}
	for _, v := range f64s {
		var buf bytes.Buffer
		wasm.WriteFloat64(&buf, v)
		got, err := wasm.ReadFloat64(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("ReadFloat64: %v", err)
		}
		if got != v {
			t.Errorf("round trip %v: got %v", v, got)
		}
	}

	// NaN payloads must survive the round trip bit-exactly
	var buf bytes.Buffer
	wasm.WriteFloat64(&buf, math.NaN())
	got, err := wasm.ReadFloat64(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadFloat64: %v", err)
	}
	if math.Float64bits(got) != math.Float64bits(math.NaN()) {
		t.Error("NaN bits changed in round trip")
	}
}
