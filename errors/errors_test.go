package errors_test

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/motorwasm/motor/errors"
)

func TestErrorFormat(t *testing.T) {
	tests := []struct {
		name string
		err  *errors.Error
		want string
	}{
		{
			name: "phase and kind only",
			err:  &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindMalformed},
			want: "[decode] malformed",
		},
		{
			name: "with path",
			err: &errors.Error{
				Phase: errors.PhaseLink,
				Kind:  errors.KindMissingImport,
				Path:  []string{"env", "log"},
			},
			want: "[link] missing_import at env.log",
		},
		{
			name: "with detail",
			err: &errors.Error{
				Phase:  errors.PhaseValidate,
				Kind:   errors.KindTypeMismatch,
				Detail: "expected i32, got f64",
			},
			want: "[validate] type_mismatch: expected i32, got f64",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := stderrors.New("unexpected EOF")
	err := errors.Wrap(errors.PhaseDecode, errors.KindMalformed, cause, "section body")

	if !stderrors.Is(err, cause) {
		t.Error("wrapped error should match its cause")
	}
	if !strings.Contains(err.Error(), "caused by: unexpected EOF") {
		t.Errorf("cause missing from message: %v", err)
	}
}

func TestErrorIs(t *testing.T) {
	a := errors.Malformed([]string{"code"}, "truncated body")
	b := &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindMalformed}
	c := &errors.Error{Phase: errors.PhaseValidate, Kind: errors.KindMalformed}

	if !stderrors.Is(a, b) {
		t.Error("errors with same phase and kind should match")
	}
	if stderrors.Is(a, c) {
		t.Error("errors with different phase should not match")
	}
}

func TestErrorAs(t *testing.T) {
	wrapped := fmt.Errorf("instantiate: %w", errors.MissingImport("env", "memory"))

	var target *errors.Error
	if !stderrors.As(wrapped, &target) {
		t.Fatal("As should find the structured error")
	}
	if target.Phase != errors.PhaseLink || target.Kind != errors.KindMissingImport {
		t.Errorf("unexpected phase/kind: %s/%s", target.Phase, target.Kind)
	}
}

func TestBuilder(t *testing.T) {
	err := errors.New(errors.PhaseValidate, errors.KindOutOfBounds).
		Path("function", "3").
		Detail("branch depth %d exceeds nesting %d", 5, 2).
		Build()

	want := "[validate] out_of_bounds at function.3: branch depth 5 exceeds nesting 2"
	if got := err.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		err   *errors.Error
		phase errors.Phase
		kind  errors.Kind
	}{
		{errors.Malformed(nil, "x"), errors.PhaseDecode, errors.KindMalformed},
		{errors.TypeMismatch(errors.PhaseLink, nil, "i32", "i64"), errors.PhaseLink, errors.KindTypeMismatch},
		{errors.OutOfBounds(errors.PhaseRuntime, nil, 9, 3), errors.PhaseRuntime, errors.KindOutOfBounds},
		{errors.InvalidUTF8(nil, []byte{0xff}), errors.PhaseDecode, errors.KindInvalidUTF8},
		{errors.MissingImport("env", "f"), errors.PhaseLink, errors.KindMissingImport},
		{errors.IncompatibleImport("env", "f", "kind"), errors.PhaseLink, errors.KindTypeMismatch},
		{errors.Mutability(errors.PhaseValidate, nil, "global 0"), errors.PhaseValidate, errors.KindMutability},
		{errors.Limits(errors.PhaseDecode, nil, "min > max"), errors.PhaseDecode, errors.KindLimits},
		{errors.Instantiation(stderrors.New("boom")), errors.PhaseLink, errors.KindInstantiation},
	}

	for _, tt := range tests {
		if tt.err.Phase != tt.phase || tt.err.Kind != tt.kind {
			t.Errorf("%v: got %s/%s, want %s/%s", tt.err, tt.err.Phase, tt.err.Kind, tt.phase, tt.kind)
		}
	}
}
