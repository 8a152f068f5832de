package engine

import "fmt"

// TrapCode identifies the cause of a WebAssembly trap.
type TrapCode int

const (
	TrapUnreachable TrapCode = iota
	TrapMemoryOutOfBounds
	TrapDivideByZero
	TrapIntegerOverflow
	TrapInvalidConversion
	TrapTableOutOfBounds
	TrapUninitializedElement
	TrapIndirectCallTypeMismatch
	TrapCallStackExhausted
	TrapHostError
)

var trapMessages = map[TrapCode]string{
	TrapUnreachable:              "unreachable executed",
	TrapMemoryOutOfBounds:        "out of bounds memory access",
	TrapDivideByZero:             "integer divide by zero",
	TrapIntegerOverflow:          "integer overflow",
	TrapInvalidConversion:        "invalid conversion to integer",
	TrapTableOutOfBounds:         "undefined element",
	TrapUninitializedElement:     "uninitialized element",
	TrapIndirectCallTypeMismatch: "indirect call type mismatch",
	TrapCallStackExhausted:       "call stack exhausted",
	TrapHostError:                "host function error",
}

func (c TrapCode) String() string {
	if msg, ok := trapMessages[c]; ok {
		return msg
	}
	return fmt.Sprintf("unknown trap %d", int(c))
}

// Trap is the error returned when WebAssembly execution aborts. A trap
// unwinds the whole call stack; the instance remains usable afterwards.
type Trap struct {
	Cause error
	Func  string
	Code  TrapCode
}

// NewTrap creates a trap with the given code.
func NewTrap(code TrapCode) *Trap {
	return &Trap{Code: code}
}

func (t *Trap) Error() string {
	msg := "trap: " + t.Code.String()
	if t.Func != "" {
		msg += " in " + t.Func
	}
	if t.Cause != nil {
		msg += ": " + t.Cause.Error()
	}
	return msg
}

func (t *Trap) Unwrap() error {
	return t.Cause
}

// Is allows matching traps by code: errors.Is(err, &Trap{Code: c}).
func (t *Trap) Is(target error) bool {
	other, ok := target.(*Trap)
	if !ok {
		return false
	}
	return t.Code == other.Code
}

// AsTrap returns the error as a Trap if it is one.
func AsTrap(err error) (*Trap, bool) {
	for err != nil {
		if t, ok := err.(*Trap); ok {
			return t, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
