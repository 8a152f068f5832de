// Package errors provides structured error types for the motor engine.
//
// Errors carry a Phase (decode, validate, link, runtime) and a Kind
// (type_mismatch, out_of_bounds, missing_import, ...) so an embedder can
// classify failures without string matching:
//
//	var target *errors.Error
//	if stderrors.As(err, &target) && target.Phase == errors.PhaseDecode {
//	    // reject the module, nothing was instantiated
//	}
//
// Runtime traps are a separate type (engine.Trap); this package covers the
// recoverable pre-execution failures.
package errors
