// Package errors provides structured error types for the script-runtime library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: failing operation, source unit name, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseExecute, errors.KindException).
//		Op("qjs_eval").
//		Unit("app.js").
//		Detail("evaluation failed").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.ConstructionFailed("JS runtime", cause)
//	err := errors.Trap("qjs_eval", cause)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
