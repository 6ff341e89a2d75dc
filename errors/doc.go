// Package errors provides structured error types for the imager binding layer.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the operation name, a detail message and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseValidate, errors.KindTypeMismatch).
//		Op("optimize").
//		Detail("expecting %q; given %q", "raw", "portable").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.UnsupportedPlatform("plan9")
//	err := errors.Consumed("save", 3)
//
// Engine-reported failures are wrapped with Native and keep their cause, so
// errors.Is and errors.As see through to whatever the engine returned.
package errors
