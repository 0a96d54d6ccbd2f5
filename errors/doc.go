// Package errors provides structured error types for the socket facade.
//
// Errors are categorized by Phase (which operation failed) and Kind (error
// category). The Error type carries the handle the call was made on, a
// detail message and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseConnect, errors.KindInvalidArgument).
//		Handle(h).
//		Detail("port %d out of range", port).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.InvalidHandle(errors.PhaseRead, h)
//	err := errors.FromNet(errors.PhaseConnect, dialErr)
//
// Match by kind regardless of phase with the sentinels:
//
//	if errors.Is(err, errors.ErrInvalidHandle) { ... }
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
