// Package errs defines the engine's error taxonomy: a small, closed
// set of concrete types rather than ad hoc fmt.Errorf strings, so callers
// can distinguish "this is a bug" from "treat this as no previous
// Analysis" from "the compiler asked to stop" with errors.As/errors.Is.
package errs

import "fmt"

// ContractViolation signals a programming-bug condition: a caller violated
// a documented precondition. GetOnce called twice is the condition that
// raises it; a class in relations.classes with no API entry is not
// reported, its API is read as the zero AnalyzedClass. It is always fatal;
// there is no recovery path.
type ContractViolation struct {
	Message string
}

func (e ContractViolation) Error() string {
	return "contract violation: " + e.Message
}

// NewContractViolation builds a ContractViolation with a formatted message.
func NewContractViolation(format string, args ...any) error {
	return ContractViolation{Message: fmt.Sprintf(format, args...)}
}

// FormatError signals that a persisted Analysis did not match the expected
// shape. Callers should treat this the same as having no
// previous Analysis at all, not as a fatal error.
type FormatError struct {
	Reason string
}

func (e FormatError) Error() string {
	return "analysis format error: " + e.Reason
}

// Cancellation is the sentinel a compiler driver returns (wrapped or bare,
// checked with errors.Is) to request cooperative cancellation of the
// current cycle. The driver never wraps it with additional
// context since it's discarded rather than surfaced.
var Cancellation = cancellationError{}

type cancellationError struct{}

func (cancellationError) Error() string { return "compilation cancelled" }

// CompilerFailure wraps any other error raised by the compile function:
// the Class-file Manager is rolled back and this error is
// propagated to the driver's caller unchanged in meaning, just named so
// callers can tell a driver-level failure from a compiler-level one.
type CompilerFailure struct {
	Err error
}

func (e CompilerFailure) Error() string {
	return fmt.Sprintf("compiler failure: %v", e.Err)
}

func (e CompilerFailure) Unwrap() error {
	return e.Err
}
