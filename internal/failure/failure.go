// Package failure defines the error taxonomy surfaced to callers of the
// operation controller. Every failure names the operation and address it
// belongs to.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	// Validation covers malformed parameters or addresses and model
	// constraint violations detected before any runtime side effect.
	Validation Kind = "ValidationError"
	// OperationNotFound means no handler is registered for the address and name.
	OperationNotFound Kind = "OperationNotFoundError"
	// CapabilityResolution means a required capability is missing or ambiguous.
	CapabilityResolution Kind = "CapabilityResolutionError"
	// RuntimeInstall means a runtime service failed to start or stop.
	RuntimeInstall Kind = "RuntimeInstallError"
	// TransformationRejected means a legacy peer cannot represent the operation.
	TransformationRejected Kind = "TransformationRejected"
	// AliasCycle means an alias rewrote an address to itself.
	AliasCycle Kind = "AliasCycleError"
	// Cancelled means the batch was aborted before completion.
	Cancelled Kind = "Cancelled"
)

// Error is a classified failure.
type Error struct {
	Kind      Kind
	Operation string
	Address   string
	// Details carries one entry per offending item, e.g. every rejected
	// attribute path of a transformation.
	Details []string
	Err     error
}

// New classifies err.
func New(kind Kind, operation, address string, err error) *Error {
	return &Error{Kind: kind, Operation: operation, Address: address, Err: err}
}

// Newf classifies a formatted message.
func Newf(kind Kind, operation, address, format string, args ...any) *Error {
	return New(kind, operation, address, fmt.Errorf(format, args...))
}

// WithDetails returns e after attaching details.
func (e *Error) WithDetails(details ...string) *Error {
	e.Details = append(e.Details, details...)
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	sb.WriteString(": operation ")
	sb.WriteString(fmt.Sprintf("%q", e.Operation))
	sb.WriteString(" at ")
	if e.Address == "" {
		sb.WriteString("/")
	} else {
		sb.WriteString(e.Address)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	if len(e.Details) > 0 {
		sb.WriteString(" [")
		sb.WriteString(strings.Join(e.Details, ", "))
		sb.WriteString("]")
	}
	return sb.String()
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first classified error in err's chain, or
// the empty Kind when err is unclassified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// As returns the classified error in err's chain, if any.
func As(err error) (*Error, bool) {
	var fe *Error
	ok := errors.As(err, &fe)
	return fe, ok
}
