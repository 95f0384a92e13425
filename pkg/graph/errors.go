package graph

import "fmt"

// ErrorKind enumerates the taxonomy returned by every [GraphStore] operation.
type ErrorKind string

const (
	KindMarkerMismatch ErrorKind = "MarkerMismatch"
	KindInvalidInput   ErrorKind = "InvalidInput"
	KindEntityNotFound ErrorKind = "EntityNotFound"
	KindValidationErr  ErrorKind = "ValidationError"
	KindIoError        ErrorKind = "IoError"
	KindTenantDenied   ErrorKind = "TenantDenied"
)

// StoreError is the concrete error type underlying the result-variant
// described by the specification: {ok, value} | {err, kind, message}.
// Every [GraphStore] failure is a *StoreError so callers can switch on Kind
// without string matching.
type StoreError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("graph: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("graph: %s: %s", e.Op, e.Kind)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError builds a [StoreError], wrapping err when non-nil.
func NewStoreError(op string, kind ErrorKind, err error) *StoreError {
	return &StoreError{Op: op, Kind: kind, Err: err}
}

// IsKind reports whether err is a *StoreError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	se, ok := err.(*StoreError)
	return ok && se.Kind == kind
}
