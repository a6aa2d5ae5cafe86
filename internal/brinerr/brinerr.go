// Package brinerr provides the shared typed error used across the store's
// components to distinguish the error kinds spec.md §7 enumerates.
package brinerr

import "fmt"

// Kind classifies a BrinError. NotFound and ConcurrentUpdate are
// deliberately absent: per spec.md §7 those are non-error return shapes,
// never a thrown error.
type Kind int

const (
	// StorageFailure is an I/O or page-store error; it propagates unchanged
	// and marks the affected block inconsistent until reload succeeds.
	StorageFailure Kind = iota
	// Corruption is a version/flag mismatch during deserialization; fatal
	// for the containing object, surfaced as invalid-argument.
	Corruption
	// InvariantViolation is a caller or internal-state error: a schema
	// contract broken by the caller (duplicate FK name, duplicate column,
	// unknown column in ALTER, auto-increment on multiple columns, invalid
	// PK type), or a documented invariant the data plane itself expects to
	// always hold (a dirty block found unloaded at checkpoint time, a
	// pinned checkpoint generation asked to reclaim a page).
	InvariantViolation
)

func (k Kind) String() string {
	switch k {
	case StorageFailure:
		return "StorageFailure"
	case Corruption:
		return "Corruption"
	case InvariantViolation:
		return "InvariantViolation"
	default:
		return "Unknown"
	}
}

// BrinError is a typed error carrying one of the kinds above, so callers
// can branch on failure category with errors.As instead of string
// matching.
type BrinError struct {
	Kind Kind
	Msg  string
	Err  error // wrapped cause, if any
}

func (e *BrinError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *BrinError) Unwrap() error { return e.Err }

// New constructs a BrinError with no wrapped cause.
func New(kind Kind, msg string) *BrinError {
	return &BrinError{Kind: kind, Msg: msg}
}

// Wrap constructs a BrinError wrapping an existing error.
func Wrap(kind Kind, err error, msg string) *BrinError {
	return &BrinError{Kind: kind, Msg: msg, Err: err}
}
