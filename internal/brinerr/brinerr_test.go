package brinerr

import (
	"errors"
	"testing"
)

func TestNewHasNoCause(t *testing.T) {
	err := New(Corruption, "bad header")
	if err.Kind != Corruption {
		t.Fatalf("Kind = %v, want Corruption", err.Kind)
	}
	if err.Unwrap() != nil {
		t.Fatalf("Unwrap() = %v, want nil", err.Unwrap())
	}
	if got, want := err.Error(), "Corruption: bad header"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(StorageFailure, cause, "write page")

	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is should see through Wrap to the cause")
	}
	if got, want := err.Error(), "StorageFailure: write page: disk full"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestErrorsAsRecoversKind(t *testing.T) {
	var target *BrinError
	err := error(New(InvariantViolation, "duplicate column"))
	if !errors.As(err, &target) {
		t.Fatalf("errors.As failed to recover *BrinError")
	}
	if target.Kind != InvariantViolation {
		t.Fatalf("Kind = %v, want InvariantViolation", target.Kind)
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		StorageFailure:     "StorageFailure",
		Corruption:         "Corruption",
		InvariantViolation: "InvariantViolation",
		Kind(99):           "Unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Fatalf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
