package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsKindMatchesWrappedError(t *testing.T) {
	base := TransientError("dial postgres", errors.New("connection refused"))
	wrapped := fmt.Errorf("loading allocation: %w", base)
	if !IsKind(wrapped, KindTransient) {
		t.Fatal("expected wrapped error to still report KindTransient")
	}
	if IsKind(wrapped, KindFatal) {
		t.Fatal("did not expect KindFatal to match a transient error")
	}
}

func TestErrorIsMatchesByKindOnly(t *testing.T) {
	a := NotFoundError("allocation_not_found", "no allocation with id abc")
	b := NotFoundError("rule_not_found", "no rule for key xyz")
	if !errors.Is(a, b) {
		t.Fatal("expected two errors of the same Kind to satisfy errors.Is")
	}
	other := ConflictError("duplicate_active_action", "already queued")
	if errors.Is(a, other) {
		t.Fatal("did not expect errors of different Kind to satisfy errors.Is")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := FatalError("malformed tokens column", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected FatalError to unwrap to its cause")
	}
}
