package orchestrator

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorUnwrapsUnderlyingCause(t *testing.T) {
	cause := errors.New("boom")
	err := newError(CodeTransient, "store unavailable", cause)

	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestErrorMessageIncludesCode(t *testing.T) {
	err := newError(CodeRateLimited, "slow down", nil)
	if !strings.Contains(err.Error(), CodeRateLimited.String()) {
		t.Fatalf("expected error string to include the code %q, got %q", CodeRateLimited.String(), err.Error())
	}
}
