package errs

import (
	"errors"
	"io"
	"testing"
)

func TestWrapNilReturnsNil(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Fatalf("Wrap(nil) expected nil")
	}
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Fatalf("Wrapf(nil) expected nil")
	}
}

func TestWithKindSurvivesWrapping(t *testing.T) {
	base := WithKind(io.ErrUnexpectedEOF, KindNetwork)
	wrapped := Wrapf(base, "fetch %s", "/api/baskets")

	if got := KindOf(wrapped); got != KindNetwork {
		t.Fatalf("KindOf() = %q, want %q", got, KindNetwork)
	}
	if !IsKind(wrapped, KindNetwork) {
		t.Fatalf("IsKind(network) expected true")
	}
	if IsKind(wrapped, KindStorage) {
		t.Fatalf("IsKind(storage) expected false")
	}
	if !errors.Is(wrapped, io.ErrUnexpectedEOF) {
		t.Fatalf("errors.Is lost the cause")
	}
}

func TestKindOfUntagged(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Fatalf("KindOf() = %q", got)
	}
}

func TestErrorChainStrings(t *testing.T) {
	err := Wrap(Wrap(errors.New("disk full"), "put image"), "save image")
	chain := ErrorChainStrings(err)
	if len(chain) != 3 {
		t.Fatalf("chain len = %d: %v", len(chain), chain)
	}
	if chain[2] != "disk full" {
		t.Fatalf("chain[2] = %q", chain[2])
	}
}
