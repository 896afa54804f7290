package autherr

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(SignatureInvalid, cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}

	kind, ok := As(err)
	if !ok || kind != SignatureInvalid {
		t.Fatalf("As() = %v, %v; want SignatureInvalid, true", kind, ok)
	}
}

func TestAsThroughFmtWrap(t *testing.T) {
	base := New(Expired)
	wrapped := fmt.Errorf("verifying token: %w", base)

	kind, ok := As(wrapped)
	if !ok || kind != Expired {
		t.Fatalf("As() through fmt.Errorf = %v, %v; want Expired, true", kind, ok)
	}
}

func TestAsNotAnAuthErr(t *testing.T) {
	if _, ok := As(errors.New("plain")); ok {
		t.Fatalf("expected As() to reject a plain error")
	}
}

func TestStatusCodeAlwaysUnauthorized(t *testing.T) {
	for _, k := range []Kind{BadFormat, Expired, UnknownIssuer, SignatureInvalid} {
		if got := StatusCode(k); got != 401 {
			t.Errorf("StatusCode(%s) = %d, want 401", k, got)
		}
	}
}
