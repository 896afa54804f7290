// Package autherr defines the stable, user-visible error taxonomy for the
// JWT authentication core. Every rejection the core can produce maps to one
// of these symbolic Kinds; the filter adapter turns a Kind into an HTTP 401
// with the Kind as the reason.
package autherr

import "fmt"

// Kind is one of the stable symbolic error names. These strings are
// user-visible (reject bodies, logs) and must not change.
type Kind string

const (
	BearerPrefixMissing Kind = "BearerPrefixMissing"
	BadFormat           Kind = "BadFormat"
	BadJSON             Kind = "BadJson"
	MissingClaim        Kind = "MissingClaim"
	Expired             Kind = "Expired"
	UnknownIssuer       Kind = "UnknownIssuer"
	AudienceNotAllowed  Kind = "AudienceNotAllowed"
	KeyFetchFailed      Kind = "KeyFetchFailed"
	KeyParseFailed      Kind = "KeyParseFailed"
	KidNotFound         Kind = "KidNotFound"
	SignatureInvalid    Kind = "SignatureInvalid"
)

// Error wraps a Kind with an optional underlying cause. All of the above
// Kinds map to HTTP 401 (see StatusCode); the filter applies that status
// at the boundary.
type Error struct {
	Kind Kind
	Err  error
}

// New builds a bare *Error carrying only a Kind.
func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Wrap builds an *Error carrying kind and an underlying cause for %w chains.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authn: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("authn: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// As reports whether err is (or wraps) an *Error and returns its Kind.
func As(err error) (Kind, bool) {
	if err == nil {
		return "", false
	}
	if ae, ok := err.(*Error); ok {
		return ae.Kind, true
	}
	if u, ok := err.(interface{ Unwrap() error }); ok {
		return As(u.Unwrap())
	}
	return "", false
}

// StatusCode maps any Kind to its HTTP status: every authentication
// failure in this subsystem is a 401.
func StatusCode(Kind) int { return 401 }
