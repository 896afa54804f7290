// Package token parses a compact signed token (header.payload.signature)
// into its constituent parts without verifying the signature. Verification
// is the verify package's job; this package only decodes and exposes the
// standard claims.
package token

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/kestrelproxy/jwtauth/autherr"
)

// Token is the parsed form of a compact signed credential. The raw base64url
// segments are retained alongside the decoded maps so the original payload
// can be re-emitted byte-for-byte.
type Token struct {
	Header  map[string]interface{}
	Payload map[string]interface{}

	HeaderB64    string
	PayloadB64   string
	SignatureB64 string
	Raw          string
}

// Parse splits raw on '.', requiring exactly three non-empty segments, and
// base64url-decodes + JSON-parses the header and payload segments. It does
// not validate standard claims beyond type-checking them; call the accessor
// methods for that.
func Parse(raw string) (*Token, error) {
	segs := strings.Split(raw, ".")
	if len(segs) != 3 || segs[0] == "" || segs[1] == "" || segs[2] == "" {
		return nil, autherr.New(autherr.BadFormat)
	}

	headerJSON, err := decodeSegment(segs[0])
	if err != nil {
		return nil, autherr.Wrap(autherr.BadFormat, err)
	}
	payloadJSON, err := decodeSegment(segs[1])
	if err != nil {
		return nil, autherr.Wrap(autherr.BadFormat, err)
	}
	// The signature segment must still be valid base64url even though it is
	// not JSON; verify will decode it again when it actually checks bytes.
	if _, err := decodeSegment(segs[2]); err != nil {
		return nil, autherr.Wrap(autherr.BadFormat, err)
	}

	var header, payload map[string]interface{}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, autherr.Wrap(autherr.BadJSON, err)
	}
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil, autherr.Wrap(autherr.BadJSON, err)
	}

	return &Token{
		Header:       header,
		Payload:      payload,
		HeaderB64:    segs[0],
		PayloadB64:   segs[1],
		SignatureB64: segs[2],
		Raw:          raw,
	}, nil
}

func decodeSegment(seg string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(seg)
}

// SigningInput is the ASCII concatenation the signature was computed over.
func (t *Token) SigningInput() string {
	return t.HeaderB64 + "." + t.PayloadB64
}

// Signature decodes the raw signature bytes.
func (t *Token) Signature() ([]byte, error) {
	b, err := decodeSegment(t.SignatureB64)
	if err != nil {
		return nil, autherr.Wrap(autherr.BadFormat, err)
	}
	return b, nil
}

// Alg returns the required `alg` header claim.
func (t *Token) Alg() (string, error) {
	v, ok := t.Header["alg"]
	if !ok {
		return "", autherr.New(autherr.MissingClaim)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", autherr.New(autherr.MissingClaim)
	}
	return s, nil
}

// Kid returns the optional `kid` header claim.
func (t *Token) Kid() (string, bool) {
	v, ok := t.Header["kid"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Iss returns the required `iss` payload claim.
func (t *Token) Iss() (string, error) {
	v, ok := t.Payload["iss"]
	if !ok {
		return "", autherr.New(autherr.MissingClaim)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", autherr.New(autherr.MissingClaim)
	}
	return s, nil
}

// Exp returns the required `exp` payload claim as seconds since epoch.
func (t *Token) Exp() (int64, error) {
	v, ok := t.Payload["exp"]
	if !ok {
		return 0, autherr.New(autherr.MissingClaim)
	}
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, autherr.New(autherr.MissingClaim)
	}
}

// Aud returns the `aud` payload claim normalized to a set. A scalar string
// becomes a singleton set; an array becomes a set of its string elements;
// any other JSON type is a parse error. An absent `aud` returns an empty,
// non-nil set, so configured audiences reject a token that carries none.
func (t *Token) Aud() (map[string]struct{}, error) {
	v, ok := t.Payload["aud"]
	if !ok {
		return map[string]struct{}{}, nil
	}
	switch a := v.(type) {
	case string:
		return map[string]struct{}{a: {}}, nil
	case []interface{}:
		set := make(map[string]struct{}, len(a))
		for _, item := range a {
			s, ok := item.(string)
			if !ok {
				// A non-string audience element surfaces through the
				// same bucket as a malformed token.
				return nil, autherr.New(autherr.BadFormat)
			}
			set[s] = struct{}{}
		}
		return set, nil
	default:
		return nil, autherr.New(autherr.BadFormat)
	}
}
