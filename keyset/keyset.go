// Package keyset parses signing material, either a single PEM public key
// or a structured JWKS document, into a lookup the verify package can use
// to find the right key for a token.
package keyset

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kestrelproxy/jwtauth/autherr"
)

// Format names the declared shape of a key blob (the config's `pubkey.type`).
type Format string

const (
	PEM  Format = "pem"
	JWKS Format = "jwks"
)

// Family is the algorithm family a key supports.
type Family string

const (
	RS256 Family = "RS256"
	RS384 Family = "RS384"
	RS512 Family = "RS512"
	ES256 Family = "ES256"
)

// Entry is one usable verification key, optionally scoped to a key id.
type Entry struct {
	Kid    string // empty if the source had none (PEM, or a kid-less JWK)
	Family Family
	Key    crypto.PublicKey
}

// KeySet is the parsed signing material for one issuer. Invariant: every
// Entry parses under a supported family or was silently skipped; at least
// one Entry remains, or Parse fails.
type KeySet struct {
	entries []Entry
}

// Parse parses blob as format and returns a KeySet, or a KeyParseFailed error.
func Parse(format Format, blob []byte) (*KeySet, error) {
	switch format {
	case PEM:
		return parsePEM(blob)
	case JWKS:
		return parseJWKS(blob)
	default:
		return nil, autherr.Wrap(autherr.KeyParseFailed, fmt.Errorf("unsupported key format %q", format))
	}
}

func parsePEM(blob []byte) (*KeySet, error) {
	if key, err := jwt.ParseRSAPublicKeyFromPEM(blob); err == nil {
		return &KeySet{entries: []Entry{{Family: "", Key: key}}}, nil
	}
	if key, err := jwt.ParseECPublicKeyFromPEM(blob); err == nil {
		return &KeySet{entries: []Entry{{Family: ES256, Key: key}}}, nil
	}
	return nil, autherr.Wrap(autherr.KeyParseFailed, errors.New("pem block is not a supported RSA or EC public key"))
}

type jwksDoc struct {
	Keys []jsonWebKey `json:"keys"`
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	Crv string `json:"crv"`
	N   string `json:"n"`
	E   string `json:"e"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func parseJWKS(blob []byte) (*KeySet, error) {
	var doc jwksDoc
	if err := json.Unmarshal(blob, &doc); err != nil {
		return nil, autherr.Wrap(autherr.KeyParseFailed, err)
	}

	var entries []Entry
	for _, jwk := range doc.Keys {
		entry, ok := jwk.toEntry()
		if !ok {
			continue // unrecognized kty/alg: skipped, not fatal
		}
		entries = append(entries, entry)
	}

	if len(entries) == 0 {
		return nil, autherr.Wrap(autherr.KeyParseFailed, errors.New("jwks contains zero usable keys"))
	}
	return &KeySet{entries: entries}, nil
}

func (j jsonWebKey) toEntry() (Entry, bool) {
	switch j.Kty {
	case "RSA":
		fam, ok := inferRSAFamily(j.Alg)
		if !ok {
			return Entry{}, false
		}
		key, err := j.rsaPublicKey()
		if err != nil {
			return Entry{}, false
		}
		return Entry{Kid: j.Kid, Family: fam, Key: key}, true
	case "EC":
		if j.Crv != "P-256" || (j.Alg != "" && j.Alg != string(ES256)) {
			return Entry{}, false // only ES256 over P-256 is supported
		}
		key, err := j.ecPublicKey()
		if err != nil {
			return Entry{}, false
		}
		return Entry{Kid: j.Kid, Family: ES256, Key: key}, true
	default:
		return Entry{}, false
	}
}

func inferRSAFamily(alg string) (Family, bool) {
	switch alg {
	case "", string(RS256):
		// RS256 is the only unambiguous inference from kty=RSA when alg
		// is absent.
		return RS256, true
	case string(RS384):
		return RS384, true
	case string(RS512):
		return RS512, true
	default:
		return "", false
	}
}

func (j jsonWebKey) rsaPublicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus (n): %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent (e): %w", err)
	}
	if len(eBytes) == 0 {
		return nil, errors.New("invalid exponent (e): empty bytes")
	}

	eVal := 0
	for _, b := range eBytes {
		eVal = (eVal << 8) | int(b)
	}
	if eVal == 0 {
		return nil, errors.New("invalid exponent (e): value is zero")
	}

	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: eVal}, nil
}

func (j jsonWebKey) ecPublicKey() (*ecdsa.PublicKey, error) {
	xBytes, err := base64.RawURLEncoding.DecodeString(j.X)
	if err != nil {
		return nil, fmt.Errorf("invalid x: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(j.Y)
	if err != nil {
		return nil, fmt.Errorf("invalid y: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}

// Lookup returns entries matching family, optionally narrowed to kid.
// When kid is non-empty and no entry carries it, ok is false and the
// caller must not fall back to brute force.
func (ks *KeySet) Lookup(family Family, kid string) ([]Entry, bool) {
	if kid != "" {
		for _, e := range ks.entries {
			if e.Kid == kid {
				if e.Family != "" && e.Family != family {
					continue
				}
				return []Entry{e}, true
			}
		}
		return nil, false
	}

	var matches []Entry
	for _, e := range ks.entries {
		if e.Family == "" || e.Family == family {
			matches = append(matches, e)
		}
	}
	return matches, len(matches) > 0
}

// HasKid reports whether any entry declares kid, regardless of family.
func (ks *KeySet) HasKid(kid string) bool {
	for _, e := range ks.entries {
		if e.Kid == kid {
			return true
		}
	}
	return false
}

// Len reports the number of usable entries, mostly for tests.
func (ks *KeySet) Len() int { return len(ks.entries) }
