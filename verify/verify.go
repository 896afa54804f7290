// Package verify checks a parsed token's signature against a KeySet for the
// algorithm the token declares.
package verify

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"math/big"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kestrelproxy/jwtauth/autherr"
	"github.com/kestrelproxy/jwtauth/keyset"
	"github.com/kestrelproxy/jwtauth/token"
)

// Verify checks tok's signature against ks. If tok declares a kid absent
// from ks, it returns KidNotFound without attempting brute force. If no kid
// is declared, every entry matching the token's alg is tried until one
// succeeds.
func Verify(tok *token.Token, ks *keyset.KeySet) error {
	alg, err := tok.Alg()
	if err != nil {
		return err
	}
	family := keyset.Family(alg)

	kid, hasKid := tok.Kid()
	if hasKid && !ks.HasKid(kid) {
		return autherr.New(autherr.KidNotFound)
	}

	entries, ok := ks.Lookup(family, kid)
	if !ok || len(entries) == 0 {
		if hasKid {
			return autherr.New(autherr.KidNotFound)
		}
		return autherr.Wrap(autherr.SignatureInvalid, errors.New("no key matches token alg"))
	}

	sig, err := tok.Signature()
	if err != nil {
		return err
	}
	signingInput := tok.SigningInput()

	for _, e := range entries {
		if verifyOne(family, signingInput, sig, e.Key) {
			return nil
		}
	}
	return autherr.New(autherr.SignatureInvalid)
}

func verifyOne(family keyset.Family, signingInput string, sig []byte, key interface{}) bool {
	switch family {
	case keyset.RS256:
		return verifyRSA(jwt.SigningMethodRS256, signingInput, sig, key)
	case keyset.RS384:
		return verifyRSA(jwt.SigningMethodRS384, signingInput, sig, key)
	case keyset.RS512:
		return verifyRSA(jwt.SigningMethodRS512, signingInput, sig, key)
	case keyset.ES256:
		return verifyES256(signingInput, sig, key)
	default:
		return false
	}
}

func verifyRSA(method *jwt.SigningMethodRSA, signingInput string, sig []byte, key interface{}) bool {
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return false
	}
	return method.Verify(signingInput, sig, pub) == nil
}

// verifyES256 accepts both the raw fixed 64-byte (r||s) form golang-jwt
// produces and the DER-encoded ASN.1 form some issuers emit.
func verifyES256(signingInput string, sig []byte, key interface{}) bool {
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return false
	}

	if len(sig) == 64 {
		return jwt.SigningMethodES256.Verify(signingInput, sig, pub) == nil
	}
	return verifyDER(signingInput, sig, pub)
}

func verifyDER(signingInput string, sig []byte, pub *ecdsa.PublicKey) bool {
	r, s, ok := unmarshalDERSignature(sig)
	if !ok {
		return false
	}
	hash := jwt.SigningMethodES256.Hash.New()
	hash.Write([]byte(signingInput))
	return ecdsa.Verify(pub, hash.Sum(nil), r, s)
}

// unmarshalDERSignature decodes a minimal ASN.1 SEQUENCE{INTEGER r, INTEGER s}
// without pulling in encoding/asn1's full generality, matching the shape
// every ECDSA signer actually emits.
func unmarshalDERSignature(der []byte) (r, s *big.Int, ok bool) {
	if len(der) < 8 || der[0] != 0x30 {
		return nil, nil, false
	}
	rest := der[2:]
	rVal, rest, ok := readASN1Integer(rest)
	if !ok {
		return nil, nil, false
	}
	sVal, _, ok := readASN1Integer(rest)
	if !ok {
		return nil, nil, false
	}
	return rVal, sVal, true
}

func readASN1Integer(b []byte) (*big.Int, []byte, bool) {
	if len(b) < 2 || b[0] != 0x02 {
		return nil, nil, false
	}
	length := int(b[1])
	if len(b) < 2+length {
		return nil, nil, false
	}
	val := new(big.Int).SetBytes(b[2 : 2+length])
	return val, b[2+length:], true
}
