package verify

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"testing"

	"github.com/kestrelproxy/jwtauth/autherr"
	"github.com/kestrelproxy/jwtauth/keyset"
	"github.com/kestrelproxy/jwtauth/token"
)

func b64(v interface{}) string {
	b, _ := json.Marshal(v)
	return base64.RawURLEncoding.EncodeToString(b)
}

func rsaKeySetAndToken(t *testing.T, kid string) (*keyset.KeySet, *token.Token) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	pemBlob := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	ks, err := keyset.Parse(keyset.PEM, pemBlob)
	if err != nil {
		t.Fatalf("keyset.Parse: %v", err)
	}

	header := map[string]interface{}{"alg": "RS256"}
	if kid != "" {
		header["kid"] = kid
	}
	payload := map[string]interface{}{"iss": "i", "exp": 1}

	signingInput := b64(header) + "." + b64(payload)
	hash := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, hash[:])
	if err != nil {
		t.Fatalf("SignPKCS1v15: %v", err)
	}

	raw := signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
	tok, err := token.Parse(raw)
	if err != nil {
		t.Fatalf("token.Parse: %v", err)
	}
	return ks, tok
}

func TestVerifyRSAHappyPath(t *testing.T) {
	ks, tok := rsaKeySetAndToken(t, "")
	if err := Verify(tok, ks); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
}

func TestVerifyRSAWrongKeyFails(t *testing.T) {
	_, tok := rsaKeySetAndToken(t, "")

	// Swap in a fresh key set signed by a different private key.
	other, _ := rsa.GenerateKey(rand.Reader, 2048)
	der, _ := x509.MarshalPKIXPublicKey(&other.PublicKey)
	pemBlob := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	wrongKs, err := keyset.Parse(keyset.PEM, pemBlob)
	if err != nil {
		t.Fatalf("keyset.Parse: %v", err)
	}

	err = Verify(tok, wrongKs)
	if kind, ok := autherr.As(err); !ok || kind != autherr.SignatureInvalid {
		t.Fatalf("Verify() kind = %v, want SignatureInvalid", kind)
	}
}

func ecKeySet(t *testing.T, kid string) (*ecdsa.PrivateKey, *keyset.KeySet) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	xb := priv.PublicKey.X.Bytes()
	yb := priv.PublicKey.Y.Bytes()
	doc := map[string]interface{}{
		"keys": []map[string]interface{}{
			{"kty": "EC", "crv": "P-256", "kid": kid, "x": base64.RawURLEncoding.EncodeToString(xb), "y": base64.RawURLEncoding.EncodeToString(yb)},
		},
	}
	blob, _ := json.Marshal(doc)
	ks, err := keyset.Parse(keyset.JWKS, blob)
	if err != nil {
		t.Fatalf("keyset.Parse: %v", err)
	}
	return priv, ks
}

func ecToken(t *testing.T, kid string, sig []byte) *token.Token {
	t.Helper()
	header := map[string]interface{}{"alg": "ES256"}
	if kid != "" {
		header["kid"] = kid
	}
	payload := map[string]interface{}{"iss": "i", "exp": 1}
	raw := b64(header) + "." + b64(payload) + "." + base64.RawURLEncoding.EncodeToString(sig)
	tok, err := token.Parse(raw)
	if err != nil {
		t.Fatalf("token.Parse: %v", err)
	}
	return tok
}

func signRaw(t *testing.T, priv *ecdsa.PrivateKey, signingInput string) []byte {
	t.Helper()
	hash := sha256.Sum256([]byte(signingInput))
	r, s, err := ecdsa.Sign(rand.Reader, priv, hash[:])
	if err != nil {
		t.Fatalf("ecdsa.Sign: %v", err)
	}
	keyBytes := 32
	out := make([]byte, 2*keyBytes)
	rb := r.Bytes()
	sb := s.Bytes()
	copy(out[keyBytes-len(rb):keyBytes], rb)
	copy(out[2*keyBytes-len(sb):], sb)
	return out
}

func signDER(t *testing.T, priv *ecdsa.PrivateKey, signingInput string) []byte {
	t.Helper()
	hash := sha256.Sum256([]byte(signingInput))
	r, s, err := ecdsa.Sign(rand.Reader, priv, hash[:])
	if err != nil {
		t.Fatalf("ecdsa.Sign: %v", err)
	}
	der, err := asn1.Marshal(struct{ R, S *big.Int }{r, s})
	if err != nil {
		t.Fatalf("asn1.Marshal: %v", err)
	}
	return der
}

func TestVerifyES256RawForm(t *testing.T) {
	priv, ks := ecKeySet(t, "k1")
	header := map[string]interface{}{"alg": "ES256", "kid": "k1"}
	payload := map[string]interface{}{"iss": "i", "exp": 1}
	signingInput := b64(header) + "." + b64(payload)

	tok := ecToken(t, "k1", signRaw(t, priv, signingInput))
	if err := Verify(tok, ks); err != nil {
		t.Fatalf("Verify() raw sig error = %v", err)
	}
}

func TestVerifyES256DERForm(t *testing.T) {
	priv, ks := ecKeySet(t, "k1")
	header := map[string]interface{}{"alg": "ES256", "kid": "k1"}
	payload := map[string]interface{}{"iss": "i", "exp": 1}
	signingInput := b64(header) + "." + b64(payload)

	tok := ecToken(t, "k1", signDER(t, priv, signingInput))
	if err := Verify(tok, ks); err != nil {
		t.Fatalf("Verify() DER sig error = %v", err)
	}
}

func TestVerifyES256GarbageSignatureRejected(t *testing.T) {
	_, ks := ecKeySet(t, "k1")
	tok := ecToken(t, "k1", []byte("not-a-signature-at-all"))
	if err := Verify(tok, ks); err == nil {
		t.Fatal("expected rejection for garbage signature")
	}
}

func TestVerifyKidNotFound(t *testing.T) {
	ks, tok := rsaKeySetAndToken(t, "missing-kid")
	err := Verify(tok, ks)
	if kind, ok := autherr.As(err); !ok || kind != autherr.KidNotFound {
		t.Fatalf("Verify() kind = %v, want KidNotFound", kind)
	}
}

func TestVerifyKidPinsExactKeyEvenWithDecoys(t *testing.T) {
	// Two RSA keys in one set, token signed by the second one but declares
	// the first one's kid -> must fail, not brute force.
	privA, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	privB, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	jwkFor := func(kid string, pub *rsa.PublicKey) map[string]interface{} {
		return map[string]interface{}{
			"kty": "RSA", "kid": kid,
			"n": base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e": base64.RawURLEncoding.EncodeToString([]byte{0x01, 0x00, 0x01}),
		}
	}
	doc := map[string]interface{}{"keys": []interface{}{jwkFor("k1", &privA.PublicKey), jwkFor("k2", &privB.PublicKey)}}
	blob, _ := json.Marshal(doc)
	ks, err := keyset.Parse(keyset.JWKS, blob)
	if err != nil {
		t.Fatalf("keyset.Parse: %v", err)
	}

	header := map[string]interface{}{"alg": "RS256", "kid": "k1"}
	payload := map[string]interface{}{"iss": "i", "exp": 1}
	signingInput := b64(header) + "." + b64(payload)
	hash := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, privB, crypto.SHA256, hash[:])
	if err != nil {
		t.Fatalf("SignPKCS1v15: %v", err)
	}
	raw := signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
	tok, err := token.Parse(raw)
	if err != nil {
		t.Fatalf("token.Parse: %v", err)
	}

	err = Verify(tok, ks)
	if kind, ok := autherr.As(err); !ok || kind != autherr.SignatureInvalid {
		t.Fatalf("Verify() kind = %v, want SignatureInvalid (pinned to k1, signed by k2)", kind)
	}
}
