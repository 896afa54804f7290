package issuercache

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/kestrelproxy/jwtauth/keyset"
)

func rsaPEM(t *testing.T) []byte {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func TestNewInstallsInlineKeysWithNoExpiry(t *testing.T) {
	cfg := &IssuerConfig{
		Name: "https://issuer.example",
		KeySource: KeySource{
			Format: keyset.PEM,
			Inline: rsaPEM(t),
		},
	}
	cache, err := New([]*IssuerConfig{cfg})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	entry := cache.Lookup(cfg.Name)
	if entry == nil {
		t.Fatal("Lookup() = nil")
	}
	if _, ok := entry.KeySet(); !ok {
		t.Fatal("expected inline keyset to be installed")
	}
	if entry.Expired(time.Now().Add(100 * 365 * 24 * time.Hour)) {
		t.Fatal("inline keys with no TTL should never expire")
	}
}

func TestNewRejectsBadInlineKey(t *testing.T) {
	cfg := &IssuerConfig{
		Name: "bad",
		KeySource: KeySource{
			Format: keyset.PEM,
			Inline: []byte("garbage"),
		},
	}
	if _, err := New([]*IssuerConfig{cfg}); err == nil {
		t.Fatal("expected construction to fail for invalid inline key")
	}
}

func TestLookupMissingIssuer(t *testing.T) {
	cache, err := New(nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if cache.Lookup("nope") != nil {
		t.Fatal("expected nil for unregistered issuer")
	}
}

func TestInstallAndExpiry(t *testing.T) {
	cache, err := New([]*IssuerConfig{{Name: "remote-issuer"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	entry := cache.Lookup("remote-issuer")
	if _, ok := entry.KeySet(); ok {
		t.Fatal("expected no keyset before install")
	}

	ks, err := keyset.Parse(keyset.PEM, rsaPEM(t))
	if err != nil {
		t.Fatalf("keyset.Parse: %v", err)
	}

	now := time.Now()
	entry.Install(ks, now, 10*time.Second)

	if entry.Expired(now) {
		t.Fatal("entry should not be expired immediately after install")
	}
	if !entry.Expired(now.Add(11 * time.Second)) {
		t.Fatal("entry should be expired after TTL elapses")
	}
}

func TestSingleFlightMarker(t *testing.T) {
	cache, err := New([]*IssuerConfig{{Name: "x"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	entry := cache.Lookup("x")

	if already := entry.MarkFetching(1); already {
		t.Fatal("first MarkFetching should report no fetch in flight")
	}
	if already := entry.MarkFetching(2); !already {
		t.Fatal("second MarkFetching while one is in flight should report true")
	}

	entry.ClearFetching(2) // stale id, should not clear
	if already := entry.MarkFetching(3); !already {
		t.Fatal("fetch marker should still be held by id 1")
	}

	entry.ClearFetching(1)
	if already := entry.MarkFetching(4); already {
		t.Fatal("fetch marker should be clear after matching ClearFetching")
	}
}
