package configstore

import (
	"database/sql"
	"testing"
	"time"

	"github.com/kestrelproxy/jwtauth/keyset"
)

func TestRowToIssuerConfigInline(t *testing.T) {
	r := issuerRow{
		name:       "https://issuer.example",
		audiences:  []byte(`["aud1","aud2"]`),
		pubkeyType: "pem",
		pubkeyVal:  sql.NullString{String: "-----BEGIN PUBLIC KEY-----\n...", Valid: true},
	}
	cfg, err := rowToIssuerConfig(r)
	if err != nil {
		t.Fatalf("rowToIssuerConfig() error = %v", err)
	}
	if cfg.KeySource.Format != keyset.PEM || len(cfg.KeySource.Inline) == 0 {
		t.Fatalf("cfg.KeySource = %+v", cfg.KeySource)
	}
	if _, ok := cfg.Audiences["aud1"]; !ok {
		t.Fatalf("audiences = %v, want aud1 present", cfg.Audiences)
	}
}

func TestRowToIssuerConfigRemoteWithTTL(t *testing.T) {
	r := issuerRow{
		name:       "https://issuer.example",
		pubkeyType: "jwks",
		pubkeyURI:  sql.NullString{String: "https://keys/x", Valid: true},
		pubkeyClus: sql.NullString{String: "keys", Valid: true},
		cacheTTL:   sql.NullInt64{Int64: 300, Valid: true},
		jwtHeaders: []byte(`["x-jwt-assertion"]`),
		jwtParams:  []byte(`["tok"]`),
	}
	cfg, err := rowToIssuerConfig(r)
	if err != nil {
		t.Fatalf("rowToIssuerConfig() error = %v", err)
	}
	if cfg.KeySource.Format != keyset.JWKS || cfg.KeySource.RemoteURI != "https://keys/x" {
		t.Fatalf("cfg.KeySource = %+v", cfg.KeySource)
	}
	if cfg.KeySource.CacheTTL != 300*time.Second {
		t.Fatalf("CacheTTL = %v, want 300s", cfg.KeySource.CacheTTL)
	}
	if len(cfg.JWTHeaders) != 1 || cfg.JWTHeaders[0] != "x-jwt-assertion" {
		t.Fatalf("JWTHeaders = %v", cfg.JWTHeaders)
	}
}

func TestRowToIssuerConfigRejectsUnknownType(t *testing.T) {
	r := issuerRow{name: "a", pubkeyType: "xml", pubkeyVal: sql.NullString{String: "x", Valid: true}}
	if _, err := rowToIssuerConfig(r); err == nil {
		t.Fatal("expected error for unrecognized pubkey_type")
	}
}

func TestRowToIssuerConfigRejectsNeitherSource(t *testing.T) {
	r := issuerRow{name: "a", pubkeyType: "pem"}
	if _, err := rowToIssuerConfig(r); err == nil {
		t.Fatal("expected error when pubkey has neither inline nor remote source")
	}
}

func TestDecodeJSONStringSliceEmptyIsNil(t *testing.T) {
	out, err := decodeJSONStringSlice(nil)
	if err != nil || out != nil {
		t.Fatalf("decodeJSONStringSlice(nil) = %v, %v", out, err)
	}
}
