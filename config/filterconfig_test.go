package config

import (
	"testing"

	"github.com/kestrelproxy/jwtauth/keyset"
)

func TestLoadFilterConfigJSONHappyPath(t *testing.T) {
	blob := []byte(`{
		"issuers": [
			{
				"name": "https://issuer.example",
				"audiences": ["aud1"],
				"pubkey": {"type": "pem", "value": "-----BEGIN PUBLIC KEY-----\nabc\n-----END PUBLIC KEY-----\n"}
			}
		],
		"userinfo_type": "payload"
	}`)
	cfg, err := LoadFilterConfigJSON(blob)
	if err != nil {
		t.Fatalf("LoadFilterConfigJSON() error = %v", err)
	}
	if len(cfg.Issuers) != 1 || cfg.Issuers[0].Name != "https://issuer.example" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadFilterConfigRejectsMissingName(t *testing.T) {
	blob := []byte(`{"issuers": [{"pubkey": {"type": "pem", "value": "x"}}]}`)
	if _, err := LoadFilterConfigJSON(blob); err == nil {
		t.Fatal("expected validation error for missing issuer name")
	}
}

func TestLoadFilterConfigRejectsBothInlineAndRemote(t *testing.T) {
	blob := []byte(`{"issuers": [{"name": "a", "pubkey": {"type": "pem", "value": "x", "uri": "https://k", "cluster": "c"}}]}`)
	if _, err := LoadFilterConfigJSON(blob); err == nil {
		t.Fatal("expected validation error when pubkey has both inline and remote sources")
	}
}

func TestLoadFilterConfigRejectsNeitherInlineNorRemote(t *testing.T) {
	blob := []byte(`{"issuers": [{"name": "a", "pubkey": {"type": "pem"}}]}`)
	if _, err := LoadFilterConfigJSON(blob); err == nil {
		t.Fatal("expected validation error when pubkey has neither inline nor remote source")
	}
}

func TestLoadFilterConfigRejectsInvalidPubkeyType(t *testing.T) {
	blob := []byte(`{"issuers": [{"name": "a", "pubkey": {"type": "xml", "value": "x"}}]}`)
	if _, err := LoadFilterConfigJSON(blob); err == nil {
		t.Fatal("expected validation error for unrecognized pubkey type")
	}
}

func TestBuildProducesRemoteKeySourceWithDefaultTTL(t *testing.T) {
	cfg := &FilterConfig{
		Issuers: []IssuerSpec{{
			Name:   "https://issuer.example",
			PubKey: PubKeySpec{Type: "jwks", URI: "https://keys/x", Cluster: "keys"},
		}},
	}
	configs, _, err := cfg.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if configs[0].KeySource.Format != keyset.JWKS {
		t.Fatalf("format = %v, want JWKS", configs[0].KeySource.Format)
	}
	if configs[0].KeySource.CacheTTL.Seconds() != DefaultCacheExpirationSec {
		t.Fatalf("CacheTTL = %v, want default", configs[0].KeySource.CacheTTL)
	}
}

func TestBuildZeroTTLMeansNeverExpire(t *testing.T) {
	zero := 0
	cfg := &FilterConfig{
		Issuers: []IssuerSpec{{
			Name:   "https://issuer.example",
			PubKey: PubKeySpec{Type: "pem", URI: "https://keys/x", Cluster: "keys", CacheExpirationSec: &zero},
		}},
	}
	configs, _, err := cfg.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if configs[0].KeySource.CacheTTL != 0 {
		t.Fatalf("CacheTTL = %v, want 0 (never expire)", configs[0].KeySource.CacheTTL)
	}
}
