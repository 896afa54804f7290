package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/kestrelproxy/jwtauth/authn"
	"github.com/kestrelproxy/jwtauth/issuercache"
	"github.com/kestrelproxy/jwtauth/keyset"
)

// DefaultCacheExpirationSec is applied to a remote pubkey source when
// pubkey_cache_expiration_sec is omitted.
const DefaultCacheExpirationSec = 600

// PubKeySpec is the `pubkey` object of one issuer entry.
// Exactly one of Value or (URI, Cluster) must be set; Validate enforces it.
type PubKeySpec struct {
	Type                string `json:"type" yaml:"type" validate:"required,oneof=pem jwks"`
	Value               string `json:"value,omitempty" yaml:"value,omitempty"`
	URI                 string `json:"uri,omitempty" yaml:"uri,omitempty"`
	Cluster             string `json:"cluster,omitempty" yaml:"cluster,omitempty"`
	CacheExpirationSec  *int   `json:"pubkey_cache_expiration_sec,omitempty" yaml:"pubkey_cache_expiration_sec,omitempty"`
}

// IssuerSpec is one element of the `issuers` array.
type IssuerSpec struct {
	Name       string     `json:"name" yaml:"name" validate:"required"`
	Audiences  []string   `json:"audiences,omitempty" yaml:"audiences,omitempty"`
	PubKey     PubKeySpec `json:"pubkey" yaml:"pubkey" validate:"required"`
	JWTHeaders []string   `json:"jwt_headers,omitempty" yaml:"jwt_headers,omitempty"`
	JWTParams  []string   `json:"jwt_params,omitempty" yaml:"jwt_params,omitempty"`
}

// FilterConfig is the top-level filter configuration object.
type FilterConfig struct {
	Issuers      []IssuerSpec `json:"issuers" yaml:"issuers" validate:"required,min=1,dive"`
	UserinfoType string       `json:"userinfo_type,omitempty" yaml:"userinfo_type,omitempty" validate:"omitempty,oneof=payload payload_base64url header_payload_base64url"`
}

// LoadFilterConfigJSON parses and validates a JSON filter config blob.
func LoadFilterConfigJSON(blob []byte) (*FilterConfig, error) {
	var cfg FilterConfig
	if err := json.Unmarshal(blob, &cfg); err != nil {
		return nil, fmt.Errorf("decode filter config json: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFilterConfigYAML parses and validates a YAML filter config blob.
func LoadFilterConfigYAML(blob []byte) (*FilterConfig, error) {
	var cfg FilterConfig
	if err := yaml.Unmarshal(blob, &cfg); err != nil {
		return nil, fmt.Errorf("decode filter config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFilterConfigFile dispatches to the JSON or YAML loader by extension.
func LoadFilterConfigFile(path string, blob []byte) (*FilterConfig, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadFilterConfigYAML(blob)
	default:
		return LoadFilterConfigJSON(blob)
	}
}

// Validate enforces the structural rules that are fatal at construction
// time: required fields, a recognized pubkey type, and pubkey being
// exactly one of inline or remote.
func (c *FilterConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("filter config validation: %w", err)
	}
	for i := range c.Issuers {
		pk := c.Issuers[i].PubKey
		hasInline := pk.Value != ""
		hasRemote := pk.URI != "" || pk.Cluster != ""
		if hasInline == hasRemote {
			return fmt.Errorf("issuer %q: pubkey must supply exactly one of inline value or uri+cluster", c.Issuers[i].Name)
		}
		if hasRemote && (pk.URI == "" || pk.Cluster == "") {
			return fmt.Errorf("issuer %q: remote pubkey requires both uri and cluster", c.Issuers[i].Name)
		}
	}
	return nil
}

// Build converts the validated config into the issuercache/authn types that
// drive the authenticator. Invalid inline key material surfaces once the
// caller feeds the returned IssuerConfigs into issuercache.New, which is
// where the bytes actually get parsed.
func (c *FilterConfig) Build() ([]*issuercache.IssuerConfig, authn.Options, error) {
	if err := c.Validate(); err != nil {
		return nil, authn.Options{}, err
	}

	configs := make([]*issuercache.IssuerConfig, 0, len(c.Issuers))
	for _, is := range c.Issuers {
		format := keyset.PEM
		if is.PubKey.Type == "jwks" {
			format = keyset.JWKS
		}

		src := issuercache.KeySource{Format: format}
		if is.PubKey.Value != "" {
			src.Inline = []byte(is.PubKey.Value)
		} else {
			src.RemoteURI = is.PubKey.URI
			src.RemoteCluster = is.PubKey.Cluster
			ttlSec := DefaultCacheExpirationSec
			if is.PubKey.CacheExpirationSec != nil {
				ttlSec = *is.PubKey.CacheExpirationSec
			}
			if ttlSec > 0 {
				src.CacheTTL = time.Duration(ttlSec) * time.Second
			}
		}

		var audiences map[string]struct{}
		if len(is.Audiences) > 0 {
			audiences = make(map[string]struct{}, len(is.Audiences))
			for _, aud := range is.Audiences {
				audiences[aud] = struct{}{}
			}
		}

		configs = append(configs, &issuercache.IssuerConfig{
			Name:       is.Name,
			Audiences:  audiences,
			KeySource:  src,
			JWTHeaders: is.JWTHeaders,
			JWTParams:  is.JWTParams,
		})
	}

	opts := authn.Options{}
	if c.UserinfoType != "" {
		opts.UserinfoType = authn.UserinfoType(c.UserinfoType)
	}
	return configs, opts, nil
}
