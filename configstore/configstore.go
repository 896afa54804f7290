// Package configstore loads the static issuer registry from Postgres once
// at process boot. Deliberately read-once: issuer updates are not served
// dynamically, so there is no watch loop here. A registry change means
// restarting the process, the same way config/loader.go's static config
// loading works.
package configstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kestrelproxy/jwtauth/database"
	"github.com/kestrelproxy/jwtauth/issuercache"
	"github.com/kestrelproxy/jwtauth/keyset"
)

// Schema expected in the `jwt_issuers` table:
//
//	name                      text primary key
//	audiences                 jsonb  -- []string, nullable
//	pubkey_type               text   -- 'pem' | 'jwks'
//	pubkey_value              text   -- inline key blob, nullable
//	pubkey_uri                text   -- nullable
//	pubkey_cluster            text   -- nullable
//	pubkey_cache_ttl_seconds  int    -- nullable, 0 => never expire
//	jwt_headers               jsonb  -- []string, nullable
//	jwt_params                jsonb  -- []string, nullable
const selectIssuersQuery = `
SELECT name, audiences, pubkey_type, pubkey_value, pubkey_uri, pubkey_cluster,
       pubkey_cache_ttl_seconds, jwt_headers, jwt_params
FROM jwt_issuers
ORDER BY name
`

type issuerRow struct {
	name       string
	audiences  []byte
	pubkeyType string
	pubkeyVal  sql.NullString
	pubkeyURI  sql.NullString
	pubkeyClus sql.NullString
	cacheTTL   sql.NullInt64
	jwtHeaders []byte
	jwtParams  []byte
}

// LoadIssuers reads every row of jwt_issuers and converts it into an
// issuercache.IssuerConfig. It does not parse inline key material itself;
// that happens when the caller feeds the result into issuercache.New,
// which is also where a malformed inline key becomes a fatal construction
// error.
func LoadIssuers(ctx context.Context, db *sql.DB) ([]*issuercache.IssuerConfig, error) {
	rows, err := db.QueryContext(ctx, selectIssuersQuery)
	if err != nil {
		return nil, fmt.Errorf("configstore: query jwt_issuers: %w", database.MapError(err))
	}
	defer rows.Close()

	var out []*issuercache.IssuerConfig
	for rows.Next() {
		var r issuerRow
		if err := rows.Scan(&r.name, &r.audiences, &r.pubkeyType, &r.pubkeyVal, &r.pubkeyURI,
			&r.pubkeyClus, &r.cacheTTL, &r.jwtHeaders, &r.jwtParams); err != nil {
			return nil, fmt.Errorf("configstore: scan jwt_issuers row: %w", err)
		}
		cfg, err := rowToIssuerConfig(r)
		if err != nil {
			return nil, fmt.Errorf("configstore: issuer %q: %w", r.name, err)
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("configstore: iterate jwt_issuers: %w", database.MapError(err))
	}
	return out, nil
}

func rowToIssuerConfig(r issuerRow) (*issuercache.IssuerConfig, error) {
	format := keyset.PEM
	switch r.pubkeyType {
	case "pem":
		format = keyset.PEM
	case "jwks":
		format = keyset.JWKS
	default:
		return nil, fmt.Errorf("unrecognized pubkey_type %q", r.pubkeyType)
	}

	src := issuercache.KeySource{Format: format}
	switch {
	case r.pubkeyVal.Valid && r.pubkeyVal.String != "":
		src.Inline = []byte(r.pubkeyVal.String)
	case r.pubkeyURI.Valid && r.pubkeyClus.Valid:
		src.RemoteURI = r.pubkeyURI.String
		src.RemoteCluster = r.pubkeyClus.String
		if r.cacheTTL.Valid && r.cacheTTL.Int64 > 0 {
			src.CacheTTL = time.Duration(r.cacheTTL.Int64) * time.Second
		}
	default:
		return nil, fmt.Errorf("pubkey is neither inline nor remote")
	}

	audiences, err := decodeJSONStringSet(r.audiences)
	if err != nil {
		return nil, fmt.Errorf("audiences: %w", err)
	}
	headers, err := decodeJSONStringSlice(r.jwtHeaders)
	if err != nil {
		return nil, fmt.Errorf("jwt_headers: %w", err)
	}
	params, err := decodeJSONStringSlice(r.jwtParams)
	if err != nil {
		return nil, fmt.Errorf("jwt_params: %w", err)
	}

	return &issuercache.IssuerConfig{
		Name:       r.name,
		Audiences:  audiences,
		KeySource:  src,
		JWTHeaders: headers,
		JWTParams:  params,
	}, nil
}

func decodeJSONStringSlice(blob []byte) ([]string, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(blob, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeJSONStringSet(blob []byte) (map[string]struct{}, error) {
	list, err := decodeJSONStringSlice(blob)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	set := make(map[string]struct{}, len(list))
	for _, v := range list {
		set[v] = struct{}{}
	}
	return set, nil
}
