// Package issuercache is the per-worker issuer -> (config, keyset, expiry)
// table. One Cache belongs to exactly one logical worker and is never
// shared across workers. Entry still carries a small mutex: a fetch
// completion can land on a goroutine other than the request's, so the
// handoff into the entry needs one even under that ownership discipline.
package issuercache

import (
	"sync"
	"time"

	"github.com/kestrelproxy/jwtauth/keyset"
)

// KeySource is exactly one of inline or remote; the zero value of the
// remote fields means "no remote source configured".
type KeySource struct {
	Format keyset.Format

	Inline []byte // non-nil iff this source is inline

	RemoteURI     string // non-empty iff this source is remote
	RemoteCluster string
	CacheTTL      time.Duration // 0 => never expire
}

// IssuerConfig is immutable, process-wide configuration for one issuer.
type IssuerConfig struct {
	Name       string
	Audiences  map[string]struct{} // empty => any audience accepted
	KeySource  KeySource
	JWTHeaders []string // custom header names carrying the token verbatim
	JWTParams  []string // query parameter names carrying the token
}

// Entry is the worker-local runtime state for one issuer. Fields are
// mutated by the owning worker and, for the key set and expiry, by a fetch
// completion that may arrive on a different goroutine; the mutex exists
// only for that cross-goroutine handoff, not for cross-worker sharing.
type Entry struct {
	Config *IssuerConfig

	mu      sync.RWMutex
	keySet  *keyset.KeySet
	expiry  time.Time
	hasExp  bool
	fetchID uint64 // non-zero iff a fetch is currently in flight for this entry
}

// KeySet returns the currently installed key set, if any.
func (e *Entry) KeySet() (*keyset.KeySet, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.keySet, e.keySet != nil
}

// Install replaces the entry's KeySet, setting expiry = now+TTL when
// TTL > 0, or clearing expiry entirely when TTL == 0.
func (e *Entry) Install(ks *keyset.KeySet, now time.Time, ttl time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keySet = ks
	if ttl > 0 {
		e.expiry = now.Add(ttl)
		e.hasExp = true
	} else {
		e.hasExp = false
	}
}

// Expired reports whether the entry's KeySet, if any, has passed its
// expiry as of now. An entry with no expiry is never expired.
func (e *Entry) Expired(now time.Time) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.hasExp {
		return false
	}
	return !now.Before(e.expiry)
}

// MarkFetching records id as the in-flight fetch handle for this entry and
// reports whether a fetch was already in flight. A new fetch is never
// started while one is outstanding.
func (e *Entry) MarkFetching(id uint64) (alreadyInFlight bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fetchID != 0 {
		return true
	}
	e.fetchID = id
	return false
}

// ClearFetching clears the in-flight marker if it still matches id.
func (e *Entry) ClearFetching(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fetchID == id {
		e.fetchID = 0
	}
}

// Cache is the per-worker issuer table. Construct one per logical worker;
// never share a Cache across workers.
type Cache struct {
	entries map[string]*Entry
}

// New builds a Cache from configs, parsing inline key material once at
// construction with no expiry. A parse failure for an inline key is a
// construction-time error.
func New(configs []*IssuerConfig) (*Cache, error) {
	c := &Cache{entries: make(map[string]*Entry, len(configs))}
	for _, cfg := range configs {
		entry := &Entry{Config: cfg}
		if cfg.KeySource.Inline != nil {
			ks, err := keyset.Parse(cfg.KeySource.Format, cfg.KeySource.Inline)
			if err != nil {
				return nil, err
			}
			entry.Install(ks, time.Now(), 0)
		}
		c.entries[cfg.Name] = entry
	}
	return c, nil
}

// Lookup returns the Entry for iss, or nil if iss is not registered. The
// returned pointer is stable for the cache's lifetime.
func (c *Cache) Lookup(iss string) *Entry {
	return c.entries[iss]
}
