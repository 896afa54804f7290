// Package metrics exposes Prometheus instrumentation for the
// authentication core: issuer cache hit/miss counts, key-fetch latency,
// and authentication outcomes by autherr.Kind.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jwtauth_issuer_cache_lookups_total",
			Help: "Issuer cache lookups, labeled by result (hit, miss, expired, unknown_issuer).",
		},
		[]string{"result"},
	)

	fetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jwtauth_key_fetch_total",
			Help: "Remote key-set fetches, labeled by outcome (ok, failed).",
		},
		[]string{"outcome"},
	)

	fetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jwtauth_key_fetch_duration_seconds",
			Help:    "Duration of remote key-set fetches in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	authOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jwtauth_authentications_total",
			Help: "Completed authentication attempts, labeled by outcome (ok, unauthenticated, or an autherr.Kind).",
		},
		[]string{"outcome"},
	)
)

// CacheResult names the labels recorded by RecordCacheLookup.
type CacheResult string

const (
	CacheHit           CacheResult = "hit"
	CacheMiss          CacheResult = "miss"
	CacheExpired       CacheResult = "expired"
	CacheUnknownIssuer CacheResult = "unknown_issuer"
)

// RecordCacheLookup increments the issuer cache counter for result.
func RecordCacheLookup(result CacheResult) {
	cacheLookups.WithLabelValues(string(result)).Inc()
}

// RecordFetch records one completed key fetch: whether it succeeded and
// how long it took.
func RecordFetch(ok bool, d time.Duration) {
	outcome := "failed"
	if ok {
		outcome = "ok"
	}
	fetchTotal.WithLabelValues(outcome).Inc()
	fetchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordAuthOutcome increments the terminal authentication-outcome counter.
// outcome is either "ok", "unauthenticated" (no token present), or an
// autherr.Kind string.
func RecordAuthOutcome(outcome string) {
	authOutcomes.WithLabelValues(outcome).Inc()
}
