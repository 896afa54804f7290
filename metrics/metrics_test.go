package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCacheLookup(t *testing.T) {
	RecordCacheLookup(CacheHit)
	RecordCacheLookup(CacheHit)
	RecordCacheLookup(CacheMiss)

	if got := testutil.ToFloat64(cacheLookups.WithLabelValues(string(CacheHit))); got < 2 {
		t.Fatalf("cache hit counter = %v, want >= 2", got)
	}
	if got := testutil.ToFloat64(cacheLookups.WithLabelValues(string(CacheMiss))); got < 1 {
		t.Fatalf("cache miss counter = %v, want >= 1", got)
	}
}

func TestRecordFetch(t *testing.T) {
	RecordFetch(true, 10*time.Millisecond)
	RecordFetch(false, 20*time.Millisecond)

	if got := testutil.ToFloat64(fetchTotal.WithLabelValues("ok")); got < 1 {
		t.Fatalf("fetch ok counter = %v, want >= 1", got)
	}
	if got := testutil.ToFloat64(fetchTotal.WithLabelValues("failed")); got < 1 {
		t.Fatalf("fetch failed counter = %v, want >= 1", got)
	}
}

func TestRecordAuthOutcome(t *testing.T) {
	RecordAuthOutcome("ok")
	RecordAuthOutcome("token_expired")

	if got := testutil.ToFloat64(authOutcomes.WithLabelValues("ok")); got < 1 {
		t.Fatalf("auth ok counter = %v, want >= 1", got)
	}
	if got := testutil.ToFloat64(authOutcomes.WithLabelValues("token_expired")); got < 1 {
		t.Fatalf("auth token_expired counter = %v, want >= 1", got)
	}
}
