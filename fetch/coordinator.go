// Package fetch is the single-flight, cancellable fetch coordinator for
// remote signing material. It issues at most one outstanding
// HTTP GET per (issuer, cluster) and fans the result out to every waiter
// registered while that fetch was in flight.
package fetch

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kestrelproxy/jwtauth/metrics"
)

// Result is what a completed fetch hands back to every waiter.
type Result struct {
	OK   bool
	Body []byte
}

// Callback receives the fetch outcome. It is invoked at most once, and not
// at all if the waiter cancelled before completion.
type Callback func(Result)

// Transport performs the actual GET against uri, routed by the host to
// cluster. An injected function rather than an interface: status/body/err
// mirror a plain HTTP round trip without requiring callers to depend on
// net/http types here.
type Transport func(ctx context.Context, uri, cluster string) (status int, body []byte, err error)

// DefaultTimeout is the fallback fetch timeout when none is supplied.
const DefaultTimeout = 5 * time.Second

// waiter holds one registered callback. take claims it atomically, so a
// cancel and a fetch completion racing over the same waiter resolve to
// exactly one winner: whichever takes the callback first.
type waiter struct {
	mu sync.Mutex
	cb Callback
}

func (w *waiter) take() Callback {
	w.mu.Lock()
	defer w.mu.Unlock()
	cb := w.cb
	w.cb = nil
	return cb
}

type inflight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters map[uint64]*waiter
}

// Coordinator de-duplicates concurrent fetches for the same key and routes
// cancellation per-waiter: a request arriving while a fetch for its key is
// outstanding joins that fetch instead of starting a second one.
type Coordinator struct {
	transport Transport
	tracer    trace.Tracer

	mu       sync.Mutex
	inflight map[string]*inflight
	nextID   uint64
}

// New builds a Coordinator that performs fetches via transport.
func New(transport Transport) *Coordinator {
	return &Coordinator{
		transport: transport,
		tracer:    otel.Tracer("jwtauth/fetch"),
		inflight:  make(map[string]*inflight),
	}
}

// Ticket is the cancellation handle one Fetch call returns to its waiter.
type Ticket struct {
	c   *Coordinator
	key string
	id  uint64
	w   *waiter
}

// Cancel withdraws this waiter's registration: once Cancel returns, the
// callback will not be invoked. If it was the last waiter on an in-flight
// fetch, the underlying HTTP request is cancelled too. Re-entrant
// cancellation is a no-op.
func (t *Ticket) Cancel() {
	// Claiming the callback first makes the no-callback guarantee hold even
	// if the fetch goroutine has already detached this in-flight entry and
	// is about to deliver results.
	t.w.take()

	t.c.mu.Lock()
	defer t.c.mu.Unlock()

	fl, ok := t.c.inflight[t.key]
	if !ok {
		return
	}
	delete(fl.waiters, t.id)
	if len(fl.waiters) == 0 {
		fl.cancel()
		delete(t.c.inflight, t.key)
	}
}

// Fetch registers cb to receive the result of fetching uri via cluster,
// keyed by key (normally the issuer name; callers may combine issuer and
// cluster if a single issuer could route through more than one cluster).
// If a fetch for key is already outstanding, cb joins it instead of
// triggering a second GET.
func (c *Coordinator) Fetch(key, uri, cluster string, timeout time.Duration, cb Callback) *Ticket {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c.mu.Lock()
	if fl, ok := c.inflight[key]; ok {
		id := c.nextID
		c.nextID++
		w := &waiter{cb: cb}
		fl.waiters[id] = w
		c.mu.Unlock()
		return &Ticket{c: c, key: key, id: id, w: w}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	id := c.nextID
	c.nextID++
	w := &waiter{cb: cb}
	fl := &inflight{ctx: ctx, cancel: cancel, waiters: map[uint64]*waiter{id: w}}
	c.inflight[key] = fl
	c.mu.Unlock()

	go c.run(key, uri, cluster, fl)

	return &Ticket{c: c, key: key, id: id, w: w}
}

func (c *Coordinator) run(key, uri, cluster string, fl *inflight) {
	defer fl.cancel()
	ctx, span := c.tracer.Start(fl.ctx, "jwtauth.fetch_keys",
		trace.WithAttributes(
			attribute.String("jwtauth.issuer_key", key),
			attribute.String("jwtauth.cluster", cluster),
		),
	)
	defer span.End()

	start := time.Now()
	status, body, err := c.transport(ctx, uri, cluster)

	c.mu.Lock()
	cur, ok := c.inflight[key]
	if ok && cur == fl {
		delete(c.inflight, key)
	}
	waiters := fl.waiters
	c.mu.Unlock()

	result := Result{OK: err == nil && status == 200 && len(body) > 0, Body: body}
	metrics.RecordFetch(result.OK, time.Since(start))
	if !result.OK {
		if err != nil {
			span.RecordError(err)
		}
		span.SetStatus(codes.Error, "key fetch failed")
	}

	for _, w := range waiters {
		if cb := w.take(); cb != nil {
			cb(result)
		}
	}
}
