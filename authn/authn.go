// Package authn is the per-request authenticator: it wires token
// extraction, issuer cache lookup, the fetch coordinator, signature
// verification, and the success header rewrite into one state machine.
//
// Envoy's original runs this as a suspend/resume state machine driven by
// decodeHeaders/StopIteration/Continue because a worker may not block. A Go
// HTTP handler (or a gRPC unary interceptor) already owns a dedicated
// goroutine per call, so Authenticate blocks synchronously instead of
// suspending a filter chain; the state machine's shape survives unchanged,
// only the suspension mechanism (a buffered channel standing in for the
// fetch coordinator's completion callback) is idiomatic Go rather than a
// callback into a filter manager.
package authn

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kestrelproxy/jwtauth/autherr"
	"github.com/kestrelproxy/jwtauth/fetch"
	"github.com/kestrelproxy/jwtauth/issuercache"
	"github.com/kestrelproxy/jwtauth/keyset"
	"github.com/kestrelproxy/jwtauth/metrics"
	"github.com/kestrelproxy/jwtauth/token"
	"github.com/kestrelproxy/jwtauth/verify"
)

// State names a point in the request authenticator state machine. It is
// exposed mainly for logging/metrics labeling.
type State string

const (
	StateInit      State = "init"
	StateHaveToken State = "have_token"
	StateFetching  State = "fetching"
	StateVerifying State = "verifying"
	StateDone      State = "done"
	StateAborted   State = "aborted"
)

// UserinfoType selects how the decoded token is rendered into the
// downstream header.
type UserinfoType string

const (
	UserinfoPayload                 UserinfoType = "payload"
	UserinfoPayloadBase64URL        UserinfoType = "payload_base64url"
	UserinfoHeaderPayloadBase64URL  UserinfoType = "header_payload_base64url"
	DefaultUserinfoHeader                        = "authenticated-userinfo"
	DefaultQueryParam                            = "access_token"
)

// Carrier abstracts the host's request so the same authenticator serves an
// HTTP middleware and a gRPC interceptor alike.
type Carrier interface {
	Header(name string) (string, bool)
	RemoveHeader(name string)
	SetHeader(name, value string)
	Query(name string) (string, bool)
}

// Outcome is the terminal result of one Authenticate call. On a successful
// verification, Attributes carries the bundle downstream policy/telemetry
// stages can consume without re-parsing the token: issuer, subject,
// audience, and expiry, plus whatever the issuer's raw claims add. filter
// forwards this bundle via contextx (HTTP) or gRPC metadata; audit
// publishes it as-is.
type Outcome struct {
	State         State
	Authenticated bool // true only on successful verification
	Err           error
	Attributes    map[string]string
}

// Options configures the downstream header rewrite and default token
// carrier locations.
type Options struct {
	UserinfoHeader    string
	UserinfoType      UserinfoType
	DefaultQueryParam string
}

func (o Options) withDefaults() Options {
	if o.UserinfoHeader == "" {
		o.UserinfoHeader = DefaultUserinfoHeader
	}
	if o.UserinfoType == "" {
		o.UserinfoType = UserinfoPayloadBase64URL
	}
	if o.DefaultQueryParam == "" {
		o.DefaultQueryParam = DefaultQueryParam
	}
	return o
}

// Authenticator is process-wide: it holds no per-request mutable state
// beyond what's passed into Authenticate, and is safe for concurrent use
// across any number of request-handling goroutines.
type Authenticator struct {
	cache        *issuercache.Cache
	coordinator  *fetch.Coordinator
	opts         Options
	extraHeaders []string
	extraParams  []string

	fetchSeq atomic.Uint64
	now      func() time.Time
}

// New builds an Authenticator over cache and coordinator. configs is used
// only to aggregate jwt_headers/jwt_params across all registered issuers:
// custom carriers are tried regardless of which issuer ultimately owns the
// token.
func New(cache *issuercache.Cache, coordinator *fetch.Coordinator, configs []*issuercache.IssuerConfig, opts Options) *Authenticator {
	a := &Authenticator{cache: cache, coordinator: coordinator, opts: opts.withDefaults(), now: time.Now}

	seenHeaders := map[string]bool{}
	seenParams := map[string]bool{}
	for _, cfg := range configs {
		for _, h := range cfg.JWTHeaders {
			if !seenHeaders[h] {
				seenHeaders[h] = true
				a.extraHeaders = append(a.extraHeaders, h)
			}
		}
		for _, p := range cfg.JWTParams {
			if !seenParams[p] {
				seenParams[p] = true
				a.extraParams = append(a.extraParams, p)
			}
		}
	}
	if len(a.extraParams) == 0 {
		a.extraParams = []string{a.opts.DefaultQueryParam}
	}
	return a
}

type tokenSource int

const (
	sourceNone tokenSource = iota
	sourceAuthHeader
	sourceOther
)

var errAborted = errors.New("authn: aborted")

// Authenticate runs the full state machine for one request. It blocks only
// while a key fetch is outstanding, and only as long as ctx stays live: if
// ctx is cancelled mid-fetch, the outstanding fetch is cancelled and
// Authenticate returns StateAborted without ever having rewritten headers.
func (a *Authenticator) Authenticate(ctx context.Context, c Carrier) *Outcome {
	out := a.authenticate(ctx, c)
	if out.State != StateAborted {
		metrics.RecordAuthOutcome(out.OutcomeLabel())
	}
	return out
}

// OutcomeLabel names the terminal result for the authn_outcome metric: "ok"
// on successful verification, "unauthenticated" for the no-token
// passthrough, or the autherr.Kind string otherwise.
func (o *Outcome) OutcomeLabel() string {
	if o.Err != nil {
		if kind, ok := autherr.As(o.Err); ok {
			return string(kind)
		}
		return "error"
	}
	if o.Authenticated {
		return "ok"
	}
	return "unauthenticated"
}

func (a *Authenticator) authenticate(ctx context.Context, c Carrier) *Outcome {
	raw, src, err := a.extract(c)
	if err != nil {
		return &Outcome{State: StateDone, Err: err}
	}
	if raw == "" {
		// Absence of a token is not an error; authentication is advisory
		// at this layer and the request continues unmodified.
		return &Outcome{State: StateDone, Authenticated: false}
	}

	tok, err := token.Parse(raw)
	if err != nil {
		return &Outcome{State: StateDone, Err: err}
	}

	now := a.now()

	exp, err := tok.Exp()
	if err != nil {
		return &Outcome{State: StateDone, Err: err}
	}
	if _, err := tok.Alg(); err != nil {
		return &Outcome{State: StateDone, Err: err}
	}
	iss, err := tok.Iss()
	if err != nil {
		return &Outcome{State: StateDone, Err: err}
	}
	if exp <= now.Unix() {
		return &Outcome{State: StateDone, Err: autherr.New(autherr.Expired)}
	}

	entry := a.cache.Lookup(iss)
	if entry == nil {
		metrics.RecordCacheLookup(metrics.CacheUnknownIssuer)
		return &Outcome{State: StateDone, Err: autherr.New(autherr.UnknownIssuer)}
	}

	if len(entry.Config.Audiences) > 0 {
		aud, err := tok.Aud()
		if err != nil {
			return &Outcome{State: StateDone, Err: err}
		}
		if disjoint(entry.Config.Audiences, aud) {
			return &Outcome{State: StateDone, Err: autherr.New(autherr.AudienceNotAllowed)}
		}
	}

	ks, ok := entry.KeySet()
	switch {
	case !ok:
		metrics.RecordCacheLookup(metrics.CacheMiss)
	case entry.Expired(now):
		metrics.RecordCacheLookup(metrics.CacheExpired)
	default:
		metrics.RecordCacheLookup(metrics.CacheHit)
	}
	if !ok || entry.Expired(now) {
		ks, err = a.fetchAndInstall(ctx, iss, entry)
		if err != nil {
			if errors.Is(err, errAborted) {
				return &Outcome{State: StateAborted}
			}
			return &Outcome{State: StateDone, Err: err}
		}
	}

	if err := verify.Verify(tok, ks); err != nil {
		return &Outcome{State: StateDone, Err: err}
	}

	a.rewriteHeaders(c, tok, src)
	return &Outcome{State: StateDone, Authenticated: true, Attributes: attributeBundle(iss, tok)}
}

// attributeBundle builds the attribute bundle forwarded to downstream
// policy/telemetry stages from the standard claims plus whatever else the
// issuer put in the payload. Values are flattened to strings since both
// contextx and gRPC metadata are string-valued carriers.
func attributeBundle(iss string, tok *token.Token) map[string]string {
	attrs := map[string]string{"issuer": iss}
	if sub, ok := tok.Payload["sub"].(string); ok && sub != "" {
		attrs["subject"] = sub
	}
	if aud, err := tok.Aud(); err == nil && len(aud) > 0 {
		list := make([]string, 0, len(aud))
		for a := range aud {
			list = append(list, a)
		}
		sort.Strings(list)
		attrs["audience"] = strings.Join(list, ",")
	}
	if exp, err := tok.Exp(); err == nil {
		attrs["expiry"] = strconv.FormatInt(exp, 10)
	}
	return attrs
}

// fetchAndInstall issues (or joins) a key fetch for iss and installs the
// resulting KeySet into entry. The fetch coordinator's callback delivers
// onto a buffered channel so cancellation can race it safely: a late,
// un-read callback just leaves its single buffered slot unread and is
// garbage collected, never blocking the fetch goroutine. A cancelled
// request's response body, if it still arrives, is silently dropped.
func (a *Authenticator) fetchAndInstall(ctx context.Context, iss string, entry *issuercache.Entry) (*keyset.KeySet, error) {
	src := entry.Config.KeySource

	// The entry's in-flight marker mirrors the coordinator's single-flight
	// state; only the request that set it clears it.
	id := a.fetchSeq.Add(1)
	if !entry.MarkFetching(id) {
		defer entry.ClearFetching(id)
	}

	results := make(chan fetch.Result, 1)
	ticket := a.coordinator.Fetch(iss, src.RemoteURI, src.RemoteCluster, fetch.DefaultTimeout, func(r fetch.Result) {
		results <- r
	})

	select {
	case <-ctx.Done():
		ticket.Cancel()
		return nil, errAborted
	case r := <-results:
		if !r.OK {
			return nil, autherr.New(autherr.KeyFetchFailed)
		}
		ks, err := keyset.Parse(src.Format, r.Body)
		if err != nil {
			return nil, err
		}
		entry.Install(ks, a.now(), src.CacheTTL)
		return ks, nil
	}
}

func (a *Authenticator) extract(c Carrier) (string, tokenSource, error) {
	if v, ok := c.Header("Authorization"); ok && v != "" {
		const prefix = "Bearer "
		if !strings.HasPrefix(v, prefix) {
			return "", sourceNone, autherr.New(autherr.BearerPrefixMissing)
		}
		return v[len(prefix):], sourceAuthHeader, nil
	}
	for _, h := range a.extraHeaders {
		if v, ok := c.Header(h); ok && v != "" {
			return v, sourceOther, nil
		}
	}
	for _, p := range a.extraParams {
		if v, ok := c.Query(p); ok && v != "" {
			return v, sourceOther, nil
		}
	}
	return "", sourceNone, nil
}

func (a *Authenticator) rewriteHeaders(c Carrier, tok *token.Token, src tokenSource) {
	if src == sourceAuthHeader {
		c.RemoveHeader("Authorization")
	}

	var value string
	switch a.opts.UserinfoType {
	case UserinfoPayload:
		b, _ := json.Marshal(tok.Payload)
		value = string(b)
	case UserinfoHeaderPayloadBase64URL:
		value = tok.HeaderB64 + "." + tok.PayloadB64
	default:
		value = tok.PayloadB64
	}
	c.SetHeader(a.opts.UserinfoHeader, value)
}

func disjoint(configured, tokenAud map[string]struct{}) bool {
	for k := range tokenAud {
		if _, ok := configured[k]; ok {
			return false
		}
	}
	return true
}
