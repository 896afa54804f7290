// Package filter bridges a host's transport-specific request lifecycle to
// the authn package's request authenticator.
//
// Envoy's filter adapter runs decodeHeaders/decodeData/decodeTrailers and
// answers Continue or StopIteration depending on whether authn.Authenticate
// suspended on a fetch. A net/http handler and a gRPC unary interceptor are
// both already synchronous from the host's point of view, with no separate
// decodeData/decodeTrailers step to stall, so this adapter collapses to
// "call Authenticate, then either reject or call the next handler"; the
// suspend/resume discipline is preserved one level down inside
// authn.Authenticate itself.
package filter

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/google/uuid"

	"github.com/kestrelproxy/jwtauth/audit"
	"github.com/kestrelproxy/jwtauth/authn"
	"github.com/kestrelproxy/jwtauth/autherr"
	"github.com/kestrelproxy/jwtauth/contextx"
	"github.com/kestrelproxy/jwtauth/http/response"
)

// attributesMetadataKey carries the JSON-encoded attribute bundle across
// the gRPC boundary, since metadata.MD has no nested-map concept.
const attributesMetadataKey = "x-jwtauth-attributes"

// Middleware adapts an authn.Authenticator to net/http and gRPC.
type Middleware struct {
	authn *authn.Authenticator
	audit audit.Logger
}

// New builds a Middleware delegating every request to a. The audit sink is
// optional; pass an *audit.NoopLogger (or nil) to disable publishing.
func New(a *authn.Authenticator, opts ...Option) *Middleware {
	m := &Middleware{authn: a, audit: &audit.NoopLogger{}}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Option configures optional Middleware behavior.
type Option func(*Middleware)

// WithAudit publishes one audit.Event per completed request through
// logger. Publishing is best-effort: the sink's error is ignored. The sink
// is called synchronously once the request has been handled, so a sink
// that blocks delays the handler's return.
func WithAudit(logger audit.Logger) Option {
	return func(m *Middleware) {
		if logger != nil {
			m.audit = logger
		}
	}
}

func (m *Middleware) publishAudit(ctx context.Context, requestID string, out *authn.Outcome, elapsed time.Duration) {
	var kind autherr.Kind
	if out.Err != nil {
		kind, _ = autherr.As(out.Err)
	}
	event := audit.Event{
		RequestID:  requestID,
		TraceID:    contextx.GetTraceID(ctx),
		Issuer:     out.Attributes["issuer"],
		Subject:    out.Attributes["subject"],
		Outcome:    out.OutcomeLabel(),
		ErrorKind:  string(kind),
		LatencyMS:  elapsed.Milliseconds(),
		Attributes: out.Attributes,
	}
	_ = m.audit.Log(context.Background(), event)
}

type httpCarrier struct {
	r *http.Request
}

func (c *httpCarrier) Header(name string) (string, bool) {
	v := c.r.Header.Get(name)
	if v == "" {
		return "", false
	}
	return v, true
}

func (c *httpCarrier) RemoveHeader(name string) { c.r.Header.Del(name) }
func (c *httpCarrier) SetHeader(name, value string) {
	c.r.Header.Set(name, value)
}

func (c *httpCarrier) Query(name string) (string, bool) {
	v := c.r.URL.Query().Get(name)
	if v == "" {
		return "", false
	}
	return v, true
}

// HTTPMiddleware rejects requests carrying an invalid token with a 401
// RFC 7807 problem body and symbolic error kind; a destroyed request
// (client gone while a key fetch was outstanding) is simply abandoned
// without writing a response.
func (m *Middleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := contextx.GetRequestID(r.Context())
		if requestID == "" {
			requestID = uuid.NewString()
		}

		out := m.authn.Authenticate(r.Context(), &httpCarrier{r: r})
		if out.State == authn.StateAborted {
			return
		}
		defer m.publishAudit(r.Context(), requestID, out, time.Since(start))

		if out.Err != nil {
			kind, _ := autherr.As(out.Err)
			response.ErrorProblem(w, r, autherr.StatusCode(kind), string(kind), out.Err.Error(), nil)
			return
		}

		ctx := r.Context()
		if out.Authenticated {
			ctx = contextx.WithAuthAttributes(ctx, out.Attributes)
			ctx = context.WithValue(ctx, contextx.AuthPrincipalIDKey, out.Attributes["subject"])
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type grpcCarrier struct {
	md metadata.MD
}

func (c *grpcCarrier) Header(name string) (string, bool) {
	vals := c.md.Get(name)
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

func (c *grpcCarrier) RemoveHeader(name string) { delete(c.md, strings.ToLower(name)) }
func (c *grpcCarrier) SetHeader(name, value string) {
	c.md.Set(name, value)
}

// Query is a no-op: gRPC carries no query-string concept, so jwt_params
// extraction never matches over this transport.
func (c *grpcCarrier) Query(string) (string, bool) { return "", false }

// GRPCUnaryInterceptor adapts the same authenticator to a unary gRPC call.
// Incoming metadata is copied before mutation so concurrent calls sharing
// the same underlying MD (rare, but metadata.MD is a map) never race.
func (m *Middleware) GRPCUnaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	requestID := contextx.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		md = metadata.MD{}
	}
	md = md.Copy()
	c := &grpcCarrier{md: md}

	out := m.authn.Authenticate(ctx, c)
	if out.State == authn.StateAborted {
		return nil, status.Error(codes.Canceled, "request aborted")
	}
	defer m.publishAudit(ctx, requestID, out, time.Since(start))

	if out.Err != nil {
		kind, _ := autherr.As(out.Err)
		return nil, status.Error(codes.Unauthenticated, string(kind))
	}

	if out.Authenticated {
		if b, err := json.Marshal(out.Attributes); err == nil {
			md.Set(attributesMetadataKey, string(b))
		}
		ctx = contextx.WithAuthAttributes(ctx, out.Attributes)
		ctx = context.WithValue(ctx, contextx.AuthPrincipalIDKey, out.Attributes["subject"])
	}

	return handler(metadata.NewIncomingContext(ctx, md), req)
}
