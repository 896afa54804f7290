package audit

import (
	"context"
	"time"
)

// Event represents one published audit record. The generic Actor/Action/
// Resource fields serve any HTTP-level business event (server/middleware's
// AuditMiddleware); the jwtauth-specific fields below are populated by
// filter.Middleware once per completed authentication, carrying the
// attribute bundle downstream policy/telemetry stages consume. A sink does
// not need to understand every field: both producers marshal the same
// envelope and a consumer ignores what it doesn't use.
type Event struct {
	ActorID   string            `json:"actor_id,omitempty"` // Who? (User UUID, System)
	Action    string            `json:"action,omitempty"`   // Did What? (CREATE_ORDER, DELETE_USER)
	Resource  string            `json:"resource,omitempty"` // On What? (Order:123)
	OldValue  interface{}       `json:"old_value,omitempty"`
	NewValue  interface{}       `json:"new_value,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	TraceID   string            `json:"trace_id,omitempty"`

	// jwtauth fields, populated by filter.Middleware.
	RequestID  string            `json:"request_id,omitempty"`
	Issuer     string            `json:"issuer,omitempty"`
	Subject    string            `json:"subject,omitempty"`
	Outcome    string            `json:"outcome,omitempty"`    // "ok" | "unauthenticated" | autherr.Kind
	ErrorKind  string            `json:"error_kind,omitempty"` // autherr.Kind, empty on success
	LatencyMS  int64             `json:"latency_ms,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Logger defines where the audit log goes (Console, File, Kafka).
type Logger interface {
	Log(ctx context.Context, event Event) error
}

// NoopLogger is for dev/testing.
type NoopLogger struct{}

func (n *NoopLogger) Log(ctx context.Context, event Event) error {
	return nil
}
