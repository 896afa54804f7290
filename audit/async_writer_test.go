package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func TestJSONLoggerEncodesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger(&buf)

	if err := l.Log(context.Background(), Event{RequestID: "r1", Outcome: "ok"}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := l.Log(context.Background(), Event{RequestID: "r2", Outcome: "unauthenticated"}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	dec := json.NewDecoder(&buf)
	var first, second Event
	if err := dec.Decode(&first); err != nil {
		t.Fatalf("decode first: %v", err)
	}
	if err := dec.Decode(&second); err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if first.RequestID != "r1" || second.RequestID != "r2" {
		t.Fatalf("got events %+v, %+v", first, second)
	}
}

func TestJSONLoggerDefaultsToStdoutWhenNilWriter(t *testing.T) {
	l := NewJSONLogger(nil)
	if l.enc == nil {
		t.Fatal("expected a non-nil encoder when writer is nil")
	}
}

// blockingSink never drains its Log calls until release is closed, letting
// tests observe AsyncLogger's blocking-vs-dropping behavior under backpressure.
type blockingSink struct {
	mu       sync.Mutex
	received []Event
	release  <-chan struct{}
}

func (s *blockingSink) Log(ctx context.Context, event Event) error {
	<-s.release
	s.mu.Lock()
	s.received = append(s.received, event)
	s.mu.Unlock()
	return nil
}

func TestAsyncLoggerDropsWhenFullAndNotBlocking(t *testing.T) {
	release := make(chan struct{})
	sink := &blockingSink{release: release}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	l := NewAsyncLogger(sink, 1, false, logger)
	defer func() {
		close(release)
		l.Close()
	}()

	// First Log is picked up by the worker goroutine immediately and blocks
	// on release, freeing the buffered slot for the second Log to occupy.
	if err := l.Log(context.Background(), Event{RequestID: "a"}); err != nil {
		t.Fatalf("first Log: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := l.Log(context.Background(), Event{RequestID: "b"}); err != nil {
		t.Fatalf("second Log: %v", err)
	}

	// Third Log finds the buffer full (worker still blocked on release,
	// second event occupying the one buffered slot) and must drop.
	if err := l.Log(context.Background(), Event{RequestID: "c"}); err != ErrAuditBufferFull {
		t.Fatalf("third Log: got %v, want ErrAuditBufferFull", err)
	}
}

func TestAsyncLoggerBlocksUntilContextCancelled(t *testing.T) {
	release := make(chan struct{})
	sink := &blockingSink{release: release}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	l := NewAsyncLogger(sink, 1, true, logger)
	defer func() {
		close(release)
		l.Close()
	}()

	if err := l.Log(context.Background(), Event{RequestID: "a"}); err != nil {
		t.Fatalf("first Log: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := l.Log(context.Background(), Event{RequestID: "b"}); err != nil {
		t.Fatalf("second Log: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Log(ctx, Event{RequestID: "c"}); err != context.DeadlineExceeded {
		t.Fatalf("blocked Log: got %v, want context.DeadlineExceeded", err)
	}
}

func TestAsyncLoggerDefaultsSinkAndBufferSize(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := NewAsyncLogger(nil, 0, false, logger)
	defer l.Close()

	if _, ok := l.sink.(*NoopLogger); !ok {
		t.Fatalf("expected nil sink to default to NoopLogger, got %T", l.sink)
	}
	if cap(l.events) != 1024 {
		t.Fatalf("expected default buffer size 1024, got %d", cap(l.events))
	}
}
