package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var ErrAuditBufferFull = errors.New("audit: buffer full, log dropped")

// JSONLogger writes one JSON line per Event to w. It is the default
// dev/test sink; production deployments wrap a KafkaLogger instead.
type JSONLogger struct {
	enc *json.Encoder
	mu  sync.Mutex
}

func NewJSONLogger(w io.Writer) *JSONLogger {
	if w == nil {
		w = os.Stdout
	}
	return &JSONLogger{enc: json.NewEncoder(w)}
}

func (j *JSONLogger) Log(ctx context.Context, event Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(event)
}

// AsyncLogger buffers Events through a channel and drains them into sink
// from a single worker goroutine, so a slow downstream (Kafka broker,
// network-backed sink) never adds latency to the request that generated the
// event. BlockOnFull trades availability for delivery guarantees the same
// way audit.Config documents.
type AsyncLogger struct {
	events      chan Event
	sink        Logger
	wg          sync.WaitGroup
	logger      *slog.Logger
	closeOnce   sync.Once
	blockOnFull bool

	// Drop Strategy Stats
	dropCount   uint64
	lastLogTime atomic.Value
}

func NewAsyncLogger(sink Logger, bufferSize int, blockOnFull bool, logger *slog.Logger) *AsyncLogger {
	if sink == nil {
		sink = &NoopLogger{}
	}
	if bufferSize <= 0 {
		bufferSize = 1024
	}

	l := &AsyncLogger{
		events:      make(chan Event, bufferSize),
		sink:        sink,
		logger:      logger,
		blockOnFull: blockOnFull,
	}
	l.lastLogTime.Store(time.Unix(0, 0))

	l.wg.Add(1)
	go l.worker()

	return l
}

func (l *AsyncLogger) Log(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if l.blockOnFull {
		// STRATEGY: High Consistency
		select {
		case l.events <- event:
			return nil
		case <-ctx.Done():
			l.handleDrop(event.Action)
			return ctx.Err()
		}
	} else {
		// STRATEGY: High Availability
		select {
		case l.events <- event:
			return nil
		default:
			l.handleDrop(event.Action)
			return ErrAuditBufferFull
		}
	}
}

func (l *AsyncLogger) handleDrop(action string) {
	atomic.AddUint64(&l.dropCount, 1)

	now := time.Now()
	lastLog, ok := l.lastLogTime.Load().(time.Time)
	if !ok {
		lastLog = time.Unix(0, 0)
	}

	// Rate-limited warning to stderr/slog to notify ops that the system is under pressure
	if now.Sub(lastLog) > 1*time.Minute {
		l.lastLogTime.Store(now)
		totalDropped := atomic.SwapUint64(&l.dropCount, 0)

		l.logger.Error("AUDIT_LOG_CRITICAL_FAILURE",
			slog.Uint64("dropped_count", totalDropped),
			slog.String("reason", "buffer_full_or_timeout"),
			slog.Bool("blocking_mode", l.blockOnFull),
		)
	}
}

func (l *AsyncLogger) worker() {
	defer l.wg.Done()
	for event := range l.events {
		if err := l.sink.Log(context.Background(), event); err != nil {
			l.logger.Error("audit_sink_failed", slog.String("err", err.Error()))
		}
	}
}

func (l *AsyncLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.events)
	})
	l.wg.Wait()
	return nil
}
