// Package logger implements a non-blocking, batched call logger.
//
// Every upstream provider call emits a CallLog. Entries go through an
// internal buffered channel and are flushed in batches by a background
// goroutine, so audit logging never blocks a generation call. If the channel
// fills up (> 10 000 entries), new entries are dropped and counted in
// DroppedLogs.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/storyflow/ai-gateway/internal/providers"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

// CallLog records one upstream provider call.
type CallLog struct {
	ID         uuid.UUID
	Capability providers.Capability
	Provider   string
	Operation  string
	Strategy   string
	LatencyMs  int64
	Status     string
	Error      string
	CreatedAt  time.Time
}

type Logger struct {
	ch        chan CallLog
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	droppedLogs int64

	baseCtx context.Context
	log     *slog.Logger
}

func New(ctx context.Context, slogger *slog.Logger) (*Logger, error) {
	if ctx == nil {
		return nil, fmt.Errorf("logger: context must not be nil")
	}
	if slogger == nil {
		slogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	l := &Logger{
		ch:      make(chan CallLog, channelBuffer),
		done:    make(chan struct{}),
		baseCtx: ctx,
		log:     slogger,
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

func (l *Logger) Log(entry CallLog) {
	select {
	case l.ch <- entry:
	default:
		atomic.AddInt64(&l.droppedLogs, 1)
	}
}

func (l *Logger) DroppedLogs() int64 {
	return atomic.LoadInt64(&l.droppedLogs)
}

func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	return nil
}

func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]CallLog, 0, batchSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			attrs := []slog.Attr{
				slog.String("id", e.ID.String()),
				slog.String("capability", string(e.Capability)),
				slog.String("provider", e.Provider),
				slog.String("operation", e.Operation),
				slog.String("strategy", e.Strategy),
				slog.Int64("latency_ms", e.LatencyMs),
				slog.String("status", e.Status),
				slog.Time("created_at", normalizeTime(e.CreatedAt)),
			}
			if e.Error != "" {
				attrs = append(attrs, slog.String("error", e.Error))
			}
			l.log.LogAttrs(ctx, slog.LevelInfo, "upstream_call", attrs...)
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-l.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush(l.baseCtx)
			}

		case <-ticker.C:
			flush(l.baseCtx)

		case <-l.done:
			for {
				select {
				case entry := <-l.ch:
					batch = append(batch, entry)
					if len(batch) >= batchSize {
						flush(l.baseCtx)
					}
				default:
					flush(l.baseCtx)
					return
				}
			}
		}
	}
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
