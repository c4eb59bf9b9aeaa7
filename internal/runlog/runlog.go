// Package runlog buffers run log entries in memory and flushes them to
// the store in batches, so logging never stalls workflow execution.
package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/refluxhq/reflux/internal/cmn/logger"
	"github.com/refluxhq/reflux/internal/cmn/logger/tag"
	"github.com/refluxhq/reflux/internal/core"
	"github.com/refluxhq/reflux/internal/persistence"
)

const (
	// DefaultBatchSize triggers a flush when this many entries are
	// pending.
	DefaultBatchSize = 100
	// DefaultFlushInterval flushes whatever is pending on a timer.
	DefaultFlushInterval = time.Second
	// DefaultCapacity bounds buffered entries; overflowing appends are
	// dropped, never blocked on.
	DefaultCapacity = 10_000
	// DefaultBreakerThreshold is the consecutive flush failure count
	// after which failed batches are dropped instead of re-buffered.
	DefaultBreakerThreshold = 3

	// maxDataBytes caps the serialized size of a single data payload.
	maxDataBytes = 100 * 1024
)

// Logger is the process-wide buffered run logger.
type Logger struct {
	store persistence.RunLogStore

	batchSize int
	interval  time.Duration
	capacity  int
	breaker   int

	mu       sync.Mutex
	buf      []core.RunLog
	failures int
	dropped  int64
	closed   bool

	kick chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// Option configures the logger.
type Option func(*Logger)

// WithBatchSize sets the flush threshold.
func WithBatchSize(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithFlushInterval sets the timer-driven flush period.
func WithFlushInterval(d time.Duration) Option {
	return func(l *Logger) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithCapacity sets the hard buffer cap.
func WithCapacity(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithBreakerThreshold sets the consecutive failure count that trips
// the breaker.
func WithBreakerThreshold(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.breaker = n
		}
	}
}

// New builds a logger. Call Start to begin timed flushing.
func New(store persistence.RunLogStore, opts ...Option) *Logger {
	l := &Logger{
		store:     store,
		batchSize: DefaultBatchSize,
		interval:  DefaultFlushInterval,
		capacity:  DefaultCapacity,
		breaker:   DefaultBreakerThreshold,
		kick:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start launches the flush loop. It returns immediately.
func (l *Logger) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.loop(ctx)
}

func (l *Logger) loop(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.flush(ctx)
		case <-l.kick:
			l.flush(ctx)
		case <-ctx.Done():
			return
		case <-l.done:
			return
		}
	}
}

// Shutdown stops the loop and flushes everything still pending.
func (l *Logger) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.done)
	l.wg.Wait()
	return l.Flush(ctx)
}

// Append queues one entry. At capacity the entry is dropped with a
// warning instead of blocking the caller.
func (l *Logger) Append(runID, stepID string, level core.LogLevel, message string, data any) {
	entry := core.RunLog{
		RunID:     runID,
		StepID:    stepID,
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Data:      encodeData(data),
	}

	l.mu.Lock()
	if l.closed || len(l.buf) >= l.capacity {
		l.dropped++
		dropped := l.dropped
		closed := l.closed
		l.mu.Unlock()
		if !closed {
			logger.Warn(context.Background(), "Run log buffer full, dropping entry",
				tag.RunID(runID), tag.Dropped(int(dropped)))
		}
		return
	}
	l.buf = append(l.buf, entry)
	pending := len(l.buf)
	l.mu.Unlock()

	if pending >= l.batchSize {
		select {
		case l.kick <- struct{}{}:
		default:
		}
	}
}

// Debug appends a debug entry.
func (l *Logger) Debug(runID, stepID, message string, data any) {
	l.Append(runID, stepID, core.LogDebug, message, data)
}

// Info appends an info entry.
func (l *Logger) Info(runID, stepID, message string, data any) {
	l.Append(runID, stepID, core.LogInfo, message, data)
}

// Warn appends a warn entry.
func (l *Logger) Warn(runID, stepID, message string, data any) {
	l.Append(runID, stepID, core.LogWarn, message, data)
}

// Error appends an error entry.
func (l *Logger) Error(runID, stepID, message string, data any) {
	l.Append(runID, stepID, core.LogError, message, data)
}

// Flush writes all pending entries now. Safe to call concurrently with
// Append.
func (l *Logger) Flush(ctx context.Context) error {
	return l.flush(ctx)
}

func (l *Logger) flush(ctx context.Context) error {
	l.mu.Lock()
	if len(l.buf) == 0 {
		l.mu.Unlock()
		return nil
	}
	batch := l.buf
	l.buf = nil
	l.mu.Unlock()

	err := l.store.InsertLogBatch(ctx, batch)
	if err == nil {
		l.mu.Lock()
		l.failures = 0
		l.mu.Unlock()
		return nil
	}

	l.mu.Lock()
	l.failures++
	open := l.failures >= l.breaker
	if open {
		l.dropped += int64(len(batch))
	} else {
		// Keep order: the failed batch goes back in front of anything
		// appended during the flush, trimmed to capacity.
		rebuffered := append(batch, l.buf...)
		if len(rebuffered) > l.capacity {
			l.dropped += int64(len(rebuffered) - l.capacity)
			rebuffered = rebuffered[:l.capacity]
		}
		l.buf = rebuffered
	}
	failures := l.failures
	l.mu.Unlock()

	if open {
		logger.Warn(ctx, "Run log flush failing, dropping batch",
			tag.Batch(len(batch)), tag.Count(failures), tag.Error(err))
	} else {
		logger.Warn(ctx, "Run log flush failed, re-buffered batch",
			tag.Batch(len(batch)), tag.Count(failures), tag.Error(err))
	}
	return err
}

// Dropped reports how many entries have been discarded since start.
func (l *Logger) Dropped() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Pending reports the buffered entry count.
func (l *Logger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buf)
}

// encodeData serializes a data payload, replacing oversized payloads
// with a truncation marker that records the original size.
func encodeData(data any) json.RawMessage {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return json.RawMessage(fmt.Sprintf(`{"marshal_error":%q}`, err.Error()))
	}
	if len(raw) > maxDataBytes {
		return json.RawMessage(fmt.Sprintf(`{"truncated":true,"original_size":%d}`, len(raw)))
	}
	return raw
}
