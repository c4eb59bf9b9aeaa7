package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/refluxhq/reflux/internal/cmn/logger"
	"github.com/refluxhq/reflux/internal/cmn/logger/tag"
	"github.com/refluxhq/reflux/internal/core"
	"github.com/refluxhq/reflux/internal/persistence"
)

const (
	// recorderBuffer bounds queued metric rows; the engine never blocks
	// on analytics, overflow is dropped and counted.
	recorderBuffer = 4096
	// recorderBatch is the max rows written per insert.
	recorderBatch = 200
	// recorderInterval flushes sub-batch queues on a timer.
	recorderInterval = 2 * time.Second
)

// Recorder writes execution metric rows to the store off the hot path.
// Record never blocks; rows are queued and inserted in batches by a
// background goroutine.
type Recorder struct {
	store persistence.MetricStore

	queue   chan core.Metric
	dropped atomic.Int64

	mu     sync.Mutex
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewRecorder builds a recorder. Call Start to begin draining.
func NewRecorder(store persistence.MetricStore) *Recorder {
	return &Recorder{
		store: store,
		queue: make(chan core.Metric, recorderBuffer),
		done:  make(chan struct{}),
	}
}

// Start launches the drain loop. It returns immediately.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

// Record queues one metric row. If the queue is full the row is
// dropped and counted; execution is never throttled by analytics.
func (r *Recorder) Record(m core.Metric) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.dropped.Add(1)
		return
	}
	r.mu.Unlock()

	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	select {
	case r.queue <- m:
	default:
		r.dropped.Add(1)
	}
}

// Dropped reports how many rows were discarded due to backpressure.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Shutdown stops intake, drains what is queued and waits for the loop
// to exit.
func (r *Recorder) Shutdown(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	close(r.done)
	waited := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
	}
}

func (r *Recorder) loop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(recorderInterval)
	defer ticker.Stop()

	batch := make([]core.Metric, 0, recorderBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.store.InsertMetrics(context.WithoutCancel(ctx), batch); err != nil {
			logger.Warn(ctx, "Metric batch insert failed", tag.Count(len(batch)), tag.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case m := <-r.queue:
			batch = append(batch, m)
			if len(batch) >= recorderBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.done:
			for {
				select {
				case m := <-r.queue:
					batch = append(batch, m)
					if len(batch) >= recorderBatch {
						flush()
					}
				default:
					flush()
					return
				}
			}
		case <-ctx.Done():
			flush()
			return
		}
	}
}
