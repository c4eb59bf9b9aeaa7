package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refluxhq/reflux/internal/core"
	"github.com/refluxhq/reflux/internal/persistence"
)

// fakeStore records batches and can be told to fail: failN > 0 fails
// that many calls, failN < 0 fails every call.
type fakeStore struct {
	mu      sync.Mutex
	batches [][]core.RunLog
	failN   int
	calls   int
}

func (s *fakeStore) InsertLogBatch(_ context.Context, entries []core.RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failN < 0 || s.calls <= s.failN {
		return errors.New("store down")
	}
	batch := make([]core.RunLog, len(entries))
	copy(batch, entries)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *fakeStore) ListRunLogs(context.Context, string, ...persistence.LogQueryOption) ([]*core.RunLog, error) {
	return nil, nil
}

func (s *fakeStore) stored() []core.RunLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []core.RunLog
	for _, b := range s.batches {
		all = append(all, b...)
	}
	return all
}

func TestAppendAndFlush(t *testing.T) {
	store := &fakeStore{}
	l := New(store)

	l.Info("run-1", "a", "step started", map[string]any{"attempt": 1})
	l.Error("run-1", "a", "step failed", nil)
	require.NoError(t, l.Flush(context.Background()))

	entries := store.stored()
	require.Len(t, entries, 2)
	assert.Equal(t, "run-1", entries[0].RunID)
	assert.Equal(t, "a", entries[0].StepID)
	assert.Equal(t, core.LogInfo, entries[0].Level)
	assert.Equal(t, "step started", entries[0].Message)
	assert.JSONEq(t, `{"attempt":1}`, string(entries[0].Data))
	assert.False(t, entries[0].Timestamp.IsZero())
	assert.Equal(t, core.LogError, entries[1].Level)
	assert.Nil(t, entries[1].Data)
	assert.Equal(t, 0, l.Pending())
}

func TestSizeTriggeredFlush(t *testing.T) {
	store := &fakeStore{}
	l := New(store, WithBatchSize(5), WithFlushInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Start(ctx)

	for i := 0; i < 5; i++ {
		l.Debug("run-1", "", "tick", nil)
	}
	require.Eventually(t, func() bool {
		return len(store.stored()) == 5
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTimerTriggeredFlush(t *testing.T) {
	store := &fakeStore{}
	l := New(store, WithFlushInterval(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Start(ctx)

	l.Info("run-1", "", "one entry", nil)
	require.Eventually(t, func() bool {
		return len(store.stored()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDropAtCapacityExactCount(t *testing.T) {
	store := &fakeStore{}
	l := New(store, WithCapacity(10))

	for i := 0; i < 13; i++ {
		l.Info("run-1", "", "entry", nil)
	}
	assert.Equal(t, 10, l.Pending())
	assert.Equal(t, int64(3), l.Dropped())

	// Draining the buffer makes room again.
	require.NoError(t, l.Flush(context.Background()))
	l.Info("run-1", "", "after flush", nil)
	assert.Equal(t, 1, l.Pending())
	assert.Equal(t, int64(3), l.Dropped())
}

func TestOversizedDataTruncated(t *testing.T) {
	store := &fakeStore{}
	l := New(store)

	big := strings.Repeat("x", maxDataBytes+1)
	l.Info("run-1", "", "big payload", map[string]any{"blob": big})
	require.NoError(t, l.Flush(context.Background()))

	entries := store.stored()
	require.Len(t, entries, 1)

	var marker struct {
		Truncated    bool `json:"truncated"`
		OriginalSize int  `json:"original_size"`
	}
	require.NoError(t, json.Unmarshal(entries[0].Data, &marker))
	assert.True(t, marker.Truncated)
	assert.Greater(t, marker.OriginalSize, maxDataBytes)
}

func TestFlushFailureRebuffersInOrder(t *testing.T) {
	store := &fakeStore{failN: 1}
	l := New(store, WithBreakerThreshold(3))

	l.Info("run-1", "", "first", nil)
	l.Info("run-1", "", "second", nil)
	require.Error(t, l.Flush(context.Background()))
	assert.Equal(t, 2, l.Pending())
	assert.Equal(t, int64(0), l.Dropped())

	require.NoError(t, l.Flush(context.Background()))
	entries := store.stored()
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Message)
	assert.Equal(t, "second", entries[1].Message)
}

func TestBreakerDropsAfterConsecutiveFailures(t *testing.T) {
	store := &fakeStore{failN: -1}
	l := New(store, WithBreakerThreshold(3))

	l.Info("run-1", "", "doomed", nil)
	require.Error(t, l.Flush(context.Background()))
	require.Error(t, l.Flush(context.Background()))
	assert.Equal(t, 1, l.Pending())

	require.Error(t, l.Flush(context.Background()))
	assert.Equal(t, 0, l.Pending())
	assert.Equal(t, int64(1), l.Dropped())
}

func TestBreakerResetsOnSuccess(t *testing.T) {
	store := &fakeStore{failN: 2}
	l := New(store, WithBreakerThreshold(3))

	l.Info("run-1", "", "entry", nil)
	require.Error(t, l.Flush(context.Background()))
	require.Error(t, l.Flush(context.Background()))
	require.NoError(t, l.Flush(context.Background()))
	assert.Equal(t, int64(0), l.Dropped())

	// The failure streak restarted, so one more failure re-buffers
	// instead of dropping.
	store.mu.Lock()
	store.failN = store.calls + 1
	store.mu.Unlock()
	l.Info("run-1", "", "retry me", nil)
	require.Error(t, l.Flush(context.Background()))
	assert.Equal(t, 1, l.Pending())
}

func TestShutdownFlushesPending(t *testing.T) {
	store := &fakeStore{}
	l := New(store, WithFlushInterval(time.Hour))
	l.Start(context.Background())

	l.Info("run-1", "", "pending entry", nil)
	require.NoError(t, l.Shutdown(context.Background()))
	require.Len(t, store.stored(), 1)

	l.Info("run-1", "", "after shutdown", nil)
	assert.Equal(t, 0, l.Pending())
}

func TestLevelHelpers(t *testing.T) {
	store := &fakeStore{}
	l := New(store)

	l.Debug("r", "", "d", nil)
	l.Info("r", "", "i", nil)
	l.Warn("r", "", "w", nil)
	l.Error("r", "", "e", nil)
	require.NoError(t, l.Flush(context.Background()))

	entries := store.stored()
	require.Len(t, entries, 4)
	assert.Equal(t, core.LogDebug, entries[0].Level)
	assert.Equal(t, core.LogInfo, entries[1].Level)
	assert.Equal(t, core.LogWarn, entries[2].Level)
	assert.Equal(t, core.LogError, entries[3].Level)
}
