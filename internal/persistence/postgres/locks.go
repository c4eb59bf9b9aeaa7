package postgres

import (
	"context"
	"time"

	"github.com/refluxhq/reflux/internal/cmn/logger"
	"github.com/refluxhq/reflux/internal/cmn/logger/tag"
	"github.com/refluxhq/reflux/internal/core"
)

// cleanupLockID keys the cross-instance cleanup advisory lock. The
// value spells "reflux" in hex so a stray lock is identifiable in
// pg_locks.
const cleanupLockID int64 = 0x7265666c7578

// AcquireCleanupLock takes the cleanup advisory lock on a dedicated
// connection. Session locks must be released on the connection that
// took them, so the connection stays pinned until release is called.
func (s *Store) AcquireCleanupLock(ctx context.Context) (func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, core.StorageErr("acquire lock connection", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, cleanupLockID).Scan(&locked); err != nil {
		conn.Release()
		return nil, core.StorageErr("acquire cleanup lock", err)
	}
	if !locked {
		conn.Release()
		return nil, core.ErrCleanupInProgress
	}

	release := func() {
		// The caller's context may already be done when cleanup fails;
		// unlock under its own deadline so the lock never leaks.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, cleanupLockID); err != nil {
			logger.Warn(unlockCtx, "Failed to release cleanup lock", tag.Error(err))
		}
		conn.Release()
	}
	return release, nil
}
