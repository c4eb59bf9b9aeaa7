package retention

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/refluxhq/reflux/internal/cmn/logger"
	"github.com/refluxhq/reflux/internal/cmn/logger/tag"
	"github.com/refluxhq/reflux/internal/core"
)

// DefaultSchedule runs cleanup once a day.
const DefaultSchedule = "@every 24h"

// Scheduler triggers periodic cleanups. A failed or contended run is
// logged and the schedule keeps going.
type Scheduler struct {
	service  *Service
	schedule string
	cron     *cron.Cron
}

// NewScheduler builds a scheduler over the service. An empty schedule
// selects the default.
func NewScheduler(service *Service, schedule string) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Scheduler{service: service, schedule: schedule}
}

// Start registers the cleanup entry and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(s.schedule, func() { s.runOnce(ctx) })
	if err != nil {
		return core.Validationf("invalid retention schedule %q: %v", s.schedule, err)
	}
	s.cron = c
	c.Start()
	logger.Info(ctx, "Retention scheduler started", tag.Schedule(s.schedule))
	return nil
}

// Stop halts the cron loop and waits for an in-flight cleanup to
// finish or the context to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
	logger.Info(ctx, "Retention scheduler stopped")
}

func (s *Scheduler) runOnce(ctx context.Context) {
	res, err := s.service.Cleanup(ctx, CleanupRequest{TriggeredBy: core.CleanupScheduled})
	switch {
	case errors.Is(err, core.ErrCleanupInProgress):
		logger.Warn(ctx, "Skipping scheduled cleanup, another instance holds the lock")
	case err != nil:
		logger.Error(ctx, "Scheduled cleanup failed", tag.Error(err))
	case len(res.Errors) > 0:
		logger.Warn(ctx, "Scheduled cleanup finished with errors",
			tag.Deleted(res.Deleted.Total()), tag.Count(len(res.Errors)))
	default:
		logger.Info(ctx, "Scheduled cleanup finished",
			tag.Deleted(res.Deleted.Total()),
			tag.Duration(time.Duration(res.DurationMS)*time.Millisecond))
	}
}
