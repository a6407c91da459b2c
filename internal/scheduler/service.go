package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/onnwee/event-companion/backend/internal/logger"
	"github.com/onnwee/event-companion/backend/internal/syncer"
)

// Syncer is the sync entry point the scheduler drives.
type Syncer interface {
	SyncAll(ctx context.Context) syncer.Result
}

// Service triggers a sync on a schedule, so queued retries and expired
// entries are handled even when connectivity never changes.
type Service struct {
	schedule Schedule
	target   Syncer
	stop     chan struct{}
	stopOnce sync.Once
	log      logger.Component
}

// NewService creates a new scheduler service
func NewService(schedule Schedule, target Syncer) *Service {
	return &Service{
		schedule: schedule,
		target:   target,
		stop:     make(chan struct{}),
		log:      logger.Component("scheduler"),
	}
}

// Start runs the scheduler loop until ctx is done or Stop is called.
func (s *Service) Start(ctx context.Context) {
	s.log.Ctx(ctx).Info("Starting scheduler service", "schedule", s.schedule.String())

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Ctx(ctx).Info("Scheduler stopped by context")
			return
		case <-s.stop:
			timer.Stop()
			s.log.Ctx(ctx).Info("Scheduler stopped by signal")
			return
		case <-timer.C:
			s.runOnce(ctx)
		}
	}
}

// Stop gracefully stops the scheduler
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Service) runOnce(ctx context.Context) {
	res := s.target.SyncAll(ctx)
	if !res.Ran {
		s.log.Ctx(ctx).Debug("Scheduled sync skipped", "reason", res.Skipped)
		return
	}
	s.log.Ctx(ctx).Info("Scheduled sync finished",
		"executed", res.Executed,
		"swept", res.Swept,
		"next_run", s.schedule.Next(time.Now()).Format(time.RFC3339))
}
