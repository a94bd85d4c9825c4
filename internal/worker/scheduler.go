package worker

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"calsync/internal/store"
)

// Scheduler periodically enqueues a sync job for every enabled calendar.
// Webhooks cover calendars that push notifications; the schedule is the
// safety net for missed pushes and cursor drift.
type Scheduler struct {
	logger    *slog.Logger
	pool      *Pool
	calendars *store.CalendarStore
	cron      *cron.Cron
}

// NewScheduler builds a scheduler over the given pool.
func NewScheduler(logger *slog.Logger, pool *Pool, calendars *store.CalendarStore) *Scheduler {
	return &Scheduler{
		logger:    logger,
		pool:      pool,
		calendars: calendars,
		cron:      cron.New(),
	}
}

// Start registers the cron entry (standard cron spec or @every syntax) and
// starts ticking.
func (s *Scheduler) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.enqueueAll); err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}
	s.cron.Start()
	s.logger.Info("Sync scheduler started", "schedule", spec)
	return nil
}

// Stop halts the cron loop. Jobs already enqueued keep running.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) enqueueAll() {
	cals, err := s.calendars.ListEnabled()
	if err != nil {
		s.logger.Error("Failed to list calendars for scheduled sync", "error", err)
		return
	}
	for _, cal := range cals {
		s.pool.Enqueue(cal.ID)
	}
	s.logger.Debug("Scheduled sync enqueued", "calendars", len(cals))
}
