package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Sweeper runs Manager.ExpireIdle on a cron schedule.
type Sweeper struct {
	cron    *cron.Cron
	manager *Manager
	logger  *slog.Logger
}

// NewSweeper schedules idle expiry. schedule accepts standard five-field
// specs and descriptors such as "@every 1m".
func NewSweeper(manager *Manager, schedule string, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		cron:    cron.New(),
		manager: manager,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) sweep() {
	n, err := s.manager.ExpireIdle(context.Background())
	if err != nil {
		s.logger.Warn("idle session sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("expired idle sessions", "count", n)
	}
}

// AddJob schedules an extra housekeeping task alongside the sweep.
func (s *Sweeper) AddJob(schedule, name string, fn func()) error {
	if _, err := s.cron.AddFunc(schedule, fn); err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", schedule, name, err)
	}
	return nil
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running sweep to finish.
func (s *Sweeper) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
