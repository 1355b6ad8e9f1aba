// Package sweeper periodically removes sessions that outlived their retention window.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-insignia/internal/insights"
	"github.com/JakeFAU/marketplace-insignia/internal/metrics"
	"github.com/JakeFAU/marketplace-insignia/internal/session"
)

// DefaultSchedule runs a sweep every ten minutes.
const DefaultSchedule = "@every 10m"

// Lister finds sessions created before a cutoff.
type Lister interface {
	ListSessionsBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Cleaner deletes a single session.
type Cleaner interface {
	Cleanup(ctx context.Context, sessionID string) (session.CleanupResult, error)
}

// Config controls the sweep cadence and retention.
type Config struct {
	Schedule string
	TTL      time.Duration
}

// Sweeper deletes stale sessions on a cron schedule.
type Sweeper struct {
	lister  Lister
	cleaner Cleaner
	clock   insights.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Sweeper. A zero TTL defaults to 24 hours.
func New(lister Lister, cleaner Cleaner, clock insights.Clock, cfg Config, logger *zap.Logger) *Sweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{lister: lister, cleaner: cleaner, clock: clock, cfg: cfg, logger: logger}
}

// Sweep deletes every session older than the TTL and reports how many were removed.
// It keeps going past individual failures and returns them joined.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.cfg.TTL)
	ids, err := s.lister.ListSessionsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale sessions: %w", err)
	}
	var (
		removed int
		errs    []error
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := s.cleaner.Cleanup(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("cleanup %s: %w", id, err))
			continue
		}
		removed++
	}
	metrics.ObserveSwept(removed)
	return removed, errors.Join(errs...)
}

// Run schedules Sweep and blocks until ctx is done, then waits for a running sweep to finish.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(s.cfg.Schedule, func() {
		removed, err := s.Sweep(ctx)
		if err != nil {
			s.logger.Warn("sweep finished with errors", zap.Int("removed", removed), zap.Error(err))
			return
		}
		if removed > 0 {
			s.logger.Info("stale sessions removed", zap.Int("removed", removed))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweeper %q: %w", s.cfg.Schedule, err)
	}
	s.logger.Info("sweeper started", zap.String("schedule", s.cfg.Schedule), zap.Duration("ttl", s.cfg.TTL))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
