package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unclebandit/drip-service/internal/pkg/distlock"
	"github.com/unclebandit/drip-service/internal/pkg/logger"
)

// DripRunner is what the scheduler and workers need from DripService.
type DripRunner interface {
	RunDrip(ctx context.Context, dripID int64, shiftDays int) (*RunResult, error)
}

// EnabledLister lists the drips a tick should run.
type EnabledLister interface {
	ListEnabledIDs(ctx context.Context) ([]int64, error)
}

// ListEnabledIDs returns the ids of every enabled drip.
func (s *DripService) ListEnabledIDs(ctx context.Context) ([]int64, error) {
	drips, err := s.Drips.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(drips))
	for _, d := range drips {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// Scheduler runs every enabled drip once per interval. Each drip runs under
// its own lock so at most one runner per drip is active across processes.
type Scheduler struct {
	Runner   DripRunner
	Drips    EnabledLister
	Locks    distlock.Factory
	Interval time.Duration
	Log      *logger.Logger
}

func NewScheduler(svc *DripService, locks distlock.Factory, interval time.Duration) *Scheduler {
	return &Scheduler{Runner: svc, Drips: svc, Locks: locks, Interval: interval, Log: svc.log()}
}

func LockKey(dripID int64) string {
	return fmt.Sprintf("drip:%d", dripID)
}

// RunLocked runs one drip while holding its lock. A drip already running
// elsewhere returns distlock.ErrNotAcquired.
func (s *Scheduler) RunLocked(ctx context.Context, dripID int64, shiftDays int) (*RunResult, error) {
	if s.Locks == nil {
		return s.Runner.RunDrip(ctx, dripID, shiftDays)
	}
	var res *RunResult
	err := distlock.WithLock(ctx, s.Locks(LockKey(dripID)), func(ctx context.Context) error {
		var err error
		res, err = s.Runner.RunDrip(ctx, dripID, shiftDays)
		return err
	})
	return res, err
}

// Tick runs all enabled drips once. Failures are logged per drip and do not
// stop the others; the returned count is the number of runs that succeeded.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	ids, err := s.Drips.ListEnabledIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list enabled drips: %w", err)
	}
	ok := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return ok, ctx.Err()
		}
		_, err := s.RunLocked(ctx, id, 0)
		switch {
		case errors.Is(err, distlock.ErrNotAcquired):
			s.Log.Info("drip already running, skipped", "drip_id", id)
		case err != nil:
			s.Log.Error("scheduled drip run failed", "drip_id", id, "error", err)
		default:
			ok++
		}
	}
	return ok, nil
}

// Start ticks immediately and then every Interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.Log.Error("scheduler tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.Log.Info("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}
