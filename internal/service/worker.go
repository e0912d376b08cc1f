package service

import (
	"context"
	"errors"

	"github.com/unclebandit/drip-service/internal/pkg/distlock"
	"github.com/unclebandit/drip-service/internal/pkg/logger"
	"github.com/unclebandit/drip-service/internal/queue"
)

// LockedRunner runs a drip under its lock.
type LockedRunner interface {
	RunLocked(ctx context.Context, dripID int64, shiftDays int) (*RunResult, error)
}

// Worker processes on-demand drip run jobs
type Worker struct {
	Runner  LockedRunner
	JobChan <-chan queue.RunJob
	Log     *logger.Logger
}

// Constructor
func NewWorker(runner LockedRunner, jobChan <-chan queue.RunJob) *Worker {
	return &Worker{
		Runner:  runner,
		JobChan: jobChan,
		Log:     logger.Default(),
	}
}

// Handle runs one job. A drip locked by another runner is not an error: the
// holder is already sending it.
func (w *Worker) Handle(ctx context.Context, job queue.RunJob) error {
	res, err := w.Runner.RunLocked(ctx, job.DripID, job.ShiftDays)
	if errors.Is(err, distlock.ErrNotAcquired) {
		w.Log.Info("drip already running, job skipped", "drip_id", job.DripID)
		return nil
	}
	if err != nil {
		w.Log.Error("drip job failed", "drip_id", job.DripID, "shift_days", job.ShiftDays, "error", err)
		return err
	}
	if res == nil {
		w.Log.Info("drip disabled, job skipped", "drip_id", job.DripID)
		return nil
	}
	w.Log.Info("drip job done", "drip_id", job.DripID, "run_id", res.RunID.String(), "sent", res.Sent)
	return nil
}

// Start begins processing jobs until the channel closes or ctx is done
func (w *Worker) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-w.JobChan:
			if !ok {
				return
			}
			_ = w.Handle(ctx, job)
		}
	}
}
