/*
This file is the durable job runtime. Workers poll the database for due jobs,
claim them one at a time with row locks so replicas never double-run a wallet,
and hand each claim to the run handler. Transient failures reschedule the job
after a delay; fatal failures disable it until the user intervenes.
*/

package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/LIT-Protocol/morphomax/internal/logger"
	"github.com/LIT-Protocol/morphomax/internal/types"
)

// Fataler marks errors whose job must not be retried.
type Fataler interface {
	FatalJobError() bool
}

// Handler runs one claimed job to completion.
type Handler interface {
	Run(ctx context.Context, job *types.ScheduledJob) error
}

// ClaimStore is the storage surface the worker drives.
type ClaimStore interface {
	ClaimDue(lockTimeout time.Duration) (*types.ScheduledJob, error)
	Finish(id uuid.UUID, nextRunAt *time.Time) error
	Fail(id uuid.UUID, reason string, nextRunAt *time.Time, disable bool) error
}

// WorkerConfig holds the worker's dependencies and timing.
type WorkerConfig struct {
	Store   ClaimStore
	Handler Handler

	PollInterval time.Duration
	LockTimeout  time.Duration
	RetryDelay   time.Duration
}

func (c WorkerConfig) validate() error {
	if c.Store == nil {
		return errors.New("claim store cannot be nil")
	}
	if c.Handler == nil {
		return errors.New("handler cannot be nil")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.LockTimeout <= 0 {
		return errors.New("lock timeout must be positive")
	}
	if c.RetryDelay <= 0 {
		return errors.New("retry delay must be positive")
	}
	return nil
}

// Worker claims and runs due jobs until its context is cancelled.
type Worker struct {
	cfg    WorkerConfig
	logger zerolog.Logger
}

// NewWorker creates a worker.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Worker{
		cfg:    cfg,
		logger: logger.GetForComponent("scheduler_worker"),
	}, nil
}

// Start blocks, polling for due jobs until ctx is cancelled. Each poll drains
// every currently due job before sleeping again.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info().
		Dur("pollInterval", w.cfg.PollInterval).
		Dur("lockTimeout", w.cfg.LockTimeout).
		Msg("Scheduler worker started")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		w.drain(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Scheduler worker stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.cfg.Store.ClaimDue(w.cfg.LockTimeout)
		if err != nil {
			w.logger.Error().Err(err).Msg("Failed to claim a due job")
			return
		}
		if job == nil {
			return
		}
		w.runClaimed(ctx, job)
	}
}

func (w *Worker) runClaimed(ctx context.Context, job *types.ScheduledJob) {
	started := time.Now()
	w.logger.Info().
		Str("job_id", job.ID.String()).
		Str("wallet", job.PKPInfo.EthAddress).
		Msg("Running claimed job")

	err := w.cfg.Handler.Run(ctx, job)
	if err == nil {
		next, scheduleErr := NextRun(job, time.Now())
		if scheduleErr != nil {
			// The run succeeded but the recurrence is unusable; park the job
			// rather than inventing a schedule for it.
			w.logger.Error().
				Err(scheduleErr).
				Str("job_id", job.ID.String()).
				Msg("Cannot compute next run, disabling job")
			if failErr := w.cfg.Store.Fail(job.ID, scheduleErr.Error(), nil, true); failErr != nil {
				w.logger.Error().Err(failErr).Str("job_id", job.ID.String()).Msg("Failed to disable job")
			}
			return
		}
		if finishErr := w.cfg.Store.Finish(job.ID, &next); finishErr != nil {
			w.logger.Error().Err(finishErr).Str("job_id", job.ID.String()).Msg("Failed to finish job")
			return
		}
		w.logger.Info().
			Str("job_id", job.ID.String()).
			Dur("took", time.Since(started)).
			Time("nextRunAt", next).
			Msg("Job finished")
		return
	}

	var fataler Fataler
	if errors.As(err, &fataler) && fataler.FatalJobError() {
		w.logger.Warn().
			Err(err).
			Str("job_id", job.ID.String()).
			Str("wallet", job.PKPInfo.EthAddress).
			Msg("Fatal job error, disabling job")
		if failErr := w.cfg.Store.Fail(job.ID, err.Error(), nil, true); failErr != nil {
			w.logger.Error().Err(failErr).Str("job_id", job.ID.String()).Msg("Failed to disable job")
		}
		return
	}

	retryAt := time.Now().Add(w.cfg.RetryDelay)
	w.logger.Error().
		Err(err).
		Str("job_id", job.ID.String()).
		Time("retryAt", retryAt).
		Msg("Job failed, scheduling retry")
	if failErr := w.cfg.Store.Fail(job.ID, err.Error(), &retryAt, false); failErr != nil {
		w.logger.Error().Err(failErr).Str("job_id", job.ID.String()).Msg("Failed to record job failure")
	}
}
