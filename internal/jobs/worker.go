// Package jobs drains the run job queue.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/animus-labs/ailab/internal/domain"
	"github.com/animus-labs/ailab/internal/platform/env"
	"github.com/animus-labs/ailab/internal/platform/logging"
	"github.com/animus-labs/ailab/internal/repo"
	"golang.org/x/sync/errgroup"
)

// Executor runs one execution request for a run.
type Executor interface {
	Execute(ctx context.Context, runID string) (domain.Run, error)
}

type Config struct {
	Concurrency       int
	PollInterval      time.Duration
	VisibilityTimeout time.Duration
}

func ConfigFromEnv() (Config, error) {
	concurrency, err := env.Int("AILAB_WORKER_CONCURRENCY", 2)
	if err != nil {
		return Config{}, err
	}
	poll, err := env.Duration("AILAB_WORKER_POLL_INTERVAL", 2*time.Second)
	if err != nil {
		return Config{}, err
	}
	visibility, err := env.Duration("AILAB_JOB_VISIBILITY_TIMEOUT", 30*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{Concurrency: concurrency, PollInterval: poll, VisibilityTimeout: visibility}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("AILAB_WORKER_CONCURRENCY must be positive, got %d", c.Concurrency)
	}
	if c.PollInterval <= 0 {
		return errors.New("AILAB_WORKER_POLL_INTERVAL must be positive")
	}
	if c.VisibilityTimeout <= 0 {
		return errors.New("AILAB_JOB_VISIBILITY_TIMEOUT must be positive")
	}
	return nil
}

type Worker struct {
	queue  repo.JobQueue
	exec   Executor
	cfg    Config
	logger *slog.Logger
}

func NewWorker(queue repo.JobQueue, exec Executor, cfg Config, logger *slog.Logger) (*Worker, error) {
	if queue == nil || exec == nil {
		return nil, errors.New("job queue and executor are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Worker{queue: queue, exec: exec, cfg: cfg, logger: logging.OrDiscard(logger)}, nil
}

// Run polls until ctx is canceled. Each of Concurrency loops drains the queue
// on every tick.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		slot := i
		g.Go(func() error {
			w.loop(ctx, slot)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, slot int) {
	logger := w.logger.With("component", "worker", "slot", slot)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		for {
			processed, err := w.ProcessOne(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("process job failed", "error", err)
			}
			if !processed || err != nil {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOne claims and executes one job. It reports whether a job was
// claimed. A job is acked once its execution request has been answered,
// including duplicate deliveries for runs that are no longer startable; it is
// left for redelivery when the run store could not be reached.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	job, ok, err := w.queue.Claim(ctx, w.cfg.VisibilityTimeout)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if !ok {
		return false, nil
	}
	logger := w.logger.With("job_id", job.ID, "run_id", job.RunID, "attempt", job.Attempts)

	run, err := w.exec.Execute(ctx, job.RunID)
	switch {
	case err == nil:
		logger.Info("job finished", "status", run.Status)
	case errors.Is(err, repo.ErrPreconditionFailed):
		logger.Info("duplicate delivery skipped", "error", err)
	case errors.Is(err, repo.ErrNotFound):
		logger.Warn("job references missing run")
	default:
		return true, fmt.Errorf("execute run %s: %w", job.RunID, err)
	}
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.queue.Ack(ackCtx, job.ID); err != nil {
		return true, fmt.Errorf("ack job %s: %w", job.ID, err)
	}
	return true, nil
}
