package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/animus-labs/ailab/internal/domain"
	"github.com/animus-labs/ailab/internal/platform/logging"
	"github.com/animus-labs/ailab/internal/repo"
	"github.com/animus-labs/ailab/internal/training"
	"github.com/animus-labs/ailab/internal/training/trainer"
)

const defaultFinalizeTimeout = 30 * time.Second

// Trainer turns a run's parameters into its metrics payload.
type Trainer interface {
	Train(ctx context.Context, params domain.Value, runID string) (domain.Value, error)
}

// TrainerFunc adapts a function to Trainer.
type TrainerFunc func(ctx context.Context, params domain.Value, runID string) (domain.Value, error)

func (f TrainerFunc) Train(ctx context.Context, params domain.Value, runID string) (domain.Value, error) {
	return f(ctx, params, runID)
}

// UseTrainer runs params through t and returns the result as metrics.
func UseTrainer(t *trainer.Trainer) Trainer {
	return TrainerFunc(func(ctx context.Context, params domain.Value, runID string) (domain.Value, error) {
		res, err := t.Run(ctx, params, runID)
		if err != nil {
			return domain.Value{}, err
		}
		return res.Value(), nil
	})
}

type Service struct {
	runs     repo.RunRepository
	datasets repo.DatasetRepository
	queue    repo.JobQueue
	trainer  Trainer
	logger   *slog.Logger
	now      func() time.Time

	// FinalizeTimeout bounds the terminal status write, which is not tied to
	// the caller's context.
	FinalizeTimeout time.Duration
}

// New wires the lifecycle. queue may be nil when only synchronous execution
// is used.
func New(runs repo.RunRepository, datasets repo.DatasetRepository, queue repo.JobQueue, t Trainer, logger *slog.Logger) *Service {
	if runs == nil || datasets == nil || t == nil {
		return nil
	}
	return &Service{
		runs:            runs,
		datasets:        datasets,
		queue:           queue,
		trainer:         t,
		logger:          logging.OrDiscard(logger),
		now:             func() time.Time { return time.Now().UTC() },
		FinalizeTimeout: defaultFinalizeTimeout,
	}
}

// Enqueue schedules an asynchronous execution. A FAILED run moves back to
// QUEUED first; runs in any other non-startable status are rejected.
func (s *Service) Enqueue(ctx context.Context, runID string) (repo.Job, error) {
	if s.queue == nil {
		return repo.Job{}, errors.New("job queue not configured")
	}
	runID = strings.TrimSpace(runID)
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return repo.Job{}, err
	}
	switch run.Status {
	case domain.RunStatusQueued:
	case domain.RunStatusFailed:
		if _, err := s.transition(ctx, runID, domain.RunTransition{
			From: []domain.RunStatus{domain.RunStatusFailed},
			To:   domain.RunStatusQueued,
		}); err != nil {
			return repo.Job{}, err
		}
	default:
		return repo.Job{}, &repo.StatusError{RunID: runID, Status: run.Status, Want: domain.StartableStatuses()}
	}
	job, err := s.queue.Enqueue(ctx, runID)
	if err != nil {
		return repo.Job{}, fmt.Errorf("enqueue run: %w", err)
	}
	s.logger.Info("run enqueued", "run_id", runID, "job_id", job.ID)
	return job, nil
}

// StartSync executes the run in the caller's goroutine and returns its final
// state.
func (s *Service) StartSync(ctx context.Context, runID string) (domain.Run, error) {
	return s.Execute(ctx, runID)
}

// Execute runs the lifecycle sequence. Errors before the RUNNING transition
// (not found, not startable) are returned and leave the run untouched; after
// it the outcome is recorded on the run and the returned error is nil unless
// the terminal write itself failed.
func (s *Service) Execute(ctx context.Context, runID string) (domain.Run, error) {
	runID = strings.TrimSpace(runID)
	run, err := s.transition(ctx, runID, domain.RunTransition{
		From: domain.StartableStatuses(),
		To:   domain.RunStatusRunning,
	})
	if err != nil {
		var statusErr *repo.StatusError
		if errors.As(err, &statusErr) {
			s.logger.Warn("run start rejected", "run_id", runID, "status", statusErr.Status)
		}
		return domain.Run{}, err
	}

	started := time.Now()
	metrics, trainErr := s.train(ctx, run)

	final := domain.RunTransition{From: []domain.RunStatus{domain.RunStatusRunning}}
	if trainErr != nil {
		final.To = domain.RunStatusFailed
		final.Error = errorMessage(trainErr)
	} else {
		final.To = domain.RunStatusSucceeded
		final.Metrics = metrics
	}

	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.FinalizeTimeout)
	defer cancel()
	done, err := s.transition(finalizeCtx, runID, final)
	if errors.Is(err, repo.ErrPreconditionFailed) {
		current, getErr := s.runs.GetRun(finalizeCtx, runID)
		if getErr != nil {
			return domain.Run{}, getErr
		}
		s.logger.Warn("run outcome discarded", "run_id", runID, "status", current.Status, "outcome", final.To)
		return current, nil
	}
	if err != nil {
		return domain.Run{}, fmt.Errorf("record run outcome: %w", err)
	}
	if trainErr != nil {
		s.logger.Error("run failed", "run_id", runID, "error", final.Error, "duration_ms", time.Since(started).Milliseconds())
	}
	return done, nil
}

// Cancel moves a QUEUED or RUNNING run to CANCELED. A running training is not
// interrupted; its outcome is discarded when it finishes.
func (s *Service) Cancel(ctx context.Context, runID string) (domain.Run, error) {
	return s.transition(ctx, strings.TrimSpace(runID), domain.RunTransition{
		From: []domain.RunStatus{domain.RunStatusQueued, domain.RunStatusRunning},
		To:   domain.RunStatusCanceled,
	})
}

func (s *Service) transition(ctx context.Context, runID string, t domain.RunTransition) (domain.Run, error) {
	t.At = s.now()
	run, err := s.runs.TransitionRun(ctx, runID, t)
	if err != nil {
		return domain.Run{}, err
	}
	s.logger.Info("run transition", "run_id", runID, "from", t.From, "to", t.To)
	return run, nil
}

func (s *Service) train(ctx context.Context, run domain.Run) (metrics domain.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("training panicked: %v", r)
		}
	}()
	params, err := s.applyDatasetShortcut(ctx, run.Params)
	if err != nil {
		return domain.Value{}, err
	}
	return s.trainer.Train(ctx, params, run.ID)
}

// applyDatasetShortcut resolves a top-level dataset_id into dataset.csv_path
// and dataset.target_col. Values already set in the dataset section win.
func (s *Service) applyDatasetShortcut(ctx context.Context, params domain.Value) (domain.Value, error) {
	raw, ok := params.Get("dataset_id")
	if !ok || raw.IsNull() {
		return params, nil
	}
	id, ok := raw.AsString()
	if !ok {
		return domain.Value{}, training.Configurationf("dataset_id must be a string, got %s", raw.Kind())
	}
	if id = strings.TrimSpace(id); id == "" {
		return params, nil
	}
	ds, err := s.datasets.GetDataset(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Value{}, fmt.Errorf("dataset not found: %s", id)
	}
	if err != nil {
		return domain.Value{}, fmt.Errorf("get dataset: %w", err)
	}

	section, _ := params.Get("dataset")
	if !section.IsNull() && section.Kind() != domain.KindObject {
		return domain.Value{}, training.Configurationf("dataset must be an object, got %s", section.Kind())
	}
	if !isSet(section, "csv_path") {
		section = section.With("csv_path", domain.String(ds.URI))
	}
	if ds.TargetCol != nil && strings.TrimSpace(*ds.TargetCol) != "" && !isSet(section, "target_col") {
		section = section.With("target_col", domain.String(*ds.TargetCol))
	}
	return params.With("dataset", section), nil
}

func isSet(v domain.Value, key string) bool {
	f, ok := v.Get(key)
	return ok && !f.IsNull()
}

func errorMessage(err error) string {
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return fmt.Sprintf("%T", err)
	}
	return msg
}
