package repo

import (
	"context"
	"time"

	"github.com/animus-labs/ailab/internal/domain"
)

type ProjectFilter struct {
	Branch domain.Branch
	Limit  int
}

type ExperimentFilter struct {
	ProjectID string
	Limit     int
}

type DatasetFilter struct {
	ProjectID string
	Limit     int
}

type RunFilter struct {
	ExperimentID string
	Status       domain.RunStatus
	Limit        int
}

// ProjectRepository manages projects. Create returns ErrConflict for a
// duplicate slug.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project domain.Project) error
	GetProject(ctx context.Context, id string) (domain.Project, error)
	ListProjects(ctx context.Context, filter ProjectFilter) ([]domain.Project, error)
}

type ExperimentRepository interface {
	CreateExperiment(ctx context.Context, experiment domain.Experiment) error
	GetExperiment(ctx context.Context, id string) (domain.Experiment, error)
	ListExperiments(ctx context.Context, filter ExperimentFilter) ([]domain.Experiment, error)
}

type DatasetRepository interface {
	CreateDataset(ctx context.Context, dataset domain.Dataset) error
	GetDataset(ctx context.Context, id string) (domain.Dataset, error)
	ListDatasets(ctx context.Context, filter DatasetFilter) ([]domain.Dataset, error)
}

// RunRepository manages runs. Status changes only through TransitionRun,
// which applies the transition atomically if the stored status is one of
// transition.From and otherwise returns a *StatusError.
type RunRepository interface {
	CreateRun(ctx context.Context, run domain.Run) error
	GetRun(ctx context.Context, id string) (domain.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.Run, error)
	TransitionRun(ctx context.Context, id string, transition domain.RunTransition) (domain.Run, error)
	// ListRunEvents returns the run's status history, oldest first.
	ListRunEvents(ctx context.Context, runID string, limit int) ([]domain.RunEvent, error)
}

// Job is one delivery of a run execution request.
type Job struct {
	ID         string
	RunID      string
	Attempts   int
	EnqueuedAt time.Time
}

// JobQueue delivers jobs at least once. A claimed job becomes visible again
// after the visibility timeout unless it is acked.
type JobQueue interface {
	Enqueue(ctx context.Context, runID string) (Job, error)
	Claim(ctx context.Context, visibility time.Duration) (Job, bool, error)
	Ack(ctx context.Context, jobID string) error
}
