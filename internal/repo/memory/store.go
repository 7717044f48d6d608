// Package memory implements the repo interfaces in process memory. It backs
// the local CLI and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/ailab/internal/domain"
	"github.com/animus-labs/ailab/internal/repo"
	"github.com/google/uuid"
)

type Store struct {
	mu          sync.Mutex
	projects    map[string]domain.Project
	experiments map[string]domain.Experiment
	datasets    map[string]domain.Dataset
	runs        map[string]domain.Run
	events      map[string][]domain.RunEvent
	nextEvent   int64
	jobs        map[string]*jobState
	jobOrder    []string
	now         func() time.Time
}

type jobState struct {
	job       repo.Job
	visibleAt time.Time
	acked     bool
}

func New() *Store {
	return &Store{
		projects:    make(map[string]domain.Project),
		experiments: make(map[string]domain.Experiment),
		datasets:    make(map[string]domain.Dataset),
		runs:        make(map[string]domain.Run),
		events:      make(map[string][]domain.RunEvent),
		jobs:        make(map[string]*jobState),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) CreateProject(_ context.Context, project domain.Project) error {
	if err := project.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[project.ID]; ok {
		return fmt.Errorf("project %s: %w", project.ID, repo.ErrConflict)
	}
	for _, existing := range s.projects {
		if existing.Slug == project.Slug {
			return fmt.Errorf("project slug %s: %w", project.Slug, repo.ErrConflict)
		}
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = s.now()
	}
	s.projects[project.ID] = project
	return nil
}

func (s *Store) GetProject(_ context.Context, id string) (domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	project, ok := s.projects[strings.TrimSpace(id)]
	if !ok {
		return domain.Project{}, repo.ErrNotFound
	}
	return project, nil
}

func (s *Store) ListProjects(_ context.Context, filter repo.ProjectFilter) ([]domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Project, 0, len(s.projects))
	for _, project := range s.projects {
		if filter.Branch != "" && project.Branch != filter.Branch {
			continue
		}
		out = append(out, project)
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return limit(out, filter.Limit), nil
}

func (s *Store) CreateExperiment(_ context.Context, experiment domain.Experiment) error {
	if err := experiment.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[experiment.ProjectID]; !ok {
		return fmt.Errorf("project %s: %w", experiment.ProjectID, repo.ErrNotFound)
	}
	if _, ok := s.experiments[experiment.ID]; ok {
		return fmt.Errorf("experiment %s: %w", experiment.ID, repo.ErrConflict)
	}
	if experiment.CreatedAt.IsZero() {
		experiment.CreatedAt = s.now()
	}
	s.experiments[experiment.ID] = experiment
	return nil
}

func (s *Store) GetExperiment(_ context.Context, id string) (domain.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	experiment, ok := s.experiments[strings.TrimSpace(id)]
	if !ok {
		return domain.Experiment{}, repo.ErrNotFound
	}
	return experiment, nil
}

func (s *Store) ListExperiments(_ context.Context, filter repo.ExperimentFilter) ([]domain.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Experiment, 0, len(s.experiments))
	for _, experiment := range s.experiments {
		if filter.ProjectID != "" && experiment.ProjectID != filter.ProjectID {
			continue
		}
		out = append(out, experiment)
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return limit(out, filter.Limit), nil
}

func (s *Store) CreateDataset(_ context.Context, dataset domain.Dataset) error {
	if err := dataset.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[dataset.ProjectID]; !ok {
		return fmt.Errorf("project %s: %w", dataset.ProjectID, repo.ErrNotFound)
	}
	if _, ok := s.datasets[dataset.ID]; ok {
		return fmt.Errorf("dataset %s: %w", dataset.ID, repo.ErrConflict)
	}
	if strings.TrimSpace(dataset.Kind) == "" {
		dataset.Kind = domain.DatasetKindTabular
	}
	if dataset.CreatedAt.IsZero() {
		dataset.CreatedAt = s.now()
	}
	s.datasets[dataset.ID] = dataset
	return nil
}

func (s *Store) GetDataset(_ context.Context, id string) (domain.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dataset, ok := s.datasets[strings.TrimSpace(id)]
	if !ok {
		return domain.Dataset{}, repo.ErrNotFound
	}
	return dataset, nil
}

func (s *Store) ListDatasets(_ context.Context, filter repo.DatasetFilter) ([]domain.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Dataset, 0, len(s.datasets))
	for _, dataset := range s.datasets {
		if filter.ProjectID != "" && dataset.ProjectID != filter.ProjectID {
			continue
		}
		out = append(out, dataset)
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return limit(out, filter.Limit), nil
}

// CreateRun stores a run. The owning experiment must exist unless the store
// holds no experiments at all, which lets the CLI track ad-hoc runs.
func (s *Store) CreateRun(_ context.Context, run domain.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.experiments) > 0 {
		if _, ok := s.experiments[run.ExperimentID]; !ok {
			return fmt.Errorf("experiment %s: %w", run.ExperimentID, repo.ErrNotFound)
		}
	}
	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("run %s: %w", run.ID, repo.ErrConflict)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now()
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = run.CreatedAt
	}
	s.runs[run.ID] = run
	return nil
}

func (s *Store) GetRun(_ context.Context, id string) (domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[strings.TrimSpace(id)]
	if !ok {
		return domain.Run{}, repo.ErrNotFound
	}
	return run, nil
}

func (s *Store) ListRuns(_ context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.ExperimentID != "" && run.ExperimentID != filter.ExperimentID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return limit(out, filter.Limit), nil
}

func (s *Store) TransitionRun(_ context.Context, id string, transition domain.RunTransition) (domain.Run, error) {
	if err := transition.Validate(); err != nil {
		return domain.Run{}, err
	}
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.runs[id]
	if !ok {
		return domain.Run{}, repo.ErrNotFound
	}
	if !transition.Allows(current.Status) {
		return domain.Run{}, &repo.StatusError{RunID: id, Status: current.Status, Want: transition.From}
	}
	if transition.At.IsZero() {
		transition.At = s.now()
	}
	next := transition.Apply(current)
	s.runs[id] = next
	s.nextEvent++
	s.events[id] = append(s.events[id], domain.RunEvent{
		ID:    s.nextEvent,
		RunID: id,
		At:    transition.At,
		Actor: "memory",
		From:  current.Status,
		To:    next.Status,
		Error: next.Error,
	})
	return next, nil
}

func (s *Store) ListRunEvents(_ context.Context, runID string, n int) ([]domain.RunEvent, error) {
	runID = strings.TrimSpace(runID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return nil, fmt.Errorf("run %s: %w", runID, repo.ErrNotFound)
	}
	out := append([]domain.RunEvent(nil), s.events[runID]...)
	return limit(out, n), nil
}

func (s *Store) Enqueue(_ context.Context, runID string) (repo.Job, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return repo.Job{}, fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	job := repo.Job{ID: uuid.NewString(), RunID: runID, EnqueuedAt: now}
	s.jobs[job.ID] = &jobState{job: job, visibleAt: now}
	s.jobOrder = append(s.jobOrder, job.ID)
	return job, nil
}

func (s *Store) Claim(_ context.Context, visibility time.Duration) (repo.Job, bool, error) {
	if visibility <= 0 {
		return repo.Job{}, false, fmt.Errorf("visibility timeout must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, id := range s.jobOrder {
		state := s.jobs[id]
		if state.acked || state.visibleAt.After(now) {
			continue
		}
		state.job.Attempts++
		state.visibleAt = now.Add(visibility)
		return state.job, true, nil
	}
	return repo.Job{}, false, nil
}

func (s *Store) Ack(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.jobs[strings.TrimSpace(jobID)]
	if !ok || state.acked {
		return repo.ErrNotFound
	}
	state.acked = true
	return nil
}

// Pending reports the number of jobs not yet acked.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, state := range s.jobs {
		if !state.acked {
			n++
		}
	}
	return n
}

func newerFirst(a, b time.Time, idA, idB string) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return idA < idB
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
