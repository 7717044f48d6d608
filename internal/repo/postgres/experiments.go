package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/animus-labs/ailab/internal/domain"
	"github.com/animus-labs/ailab/internal/repo"
)

const (
	insertExperimentQuery = `INSERT INTO experiments (experiment_id, project_id, name, note, created_at)
VALUES ($1,$2,$3,$4,$5)`
	selectExperimentColumns = `experiment_id, project_id, name, note, created_at`
	selectExperimentQuery   = `SELECT ` + selectExperimentColumns + ` FROM experiments WHERE experiment_id = $1`
)

type ExperimentStore struct {
	db DB
}

func NewExperimentStore(db DB) *ExperimentStore {
	if db == nil {
		return nil
	}
	return &ExperimentStore{db: db}
}

func (s *ExperimentStore) CreateExperiment(ctx context.Context, experiment domain.Experiment) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("experiment store not initialized")
	}
	if err := experiment.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		insertExperimentQuery,
		strings.TrimSpace(experiment.ID),
		strings.TrimSpace(experiment.ProjectID),
		strings.TrimSpace(experiment.Name),
		strings.TrimSpace(experiment.Note),
		normalizeTime(experiment.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert experiment: %w", classifyWriteError(err))
	}
	return nil
}

func (s *ExperimentStore) GetExperiment(ctx context.Context, id string) (domain.Experiment, error) {
	if s == nil || s.db == nil {
		return domain.Experiment{}, fmt.Errorf("experiment store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Experiment{}, fmt.Errorf("experiment id is required")
	}
	var experiment domain.Experiment
	row := s.db.QueryRowContext(ctx, selectExperimentQuery, id)
	if err := row.Scan(&experiment.ID, &experiment.ProjectID, &experiment.Name, &experiment.Note, &experiment.CreatedAt); err != nil {
		return domain.Experiment{}, handleNotFound(err)
	}
	return experiment, nil
}

func (s *ExperimentStore) ListExperiments(ctx context.Context, filter repo.ExperimentFilter) ([]domain.Experiment, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("experiment store not initialized")
	}
	args := make([]any, 0, 2)
	query := `SELECT ` + selectExperimentColumns + ` FROM experiments`
	if projectID := strings.TrimSpace(filter.ProjectID); projectID != "" {
		args = append(args, projectID)
		query += fmt.Sprintf(" WHERE project_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Experiment, 0)
	for rows.Next() {
		var experiment domain.Experiment
		if err := rows.Scan(&experiment.ID, &experiment.ProjectID, &experiment.Name, &experiment.Note, &experiment.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan experiment: %w", err)
		}
		out = append(out, experiment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate experiments: %w", err)
	}
	return out, nil
}
