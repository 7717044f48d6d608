package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/animus-labs/ailab/internal/domain"
	"github.com/animus-labs/ailab/internal/repo"
)

const (
	insertProjectQuery = `INSERT INTO projects (project_id, name, slug, branch, description, created_at)
VALUES ($1,$2,$3,$4,$5,$6)`
	selectProjectColumns = `project_id, name, slug, branch, description, created_at`
	selectProjectQuery   = `SELECT ` + selectProjectColumns + ` FROM projects WHERE project_id = $1`
)

type ProjectStore struct {
	db DB
}

func NewProjectStore(db DB) *ProjectStore {
	if db == nil {
		return nil
	}
	return &ProjectStore{db: db}
}

func (s *ProjectStore) CreateProject(ctx context.Context, project domain.Project) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("project store not initialized")
	}
	if err := project.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		insertProjectQuery,
		strings.TrimSpace(project.ID),
		strings.TrimSpace(project.Name),
		project.Slug,
		string(project.Branch),
		strings.TrimSpace(project.Description),
		normalizeTime(project.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", classifyWriteError(err))
	}
	return nil
}

func (s *ProjectStore) GetProject(ctx context.Context, id string) (domain.Project, error) {
	if s == nil || s.db == nil {
		return domain.Project{}, fmt.Errorf("project store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Project{}, fmt.Errorf("project id is required")
	}
	project, err := scanProject(s.db.QueryRowContext(ctx, selectProjectQuery, id))
	if err != nil {
		return domain.Project{}, handleNotFound(err)
	}
	return project, nil
}

func (s *ProjectStore) ListProjects(ctx context.Context, filter repo.ProjectFilter) ([]domain.Project, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("project store not initialized")
	}
	args := make([]any, 0, 2)
	query := `SELECT ` + selectProjectColumns + ` FROM projects`
	if filter.Branch != "" {
		args = append(args, string(filter.Branch))
		query += fmt.Sprintf(" WHERE branch = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return out, nil
}

func scanProject(row rowScanner) (domain.Project, error) {
	var (
		project domain.Project
		branch  string
	)
	if err := row.Scan(&project.ID, &project.Name, &project.Slug, &branch, &project.Description, &project.CreatedAt); err != nil {
		return domain.Project{}, err
	}
	project.Branch = domain.Branch(branch)
	return project, nil
}
