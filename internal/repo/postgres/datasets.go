package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/animus-labs/ailab/internal/domain"
	"github.com/animus-labs/ailab/internal/repo"
)

const (
	insertDatasetQuery = `INSERT INTO datasets (dataset_id, project_id, name, kind, description, uri, target_col, meta, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	selectDatasetColumns = `dataset_id, project_id, name, kind, description, uri, target_col, meta, created_at`
	selectDatasetQuery   = `SELECT ` + selectDatasetColumns + ` FROM datasets WHERE dataset_id = $1`
)

type DatasetStore struct {
	db DB
}

func NewDatasetStore(db DB) *DatasetStore {
	if db == nil {
		return nil
	}
	return &DatasetStore{db: db}
}

func (s *DatasetStore) CreateDataset(ctx context.Context, dataset domain.Dataset) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("dataset store not initialized")
	}
	if err := dataset.Validate(); err != nil {
		return err
	}
	kind := strings.TrimSpace(dataset.Kind)
	if kind == "" {
		kind = domain.DatasetKindTabular
	}
	metaJSON, err := encodeValue(dataset.Meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		insertDatasetQuery,
		strings.TrimSpace(dataset.ID),
		strings.TrimSpace(dataset.ProjectID),
		strings.TrimSpace(dataset.Name),
		kind,
		strings.TrimSpace(dataset.Description),
		strings.TrimSpace(dataset.URI),
		nullString(dataset.TargetCol),
		metaJSON,
		normalizeTime(dataset.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert dataset: %w", classifyWriteError(err))
	}
	return nil
}

func (s *DatasetStore) GetDataset(ctx context.Context, id string) (domain.Dataset, error) {
	if s == nil || s.db == nil {
		return domain.Dataset{}, fmt.Errorf("dataset store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Dataset{}, fmt.Errorf("dataset id is required")
	}
	dataset, err := scanDataset(s.db.QueryRowContext(ctx, selectDatasetQuery, id))
	if err != nil {
		return domain.Dataset{}, handleNotFound(err)
	}
	return dataset, nil
}

func (s *DatasetStore) ListDatasets(ctx context.Context, filter repo.DatasetFilter) ([]domain.Dataset, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("dataset store not initialized")
	}
	args := make([]any, 0, 2)
	query := `SELECT ` + selectDatasetColumns + ` FROM datasets`
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
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Dataset, 0)
	for rows.Next() {
		dataset, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		out = append(out, dataset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate datasets: %w", err)
	}
	return out, nil
}

func scanDataset(row rowScanner) (domain.Dataset, error) {
	var (
		dataset   domain.Dataset
		targetCol sql.NullString
		metaJSON  []byte
	)
	if err := row.Scan(
		&dataset.ID,
		&dataset.ProjectID,
		&dataset.Name,
		&dataset.Kind,
		&dataset.Description,
		&dataset.URI,
		&targetCol,
		&metaJSON,
		&dataset.CreatedAt,
	); err != nil {
		return domain.Dataset{}, err
	}
	meta, err := decodeValue(metaJSON)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("decode meta: %w", err)
	}
	dataset.TargetCol = stringPtr(targetCol)
	dataset.Meta = meta
	return dataset, nil
}
