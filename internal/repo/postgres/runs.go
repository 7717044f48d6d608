package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/animus-labs/ailab/internal/domain"
	"github.com/animus-labs/ailab/internal/platform/auditlog"
	"github.com/animus-labs/ailab/internal/repo"
)

const (
	insertRunQuery = `INSERT INTO runs (run_id, experiment_id, name, status, params, metrics, error, created_at, updated_at, started_at, ended_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	selectRunColumns    = `run_id, experiment_id, name, status, params, metrics, error, created_at, updated_at, started_at, ended_at`
	selectRunQuery      = `SELECT ` + selectRunColumns + ` FROM runs WHERE run_id = $1`
	lockRunQuery        = selectRunQuery + ` FOR UPDATE`
	updateRunStateQuery = `UPDATE runs
SET status = $2, metrics = $3, error = $4, updated_at = $5, started_at = $6, ended_at = $7
WHERE run_id = $1 AND status = $8`
)

// RunStore persists runs. Transitions take a row lock and append an audit
// event in the same transaction.
type RunStore struct {
	db    TxDB
	actor string
}

func NewRunStore(db TxDB, actor string) *RunStore {
	if db == nil {
		return nil
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = "system"
	}
	return &RunStore{db: db, actor: actor}
}

func (s *RunStore) CreateRun(ctx context.Context, run domain.Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	paramsJSON, err := encodeValue(run.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	metricsJSON, err := encodeValue(run.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	createdAt := normalizeTime(run.CreatedAt)
	updatedAt := run.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	_, err = s.db.ExecContext(
		ctx,
		insertRunQuery,
		strings.TrimSpace(run.ID),
		strings.TrimSpace(run.ExperimentID),
		strings.TrimSpace(run.Name),
		string(run.Status),
		paramsJSON,
		metricsJSON,
		nullString(run.Error),
		createdAt,
		updatedAt.UTC(),
		nullTime(run.StartedAt),
		nullTime(run.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", classifyWriteError(err))
	}
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, id string) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Run{}, fmt.Errorf("run id is required")
	}
	run, err := scanRun(s.db.QueryRowContext(ctx, selectRunQuery, id))
	if err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	return run, nil
}

func (s *RunStore) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if experimentID := strings.TrimSpace(filter.ExperimentID); experimentID != "" {
		args = append(args, experimentID)
		clauses = append(clauses, fmt.Sprintf("experiment_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + selectRunColumns + ` FROM runs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func (s *RunStore) TransitionRun(ctx context.Context, id string, transition domain.RunTransition) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Run{}, fmt.Errorf("run id is required")
	}
	if err := transition.Validate(); err != nil {
		return domain.Run{}, err
	}
	transition.At = normalizeTime(transition.At)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Run{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanRun(tx.QueryRowContext(ctx, lockRunQuery, id))
	if err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	if !transition.Allows(current.Status) {
		return domain.Run{}, &repo.StatusError{RunID: id, Status: current.Status, Want: transition.From}
	}
	next := transition.Apply(current)

	metricsJSON, err := encodeValue(next.Metrics)
	if err != nil {
		return domain.Run{}, fmt.Errorf("encode metrics: %w", err)
	}
	res, err := tx.ExecContext(
		ctx,
		updateRunStateQuery,
		id,
		string(next.Status),
		metricsJSON,
		nullString(next.Error),
		next.UpdatedAt,
		nullTime(next.StartedAt),
		nullTime(next.EndedAt),
		string(current.Status),
	)
	if err != nil {
		return domain.Run{}, fmt.Errorf("update run: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected != 1 {
		return domain.Run{}, &repo.StatusError{RunID: id, Status: current.Status, Want: transition.From}
	}

	event := auditlog.RunTransitionEvent(transition.At, s.actor, id, domain.AuditAction(next.Status), auditlog.RunTransition{
		From:  string(current.Status),
		To:    string(next.Status),
		Error: next.Error,
	})
	if _, err := auditlog.Insert(ctx, tx, event); err != nil {
		return domain.Run{}, fmt.Errorf("insert audit event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Run{}, fmt.Errorf("commit tx: %w", err)
	}
	return next, nil
}

func scanRun(row rowScanner) (domain.Run, error) {
	var (
		run         domain.Run
		status      string
		paramsJSON  []byte
		metricsJSON []byte
		errText     sql.NullString
		startedAt   sql.NullTime
		endedAt     sql.NullTime
	)
	if err := row.Scan(
		&run.ID,
		&run.ExperimentID,
		&run.Name,
		&status,
		&paramsJSON,
		&metricsJSON,
		&errText,
		&run.CreatedAt,
		&run.UpdatedAt,
		&startedAt,
		&endedAt,
	); err != nil {
		return domain.Run{}, err
	}
	parsed, ok := domain.ParseRunStatus(status)
	if !ok {
		return domain.Run{}, fmt.Errorf("unknown run status %q", status)
	}
	params, err := decodeValue(paramsJSON)
	if err != nil {
		return domain.Run{}, fmt.Errorf("decode params: %w", err)
	}
	metrics, err := decodeValue(metricsJSON)
	if err != nil {
		return domain.Run{}, fmt.Errorf("decode metrics: %w", err)
	}
	run.Status = parsed
	run.Params = params
	run.Metrics = metrics
	run.Error = stringPtr(errText)
	run.StartedAt = timePtr(startedAt)
	run.EndedAt = timePtr(endedAt)
	return run, nil
}

const listRunEventsQuery = `SELECT event_id, occurred_at, actor, action, resource_type, resource_id,
	COALESCE(request_id, ''), payload, integrity_sha256
FROM audit_events
WHERE resource_type = 'run' AND resource_id = $1
ORDER BY event_id ASC
LIMIT $2`

// ListRunEvents reads the run's transition history from the audit log. An
// event whose integrity hash does not verify fails the whole read.
func (s *RunStore) ListRunEvents(ctx context.Context, runID string, limit int) ([]domain.RunEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, listRunEventsQuery, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer rows.Close()

	var out []domain.RunEvent
	for rows.Next() {
		var rec auditlog.Record
		if err := rows.Scan(
			&rec.ID,
			&rec.OccurredAt,
			&rec.Actor,
			&rec.Action,
			&rec.ResourceType,
			&rec.ResourceID,
			&rec.RequestID,
			&rec.PayloadJSON,
			&rec.IntegritySHA256,
		); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		ev, err := runEventFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	return out, nil
}

func runEventFromRecord(rec auditlog.Record) (domain.RunEvent, error) {
	if err := rec.Verify(); err != nil {
		return domain.RunEvent{}, err
	}
	payload, err := rec.RunTransition()
	if err != nil {
		return domain.RunEvent{}, err
	}
	return domain.RunEvent{
		ID:    rec.ID,
		RunID: rec.ResourceID,
		At:    rec.OccurredAt.UTC(),
		Actor: rec.Actor,
		From:  domain.RunStatus(payload.From),
		To:    domain.RunStatus(payload.To),
		Error: payload.Error,
	}, nil
}
