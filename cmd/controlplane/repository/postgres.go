package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	cpmodels "github.com/lyzr/taskplane/cmd/controlplane/models"
	"github.com/lyzr/taskplane/common/db"
	"github.com/lyzr/taskplane/common/models"
)

// Schema creates the control plane tables
const Schema = `
CREATE TABLE IF NOT EXISTS session (
	session_id        TEXT PRIMARY KEY,
	status            TEXT NOT NULL,
	partition_ids     TEXT[] NOT NULL DEFAULT '{}',
	task_options      JSONB,
	client_submission BOOLEAN NOT NULL DEFAULT TRUE,
	created_at        TIMESTAMPTZ NOT NULL,
	cancelled_at      TIMESTAMPTZ,
	closed_at         TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS result (
	result_id     TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL REFERENCES session(session_id),
	name          TEXT NOT NULL,
	status        TEXT NOT NULL,
	owner_task_id TEXT NOT NULL DEFAULT '',
	size_bytes    BIGINT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS result_session_idx ON result (session_id, created_at);

CREATE TABLE IF NOT EXISTS task (
	task_id             TEXT PRIMARY KEY,
	session_id          TEXT NOT NULL REFERENCES session(session_id),
	payload_id          TEXT NOT NULL,
	expected_output_ids TEXT[] NOT NULL,
	data_dependency_ids TEXT[] NOT NULL DEFAULT '{}',
	task_options        JSONB,
	status              TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS task_session_idx ON task (session_id);
`

// EnsureSchema creates missing tables. Usable as a bootstrap DB init hook.
func EnsureSchema(database *db.DB) error {
	if _, err := database.Exec(context.Background(), Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// PostgresStore persists records with pgx
type PostgresStore struct {
	db *db.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store on an open pool
func NewPostgresStore(database *db.DB) *PostgresStore {
	return &PostgresStore{db: database}
}

const resultColumns = `result_id, session_id, name, status, owner_task_id, size_bytes, created_at, completed_at`

func scanResult(row pgx.Row) (models.BlobState, error) {
	var (
		r           models.BlobState
		status      string
		completedAt *time.Time
	)
	err := row.Scan(&r.ID, &r.SessionID, &r.Name, &status, &r.OwnerTaskID, &r.Size, &r.CreatedAt, &completedAt)
	if err != nil {
		return models.BlobState{}, err
	}
	r.Status = models.ParseBlobStatus(status)
	if completedAt != nil {
		r.CompletedAt = *completedAt
	}
	return r, nil
}

func collectResults(rows pgx.Rows) ([]models.BlobState, error) {
	defer rows.Close()

	var out []models.BlobState
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return out, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (p *PostgresStore) CreateResults(ctx context.Context, results []models.BlobState) error {
	if len(results) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range results {
		batch.Queue(`
			INSERT INTO result (`+resultColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			r.ID, r.SessionID, r.Name, r.Status.String(), r.OwnerTaskID, r.Size, r.CreatedAt, nullTime(r.CompletedAt),
		)
	}

	return p.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to create results: %w", err)
		}
		return nil
	})
}

func (p *PostgresStore) GetResult(ctx context.Context, resultID string) (models.BlobState, error) {
	row := p.db.QueryRow(ctx, `SELECT `+resultColumns+` FROM result WHERE result_id = $1`, resultID)
	r, err := scanResult(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.BlobState{}, fmt.Errorf("result %s: %w", resultID, ErrNotFound)
	}
	if err != nil {
		return models.BlobState{}, fmt.Errorf("failed to get result: %w", err)
	}
	return r, nil
}

func (p *PostgresStore) GetResults(ctx context.Context, ids []string) (map[string]models.BlobState, error) {
	found := make(map[string]models.BlobState, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	rows, err := p.db.Query(ctx, `SELECT `+resultColumns+` FROM result WHERE result_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get results in bulk: %w", err)
	}
	results, err := collectResults(rows)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		found[r.ID] = r
	}
	return found, nil
}

func (p *PostgresStore) ListResults(ctx context.Context, sessionID string) ([]models.BlobState, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+resultColumns+`
		FROM result
		WHERE $1 = '' OR session_id = $1
		ORDER BY created_at, result_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	return collectResults(rows)
}

func (p *PostgresStore) MarkCompleted(ctx context.Context, resultID string, size int64, at time.Time) (models.BlobState, error) {
	row := p.db.QueryRow(ctx, `
		UPDATE result SET status = $2, size_bytes = $3, completed_at = $4
		WHERE result_id = $1
		RETURNING `+resultColumns,
		resultID, models.BlobStatusCompleted.String(), size, at)
	r, err := scanResult(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.BlobState{}, fmt.Errorf("result %s: %w", resultID, ErrNotFound)
	}
	if err != nil {
		return models.BlobState{}, fmt.Errorf("failed to complete result: %w", err)
	}
	return r, nil
}

func (p *PostgresStore) SetOwner(ctx context.Context, ids []string, taskID string) error {
	tag, err := p.db.Exec(ctx, `UPDATE result SET owner_task_id = $2 WHERE result_id = ANY($1)`, ids, taskID)
	if err != nil {
		return fmt.Errorf("failed to set result owner: %w", err)
	}
	if int(tag.RowsAffected()) != len(ids) {
		return fmt.Errorf("set owner of %d results, %d updated: %w", len(ids), tag.RowsAffected(), ErrNotFound)
	}
	return nil
}

func (p *PostgresStore) SetSessionStatus(ctx context.Context, sessionID string, from []models.BlobStatus, to models.BlobStatus) ([]models.BlobState, error) {
	names := make([]string, len(from))
	for i, s := range from {
		names[i] = s.String()
	}

	rows, err := p.db.Query(ctx, `
		UPDATE result SET status = $3
		WHERE session_id = $1 AND status = ANY($2)
		RETURNING `+resultColumns,
		sessionID, names, to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to update result status: %w", err)
	}
	return collectResults(rows)
}

const sessionColumns = `session_id, status, partition_ids, task_options, client_submission, created_at, cancelled_at, closed_at`

func (p *PostgresStore) CreateSession(ctx context.Context, s models.SessionInfo) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO session (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.SessionID, string(s.Status), partitions(s.PartitionIDs), s.DefaultTaskOptions,
		s.ClientSubmission, s.CreatedAt, s.CancelledAt, s.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetSession(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	var (
		s      models.SessionInfo
		status string
	)
	err := p.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM session WHERE session_id = $1`, sessionID).Scan(
		&s.SessionID, &status, &s.PartitionIDs, &s.DefaultTaskOptions,
		&s.ClientSubmission, &s.CreatedAt, &s.CancelledAt, &s.ClosedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SessionInfo{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return models.SessionInfo{}, fmt.Errorf("failed to get session: %w", err)
	}
	s.Status = models.SessionStatus(status)
	if len(s.PartitionIDs) == 0 {
		s.PartitionIDs = nil
	}
	return s, nil
}

func (p *PostgresStore) UpdateSession(ctx context.Context, s models.SessionInfo) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE session
		SET status = $2, client_submission = $3, cancelled_at = $4, closed_at = $5
		WHERE session_id = $1`,
		s.SessionID, string(s.Status), s.ClientSubmission, s.CancelledAt, s.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", s.SessionID, ErrNotFound)
	}
	return nil
}

func (p *PostgresStore) CreateTasks(ctx context.Context, tasks []cpmodels.TaskRecord) error {
	if len(tasks) == 0 {
		return nil
	}

	rows := make([][]any, len(tasks))
	for i, t := range tasks {
		var options any
		if len(t.Options) > 0 {
			options = []byte(t.Options)
		}
		rows[i] = []any{
			t.TaskID, t.SessionID, t.PayloadID, t.ExpectedOutputIDs, partitions(t.DataDependencyIDs),
			options, string(t.Status), t.CreatedAt,
		}
	}

	_, err := p.db.CopyFrom(ctx,
		pgx.Identifier{"task"},
		[]string{"task_id", "session_id", "payload_id", "expected_output_ids", "data_dependency_ids", "task_options", "status", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to create tasks: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListTasks(ctx context.Context, sessionID string) ([]cpmodels.TaskRecord, error) {
	rows, err := p.db.Query(ctx, `
		SELECT task_id, session_id, payload_id, expected_output_ids, data_dependency_ids, task_options, status, created_at
		FROM task
		WHERE session_id = $1
		ORDER BY created_at, task_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []cpmodels.TaskRecord
	for rows.Next() {
		var (
			t       cpmodels.TaskRecord
			options []byte
			status  string
		)
		if err := rows.Scan(&t.TaskID, &t.SessionID, &t.PayloadID, &t.ExpectedOutputIDs, &t.DataDependencyIDs, &options, &status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.Options = options
		t.Status = models.TaskStatus(status)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) SetSessionTaskStatus(ctx context.Context, sessionID string, from []models.TaskStatus, to models.TaskStatus) (int, error) {
	names := make([]string, len(from))
	for i, s := range from {
		names[i] = string(s)
	}

	tag, err := p.db.Exec(ctx, `
		UPDATE task SET status = $3
		WHERE session_id = $1 AND status = ANY($2)`,
		sessionID, names, string(to))
	if err != nil {
		return 0, fmt.Errorf("failed to update task status: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// partitions keeps NOT NULL array columns non-null
func partitions(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
