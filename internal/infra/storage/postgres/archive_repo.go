package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/robinmin/ccbridge/internal/core/domain"
)

// ArchiveRepo implements storage.ArchiveRepository using PostgreSQL.
type ArchiveRepo struct {
	db *DB
}

// NewArchiveRepo creates a new PostgreSQL archive repository.
func NewArchiveRepo(db *DB) *ArchiveRepo {
	return &ArchiveRepo{db: db}
}

type archiveRow struct {
	RequestID     string         `db:"request_id"`
	ChatID        string         `db:"chat_id"`
	Workspace     string         `db:"workspace"`
	Prompt        string         `db:"prompt"`
	State         string         `db:"state"`
	PreviousState string         `db:"previous_state"`
	CreatedAt     time.Time      `db:"created_at"`
	CompletedAt   sql.NullTime   `db:"completed_at"`
	ExitCode      sql.NullInt32  `db:"exit_code"`
	Output        string         `db:"output"`
	Error         string         `db:"error"`
	TimedOut      bool           `db:"timed_out"`
	ArchivedAt    time.Time      `db:"archived_at"`
}

// SaveTerminal upserts a terminal-state record.
func (r *ArchiveRepo) SaveTerminal(ctx context.Context, rec *domain.RequestRecord) error {
	row := archiveRow{
		RequestID:     rec.RequestID,
		ChatID:        rec.ChatID,
		Workspace:     rec.Workspace,
		Prompt:        rec.Prompt,
		State:         string(rec.State),
		PreviousState: string(rec.PreviousState),
		CreatedAt:     rec.CreatedAt,
		Output:        rec.Output,
		Error:         rec.Error,
		TimedOut:      rec.TimedOut,
	}
	if rec.CompletedAt != nil {
		row.CompletedAt = sql.NullTime{Time: *rec.CompletedAt, Valid: true}
	}
	if rec.ExitCode != nil {
		row.ExitCode = sql.NullInt32{Int32: int32(*rec.ExitCode), Valid: true}
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO request_archive (
			request_id, chat_id, workspace, prompt, state, previous_state,
			created_at, completed_at, exit_code, output, error, timed_out
		) VALUES (
			:request_id, :chat_id, :workspace, :prompt, :state, :previous_state,
			:created_at, :completed_at, :exit_code, :output, :error, :timed_out
		)
		ON CONFLICT (request_id) DO UPDATE SET
			state          = EXCLUDED.state,
			previous_state = EXCLUDED.previous_state,
			completed_at   = EXCLUDED.completed_at,
			exit_code      = EXCLUDED.exit_code,
			output         = EXCLUDED.output,
			error          = EXCLUDED.error,
			timed_out      = EXCLUDED.timed_out,
			archived_at    = NOW()
	`, row)
	if err != nil {
		return fmt.Errorf("failed to archive record: %w", err)
	}
	return nil
}

// History returns archived records for a workspace, newest first.
func (r *ArchiveRepo) History(ctx context.Context, workspace string, limit int) ([]*domain.RequestRecord, error) {
	if limit <= 0 {
		limit = -1 // LIMIT -1 means no limit in PostgreSQL
	}

	var rows []archiveRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT request_id, chat_id, workspace, prompt, state, previous_state,
		       created_at, completed_at, exit_code, output, error, timed_out,
		       archived_at
		FROM request_archive
		WHERE workspace = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, workspace, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query archive: %w", err)
	}

	records := make([]*domain.RequestRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, rowToRecord(row))
	}
	return records, nil
}

// Count returns the number of archived records.
func (r *ArchiveRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM request_archive`); err != nil {
		return 0, fmt.Errorf("failed to count archive: %w", err)
	}
	return count, nil
}

// Close releases the underlying connection.
func (r *ArchiveRepo) Close() error {
	return r.db.Close()
}

func rowToRecord(row archiveRow) *domain.RequestRecord {
	rec := &domain.RequestRecord{
		RequestID:     row.RequestID,
		ChatID:        row.ChatID,
		Workspace:     row.Workspace,
		Prompt:        row.Prompt,
		State:         domain.RequestLifecycleState(row.State),
		PreviousState: domain.RequestLifecycleState(row.PreviousState),
		CreatedAt:     row.CreatedAt,
		LastUpdatedAt: row.ArchivedAt,
		Output:        row.Output,
		Error:         row.Error,
		TimedOut:      row.TimedOut,
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time
		rec.CompletedAt = &t
	}
	if row.ExitCode.Valid {
		code := int(row.ExitCode.Int32)
		rec.ExitCode = &code
	}
	return rec
}
