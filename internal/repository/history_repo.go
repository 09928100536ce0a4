// Package repository provides data access for the session history.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/shared-code-editor/backend/internal/model"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// historyColumns lists columns returned by history SELECT queries.
var historyColumns = []string{
	"id", "language", "created_at", "last_modified", "evicted_at", "file_count", "peak_participants",
}

// HistoryRepository records when sessions were created and evicted.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// RecordCreated inserts a history row for a newly created session. A row
// left over from an earlier session with the same id is reset.
func (r *HistoryRepository) RecordCreated(ctx context.Context, info model.SessionInfo) error {
	query, args, err := sq.Insert("session_history").
		Columns("id", "language", "created_at", "last_modified", "file_count", "peak_participants").
		Values(info.ID, info.Language, info.CreatedAt.UTC(), info.LastModified.UTC(), info.FileCount, info.PeakParticipants).
		Suffix(`ON CONFLICT(id) DO UPDATE SET
			language = excluded.language,
			created_at = excluded.created_at,
			last_modified = excluded.last_modified,
			evicted_at = NULL,
			file_count = excluded.file_count,
			peak_participants = excluded.peak_participants`).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record session creation: %w", err)
	}
	return nil
}

// RecordEvicted marks a session as evicted.
func (r *HistoryRepository) RecordEvicted(ctx context.Context, info model.SessionInfo, evictedAt time.Time) error {
	query, args, err := sq.Update("session_history").
		Set("last_modified", info.LastModified.UTC()).
		Set("evicted_at", evictedAt.UTC()).
		Set("file_count", info.FileCount).
		Set("peak_participants", info.PeakParticipants).
		Where(sq.Eq{"id": info.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to record session eviction: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrSessionNotFound
	}
	return nil
}

// GetByID retrieves a history record by session id.
func (r *HistoryRepository) GetByID(ctx context.Context, id string) (*model.HistoryRecord, error) {
	query, args, err := sq.Select(historyColumns...).
		From("session_history").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	record, err := scanRecord(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session history: %w", err)
	}
	return record, nil
}

// applyHistoryFilter adds filter conditions to a SELECT builder.
func applyHistoryFilter(qb sq.SelectBuilder, filter model.HistoryFilter) sq.SelectBuilder {
	if filter.Active != nil {
		if *filter.Active {
			qb = qb.Where(sq.Eq{"evicted_at": nil})
		} else {
			qb = qb.Where(sq.NotEq{"evicted_at": nil})
		}
	}
	return qb
}

// List retrieves history records, newest first.
func (r *HistoryRepository) List(ctx context.Context, filter model.HistoryFilter) ([]*model.HistoryRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	qb := applyHistoryFilter(sq.Select(historyColumns...).From("session_history"), filter).
		OrderBy("created_at DESC", "id").
		Limit(uint64(limit))
	if filter.Offset > 0 {
		qb = qb.Offset(uint64(filter.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list session history: %w", err)
	}
	defer rows.Close()

	records := make([]*model.HistoryRecord, 0, limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session history: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session history: %w", err)
	}
	return records, nil
}

// Count returns the number of history records matching the filter.
func (r *HistoryRepository) Count(ctx context.Context, filter model.HistoryFilter) (int, error) {
	query, args, err := applyHistoryFilter(sq.Select("COUNT(*)").From("session_history"), filter).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count session history: %w", err)
	}
	return count, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.HistoryRecord, error) {
	record := &model.HistoryRecord{}
	var evictedAt sql.NullTime

	err := row.Scan(
		&record.ID,
		&record.Language,
		&record.CreatedAt,
		&record.LastModified,
		&evictedAt,
		&record.FileCount,
		&record.PeakParticipants,
	)
	if err != nil {
		return nil, err
	}

	if evictedAt.Valid {
		t := evictedAt.Time
		record.EvictedAt = &t
	}
	return record, nil
}
