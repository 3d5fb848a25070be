package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/renzoku/gateway/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type FetchLogRepository struct {
	db *sql.DB
}

func NewFetchLogRepository(db *sql.DB) *FetchLogRepository {
	return &FetchLogRepository{db: db}
}

func (r *FetchLogRepository) Record(ctx context.Context, entry models.FetchLogEntry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO fetch_log (operation, content_type, slug, outcome, endpoint, attempts, via_proxy, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		strings.TrimSpace(entry.Operation),
		strings.TrimSpace(entry.ContentType),
		strings.TrimSpace(entry.Slug),
		strings.TrimSpace(entry.Outcome),
		strings.TrimSpace(entry.Endpoint),
		entry.Attempts,
		entry.ViaProxy,
		entry.DurationMS,
		createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert fetch log: %w", err)
	}
	return nil
}

// ListRecent returns the newest entries first, optionally only the given outcomes.
func (r *FetchLogRepository) ListRecent(ctx context.Context, limit int, outcomes ...string) ([]models.FetchLogEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `
		SELECT id, operation, content_type, slug, outcome, endpoint, attempts, via_proxy, duration_ms, created_at
		FROM fetch_log
	`
	clause, args := outcomeFilter(outcomes)
	query += clause
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list fetch log: %w", err)
	}
	defer rows.Close()

	items := make([]models.FetchLogEntry, 0)
	for rows.Next() {
		var entry models.FetchLogEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.Operation,
			&entry.ContentType,
			&entry.Slug,
			&entry.Outcome,
			&entry.Endpoint,
			&entry.Attempts,
			&entry.ViaProxy,
			&entry.DurationMS,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan fetch log: %w", err)
		}
		items = append(items, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fetch log: %w", err)
	}

	return items, nil
}

// CountOutcomesSince groups entries newer than since by outcome.
func (r *FetchLogRepository) CountOutcomesSince(ctx context.Context, since time.Time) ([]models.OutcomeCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT outcome, COUNT(1)
		FROM fetch_log
		WHERE created_at >= ?
		GROUP BY outcome
		ORDER BY outcome ASC
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("count fetch outcomes: %w", err)
	}
	defer rows.Close()

	counts := make([]models.OutcomeCount, 0)
	for rows.Next() {
		var item models.OutcomeCount
		if err := rows.Scan(&item.Outcome, &item.Count); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		counts = append(counts, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome counts: %w", err)
	}
	return counts, nil
}

// PruneBefore deletes entries older than cutoff and reports how many were removed.
func (r *FetchLogRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM fetch_log WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune fetch log: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune fetch log rows: %w", err)
	}
	return removed, nil
}

// CountBefore reports how many entries PruneBefore would remove.
func (r *FetchLogRepository) CountBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM fetch_log WHERE created_at < ?`, cutoff.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("count stale fetch log: %w", err)
	}
	return count, nil
}
