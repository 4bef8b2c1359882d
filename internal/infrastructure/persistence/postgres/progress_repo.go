package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/alem-hub/learnquest/internal/domain/leaderboard"
	"github.com/alem-hub/learnquest/internal/domain/progress"
	"github.com/alem-hub/learnquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

var (
	_ progress.Repository          = (*ProgressRepository)(nil)
	_ leaderboard.PopulationSource = (*ProgressRepository)(nil)
)

// ProgressRepository stores XP records and the XP change ledger.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

// Get returns the record or shared.ErrProgressNotFound.
func (r *ProgressRepository) Get(ctx context.Context, userID string) (*progress.Record, error) {
	var rec progress.Record
	err := r.conn.queryRow(ctx, psql.
		Select("user_id", "xp", "level", "version", "updated_at").
		From("user_progress").
		Where(sq.Eq{"user_id": userID}),
	).Scan(&rec.UserID, &rec.XP, &rec.Level, &rec.Version, &rec.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProgressNotFound
		}
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	return &rec, nil
}

// Save writes the record under an optimistic version check and appends
// the change in the same transaction.
func (r *ProgressRepository) Save(ctx context.Context, rec *progress.Record, expectedVersion int64, change *progress.Change) error {
	return r.conn.RunInTx(ctx, func(ctx context.Context) error {
		tag, err := r.conn.exec(ctx, saveProgressQuery(rec, expectedVersion))
		if err != nil {
			return fmt.Errorf("failed to save progress: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrVersionConflict
		}

		if change != nil {
			if _, err := r.conn.exec(ctx, insertChangeQuery(change)); err != nil {
				return fmt.Errorf("failed to append xp change: %w", err)
			}
		}

		rec.Version = expectedVersion + 1
		return nil
	})
}

// saveProgressQuery inserts when expectedVersion is 0, otherwise updates
// only the row still at expectedVersion. Zero affected rows means conflict.
func saveProgressQuery(rec *progress.Record, expectedVersion int64) sq.Sqlizer {
	if expectedVersion == 0 {
		return psql.Insert("user_progress").
			Columns("user_id", "xp", "level", "version", "updated_at").
			Values(rec.UserID, rec.XP, rec.Level, 1, rec.UpdatedAt).
			Suffix("ON CONFLICT (user_id) DO NOTHING")
	}
	return psql.Update("user_progress").
		Set("xp", rec.XP).
		Set("level", rec.Level).
		Set("version", expectedVersion+1).
		Set("updated_at", rec.UpdatedAt).
		Where(sq.Eq{"user_id": rec.UserID, "version": expectedVersion})
}

func insertChangeQuery(c *progress.Change) sq.Sqlizer {
	return psql.Insert("xp_changes").
		Columns("id", "user_id", "delta", "old_xp", "new_xp", "reason", "source_id", "at").
		Values(c.ID, c.UserID, c.Delta, c.OldXP, c.NewXP, string(c.Reason), c.SourceID, c.At)
}

// SumGainedSince sums positive deltas recorded at or after since.
func (r *ProgressRepository) SumGainedSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var sum int64
	err := r.conn.queryRow(ctx, psql.
		Select("COALESCE(SUM(delta), 0)::BIGINT").
		From("xp_changes").
		Where(sq.Eq{"user_id": userID}).
		Where(sq.Gt{"delta": 0}).
		Where(sq.GtOrEq{"at": since}),
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum xp gained: %w", err)
	}
	return sum, nil
}

// History returns the most recent changes, newest first.
func (r *ProgressRepository) History(ctx context.Context, userID string, limit int) ([]progress.Change, error) {
	q := psql.
		Select("id", "user_id", "delta", "old_xp", "new_xp", "reason", "source_id", "at").
		From("xp_changes").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	rows, err := r.conn.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query xp history: %w", err)
	}
	defer rows.Close()

	var out []progress.Change
	for rows.Next() {
		var (
			c      progress.Change
			reason string
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Delta, &c.OldXP, &c.NewXP, &reason, &c.SourceID, &c.At); err != nil {
			return nil, fmt.Errorf("failed to scan xp change: %w", err)
		}
		c.Reason = progress.Reason(reason)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Standings returns the XP population ordered by user id. With since set,
// only XP gained in the window counts.
func (r *ProgressRepository) Standings(ctx context.Context, since *time.Time) ([]leaderboard.Standing, error) {
	rows, err := r.conn.query(ctx, standingsQuery(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query standings: %w", err)
	}
	defer rows.Close()

	var out []leaderboard.Standing
	for rows.Next() {
		var s leaderboard.Standing
		if err := rows.Scan(&s.UserID, &s.XP); err != nil {
			return nil, fmt.Errorf("failed to scan standing: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func standingsQuery(since *time.Time) sq.SelectBuilder {
	if since == nil {
		return psql.Select("user_id", "xp").From("user_progress").OrderBy("user_id")
	}
	return psql.
		Select("user_id", "SUM(delta)::BIGINT").
		From("xp_changes").
		Where(sq.Gt{"delta": 0}).
		Where(sq.GtOrEq{"at": *since}).
		GroupBy("user_id").
		OrderBy("user_id")
}
