package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/learnquest/internal/domain/leaderboard"
	"github.com/alem-hub/learnquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD SNAPSHOT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

var _ leaderboard.SnapshotRepository = (*SnapshotRepository)(nil)

// SnapshotRepository stores ranked leaderboard snapshots per window.
// Snapshots are ordered by insertion sequence, not by taken_at.
type SnapshotRepository struct {
	conn *Connection
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(conn *Connection) *SnapshotRepository {
	return &SnapshotRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// WRITE OPERATIONS
// ─────────────────────────────────────────────────────────────────────────────

// Save inserts the snapshot header and its entries in one transaction.
func (r *SnapshotRepository) Save(ctx context.Context, s *leaderboard.Snapshot) error {
	return r.conn.RunInTx(ctx, func(ctx context.Context) error {
		_, err := r.conn.exec(ctx, psql.
			Insert("leaderboard_snapshots").
			Columns("id", "time_window", "taken_at", "checksum").
			Values(s.ID, string(s.Window), s.TakenAt, s.Checksum))
		if err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}

		if len(s.Entries) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, e := range s.Entries {
			query, args, err := psql.
				Insert("leaderboard_entries").
				Columns("snapshot_id", "rank", "user_id", "xp").
				Values(s.ID, e.Rank, e.UserID, e.XP).
				ToSql()
			if err != nil {
				return fmt.Errorf("build entry insert: %w", err)
			}
			batch.Queue(query, args...)
		}

		br := r.conn.querier(ctx).SendBatch(ctx, batch)
		defer br.Close()

		for range s.Entries {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("failed to insert entry: %w", err)
			}
		}
		return nil
	})
}

// Prune удаляет все снапшоты окна, кроме keep последних. Записи удаляются каскадно.
func (r *SnapshotRepository) Prune(ctx context.Context, w leaderboard.Window, keep int) (int64, error) {
	tag, err := r.conn.exec(ctx, pruneSnapshotsQuery(w, keep))
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}

func pruneSnapshotsQuery(w leaderboard.Window, keep int) sq.DeleteBuilder {
	if keep < 1 {
		keep = 1
	}
	return psql.Delete("leaderboard_snapshots").
		Where(sq.Eq{"time_window": string(w)}).
		Where(sq.Expr(
			"id NOT IN (SELECT id FROM leaderboard_snapshots WHERE time_window = ? ORDER BY seq DESC LIMIT ?)",
			string(w), keep,
		))
}

// ─────────────────────────────────────────────────────────────────────────────
// READ OPERATIONS
// ─────────────────────────────────────────────────────────────────────────────

// Latest возвращает последний снапшот окна.
func (r *SnapshotRepository) Latest(ctx context.Context, w leaderboard.Window) (*leaderboard.Snapshot, error) {
	return r.nth(ctx, w, 0)
}

// Previous возвращает снапшот, предшествующий последнему.
func (r *SnapshotRepository) Previous(ctx context.Context, w leaderboard.Window) (*leaderboard.Snapshot, error) {
	return r.nth(ctx, w, 1)
}

// nth loads the snapshot at the given offset from the newest.
func (r *SnapshotRepository) nth(ctx context.Context, w leaderboard.Window, offset uint64) (*leaderboard.Snapshot, error) {
	var (
		id, checksum string
		takenAt      time.Time
	)
	err := r.conn.queryRow(ctx, snapshotHeaderQuery(w, offset)).Scan(&id, &takenAt, &checksum)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot header: %w", err)
	}

	rows, err := r.conn.query(ctx, psql.
		Select("rank", "user_id", "xp").
		From("leaderboard_entries").
		Where(sq.Eq{"snapshot_id": id}).
		OrderBy("rank"))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot entries: %w", err)
	}
	defer rows.Close()

	var entries []leaderboard.Entry
	for rows.Next() {
		var e leaderboard.Entry
		if err := rows.Scan(&e.Rank, &e.UserID, &e.XP); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	snap := leaderboard.NewSnapshot(id, w, takenAt.UTC(), entries)
	snap.Checksum = checksum
	if err := snap.Verify(); err != nil {
		return nil, err
	}
	return snap, nil
}

func snapshotHeaderQuery(w leaderboard.Window, offset uint64) sq.SelectBuilder {
	return psql.
		Select("id", "taken_at", "checksum").
		From("leaderboard_snapshots").
		Where(sq.Eq{"time_window": string(w)}).
		OrderBy("seq DESC").
		Limit(1).
		Offset(offset)
}
