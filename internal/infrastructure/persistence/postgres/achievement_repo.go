package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/alem-hub/learnquest/internal/domain/achievement"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT UNLOCK REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

var _ achievement.UnlockRepository = (*UnlockRepository)(nil)

// UnlockRepository stores achievement unlocks. The UNIQUE(user_id, achievement_id)
// constraint makes concurrent grants of the same achievement collapse into one row.
type UnlockRepository struct {
	conn *Connection
}

// NewUnlockRepository creates a new UnlockRepository.
func NewUnlockRepository(conn *Connection) *UnlockRepository {
	return &UnlockRepository{conn: conn}
}

// Record inserts the unlock unless the pair already exists.
func (r *UnlockRepository) Record(ctx context.Context, u achievement.Unlock) (bool, error) {
	tag, err := r.conn.exec(ctx, recordUnlockQuery(u))
	if err != nil {
		return false, fmt.Errorf("failed to record unlock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func recordUnlockQuery(u achievement.Unlock) sq.InsertBuilder {
	return psql.Insert("achievement_unlocks").
		Columns("id", "user_id", "achievement_id", "earned_at").
		Values(u.ID, u.UserID, u.AchievementID, u.EarnedAt).
		Suffix("ON CONFLICT (user_id, achievement_id) DO NOTHING")
}

// ListByUser returns a user's unlocks ordered by EarnedAt.
func (r *UnlockRepository) ListByUser(ctx context.Context, userID string) ([]achievement.Unlock, error) {
	rows, err := r.conn.query(ctx, psql.
		Select("id", "user_id", "achievement_id", "earned_at").
		From("achievement_unlocks").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("earned_at", "achievement_id"))
	if err != nil {
		return nil, fmt.Errorf("failed to list unlocks: %w", err)
	}
	defer rows.Close()

	var out []achievement.Unlock
	for rows.Next() {
		var u achievement.Unlock
		if err := rows.Scan(&u.ID, &u.UserID, &u.AchievementID, &u.EarnedAt); err != nil {
			return nil, fmt.Errorf("failed to scan unlock: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
