package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/alem-hub/learnquest/internal/domain/shared"
	"github.com/alem-hub/learnquest/internal/domain/streak"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

var _ streak.Repository = (*StreakRepository)(nil)

// StreakRepository stores daily activity streaks.
type StreakRepository struct {
	conn *Connection
}

// NewStreakRepository creates a new StreakRepository.
func NewStreakRepository(conn *Connection) *StreakRepository {
	return &StreakRepository{conn: conn}
}

// Get возвращает серию пользователя или shared.ErrNotFound.
func (r *StreakRepository) Get(ctx context.Context, userID string) (*streak.Streak, error) {
	var (
		s                 streak.Streak
		lastActive, start *time.Time
	)
	err := r.conn.queryRow(ctx, psql.
		Select("user_id", "current_days", "best_days", "last_active_date", "started_on", "version").
		From("streaks").
		Where(sq.Eq{"user_id": userID}),
	).Scan(&s.UserID, &s.Current, &s.Best, &lastActive, &start, &s.Version)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("streak", "Get", shared.ErrNotFound, "streak not found")
		}
		return nil, fmt.Errorf("failed to get streak: %w", err)
	}
	if lastActive != nil {
		s.LastActiveDate = lastActive.UTC()
	}
	if start != nil {
		s.StartedOn = start.UTC()
	}
	return &s, nil
}

// Save сохраняет серию с проверкой версии.
func (r *StreakRepository) Save(ctx context.Context, s *streak.Streak, expectedVersion int64) error {
	tag, err := r.conn.exec(ctx, saveStreakQuery(s, expectedVersion))
	if err != nil {
		return fmt.Errorf("failed to save streak: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrStreakConflict
	}
	s.Version = expectedVersion + 1
	return nil
}

func saveStreakQuery(s *streak.Streak, expectedVersion int64) sq.Sqlizer {
	if expectedVersion == 0 {
		return psql.Insert("streaks").
			Columns("user_id", "current_days", "best_days", "last_active_date", "started_on", "version").
			Values(s.UserID, s.Current, s.Best, nullTime(s.LastActiveDate), nullTime(s.StartedOn), 1).
			Suffix("ON CONFLICT (user_id) DO NOTHING")
	}
	return psql.Update("streaks").
		Set("current_days", s.Current).
		Set("best_days", s.Best).
		Set("last_active_date", nullTime(s.LastActiveDate)).
		Set("started_on", nullTime(s.StartedOn)).
		Set("version", expectedVersion+1).
		Where(sq.Eq{"user_id": s.UserID, "version": expectedVersion})
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
