package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/learnquest/internal/domain/leaderboard"
	"github.com/alem-hub/learnquest/internal/domain/progress"
	"github.com/alem-hub/learnquest/internal/domain/shared"
	"github.com/alem-hub/learnquest/internal/domain/streak"
	"github.com/alem-hub/learnquest/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// Собирает карточку прогресса пользователя: XP, уровень, прогресс до
// следующего уровня, серию, дневную цель и место в общем рейтинге.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultDailyGoalXP - дневная цель по XP.
const DefaultDailyGoalXP = 200

// GetProgressQuery содержит параметры запроса.
type GetProgressQuery struct {
	UserID string

	// HistoryLimit - сколько последних изменений XP вернуть (0 = не возвращать).
	HistoryLimit int
}

// DailyGoalDTO - прогресс дневной цели.
type DailyGoalDTO struct {
	TargetXP int64 `json:"target_xp"`
	EarnedXP int64 `json:"earned_xp"`
	Percent  int   `json:"percent"`
	Reached  bool  `json:"reached"`
}

// XPChangeDTO - запись истории XP.
type XPChangeDTO struct {
	Delta    int64     `json:"delta"`
	OldXP    int64     `json:"old_xp"`
	NewXP    int64     `json:"new_xp"`
	Reason   string    `json:"reason"`
	SourceID string    `json:"source_id,omitempty"`
	At       time.Time `json:"at"`
}

// ProgressDTO - карточка прогресса.
type ProgressDTO struct {
	UserID        string  `json:"user_id"`
	XP            int64   `json:"xp"`
	Level         int     `json:"level"`
	Title         string  `json:"title"`
	Progress      float64 `json:"progress"`
	LevelStartXP  int64   `json:"level_start_xp"`
	NextLevelXP   int64   `json:"next_level_xp"`
	XPToNextLevel int64   `json:"xp_to_next_level"`

	StreakDays  int  `json:"streak_days"`
	BestStreak  int  `json:"best_streak"`
	ActiveToday bool `json:"active_today"`

	DailyGoal DailyGoalDTO `json:"daily_goal"`

	// Rank - место в общем рейтинге (0 = нет в рейтинге).
	Rank int `json:"rank"`

	History []XPChangeDTO `json:"history,omitempty"`
}

// GetProgressConfig содержит конфигурацию запроса.
type GetProgressConfig struct {
	DailyGoalXP int64
	Location    *time.Location
}

// GetProgressHandler обрабатывает запрос прогресса.
type GetProgressHandler struct {
	progress  progress.Repository
	streaks   streak.Repository
	snapshots leaderboard.SnapshotRepository
	curve     progress.Curve
	config    GetProgressConfig
	now       func() time.Time
}

// NewGetProgressHandler создаёт новый обработчик. snapshots может быть nil.
func NewGetProgressHandler(
	progressRepo progress.Repository,
	streaks streak.Repository,
	snapshots leaderboard.SnapshotRepository,
	curve progress.Curve,
	config GetProgressConfig,
) *GetProgressHandler {
	if config.DailyGoalXP <= 0 {
		config.DailyGoalXP = DefaultDailyGoalXP
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &GetProgressHandler{
		progress:  progressRepo,
		streaks:   streaks,
		snapshots: snapshots,
		curve:     curve,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock заменяет источник времени.
func (h *GetProgressHandler) WithClock(now func() time.Time) *GetProgressHandler {
	h.now = now
	return h
}

// Handle выполняет запрос. Пользователь без записи получает нулевой прогресс.
func (h *GetProgressHandler) Handle(ctx context.Context, q GetProgressQuery) (*ProgressDTO, error) {
	if _, err := shared.NewUserID(q.UserID); err != nil {
		return nil, err
	}
	now := h.now()

	rec, err := h.progress.Get(ctx, q.UserID)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		fresh := progress.NewRecord(q.UserID)
		rec = &fresh
	case err != nil:
		return nil, fmt.Errorf("get_progress: %w", err)
	}

	info := h.curve.Describe(rec.XP)
	dto := &ProgressDTO{
		UserID:        q.UserID,
		XP:            info.XP,
		Level:         info.Level,
		Title:         info.Title,
		Progress:      info.Progress,
		LevelStartXP:  info.LevelStartXP,
		NextLevelXP:   info.NextLevelXP,
		XPToNextLevel: info.XPToNextLevel,
	}

	st, err := h.streaks.Get(ctx, q.UserID)
	switch {
	case err == nil:
		dto.StreakDays = st.CurrentAsOf(now, h.config.Location)
		dto.BestStreak = st.Best
		dto.ActiveToday = st.ActiveToday(now, h.config.Location)
	case !errors.Is(err, shared.ErrNotFound):
		return nil, fmt.Errorf("get_progress: %w", err)
	}

	earned, err := h.progress.SumGainedSince(ctx, q.UserID, timeutil.StartOfDay(now, h.config.Location))
	if err != nil {
		return nil, fmt.Errorf("get_progress: daily goal: %w", err)
	}
	dto.DailyGoal = dailyGoal(h.config.DailyGoalXP, earned)

	if h.snapshots != nil {
		latest, err := h.snapshots.Latest(ctx, leaderboard.WindowAllTime)
		switch {
		case err == nil:
			dto.Rank = latest.RankOf(q.UserID).Int()
		case !errors.Is(err, shared.ErrNotFound):
			return nil, fmt.Errorf("get_progress: rank: %w", err)
		}
	}

	if q.HistoryLimit > 0 {
		changes, err := h.progress.History(ctx, q.UserID, q.HistoryLimit)
		if err != nil {
			return nil, fmt.Errorf("get_progress: history: %w", err)
		}
		for _, c := range changes {
			dto.History = append(dto.History, XPChangeDTO{
				Delta:    c.Delta,
				OldXP:    c.OldXP,
				NewXP:    c.NewXP,
				Reason:   string(c.Reason),
				SourceID: c.SourceID,
				At:       c.At,
			})
		}
	}

	return dto, nil
}

func dailyGoal(target, earned int64) DailyGoalDTO {
	pct := int(earned * 100 / target)
	if pct > 100 {
		pct = 100
	}
	return DailyGoalDTO{
		TargetXP: target,
		EarnedXP: earned,
		Percent:  pct,
		Reached:  earned >= target,
	}
}
