// Package eventhandler содержит обработчики доменных событий.
// Обработчики реагируют на изменения и запускают побочные эффекты,
// например повторную оценку достижений.
package eventhandler

import (
	"context"
	"fmt"

	"github.com/alem-hub/learnquest/internal/application/command"
	"github.com/alem-hub/learnquest/internal/domain/leaderboard"
	"github.com/alem-hub/learnquest/internal/domain/shared"
	"github.com/alem-hub/learnquest/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON RANK CHANGED HANDLER
// Ранг в общем (all_time) лидерборде входит в критерии достижений
// (например, Champion за топ-10), поэтому при изменении позиции
// пользователя достижения пересчитываются.
// ═══════════════════════════════════════════════════════════════════════════

// OnRankChangedHandler обрабатывает событие изменения ранга.
type OnRankChangedHandler struct {
	checker command.AchievementChecker
	logger  *logger.Logger
	config  RankChangedConfig
}

// RankChangedConfig содержит конфигурацию обработчика.
type RankChangedConfig struct {
	// Windows: окна, изменения в которых запускают пересчёт.
	Windows []leaderboard.Window

	// OnlyUpward: пересчитывать только при подъёме в рейтинге.
	// Падение не может открыть достижение по рангу.
	OnlyUpward bool
}

// DefaultRankChangedConfig возвращает конфигурацию по умолчанию.
func DefaultRankChangedConfig() RankChangedConfig {
	return RankChangedConfig{
		Windows:    []leaderboard.Window{leaderboard.WindowAllTime},
		OnlyUpward: true,
	}
}

// NewOnRankChangedHandler создаёт новый обработчик.
func NewOnRankChangedHandler(checker command.AchievementChecker, log *logger.Logger, config RankChangedConfig) *OnRankChangedHandler {
	if log == nil {
		log = logger.Nop()
	}
	if len(config.Windows) == 0 {
		config.Windows = DefaultRankChangedConfig().Windows
	}
	return &OnRankChangedHandler{
		checker: checker,
		logger:  log.With(logger.Component("on_rank_changed")),
		config:  config,
	}
}

// Register подписывает обработчик на события шины.
func (h *OnRankChangedHandler) Register(sub shared.EventSubscriber) error {
	return sub.Subscribe(shared.EventRankChanged, h.Handle)
}

// Handle обрабатывает событие изменения ранга.
// Реализует shared.EventHandler. Событие читается через Payload,
// поэтому подходит и для событий, пришедших из Redis.
func (h *OnRankChangedHandler) Handle(ctx context.Context, event shared.Event) error {
	if event.EventType() != shared.EventRankChanged {
		return nil
	}

	userID := event.AggregateID()
	payload := event.Payload()
	window := fmt.Sprint(payload["window"])
	newRank := toInt(payload["new_rank"])
	moved := shared.NewRankChangedEvent(userID, window, toInt(payload["old_rank"]), newRank, event.OccurredAt())

	if !h.watches(leaderboard.Window(window)) {
		return nil
	}
	if h.config.OnlyUpward && !moved.MovedUp() {
		return nil
	}

	unlocked, err := h.checker.CheckAchievements(ctx, userID)
	if err != nil {
		h.logger.Error("achievement check after rank change failed",
			logger.UserID(userID),
			logger.Window(window),
			logger.Err(err),
		)
		return err
	}

	if len(unlocked) > 0 {
		h.logger.Info("rank change unlocked achievements",
			logger.UserID(userID),
			logger.RankPosition(newRank),
			logger.Any("achievements", unlocked),
		)
	}
	return nil
}

func (h *OnRankChangedHandler) watches(w leaderboard.Window) bool {
	for _, x := range h.config.Windows {
		if x == w {
			return true
		}
	}
	return false
}

// toInt читает число из payload: int для локальных событий, float64 после JSON.
func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
