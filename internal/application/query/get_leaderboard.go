// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alem-hub/learnquest/internal/application/command"
	"github.com/alem-hub/learnquest/internal/domain/leaderboard"
	"github.com/alem-hub/learnquest/internal/domain/shared"
	"github.com/alem-hub/learnquest/pkg/circuitbreaker"
	"github.com/alem-hub/learnquest/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Читает последний снапшот окна (сначала кеш, затем хранилище),
// присоединяет предыдущий снапшот для RankDelta и отдаёт страницу.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery содержит параметры запроса лидерборда.
type GetLeaderboardQuery struct {
	// Window - "week", "month" или "all_time" (пусто = all_time).
	Window string

	// Offset и Limit - пагинация (по умолчанию 20, максимум 100).
	Offset int
	Limit  int

	// UserID - если задан, в ответ добавляется запись этого пользователя.
	UserID string
}

// LeaderboardEntryDTO - DTO для записи лидерборда.
type LeaderboardEntryDTO struct {
	Rank   int    `json:"rank"`
	UserID string `json:"user_id"`
	XP     int64  `json:"xp"`

	// RankDelta - изменение позиции (+ вверх, - вниз); null для новых участников.
	RankDelta *int `json:"rank_delta"`

	// RankChange - "+3", "-2", "±0" или "" для новых.
	RankChange string `json:"rank_change,omitempty"`

	// RankDirection - "up", "down", "stable", "new".
	RankDirection string `json:"rank_direction,omitempty"`
}

// GetLeaderboardResult содержит результат запроса лидерборда.
type GetLeaderboardResult struct {
	Window     string                `json:"window"`
	Entries    []LeaderboardEntryDTO `json:"entries"`
	TotalCount int                   `json:"total_count"`
	Offset     int                   `json:"offset"`
	Limit      int                   `json:"limit"`
	HasMore    bool                  `json:"has_more"`

	// Me - запись запрашивающего пользователя (если UserID задан и он в рейтинге).
	Me *LeaderboardEntryDTO `json:"me,omitempty"`

	SnapshotID string    `json:"snapshot_id,omitempty"`
	TakenAt    time.Time `json:"taken_at"`
}

// GetLeaderboardHandler обрабатывает запросы на получение лидерборда.
type GetLeaderboardHandler struct {
	snapshots leaderboard.SnapshotRepository
	cache     leaderboard.SnapshotCache
	breaker   *circuitbreaker.CircuitBreaker
	flags     command.FeatureGate
	group     singleflight.Group
	log       *logger.Logger
}

// NewGetLeaderboardHandler создаёт новый обработчик. cache и breaker могут быть nil.
func NewGetLeaderboardHandler(
	snapshots leaderboard.SnapshotRepository,
	cache leaderboard.SnapshotCache,
	breaker *circuitbreaker.CircuitBreaker,
	flags command.FeatureGate,
	log *logger.Logger,
) *GetLeaderboardHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetLeaderboardHandler{
		snapshots: snapshots,
		cache:     cache,
		breaker:   breaker,
		flags:     flags,
		log:       log.With(logger.Component("get_leaderboard")),
	}
}

// Handle выполняет запрос.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	window, err := leaderboard.ParseWindow(q.Window)
	if err != nil {
		return nil, err
	}
	page := shared.NewPagination(q.Offset, q.Limit)

	result := &GetLeaderboardResult{
		Window:  window.String(),
		Entries: []LeaderboardEntryDTO{},
		Offset:  page.Offset,
		Limit:   page.Limit,
	}

	v, err, _ := h.group.Do(string(window), func() (interface{}, error) {
		return h.load(ctx, window)
	})
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			// Ещё не было ни одного снапшота - пустой лидерборд.
			return result, nil
		}
		return nil, fmt.Errorf("get_leaderboard: %w", err)
	}
	ranked := v.(*leaderboard.Snapshot)

	withDelta := command.FeatureEnabled(h.flags, command.FeatureLeaderboardRankDelta, q.UserID)

	entries := ranked.Page(page)
	for _, e := range entries {
		result.Entries = append(result.Entries, toEntryDTO(e, withDelta))
	}

	result.TotalCount = ranked.Count()
	result.HasMore = page.Offset+len(entries) < result.TotalCount
	result.SnapshotID = ranked.ID
	result.TakenAt = ranked.TakenAt

	if q.UserID != "" {
		if e, ok := ranked.Lookup(q.UserID); ok {
			dto := toEntryDTO(e, withDelta)
			result.Me = &dto
		}
	}

	return result, nil
}

// load возвращает последний снапшот окна, записи которого уже несут RankDelta
// относительно предыдущего.
func (h *GetLeaderboardHandler) load(ctx context.Context, w leaderboard.Window) (*leaderboard.Snapshot, error) {
	latest, err := h.latest(ctx, w)
	if err != nil {
		return nil, err
	}

	var previous []leaderboard.Entry
	prev, err := h.snapshots.Previous(ctx, w)
	switch {
	case err == nil:
		previous = prev.Entries
	case !errors.Is(err, shared.ErrNotFound):
		return nil, err
	}

	ranked := &leaderboard.Snapshot{
		ID:       latest.ID,
		Window:   latest.Window,
		TakenAt:  latest.TakenAt,
		Entries:  leaderboard.RankDelta(latest.Entries, previous),
		Checksum: latest.Checksum,
	}
	ranked.RebuildIndex()
	return ranked, nil
}

// latest читает снапшот из кеша под защитой circuit breaker и падает
// обратно на хранилище при промахе или открытом breaker.
func (h *GetLeaderboardHandler) latest(ctx context.Context, w leaderboard.Window) (*leaderboard.Snapshot, error) {
	if h.cache != nil && command.FeatureEnabled(h.flags, command.FeatureLeaderboardCache, "") {
		var cached *leaderboard.Snapshot
		err := h.execute(ctx, func(ctx context.Context) error {
			var err error
			cached, err = h.cache.Get(ctx, w)
			return err
		})
		switch {
		case err == nil:
			return cached, nil
		case errors.Is(err, shared.ErrNotFound):
		default:
			h.log.Warn("leaderboard cache unavailable", logger.Window(w.String()), logger.Err(err))
		}
	}

	return h.snapshots.Latest(ctx, w)
}

func (h *GetLeaderboardHandler) execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if h.breaker == nil {
		return fn(ctx)
	}
	return h.breaker.Execute(ctx, fn)
}

func toEntryDTO(e leaderboard.Entry, withDelta bool) LeaderboardEntryDTO {
	dto := LeaderboardEntryDTO{Rank: e.Rank, UserID: e.UserID, XP: e.XP}
	if !withDelta {
		return dto
	}
	dto.RankDelta = e.RankDelta
	dto.RankDirection = string(e.Direction())
	if rc, ok := e.Change(); ok {
		dto.RankChange = rc.String()
	}
	return dto
}
