package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/learnquest/internal/domain/achievement"
	"github.com/alem-hub/learnquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// AchievementDTO - достижение каталога, опционально с датой получения.
type AchievementDTO struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Icon        string     `json:"icon"`
	XPReward    int64      `json:"xp_reward"`
	Rarity      string     `json:"rarity"`
	Criterion   string     `json:"criterion"`
	Threshold   int64      `json:"threshold"`
	Unlocked    bool       `json:"unlocked"`
	EarnedAt    *time.Time `json:"earned_at,omitempty"`
}

// AchievementsHandler отдаёт каталог и полученные достижения.
type AchievementsHandler struct {
	catalog *achievement.Catalog
	unlocks achievement.UnlockRepository
}

// NewAchievementsHandler создаёт новый обработчик.
func NewAchievementsHandler(catalog *achievement.Catalog, unlocks achievement.UnlockRepository) *AchievementsHandler {
	return &AchievementsHandler{catalog: catalog, unlocks: unlocks}
}

// Catalog возвращает все достижения в порядке каталога.
func (h *AchievementsHandler) Catalog() []AchievementDTO {
	defs := h.catalog.All()
	out := make([]AchievementDTO, 0, len(defs))
	for _, d := range defs {
		out = append(out, toAchievementDTO(d))
	}
	return out
}

// ForUser возвращает весь каталог с отметками о получении.
// Если onlyUnlocked, возвращаются только полученные, в порядке получения.
func (h *AchievementsHandler) ForUser(ctx context.Context, userID string, onlyUnlocked bool) ([]AchievementDTO, error) {
	if _, err := shared.NewUserID(userID); err != nil {
		return nil, err
	}
	unlocks, err := h.unlocks.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list_achievements: %w", err)
	}

	if onlyUnlocked {
		out := make([]AchievementDTO, 0, len(unlocks))
		for _, u := range unlocks {
			d, ok := h.catalog.Get(u.AchievementID)
			if !ok {
				// Unlock of an achievement removed from the catalog.
				continue
			}
			dto := toAchievementDTO(d)
			earned := u.EarnedAt
			dto.Unlocked, dto.EarnedAt = true, &earned
			out = append(out, dto)
		}
		return out, nil
	}

	earnedAt := make(map[string]time.Time, len(unlocks))
	for _, u := range unlocks {
		earnedAt[u.AchievementID] = u.EarnedAt
	}
	out := h.Catalog()
	for i := range out {
		if at, ok := earnedAt[out[i].ID]; ok {
			at := at
			out[i].Unlocked, out[i].EarnedAt = true, &at
		}
	}
	return out, nil
}

func toAchievementDTO(d achievement.Definition) AchievementDTO {
	return AchievementDTO{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Icon:        d.IconRef,
		XPReward:    d.XPReward,
		Rarity:      string(d.Rarity),
		Criterion:   string(d.Criterion.Kind),
		Threshold:   d.Criterion.Threshold,
	}
}
