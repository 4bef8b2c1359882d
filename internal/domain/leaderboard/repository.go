package leaderboard

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotRepository хранит историю снапшотов по окнам.
// Реализация находится в infrastructure слое (PostgreSQL, memory).
type SnapshotRepository interface {
	// Save сохраняет снапшот.
	Save(ctx context.Context, s *Snapshot) error

	// Latest возвращает последний снапшот окна или shared.ErrNotFound.
	Latest(ctx context.Context, w Window) (*Snapshot, error)

	// Previous возвращает снапшот, предшествующий последнему, или shared.ErrNotFound.
	// Используется для расчёта RankDelta.
	Previous(ctx context.Context, w Window) (*Snapshot, error)

	// Prune удаляет все снапшоты окна, кроме keep последних.
	// Возвращает количество удалённых.
	Prune(ctx context.Context, w Window, keep int) (int64, error)
}

// PopulationSource отдаёт XP популяции для ранжирования.
type PopulationSource interface {
	// Standings возвращает XP всех пользователей. Если since != nil,
	// учитывается только XP, набранный начиная с since.
	// Порядок детерминирован (по user_id), чтобы стабильная сортировка
	// давала воспроизводимые ранги при равном XP.
	Standings(ctx context.Context, since *time.Time) ([]Standing, error)
}

// SnapshotCache - кеш последнего снапшота каждого окна (Redis).
type SnapshotCache interface {
	// Get возвращает закешированный снапшот или shared.ErrNotFound при промахе.
	Get(ctx context.Context, w Window) (*Snapshot, error)

	// Set заменяет закешированный снапшот окна.
	Set(ctx context.Context, s *Snapshot, ttl time.Duration) error

	// Invalidate сбрасывает кеш окна.
	Invalidate(ctx context.Context, w Window) error
}
