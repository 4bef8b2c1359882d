package leaderboard

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/alem-hub/learnquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot - ранжированная популяция окна в момент TakenAt.
// Entries отсортированы по рангу; RankDelta в хранимом снапшоте всегда nil.
type Snapshot struct {
	ID       string
	Window   Window
	TakenAt  time.Time
	Entries  []Entry
	Checksum string

	// byID - индекс для быстрого поиска по ID.
	byID map[string]int
}

// NewSnapshot создаёт снапшот и вычисляет контрольную сумму.
func NewSnapshot(id string, window Window, takenAt time.Time, entries []Entry) *Snapshot {
	stored := make([]Entry, len(entries))
	for i, e := range entries {
		e.RankDelta = nil
		stored[i] = e
	}
	s := &Snapshot{
		ID:       id,
		Window:   window,
		TakenAt:  takenAt,
		Entries:  stored,
		Checksum: Checksum(stored),
	}
	s.RebuildIndex()
	return s
}

// Checksum возвращает BLAKE2b-256 от упорядоченных пар (UserID, XP).
// Одинаковый рейтинг даёт одинаковую сумму.
func Checksum(entries []Entry) string {
	h, _ := blake2b.New256(nil)
	var buf [8]byte
	for _, e := range entries {
		h.Write([]byte(e.UserID))
		h.Write([]byte{0})
		binary.BigEndian.PutUint64(buf[:], uint64(e.XP))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RebuildIndex перестраивает индекс после загрузки из хранилища.
// Не безопасен для конкурентного вызова.
func (s *Snapshot) RebuildIndex() {
	s.byID = make(map[string]int, len(s.Entries))
	for i, e := range s.Entries {
		s.byID[e.UserID] = i
	}
}

// Count возвращает количество участников.
func (s *Snapshot) Count() int {
	return len(s.Entries)
}

// Lookup возвращает запись пользователя.
func (s *Snapshot) Lookup(userID string) (Entry, bool) {
	if s.byID == nil {
		for _, e := range s.Entries {
			if e.UserID == userID {
				return e, true
			}
		}
		return Entry{}, false
	}
	i, ok := s.byID[userID]
	if !ok {
		return Entry{}, false
	}
	return s.Entries[i], true
}

// RankOf возвращает ранг пользователя или shared.Unranked.
func (s *Snapshot) RankOf(userID string) shared.Rank {
	e, ok := s.Lookup(userID)
	if !ok {
		return shared.Unranked
	}
	return shared.Rank(e.Rank)
}

// Page возвращает страницу записей.
func (s *Snapshot) Page(p shared.Pagination) []Entry {
	return window(s.Entries, p.Offset, p.Offset+p.Limit)
}

// Verify проверяет целостность снапшота после загрузки.
func (s *Snapshot) Verify() error {
	if Checksum(s.Entries) != s.Checksum {
		return shared.Errorf("leaderboard", "Verify", shared.ErrMalformedSnapshot,
			"snapshot %s checksum mismatch", s.ID)
	}
	for i, e := range s.Entries {
		if e.Rank != i+1 {
			return shared.Errorf("leaderboard", "Verify", shared.ErrMalformedSnapshot,
				"snapshot %s has rank %d at position %d", s.ID, e.Rank, i+1)
		}
	}
	return nil
}

func window(entries []Entry, from, to int) []Entry {
	if from < 0 {
		from = 0
	}
	if to > len(entries) {
		to = len(entries)
	}
	if from >= to {
		return []Entry{}
	}
	out := make([]Entry, to-from)
	copy(out, entries[from:to])
	return out
}
