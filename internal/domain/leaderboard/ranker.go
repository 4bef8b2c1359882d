// Package leaderboard содержит ранжирование пользователей по XP.
//
// Записи лидерборда производные и никогда не являются источником истины:
// снапшоты хранят только (UserID, XP, Rank), а изменения позиций всегда
// вычисляются соединением двух снапшотов.
package leaderboard

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alem-hub/learnquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Standing - XP пользователя в популяции, которую нужно ранжировать.
type Standing struct {
	UserID string
	XP     int64
}

// Entry - запись ранжированного лидерборда.
type Entry struct {
	UserID string `json:"user_id"`
	XP     int64  `json:"xp"`
	Rank   int    `json:"rank"`

	// RankDelta = предыдущий ранг - текущий; nil, если пользователя не было в предыдущем снапшоте.
	RankDelta *int `json:"rank_delta"`
}

// Change возвращает изменение позиции записи.
func (e Entry) Change() (RankChange, bool) {
	if e.RankDelta == nil {
		return 0, false
	}
	return RankChange(*e.RankDelta), true
}

// Direction возвращает направление изменения позиции.
func (e Entry) Direction() RankDirection {
	rc, ok := e.Change()
	if !ok {
		return RankDirectionNew
	}
	return rc.Direction()
}

// RankChange представляет изменение позиции в рейтинге.
// Положительное значение = подъём, отрицательное = падение.
type RankChange int

// Direction возвращает направление изменения.
func (rc RankChange) Direction() RankDirection {
	switch {
	case rc > 0:
		return RankDirectionUp
	case rc < 0:
		return RankDirectionDown
	default:
		return RankDirectionStable
	}
}

// String возвращает строковое представление изменения.
func (rc RankChange) String() string {
	switch {
	case rc > 0:
		return fmt.Sprintf("+%d", rc)
	case rc < 0:
		return fmt.Sprintf("%d", rc)
	default:
		return "±0"
	}
}

// RankDirection определяет направление изменения ранга.
type RankDirection string

const (
	RankDirectionUp     RankDirection = "up"
	RankDirectionDown   RankDirection = "down"
	RankDirectionStable RankDirection = "stable"
	RankDirectionNew    RankDirection = "new"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANKING
// ══════════════════════════════════════════════════════════════════════════════

// Rank упорядочивает популяцию по XP по убыванию.
// Сортировка стабильная: при равном XP сохраняется порядок входа.
// Ранги 1..N без совпадений. Одинаковый вход всегда даёт одинаковый выход.
func Rank(standings []Standing) ([]Entry, error) {
	seen := make(map[string]struct{}, len(standings))
	for i, s := range standings {
		if strings.TrimSpace(s.UserID) == "" {
			return nil, shared.Errorf("leaderboard", "Rank", shared.ErrMalformedSnapshot,
				"standing %d has empty user id", i)
		}
		if s.XP < 0 {
			return nil, shared.Errorf("leaderboard", "Rank", shared.ErrMalformedSnapshot,
				"user %s has negative xp %d", s.UserID, s.XP)
		}
		if _, dup := seen[s.UserID]; dup {
			return nil, shared.Errorf("leaderboard", "Rank", shared.ErrMalformedSnapshot,
				"user %s appears twice", s.UserID)
		}
		seen[s.UserID] = struct{}{}
	}

	sorted := make([]Standing, len(standings))
	copy(sorted, standings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].XP > sorted[j].XP
	})

	entries := make([]Entry, len(sorted))
	for i, s := range sorted {
		entries[i] = Entry{UserID: s.UserID, XP: s.XP, Rank: i + 1}
	}
	return entries, nil
}

// RankDelta соединяет текущий и предыдущий снапшоты по UserID и
// заполняет RankDelta = prev - cur. Вход не изменяется.
func RankDelta(current, previous []Entry) []Entry {
	prev := make(map[string]int, len(previous))
	for _, e := range previous {
		prev[e.UserID] = e.Rank
	}

	out := make([]Entry, len(current))
	for i, e := range current {
		e.RankDelta = nil
		if p, ok := prev[e.UserID]; ok {
			d := p - e.Rank
			e.RankDelta = &d
		}
		out[i] = e
	}
	return out
}

// Movement - изменение позиции пользователя между двумя снапшотами.
// OldRank == 0 означает, что пользователь впервые попал в рейтинг.
type Movement struct {
	UserID  string
	OldRank int
	NewRank int
}

// IsEntry проверяет, что пользователя не было в предыдущем снапшоте.
func (m Movement) IsEntry() bool {
	return m.OldRank == 0
}

// Movements возвращает пользователей, чья позиция изменилась, включая
// новых участников. Без предыдущего снапшота все участники новые.
func Movements(current, previous []Entry) []Movement {
	var out []Movement
	for _, e := range RankDelta(current, previous) {
		switch {
		case e.RankDelta == nil:
			out = append(out, Movement{UserID: e.UserID, NewRank: e.Rank})
		case *e.RankDelta != 0:
			out = append(out, Movement{UserID: e.UserID, OldRank: e.Rank + *e.RankDelta, NewRank: e.Rank})
		}
	}
	return out
}
