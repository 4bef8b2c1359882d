// Package streak отслеживает серии активных дней пользователя.
//
// Все даты нормализуются до календарного дня в заданной временной зоне
// (по умолчанию UTC). Льготного периода нет: пропуск хотя бы одного дня
// сбрасывает серию до 1.
package streak

import (
	"context"
	"time"

	"github.com/alem-hub/learnquest/internal/domain/shared"
	"github.com/alem-hub/learnquest/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK (Серия активных дней)
// ══════════════════════════════════════════════════════════════════════════════

// Streak представляет серию активных дней.
type Streak struct {
	// UserID - идентификатор пользователя.
	UserID string

	// Current - текущая серия дней.
	Current int

	// Best - лучшая серия дней за всё время.
	Best int

	// LastActiveDate - последний активный календарный день (полночь UTC).
	LastActiveDate time.Time

	// StartedOn - первый день текущей серии.
	StartedOn time.Time

	// Version - токен оптимистичной блокировки хранилища.
	Version int64
}

// New создаёт пустую серию.
func New(userID string) *Streak {
	return &Streak{UserID: userID}
}

// HasActivity возвращает true, если была хотя бы одна активность.
func (s *Streak) HasActivity() bool {
	return !s.LastActiveDate.IsZero()
}

// OutcomeKind описывает, что произошло с серией.
type OutcomeKind string

const (
	OutcomeStarted   OutcomeKind = "started"
	OutcomeExtended  OutcomeKind = "extended"
	OutcomeUnchanged OutcomeKind = "unchanged"
	OutcomeReset     OutcomeKind = "reset"
)

// Outcome - результат RecordActivity.
type Outcome struct {
	Kind    OutcomeKind
	Current int
	Best    int

	// Previous и DaysMissed заполняются только для OutcomeReset.
	Previous   int
	DaysMissed int

	// NewRecord - серия побила личный рекорд.
	NewRecord bool
}

// Changed возвращает true, если состояние серии изменилось.
func (o Outcome) Changed() bool {
	return o.Kind != OutcomeUnchanged
}

// Events возвращает доменные события для этого результата.
func (o Outcome) Events(userID string, at time.Time) []shared.Event {
	switch o.Kind {
	case OutcomeStarted, OutcomeExtended:
		return []shared.Event{shared.NewStreakUpdatedEvent(userID, o.Current, o.Best, at)}
	case OutcomeReset:
		return []shared.Event{shared.NewStreakBrokenEvent(userID, o.Previous, o.DaysMissed, at)}
	default:
		return nil
	}
}

// RecordActivity записывает активность в момент at и обновляет серию.
// День вычисляется в зоне loc (nil означает UTC).
//
// Дата раньше последней активной возвращает ErrOutOfOrderActivity,
// состояние при этом не меняется.
func (s *Streak) RecordActivity(at time.Time, loc *time.Location) (Outcome, error) {
	if s.UserID == "" {
		return Outcome{}, shared.NewDomainError("streak", "RecordActivity", shared.ErrEmptyValue, "user id is required")
	}
	if at.IsZero() {
		return Outcome{}, shared.NewDomainError("streak", "RecordActivity", shared.ErrInvalidInput, "activity date is required")
	}

	day := timeutil.CalendarDay(at, loc)

	// Первая активность
	if !s.HasActivity() {
		s.Current = 1
		s.StartedOn = day
		s.LastActiveDate = day
		newRecord := s.Best < 1
		if newRecord {
			s.Best = 1
		}
		return Outcome{Kind: OutcomeStarted, Current: 1, Best: s.Best, NewRecord: newRecord}, nil
	}

	diff := int(day.Sub(s.LastActiveDate).Hours() / 24)

	switch {
	case diff < 0:
		return Outcome{}, shared.Errorf("streak", "RecordActivity", shared.ErrOutOfOrderActivity,
			"activity on %s precedes last active day %s",
			day.Format(timeutil.DateLayout), s.LastActiveDate.Format(timeutil.DateLayout))

	case diff == 0:
		// Тот же день - ничего не меняем
		return Outcome{Kind: OutcomeUnchanged, Current: s.Current, Best: s.Best}, nil

	case diff == 1:
		s.Current++
		s.LastActiveDate = day
		newRecord := s.Current > s.Best
		if newRecord {
			s.Best = s.Current
		}
		return Outcome{Kind: OutcomeExtended, Current: s.Current, Best: s.Best, NewRecord: newRecord}, nil

	default:
		// Пропущены дни - сбрасываем серию
		previous := s.Current
		s.Current = 1
		s.StartedOn = day
		s.LastActiveDate = day
		return Outcome{
			Kind:       OutcomeReset,
			Current:    1,
			Best:       s.Best,
			Previous:   previous,
			DaysMissed: diff - 1,
		}, nil
	}
}

// CurrentAsOf возвращает серию, видимую пользователю в момент now:
// если вчера и сегодня активности не было, серия уже прервана и равна 0.
func (s *Streak) CurrentAsOf(now time.Time, loc *time.Location) int {
	if !s.HasActivity() {
		return 0
	}
	diff := int(timeutil.CalendarDay(now, loc).Sub(s.LastActiveDate).Hours() / 24)
	if diff > 1 {
		return 0
	}
	return s.Current
}

// ActiveToday проверяет, была ли активность сегодня.
func (s *Streak) ActiveToday(now time.Time, loc *time.Location) bool {
	return s.HasActivity() && timeutil.CalendarDay(now, loc).Equal(s.LastActiveDate)
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository хранит серии с оптимистичной блокировкой.
type Repository interface {
	// Get возвращает серию или ошибку shared.ErrNotFound.
	Get(ctx context.Context, userID string) (*Streak, error)

	// Save сохраняет серию, если версия в хранилище равна expectedVersion
	// (0 - вставка). При успехе s.Version = expectedVersion+1,
	// иначе ошибка shared.ErrConcurrentModification.
	Save(ctx context.Context, s *Streak, expectedVersion int64) error
}
