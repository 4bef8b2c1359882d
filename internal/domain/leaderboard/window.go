package leaderboard

import (
	"strings"
	"time"

	"github.com/alem-hub/learnquest/internal/domain/shared"
	"github.com/alem-hub/learnquest/pkg/timeutil"
)

// Window - временной диапазон, за который ранжируется популяция.
type Window string

const (
	WindowWeek    Window = "week"
	WindowMonth   Window = "month"
	WindowAllTime Window = "all_time"
)

// AllWindows возвращает все окна в порядке обработки.
func AllWindows() []Window {
	return []Window{WindowAllTime, WindowWeek, WindowMonth}
}

// ParseWindow разбирает окно из строки. Пустая строка означает all_time.
func ParseWindow(s string) (Window, error) {
	switch w := Window(strings.ToLower(strings.TrimSpace(s))); w {
	case "":
		return WindowAllTime, nil
	case WindowWeek, WindowMonth, WindowAllTime:
		return w, nil
	default:
		return "", shared.WrapError("leaderboard", "ParseWindow", shared.ErrInvalidInput,
			"unknown window "+s, shared.ErrUnknownWindow)
	}
}

// IsValid проверяет, что окно известно.
func (w Window) IsValid() bool {
	_, err := ParseWindow(string(w))
	return err == nil && w != ""
}

// String возвращает строковое представление окна.
func (w Window) String() string {
	return string(w)
}

// Since возвращает начало окна относительно now в зоне loc.
// Неделя начинается с понедельника. Для all_time возвращает nil.
func (w Window) Since(now time.Time, loc *time.Location) *time.Time {
	var since time.Time
	switch w {
	case WindowWeek:
		since = timeutil.StartOfWeek(now, loc)
	case WindowMonth:
		since = timeutil.StartOfMonth(now, loc)
	default:
		return nil
	}
	return &since
}
