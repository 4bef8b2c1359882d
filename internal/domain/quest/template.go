package quest

import (
	"sort"
	"time"

	"github.com/alem-hub/learnquest/internal/domain/shared"
)

// Difficulty is the display difficulty of a template.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Template seeds new quest instances.
type Template struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Difficulty  Difficulty `json:"difficulty"`
	Tasks       []Task     `json:"tasks"`
}

// TotalXP returns the XP of all tasks in the template.
func (t Template) TotalXP() int64 {
	var sum int64
	for _, task := range t.Tasks {
		sum += task.XPValue
	}
	return sum
}

// Instantiate creates a quest instance of this template for a user.
func (t Template) Instantiate(questID, userID string, at time.Time) (*Quest, error) {
	return New(questID, t.ID, userID, t.Title, t.Tasks, at)
}

// Templates is a read-only set of quest templates.
type Templates struct {
	byID map[string]Template
}

// NewTemplates validates templates by instantiating each one.
func NewTemplates(list ...Template) (*Templates, error) {
	ts := &Templates{byID: make(map[string]Template, len(list))}
	for _, t := range list {
		if _, dup := ts.byID[t.ID]; dup {
			return nil, shared.Errorf("quest", "NewTemplates", shared.ErrInvalidConfiguration,
				"duplicate template id %q", t.ID)
		}
		if _, err := t.Instantiate("validate", "validate", time.Time{}); err != nil {
			return nil, shared.WrapError("quest", "NewTemplates", shared.ErrInvalidConfiguration,
				"template "+t.ID+" is invalid", err)
		}
		ts.byID[t.ID] = t
	}
	return ts, nil
}

// Get returns a template by ID or ErrTemplateNotFound.
func (ts *Templates) Get(id string) (Template, error) {
	t, ok := ts.byID[id]
	if !ok {
		return Template{}, shared.ErrTemplateNotFound
	}
	return t, nil
}

// All returns templates ordered by ID.
func (ts *Templates) All() []Template {
	out := make([]Template, 0, len(ts.byID))
	for _, t := range ts.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DefaultTemplates returns the built-in quest templates.
func DefaultTemplates() *Templates {
	ts, err := NewTemplates(
		Template{
			ID:          "python-fundamentals",
			Title:       "Python Fundamentals",
			Description: "Master the basics of Python programming with hands-on exercises",
			Category:    "Programming",
			Difficulty:  DifficultyEasy,
			Tasks: []Task{
				{ID: "1", Title: "Watch Introduction Video", XPValue: 50},
				{ID: "2", Title: "Complete Quiz 1: Variables", XPValue: 75},
				{ID: "3", Title: "Write your first Python script", XPValue: 100},
				{ID: "4", Title: "Debug the sample code", XPValue: 125},
				{ID: "5", Title: "Complete Final Project", XPValue: 200},
			},
		},
		Template{
			ID:          "ui-ux-basics",
			Title:       "UI/UX Design Basics",
			Description: "Learn the principles of great user interface design",
			Category:    "Design",
			Difficulty:  DifficultyMedium,
			Tasks: []Task{
				{ID: "1", Title: "Read the design principles guide", XPValue: 50},
				{ID: "2", Title: "Sketch a wireframe", XPValue: 100},
				{ID: "3", Title: "Run a usability review", XPValue: 200},
			},
		},
		Template{
			ID:          "ml-101",
			Title:       "Machine Learning 101",
			Description: "Introduction to machine learning and building your first model",
			Category:    "AI/ML",
			Difficulty:  DifficultyHard,
			Tasks: []Task{
				{ID: "1", Title: "Prepare a dataset", XPValue: 150},
				{ID: "2", Title: "Train a baseline model", XPValue: 250},
				{ID: "3", Title: "Evaluate and report results", XPValue: 350},
			},
		},
	)
	if err != nil {
		panic(err)
	}
	return ts
}
