package achievement

import (
	"github.com/alem-hub/learnquest/internal/domain/shared"
)

// Catalog is an ordered, validated set of definitions. It is read-only after construction.
type Catalog struct {
	defs []Definition
	byID map[string]int
}

// NewCatalog validates definitions and builds a catalog in the given order.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{
		defs: make([]Definition, 0, len(defs)),
		byID: make(map[string]int, len(defs)),
	}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, shared.Errorf("achievement", "NewCatalog", shared.ErrInvalidConfiguration,
				"duplicate definition id %q", d.ID)
		}
		c.byID[d.ID] = len(c.defs)
		c.defs = append(c.defs, d)
	}
	return c, nil
}

// MustCatalog is NewCatalog that panics on error. For static catalogs only.
func MustCatalog(defs ...Definition) *Catalog {
	c, err := NewCatalog(defs...)
	if err != nil {
		panic(err)
	}
	return c
}

// Get returns a definition by ID.
func (c *Catalog) Get(id string) (Definition, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// All returns a copy of the definitions in catalog order.
func (c *Catalog) All() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Len returns the number of definitions.
func (c *Catalog) Len() int {
	return len(c.defs)
}

// Achievement IDs of the default catalog.
const (
	FirstSteps   = "first_steps"
	QuickLearner = "quick_learner"
	Bookworm     = "bookworm"
	TeamPlayer   = "team_player"
	HotStreak    = "hot_streak"
	Champion     = "champion"
	CodeMaster   = "code_master"
	RisingStar   = "rising_star"
)

// DefaultDefinitions returns the built-in achievements.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			ID: FirstSteps, Name: "First Steps", IconRef: "footprints",
			Description: "Complete your first task",
			XPReward:    50, Rarity: RarityCommon,
			Criterion: Criterion{Kind: CriterionTasksCompleted, Threshold: 1},
		},
		{
			ID: QuickLearner, Name: "Quick Learner", IconRef: "zap",
			Description: "Complete 25 tasks",
			XPReward:    250, Rarity: RarityEpic,
			Criterion: Criterion{Kind: CriterionTasksCompleted, Threshold: 25},
		},
		{
			ID: Bookworm, Name: "Bookworm", IconRef: "book-open",
			Description: "Complete 10 quests",
			XPReward:    150, Rarity: RarityCommon,
			Criterion: Criterion{Kind: CriterionQuestsCompleted, Threshold: 10},
		},
		{
			ID: TeamPlayer, Name: "Team Player", IconRef: "users",
			Description: "Finish 3 quests",
			XPReward:    100, Rarity: RarityCommon,
			Criterion: Criterion{Kind: CriterionQuestsCompleted, Threshold: 3},
		},
		{
			ID: HotStreak, Name: "Hot Streak", IconRef: "flame",
			Description: "Stay active 7 days in a row",
			XPReward:    200, Rarity: RarityRare,
			Criterion: Criterion{Kind: CriterionStreakDays, Threshold: 7},
		},
		{
			ID: Champion, Name: "Champion", IconRef: "trophy",
			Description: "Reach the top 10 of the all-time leaderboard",
			XPReward:    500, Rarity: RarityLegendary,
			Criterion: Criterion{Kind: CriterionLeaderboardRank, Threshold: 10},
		},
		{
			ID: CodeMaster, Name: "Code Master", IconRef: "crown",
			Description: "Reach level 10",
			XPReward:    300, Rarity: RarityEpic,
			Criterion: Criterion{Kind: CriterionLevel, Threshold: 10},
		},
		{
			ID: RisingStar, Name: "Rising Star", IconRef: "star",
			Description: "Earn 5000 XP",
			XPReward:    250, Rarity: RarityRare,
			Criterion: Criterion{Kind: CriterionXPTotal, Threshold: 5000},
		},
	}
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	return MustCatalog(DefaultDefinitions()...)
}
