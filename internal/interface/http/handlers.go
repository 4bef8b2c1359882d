package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/learnquest/internal/application/command"
	"github.com/alem-hub/learnquest/internal/application/query"
	"github.com/alem-hub/learnquest/internal/domain/progress"
	"github.com/alem-hub/learnquest/internal/domain/shared"
	"github.com/alem-hub/learnquest/pkg/logger"
	"github.com/alem-hub/learnquest/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST / RESPONSE BODIES
// ══════════════════════════════════════════════════════════════════════════════

type applyXPRequest struct {
	Delta    int64  `json:"delta"`
	Reason   string `json:"reason"`
	SourceID string `json:"source_id"`
}

type applyXPResponse struct {
	UserID    string   `json:"user_id"`
	OldXP     int64    `json:"old_xp"`
	NewXP     int64    `json:"new_xp"`
	Level     int      `json:"level"`
	LeveledUp bool     `json:"leveled_up"`
	Unlocked  []string `json:"unlocked"`
}

type recordActivityRequest struct {
	// Date - календарный день YYYY-MM-DD; пусто = сегодня.
	Date string `json:"date"`
}

type recordActivityResponse struct {
	UserID         string   `json:"user_id"`
	Outcome        string   `json:"outcome"`
	Current        int      `json:"current"`
	Best           int      `json:"best"`
	StreakBroken   bool     `json:"streak_broken"`
	PreviousStreak int      `json:"previous_streak,omitempty"`
	Tracking       bool     `json:"tracking"`
	Unlocked       []string `json:"unlocked"`
}

type startQuestRequest struct {
	TemplateID string `json:"template_id"`
}

type toggleTaskResponse struct {
	Quest          query.QuestDTO `json:"quest"`
	TaskID         string         `json:"task_id"`
	Completed      bool           `json:"completed"`
	QuestCompleted bool           `json:"quest_completed"`
	XPGranted      int64          `json:"xp_granted"`
	Unlocked       []string       `json:"unlocked"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(c *gin.Context) {
	status := s.deps.HealthChecker.Check(c.Request.Context())
	if !status.Healthy {
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive", "uptime": s.Uptime().Round(time.Second).String()})
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetProgress(c *gin.Context) {
	limit, ok := intQuery(c, "history", s.config.HistoryLimit)
	if !ok {
		return
	}

	dto, err := s.deps.GetProgress.Handle(c.Request.Context(), query.GetProgressQuery{
		UserID:       c.Param("user_id"),
		HistoryLimit: limit,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

func (s *Server) handleApplyXP(c *gin.Context) {
	var req applyXPRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = string(progress.ReasonManual)
	}

	res, err := s.deps.ApplyXP.Handle(c.Request.Context(), command.ApplyXPCommand{
		UserID:   c.Param("user_id"),
		Delta:    req.Delta,
		Reason:   progress.Reason(req.Reason),
		SourceID: req.SourceID,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, applyXPResponse{
		UserID:    res.UserID,
		OldXP:     res.OldXP,
		NewXP:     res.NewXP,
		Level:     res.Level,
		LeveledUp: res.LeveledUp,
		Unlocked:  nonNil(res.Unlocked),
	})
}

func (s *Server) handleRecordActivity(c *gin.Context) {
	var req recordActivityRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	cmd := command.RecordActivityCommand{UserID: c.Param("user_id")}
	if req.Date != "" {
		day, err := timeutil.ParseDate(req.Date, s.config.Location)
		if err != nil {
			s.writeError(c, shared.WrapError("streak", "RecordActivity", shared.ErrInvalidInput,
				"date must be YYYY-MM-DD", err))
			return
		}
		cmd.At = day
	}

	res, err := s.deps.RecordActivity.Handle(c.Request.Context(), cmd)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, recordActivityResponse{
		UserID:         res.UserID,
		Outcome:        string(res.Outcome),
		Current:        res.Current,
		Best:           res.Best,
		StreakBroken:   res.StreakBroken,
		PreviousStreak: res.PreviousStreak,
		Tracking:       res.Tracking,
		Unlocked:       nonNil(res.Unlocked),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleAchievementCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"achievements": s.deps.Achievements.Catalog()})
}

// handleUserAchievements returns unlocked achievements; ?all=true returns the
// whole catalog with unlock flags.
func (s *Server) handleUserAchievements(c *gin.Context) {
	onlyUnlocked := c.Query("all") != "true"

	list, err := s.deps.Achievements.ForUser(c.Request.Context(), c.Param("user_id"), onlyUnlocked)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if list == nil {
		list = []query.AchievementDTO{}
	}
	c.JSON(http.StatusOK, gin.H{"achievements": list})
}

// ══════════════════════════════════════════════════════════════════════════════
// QUESTS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleQuestTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"templates": s.deps.GetQuest.Templates()})
}

func (s *Server) handleStartQuest(c *gin.Context) {
	var req startQuestRequest
	if !bindJSON(c, &req) {
		return
	}

	q, err := s.deps.StartQuest.Handle(c.Request.Context(), command.StartQuestCommand{
		UserID:     c.Param("user_id"),
		TemplateID: req.TemplateID,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, query.NewQuestDTO(q))
}

func (s *Server) handleListQuests(c *gin.Context) {
	list, err := s.deps.GetQuest.ListByUser(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if list == nil {
		list = []query.QuestDTO{}
	}
	c.JSON(http.StatusOK, gin.H{"quests": list})
}

func (s *Server) handleGetQuest(c *gin.Context) {
	dto, err := s.deps.GetQuest.Handle(c.Request.Context(), c.Param("quest_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

func (s *Server) handleToggleTask(c *gin.Context) {
	res, err := s.deps.ToggleTask.Handle(c.Request.Context(), command.ToggleTaskCommand{
		QuestID: c.Param("quest_id"),
		TaskID:  c.Param("task_id"),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toggleTaskResponse{
		Quest:          query.NewQuestDTO(res.Quest),
		TaskID:         res.TaskID,
		Completed:      res.Completed,
		QuestCompleted: res.QuestCompleted,
		XPGranted:      res.XPGranted,
		Unlocked:       nonNil(res.Unlocked),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetLeaderboard(c *gin.Context) {
	offset, ok := intQuery(c, "offset", 0)
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit", 0)
	if !ok {
		return
	}

	res, err := s.deps.GetLeaderboard.Handle(c.Request.Context(), query.GetLeaderboardQuery{
		Window: c.Query("window"),
		Offset: offset,
		Limit:  limit,
		UserID: c.Query("user_id"),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS & HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// errorStatus maps a domain error onto an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, shared.ErrInvalidDelta):
		return http.StatusUnprocessableEntity, "invalid_delta"
	case errors.Is(err, shared.ErrOutOfOrderActivity):
		return http.StatusConflict, "out_of_order_activity"
	case errors.Is(err, shared.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification"
	case shared.IsConfiguration(err):
		return http.StatusInternalServerError, "configuration_error"
	case shared.IsValidation(err):
		return http.StatusBadRequest, "invalid_input"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	_ = c.Error(err)

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("request failed",
			logger.String("code", code),
			logger.String("path", c.FullPath()),
			logger.Err(err),
		)
		if code == "internal_error" {
			msg = "internal server error"
		}
	}
	c.JSON(status, errorBody{Error: msg, Code: code})
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "malformed request body: " + err.Error(), Code: "invalid_input"})
		return false
	}
	return true
}

func intQuery(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, errorBody{Error: key + " must be a non-negative integer", Code: "invalid_input"})
		return 0, false
	}
	return n, true
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
