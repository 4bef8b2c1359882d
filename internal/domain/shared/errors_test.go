package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Is(t *testing.T) {
	err := NewDomainError("progress", "Apply", ErrInvalidDelta, "xp cannot go below zero")

	assert.ErrorIs(t, err, ErrInvalidDelta)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "progress.Apply: xp cannot go below zero", err.Error())

	wrapped := fmt.Errorf("apply xp: %w", err)
	assert.ErrorIs(t, wrapped, ErrInvalidDelta)

	var de *DomainError
	assert.True(t, errors.As(wrapped, &de))
	assert.Equal(t, "progress", de.Domain)
}

func TestWrapError_KeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapError("quest", "Save", ErrConcurrentModification, "save failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestClassifiers(t *testing.T) {
	assert.True(t, IsNotFound(ErrQuestNotFound))
	assert.True(t, IsRetryable(ErrVersionConflict))
	assert.False(t, IsRetryable(ErrQuestNotFound))
	assert.True(t, IsValidation(NewDomainError("leaderboard", "Rank", ErrMalformedSnapshot, "x")))
	assert.True(t, IsConfiguration(NewDomainError("achievement", "Run", ErrUnlockEvaluationOverflow, "x")))
}

func TestNewUserID(t *testing.T) {
	id, err := NewUserID("  learner-1 ")
	assert.NoError(t, err)
	assert.Equal(t, UserID("learner-1"), id)

	_, err = NewUserID("   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPagination(t *testing.T) {
	assert.Equal(t, Pagination{Offset: 0, Limit: DefaultPageSize}, NewPagination(-5, 0))
	assert.Equal(t, Pagination{Offset: 10, Limit: MaxPageSize}, NewPagination(10, 1000))
}
