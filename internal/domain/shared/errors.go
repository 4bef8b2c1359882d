// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound = errors.New("entity not found")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// Progression errors
	ErrInvalidDelta             = errors.New("xp delta would make xp negative")
	ErrOutOfOrderActivity       = errors.New("activity date precedes last recorded date")
	ErrUnlockEvaluationOverflow = errors.New("unlock evaluation exceeded iteration cap")
	ErrMalformedSnapshot        = errors.New("malformed snapshot")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progress", "streak", "leaderboard"
	Op      string // Operation that failed, e.g., "Apply", "RecordActivity"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Errorf builds a domain error with a formatted message.
func Errorf(domain, op string, kind error, format string, args ...any) *DomainError {
	return NewDomainError(domain, op, kind, fmt.Sprintf(format, args...))
}

// Progress domain errors
var (
	ErrProgressNotFound = NewDomainError("progress", "Find", ErrNotFound, "progress record not found")
	ErrVersionConflict  = NewDomainError("progress", "Save", ErrConcurrentModification, "progress record was modified concurrently")
)

// Achievement domain errors
var (
	ErrAchievementNotFound = NewDomainError("achievement", "Find", ErrNotFound, "achievement not found")
)

// Streak domain errors
var (
	ErrStreakConflict = NewDomainError("streak", "Save", ErrConcurrentModification, "streak was modified concurrently")
)

// Quest domain errors
var (
	ErrQuestNotFound    = NewDomainError("quest", "Find", ErrNotFound, "quest not found")
	ErrTaskNotFound     = NewDomainError("quest", "Toggle", ErrNotFound, "task not found in quest")
	ErrTemplateNotFound = NewDomainError("quest", "Start", ErrNotFound, "quest template not found")
	ErrQuestConflict    = NewDomainError("quest", "Save", ErrConcurrentModification, "quest was modified concurrently")
)

// Leaderboard domain errors
var (
	ErrSnapshotNotFound = NewDomainError("leaderboard", "FindSnapshot", ErrNotFound, "snapshot not found")
	ErrUnknownWindow    = NewDomainError("leaderboard", "ParseWindow", ErrInvalidInput, "unknown leaderboard window")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is caused by bad caller input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrMalformedSnapshot)
}

// IsConfiguration checks if the error signals a misconfigured catalog or setting.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrUnlockEvaluationOverflow)
}

// IsRetryable checks if the operation can be retried with fresh state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
