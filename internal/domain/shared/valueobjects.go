package shared

import (
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER ID
// ══════════════════════════════════════════════════════════════════════════════

// UserID identifies a learner. The engine treats it as opaque.
type UserID string

// maxUserIDLength bounds IDs coming from the HTTP boundary.
const maxUserIDLength = 128

// IsValid returns true if the ID is non-empty and reasonably sized.
func (u UserID) IsValid() bool {
	s := strings.TrimSpace(string(u))
	return s != "" && len(s) <= maxUserIDLength
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// NewUserID validates and creates a UserID.
func NewUserID(id string) (UserID, error) {
	u := UserID(strings.TrimSpace(id))
	if !u.IsValid() {
		return "", NewDomainError("user", "Validate", ErrInvalidInput, "user id must be 1-128 characters")
	}
	return u, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RANK
// ══════════════════════════════════════════════════════════════════════════════

// Rank represents a 1-based position on a leaderboard.
type Rank int

// Unranked means the user is absent from the leaderboard.
const Unranked Rank = 0

// IsUnranked returns true if no position is assigned.
func (r Rank) IsUnranked() bool {
	return r <= Unranked
}

// Int returns the rank as int.
func (r Rank) Int() int {
	return int(r)
}

// ══════════════════════════════════════════════════════════════════════════════
// PAGINATION
// ══════════════════════════════════════════════════════════════════════════════

// Pagination holds offset-based paging parameters.
type Pagination struct {
	Offset int
	Limit  int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// NewPagination normalizes offset and limit into the allowed range.
func NewPagination(offset, limit int) Pagination {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return Pagination{Offset: offset, Limit: limit}
}
