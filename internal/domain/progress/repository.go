package progress

import (
	"context"
	"time"
)

// Repository persists ledger records and their XP history.
//
// Save is an optimistic compare-and-set: it succeeds only if the stored version
// equals expectedVersion (0 means "not stored yet") and then sets rec.Version to
// expectedVersion+1. On mismatch it returns an error matching
// shared.ErrConcurrentModification. The change, when non-nil, is appended in the
// same atomic step.
type Repository interface {
	// Get returns the record or an error matching shared.ErrNotFound.
	Get(ctx context.Context, userID string) (*Record, error)

	Save(ctx context.Context, rec *Record, expectedVersion int64, change *Change) error

	// SumGainedSince sums positive deltas recorded at or after since.
	SumGainedSince(ctx context.Context, userID string, since time.Time) (int64, error)

	// History returns the most recent changes, newest first.
	History(ctx context.Context, userID string, limit int) ([]Change, error)
}
