package store

import (
	"context"
	"errors"
	"time"

	"carbon-scribe/verification-service/internal/verification"
)

var (
	// ErrNotFound is returned when no submission has the requested id
	ErrNotFound = errors.New("submission not found")
	// ErrStatusConflict is returned when a guarded write finds the submission in another status
	ErrStatusConflict = errors.New("submission status conflict")
)

// DefaultMaxAttempts is the retry budget before a submission is marked failed
const DefaultMaxAttempts = 5

// Store persists submissions. Every write is a single-document conditional update.
type Store interface {
	Create(ctx context.Context, sub *verification.Submission) error
	Get(ctx context.Context, id string) (*verification.Submission, error)

	// ClaimPending atomically moves up to limit of the oldest pending submissions of kind
	// to in_progress and returns them. A submission is returned by at most one caller.
	ClaimPending(ctx context.Context, kind verification.Kind, limit int) ([]*verification.Submission, error)

	// Complete writes the terminal result of an in_progress submission
	Complete(ctx context.Context, id string, result *verification.VerificationResult, marketplaceStatus string) error

	// Release returns an in_progress submission to pending, or to failed once attempts
	// reach maxAttempts. It returns the new status.
	Release(ctx context.Context, id string, cause string, maxAttempts int) (verification.Status, error)

	// Unclaim returns an in_progress submission to pending without spending an attempt.
	// It is used for claims whose analysis never ran.
	Unclaim(ctx context.Context, id string) error

	// FindStale returns in_progress submissions of kind claimed before cutoff, oldest first
	FindStale(ctx context.Context, kind verification.Kind, cutoff time.Time, limit int) ([]*verification.Submission, error)

	MarkRewarded(ctx context.Context, id string) error
	FindUnrewarded(ctx context.Context, kind verification.Kind, limit int) ([]*verification.Submission, error)

	MarkReviewRouted(ctx context.Context, id string) error
	FindUnrouted(ctx context.Context, kind verification.Kind, limit int) ([]*verification.Submission, error)

	CountByStatus(ctx context.Context, kind verification.Kind) (map[verification.Status]int64, error)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*MongoStore)(nil)
)
