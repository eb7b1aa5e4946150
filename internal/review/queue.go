package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"carbon-scribe/verification-service/internal/verification"
)

// Item states
const (
	ItemOpen    = "open"
	ItemDecided = "decided"
)

// Item is a submission waiting for a human decision
type Item struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	SubmissionID string         `db:"submission_id" json:"submission_id"`
	Kind         string         `db:"kind" json:"kind"`
	OwnerID      string         `db:"owner_id" json:"owner_id"`
	OverallScore float64        `db:"overall_score" json:"overall_score"`
	Flags        pq.StringArray `db:"flags" json:"flags"`
	Summary      string         `db:"summary" json:"summary"`
	Status       string         `db:"status" json:"status"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	DecidedAt    *time.Time     `db:"decided_at" json:"decided_at,omitempty"`
}

// Repository stores review items
type Repository interface {
	Enqueue(ctx context.Context, item *Item) (bool, error)
	GetBySubmission(ctx context.Context, submissionID string) (*Item, error)
	ListOpen(ctx context.Context, limit int) ([]Item, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS review_queue (
	id UUID PRIMARY KEY,
	submission_id TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	overall_score NUMERIC(5,2) NOT NULL,
	flags TEXT[] NOT NULL DEFAULT '{}',
	summary TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'open',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	decided_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_review_queue_status ON review_queue (status, created_at);`

type postgresRepository struct {
	db *sqlx.DB
}

// NewRepository creates a Postgres-backed review repository
func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

// EnsureSchema creates the review_queue table
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create review_queue: %w", err)
	}
	return nil
}

func (r *postgresRepository) Enqueue(ctx context.Context, item *Item) (bool, error) {
	query := `
		INSERT INTO review_queue (
			id, submission_id, kind, owner_id, overall_score, flags, summary, status, created_at
		) VALUES (
			:id, :submission_id, :kind, :owner_id, :overall_score, :flags, :summary, :status, :created_at
		)
		ON CONFLICT (submission_id) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, item)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *postgresRepository) GetBySubmission(ctx context.Context, submissionID string) (*Item, error) {
	var item Item
	err := r.db.GetContext(ctx, &item, "SELECT * FROM review_queue WHERE submission_id = $1", submissionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &item, err
}

func (r *postgresRepository) ListOpen(ctx context.Context, limit int) ([]Item, error) {
	var items []Item
	err := r.db.SelectContext(ctx, &items,
		"SELECT * FROM review_queue WHERE status = $1 ORDER BY created_at ASC LIMIT $2", ItemOpen, limit)
	return items, err
}

// Router sends needs_review outcomes to the review queue
type Router struct {
	repo   Repository
	logger *zap.Logger
}

// NewRouter creates a review router
func NewRouter(repo Repository, logger *zap.Logger) *Router {
	return &Router{repo: repo, logger: logger}
}

// Route enqueues sub when its result needs a human decision. Routing the same
// submission twice leaves a single queue item.
func (r *Router) Route(ctx context.Context, sub *verification.Submission, result *verification.VerificationResult) error {
	if result.FinalStatus != verification.StatusNeedsReview {
		return nil
	}

	flags := result.Flags
	if flags == nil {
		flags = []string{}
	}
	item := &Item{
		ID:           uuid.New(),
		SubmissionID: sub.ID,
		Kind:         string(sub.Kind),
		OwnerID:      sub.OwnerID,
		OverallScore: result.OverallScore,
		Flags:        pq.StringArray(flags),
		Summary:      result.Summary,
		Status:       ItemOpen,
		CreatedAt:    time.Now().UTC(),
	}

	created, err := r.repo.Enqueue(ctx, item)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s for review: %w", sub.ID, err)
	}
	if created {
		r.logger.Info("Submission routed to manual review",
			zap.String("submission_id", sub.ID),
			zap.Float64("overall_score", result.OverallScore))
	}
	return nil
}
