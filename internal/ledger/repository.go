package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrInvalidReward is returned for a reward that cannot be recorded
var ErrInvalidReward = errors.New("invalid reward")

// Repository is the Postgres reward ledger
type Repository struct {
	db *gorm.DB
}

// Open connects to Postgres with gorm
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger database: %w", err)
	}
	return db, nil
}

// NewRepository creates a ledger repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// AutoMigrate creates or updates the ledger tables
func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Entry{}, &UserRewards{})
}

const (
	insertEntrySQL = `INSERT INTO ledger_entries
		(id, submission_id, user_id, kind, credits, points, severity, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (submission_id) DO NOTHING`

	upsertTotalsSQL = `INSERT INTO user_rewards
		(user_id, credits_earned, points, submissions, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			credits_earned = user_rewards.credits_earned + EXCLUDED.credits_earned,
			points = user_rewards.points + EXCLUDED.points,
			submissions = user_rewards.submissions + 1,
			updated_at = EXCLUDED.updated_at`
)

// ApplyReward records reward and adds it to the user's totals in one transaction.
// applied is false when the submission was already credited; the totals are then
// left untouched.
func (r *Repository) ApplyReward(ctx context.Context, reward Reward) (applied bool, err error) {
	entry, err := newEntry(reward)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(insertEntrySQL,
			entry.ID, entry.SubmissionID, entry.UserID, entry.Kind,
			entry.Credits, entry.Points, entry.Severity, string(entry.Metadata), now)
		if res.Error != nil {
			return fmt.Errorf("failed to insert ledger entry: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		if err := tx.Exec(upsertTotalsSQL, entry.UserID, entry.Credits, entry.Points, now).Error; err != nil {
			return fmt.Errorf("failed to update user rewards: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// GetUserRewards returns the running totals for userID
func (r *Repository) GetUserRewards(ctx context.Context, userID string) (*UserRewards, error) {
	var totals UserRewards
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&totals).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &UserRewards{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user rewards: %w", err)
	}
	return &totals, nil
}

// GetEntry returns the ledger entry for a submission, or nil when it was never credited
func (r *Repository) GetEntry(ctx context.Context, submissionID string) (*Entry, error) {
	var entry Entry
	err := r.db.WithContext(ctx).Where("submission_id = ?", submissionID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return &entry, nil
}

func newEntry(reward Reward) (*Entry, error) {
	if reward.SubmissionID == "" || reward.UserID == "" {
		return nil, fmt.Errorf("%w: submission and user are required", ErrInvalidReward)
	}
	if reward.Credits < 0 || reward.Points < 0 {
		return nil, fmt.Errorf("%w: negative reward for %s", ErrInvalidReward, reward.SubmissionID)
	}

	metadata := reward.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ledger metadata: %w", err)
	}

	return &Entry{
		ID:           uuid.New(),
		SubmissionID: reward.SubmissionID,
		UserID:       reward.UserID,
		Kind:         reward.Kind,
		Credits:      reward.Credits,
		Points:       reward.Points,
		Severity:     reward.Severity,
		Metadata:     datatypes.JSON(raw),
	}, nil
}
