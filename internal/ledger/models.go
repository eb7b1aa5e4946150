package ledger

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Entry records one credited submission. SubmissionID is unique, which makes applying
// the same reward twice a no-op.
type Entry struct {
	ID           uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	SubmissionID string         `json:"submission_id" gorm:"uniqueIndex;not null"`
	UserID       string         `json:"user_id" gorm:"index;not null"`
	Kind         string         `json:"kind" gorm:"not null"`
	Credits      float64        `json:"credits" gorm:"type:decimal(12,2);not null"`
	Points       int            `json:"points" gorm:"not null;default:0"`
	Severity     string         `json:"severity,omitempty"`
	Metadata     datatypes.JSON `json:"metadata" gorm:"default:'{}'"`
	CreatedAt    time.Time      `json:"created_at" gorm:"autoCreateTime"`
}

func (Entry) TableName() string { return "ledger_entries" }

// UserRewards is the running total for one user
type UserRewards struct {
	UserID        string    `json:"user_id" gorm:"primaryKey"`
	CreditsEarned float64   `json:"credits_earned" gorm:"type:decimal(14,2);not null;default:0"`
	Points        int       `json:"points" gorm:"not null;default:0"`
	Submissions   int       `json:"submissions" gorm:"not null;default:0"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (UserRewards) TableName() string { return "user_rewards" }

// Reward is the credit to apply for one verified submission
type Reward struct {
	SubmissionID string
	UserID       string
	Kind         string
	Credits      float64
	Points       int
	Severity     string
	Metadata     map[string]any
}
