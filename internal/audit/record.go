package audit

import (
	"fmt"
	"time"

	"carbon-scribe/verification-service/internal/verification"
)

// GeoPoint is an Elasticsearch geo_point
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Record is the archived and indexed form of a terminal verification
type Record struct {
	SubmissionID      string                     `json:"submission_id"`
	Kind              verification.Kind          `json:"kind"`
	OwnerID           string                     `json:"owner_id"`
	Status            verification.Status        `json:"status"`
	Category          string                     `json:"category,omitempty"`
	Location          *GeoPoint                  `json:"location,omitempty"`
	OverallScore      float64                    `json:"overall_score"`
	OverallConfidence float64                    `json:"overall_confidence"`
	Severity          verification.Severity      `json:"severity,omitempty"`
	RewardQuantity    float64                    `json:"reward_quantity"`
	RewardPoints      int                        `json:"reward_points"`
	Flags             []string                   `json:"flags"`
	Summary           string                     `json:"summary,omitempty"`
	Facets            []verification.CheckResult `json:"facets"`
	SubmittedAt       time.Time                  `json:"submitted_at"`
	CompletedAt       time.Time                  `json:"completed_at"`
}

// NewRecord flattens a submission and its result
func NewRecord(sub *verification.Submission, result *verification.VerificationResult) Record {
	rec := Record{
		SubmissionID:      sub.ID,
		Kind:              sub.Kind,
		OwnerID:           sub.OwnerID,
		Status:            result.FinalStatus,
		Category:          sub.Evidence.Category,
		OverallScore:      result.OverallScore,
		OverallConfidence: result.OverallConfidence,
		Severity:          result.Severity,
		RewardQuantity:    result.RewardQuantity,
		RewardPoints:      result.RewardPoints,
		Flags:             result.Flags,
		Summary:           result.Summary,
		Facets:            result.PerFacetResults,
		SubmittedAt:       sub.CreatedAt,
		CompletedAt:       result.CompletedAt,
	}
	if loc := sub.Evidence.Location; loc != nil {
		rec.Location = &GeoPoint{Lat: loc.Lat, Lon: loc.Lng}
	}
	if rec.Flags == nil {
		rec.Flags = []string{}
	}
	return rec
}

// ArchiveKey is the object key of a submission's archived record
func ArchiveKey(sub *verification.Submission) string {
	return fmt.Sprintf("verifications/%s/%s.json", sub.Kind, sub.ID)
}
