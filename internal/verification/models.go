package verification

import (
	"time"
)

// Kind identifies the type of claim a submission makes
type Kind string

const (
	KindComplaint  Kind = "complaint"
	KindPlantation Kind = "plantation"
)

// Kinds lists every supported submission kind
var Kinds = []Kind{KindComplaint, KindPlantation}

// Status is the lifecycle state of a submission
type Status string

const (
	StatusPending     Status = "pending"
	StatusInProgress  Status = "in_progress"
	StatusVerified    Status = "verified"
	StatusNeedsReview Status = "needs_review"
	StatusRejected    Status = "rejected"
	StatusFailed      Status = "failed"
)

// HasResult reports whether a submission in this status carries a VerificationResult
func (s Status) HasResult() bool {
	return s == StatusVerified || s == StatusNeedsReview || s == StatusRejected
}

// IsTerminal reports whether the scheduler will never pick the submission up again
func (s Status) IsTerminal() bool {
	return s.HasResult() || s == StatusFailed
}

// Facet is one evidence dimension of a submission
type Facet string

const (
	FacetImage    Facet = "image"
	FacetGeo      Facet = "geo"
	FacetText     Facet = "text"
	FacetData     Facet = "data"
	FacetDocument Facet = "document"
	FacetLocation Facet = "location"

	// FacetSynthesis is not analyzed evidence; it names the narrative call made after aggregation.
	FacetSynthesis Facet = "synthesis"
)

// Severity labels a verified complaint
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Complaint categories accepted from submitters
const (
	CategoryCutting   = "cutting"
	CategoryDumping   = "dumping"
	CategoryPollution = "pollution"
	CategoryFire      = "fire"
	CategoryOther     = "other"
)

// Media types
const (
	MediaPhoto = "photo"
	MediaVideo = "video"
)

// Marketplace listing states for plantations
const (
	MarketplaceNotListed = "not_listed"
	MarketplaceListed    = "listed"
)

// Advisory flags attached to a VerificationResult
const (
	FlagSystemError          = "system_error"
	FlagLowConfidence        = "low_confidence"
	FlagManualReview         = "manual_review_required"
	FlagNoSpeciesDeclared    = "no_species_declared"
	FlagCheckFailedSuffix    = "_check_failed"
	FlagSynthesisUnavailable = "synthesis_unavailable"
)

// Submission is the unit of work processed by the pipeline
type Submission struct {
	ID                string              `bson:"_id" json:"id"`
	OwnerID           string              `bson:"owner_id" json:"owner_id"`
	Kind              Kind                `bson:"kind" json:"kind"`
	Evidence          Evidence            `bson:"evidence" json:"evidence"`
	Status            Status              `bson:"status" json:"status"`
	Result            *VerificationResult `bson:"result,omitempty" json:"result,omitempty"`
	Attempts          int                 `bson:"attempts" json:"attempts"`
	LastError         string              `bson:"last_error,omitempty" json:"last_error,omitempty"`
	RewardApplied     bool                `bson:"reward_applied" json:"reward_applied"`
	ReviewRouted      bool                `bson:"review_routed" json:"review_routed"`
	MarketplaceStatus string              `bson:"marketplace_status,omitempty" json:"marketplace_status,omitempty"`
	CreatedAt         time.Time           `bson:"created_at" json:"created_at"`
	ClaimedAt         *time.Time          `bson:"claimed_at,omitempty" json:"claimed_at,omitempty"`
	VerifiedAt        *time.Time          `bson:"verified_at,omitempty" json:"verified_at,omitempty"`
	UpdatedAt         time.Time           `bson:"updated_at" json:"updated_at"`
}

// Evidence is the facet-keyed bag attached to a submission
type Evidence struct {
	Media       []Media            `bson:"media,omitempty" json:"media,omitempty"`
	Location    *Location          `bson:"location,omitempty" json:"location,omitempty"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	Category    string             `bson:"category,omitempty" json:"category,omitempty"`
	Documents   Documents          `bson:"documents" json:"documents"`
	Plantation  *PlantationDetails `bson:"plantation,omitempty" json:"plantation,omitempty"`
}

// Media is an uploaded photo or video reference
type Media struct {
	URL  string `bson:"url" json:"url"`
	Type string `bson:"type" json:"type"`
}

// Location is a WGS84 coordinate with an optional human address
type Location struct {
	Lat     float64 `bson:"lat" json:"lat"`
	Lng     float64 `bson:"lng" json:"lng"`
	Address string  `bson:"address,omitempty" json:"address,omitempty"`
}

// Documents holds certificate references for plantation claims
type Documents struct {
	SoilCertificate  string   `bson:"soil_certificate,omitempty" json:"soil_certificate,omitempty"`
	PlantCertificate string   `bson:"plant_certificate,omitempty" json:"plant_certificate,omitempty"`
	Additional       []string `bson:"additional,omitempty" json:"additional,omitempty"`
}

// Empty reports whether no document was provided
func (d Documents) Empty() bool {
	return d.SoilCertificate == "" && d.PlantCertificate == "" && len(d.Additional) == 0
}

// PlantationDetails are the declared facts of a restoration claim
type PlantationDetails struct {
	Name            string    `bson:"name" json:"name"`
	AreaHectares    float64   `bson:"area_hectares" json:"area_hectares"`
	Species         []string  `bson:"species" json:"species"`
	PlantingDate    time.Time `bson:"planting_date" json:"planting_date"`
	SurvivalRate    float64   `bson:"survival_rate" json:"survival_rate"`
	ExpectedCredits float64   `bson:"expected_credits,omitempty" json:"expected_credits,omitempty"`
}

// CheckResult is one AnalysisTask's verdict for one facet
type CheckResult struct {
	Facet      Facet          `bson:"facet" json:"facet"`
	Passed     bool           `bson:"passed" json:"passed"`
	Confidence float64        `bson:"confidence" json:"confidence"`
	Score      float64        `bson:"score" json:"score"`
	Details    map[string]any `bson:"details,omitempty" json:"details,omitempty"`
}

// Fallback returns the all-false CheckResult used whenever a facet cannot be analyzed
func Fallback(facet Facet, reason string) CheckResult {
	return CheckResult{
		Facet:      facet,
		Passed:     false,
		Confidence: 0,
		Score:      0,
		Details:    map[string]any{"error": reason},
	}
}

// VerificationResult is the aggregated decision persisted with a submission
type VerificationResult struct {
	FinalStatus       Status        `bson:"final_status" json:"final_status"`
	OverallScore      float64       `bson:"overall_score" json:"overall_score"`
	OverallConfidence float64       `bson:"overall_confidence" json:"overall_confidence"`
	Severity          Severity      `bson:"severity,omitempty" json:"severity,omitempty"`
	RewardQuantity    float64       `bson:"reward_quantity" json:"reward_quantity"`
	RewardPoints      int           `bson:"reward_points" json:"reward_points"`
	Flags             []string      `bson:"flags" json:"flags"`
	Summary           string        `bson:"summary,omitempty" json:"summary,omitempty"`
	PerFacetResults   []CheckResult `bson:"per_facet_results" json:"per_facet_results"`
	CompletedAt       time.Time     `bson:"completed_at" json:"completed_at"`
}

// HasFlag reports whether flag was raised
func (r *VerificationResult) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Facet returns the CheckResult for facet, if present
func (r *VerificationResult) Facet(facet Facet) (CheckResult, bool) {
	for _, cr := range r.PerFacetResults {
		if cr.Facet == facet {
			return cr, true
		}
	}
	return CheckResult{}, false
}
