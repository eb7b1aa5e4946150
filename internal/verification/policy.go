package verification

import (
	"errors"
	"fmt"
)

// Policy thresholds
const (
	VerifiedThreshold    = 80.0
	NeedsReviewThreshold = 60.0

	LowConfidenceThreshold = 0.5
	StrongImageConfidence  = 0.7

	complaintQuorum = 2
)

// ErrUnknownKind is returned for a submission kind with no registered engine spec
var ErrUnknownKind = errors.New("unknown submission kind")

// Policy turns the facet verdicts of one submission into a decision. Implementations
// are deterministic and perform no I/O.
type Policy interface {
	Aggregate(results []CheckResult, sub *Submission) (*VerificationResult, error)
}

// EngineSpec parameterizes the generic pipeline for one submission kind
type EngineSpec struct {
	Kind       Kind
	Facets     []Facet
	Policy     Policy
	Synthesize bool
}

// DefaultSpecs returns the engine specs for complaints and plantations
func DefaultSpecs(rewards RewardTable) []EngineSpec {
	return []EngineSpec{
		{
			Kind:       KindComplaint,
			Facets:     []Facet{FacetImage, FacetGeo, FacetText},
			Policy:     &ComplaintPolicy{Rewards: rewards},
			Synthesize: true,
		},
		{
			Kind:       KindPlantation,
			Facets:     []Facet{FacetData, FacetImage, FacetDocument, FacetLocation},
			Policy:     &PlantationPolicy{Rewards: rewards, Weights: DefaultPlantationWeights()},
			Synthesize: true,
		},
	}
}

// ComplaintPolicy is the majority rule over image, geo and text
type ComplaintPolicy struct {
	Rewards RewardTable
}

// Aggregate implements Policy
func (p *ComplaintPolicy) Aggregate(results []CheckResult, sub *Submission) (*VerificationResult, error) {
	if sub == nil {
		return nil, fmt.Errorf("nil submission")
	}
	byFacet := indexResults(results, FacetImage, FacetGeo, FacetText)
	image, geo, text := byFacet[FacetImage], byFacet[FacetGeo], byFacet[FacetText]

	passed := 0
	for _, cr := range []CheckResult{image, geo, text} {
		if cr.Passed {
			passed++
		}
	}

	status := StatusRejected
	if passed >= complaintQuorum {
		status = StatusVerified
	}

	severity := complaintSeverity(image, geo, text)
	score, confidence := meanScores(image, geo, text)

	result := &VerificationResult{
		FinalStatus:       status,
		OverallScore:      round2(score),
		OverallConfidence: confidence,
		Severity:          severity,
		Flags:             advisoryFlags(confidence, image, geo, text),
		PerFacetResults:   orderedResults(byFacet, FacetImage, FacetGeo, FacetText),
	}
	if status == StatusVerified {
		result.RewardQuantity, result.RewardPoints = p.Rewards.ComplaintReward(severity)
	}
	result.Summary = deterministicSummary(result, passed)
	return result, nil
}

func complaintSeverity(image, geo, text CheckResult) Severity {
	strongImage := image.Passed && image.Confidence >= StrongImageConfidence
	inZone, _ := asBool(geo.Details["isInMangroveZone"])
	keywords := text.Passed && len(asStrings(text.Details["severityKeywords"])) > 0

	switch {
	case strongImage && inZone && keywords:
		return SeverityHigh
	case strongImage || inZone || keywords:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// PlantationWeights are the facet weights of the plantation score; they sum to 1
type PlantationWeights struct {
	Data     float64
	Image    float64
	Document float64
	Location float64
}

// DefaultPlantationWeights returns 0.25 data, 0.35 image, 0.25 document, 0.15 location
func DefaultPlantationWeights() PlantationWeights {
	return PlantationWeights{Data: 0.25, Image: 0.35, Document: 0.25, Location: 0.15}
}

// Score returns the weighted facet score rounded to 2 decimals
func (w PlantationWeights) Score(data, image, document, location float64) float64 {
	return round2(w.Data*data + w.Image*image + w.Document*document + w.Location*location)
}

// PlantationPolicy is the weighted score with verified/needs_review/rejected bands
type PlantationPolicy struct {
	Rewards RewardTable
	Weights PlantationWeights
}

// Aggregate implements Policy
func (p *PlantationPolicy) Aggregate(results []CheckResult, sub *Submission) (*VerificationResult, error) {
	if sub == nil {
		return nil, fmt.Errorf("nil submission")
	}
	byFacet := indexResults(results, FacetData, FacetImage, FacetDocument, FacetLocation)
	data, image := byFacet[FacetData], byFacet[FacetImage]
	document, location := byFacet[FacetDocument], byFacet[FacetLocation]

	score := p.Weights.Score(data.Score, image.Score, document.Score, location.Score)
	status := PlantationBand(score)
	_, confidence := meanScores(data, image, document, location)

	result := &VerificationResult{
		FinalStatus:       status,
		OverallScore:      score,
		OverallConfidence: confidence,
		Flags:             advisoryFlags(confidence, data, image, document, location),
		PerFacetResults:   orderedResults(byFacet, FacetData, FacetImage, FacetDocument, FacetLocation),
	}

	switch status {
	case StatusVerified:
		credits, declared := p.Rewards.PlantationCredits(sub.Evidence.Plantation, score)
		result.RewardQuantity = credits
		area := 0.0
		if sub.Evidence.Plantation != nil {
			area = sub.Evidence.Plantation.AreaHectares
		}
		result.RewardPoints = p.Rewards.PlantationPoints(score, area)
		if !declared {
			result.Flags = append(result.Flags, FlagNoSpeciesDeclared)
		}
	case StatusNeedsReview:
		result.Flags = append(result.Flags, FlagManualReview)
	}

	passed := 0
	for _, cr := range result.PerFacetResults {
		if cr.Passed {
			passed++
		}
	}
	result.Summary = deterministicSummary(result, passed)
	return result, nil
}

// PlantationBand maps an overall score to a status
func PlantationBand(score float64) Status {
	switch {
	case score >= VerifiedThreshold:
		return StatusVerified
	case score >= NeedsReviewThreshold:
		return StatusNeedsReview
	default:
		return StatusRejected
	}
}

// MarketplaceStatusFor returns the listing state written with a terminal result
func MarketplaceStatusFor(kind Kind, result *VerificationResult) string {
	if kind != KindPlantation || result == nil {
		return ""
	}
	if result.FinalStatus == StatusVerified && result.RewardQuantity > 0 {
		return MarketplaceListed
	}
	return MarketplaceNotListed
}

// SystemErrorResult is the decision recorded when aggregation itself fails
func SystemErrorResult(results []CheckResult, cause error) *VerificationResult {
	summary := "aggregation failed"
	if cause != nil {
		summary = fmt.Sprintf("aggregation failed: %v", cause)
	}
	return &VerificationResult{
		FinalStatus:     StatusRejected,
		Flags:           []string{FlagSystemError},
		Summary:         summary,
		PerFacetResults: results,
	}
}

// indexResults keys results by facet; facets without a result get the fallback.
func indexResults(results []CheckResult, facets ...Facet) map[Facet]CheckResult {
	byFacet := make(map[Facet]CheckResult, len(facets))
	for _, cr := range results {
		byFacet[cr.Facet] = normalize(cr)
	}
	for _, f := range facets {
		if _, ok := byFacet[f]; !ok {
			byFacet[f] = Fallback(f, "no result produced")
		}
	}
	return byFacet
}

func orderedResults(byFacet map[Facet]CheckResult, facets ...Facet) []CheckResult {
	out := make([]CheckResult, 0, len(facets))
	for _, f := range facets {
		out = append(out, byFacet[f])
	}
	return out
}

func meanScores(results ...CheckResult) (score, confidence float64) {
	if len(results) == 0 {
		return 0, 0
	}
	for _, cr := range results {
		score += cr.Score
		confidence += cr.Confidence
	}
	n := float64(len(results))
	return score / n, confidence / n
}

func advisoryFlags(confidence float64, results ...CheckResult) []string {
	flags := make([]string, 0, len(results)+1)
	for _, cr := range results {
		if !cr.Passed {
			flags = append(flags, string(cr.Facet)+FlagCheckFailedSuffix)
		}
	}
	if confidence < LowConfidenceThreshold {
		flags = append(flags, FlagLowConfidence)
	}
	return flags
}

func deterministicSummary(result *VerificationResult, passed int) string {
	return fmt.Sprintf("%s: %d of %d checks passed, overall score %.2f",
		result.FinalStatus, passed, len(result.PerFacetResults), result.OverallScore)
}
