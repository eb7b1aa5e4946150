package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultTaskTimeout bounds a single capability call
const DefaultTaskTimeout = 45 * time.Second

// AnalysisRequest is what the content-analysis capability receives for one facet
type AnalysisRequest struct {
	SubmissionID string         `json:"submission_id"`
	Kind         Kind           `json:"kind"`
	Facet        Facet          `json:"facet"`
	Category     string         `json:"category,omitempty"`
	Payload      map[string]any `json:"payload"`
}

// Analyzer is the content-analysis capability. It returns the raw structured judgment
// text; decoding and fallback handling stay on this side.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (string, error)
}

// ZoneLocator resolves a coordinate to a protected zone name
type ZoneLocator interface {
	Locate(lat, lng float64) (string, bool)
}

// AnalysisTask runs the capability over one facet of a submission. Run is total: every
// failure degrades to the Fallback CheckResult.
type AnalysisTask struct {
	analyzer Analyzer
	zones    ZoneLocator
	observer Observer
	timeout  time.Duration
	logger   *zap.Logger
}

// NewAnalysisTask creates a task runner. zones and observer may be nil.
func NewAnalysisTask(analyzer Analyzer, zones ZoneLocator, observer Observer, timeout time.Duration, logger *zap.Logger) *AnalysisTask {
	if observer == nil {
		observer = NopObserver{}
	}
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalysisTask{
		analyzer: analyzer,
		zones:    zones,
		observer: observer,
		timeout:  timeout,
		logger:   logger,
	}
}

// Run analyzes facet and always returns a CheckResult
func (t *AnalysisTask) Run(ctx context.Context, sub *Submission, facet Facet) (result CheckResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Facet analysis panicked",
				zap.String("submission_id", sub.ID),
				zap.String("facet", string(facet)),
				zap.Any("panic", r))
			result = Fallback(facet, fmt.Sprintf("analysis panicked: %v", r))
		}
		result = normalize(result)
		t.logger.Debug("Facet analyzed",
			zap.String("submission_id", sub.ID),
			zap.String("facet", string(facet)),
			zap.Bool("passed", result.Passed),
			zap.Float64("confidence", result.Confidence),
			zap.Duration("duration", time.Since(start)))
		t.emit(sub, result)
	}()

	payload, err := facetPayload(sub, facet)
	if err != nil {
		return Fallback(facet, err.Error())
	}

	zone := t.locateZone(sub, facet)
	if zone != "" {
		payload["protectedZone"] = zone
	}

	raw, err := t.call(ctx, AnalysisRequest{
		SubmissionID: sub.ID,
		Kind:         sub.Kind,
		Facet:        facet,
		Category:     sub.Evidence.Category,
		Payload:      payload,
	})
	if err != nil {
		t.logger.Warn("Facet analysis failed, using fallback",
			zap.String("submission_id", sub.ID),
			zap.String("facet", string(facet)),
			zap.Error(err))
		return Fallback(facet, err.Error())
	}

	cr, err := parseCheckResult(facet, raw)
	if err != nil {
		t.logger.Warn("Facet response rejected, using fallback",
			zap.String("submission_id", sub.ID),
			zap.String("facet", string(facet)),
			zap.Error(err))
		return Fallback(facet, err.Error())
	}

	if zone != "" {
		cr.Details["protectedZone"] = zone
		switch facet {
		case FacetGeo:
			cr.Details["isInMangroveZone"] = true
		case FacetLocation:
			cr.Details["mangroveRegion"] = true
		}
	}
	return cr
}

// call invokes the capability under the task timeout. The select keeps a capability
// that ignores its context from holding the join.
func (t *AnalysisTask) call(ctx context.Context, req AnalysisRequest) (string, error) {
	if t.analyzer == nil {
		return "", fmt.Errorf("no analyzer configured")
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type reply struct {
		text string
		err  error
	}
	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- reply{err: fmt.Errorf("capability panicked: %v", r)}
			}
		}()
		text, err := t.analyzer.Analyze(ctx, req)
		ch <- reply{text: text, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("analysis of %s timed out: %w", req.Facet, r.err)
		}
		return r.text, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("analysis of %s timed out: %w", req.Facet, ctx.Err())
	}
}

func (t *AnalysisTask) locateZone(sub *Submission, facet Facet) string {
	if t.zones == nil || sub.Evidence.Location == nil {
		return ""
	}
	if facet != FacetGeo && facet != FacetLocation {
		return ""
	}
	zone, ok := t.zones.Locate(sub.Evidence.Location.Lat, sub.Evidence.Location.Lng)
	if !ok {
		return ""
	}
	return zone
}

func (t *AnalysisTask) emit(sub *Submission, result CheckResult) {
	event := NewEvent(FacetEventName(result.Facet), sub, map[string]any{
		"passed":     result.Passed,
		"confidence": result.Confidence,
		"score":      result.Score,
	})
	event.Facet = result.Facet
	t.emitEvent(event)
}

func (t *AnalysisTask) emitEvent(event Event) {
	defer func() { _ = recover() }()
	t.observer.Notify(event)
}

// Synthesize asks the capability for a narrative over the decided result. The narrative
// is explanatory only; result is never changed here.
func (t *AnalysisTask) Synthesize(ctx context.Context, sub *Submission, result *VerificationResult) (summary string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("synthesis panicked: %v", r)
		}
		data := map[string]any{"available": err == nil}
		t.emitEvent(NewEvent(EventSynthesis, sub, data))
	}()

	facets := make([]map[string]any, 0, len(result.PerFacetResults))
	for _, cr := range result.PerFacetResults {
		facets = append(facets, map[string]any{
			"facet":      cr.Facet,
			"passed":     cr.Passed,
			"confidence": cr.Confidence,
			"score":      cr.Score,
			"details":    cr.Details,
		})
	}
	payload := map[string]any{
		"checks":       facets,
		"finalStatus":  result.FinalStatus,
		"overallScore": result.OverallScore,
		"severity":     result.Severity,
		"credits":      result.RewardQuantity,
	}
	if p := sub.Evidence.Plantation; p != nil {
		payload["plantationName"] = p.Name
		payload["area"] = p.AreaHectares
		payload["species"] = p.Species
	}

	raw, err := t.call(ctx, AnalysisRequest{
		SubmissionID: sub.ID,
		Kind:         sub.Kind,
		Facet:        FacetSynthesis,
		Category:     sub.Evidence.Category,
		Payload:      payload,
	})
	if err != nil {
		return "", err
	}
	return parseSynthesis(raw)
}
