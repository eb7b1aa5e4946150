package verification

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pipeline is the generic verification engine. Each submission kind is described by an
// EngineSpec; the pipeline runs its facets concurrently and hands the joined
// results to its policy.
type Pipeline struct {
	specs    map[Kind]EngineSpec
	task     *AnalysisTask
	observer Observer
	logger   *zap.Logger
	now      func() time.Time
}

// NewPipeline creates a pipeline over specs. observer may be nil.
func NewPipeline(task *AnalysisTask, specs []EngineSpec, observer Observer, logger *zap.Logger) *Pipeline {
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		specs:    make(map[Kind]EngineSpec, len(specs)),
		task:     task,
		observer: observer,
		logger:   logger,
		now:      time.Now,
	}
	for _, spec := range specs {
		p.specs[spec.Kind] = spec
	}
	return p
}

// Facets returns the ordered facet list for kind
func (p *Pipeline) Facets(kind Kind) ([]Facet, error) {
	spec, ok := p.specs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return spec.Facets, nil
}

// Verify runs every facet of sub and aggregates the results. It fails only for an
// unregistered kind or a cancelled ctx; facet and aggregation failures are folded into
// the returned result.
func (p *Pipeline) Verify(ctx context.Context, sub *Submission) (*VerificationResult, error) {
	spec, ok := p.specs[sub.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, sub.Kind)
	}

	start := p.now()
	p.emit(NewEvent(EventWorkflowStart, sub, map[string]any{"facets": spec.Facets}))

	results := make([]CheckResult, len(spec.Facets))
	var g errgroup.Group
	for i, facet := range spec.Facets {
		g.Go(func() error {
			results[i] = p.task.Run(ctx, sub, facet)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("verification of %s interrupted: %w", sub.ID, err)
	}

	result := p.aggregate(spec, results, sub)

	if spec.Synthesize && !result.HasFlag(FlagSystemError) {
		summary, err := p.task.Synthesize(ctx, sub, result)
		if err != nil {
			p.logger.Warn("Synthesis unavailable, keeping deterministic summary",
				zap.String("submission_id", sub.ID),
				zap.Error(err))
			result.Flags = append(result.Flags, FlagSynthesisUnavailable)
		} else {
			result.Summary = summary
		}
	}

	result.CompletedAt = p.now().UTC()

	p.emit(NewEvent(EventWorkflowComplete, sub, map[string]any{
		"final_status":  result.FinalStatus,
		"overall_score": result.OverallScore,
		"reward":        result.RewardQuantity,
	}))

	p.logger.Info("Submission verified",
		zap.String("submission_id", sub.ID),
		zap.String("kind", string(sub.Kind)),
		zap.String("final_status", string(result.FinalStatus)),
		zap.Float64("overall_score", result.OverallScore),
		zap.Strings("flags", result.Flags),
		zap.Duration("duration", p.now().Sub(start)))

	return result, nil
}

// aggregate runs the policy behind a recover boundary
func (p *Pipeline) aggregate(spec EngineSpec, results []CheckResult, sub *Submission) (result *VerificationResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Aggregation panicked",
				zap.String("submission_id", sub.ID),
				zap.Any("panic", r))
			result = SystemErrorResult(results, fmt.Errorf("panic: %v", r))
		}
	}()

	if spec.Policy == nil {
		return SystemErrorResult(results, fmt.Errorf("no policy for kind %q", spec.Kind))
	}

	res, err := spec.Policy.Aggregate(results, sub)
	if err != nil || res == nil {
		if err == nil {
			err = fmt.Errorf("policy returned no result")
		}
		p.logger.Error("Aggregation failed",
			zap.String("submission_id", sub.ID),
			zap.Error(err))
		return SystemErrorResult(results, err)
	}
	return res
}

func (p *Pipeline) emit(event Event) {
	defer func() { _ = recover() }()
	p.observer.Notify(event)
}
