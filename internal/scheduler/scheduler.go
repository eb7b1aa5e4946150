package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"carbon-scribe/verification-service/internal/ledger"
	"carbon-scribe/verification-service/internal/store"
	"carbon-scribe/verification-service/internal/verification"
)

// Verifier runs the verification pipeline for one submission
type Verifier interface {
	Verify(ctx context.Context, sub *verification.Submission) (*verification.VerificationResult, error)
}

// Ledger credits verified submissions. ApplyReward must be idempotent per submission.
type Ledger interface {
	ApplyReward(ctx context.Context, reward ledger.Reward) (bool, error)
}

// Finalizer is a side effect run after a submission reaches a terminal result.
// Finalizer errors are logged and never revert the submission.
type Finalizer interface {
	Name() string
	Finalize(ctx context.Context, sub *verification.Submission, result *verification.VerificationResult) error
}

// ReviewRouter hands needs_review results to the human review path. Route must be
// idempotent per submission.
type ReviewRouter interface {
	Route(ctx context.Context, sub *verification.Submission, result *verification.VerificationResult) error
}

// KindConfig is the cadence of one submission kind
type KindConfig struct {
	Spec      string `json:"spec" yaml:"spec"`
	BatchSize int    `json:"batch_size" yaml:"batch_size"`
}

// Config configures the scheduler
type Config struct {
	Kinds       map[verification.Kind]KindConfig `json:"kinds"`
	MaxAttempts int                              `json:"max_attempts"`
	LockTTL     time.Duration                    `json:"lock_ttl"`
}

// DefaultConfig returns the default per-kind cadence
func DefaultConfig() Config {
	return Config{
		Kinds: map[verification.Kind]KindConfig{
			verification.KindComplaint:  {Spec: "@every 1m", BatchSize: 10},
			verification.KindPlantation: {Spec: "@every 30s", BatchSize: 5},
		},
		MaxAttempts: store.DefaultMaxAttempts,
		LockTTL:     10 * time.Minute,
	}
}

// Report summarizes one tick
type Report struct {
	Kind        verification.Kind `json:"kind"`
	Skipped     bool              `json:"skipped"`
	Reconciled  int               `json:"reconciled"`
	Recovered   int               `json:"recovered"`
	Claimed     int               `json:"claimed"`
	Verified    int               `json:"verified"`
	NeedsReview int               `json:"needs_review"`
	Rejected    int               `json:"rejected"`
	Released    int               `json:"released"`
	Failed      int               `json:"failed"`
	Returned    int               `json:"returned"`
	Duration    time.Duration     `json:"duration"`
}

// Scheduler drives pending submissions through the pipeline on a cron cadence
type Scheduler struct {
	cron       *cron.Cron
	config     Config
	store      store.Store
	verifier   Verifier
	ledger     Ledger
	locker     Locker
	finalizers []Finalizer
	reviews    ReviewRouter
	observer   verification.Observer
	metrics    *metrics
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// Option customizes a Scheduler
type Option func(*Scheduler)

// WithLocker replaces the default process-local tick lock
func WithLocker(l Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

// WithFinalizers registers post-terminal side effects, run in order
func WithFinalizers(f ...Finalizer) Option {
	return func(s *Scheduler) { s.finalizers = append(s.finalizers, f...) }
}

// WithReviewRouter routes needs_review results and retries routing that failed
func WithReviewRouter(r ReviewRouter) Option {
	return func(s *Scheduler) { s.reviews = r }
}

// WithObserver sets the sink for submission status events
func WithObserver(o verification.Observer) Option {
	return func(s *Scheduler) {
		if o != nil {
			s.observer = o
		}
	}
}

// New creates a scheduler
func New(cfg Config, st store.Store, verifier Verifier, ldg Ledger, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = store.DefaultMaxAttempts
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}

	m, err := newMetrics()
	if err != nil {
		return nil, err
	}

	cronLogger := NewCronLogger(logger)
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		config:   cfg,
		store:    st,
		verifier: verifier,
		ledger:   ldg,
		locker:   NewLocalLocker(),
		observer: verification.NopObserver{},
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	for kind, kc := range cfg.Kinds {
		if _, err := cron.ParseStandard(kc.Spec); err != nil {
			return nil, fmt.Errorf("invalid schedule for %s: %w", kind, err)
		}
	}
	return s, nil
}

// Start registers one cron job per kind and starts the runner
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	for kind, kc := range s.config.Kinds {
		if _, err := s.cron.AddFunc(kc.Spec, func() {
			if _, err := s.RunOnce(runCtx, kind); err != nil {
				s.logger.Error("Verification tick failed", zap.String("kind", string(kind)), zap.Error(err))
			}
		}); err != nil {
			cancel()
			return fmt.Errorf("failed to schedule %s: %w", kind, err)
		}
		s.logger.Info("Verification job scheduled",
			zap.String("kind", string(kind)),
			zap.String("spec", kc.Spec),
			zap.Int("batch_size", kc.BatchSize))
	}

	s.cancel = cancel
	s.running = true
	s.cron.Start()
	return nil
}

// Stop cancels in-flight ticks and waits for them to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.logger.Info("Stopping verification scheduler")
	s.cancel()
	<-s.cron.Stop().Done()
	s.running = false
}

// RunOnce runs a single tick for kind. A tick that cannot take the lock is skipped.
func (s *Scheduler) RunOnce(ctx context.Context, kind verification.Kind) (Report, error) {
	report := Report{Kind: kind}
	kc, ok := s.config.Kinds[kind]
	if !ok {
		return report, fmt.Errorf("%w: %s", verification.ErrUnknownKind, kind)
	}

	lockKey := "verification-tick:" + string(kind)
	token, acquired, err := s.locker.Acquire(ctx, lockKey, s.config.LockTTL)
	if err != nil {
		return report, fmt.Errorf("failed to acquire tick lock: %w", err)
	}
	if !acquired {
		report.Skipped = true
		s.logger.Debug("Verification tick skipped, lock held elsewhere", zap.String("kind", string(kind)))
		return report, nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
			s.logger.Warn("Failed to release tick lock", zap.String("kind", string(kind)), zap.Error(err))
		}
	}()

	start := time.Now()
	defer func() {
		report.Duration = time.Since(start)
		s.metrics.recordTick(ctx, kind, report.Duration)
	}()

	report.Recovered = s.recoverStale(ctx, kind, kc.BatchSize)
	report.Reconciled = s.reconcileRewards(ctx, kind, kc.BatchSize) + s.reconcileReviews(ctx, kind, kc.BatchSize)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	subs, err := s.store.ClaimPending(ctx, kind, kc.BatchSize)
	if err != nil {
		return report, fmt.Errorf("failed to claim %s submissions: %w", kind, err)
	}
	report.Claimed = len(subs)

	for i, sub := range subs {
		if ctx.Err() != nil {
			report.Returned += s.unclaim(ctx, subs[i:])
			break
		}
		switch s.processSafely(ctx, sub) {
		case verification.StatusVerified:
			report.Verified++
		case verification.StatusNeedsReview:
			report.NeedsReview++
		case verification.StatusRejected:
			report.Rejected++
		case verification.StatusPending:
			report.Released++
		case verification.StatusFailed:
			report.Failed++
		case statusReturned:
			report.Returned++
		}
	}

	if report.Claimed > 0 || report.Reconciled > 0 || report.Recovered > 0 {
		s.logger.Info("Verification tick completed",
			zap.String("kind", string(kind)),
			zap.Int("claimed", report.Claimed),
			zap.Int("verified", report.Verified),
			zap.Int("needs_review", report.NeedsReview),
			zap.Int("rejected", report.Rejected),
			zap.Int("released", report.Released),
			zap.Int("failed", report.Failed),
			zap.Int("returned", report.Returned),
			zap.Int("reconciled", report.Reconciled),
			zap.Int("recovered", report.Recovered))
	}
	return report, nil
}

const unclaimTimeout = 30 * time.Second

// statusReturned marks a claim handed back to pending without spending an attempt
const statusReturned verification.Status = "returned"

// processSafely turns a panic anywhere in process into a release, so a claimed
// submission never stays in_progress.
func (s *Scheduler) processSafely(ctx context.Context, sub *verification.Submission) (status verification.Status) {
	defer func() {
		if r := recover(); r != nil {
			logger := s.logger.With(zap.String("submission_id", sub.ID), zap.String("kind", string(sub.Kind)))
			logger.Error("Submission processing panicked", zap.Any("panic", r), zap.Stack("stack"))
			status = s.release(ctx, sub, fmt.Errorf("processing panicked: %v", r), logger)
		}
	}()
	return s.process(ctx, sub)
}

// process takes one claimed submission to a terminal state or back to pending.
// It returns the status the submission ends in.
func (s *Scheduler) process(ctx context.Context, sub *verification.Submission) verification.Status {
	logger := s.logger.With(zap.String("submission_id", sub.ID), zap.String("kind", string(sub.Kind)))

	result, err := s.verifier.Verify(ctx, sub)
	if err != nil {
		if ctx.Err() != nil {
			// Interrupted by shutdown or a gone caller, not by the submission.
			logger.Warn("Verification interrupted, returning claim", zap.Error(err))
			if s.unclaim(ctx, []*verification.Submission{sub}) == 1 {
				return statusReturned
			}
			return ""
		}
		return s.release(ctx, sub, fmt.Errorf("verification failed: %w", err), logger)
	}

	marketplace := verification.MarketplaceStatusFor(sub.Kind, result)
	if err := s.store.Complete(ctx, sub.ID, result, marketplace); err != nil {
		if errors.Is(err, store.ErrStatusConflict) || errors.Is(err, store.ErrNotFound) {
			logger.Error("Submission changed while being verified, result discarded", zap.Error(err))
			return ""
		}
		return s.release(ctx, sub, fmt.Errorf("failed to persist result: %w", err), logger)
	}

	sub.Status = result.FinalStatus
	sub.Result = result
	sub.MarketplaceStatus = marketplace
	s.metrics.recordProcessed(ctx, sub.Kind, result.FinalStatus)

	logger.Info("Submission verified",
		zap.String("status", string(result.FinalStatus)),
		zap.Float64("overall_score", result.OverallScore),
		zap.Float64("reward_quantity", result.RewardQuantity),
		zap.Strings("flags", result.Flags))

	// Past the terminal write nothing reverts the submission.
	afterCtx := context.WithoutCancel(ctx)
	switch result.FinalStatus {
	case verification.StatusVerified:
		s.credit(afterCtx, sub, logger)
	case verification.StatusNeedsReview:
		s.route(afterCtx, sub, logger)
	}
	s.finalize(afterCtx, sub, result, logger)

	s.observer.Notify(verification.NewEvent(verification.StatusEventName(result.FinalStatus), sub, map[string]any{
		"overall_score":   result.OverallScore,
		"reward_quantity": result.RewardQuantity,
		"reward_points":   result.RewardPoints,
		"flags":           result.Flags,
	}))
	return result.FinalStatus
}

func (s *Scheduler) release(ctx context.Context, sub *verification.Submission, cause error, logger *zap.Logger) verification.Status {
	status, err := s.store.Release(context.WithoutCancel(ctx), sub.ID, cause.Error(), s.config.MaxAttempts)
	if err != nil {
		logger.Error("Failed to release submission", zap.NamedError("cause", cause), zap.Error(err))
		return ""
	}
	s.metrics.recordRelease(ctx, sub.Kind, status)

	if status == verification.StatusFailed {
		logger.Error("Submission failed after retry budget",
			zap.Int("max_attempts", s.config.MaxAttempts),
			zap.Error(cause))
		sub.Status = status
		s.observer.Notify(verification.NewEvent(verification.StatusEventName(status), sub, map[string]any{
			"error": cause.Error(),
		}))
	} else {
		logger.Warn("Submission released for retry", zap.Error(cause))
	}
	return status
}

// unclaim hands claims that were never analyzed back to pending and returns how many
// it moved.
func (s *Scheduler) unclaim(ctx context.Context, subs []*verification.Submission) int {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unclaimTimeout)
	defer cancel()

	n := 0
	for _, sub := range subs {
		if err := s.store.Unclaim(ctx, sub.ID); err != nil {
			s.logger.Error("Failed to return claim",
				zap.String("submission_id", sub.ID),
				zap.String("kind", string(sub.Kind)),
				zap.Error(err))
			continue
		}
		n++
	}
	if n > 0 {
		s.logger.Info("Returned unprocessed claims", zap.Int("count", n))
	}
	return n
}

// recoverStale releases claims left in_progress longer than the lock TTL, which only
// happens when the process that claimed them died mid-tick. The release spends an
// attempt, so a submission that keeps killing its worker ends failed.
func (s *Scheduler) recoverStale(ctx context.Context, kind verification.Kind, limit int) int {
	cutoff := s.now().Add(-s.config.LockTTL)
	subs, err := s.store.FindStale(ctx, kind, cutoff, limit)
	if err != nil {
		s.logger.Error("Failed to find stale claims", zap.String("kind", string(kind)), zap.Error(err))
		return 0
	}

	recovered := 0
	for _, sub := range subs {
		logger := s.logger.With(zap.String("submission_id", sub.ID), zap.String("kind", string(kind)))
		if s.release(ctx, sub, errors.New("claim expired before a result was written"), logger) != "" {
			recovered++
		}
	}
	return recovered
}

// credit applies the ledger reward and marks the submission rewarded. On failure the
// submission stays unrewarded and is picked up by the next reconciliation.
func (s *Scheduler) credit(ctx context.Context, sub *verification.Submission, logger *zap.Logger) bool {
	reward := rewardFor(sub)
	applied, err := s.ledger.ApplyReward(ctx, reward)
	if err != nil && !errors.Is(err, ledger.ErrInvalidReward) {
		logger.Error("Failed to apply reward, will reconcile", zap.Error(err))
		return false
	}
	if err != nil {
		logger.Error("Reward cannot be credited", zap.Error(err))
	} else if !applied {
		logger.Debug("Reward already applied")
	}

	if err := s.store.MarkRewarded(ctx, sub.ID); err != nil {
		logger.Error("Failed to mark submission rewarded, will reconcile", zap.Error(err))
		return false
	}
	sub.RewardApplied = true
	return true
}

// route enqueues a needs_review submission for humans and marks it routed. On failure
// the submission stays unrouted and is picked up by the next reconciliation.
func (s *Scheduler) route(ctx context.Context, sub *verification.Submission, logger *zap.Logger) bool {
	if s.reviews == nil {
		return false
	}
	if err := s.reviews.Route(ctx, sub, sub.Result); err != nil {
		logger.Error("Failed to route submission for review, will reconcile", zap.Error(err))
		return false
	}
	if err := s.store.MarkReviewRouted(ctx, sub.ID); err != nil {
		logger.Error("Failed to mark submission routed, will reconcile", zap.Error(err))
		return false
	}
	sub.ReviewRouted = true
	return true
}

func (s *Scheduler) reconcileReviews(ctx context.Context, kind verification.Kind, limit int) int {
	if s.reviews == nil {
		return 0
	}
	subs, err := s.store.FindUnrouted(ctx, kind, limit)
	if err != nil {
		s.logger.Error("Failed to find unrouted submissions", zap.String("kind", string(kind)), zap.Error(err))
		return 0
	}

	reconciled := 0
	for _, sub := range subs {
		if sub.Result == nil {
			continue
		}
		logger := s.logger.With(zap.String("submission_id", sub.ID), zap.String("kind", string(kind)))
		if s.route(ctx, sub, logger) {
			reconciled++
			logger.Info("Review routing reconciled")
		}
	}
	return reconciled
}

func (s *Scheduler) reconcileRewards(ctx context.Context, kind verification.Kind, limit int) int {
	subs, err := s.store.FindUnrewarded(ctx, kind, limit)
	if err != nil {
		s.logger.Error("Failed to find unrewarded submissions", zap.String("kind", string(kind)), zap.Error(err))
		return 0
	}

	reconciled := 0
	for _, sub := range subs {
		if sub.Result == nil {
			continue
		}
		logger := s.logger.With(zap.String("submission_id", sub.ID), zap.String("kind", string(kind)))
		if s.credit(ctx, sub, logger) {
			reconciled++
			logger.Info("Reward reconciled", zap.Float64("reward_quantity", sub.Result.RewardQuantity))
		}
	}
	return reconciled
}

func (s *Scheduler) finalize(ctx context.Context, sub *verification.Submission, result *verification.VerificationResult, logger *zap.Logger) {
	for _, f := range s.finalizers {
		if err := s.runFinalizer(ctx, f, sub, result); err != nil {
			logger.Warn("Finalizer failed", zap.String("finalizer", f.Name()), zap.Error(err))
		}
	}
}

func (s *Scheduler) runFinalizer(ctx context.Context, f Finalizer, sub *verification.Submission, result *verification.VerificationResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("finalizer panicked: %v", r)
		}
	}()
	return f.Finalize(ctx, sub, result)
}

func rewardFor(sub *verification.Submission) ledger.Reward {
	result := sub.Result
	return ledger.Reward{
		SubmissionID: sub.ID,
		UserID:       sub.OwnerID,
		Kind:         string(sub.Kind),
		Credits:      result.RewardQuantity,
		Points:       result.RewardPoints,
		Severity:     string(result.Severity),
		Metadata: map[string]any{
			"overall_score":      result.OverallScore,
			"overall_confidence": result.OverallConfidence,
			"flags":              result.Flags,
		},
	}
}
