package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carbon-scribe/verification-service/internal/ledger"
	"carbon-scribe/verification-service/internal/review"
	"carbon-scribe/verification-service/internal/scheduler"
	"carbon-scribe/verification-service/internal/store"
	"carbon-scribe/verification-service/internal/verification"
)

const (
	archiveURLExpiry   = 15 * time.Minute
	defaultTickTimeout = 10 * time.Minute
)

// Submissions is the read side of the submission store
type Submissions interface {
	Get(ctx context.Context, id string) (*verification.Submission, error)
	CountByStatus(ctx context.Context, kind verification.Kind) (map[verification.Status]int64, error)
}

// Ticker runs a scheduler tick on demand
type Ticker interface {
	RunOnce(ctx context.Context, kind verification.Kind) (scheduler.Report, error)
}

// ArchiveLinker signs links to archived verification records
type ArchiveLinker interface {
	URL(ctx context.Context, sub *verification.Submission, expiration time.Duration) (string, error)
}

// Reviews reads the human review queue
type Reviews interface {
	GetBySubmission(ctx context.Context, submissionID string) (*review.Item, error)
	ListOpen(ctx context.Context, limit int) ([]review.Item, error)
}

// Rewards reads the reward ledger
type Rewards interface {
	GetEntry(ctx context.Context, submissionID string) (*ledger.Entry, error)
	GetUserRewards(ctx context.Context, userID string) (*ledger.UserRewards, error)
}

// ProgressStreamer upgrades a request into a progress subscription
type ProgressStreamer interface {
	Serve(w http.ResponseWriter, r *http.Request) error
}

// Handler serves the operational API
type Handler struct {
	submissions Submissions
	ticker      Ticker
	archive     ArchiveLinker
	reviews     Reviews
	rewards     Rewards
	progress    ProgressStreamer
	tickTimeout time.Duration
	cache       *statsCache
	logger      *zap.Logger
}

// Option wires an optional collaborator into the Handler
type Option func(*Handler)

// WithArchive adds signed archive links to verification responses
func WithArchive(a ArchiveLinker) Option {
	return func(h *Handler) { h.archive = a }
}

// WithReviews enables the review listing and review items on verification responses
func WithReviews(r Reviews) Option {
	return func(h *Handler) { h.reviews = r }
}

// WithRewards enables user totals and ledger entries on verification responses
func WithRewards(r Rewards) Option {
	return func(h *Handler) { h.rewards = r }
}

// WithTickTimeout bounds a manual tick
func WithTickTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.tickTimeout = d
		}
	}
}

// WithProgress enables the progress WebSocket
func WithProgress(p ProgressStreamer) Option {
	return func(h *Handler) { h.progress = p }
}

// NewHandler creates a new API handler
func NewHandler(submissions Submissions, ticker Ticker, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		submissions: submissions,
		ticker:      ticker,
		tickTimeout: defaultTickTimeout,
		cache:       newStatsCache(30 * time.Second),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Close releases the handler's background resources
func (h *Handler) Close() {
	h.cache.stop()
}

// NewRouter builds the gin engine with every route registered
func (h *Handler) NewRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.requestLogger())

	router.GET("/health", h.health)
	router.GET("/ws/progress", h.streamProgress)

	api := router.Group("/api/v1")
	h.RegisterRoutes(api)
	return router
}

// RegisterRoutes registers the verification routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/submissions/:id/verification", h.getVerification)
	router.GET("/stats/:kind", h.getStats)
	router.POST("/scheduler/:kind/tick", h.tick)
	router.GET("/reviews", h.listReviews)
	router.GET("/users/:id/rewards", h.getUserRewards)
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug("Request served",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// health handles GET /health
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// VerificationResponse is the verification view of one submission
type VerificationResponse struct {
	SubmissionID      string                           `json:"submission_id"`
	Kind              verification.Kind                `json:"kind"`
	Status            verification.Status              `json:"status"`
	Terminal          bool                             `json:"terminal"`
	Attempts          int                              `json:"attempts"`
	LastError         string                           `json:"last_error,omitempty"`
	RewardApplied     bool                             `json:"reward_applied"`
	ReviewRouted      bool                             `json:"review_routed"`
	MarketplaceStatus string                           `json:"marketplace_status,omitempty"`
	Result            *verification.VerificationResult `json:"result,omitempty"`
	LedgerEntry       *ledger.Entry                    `json:"ledger_entry,omitempty"`
	ReviewItem        *review.Item                     `json:"review_item,omitempty"`
	ArchiveURL        string                           `json:"archive_url,omitempty"`
	VerifiedAt        *time.Time                       `json:"verified_at,omitempty"`
}

// getVerification handles GET /api/v1/submissions/:id/verification
func (h *Handler) getVerification(c *gin.Context) {
	id := c.Param("id")
	sub, err := h.submissions.Get(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "submission not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to load submission", zap.String("submission_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load submission"})
		return
	}

	resp := VerificationResponse{
		SubmissionID:      sub.ID,
		Kind:              sub.Kind,
		Status:            sub.Status,
		Terminal:          sub.Status.IsTerminal(),
		Attempts:          sub.Attempts,
		LastError:         sub.LastError,
		RewardApplied:     sub.RewardApplied,
		ReviewRouted:      sub.ReviewRouted,
		MarketplaceStatus: sub.MarketplaceStatus,
		Result:            sub.Result,
		VerifiedAt:        sub.VerifiedAt,
	}
	if h.archive != nil && sub.Result != nil {
		url, err := h.archive.URL(c.Request.Context(), sub, archiveURLExpiry)
		if err != nil {
			h.logger.Warn("Failed to sign archive URL", zap.String("submission_id", id), zap.Error(err))
		} else {
			resp.ArchiveURL = url
		}
	}
	if h.rewards != nil && sub.RewardApplied {
		entry, err := h.rewards.GetEntry(c.Request.Context(), sub.ID)
		if err != nil {
			h.logger.Warn("Failed to load ledger entry", zap.String("submission_id", id), zap.Error(err))
		} else {
			resp.LedgerEntry = entry
		}
	}
	if h.reviews != nil && sub.ReviewRouted {
		item, err := h.reviews.GetBySubmission(c.Request.Context(), sub.ID)
		if err != nil {
			h.logger.Warn("Failed to load review item", zap.String("submission_id", id), zap.Error(err))
		} else {
			resp.ReviewItem = item
		}
	}

	c.JSON(http.StatusOK, resp)
}

// getStats handles GET /api/v1/stats/:kind
func (h *Handler) getStats(c *gin.Context) {
	kind, ok := parseKind(c)
	if !ok {
		return
	}

	counts, err := h.cache.getOrSet("counts:"+string(kind), func() (interface{}, error) {
		return h.submissions.CountByStatus(c.Request.Context(), kind)
	})
	if err != nil {
		h.logger.Error("Failed to count submissions", zap.String("kind", string(kind)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count submissions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"kind":   kind,
		"counts": counts,
		"cache":  h.cache.stats(),
	})
}

// tick handles POST /api/v1/scheduler/:kind/tick
func (h *Handler) tick(c *gin.Context) {
	kind, ok := parseKind(c)
	if !ok {
		return
	}

	// A tick is not abandoned when the caller goes away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.tickTimeout)
	defer cancel()

	report, err := h.ticker.RunOnce(ctx, kind)
	if err != nil {
		h.logger.Error("Manual tick failed", zap.String("kind", string(kind)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.cache.delete("counts:" + string(kind))

	if report.Skipped {
		c.JSON(http.StatusConflict, report)
		return
	}
	c.JSON(http.StatusOK, report)
}

// listReviews handles GET /api/v1/reviews
func (h *Handler) listReviews(c *gin.Context) {
	if h.reviews == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "review queue is not configured"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}

	items, err := h.reviews.ListOpen(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list review items", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list review items"})
		return
	}
	if items == nil {
		items = []review.Item{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// getUserRewards handles GET /api/v1/users/:id/rewards
func (h *Handler) getUserRewards(c *gin.Context) {
	if h.rewards == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "reward ledger is not configured"})
		return
	}

	userID := c.Param("id")
	totals, err := h.rewards.GetUserRewards(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to load user rewards", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user rewards"})
		return
	}
	c.JSON(http.StatusOK, totals)
}

// streamProgress handles GET /ws/progress
func (h *Handler) streamProgress(c *gin.Context) {
	if h.progress == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "progress stream is not configured"})
		return
	}
	if err := h.progress.Serve(c.Writer, c.Request); err != nil {
		h.logger.Warn("Progress subscription failed", zap.Error(err))
	}
}

func parseKind(c *gin.Context) (verification.Kind, bool) {
	kind := verification.Kind(c.Param("kind"))
	for _, k := range verification.Kinds {
		if k == kind {
			return kind, true
		}
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "unknown submission kind"})
	return "", false
}
