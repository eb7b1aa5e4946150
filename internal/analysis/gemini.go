package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"carbon-scribe/verification-service/internal/verification"
)

// Config configures the Gemini analyzer
type Config struct {
	APIKey            string
	Model             string
	Temperature       float32
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Model:             "gemini-2.0-flash",
		Temperature:       0.1,
		RequestsPerSecond: 2,
		Burst:             4,
	}
}

// contentGenerator is the subset of *genai.Models used here
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiAnalyzer implements verification.Analyzer on the Gemini API
type GeminiAnalyzer struct {
	models  contentGenerator
	config  Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewGeminiAnalyzer creates a Gemini-backed analyzer
func NewGeminiAnalyzer(ctx context.Context, cfg Config, logger *zap.Logger) (*GeminiAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return newGeminiAnalyzer(client.Models, cfg, logger), nil
}

func newGeminiAnalyzer(models contentGenerator, cfg Config, logger *zap.Logger) *GeminiAnalyzer {
	defaults := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaults.Burst
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiAnalyzer{
		models:  models,
		config:  cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger.Named("gemini"),
	}
}

// Analyze implements verification.Analyzer
func (g *GeminiAnalyzer) Analyze(ctx context.Context, req verification.AnalysisRequest) (string, error) {
	prompt, err := BuildPrompt(req)
	if err != nil {
		return "", err
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	resp, err := g.models.GenerateContent(ctx,
		g.config.Model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			Temperature:      genai.Ptr(g.config.Temperature),
			ResponseMIMEType: "application/json",
		},
	)
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed for %s: %w", req.Facet, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty response for %s", req.Facet)
	}

	g.logger.Debug("Capability responded",
		zap.String("submission_id", req.SubmissionID),
		zap.String("facet", string(req.Facet)),
		zap.String("model", g.config.Model),
		zap.Duration("latency", time.Since(start)))

	return text, nil
}
