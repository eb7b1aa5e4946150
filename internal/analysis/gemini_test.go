package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"carbon-scribe/verification-service/internal/verification"
)

// MockGenerator is a mock implementation of contentGenerator
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	args := m.Called(ctx, model, contents, config)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*genai.GenerateContentResponse), args.Error(1)
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(text, genai.RoleModel)},
		},
	}
}

func geoRequest() verification.AnalysisRequest {
	return verification.AnalysisRequest{
		SubmissionID: "c-1",
		Kind:         verification.KindComplaint,
		Facet:        verification.FacetGeo,
		Category:     verification.CategoryCutting,
		Payload: map[string]any{
			"location":      map[string]any{"lat": 21.9, "lng": 89.1},
			"protectedZone": "Sundarbans",
		},
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt, err := BuildPrompt(geoRequest())
	require.NoError(t, err)

	assert.Contains(t, prompt, `"geoCheck": boolean`)
	assert.Contains(t, prompt, "Category: cutting")
	assert.Contains(t, prompt, `"protectedZone": "Sundarbans"`)
	assert.Contains(t, prompt, "Submission kind: complaint")
}

func TestBuildPrompt_AllFacets(t *testing.T) {
	facets := []verification.Facet{
		verification.FacetImage, verification.FacetGeo, verification.FacetText,
		verification.FacetData, verification.FacetDocument, verification.FacetLocation,
		verification.FacetSynthesis,
	}
	for _, facet := range facets {
		prompt, err := BuildPrompt(verification.AnalysisRequest{Facet: facet, Payload: map[string]any{}})
		require.NoError(t, err, facet)
		if facet != verification.FacetSynthesis {
			assert.Contains(t, prompt, string(facet)+"Check")
		}
	}

	_, err := BuildPrompt(verification.AnalysisRequest{Facet: "smell"})
	assert.Error(t, err)
}

func TestGeminiAnalyzer_Analyze(t *testing.T) {
	gen := new(MockGenerator)
	gen.On("GenerateContent", mock.Anything, "gemini-test",
		mock.MatchedBy(func(contents []*genai.Content) bool { return len(contents) == 1 }),
		mock.MatchedBy(func(cfg *genai.GenerateContentConfig) bool {
			return cfg.ResponseMIMEType == "application/json" && cfg.Temperature != nil && *cfg.Temperature == 0.1
		}),
	).Return(textResponse(`{"geoCheck": true, "confidence": 0.9}`), nil)

	analyzer := newGeminiAnalyzer(gen, Config{Model: "gemini-test", Temperature: 0.1}, zap.NewNop())
	text, err := analyzer.Analyze(context.Background(), geoRequest())
	require.NoError(t, err)
	assert.Equal(t, `{"geoCheck": true, "confidence": 0.9}`, text)
	gen.AssertNumberOfCalls(t, "GenerateContent", 1)
}

func TestGeminiAnalyzer_Errors(t *testing.T) {
	gen := new(MockGenerator)
	gen.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("quota exceeded")).Once()
	gen.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(textResponse("   "), nil).Once()

	analyzer := newGeminiAnalyzer(gen, Config{}, zap.NewNop())

	_, err := analyzer.Analyze(context.Background(), geoRequest())
	assert.ErrorContains(t, err, "quota exceeded")

	_, err = analyzer.Analyze(context.Background(), geoRequest())
	assert.ErrorContains(t, err, "empty response")

	_, err = analyzer.Analyze(context.Background(), verification.AnalysisRequest{Facet: "smell"})
	assert.Error(t, err)
}

func TestGeminiAnalyzer_RateLimiterHonoursContext(t *testing.T) {
	gen := new(MockGenerator)
	analyzer := newGeminiAnalyzer(gen, Config{RequestsPerSecond: 0.001, Burst: 1}, zap.NewNop())
	require.True(t, analyzer.limiter.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := analyzer.Analyze(ctx, geoRequest())
	assert.ErrorContains(t, err, "rate limiter")
	gen.AssertNotCalled(t, "GenerateContent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestNewGeminiAnalyzer_RequiresKey(t *testing.T) {
	_, err := NewGeminiAnalyzer(context.Background(), Config{}, zap.NewNop())
	assert.Error(t, err)
}
