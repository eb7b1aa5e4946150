package verification

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanResponse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"json prefix", "json {\"a\":1}", `{"a":1}`},
		{"surrounding whitespace", "  \n{\"a\":1}\n ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanResponse(tt.raw))
		})
	}
}

func TestParseCheckResult(t *testing.T) {
	cr, err := parseCheckResult(FacetImage, "```json\n{\"imageCheck\": true, \"confidence\": 0.82, \"score\": 77, \"detectedIssues\": [\"stumps\"]}\n```")
	require.NoError(t, err)
	assert.Equal(t, FacetImage, cr.Facet)
	assert.True(t, cr.Passed)
	assert.InDelta(t, 0.82, cr.Confidence, 1e-9)
	assert.InDelta(t, 77, cr.Score, 1e-9)
	assert.Equal(t, []any{"stumps"}, cr.Details["detectedIssues"])
}

func TestParseCheckResult_ScoreDerivedFromConfidence(t *testing.T) {
	cr, err := parseCheckResult(FacetGeo, `{"geoCheck": false, "confidence": 0.4}`)
	require.NoError(t, err)
	assert.False(t, cr.Passed)
	assert.InDelta(t, 40, cr.Score, 1e-9)
}

func TestParseCheckResult_Clamps(t *testing.T) {
	cr, err := parseCheckResult(FacetData, `{"dataCheck": "true", "confidence": 85, "score": 140}`)
	require.NoError(t, err)
	assert.True(t, cr.Passed)
	assert.InDelta(t, 0.85, cr.Confidence, 1e-9)
	assert.Equal(t, 100.0, cr.Score)

	cr, err = parseCheckResult(FacetData, `{"dataCheck": true, "confidence": -3, "score": -10}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cr.Confidence)
	assert.Equal(t, 0.0, cr.Score)
}

func TestParseCheckResult_Rejects(t *testing.T) {
	for name, raw := range map[string]string{
		"empty":          "",
		"not json":       "the image shows mangroves",
		"array":          `[1,2,3]`,
		"missing check":  `{"confidence": 0.9}`,
		"wrong facet":    `{"imageCheck": true}`,
		"non bool check": `{"textCheck": 3}`,
	} {
		t.Run(name, func(t *testing.T) {
			facet := FacetText
			_, err := parseCheckResult(facet, raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedResponse))
		})
	}
}

func TestParseSynthesis(t *testing.T) {
	summary, err := parseSynthesis(`{"verificationSummary": " Healthy young stand. "}`)
	require.NoError(t, err)
	assert.Equal(t, "Healthy young stand.", summary)

	_, err = parseSynthesis(`{"summary": ""}`)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}
