package verification

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedResponse is returned when capability output cannot be decoded
var ErrMalformedResponse = errors.New("malformed analysis response")

// cleanResponse strips the wrappers models put around JSON: code fences and a leading
// "json" language tag.
func cleanResponse(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "```", "")
	s = strings.TrimSpace(s)
	if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
		s = strings.TrimSpace(s[4:])
	}
	return s
}

func decodeObject(raw string) (map[string]any, error) {
	cleaned := cleanResponse(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(cleaned), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedResponse)
	}
	return obj, nil
}

// parseCheckResult decodes the capability's judgment for facet. The verdict field is
// named after the facet (imageCheck, geoCheck, ...). A missing score is derived from the
// confidence.
func parseCheckResult(facet Facet, raw string) (CheckResult, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return CheckResult{}, err
	}

	checkField := string(facet) + "Check"
	passed, ok := asBool(obj[checkField])
	if !ok {
		return CheckResult{}, fmt.Errorf("%w: missing %s", ErrMalformedResponse, checkField)
	}

	confidence, _ := asFloat(obj["confidence"])
	confidence = clampConfidence(confidence)

	score, hasScore := asFloat(obj["score"])
	if !hasScore {
		score = confidence * 100
	}
	score = clamp(score, 0, 100)

	return CheckResult{
		Facet:      facet,
		Passed:     passed,
		Confidence: confidence,
		Score:      score,
		Details:    obj,
	}, nil
}

// parseSynthesis extracts the narrative from the synthesis call.
func parseSynthesis(raw string) (string, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return "", err
	}
	for _, key := range []string{"summary", "verificationSummary", "reasoning"} {
		if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), nil
		}
	}
	return "", fmt.Errorf("%w: no summary text", ErrMalformedResponse)
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	}
	return false, false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func asStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// clampConfidence maps a confidence into [0,1]; values in (1,100] are read as percentages.
func clampConfidence(c float64) float64 {
	if c > 1 && c <= 100 {
		c = c / 100
	}
	return clamp(c, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// normalize enforces the CheckResult range invariants.
func normalize(cr CheckResult) CheckResult {
	cr.Confidence = clamp(cr.Confidence, 0, 1)
	cr.Score = clamp(cr.Score, 0, 100)
	if cr.Details == nil {
		cr.Details = map[string]any{}
	}
	return cr
}
