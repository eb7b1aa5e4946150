package verification

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// PointsTier grants Points when a value reaches Min
type PointsTier struct {
	Min    float64 `yaml:"min" json:"min"`
	Points int     `yaml:"points" json:"points"`
}

// RewardTable holds the configurable reward inputs of both scoring policies
type RewardTable struct {
	SpeciesMultipliers map[string]float64   `yaml:"species_multipliers" json:"species_multipliers"`
	DefaultMultiplier  float64              `yaml:"default_multiplier" json:"default_multiplier"`
	ScorePoints        []PointsTier         `yaml:"score_points" json:"score_points"`
	AreaBonus          []PointsTier         `yaml:"area_bonus" json:"area_bonus"`
	ComplaintCredits   map[Severity]float64 `yaml:"complaint_credits" json:"complaint_credits"`
	ComplaintPoints    map[Severity]int     `yaml:"complaint_points" json:"complaint_points"`
}

// DefaultRewardTable returns the built-in reward table
func DefaultRewardTable() RewardTable {
	return RewardTable{
		SpeciesMultipliers: map[string]float64{
			"rhizophora": 1.5,
			"heritiera":  1.4,
			"bruguiera":  1.3,
			"avicennia":  1.2,
			"sonneratia": 1.1,
			"ceriops":    1.0,
			"phoenix":    0.8,
			"oak":        0.7,
			"pine":       0.6,
			"birch":      0.5,
		},
		DefaultMultiplier: 0.8,
		ScorePoints: []PointsTier{
			{Min: 90, Points: 50},
			{Min: 80, Points: 30},
			{Min: 70, Points: 20},
			{Min: 0, Points: 10},
		},
		AreaBonus: []PointsTier{
			{Min: 5, Points: 20},
			{Min: 2, Points: 10},
		},
		ComplaintCredits: map[Severity]float64{
			SeverityLow:    0.5,
			SeverityMedium: 1.0,
			SeverityHigh:   2.0,
		},
		ComplaintPoints: map[Severity]int{
			SeverityLow:    10,
			SeverityMedium: 20,
			SeverityHigh:   30,
		},
	}
}

// LoadRewardTable overlays the YAML policy file at path onto the defaults.
// Species names are normalized and only the keys present in the file are replaced.
func LoadRewardTable(path string) (RewardTable, error) {
	table := DefaultRewardTable()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return table, fmt.Errorf("failed to read reward policy: %w", err)
	}

	var override RewardTable
	if err := yaml.Unmarshal(data, &override); err != nil {
		return table, fmt.Errorf("failed to parse reward policy: %w", err)
	}

	for name, m := range override.SpeciesMultipliers {
		if m < 0 {
			return table, fmt.Errorf("species %q has negative multiplier %v", name, m)
		}
		table.SpeciesMultipliers[normalizeSpecies(name)] = m
	}
	if override.DefaultMultiplier > 0 {
		table.DefaultMultiplier = override.DefaultMultiplier
	}
	if len(override.ScorePoints) > 0 {
		table.ScorePoints = override.ScorePoints
	}
	if len(override.AreaBonus) > 0 {
		table.AreaBonus = override.AreaBonus
	}
	for sev, c := range override.ComplaintCredits {
		table.ComplaintCredits[sev] = math.Max(0, c)
	}
	for sev, p := range override.ComplaintPoints {
		if p < 0 {
			p = 0
		}
		table.ComplaintPoints[sev] = p
	}
	return table, nil
}

// SpeciesMultiplier returns the mean multiplier over the declared species.
// declared is false when no species was given and the default multiplier applies.
func (t RewardTable) SpeciesMultiplier(species []string) (multiplier float64, declared bool) {
	var sum float64
	var n int
	for _, s := range species {
		name := normalizeSpecies(s)
		if name == "" {
			continue
		}
		m, ok := t.SpeciesMultipliers[name]
		if !ok {
			m = t.DefaultMultiplier
		}
		sum += m
		n++
	}
	if n == 0 {
		return t.DefaultMultiplier, false
	}
	return sum / float64(n), true
}

// PlantationCredits computes carbon credits:
// area × survival/100 × species multiplier × score/100, rounded to 2 decimals.
func (t RewardTable) PlantationCredits(details *PlantationDetails, overallScore float64) (credits float64, declared bool) {
	if details == nil {
		return 0, false
	}
	area := math.Max(0, details.AreaHectares)
	survival := clamp(details.SurvivalRate, 0, 100)
	multiplier, declared := t.SpeciesMultiplier(details.Species)
	score := clamp(overallScore, 0, 100)
	return round2(area * (survival / 100) * multiplier * (score / 100)), declared
}

// PlantationPoints returns the score tier points plus the area bonus
func (t RewardTable) PlantationPoints(overallScore, areaHectares float64) int {
	return highestTier(t.ScorePoints, overallScore) + highestTier(t.AreaBonus, areaHectares)
}

// ComplaintReward returns the credits and points configured for severity
func (t RewardTable) ComplaintReward(severity Severity) (float64, int) {
	return t.ComplaintCredits[severity], t.ComplaintPoints[severity]
}

func highestTier(tiers []PointsTier, value float64) int {
	sorted := make([]PointsTier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Min > sorted[j].Min })
	for _, tier := range sorted {
		if value >= tier.Min {
			return tier.Points
		}
	}
	return 0
}

func normalizeSpecies(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
