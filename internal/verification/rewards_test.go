package verification

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlantationCredits(t *testing.T) {
	table := DefaultRewardTable()

	tests := []struct {
		name     string
		details  PlantationDetails
		score    float64
		want     float64
		declared bool
	}{
		{
			name:     "single mangrove species",
			details:  PlantationDetails{AreaHectares: 2.0, SurvivalRate: 80, Species: []string{"rhizophora"}},
			score:    90,
			want:     2.16,
			declared: true,
		},
		{
			name:     "mixed species averaged",
			details:  PlantationDetails{AreaHectares: 5, SurvivalRate: 95, Species: []string{"rhizophora", "avicennia"}},
			score:    85.5,
			want:     5.48,
			declared: true,
		},
		{
			name:     "names are normalized",
			details:  PlantationDetails{AreaHectares: 2.0, SurvivalRate: 80, Species: []string{"  Rhizophora "}},
			score:    90,
			want:     2.16,
			declared: true,
		},
		{
			name:     "unknown species uses default multiplier",
			details:  PlantationDetails{AreaHectares: 1, SurvivalRate: 100, Species: []string{"baobab"}},
			score:    100,
			want:     0.8,
			declared: true,
		},
		{
			name:     "no species declared",
			details:  PlantationDetails{AreaHectares: 1, SurvivalRate: 100},
			score:    100,
			want:     0.8,
			declared: false,
		},
		{
			name:     "negative area yields nothing",
			details:  PlantationDetails{AreaHectares: -3, SurvivalRate: 90, Species: []string{"pine"}},
			score:    95,
			want:     0,
			declared: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			credits, declared := table.PlantationCredits(&tt.details, tt.score)
			assert.Equal(t, tt.want, credits)
			assert.Equal(t, tt.declared, declared)
		})
	}
}

func TestPlantationCredits_NilDetails(t *testing.T) {
	credits, declared := DefaultRewardTable().PlantationCredits(nil, 90)
	assert.Zero(t, credits)
	assert.False(t, declared)
}

func TestPlantationPoints(t *testing.T) {
	table := DefaultRewardTable()
	assert.Equal(t, 70, table.PlantationPoints(92, 6))
	assert.Equal(t, 40, table.PlantationPoints(85, 2))
	assert.Equal(t, 30, table.PlantationPoints(80, 1.5))
	assert.Equal(t, 10, table.PlantationPoints(10, 0))
}

func TestLoadRewardTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rewards.yaml")
	policy := `
species_multipliers:
  Kandelia: 1.25
  pine: 0.65
complaint_credits:
  high: 3.5
complaint_points:
  high: 45
`
	require.NoError(t, os.WriteFile(path, []byte(policy), 0o600))

	table, err := LoadRewardTable(path)
	require.NoError(t, err)

	assert.Equal(t, 1.25, table.SpeciesMultipliers["kandelia"])
	assert.Equal(t, 0.65, table.SpeciesMultipliers["pine"])
	assert.Equal(t, 1.5, table.SpeciesMultipliers["rhizophora"])
	assert.Equal(t, 0.8, table.DefaultMultiplier)

	credits, points := table.ComplaintReward(SeverityHigh)
	assert.Equal(t, 3.5, credits)
	assert.Equal(t, 45, points)

	credits, points = table.ComplaintReward(SeverityLow)
	assert.Equal(t, 0.5, credits)
	assert.Equal(t, 10, points)
}

func TestLoadRewardTable_Errors(t *testing.T) {
	_, err := LoadRewardTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("species_multipliers:\n  oak: -1\n"), 0o600))
	_, err = LoadRewardTable(path)
	assert.Error(t, err)

	table, err := LoadRewardTable("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRewardTable(), table)
}
