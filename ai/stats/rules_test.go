package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRules(t *testing.T) {
	rs, err := CompileRules(DefaultRules())
	require.NoError(t, err)

	tests := []struct {
		name   string
		agg    Aggregates
		budget float64
		want   []string
	}{
		{
			name: "no traffic",
			agg:  Aggregates{},
		},
		{
			name: "healthy",
			agg: Aggregates{
				Local:             SourceStats{Attempts: 10, SuccessRate: 0.95},
				Remote:            SourceStats{Attempts: 2, SuccessRate: 1},
				TotalAttempts:     12,
				AverageConfidence: 0.9,
			},
		},
		{
			name: "slow",
			agg: Aggregates{
				Local:                 SourceStats{Attempts: 1, SuccessRate: 1},
				TotalAttempts:         1,
				AverageConfidence:     0.95,
				AverageProcessingTime: 4 * time.Second,
			},
			want: []string{DefaultRules()[2].Message},
		},
		{
			name: "remote unreliable and over budget",
			agg: Aggregates{
				Remote:            SourceStats{Attempts: 6, SuccessRate: 0.3},
				TotalAttempts:     6,
				AverageConfidence: 0.9,
				RemoteSpendUSD:    2,
			},
			budget: 1,
			want:   []string{DefaultRules()[3].Message, DefaultRules()[4].Message},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rs.Evaluate(tt.agg, tt.budget)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileRules_Custom(t *testing.T) {
	rs, err := CompileRules([]Rule{{
		Name:       "savings",
		Expression: "cost_savings_usd >= 1.0",
		Message:    "saved a dollar",
	}})
	require.NoError(t, err)

	got, err := rs.Evaluate(Aggregates{CostSavingsUSD: 1.5}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"saved a dollar"}, got)
}

func TestCompileRules_UnknownVariable(t *testing.T) {
	_, err := CompileRules([]Rule{{Name: "x", Expression: "gpu_count > 0"}})
	assert.Error(t, err)
}
