package accounting

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCost(t *testing.T) {
	tests := []struct {
		name   string
		model  string
		input  int
		output int
		want   float64
	}{
		{"sonnet small", "claude-sonnet-4-5", 1000, 500, 0.0105},
		{"opus small", "claude-opus-4-1", 1000, 500, 0.0525},
		{"unknown model uses default row", "mystery-model", 1000, 500, 0.0105},
		{"zero tokens", "claude-sonnet-4-5", 0, 0, 0},
		{"million in", "claude-sonnet-4-5", 1_000_000, 0, 3.00},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cost(tt.model, tt.input, tt.output), 1e-9)
		})
	}
}

func TestRoundBankersIsDeterministic(t *testing.T) {
	// Four-decimal rounding away from ties.
	assert.Equal(t, 0.1234, roundBankers(0.12344, 4))
	assert.Equal(t, 0.1235, roundBankers(0.12346, 4))

	// Repeated rounding of the same value never drifts.
	first := roundBankers(1.0/3.0, 4)
	assert.Equal(t, first, roundBankers(first, 4))
	assert.Equal(t, 0.3333, first)
}

func TestSmartZoneHandoff(t *testing.T) {
	a := New("claude-sonnet-4-5", 0, 0, 0)
	assert.Equal(t, 120_000, a.SmartZoneMax())
	assert.Equal(t, 160_000, a.EffectiveCapacity())

	// 59.9% vs 60.0% of a 200k window.
	assert.False(t, a.ShouldHandoff(119_800))
	assert.True(t, a.ShouldHandoff(120_000))
}

func TestForcedHandoffConsumedOnce(t *testing.T) {
	a := New("claude-sonnet-4-5", 0, 0, 0)
	a.ForceHandoff()
	assert.True(t, a.ShouldHandoff(0))
	assert.False(t, a.ShouldHandoff(0), "forced flag is one-shot")
}

func TestCheckLimits(t *testing.T) {
	a := New("claude-sonnet-4-5", 1.0, 5.0, 20.0)

	assert.NoError(t, a.CheckLimits(0.99, 4.99, 19.99))

	err := a.CheckLimits(1.0, 0, 0)
	assert.True(t, errors.Is(err, ErrIterationBudgetExceeded))

	err = a.CheckLimits(0, 5.0, 0)
	assert.True(t, errors.Is(err, ErrSessionBudgetExceeded))

	err = a.CheckLimits(0, 0, 20.0)
	assert.True(t, errors.Is(err, ErrTotalBudgetExceeded))

	unlimited := New("claude-sonnet-4-5", 0, 0, 0)
	assert.NoError(t, unlimited.CheckLimits(1000, 1000, 1000))
}
