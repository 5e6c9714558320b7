package run

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeMetrics_SuccessRate(t *testing.T) {
	tests := []struct {
		name    string
		summary *Summary
		rate    float64
		all     bool
	}{
		{"no summary yet", nil, 0, false},
		{"zero steps", &Summary{TotalSteps: 0}, 0, true},
		{"all passed", &Summary{TotalSteps: 4, Passed: 4}, 100, true},
		{"half passed", &Summary{TotalSteps: 4, Passed: 2, Failed: 2}, 50, false},
		{"skips count against rate", &Summary{TotalSteps: 3, Passed: 2, Skipped: 1}, 66.6666, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ComputeMetrics(State{Summary: tt.summary, Phase: PhaseCompleted})
			assert.InDelta(t, tt.rate, m.SuccessRate, 0.01)
			assert.Equal(t, tt.all, m.AllPassed)
		})
	}
}

func TestComputeMetrics_ProgressFraction(t *testing.T) {
	t.Run("zero total guards division", func(t *testing.T) {
		m := ComputeMetrics(State{TotalSteps: 0, CurrentStepIndex: 3})
		assert.Zero(t, m.ProgressFraction)
	})

	t.Run("mid run", func(t *testing.T) {
		m := ComputeMetrics(State{TotalSteps: 4, CurrentStepIndex: 2})
		assert.InDelta(t, 0.5, m.ProgressFraction, 0.001)
	})
}

func TestComputeMetrics_Counts(t *testing.T) {
	state := State{
		Phase:      PhaseStreaming,
		TotalSteps: 3,
		CompletedSteps: []StepResult{
			{StepID: "a", Status: StatusPassed, Attempt: 1},
			{StepID: "b", Status: StatusFailed, Attempt: 1},
		},
	}
	m := ComputeMetrics(state)
	assert.Equal(t, 2, m.CompletedCount)
	assert.Equal(t, 3, m.TotalSteps)
	assert.Equal(t, PhaseStreaming, m.Phase)
}
