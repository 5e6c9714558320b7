package run

// Metrics is the derived, user-facing projection of a State. It holds no
// state of its own and is recomputed from the latest snapshot on every read.
type Metrics struct {
	Phase            Phase
	TotalSteps       int
	CompletedCount   int
	SuccessRate      float64 // percent of summary steps that passed, 0 when no steps
	AllPassed        bool    // meaningful only once Phase is completed
	ProgressFraction float64 // current index over total, 0 when total unknown
}

// ComputeMetrics projects a state snapshot into display metrics.
func ComputeMetrics(s State) Metrics {
	m := Metrics{
		Phase:          s.Phase,
		TotalSteps:     s.TotalSteps,
		CompletedCount: len(s.CompletedSteps),
	}

	if s.TotalSteps > 0 {
		m.ProgressFraction = float64(s.CurrentStepIndex) / float64(s.TotalSteps)
	}

	if s.Summary != nil {
		if s.Summary.TotalSteps > 0 {
			m.SuccessRate = float64(s.Summary.Passed) / float64(s.Summary.TotalSteps) * 100
		}
		m.AllPassed = s.Summary.Failed == 0
	}
	return m
}
