package run

// Phase is the coarse lifecycle stage of one execution.
type Phase string

// phase constants; transitions only move forward, never back.
const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhaseStreaming  Phase = "streaming"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// Terminal reports whether the phase accepts no further transitions except
// failed→completed (a terminal result may still land after a stream failure).
func (p Phase) Terminal() bool {
	return p == PhaseCompleted
}

// CurrentStep identifies the step currently executing.
type CurrentStep struct {
	StepID      string
	Description string
}

// State is the accumulated view of one execution. It is a value: Apply
// returns a new State and never mutates shared slices, so callers may hold
// snapshots across reductions.
type State struct {
	ExecutionID      string
	TotalSteps       int
	CurrentStepIndex int
	CurrentStep      *CurrentStep
	CompletedSteps   []StepResult
	Summary          *Summary
	Phase            Phase
	FailureReason    string

	started bool // first execution_started seen; later ones are ignored
}

// NewState creates a fresh state for one submission attempt.
// the execution id may be empty until the submission response assigns one.
func NewState(executionID string) State {
	return State{
		ExecutionID: executionID,
		Phase:       PhaseSubmitting,
	}
}

// Completed reports whether the state reached its terminal phase.
func (s State) Completed() bool {
	return s.Phase == PhaseCompleted
}

// HasStep reports whether a (stepID, attempt) pair is already recorded.
func (s State) HasStep(stepID string, attempt int) bool {
	for _, r := range s.CompletedSteps {
		if r.StepID == stepID && r.Attempt == attempt {
			return true
		}
	}
	return false
}
