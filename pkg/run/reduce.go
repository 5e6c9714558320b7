package run

// Apply folds one event into the state and returns the result.
// it is pure: the input state is not modified, appends copy the slice.
//
// hard rules, in order:
//   - a completed state absorbs everything (terminal absorption)
//   - CurrentStepIndex never decreases
//   - CompletedSteps never shrinks and holds unique (stepID, attempt) pairs
func Apply(state State, event Event) State {
	if state.Completed() {
		return state
	}

	switch event.Type {
	case EventExecutionStarted:
		return applyStarted(state, event)
	case EventStepStarted:
		return applyStepStarted(state, event)
	case EventStepCompleted:
		return applyStepCompleted(state, event)
	case EventExecutionComplete:
		return applyComplete(state, event)
	}
	return state
}

// applyStarted initializes counters on the first execution_started only;
// a duplicate for the same run is a no-op rather than a reset, resetting
// would shrink CompletedSteps.
func applyStarted(state State, event Event) State {
	if state.started {
		return state
	}
	state.started = true
	state.TotalSteps = event.TotalSteps
	state.CurrentStepIndex = 0
	state.CompletedSteps = nil
	state.CurrentStep = nil
	state.Phase = PhaseStreaming
	if state.ExecutionID == "" {
		state.ExecutionID = event.ExecutionID
	}
	return state
}

// applyStepStarted records the running step and advances the index
// monotonically. under parallel execution step_started frames arrive out of
// numeric order, so only a larger index moves the cursor.
func applyStepStarted(state State, event Event) State {
	state.CurrentStep = &CurrentStep{StepID: event.StepID, Description: event.Description}
	if event.StepIndex > state.CurrentStepIndex {
		state.CurrentStepIndex = event.StepIndex
	}
	return state
}

// applyStepCompleted appends the result unless the (stepID, attempt) pair was
// already recorded; delivery is at-least-once so duplicates are expected.
func applyStepCompleted(state State, event Event) State {
	r := event.result()
	if state.HasStep(r.StepID, r.Attempt) {
		return state
	}

	completed := make([]StepResult, len(state.CompletedSteps), len(state.CompletedSteps)+1)
	copy(completed, state.CompletedSteps)
	state.CompletedSteps = append(completed, r)

	if state.CurrentStep != nil && state.CurrentStep.StepID == r.StepID {
		state.CurrentStep = nil
	}
	return state
}

// applyComplete freezes the state with the terminal summary.
func applyComplete(state State, event Event) State {
	state.Summary = event.Summary
	state.CurrentStep = nil
	state.Phase = PhaseCompleted
	return state
}

// MarkFailed moves the state to the failed phase with a reason.
// no-op once completed; a stream error after the terminal frame changes nothing.
func MarkFailed(state State, reason string) State {
	if state.Completed() {
		return state
	}
	state.Phase = PhaseFailed
	state.FailureReason = reason
	return state
}

// FromResult synthesizes the event sequence a terminal submission response
// represents, so the terminal path and the streaming path share one reduction
// and one display pipeline.
func FromResult(executionID string, summary *Summary, steps []StepResult) []Event {
	total := len(steps)
	if summary != nil {
		total = summary.TotalSteps
	}

	events := make([]Event, 0, len(steps)+2)
	events = append(events, Event{Type: EventExecutionStarted, ExecutionID: executionID, TotalSteps: total})
	for _, st := range steps {
		events = append(events, Event{
			Type:       EventStepCompleted,
			StepID:     st.StepID,
			Status:     st.Status,
			DurationMs: st.DurationMs,
			Attempt:    st.Attempt,
			Error:      st.Error,
			HTTP:       st.HTTP,
		})
	}
	events = append(events, Event{Type: EventExecutionComplete, ExecutionID: executionID, Summary: summary})
	return events
}
