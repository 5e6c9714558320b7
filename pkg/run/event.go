// Package run holds the execution event model and the reduction logic that
// folds a stream of step events into one monotonically-advancing run state.
package run

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminates stream frames.
type EventType string

// event type constants matching the wire contract.
const (
	EventExecutionStarted  EventType = "execution_started"  // first frame, carries total step count
	EventStepStarted       EventType = "step_started"       // a step began executing
	EventStepCompleted     EventType = "step_completed"     // a step finished with a status
	EventExecutionComplete EventType = "execution_complete" // terminal frame, carries the summary
)

// StepStatus is the outcome of one completed step.
type StepStatus string

// step status constants reported by the remote engine.
const (
	StatusPassed  StepStatus = "passed"
	StatusFailed  StepStatus = "failed"
	StatusSkipped StepStatus = "skipped"
)

// HTTPDetails carries transport-level detail for an HTTP/GraphQL step.
type HTTPDetails struct {
	Method         string `json:"method"`
	URL            string `json:"url"`
	StatusCode     int    `json:"status_code"`
	ResponseTimeMs int64  `json:"response_time_ms"`
}

// Summary is the terminal roll-up of one execution.
type Summary struct {
	TotalSteps int   `json:"total_steps"`
	Passed     int   `json:"passed"`
	Failed     int   `json:"failed"`
	Skipped    int   `json:"skipped"`
	DurationMs int64 `json:"duration_ms"`
}

// StepResult is one completed step as recorded in run state.
type StepResult struct {
	StepID     string       `json:"step_id"`
	Status     StepStatus   `json:"status"`
	DurationMs int64        `json:"duration_ms"`
	Attempt    int          `json:"attempt"`
	Error      string       `json:"error,omitempty"`
	HTTP       *HTTPDetails `json:"http_details,omitempty"`
}

// Event is one parsed stream frame. Type selects which fields are meaningful;
// frames carry no sequence numbers, ordering is arrival order only.
type Event struct {
	Type        EventType    `json:"event"`
	ExecutionID string       `json:"execution_id,omitempty"`
	TotalSteps  int          `json:"total_steps,omitempty"`
	StepID      string       `json:"step_id,omitempty"`
	StepIndex   int          `json:"step_index,omitempty"`
	Description string       `json:"description,omitempty"`
	Status      StepStatus   `json:"status,omitempty"`
	DurationMs  int64        `json:"duration_ms,omitempty"`
	Attempt     int          `json:"attempt,omitempty"`
	Error       string       `json:"error,omitempty"`
	HTTP        *HTTPDetails `json:"http_details,omitempty"`
	Summary     *Summary     `json:"summary,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// ParseFrame decodes one stream frame into an Event.
// rejects frames that are not JSON objects, carry no event discriminator,
// or use a discriminator outside the wire contract.
func ParseFrame(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode frame: %w", err)
	}

	switch ev.Type {
	case EventExecutionStarted, EventStepStarted, EventStepCompleted, EventExecutionComplete:
	case "":
		return Event{}, fmt.Errorf("frame has no event field")
	default:
		return Event{}, fmt.Errorf("unknown event type %q", ev.Type)
	}

	if err := validateFrame(ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// validateFrame checks per-type required fields.
func validateFrame(ev Event) error {
	switch ev.Type {
	case EventExecutionStarted:
		if ev.TotalSteps < 0 {
			return fmt.Errorf("%s: negative total_steps %d", ev.Type, ev.TotalSteps)
		}
	case EventStepStarted:
		if ev.StepID == "" {
			return fmt.Errorf("%s: missing step_id", ev.Type)
		}
		if ev.StepIndex < 0 {
			return fmt.Errorf("%s: negative step_index %d", ev.Type, ev.StepIndex)
		}
	case EventStepCompleted:
		if ev.StepID == "" {
			return fmt.Errorf("%s: missing step_id", ev.Type)
		}
		switch ev.Status {
		case StatusPassed, StatusFailed, StatusSkipped:
		default:
			return fmt.Errorf("%s: unknown status %q", ev.Type, ev.Status)
		}
	case EventExecutionComplete:
		if ev.Summary == nil {
			return fmt.Errorf("%s: missing summary", ev.Type)
		}
	}
	return nil
}

// result carries the step fields of a step_completed event.
func (e Event) result() StepResult {
	attempt := e.Attempt
	if attempt < 1 {
		attempt = 1 // attempt is optional on the wire, normalize so dedup stays well-defined
	}
	return StepResult{
		StepID:     e.StepID,
		Status:     e.Status,
		DurationMs: e.DurationMs,
		Attempt:    attempt,
		Error:      e.Error,
		HTTP:       e.HTTP,
	}
}
