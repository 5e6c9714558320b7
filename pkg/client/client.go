// Package client provides the one-shot execution submission against the
// remote runner service. Submission either returns a terminal result (dry
// runs, streaming disabled) or an execution id to stream events for; exactly
// one of the two is authoritative, selected here and never both.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stepwatch/stepwatch/pkg/plan"
	"github.com/stepwatch/stepwatch/pkg/run"
)

// default timeout for the submission call when the config provides none.
const defaultSubmitTimeout = 30 * time.Second

// Request is one execution submission. Immutable once submitted.
// the wire shape is produced by wireRequest, which also carries the client's
// streaming intent.
type Request struct {
	Plan       any // opaque plan payload, usually *plan.Document
	Parallel   bool
	TimeoutSec int
	MaxRetries int
	DryRun     bool
}

// Result is the terminal submission response with the full summary and
// per-step results.
type Result struct {
	ExecutionID string           `json:"execution_id"`
	Status      string           `json:"status"`
	Summary     *run.Summary     `json:"summary,omitempty"`
	Steps       []run.StepResult `json:"steps,omitempty"`
}

// Outcome is the submission discriminant: either Terminal holds the complete
// result and no event channel is ever opened, or ExecutionID names the run to
// subscribe to.
type Outcome struct {
	Terminal    *Result
	ExecutionID string
}

// Streaming reports whether the outcome requires an event subscription.
func (o Outcome) Streaming() bool {
	return o.Terminal == nil
}

// RequestError is a transport failure or non-success server response.
// Code and Message are preserved from the server when present.
type RequestError struct {
	StatusCode int    // HTTP status, 0 for pure transport failures
	Code       string // machine-readable server code
	Message    string
	Err        error
}

// Error returns the formatted error message.
func (e *RequestError) Error() string {
	switch {
	case e.Code != "":
		return fmt.Sprintf("submission rejected (%s): %s", e.Code, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("submission failed with status %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("submission failed: %v", e.Err)
	}
}

// Unwrap returns the underlying transport error, if any.
func (e *RequestError) Unwrap() error { return e.Err }

// Config holds submitter construction parameters, injected explicitly so the
// submitter never reads ambient global settings.
type Config struct {
	BaseURL          string        // runner service base URL, e.g. http://localhost:8080
	Timeout          time.Duration // submission call timeout, default 30s
	StreamingEnabled bool          // when false every submission asks for a terminal response
	HTTPClient       *http.Client  // optional, default http.DefaultClient with Timeout
	Invalidate       func()        // optional hook, fired after an accepted submission
}

// Submitter issues execution submissions.
type Submitter struct {
	baseURL          string
	httpClient       *http.Client
	streamingEnabled bool
	invalidate       func()
}

// NewSubmitter creates a Submitter from the given config.
func NewSubmitter(cfg Config) *Submitter {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultSubmitTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Submitter{
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:       hc,
		streamingEnabled: cfg.StreamingEnabled,
		invalidate:       cfg.Invalidate,
	}
}

// Submit sends the execution request and classifies the response.
// dry runs and disabled streaming always produce a Terminal outcome; otherwise
// the server decides, answering with either a full result or an execution id.
// on acceptance the history invalidation hook fires, nothing else.
func (s *Submitter) Submit(ctx context.Context, req Request) (Outcome, error) {
	body, err := json.Marshal(wireRequest(req, s.streamingEnabled))
	if err != nil {
		// the plan payload is the only caller-controlled part of the request
		return Outcome{}, &plan.ParseError{Err: fmt.Errorf("plan payload is not serializable: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/v1/executions", bytes.NewReader(body))
	if err != nil {
		return Outcome{}, &RequestError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return Outcome{}, &RequestError{Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Outcome{}, &RequestError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Outcome{}, errorFromResponse(resp.StatusCode, respBody)
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Outcome{}, &RequestError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	outcome, err := classify(req, s.streamingEnabled, &result)
	if err != nil {
		return Outcome{}, err
	}

	if s.invalidate != nil {
		s.invalidate()
	}
	return outcome, nil
}

// wireRequest shapes the outgoing JSON. the stream flag tells the server
// whether the client intends to subscribe; dry runs never stream.
func wireRequest(req Request, streamingEnabled bool) map[string]any {
	return map[string]any{
		"plan":        req.Plan,
		"parallel":    req.Parallel,
		"timeout":     req.TimeoutSec,
		"max_retries": req.MaxRetries,
		"dry_run":     req.DryRun,
		"stream":      streamingEnabled && !req.DryRun,
	}
}

// classify picks the authoritative producer for this execution.
func classify(req Request, streamingEnabled bool, result *Result) (Outcome, error) {
	terminalWanted := req.DryRun || !streamingEnabled

	if result.Summary != nil {
		// server answered terminally, with or without being asked to
		return Outcome{Terminal: result}, nil
	}
	if terminalWanted {
		return Outcome{}, &RequestError{
			StatusCode: http.StatusOK,
			Message:    "server omitted the terminal summary for a non-streaming submission",
		}
	}
	if result.ExecutionID == "" {
		return Outcome{}, &RequestError{
			StatusCode: http.StatusOK,
			Message:    "server returned neither execution_id nor summary",
		}
	}
	return Outcome{ExecutionID: result.ExecutionID}, nil
}

// errorFromResponse builds a RequestError from a non-2xx response, preserving
// the server's machine-readable code and message when the body carries them.
func errorFromResponse(status int, body []byte) *RequestError {
	var wire struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &wire); err == nil && (wire.Code != "" || wire.Message != "") {
		return &RequestError{StatusCode: status, Code: wire.Code, Message: wire.Message}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &RequestError{StatusCode: status, Message: msg}
}

// IsRequestError reports whether err is a submission transport/validation
// failure, as opposed to a plan parse failure.
func IsRequestError(err error) bool {
	var re *RequestError
	return errors.As(err, &re)
}
