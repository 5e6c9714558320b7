// Package stream owns the lifecycle of the push-event channel for one
// execution: connect, receive, error, close. Parsed events are handed to the
// subscriber's callback in exact arrival order; a malformed frame is dropped
// and logged without closing the channel. The connector never reconnects on
// its own — a failed channel stays failed until the caller subscribes again.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/tmaxmax/go-sse"

	"github.com/stepwatch/stepwatch/pkg/run"
)

// ConnState is the channel lifecycle state.
type ConnState string

// channel states; a handle only moves forward through them.
const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateOpen         ConnState = "open"
	StateErrored      ConnState = "errored"
	StateClosed       ConnState = "closed"
)

// ConnectError indicates the event channel failed to open. It is non-fatal:
// the terminal result may still become available through the submission path.
type ConnectError struct {
	ExecutionID string
	Err         error
}

// Error returns the formatted error message.
func (e *ConnectError) Error() string {
	return fmt.Sprintf("open event stream for %s: %v", e.ExecutionID, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectError) Unwrap() error { return e.Err }

// Config holds connector construction parameters, injected explicitly.
type Config struct {
	BaseURL    string       // runner service base URL
	HTTPClient *http.Client // optional; must have no client-level timeout, streams are long-lived

	// Logf overrides the diagnostic logger, defaults to log.Printf
	Logf func(format string, args ...any)
}

// Connector opens event channels against the runner service. It enforces the
// single-subscriber rule: subscribing closes any previously open channel
// fully before the new one starts connecting, so at no instant are two
// channels open for the same subscriber.
type Connector struct {
	baseURL    string
	httpClient *http.Client
	logf       func(format string, args ...any)

	mu     sync.Mutex
	active *Handle
}

// NewConnector creates a Connector from the given config.
func NewConnector(cfg Config) *Connector {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{} // no Timeout, SSE connections outlive any fixed deadline
	}
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}
	return &Connector{baseURL: cfg.BaseURL, httpClient: hc, logf: logf}
}

// Subscribe opens the event channel for one execution id and delivers parsed
// events to onEvent in arrival order, from a single goroutine. The returned
// handle reports connection state and tears the channel down on Unsubscribe.
// onEvent must not block for long; it is called inline on the receive loop.
func (c *Connector) Subscribe(ctx context.Context, executionID string, onEvent func(run.Event)) (*Handle, error) {
	// close the previous channel completely before opening a new one
	c.mu.Lock()
	prev := c.active
	c.mu.Unlock()
	if prev != nil {
		prev.Unsubscribe()
	}

	streamCtx, cancel := context.WithCancel(ctx)
	url := fmt.Sprintf("%s/api/v1/executions/%s/events", c.baseURL, executionID)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, http.NoBody)
	if err != nil {
		cancel()
		return nil, &ConnectError{ExecutionID: executionID, Err: err}
	}

	h := &Handle{
		executionID: executionID,
		cancel:      cancel,
		done:        make(chan struct{}),
		state:       StateConnecting,
	}

	sseClient := &sse.Client{
		HTTPClient: c.httpClient,
		// reconnection is the caller's decision, not the transport's
		Backoff: sse.Backoff{MaxRetries: -1},
		ResponseValidator: func(r *http.Response) error {
			if vErr := sse.DefaultValidator(r); vErr != nil {
				return vErr
			}
			h.markOpen()
			return nil
		},
	}

	conn := sseClient.NewConnection(req)
	conn.SubscribeToAll(func(e sse.Event) {
		ev, perr := run.ParseFrame([]byte(e.Data))
		if perr != nil {
			// a bad frame must never take the channel down
			c.logf("[WARN] dropping malformed frame for execution %s: %v", executionID, perr)
			return
		}
		onEvent(ev)
	})

	go h.receive(conn)

	c.mu.Lock()
	c.active = h
	c.mu.Unlock()
	return h, nil
}

// Close tears down the active channel, if any.
func (c *Connector) Close() {
	c.mu.Lock()
	h := c.active
	c.active = nil
	c.mu.Unlock()

	if h != nil {
		h.Unsubscribe()
	}
}

// Handle is the subscriber's view of one open channel. Bound to exactly one
// execution id for its lifetime.
type Handle struct {
	executionID string
	cancel      context.CancelFunc
	done        chan struct{}
	stopped     atomic.Bool

	mu      sync.RWMutex
	state   ConnState
	opened  bool // reached StateOpen at least once
	lastErr error
}

// ExecutionID returns the execution this handle is bound to.
func (h *Handle) ExecutionID() string { return h.executionID }

// State returns the current channel state.
func (h *Handle) State() ConnState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// IsConnected reports whether the channel is open.
func (h *Handle) IsConnected() bool {
	return h.State() == StateOpen
}

// LastError returns the most recent channel error, nil while healthy.
func (h *Handle) LastError() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr
}

// Done is closed once the channel is fully torn down.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Unsubscribe closes the channel and waits until teardown finishes.
// safe to call multiple times; buffered-but-unprocessed frames are discarded.
func (h *Handle) Unsubscribe() {
	if !h.stopped.Swap(true) {
		h.cancel()
	}
	<-h.done
}

// receive runs the SSE connection to completion and records the exit cause.
func (h *Handle) receive(conn *sse.Connection) {
	err := conn.Connect()

	h.mu.Lock()
	switch {
	case h.stopped.Load(), err == nil, errors.Is(err, context.Canceled):
		// explicit unsubscribe or orderly remote close
		h.state = StateClosed
	case h.opened:
		h.state = StateErrored
		h.lastErr = fmt.Errorf("event stream for %s broke: %w", h.executionID, err)
	default:
		// never got a valid response: the channel failed to open at all
		h.state = StateErrored
		h.lastErr = &ConnectError{ExecutionID: h.executionID, Err: err}
	}
	h.mu.Unlock()

	close(h.done)
}

// markOpen flips the handle to open and clears any stale error.
func (h *Handle) markOpen() {
	h.mu.Lock()
	h.state = StateOpen
	h.opened = true
	h.lastErr = nil
	h.mu.Unlock()
}
