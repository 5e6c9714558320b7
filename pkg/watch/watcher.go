// Package watch ties submission, streaming and reduction together into the
// consumer-facing API: submit a plan, observe its progress, stop locally.
// Exactly one producer is authoritative per execution — the terminal
// submission result or the event stream, selected once at submission time.
// Stream events are serialized through a single consumer goroutine, so the
// reducer is never re-entered concurrently for the same state.
package watch

import (
	"context"
	"log"
	"sync"

	"github.com/stepwatch/stepwatch/pkg/client"
	"github.com/stepwatch/stepwatch/pkg/run"
	"github.com/stepwatch/stepwatch/pkg/stream"
)

// minimum queue buffer for inbound events. plans that expose their step
// count get a queue sized for every frame they can legally produce, so a
// full queue indicates a misbehaving producer and events are dropped rather
// than blocking the receive loop.
const minEventQueueSize = 256

// Submitter issues the one-shot submission request.
type Submitter interface {
	Submit(ctx context.Context, req client.Request) (client.Outcome, error)
}

// stepCounter is implemented by plan payloads that know their step count,
// letting the event queue be sized so no frame is ever dropped.
type stepCounter interface {
	StepCount() int
}

// Connector opens the push-event channel for one execution id.
type Connector interface {
	Subscribe(ctx context.Context, executionID string, onEvent func(run.Event)) (*stream.Handle, error)
	Close()
}

// Observation is the result of one submission: the outcome discriminant and,
// for streaming outcomes, the live channel handle.
type Observation struct {
	Outcome client.Outcome
	Handle  *stream.Handle // nil when the outcome is terminal
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithOnEvent registers a callback fired after each applied event with the
// event and the state snapshot that resulted from it. Called from the single
// consumer goroutine, never concurrently.
func WithOnEvent(fn func(run.Event, run.State)) Option {
	return func(w *Watcher) { w.onEvent = fn }
}

// WithLogf overrides the diagnostic logger, defaults to log.Printf.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(w *Watcher) { w.logf = logf }
}

// Watcher owns one observation at a time. A new submission discards the
// previous observation entirely: fresh state, old channel closed first.
type Watcher struct {
	submitter Submitter
	connector Connector
	onEvent   func(run.Event, run.State)
	logf      func(format string, args ...any)

	mu     sync.RWMutex
	state  run.State
	handle *stream.Handle
	done   chan struct{} // closed when the current observation stops producing
}

// New creates a Watcher over the given submitter and connector.
func New(submitter Submitter, connector Connector, opts ...Option) *Watcher {
	w := &Watcher{
		submitter: submitter,
		connector: connector,
		logf:      log.Printf,
		state:     run.State{Phase: run.PhaseIdle},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SubmitAndObserve submits the request and wires up observation of the
// execution. For terminal outcomes the full result is reduced immediately and
// no channel is ever opened. For streaming outcomes events flow through the
// consumer loop until the terminal frame, a stream failure, or Stop.
//
// A returned *stream.ConnectError is a non-fatal warning: the submission was
// accepted, only the live channel failed to open.
func (w *Watcher) SubmitAndObserve(ctx context.Context, req client.Request) (Observation, error) {
	w.Stop() // one observation at a time, the old one is discarded

	w.setState(run.NewState(""))

	outcome, err := w.submitter.Submit(ctx, req)
	if err != nil {
		w.setState(run.MarkFailed(w.State(), err.Error()))
		return Observation{}, err
	}

	if !outcome.Streaming() {
		w.observeTerminal(outcome.Terminal)
		return Observation{Outcome: outcome}, nil
	}
	return w.observeStream(ctx, outcome, queueSize(req))
}

// queueSize returns the event queue capacity for one submission: two frames
// per step attempt (started + completed) plus the execution bookends, never
// below the fixed floor for plans that do not expose their step count.
func queueSize(req client.Request) int {
	sc, ok := req.Plan.(stepCounter)
	if !ok {
		return minEventQueueSize
	}
	attempts := req.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	size := 2*attempts*sc.StepCount() + 2
	if size < minEventQueueSize {
		return minEventQueueSize
	}
	return size
}

// observeTerminal replays the terminal result through the reducer so both
// outcome kinds share one reduction and display path.
func (w *Watcher) observeTerminal(res *client.Result) {
	state := run.NewState(res.ExecutionID)
	events := run.FromResult(res.ExecutionID, res.Summary, res.Steps)
	for _, ev := range events {
		state = run.Apply(state, ev)
		if w.onEvent != nil {
			w.onEvent(ev, state)
		}
	}

	closed := make(chan struct{})
	close(closed)

	w.mu.Lock()
	w.state = state
	w.handle = nil
	w.done = closed
	w.mu.Unlock()
}

// observeStream opens the event channel and starts the consumer loop.
func (w *Watcher) observeStream(ctx context.Context, outcome client.Outcome, queueCap int) (Observation, error) {
	events := make(chan run.Event, queueCap)
	handle, err := w.connector.Subscribe(ctx, outcome.ExecutionID, func(ev run.Event) {
		select {
		case events <- ev:
		default:
			w.logf("[WARN] event queue full, dropping %s for execution %s", ev.Type, outcome.ExecutionID)
		}
	})
	if err != nil {
		w.setState(run.MarkFailed(w.State(), err.Error()))
		return Observation{Outcome: outcome}, err
	}

	done := make(chan struct{})
	w.mu.Lock()
	w.state = run.NewState(outcome.ExecutionID)
	w.handle = handle
	w.done = done
	w.mu.Unlock()

	// the producer stops before Done closes, so closing here cannot race a send
	go func() {
		<-handle.Done()
		close(events)
	}()
	go w.consume(events, handle, done)

	return Observation{Outcome: outcome, Handle: handle}, nil
}

// consume applies events one at a time in arrival order. It is the only
// goroutine that touches the state during streaming.
func (w *Watcher) consume(events <-chan run.Event, handle *stream.Handle, done chan struct{}) {
	defer close(done)

	for ev := range events {
		w.mu.Lock()
		w.state = run.Apply(w.state, ev)
		state := w.state
		w.mu.Unlock()

		if w.onEvent != nil {
			w.onEvent(ev, state)
		}

		if state.Completed() {
			// terminal frame received: close the channel, discard the rest
			handle.Unsubscribe()
			break
		}
	}

	<-handle.Done()
	if err := handle.LastError(); err != nil {
		w.logf("[WARN] %v", err)
		w.mu.Lock()
		w.state = run.MarkFailed(w.state, err.Error()) // no-op if already completed
		w.mu.Unlock()
	}
}

// Wait blocks until the current observation stops producing events or the
// context is canceled. Terminal observations are already done.
func (w *Watcher) Wait(ctx context.Context) error {
	w.mu.RLock()
	done := w.done
	w.mu.RUnlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop tears down the local observation: the channel is closed and the
// displayed state freezes as-is. It does not cancel the remote execution.
// safe to call multiple times and with no observation active.
func (w *Watcher) Stop() {
	w.mu.Lock()
	handle := w.handle
	done := w.done
	w.handle = nil
	w.mu.Unlock()

	if handle != nil {
		handle.Unsubscribe()
	}
	if done != nil {
		<-done
	}
}

// State returns a snapshot of the accumulated state. Snapshots are values
// with immutable slices and stay coherent after further reductions.
func (w *Watcher) State() run.State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Metrics projects the current snapshot into display metrics.
func (w *Watcher) Metrics() run.Metrics {
	return run.ComputeMetrics(w.State())
}

// setState replaces the state wholesale.
func (w *Watcher) setState(s run.State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}
