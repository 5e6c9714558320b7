// Package main provides stepwatch - test plan submission with live progress.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jessevdk/go-flags"

	"github.com/stepwatch/stepwatch/pkg/client"
	"github.com/stepwatch/stepwatch/pkg/config"
	"github.com/stepwatch/stepwatch/pkg/git"
	"github.com/stepwatch/stepwatch/pkg/history"
	"github.com/stepwatch/stepwatch/pkg/notify"
	"github.com/stepwatch/stepwatch/pkg/plan"
	"github.com/stepwatch/stepwatch/pkg/progress"
	"github.com/stepwatch/stepwatch/pkg/render"
	"github.com/stepwatch/stepwatch/pkg/run"
	"github.com/stepwatch/stepwatch/pkg/stream"
	"github.com/stepwatch/stepwatch/pkg/watch"
)

// opts holds all command-line options.
type opts struct {
	ServerURL  string `short:"s" long:"server" description:"runner service URL (overrides config)"`
	Parallel   bool   `long:"parallel" description:"request parallel step execution"`
	Timeout    int    `short:"t" long:"timeout" description:"execution timeout in seconds (overrides config)"`
	MaxRetries int    `long:"max-retries" description:"per-step retry count (overrides config)"`
	DryRun     bool   `long:"dry-run" description:"validate the plan server-side without executing steps"`
	NoStream   bool   `long:"no-stream" description:"disable live events, wait for the terminal response"`
	Watch      bool   `short:"w" long:"watch" description:"re-submit the plan whenever the file changes"`
	Report     bool   `short:"r" long:"report" description:"print a markdown report after the run"`
	History    bool   `long:"history" description:"print recorded runs and exit"`
	NoColor    bool   `long:"no-color" description:"disable color output"`
	Debug      bool   `short:"d" long:"debug" description:"enable debug logging"`
	Version    bool   `short:"v" long:"version" description:"print version and exit"`

	PlanFile string `positional-arg-name:"plan-file" description:"path to plan file (yaml)"`
}

var revision = "unknown"

// watchDebounce coalesces editor write bursts into one re-submission.
const watchDebounce = 500 * time.Millisecond

// stdLogger adapts the stdlib logger to the notify logger interface.
type stdLogger struct{}

func (stdLogger) Print(format string, args ...any) { log.Printf(format, args...) }

func main() {
	fmt.Printf("stepwatch %s\n", revision)

	var o opts
	parser := flags.NewParser(&o, flags.Default)
	parser.Usage = "[OPTIONS] [plan-file]"

	args, err := parser.Parse()
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if o.Version {
		os.Exit(0)
	}

	// handle positional argument
	if len(args) > 0 {
		o.PlanFile = args[0]
	}

	// setup context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := execute(ctx, o); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runtime bundles the wired components one invocation operates on.
type runtime struct {
	opts       opts
	serverURL  string
	timeoutSec int
	maxRetries int
	parallel   bool

	printer  *progress.Printer
	watcher  *watch.Watcher
	store    *history.Store
	notifier *notify.Service
}

func execute(ctx context.Context, o opts) error {
	cfg, err := config.Load("") // empty string uses default location
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rt, err := setup(o, cfg)
	if err != nil {
		return err
	}

	if o.History {
		return printHistory(rt.store, rt.printer)
	}

	if o.PlanFile == "" {
		return errors.New("plan file is required")
	}

	if o.Watch {
		return watchLoop(ctx, rt)
	}
	return executeOnce(ctx, rt)
}

// setup wires all components from merged config and flags. flags win where
// both are present.
func setup(o opts, cfg *config.Config) (*runtime, error) {
	v := cfg.Values

	serverURL := v.ServerURL
	if o.ServerURL != "" {
		serverURL = o.ServerURL
	}
	timeoutSec := v.TimeoutSec
	if o.Timeout > 0 {
		timeoutSec = o.Timeout
	}
	maxRetries := v.MaxRetries
	if o.MaxRetries > 0 {
		maxRetries = o.MaxRetries
	}

	store, err := history.NewStore(v.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	notifier, err := notify.New(notify.Params{
		Channels:      v.NotifyChannels,
		OnError:       v.NotifyOnError,
		OnComplete:    v.NotifyOnComplete,
		TimeoutMs:     v.NotifyTimeoutMs,
		TelegramToken: v.TelegramToken,
		TelegramChat:  v.TelegramChat,
		SlackToken:    v.SlackToken,
		SlackChannel:  v.SlackChannel,
		WebhookURLs:   v.WebhookURLs,
	}, stdLogger{})
	if err != nil {
		return nil, fmt.Errorf("create notifier: %w", err)
	}

	printer := progress.NewPrinter(progress.Config{NoColor: o.NoColor})

	submitter := client.NewSubmitter(client.Config{
		BaseURL:          serverURL,
		StreamingEnabled: v.StreamingEnabled && !o.NoStream,
		Invalidate:       store.Invalidate,
	})
	connector := stream.NewConnector(stream.Config{BaseURL: serverURL})

	watcher := watch.New(submitter, connector, watch.WithOnEvent(printer.Event))

	return &runtime{
		opts:       o,
		serverURL:  serverURL,
		timeoutSec: timeoutSec,
		maxRetries: maxRetries,
		parallel:   o.Parallel || v.Parallel,
		printer:    printer,
		watcher:    watcher,
		store:      store,
		notifier:   notifier,
	}, nil
}

// executeOnce loads the plan, submits it and observes the run to completion.
// returns an error when the run did not pass, so the process exits non-zero.
func executeOnce(ctx context.Context, rt *runtime) error {
	doc, err := plan.Load(rt.opts.PlanFile)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("validate plan: %w", err)
	}

	head, headErr := git.Head(".")
	if headErr != nil && !errors.Is(headErr, git.ErrNotRepository) {
		rt.printer.Warn("git head unavailable: %v", headErr)
	}

	startedAt := time.Now()
	rt.printer.Info("submitting %s (%d steps) to %s", rt.opts.PlanFile, len(doc.Steps), rt.serverURL)

	obs, err := rt.watcher.SubmitAndObserve(ctx, client.Request{
		Plan:       doc,
		Parallel:   rt.parallel,
		TimeoutSec: rt.timeoutSec,
		MaxRetries: rt.maxRetries,
		DryRun:     rt.opts.DryRun,
	})
	var connErr *stream.ConnectError
	switch {
	case errors.As(err, &connErr):
		// submission accepted, only the live channel failed; the run still
		// executes remotely, we just cannot observe it
		rt.printer.Warn("event channel unavailable for %s: %v", connErr.ExecutionID, connErr.Err)
	case err != nil:
		return fmt.Errorf("submit plan: %w", err)
	}

	if rt.opts.Debug && obs.Handle != nil {
		log.Printf("[DEBUG] observing execution %s", obs.Handle.ExecutionID())
	}

	if err := rt.watcher.Wait(ctx); err != nil {
		rt.watcher.Stop()
		return fmt.Errorf("observe run: %w", err)
	}

	final := rt.watcher.State()
	rt.printer.Summary(final)
	finish(ctx, rt, final, head, startedAt)

	if final.Phase == run.PhaseFailed {
		return fmt.Errorf("run did not complete: %s", final.FailureReason)
	}
	if final.Summary != nil && final.Summary.Failed > 0 {
		return fmt.Errorf("%d of %d steps failed", final.Summary.Failed, final.Summary.TotalSteps)
	}
	return nil
}

// finish records, notifies and optionally reports on a finished run.
func finish(ctx context.Context, rt *runtime, final run.State, head git.Info, startedAt time.Time) {
	status := "passed"
	reason := final.FailureReason
	switch {
	case final.Phase == run.PhaseFailed:
		status = "failed"
	case final.Summary != nil && final.Summary.Failed > 0:
		status = "failed"
	}

	summary := run.Summary{}
	if final.Summary != nil {
		summary = *final.Summary
	}

	if !rt.opts.DryRun && final.ExecutionID != "" {
		if err := rt.store.Append(history.Entry{
			ExecutionID: final.ExecutionID,
			Plan:        rt.opts.PlanFile,
			Branch:      head.Branch,
			Commit:      head.Commit,
			StartedAt:   startedAt,
			Status:      status,
			Summary:     summary,
		}); err != nil {
			rt.printer.Warn("record history: %v", err)
		}
	}

	rt.notifier.Send(ctx, notify.Result{
		Status:      status,
		Plan:        rt.opts.PlanFile,
		ExecutionID: final.ExecutionID,
		Branch:      head.Branch,
		Duration:    rt.printer.Elapsed(),
		Passed:      summary.Passed,
		Failed:      summary.Failed,
		Skipped:     summary.Skipped,
		Error:       reason,
	})

	if rt.opts.Report {
		md := render.Report(render.ReportInfo{
			Plan:      rt.opts.PlanFile,
			Branch:    head.Branch,
			Commit:    head.Commit,
			StartedAt: startedAt,
			State:     final,
		})
		out, err := render.Markdown(md, rt.opts.NoColor)
		if err != nil {
			rt.printer.Warn("render report: %v", err)
			out = md
		}
		fmt.Print(out)
	}
}

// watchLoop runs the plan once, then re-submits it on every file change.
// per-run failures are reported but do not end the loop; only ctx does.
func watchLoop(ctx context.Context, rt *runtime) error {
	absPlan, err := filepath.Abs(rt.opts.PlanFile)
	if err != nil {
		return fmt.Errorf("resolve plan path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()

	// watch the directory, not the file: editors replace files on save and
	// a watch on the old inode goes silent
	if err := fw.Add(filepath.Dir(absPlan)); err != nil {
		return fmt.Errorf("watch plan directory: %w", err)
	}

	runAndReport := func() {
		if runErr := executeOnce(ctx, rt); runErr != nil && ctx.Err() == nil {
			rt.printer.Error("%v", runErr)
		}
	}
	runAndReport()
	rt.printer.Info("watching %s for changes", rt.opts.PlanFile)

	var debounce *time.Timer
	pending := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			rt.watcher.Stop()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Name != absPlan || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case <-pending:
			rt.printer.Info("plan changed, re-submitting")
			runAndReport()
		case werr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			rt.printer.Warn("file watcher: %v", werr)
		}
	}
}

// printHistory prints recorded runs, most recent last.
func printHistory(store *history.Store, printer *progress.Printer) error {
	entries, err := store.List()
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	if len(entries) == 0 {
		printer.Info("no recorded runs")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %-7s %s (%d/%d passed) %s\n",
			e.StartedAt.Format("2006-01-02 15:04:05"), e.Status, e.Plan,
			e.Summary.Passed, e.Summary.TotalSteps, e.ExecutionID)
	}
	return nil
}
