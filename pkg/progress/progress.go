// Package progress renders live execution progress to the terminal with
// timestamps and per-status colors. It is a pure consumer of reduced state;
// no reconciliation logic lives here.
package progress

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/stepwatch/stepwatch/pkg/run"
)

// timestampFormat is the line prefix format: YY-MM-DD HH:MM:SS
const timestampFormat = "06-01-02 15:04:05"

// status colors using fatih/color.
var (
	passedColor    = color.New(color.FgGreen)
	failedColor    = color.New(color.FgRed)
	skippedColor   = color.New(color.FgYellow)
	infoColor      = color.New(color.FgCyan)
	warnColor      = color.New(color.FgYellow)
	errorColor     = color.New(color.FgRed)
	timestampColor = color.New(color.FgWhite)
)

// statusColors maps step statuses to their color functions.
var statusColors = map[run.StepStatus]*color.Color{
	run.StatusPassed:  passedColor,
	run.StatusFailed:  failedColor,
	run.StatusSkipped: skippedColor,
}

// Config holds printer configuration.
type Config struct {
	Out     io.Writer // defaults to stdout
	NoColor bool      // disable color output (sets color.NoColor globally)
}

// Printer writes timestamped progress lines for one execution.
type Printer struct {
	out       io.Writer
	startTime time.Time
}

// NewPrinter creates a Printer.
func NewPrinter(cfg Config) *Printer {
	if cfg.NoColor {
		color.NoColor = true
	}
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	return &Printer{out: out, startTime: time.Now()}
}

// Event prints one applied event with the state it produced. Matches the
// watcher's OnEvent callback shape, so it can be passed straight in.
func (p *Printer) Event(ev run.Event, state run.State) {
	switch ev.Type {
	case run.EventExecutionStarted:
		p.line(infoColor, "execution %s started, %d steps", state.ExecutionID, ev.TotalSteps)
	case run.EventStepStarted:
		desc := ev.Description
		if desc == "" {
			desc = ev.StepID
		}
		p.line(infoColor, "[%d/%d] %s ...", ev.StepIndex+1, state.TotalSteps, truncate(desc, contentWidth()))
	case run.EventStepCompleted:
		p.stepCompleted(ev)
	case run.EventExecutionComplete:
		p.Summary(state)
	}
}

// stepCompleted prints one finished step with status color and duration.
func (p *Printer) stepCompleted(ev run.Event) {
	c, ok := statusColors[ev.Status]
	if !ok {
		c = infoColor
	}

	msg := fmt.Sprintf("%-7s %s (%s)", ev.Status, ev.StepID, formatMs(ev.DurationMs))
	if ev.Attempt > 1 {
		msg += fmt.Sprintf(" attempt %d", ev.Attempt)
	}
	if ev.HTTP != nil {
		msg += fmt.Sprintf("  %s %s -> %d", ev.HTTP.Method, truncate(ev.HTTP.URL, 60), ev.HTTP.StatusCode)
	}
	p.line(c, "%s", msg)

	if ev.Error != "" {
		p.line(failedColor, "        %s", truncate(ev.Error, contentWidth()))
	}
}

// Summary prints the terminal roll-up for a finished state.
func (p *Printer) Summary(state run.State) {
	if state.Summary == nil {
		return
	}
	s := state.Summary
	m := run.ComputeMetrics(state)

	c := passedColor
	if s.Failed > 0 {
		c = failedColor
	}
	p.line(c, "done: %d/%d passed (%.0f%%), %d failed, %d skipped in %s",
		s.Passed, s.TotalSteps, m.SuccessRate, s.Failed, s.Skipped, formatMs(s.DurationMs))
}

// Warn prints a warning line in yellow.
func (p *Printer) Warn(format string, args ...any) {
	p.line(warnColor, "WARN: "+format, args...)
}

// Error prints an error line in red.
func (p *Printer) Error(format string, args ...any) {
	p.line(errorColor, "ERROR: "+format, args...)
}

// Info prints an informational line.
func (p *Printer) Info(format string, args ...any) {
	p.line(infoColor, format, args...)
}

// Elapsed returns humanized elapsed time since the printer was created.
func (p *Printer) Elapsed() string {
	return strings.TrimSpace(humanize.RelTime(p.startTime, time.Now(), "", ""))
}

// line writes one timestamped colored line.
func (p *Printer) line(c *color.Color, format string, args ...any) {
	ts := timestampColor.Sprintf("[%s]", time.Now().Format(timestampFormat))
	fmt.Fprintf(p.out, "%s %s\n", ts, c.Sprintf(format, args...))
}

// formatMs renders a millisecond duration compactly.
func formatMs(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d < time.Second {
		return fmt.Sprintf("%dms", ms)
	}
	return d.Round(10 * time.Millisecond).String()
}

// contentWidth returns the usable line width: COLUMNS env var, then the
// terminal syscall, then 80, always minus the timestamp prefix.
func contentWidth() int {
	const minWidth = 40
	width := 80

	if cols := os.Getenv("COLUMNS"); cols != "" {
		if w, err := strconv.Atoi(cols); err == nil && w > 0 {
			width = w
		}
	} else if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
	}

	if width-20 < minWidth {
		return minWidth
	}
	return width - 20
}

// truncate shortens s to max runes with an ellipsis, never cutting mid-rune.
func truncate(s string, maxLen int) string {
	if maxLen <= 3 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen-3]) + "..."
}
