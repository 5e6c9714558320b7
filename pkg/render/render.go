// Package render builds and displays the markdown run report.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/stepwatch/stepwatch/pkg/run"
)

// ReportInfo carries the context a run report is built from.
type ReportInfo struct {
	Plan      string // plan file path
	Branch    string // git branch, empty outside a repo
	Commit    string // short commit hash, empty outside a repo
	StartedAt time.Time
	State     run.State
}

// Report builds a markdown report from a terminal run state.
func Report(info ReportInfo) string {
	s := info.State
	var b strings.Builder

	switch {
	case s.Phase == run.PhaseFailed:
		fmt.Fprintf(&b, "# Run failed: %s\n\n", info.Plan)
	case s.Summary != nil && s.Summary.Failed > 0:
		fmt.Fprintf(&b, "# Run finished with failures: %s\n\n", info.Plan)
	default:
		fmt.Fprintf(&b, "# Run passed: %s\n\n", info.Plan)
	}

	if s.ExecutionID != "" {
		fmt.Fprintf(&b, "- execution: `%s`\n", s.ExecutionID)
	}
	if info.Branch != "" {
		fmt.Fprintf(&b, "- branch: `%s`", info.Branch)
		if info.Commit != "" {
			fmt.Fprintf(&b, " @ `%s`", info.Commit)
		}
		b.WriteString("\n")
	}
	if !info.StartedAt.IsZero() {
		fmt.Fprintf(&b, "- started: %s\n", info.StartedAt.Format(time.RFC3339))
	}
	if s.Summary != nil {
		fmt.Fprintf(&b, "- duration: %s\n", formatDuration(s.Summary.DurationMs))
	}
	if s.FailureReason != "" {
		fmt.Fprintf(&b, "- failure: %s\n", s.FailureReason)
	}
	b.WriteString("\n")

	if len(s.CompletedSteps) > 0 {
		b.WriteString("| step | status | attempt | duration | detail |\n")
		b.WriteString("|------|--------|---------|----------|--------|\n")
		for _, st := range s.CompletedSteps {
			fmt.Fprintf(&b, "| %s | %s | %d | %s | %s |\n",
				st.StepID, st.Status, st.Attempt, formatDuration(st.DurationMs), stepDetail(st))
		}
		b.WriteString("\n")
	}

	if s.Summary != nil {
		fmt.Fprintf(&b, "**%d/%d passed** (%d failed, %d skipped)\n",
			s.Summary.Passed, s.Summary.TotalSteps, s.Summary.Failed, s.Summary.Skipped)
	}
	return b.String()
}

// stepDetail returns a short per-step detail cell, error first, then http info.
func stepDetail(st run.StepResult) string {
	if st.Error != "" {
		return st.Error
	}
	if st.HTTP != nil {
		return fmt.Sprintf("%s %s -> %d", st.HTTP.Method, st.HTTP.URL, st.HTTP.StatusCode)
	}
	return ""
}

// formatDuration renders milliseconds compactly, ms under a second.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return (time.Duration(ms) * time.Millisecond).Round(10 * time.Millisecond).String()
}

// Markdown renders markdown content for terminal display.
// If noColor is true, returns the content unchanged.
// Otherwise, uses glamour to render with auto-detected style and word wrap.
func Markdown(content string, noColor bool) (string, error) {
	if noColor {
		return content, nil
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return "", fmt.Errorf("create renderer: %w", err)
	}

	result, err := renderer.Render(content)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}

	return result, nil
}
