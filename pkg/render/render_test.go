package render

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepwatch/stepwatch/pkg/run"
)

func TestReport(t *testing.T) {
	started := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("passed run", func(t *testing.T) {
		st := run.State{
			ExecutionID: "exec-1",
			TotalSteps:  2,
			CompletedSteps: []run.StepResult{
				{StepID: "login", Status: run.StatusPassed, Attempt: 1, DurationMs: 250},
				{StepID: "fetch", Status: run.StatusPassed, Attempt: 1, DurationMs: 1500,
					HTTP: &run.HTTPDetails{Method: "GET", URL: "https://api.example.com/users", StatusCode: 200}},
			},
			Summary: &run.Summary{TotalSteps: 2, Passed: 2, DurationMs: 1750},
			Phase:   run.PhaseCompleted,
		}

		md := Report(ReportInfo{Plan: "smoke.yml", Branch: "main", Commit: "abc1234", StartedAt: started, State: st})
		assert.Contains(t, md, "# Run passed: smoke.yml")
		assert.Contains(t, md, "- execution: `exec-1`")
		assert.Contains(t, md, "- branch: `main` @ `abc1234`")
		assert.Contains(t, md, "- started: 2025-06-01T10:00:00Z")
		assert.Contains(t, md, "| login | passed | 1 | 250ms |")
		assert.Contains(t, md, "GET https://api.example.com/users -> 200")
		assert.Contains(t, md, "**2/2 passed** (0 failed, 0 skipped)")
	})

	t.Run("run with failures", func(t *testing.T) {
		st := run.State{
			ExecutionID: "exec-2",
			CompletedSteps: []run.StepResult{
				{StepID: "login", Status: run.StatusFailed, Attempt: 2, DurationMs: 300, Error: "status 401"},
			},
			Summary: &run.Summary{TotalSteps: 1, Failed: 1, DurationMs: 300},
			Phase:   run.PhaseCompleted,
		}

		md := Report(ReportInfo{Plan: "smoke.yml", State: st})
		assert.Contains(t, md, "# Run finished with failures: smoke.yml")
		assert.Contains(t, md, "| login | failed | 2 | 300ms | status 401 |")
		assert.Contains(t, md, "**0/1 passed** (1 failed, 0 skipped)")
		assert.NotContains(t, md, "- branch:")
	})

	t.Run("failed run without summary", func(t *testing.T) {
		st := run.State{
			ExecutionID:   "exec-3",
			Phase:         run.PhaseFailed,
			FailureReason: "stream connection lost",
		}
		md := Report(ReportInfo{Plan: "smoke.yml", State: st})
		assert.Contains(t, md, "# Run failed: smoke.yml")
		assert.Contains(t, md, "- failure: stream connection lost")
		assert.NotContains(t, md, "| step |")
		assert.NotContains(t, md, "passed**")
	})
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", formatDuration(250))
	assert.Equal(t, "1.5s", formatDuration(1500))
	assert.Equal(t, "2m0s", formatDuration(120000))
}

func TestMarkdown(t *testing.T) {
	t.Run("with color enabled renders markdown", func(t *testing.T) {
		content := "# Heading\n\nSome **bold** text."
		result, err := Markdown(content, false)
		require.NoError(t, err)
		// glamour transforms markdown, output differs from input
		assert.NotEqual(t, content, result)
		assert.Contains(t, result, "Heading")
		assert.Contains(t, result, "bold")
	})

	t.Run("with noColor returns plain content", func(t *testing.T) {
		content := "# Heading\n\nSome **bold** text."
		result, err := Markdown(content, true)
		require.NoError(t, err)
		assert.Equal(t, content, result)
	})

	t.Run("handles empty content", func(t *testing.T) {
		result, err := Markdown("", false)
		require.NoError(t, err)
		assert.Empty(t, strings.TrimSpace(result))
	})

	t.Run("renders report output", func(t *testing.T) {
		md := Report(ReportInfo{Plan: "smoke.yml", State: run.State{
			Summary: &run.Summary{TotalSteps: 1, Passed: 1},
			Phase:   run.PhaseCompleted,
		}})
		result, err := Markdown(md, false)
		require.NoError(t, err)
		assert.Contains(t, result, "smoke.yml")
	})
}
