package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockNotifier implements ntfy.Notifier for testing.
type mockNotifier struct {
	schema string
	mu     sync.Mutex
	calls  []sendCall
	err    error
}

type sendCall struct {
	dest string
	text string
}

func (m *mockNotifier) Send(_ context.Context, dest, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, sendCall{dest: dest, text: text})
	return m.err
}

func (m *mockNotifier) Schema() string { return m.schema }
func (m *mockNotifier) String() string { return "mock-" + m.schema }

func (m *mockNotifier) getCalls() []sendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]sendCall, len(m.calls))
	copy(res, m.calls)
	return res
}

// mockLogger captures log output for testing.
type mockLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *mockLogger) Print(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, fmt.Sprintf(format, args...))
}

func (l *mockLogger) getMsgs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	res := make([]string, len(l.msgs))
	copy(res, l.msgs)
	return res
}

func TestNew(t *testing.T) {
	t.Run("empty channels returns nil", func(t *testing.T) {
		svc, err := New(Params{}, &mockLogger{})
		require.NoError(t, err)
		assert.Nil(t, svc)
	})

	t.Run("unknown channel returns error", func(t *testing.T) {
		_, err := New(Params{Channels: []string{"unknown"}}, &mockLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown notification channel")
	})

	t.Run("webhook channel valid config", func(t *testing.T) {
		svc, err := New(Params{
			Channels:    []string{"webhook"},
			OnComplete:  true,
			WebhookURLs: []string{"https://example.com/hook"},
		}, &mockLogger{})
		require.NoError(t, err)
		require.NotNil(t, svc)
		assert.Len(t, svc.channels, 1)
		assert.True(t, svc.onComplete)
	})

	t.Run("webhook channel missing urls", func(t *testing.T) {
		_, err := New(Params{Channels: []string{"webhook"}}, &mockLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "notify_webhook_urls is required")
	})

	t.Run("webhook multiple urls create multiple channels", func(t *testing.T) {
		svc, err := New(Params{
			Channels:    []string{"webhook"},
			WebhookURLs: []string{"https://a.example.com", "https://b.example.com"},
		}, &mockLogger{})
		require.NoError(t, err)
		require.NotNil(t, svc)
		assert.Len(t, svc.channels, 2)
	})

	t.Run("slack channel missing token", func(t *testing.T) {
		_, err := New(Params{Channels: []string{"slack"}}, &mockLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "notify_slack_token is required")
	})

	t.Run("slack channel missing channel", func(t *testing.T) {
		_, err := New(Params{
			Channels:   []string{"slack"},
			SlackToken: "xoxb-token",
		}, &mockLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "notify_slack_channel is required")
	})

	t.Run("slack channel valid config", func(t *testing.T) {
		svc, err := New(Params{
			Channels:     []string{"slack"},
			SlackToken:   "xoxb-token",
			SlackChannel: "builds",
		}, &mockLogger{})
		require.NoError(t, err)
		require.NotNil(t, svc)
		require.Len(t, svc.channels, 1)
		assert.Equal(t, "slack:builds", svc.channels[0].dest)
	})

	t.Run("telegram channel missing token", func(t *testing.T) {
		_, err := New(Params{Channels: []string{"telegram"}}, &mockLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "notify_telegram_token is required")
	})

	t.Run("telegram channel missing chat", func(t *testing.T) {
		_, err := New(Params{
			Channels:      []string{"telegram"},
			TelegramToken: "123:abc",
		}, &mockLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "notify_telegram_chat is required")
	})

	t.Run("telegram init failure disables channel and redacts token", func(t *testing.T) {
		orig := telegramChannelMaker
		defer func() { telegramChannelMaker = orig }()
		telegramChannelMaker = func(p Params) (channel, error) {
			return channel{}, fmt.Errorf("verify bot %s: connection refused", p.TelegramToken)
		}

		log := &mockLogger{}
		svc, err := New(Params{
			Channels:      []string{"telegram"},
			TelegramToken: "123:secret",
			TelegramChat:  "42",
		}, log)
		require.NoError(t, err)
		require.NotNil(t, svc)
		assert.Empty(t, svc.channels)

		msgs := log.getMsgs()
		require.NotEmpty(t, msgs)
		assert.Contains(t, msgs[0], "[REDACTED]")
		assert.NotContains(t, strings.Join(msgs, "\n"), "123:secret")
	})

	t.Run("channel names normalized", func(t *testing.T) {
		svc, err := New(Params{
			Channels:    []string{" Webhook "},
			WebhookURLs: []string{"https://example.com/hook"},
		}, &mockLogger{})
		require.NoError(t, err)
		require.NotNil(t, svc)
		assert.Len(t, svc.channels, 1)
	})

	t.Run("zero timeout gets default", func(t *testing.T) {
		svc, err := New(Params{
			Channels:    []string{"webhook"},
			WebhookURLs: []string{"https://example.com/hook"},
		}, &mockLogger{})
		require.NoError(t, err)
		assert.Equal(t, 10000, svc.timeoutMs)
	})
}

func TestService_Send(t *testing.T) {
	newService := func(onError, onComplete bool) (*Service, *mockNotifier, *mockLogger) {
		mock := &mockNotifier{schema: "webhook"}
		log := &mockLogger{}
		svc := &Service{
			channels:   []channel{{notifier: mock, dest: "https://example.com/hook"}},
			onError:    onError,
			onComplete: onComplete,
			timeoutMs:  1000,
			hostname:   "testhost",
			log:        log,
		}
		return svc, mock, log
	}

	t.Run("nil service is safe", func(t *testing.T) {
		var svc *Service
		svc.Send(context.Background(), Result{Status: "failed"})
	})

	t.Run("passed sent when onComplete set", func(t *testing.T) {
		svc, mock, _ := newService(false, true)
		svc.Send(context.Background(), Result{
			Status:      "passed",
			Plan:        "smoke.yml",
			ExecutionID: "exec-1",
			Duration:    "3.2s",
			Passed:      5,
		})

		calls := mock.getCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, "https://example.com/hook", calls[0].dest)
		assert.Contains(t, calls[0].text, "stepwatch run passed on testhost")
		assert.Contains(t, calls[0].text, "plan:      smoke.yml")
		assert.Contains(t, calls[0].text, "execution: exec-1")
		assert.Contains(t, calls[0].text, "steps:     5 passed, 0 failed, 0 skipped")
	})

	t.Run("passed skipped when onComplete unset", func(t *testing.T) {
		svc, mock, _ := newService(true, false)
		svc.Send(context.Background(), Result{Status: "passed"})
		assert.Empty(t, mock.getCalls())
	})

	t.Run("failed sent when onError set", func(t *testing.T) {
		svc, mock, _ := newService(true, false)
		svc.Send(context.Background(), Result{
			Status: "failed",
			Passed: 2,
			Failed: 1,
			Error:  "step fetch: status 500",
		})

		calls := mock.getCalls()
		require.Len(t, calls, 1)
		assert.Contains(t, calls[0].text, "stepwatch run failed on testhost")
		assert.Contains(t, calls[0].text, "steps:     2 passed, 1 failed, 0 skipped")
		assert.Contains(t, calls[0].text, "error:     step fetch: status 500")
	})

	t.Run("failed skipped when onError unset", func(t *testing.T) {
		svc, mock, _ := newService(false, true)
		svc.Send(context.Background(), Result{Status: "failed"})
		assert.Empty(t, mock.getCalls())
	})

	t.Run("send error logged not returned", func(t *testing.T) {
		svc, mock, log := newService(true, true)
		mock.err = errors.New("boom")
		svc.Send(context.Background(), Result{Status: "failed"})

		require.Len(t, mock.getCalls(), 1)
		msgs := log.getMsgs()
		require.NotEmpty(t, msgs)
		assert.Contains(t, msgs[0], "[WARN] notification failed")
	})

	t.Run("html escape applied for telegram-style channel", func(t *testing.T) {
		mock := &mockNotifier{schema: "telegram"}
		svc := &Service{
			channels:  []channel{{notifier: mock, dest: "telegram:42?parseMode=HTML", htmlEscape: true}},
			onError:   true,
			timeoutMs: 1000,
			hostname:  "testhost",
			log:       &mockLogger{},
		}
		svc.Send(context.Background(), Result{Status: "failed", Error: "expected <ok> got <nil>"})

		calls := mock.getCalls()
		require.Len(t, calls, 1)
		assert.Contains(t, calls[0].text, "&lt;ok&gt;")
		assert.NotContains(t, calls[0].text, "<ok>")
	})

	t.Run("all channels receive message", func(t *testing.T) {
		m1 := &mockNotifier{schema: "webhook"}
		m2 := &mockNotifier{schema: "slack"}
		svc := &Service{
			channels: []channel{
				{notifier: m1, dest: "https://example.com/hook"},
				{notifier: m2, dest: "slack:builds"},
			},
			onComplete: true,
			timeoutMs:  1000,
			hostname:   "testhost",
			log:        &mockLogger{},
		}
		svc.Send(context.Background(), Result{Status: "passed"})
		assert.Len(t, m1.getCalls(), 1)
		assert.Len(t, m2.getCalls(), 1)
	})
}

func TestService_formatMessage(t *testing.T) {
	svc := &Service{hostname: "ci-box"}

	t.Run("full result", func(t *testing.T) {
		msg := svc.formatMessage(Result{
			Status:      "failed",
			Plan:        "api.yml",
			ExecutionID: "exec-9",
			Branch:      "main",
			Duration:    "12s",
			Passed:      3,
			Failed:      2,
			Skipped:     1,
			Error:       "aborted",
		})
		assert.Contains(t, msg, "stepwatch run failed on ci-box")
		assert.Contains(t, msg, "branch:    main")
		assert.Contains(t, msg, "duration:  12s")
		assert.Contains(t, msg, "steps:     3 passed, 2 failed, 1 skipped")
		assert.Contains(t, msg, "error:     aborted")
	})

	t.Run("optional fields omitted", func(t *testing.T) {
		msg := svc.formatMessage(Result{Status: "passed", Passed: 1})
		assert.NotContains(t, msg, "plan:")
		assert.NotContains(t, msg, "branch:")
		assert.NotContains(t, msg, "error:")
		assert.Contains(t, msg, "steps:     1 passed, 0 failed, 0 skipped")
	})
}
