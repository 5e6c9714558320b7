// Package notify sends best-effort notifications when an execution reaches a
// terminal phase. Errors are logged and never propagate; a broken channel
// must not affect the run itself.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"strings"
	"time"

	ntfy "github.com/go-pkgz/notify"
)

// Params holds configuration for creating a notification Service.
type Params struct {
	Channels      []string
	OnError       bool
	OnComplete    bool
	TimeoutMs     int
	TelegramToken string
	TelegramChat  string
	SlackToken    string
	SlackChannel  string
	WebhookURLs   []string
}

// Result holds the terminal run data a notification describes.
type Result struct {
	Status      string // "passed" or "failed"
	Plan        string
	ExecutionID string
	Branch      string
	Duration    string
	Passed      int
	Failed      int
	Skipped     int
	Error       string
}

// logger interface for dependency injection.
type logger interface {
	Print(format string, args ...any)
}

// channel pairs a notifier with its destination URI.
type channel struct {
	notifier   ntfy.Notifier
	dest       string
	htmlEscape bool // true for channels using HTML parse mode (telegram)
}

// Service sends run notifications through configured channels.
type Service struct {
	channels   []channel
	onError    bool
	onComplete bool
	timeoutMs  int
	hostname   string // resolved once at creation
	log        logger
}

// New creates a Service from the given Params.
// returns nil, nil when no channels are configured; Send is nil-safe so
// callers never need the nil check themselves.
func New(p Params, log logger) (*Service, error) {
	if len(p.Channels) == 0 {
		return nil, nil //nolint:nilnil // nil,nil signals "no channels configured", Send is nil-safe
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	svc := &Service{
		onError:    p.OnError,
		onComplete: p.OnComplete,
		timeoutMs:  p.TimeoutMs,
		hostname:   hostname,
		log:        log,
	}
	if svc.timeoutMs <= 0 {
		svc.timeoutMs = 10000
	}

	for _, ch := range p.Channels {
		switch strings.TrimSpace(strings.ToLower(ch)) {
		case "telegram":
			if p.TelegramToken == "" {
				return nil, errors.New("telegram channel: notify_telegram_token is required")
			}
			if p.TelegramChat == "" {
				return nil, errors.New("telegram channel: notify_telegram_chat is required")
			}
			c, cErr := telegramChannelMaker(p)
			if cErr != nil {
				// telegram init verifies the bot token with a live API call; when
				// that fails the channel is skipped instead of blocking startup.
				// redact the token from the error before logging
				errMsg := strings.ReplaceAll(cErr.Error(), p.TelegramToken, "[REDACTED]")
				log.Print("[WARN] telegram channel disabled: %s", errMsg)
				continue
			}
			svc.channels = append(svc.channels, c)
		case "slack":
			c, cErr := makeSlackChannel(p)
			if cErr != nil {
				return nil, fmt.Errorf("slack channel: %w", cErr)
			}
			svc.channels = append(svc.channels, c)
		case "webhook":
			chs, cErr := makeWebhookChannels(p)
			if cErr != nil {
				return nil, fmt.Errorf("webhook channel: %w", cErr)
			}
			svc.channels = append(svc.channels, chs...)
		default:
			return nil, fmt.Errorf("unknown notification channel: %q", ch)
		}
	}

	if len(svc.channels) == 0 {
		log.Print("[WARN] all notification channels were disabled due to initialization errors")
	}
	return svc, nil
}

// Send sends a notification for the given result. nil-safe on receiver.
// honors the onError/onComplete flags; errors are logged, never returned.
func (s *Service) Send(ctx context.Context, r Result) {
	if s == nil {
		return
	}

	if r.Status == "passed" && !s.onComplete {
		return
	}
	if r.Status == "failed" && !s.onError {
		return
	}

	msg := s.formatMessage(r)

	sendCtx, cancel := context.WithTimeout(ctx, time.Duration(s.timeoutMs)*time.Millisecond)
	defer cancel()

	for _, ch := range s.channels {
		text := msg
		if ch.htmlEscape {
			text = html.EscapeString(msg)
		}
		if err := ch.notifier.Send(sendCtx, ch.dest, text); err != nil {
			s.log.Print("[WARN] notification failed for %s: %v", ch.notifier, err)
		}
	}
}

// formatMessage creates a plain text notification message from the result.
func (s *Service) formatMessage(r Result) string {
	var b strings.Builder

	if r.Status == "passed" {
		fmt.Fprintf(&b, "stepwatch run passed on %s\n", s.hostname)
	} else {
		fmt.Fprintf(&b, "stepwatch run failed on %s\n", s.hostname)
	}
	b.WriteString("\n")

	if r.Plan != "" {
		fmt.Fprintf(&b, "plan:      %s\n", r.Plan)
	}
	if r.ExecutionID != "" {
		fmt.Fprintf(&b, "execution: %s\n", r.ExecutionID)
	}
	if r.Branch != "" {
		fmt.Fprintf(&b, "branch:    %s\n", r.Branch)
	}
	if r.Duration != "" {
		fmt.Fprintf(&b, "duration:  %s\n", r.Duration)
	}
	fmt.Fprintf(&b, "steps:     %d passed, %d failed, %d skipped\n", r.Passed, r.Failed, r.Skipped)
	if r.Error != "" {
		fmt.Fprintf(&b, "error:     %s\n", r.Error)
	}
	return b.String()
}

// telegramChannelMaker creates a telegram notifier and destination.
// overridden in tests to avoid live API calls.
var telegramChannelMaker = makeTelegramChannel

// makeTelegramChannel creates a telegram notifier and destination.
// caller must validate token and chat are non-empty.
func makeTelegramChannel(p Params) (channel, error) {
	tg, err := ntfy.NewTelegram(ntfy.TelegramParams{Token: p.TelegramToken})
	if err != nil {
		return channel{}, fmt.Errorf("create telegram notifier: %w", err)
	}
	dest := fmt.Sprintf("telegram:%s?parseMode=HTML", p.TelegramChat)
	return channel{notifier: tg, dest: dest, htmlEscape: true}, nil
}

// makeSlackChannel creates a slack notifier and destination.
func makeSlackChannel(p Params) (channel, error) {
	if p.SlackToken == "" {
		return channel{}, errors.New("notify_slack_token is required")
	}
	if p.SlackChannel == "" {
		return channel{}, errors.New("notify_slack_channel is required")
	}
	sl := ntfy.NewSlack(p.SlackToken)
	return channel{notifier: sl, dest: "slack:" + p.SlackChannel}, nil
}

// makeWebhookChannels creates webhook notifiers for each configured URL.
func makeWebhookChannels(p Params) ([]channel, error) {
	if len(p.WebhookURLs) == 0 {
		return nil, errors.New("notify_webhook_urls is required")
	}
	wh := ntfy.NewWebhook(ntfy.WebhookParams{})
	var channels []channel
	for _, u := range p.WebhookURLs {
		channels = append(channels, channel{notifier: wh, dest: u})
	}
	return channels, nil
}
