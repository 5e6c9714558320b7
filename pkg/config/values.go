package config

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/ini.v1"
)

// Values holds scalar configuration values.
// Fields ending in *Set track whether the field was explicitly present in a
// config file, so a local config can override the global one with zero values.
type Values struct {
	ServerURL           string
	StreamingEnabled    bool
	StreamingEnabledSet bool
	TimeoutSec          int
	TimeoutSecSet       bool
	MaxRetries          int
	MaxRetriesSet       bool
	Parallel            bool
	ParallelSet         bool
	HistoryPath         string
	NotifyChannels      []string
	NotifyOnComplete    bool
	NotifyOnCompleteSet bool
	NotifyOnError       bool
	NotifyOnErrorSet    bool
	NotifyTimeoutMs     int
	NotifyTimeoutMsSet  bool
	TelegramToken       string
	TelegramChat        string
	SlackToken          string
	SlackChannel        string
	WebhookURLs         []string
}

// valuesLoader loads Values with embedded filesystem fallback.
type valuesLoader struct {
	embedFS embed.FS
}

// newValuesLoader creates a valuesLoader with the given embedded filesystem.
func newValuesLoader(embedFS embed.FS) *valuesLoader {
	return &valuesLoader{embedFS: embedFS}
}

// Load loads values with the fallback chain: local → global → embedded.
// both paths are full file paths; missing files fall back to the next level.
func (vl *valuesLoader) Load(localConfigPath, globalConfigPath string) (Values, error) {
	embedded, err := vl.parseFromEmbedded()
	if err != nil {
		return Values{}, fmt.Errorf("parse embedded defaults: %w", err)
	}

	global, err := vl.parseFromFile(globalConfigPath)
	if err != nil {
		return Values{}, fmt.Errorf("parse global config: %w", err)
	}

	local, err := vl.parseFromFile(localConfigPath)
	if err != nil {
		return Values{}, fmt.Errorf("parse local config: %w", err)
	}

	// merge: embedded → global → local (local wins)
	result := embedded
	result.mergeFrom(&global)
	result.mergeFrom(&local)
	return result, nil
}

// parseFromFile reads a config file into Values.
// returns empty Values (not error) when the file doesn't exist or holds only
// comments/whitespace, so commented-out templates fall back to defaults.
func (vl *valuesLoader) parseFromFile(path string) (Values, error) {
	if path == "" {
		return Values{}, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is constructed internally
	if err != nil {
		if os.IsNotExist(err) {
			return Values{}, nil
		}
		return Values{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if strings.TrimSpace(stripComments(string(data))) == "" {
		return Values{}, nil
	}
	return parseValues(data)
}

// parseFromEmbedded parses the embedded defaults/config file.
func (vl *valuesLoader) parseFromEmbedded() (Values, error) {
	data, err := vl.embedFS.ReadFile("defaults/config")
	if err != nil {
		return Values{}, fmt.Errorf("read embedded defaults: %w", err)
	}
	return parseValues(data)
}

// parseValues parses configuration from a byte slice into Values.
func parseValues(data []byte) (Values, error) {
	// ignoreInlineComment: true prevents # from being treated as inline comment marker
	cfg, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, data)
	if err != nil {
		return Values{}, fmt.Errorf("parse config: %w", err)
	}

	var values Values
	section := cfg.Section("") // default section, no header

	if key, err := section.GetKey("server_url"); err == nil {
		values.ServerURL = key.String()
	}
	if key, err := section.GetKey("streaming_enabled"); err == nil {
		val, boolErr := key.Bool()
		if boolErr != nil {
			return Values{}, fmt.Errorf("invalid streaming_enabled: %w", boolErr)
		}
		values.StreamingEnabled = val
		values.StreamingEnabledSet = true
	}
	if key, err := section.GetKey("timeout_sec"); err == nil {
		val, intErr := key.Int()
		if intErr != nil {
			return Values{}, fmt.Errorf("invalid timeout_sec: %w", intErr)
		}
		if val < 0 {
			return Values{}, fmt.Errorf("invalid timeout_sec: must be non-negative, got %d", val)
		}
		values.TimeoutSec = val
		values.TimeoutSecSet = true
	}
	if key, err := section.GetKey("max_retries"); err == nil {
		val, intErr := key.Int()
		if intErr != nil {
			return Values{}, fmt.Errorf("invalid max_retries: %w", intErr)
		}
		if val < 0 {
			return Values{}, fmt.Errorf("invalid max_retries: must be non-negative, got %d", val)
		}
		values.MaxRetries = val
		values.MaxRetriesSet = true
	}
	if key, err := section.GetKey("parallel"); err == nil {
		val, boolErr := key.Bool()
		if boolErr != nil {
			return Values{}, fmt.Errorf("invalid parallel: %w", boolErr)
		}
		values.Parallel = val
		values.ParallelSet = true
	}
	if key, err := section.GetKey("history_path"); err == nil {
		values.HistoryPath = key.String()
	}

	// notification settings
	if key, err := section.GetKey("notify_channels"); err == nil {
		values.NotifyChannels = splitList(key.String())
	}
	if key, err := section.GetKey("notify_on_complete"); err == nil {
		val, boolErr := key.Bool()
		if boolErr != nil {
			return Values{}, fmt.Errorf("invalid notify_on_complete: %w", boolErr)
		}
		values.NotifyOnComplete = val
		values.NotifyOnCompleteSet = true
	}
	if key, err := section.GetKey("notify_on_error"); err == nil {
		val, boolErr := key.Bool()
		if boolErr != nil {
			return Values{}, fmt.Errorf("invalid notify_on_error: %w", boolErr)
		}
		values.NotifyOnError = val
		values.NotifyOnErrorSet = true
	}
	if key, err := section.GetKey("notify_timeout_ms"); err == nil {
		val, intErr := key.Int()
		if intErr != nil {
			return Values{}, fmt.Errorf("invalid notify_timeout_ms: %w", intErr)
		}
		if val < 0 {
			return Values{}, fmt.Errorf("invalid notify_timeout_ms: must be non-negative, got %d", val)
		}
		values.NotifyTimeoutMs = val
		values.NotifyTimeoutMsSet = true
	}
	if key, err := section.GetKey("notify_telegram_token"); err == nil {
		values.TelegramToken = key.String()
	}
	if key, err := section.GetKey("notify_telegram_chat"); err == nil {
		values.TelegramChat = key.String()
	}
	if key, err := section.GetKey("notify_slack_token"); err == nil {
		values.SlackToken = key.String()
	}
	if key, err := section.GetKey("notify_slack_channel"); err == nil {
		values.SlackChannel = key.String()
	}
	if key, err := section.GetKey("notify_webhook_urls"); err == nil {
		values.WebhookURLs = splitList(key.String())
	}

	return values, nil
}

// mergeFrom merges explicitly-set values from src into dst.
func (dst *Values) mergeFrom(src *Values) {
	if src.ServerURL != "" {
		dst.ServerURL = src.ServerURL
	}
	if src.StreamingEnabledSet {
		dst.StreamingEnabled = src.StreamingEnabled
		dst.StreamingEnabledSet = true
	}
	if src.TimeoutSecSet {
		dst.TimeoutSec = src.TimeoutSec
		dst.TimeoutSecSet = true
	}
	if src.MaxRetriesSet {
		dst.MaxRetries = src.MaxRetries
		dst.MaxRetriesSet = true
	}
	if src.ParallelSet {
		dst.Parallel = src.Parallel
		dst.ParallelSet = true
	}
	if src.HistoryPath != "" {
		dst.HistoryPath = src.HistoryPath
	}
	if len(src.NotifyChannels) > 0 {
		dst.NotifyChannels = src.NotifyChannels
	}
	if src.NotifyOnCompleteSet {
		dst.NotifyOnComplete = src.NotifyOnComplete
		dst.NotifyOnCompleteSet = true
	}
	if src.NotifyOnErrorSet {
		dst.NotifyOnError = src.NotifyOnError
		dst.NotifyOnErrorSet = true
	}
	if src.NotifyTimeoutMsSet {
		dst.NotifyTimeoutMs = src.NotifyTimeoutMs
		dst.NotifyTimeoutMsSet = true
	}
	if src.TelegramToken != "" {
		dst.TelegramToken = src.TelegramToken
	}
	if src.TelegramChat != "" {
		dst.TelegramChat = src.TelegramChat
	}
	if src.SlackToken != "" {
		dst.SlackToken = src.SlackToken
	}
	if src.SlackChannel != "" {
		dst.SlackChannel = src.SlackChannel
	}
	if len(src.WebhookURLs) > 0 {
		dst.WebhookURLs = src.WebhookURLs
	}
}

// splitList splits a comma-separated list, trimming whitespace and dropping
// empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// stripComments removes full-line comments (# or ;) from config data.
func stripComments(data string) string {
	var b strings.Builder
	for _, line := range strings.Split(data, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ";") {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
