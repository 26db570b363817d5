// Package ai classifies tickets and drafts replies through Claude, falling
// back to deterministic answers when the model is unavailable.
package ai

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/Rzx-x/Ticket-Agent/pkg/resilient"
	"go.uber.org/zap"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-3-haiku-20240307"
	anthropicVersion = "2023-06-01"
)

// Completer sends one prompt and returns the model's text.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

type CompletionRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

type ClientConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	Logger     *zap.Logger
}

// Client talks to the Anthropic Messages API.
type Client struct {
	http    *resilient.Client
	baseURL string
	model   string
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("ai: api key required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	opts := []resilient.Option{
		resilient.WithHeader("x-api-key", cfg.APIKey),
		resilient.WithHeader("anthropic-version", anthropicVersion),
		resilient.WithBackoff(500*time.Millisecond, 8*time.Second),
		resilient.WithLogger(cfg.Logger),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, resilient.WithTimeout(cfg.Timeout))
	}
	if cfg.MaxRetries >= 0 {
		opts = append(opts, resilient.WithMaxRetries(cfg.MaxRetries))
	}
	return &Client{
		http:    resilient.New(opts...),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
	}, nil
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = 1000
	}
	body := messagesRequest{
		Model:       c.model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Messages:    []message{{Role: "user", Content: scrubSecrets(req.Prompt)}},
	}
	var resp messagesResponse
	err := c.http.DoJSON(ctx, resilient.Request{Method: http.MethodPost, URL: c.baseURL + "/v1/messages"}, body, &resp)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "" || block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", errors.New("ai: empty completion")
	}
	return text, nil
}

var secretPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`sk-ant-[a-zA-Z0-9-]{20,}`), "[REDACTED:ANTHROPIC_KEY]"},
	{regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`), "[REDACTED:API_KEY]"},
	{regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.=]{20,}`), "[REDACTED:BEARER_TOKEN]"},
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey|token)\s*[:=]\s*["']?([^"'\s]{8,})["']?`), "$1=[REDACTED]"},
	{regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*["']?([^"'\s]{4,})["']?`), "$1=[REDACTED]"},
}

// scrubSecrets hides credentials users paste into tickets before the text
// leaves the network.
func scrubSecrets(s string) string {
	for _, p := range secretPatterns {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return s
}
