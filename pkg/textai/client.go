// Package textai runs AI-text detection and humanization against an
// OpenAI-compatible chat completion API.
package textai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"

	"github.com/dmitrymomot/usagegate/pkg/logger"
)

const (
	detectPrompt = `You classify whether text was written by an AI model.
Reply with a JSON object: {"ai_probability": <number 0..1>, "verdict": "ai" | "human" | "mixed"}.`

	humanizePrompt = `Rewrite the user's text so it reads as natural human writing.
Keep the meaning, language and approximate length. Reply with the rewritten text only.`
)

// Verdict is the detector's classification.
type Verdict string

const (
	VerdictAI    Verdict = "ai"
	VerdictHuman Verdict = "human"
	VerdictMixed Verdict = "mixed"
)

// Detection is the result of Detect.
type Detection struct {
	AIProbability float64 `json:"ai_probability"`
	Verdict       Verdict `json:"verdict"`
}

// Service is the surface HTTP handlers depend on.
type Service interface {
	Detect(ctx context.Context, text string) (*Detection, error)
	Humanize(ctx context.Context, text string) (string, error)
}

// Client implements Service with go-openai.
type Client struct {
	api     *openai.Client
	model   string
	maxText int
	log     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Defaults to a discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New builds a Client from cfg. It returns ErrNotConfigured without an API key.
func New(cfg Config, opts ...Option) (*Client, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	apiCfg.HTTPClient = &http.Client{Timeout: timeout}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	c := &Client{
		api:     openai.NewClientWithConfig(apiCfg),
		model:   model,
		maxText: cfg.MaxTextLength,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Detect estimates how likely text is to be machine-written.
func (c *Client) Detect(ctx context.Context, text string) (*Detection, error) {
	if err := c.validate(text); err != nil {
		return nil, err
	}

	content, err := c.complete(ctx, detectPrompt, text, &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	})
	if err != nil {
		return nil, err
	}

	var d Detection
	if err := json.Unmarshal([]byte(content), &d); err != nil {
		return nil, errors.Join(ErrMalformedResponse, err)
	}
	if d.AIProbability < 0 || d.AIProbability > 1 {
		return nil, fmt.Errorf("%w: ai_probability %v out of range", ErrMalformedResponse, d.AIProbability)
	}
	switch d.Verdict {
	case VerdictAI, VerdictHuman, VerdictMixed:
	default:
		return nil, fmt.Errorf("%w: unknown verdict %q", ErrMalformedResponse, d.Verdict)
	}
	return &d, nil
}

// Humanize rewrites text to read as human-written.
func (c *Client) Humanize(ctx context.Context, text string) (string, error) {
	if err := c.validate(text); err != nil {
		return "", err
	}

	content, err := c.complete(ctx, humanizePrompt, text, nil)
	if err != nil {
		return "", err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("%w: empty rewrite", ErrMalformedResponse)
	}
	return content, nil
}

func (c *Client) validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if c.maxText > 0 && utf8.RuneCountInString(text) > c.maxText {
		return ErrTextTooLong
	}
	return nil
}

func (c *Client) complete(ctx context.Context, system, user string, format *openai.ChatCompletionResponseFormat) (string, error) {
	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: format,
	})
	if err != nil {
		attrs := []any{logger.Error(err), logger.Component("textai"), logger.Duration(time.Since(start))}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			attrs = append(attrs, slog.Int("status", apiErr.HTTPStatusCode))
		}
		c.log.ErrorContext(ctx, "chat completion failed", attrs...)
		return "", errors.Join(ErrBackend, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	c.log.DebugContext(ctx, "chat completion done",
		logger.Component("textai"),
		logger.Duration(time.Since(start)),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return resp.Choices[0].Message.Content, nil
}
