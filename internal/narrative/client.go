package narrative

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"shiftdoc/internal/config"
)

var (
	ErrMissingAPIKey = errors.New("missing OPENAI_API_KEY")
	ErrEmptyResponse = errors.New("openai returned no completion")
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client calls the OpenAI chat completions endpoint.
type Client struct {
	cfg        config.Config
	httpClient *resty.Client
	logger     *zap.Logger
}

func NewClient(cfg config.Config, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.OpenAIBaseURL, "/")).
		SetTimeout(time.Duration(cfg.OpenAITimeoutMs) * time.Millisecond).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || (resp != nil && (resp.StatusCode() == 429 || resp.StatusCode() >= 500))
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{cfg: cfg, httpClient: httpClient, logger: logger}
}

// GenerateShiftNote asks the model for a one-paragraph shift note built from
// an evaluation summary and returns the trimmed text of the first choice.
func (c *Client) GenerateShiftNote(ctx context.Context, summary string) (string, error) {
	if strings.TrimSpace(c.cfg.OpenAIAPIKey) == "" {
		return "", ErrMissingAPIKey
	}

	model := c.cfg.OpenAIModel
	if model == "" {
		model = "gpt-4o-mini"
	}
	req := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: BuildPrompt(summary)},
		},
		MaxTokens:   c.cfg.OpenAIMaxTokens,
		Temperature: c.cfg.OpenAITemperature,
	}

	start := time.Now()
	var out chatResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(c.cfg.OpenAIAPIKey).
		SetBody(req).
		SetResult(&out).
		SetError(&out).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("openai request: %w", err)
	}
	if resp.IsError() {
		msg := resp.Status()
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return "", fmt.Errorf("openai status %d: %s", resp.StatusCode(), msg)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	note := strings.TrimSpace(out.Choices[0].Message.Content)
	c.logger.Debug("shift note generated",
		zap.String("model", model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("chars", len(note)),
	)
	if note == "" {
		return "", ErrEmptyResponse
	}
	return note, nil
}
