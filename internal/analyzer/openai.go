package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"samay/internal/config"
	"samay/internal/logger"
	"samay/internal/metrics"
)

// ErrNotConfigured is returned when no API key is set
var ErrNotConfigured = errors.New("openai api key not configured")

// JSONRequest asks a chat model for a reply constrained to a JSON schema
type JSONRequest struct {
	Model      string
	System     string
	User       string
	SchemaName string
	Schema     map[string]any
}

// Generator is the completion surface the jobs depend on
type Generator interface {
	GenerateJSON(ctx context.Context, req JSONRequest, out any) error
}

type OpenAI struct {
	client *resty.Client
	apiKey string
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type jsonSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
	} `json:"choices"`
}

func NewOpenAI(cfg config.OpenAIConfig) *OpenAI {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(cfg.APIKey).
		SetTimeout(timeout).
		SetRetryCount(max(cfg.MaxRetries, 0)).
		SetRetryAfter(retryAfter).
		AddRetryCondition(shouldRetry).
		AddRetryHook(func(resp *resty.Response, err error) {
			logger.ForComponent("openai").Infof("Retrying API request (reason: %s)", retryReason(resp, err))
		})

	o := &OpenAI{client: client, apiKey: cfg.APIKey}
	return o.WithInitialBackoff(2 * time.Second)
}

// NewGenerator returns nil when no API key is configured, so callers can
// test the interface for nil instead of failing every request.
func NewGenerator(cfg config.OpenAIConfig) Generator {
	if cfg.APIKey == "" {
		return nil
	}
	return NewOpenAI(cfg)
}

// WithInitialBackoff sets the first retry delay. Later delays grow
// exponentially with jitter up to 30 times that.
func (o *OpenAI) WithInitialBackoff(d time.Duration) *OpenAI {
	o.client.SetRetryWaitTime(d).SetRetryMaxWaitTime(30 * d)
	return o
}

func (o *OpenAI) Configured() bool {
	return o.apiKey != ""
}

// GenerateJSON sends one strict json_schema completion and decodes the
// reply into out. Transient failures are retried with backoff.
func (o *OpenAI) GenerateJSON(ctx context.Context, req JSONRequest, out any) error {
	if !o.Configured() {
		return ErrNotConfigured
	}

	body := chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchema{
				Name:   req.SchemaName,
				Strict: true,
				Schema: req.Schema,
			},
		},
	}

	content, err := o.callAPI(ctx, body)
	metrics.ObserveLLM(req.Model, err)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("failed to decode %s reply: %w", req.SchemaName, err)
	}
	return nil
}

func (o *OpenAI) callAPI(ctx context.Context, req chatRequest) (string, error) {
	var parsed chatResponse
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(&req).
		SetResult(&parsed).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode(), resp.String())
	}
	if resp.Request.Attempt > 1 {
		logger.ForComponent("openai").Infof("API request succeeded after %d retries", resp.Request.Attempt-1)
	}

	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	msg := parsed.Choices[0].Message
	if msg.Refusal != "" {
		return "", fmt.Errorf("model refused: %s", msg.Refusal)
	}
	if msg.Content == "" {
		return "", fmt.Errorf("empty content in response")
	}
	return msg.Content, nil
}

// shouldRetry retries rate limits, server errors and transport failures.
// A cancelled or expired context is never retried.
func shouldRetry(resp *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if resp == nil {
		return false
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// retryAfter honours a Retry-After header in seconds; zero falls back to
// the client's exponential backoff.
func retryAfter(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
	if resp == nil || resp.StatusCode() != http.StatusTooManyRequests {
		return 0, nil
	}
	secs, err := strconv.Atoi(strings.TrimSpace(resp.Header().Get("Retry-After")))
	if err != nil || secs <= 0 {
		return 0, nil
	}
	return time.Duration(secs) * time.Second, nil
}

func retryReason(resp *resty.Response, err error) string {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "timeout"
		}
		return "connection_failed"
	}
	if resp == nil {
		return "unknown"
	}
	switch resp.StatusCode() {
	case http.StatusTooManyRequests:
		return "rate_limit"
	case http.StatusBadGateway:
		return "bad_gateway"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	case http.StatusGatewayTimeout:
		return "gateway_timeout"
	case http.StatusInternalServerError:
		return "internal_server_error"
	}
	return "other_error"
}
