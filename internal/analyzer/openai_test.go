package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"samay/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, retries int) (*OpenAI, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewOpenAI(config.OpenAIConfig{
		APIKey:     "sk-test",
		BaseURL:    srv.URL,
		Timeout:    5 * time.Second,
		MaxRetries: retries,
	}).WithInitialBackoff(time.Millisecond)
	return c, srv
}

func reply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"content": content}}},
	})
}

func TestGenerateJSON_SendsStrictSchema(t *testing.T) {
	var got chatRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		reply(w, `{"tags":[{"app":"Code","title":"main.go","tag":"Code"}]}`)
	}, 0)

	var out struct {
		Tags []struct{ App, Title, Tag string } `json:"tags"`
	}
	err := c.GenerateJSON(context.Background(), JSONRequest{
		Model:      "gpt-4o-mini",
		System:     "classify",
		User:       "items",
		SchemaName: "activity_tags",
		Schema:     map[string]any{"type": "object"},
	}, &out)
	require.NoError(t, err)
	require.Len(t, out.Tags, 1)
	assert.Equal(t, "Code", out.Tags[0].Tag)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_schema", got.ResponseFormat.Type)
	assert.True(t, got.ResponseFormat.JSONSchema.Strict)
	assert.Equal(t, "activity_tags", got.ResponseFormat.JSONSchema.Name)
}

func TestGenerateJSON_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		reply(w, `{"ok":true}`)
	}, 3)

	var out map[string]bool
	require.NoError(t, c.GenerateJSON(context.Background(), JSONRequest{Model: "m"}, &out))
	assert.True(t, out["ok"])
	assert.EqualValues(t, 3, calls.Load())
}

func TestGenerateJSON_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad schema", http.StatusBadRequest)
	}, 3)

	var out map[string]any
	err := c.GenerateJSON(context.Background(), JSONRequest{Model: "m"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.EqualValues(t, 1, calls.Load())
}

func TestGenerateJSON_InvalidJSON(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		reply(w, "not json")
	}, 0)

	var out map[string]any
	assert.Error(t, c.GenerateJSON(context.Background(), JSONRequest{Model: "m", SchemaName: "x"}, &out))
}

func TestGenerateJSON_NotConfigured(t *testing.T) {
	c := NewOpenAI(config.OpenAIConfig{})
	var out map[string]any
	err := c.GenerateJSON(context.Background(), JSONRequest{}, &out)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestGenerateJSON_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		reply(w, `{"ok":true}`)
	}, 2)

	var out map[string]bool
	require.NoError(t, c.GenerateJSON(context.Background(), JSONRequest{Model: "m"}, &out))
	assert.EqualValues(t, 2, calls.Load())
}

func TestGenerateJSON_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}, 2)

	var out map[string]any
	err := c.GenerateJSON(context.Background(), JSONRequest{Model: "m"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.EqualValues(t, 3, calls.Load())
}

func TestShouldRetry(t *testing.T) {
	status := func(code int) *resty.Response {
		return &resty.Response{RawResponse: &http.Response{StatusCode: code}}
	}
	tests := []struct {
		name string
		resp *resty.Response
		err  error
		want bool
	}{
		{"ok", status(http.StatusOK), nil, false},
		{"bad request", status(http.StatusBadRequest), nil, false},
		{"unauthorized", status(http.StatusUnauthorized), nil, false},
		{"rate limit", status(http.StatusTooManyRequests), nil, true},
		{"server error", status(http.StatusInternalServerError), nil, true},
		{"unavailable", status(http.StatusServiceUnavailable), nil, true},
		{"transport", nil, errors.New("connection reset by peer"), true},
		{"cancelled", nil, context.Canceled, false},
		{"deadline", nil, context.DeadlineExceeded, false},
		{"no response", nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldRetry(tt.resp, tt.err))
		})
	}
}

func TestRetryReason(t *testing.T) {
	status := func(code int) *resty.Response {
		return &resty.Response{RawResponse: &http.Response{StatusCode: code}}
	}
	assert.Equal(t, "rate_limit", retryReason(status(http.StatusTooManyRequests), nil))
	assert.Equal(t, "bad_gateway", retryReason(status(http.StatusBadGateway), nil))
	assert.Equal(t, "connection_failed", retryReason(nil, errors.New("dial tcp: refused")))
	assert.Equal(t, "unknown", retryReason(nil, nil))
}

func TestRetryAfter(t *testing.T) {
	resp := &resty.Response{RawResponse: &http.Response{
		StatusCode: http.StatusTooManyRequests,
		Header:     http.Header{"Retry-After": []string{"3"}},
	}}
	d, err := retryAfter(nil, resp)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	resp.RawResponse.Header = http.Header{}
	d, _ = retryAfter(nil, resp)
	assert.Zero(t, d)
}
