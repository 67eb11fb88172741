package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/expand-cli/internal/resilience"
)

func TestChatCompletion(t *testing.T) {
	var gotReq ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		resp := ChatCompletionResponse{
			ID: "cmpl-1",
			Choices: []Choice{
				{Index: 0, Message: Message{Role: "assistant", Content: `[{"event_name":"Foo"}]`}},
			},
			Usage: Usage{PromptTokens: 120, CompletionTokens: 15},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithModel("gpt-4o"))

	temp := 0.0
	resp, err := c.ChatCompletion(context.Background(), ChatCompletionRequest{
		Messages:    []Message{{Role: "user", Content: "extract"}},
		Temperature: &temp,
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", gotReq.Model)
	require.NotNil(t, gotReq.Temperature)
	assert.Equal(t, 0.0, *gotReq.Temperature)

	require.Len(t, resp.Choices, 1)
	assert.Equal(t, `[{"event_name":"Foo"}]`, resp.Choices[0].Message.Content)
	assert.Equal(t, 120, resp.Usage.PromptTokens)
}

func TestChatCompletionRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	_, err := c.ChatCompletion(context.Background(), ChatCompletionRequest{})
	require.Error(t, err)
	assert.True(t, resilience.IsRateLimit(err))

	var rl *resilience.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 7*time.Second, rl.RetryAfter)
}

func TestChatCompletionTransientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	_, err := c.ChatCompletion(context.Background(), ChatCompletionRequest{})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.False(t, resilience.IsRateLimit(err))
}

func TestChatCompletionClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	_, err := c.ChatCompletion(context.Background(), ChatCompletionRequest{})
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, 30*time.Second, parseRetryAfter("30"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
}
