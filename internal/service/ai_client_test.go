package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"scene-forge/internal/model"
	"scene-forge/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newClient(t *testing.T, typ, baseURL string) service.AIClient {
	t.Helper()
	client, err := service.NewAIClient(service.ClientConfig{
		Type:                  typ,
		BaseURL:               baseURL,
		Model:                 "test-model",
		APIKey:                "test-key",
		Timeout:               5 * time.Second,
		InputPricePerMillion:  1,
		OutputPricePerMillion: 2,
	}, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestOpenAIClient(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"` + "```python\\nself.wait(1)\\n```" + `"}}],"usage":{"prompt_tokens":100,"completion_tokens":50,"total_tokens":150}}`))
	}))
	defer srv.Close()

	client := newClient(t, "openai", srv.URL)
	text, usage, err := client.GenerateText(context.Background(), "u1", "system", "input", service.Params(0.35, 12000))
	require.NoError(t, err)

	assert.Equal(t, "```python\nself.wait(1)\n```", text)
	assert.Equal(t, 100, usage.PromptTokens)
	assert.Equal(t, 50, usage.CompletionTokens)
	assert.InDelta(t, (100*1+50*2)/1_000_000.0, usage.EstimatedCostUSD, 1e-12)
	assert.InDelta(t, 0.35, captured["temperature"], 1e-6)
	assert.EqualValues(t, 12000, captured["max_tokens"])
	assert.Len(t, captured["messages"], 2)
}

func TestOpenAIClientBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	client := newClient(t, "openai", srv.URL)
	_, _, err := client.GenerateText(context.Background(), "u1", "system", "input", service.GenerationParams{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrBackend))
}

func TestOpenAIClientKeepsContextCause(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	client := newClient(t, "openai", srv.URL)

	t.Run("deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, _, err := client.GenerateText(ctx, "u1", "system", "input", service.GenerationParams{})
		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrBackend)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.NotErrorIs(t, err, context.Canceled)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, _, err := client.GenerateText(ctx, "u1", "system", "input", service.GenerationParams{})
		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrBackend)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestOpenAIClientEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","choices":[]}`))
	}))
	defer srv.Close()

	client := newClient(t, "openai", srv.URL)
	_, _, err := client.GenerateText(context.Background(), "u1", "system", "", service.GenerationParams{})
	assert.True(t, errors.Is(err, model.ErrBackend))
}

func TestAnthropicClient(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"test-model","stop_reason":"end_turn",
			"content":[{"type":"text","text":"PERFECT"}],"usage":{"input_tokens":40,"output_tokens":2}}`))
	}))
	defer srv.Close()

	client := newClient(t, "anthropic", srv.URL+"/v1")
	text, usage, err := client.GenerateText(context.Background(), "u1", "rules", "code", service.Params(0, 2048))
	require.NoError(t, err)

	assert.Equal(t, "PERFECT", text)
	assert.Equal(t, 40, usage.PromptTokens)
	assert.Equal(t, 2, usage.CompletionTokens)
	assert.Equal(t, "rules", captured["system"])
	assert.EqualValues(t, 2048, captured["max_tokens"])
}

func TestOllamaClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, false, req["stream"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"test-model","message":{"role":"assistant","content":"ok"},"done":true,"prompt_eval_count":12,"eval_count":3}` + "\n"))
	}))
	defer srv.Close()

	client := newClient(t, "ollama", srv.URL+"/v1")
	text, usage, err := client.GenerateText(context.Background(), "u1", "system", "input", service.Params(0.2, 100))
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 12, usage.PromptTokens)
	assert.Equal(t, 3, usage.CompletionTokens)
	assert.Zero(t, usage.EstimatedCostUSD)
}

func TestUnknownClientType(t *testing.T) {
	_, err := service.NewAIClient(service.ClientConfig{Type: "gpt"}, zap.NewNop())
	assert.Error(t, err)
}

func TestUserContext(t *testing.T) {
	assert.Equal(t, "system", service.UserFromContext(context.Background()))
	assert.Equal(t, "u42", service.UserFromContext(service.ContextWithUser(context.Background(), "u42")))
}
