package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPrompt(t *testing.T) {
	p, err := BuildPrompt(TemplateKnowledgeAnswer, map[string]string{
		"question": "Does my plan cover hail?",
		"passages": "1. Auto Insurance\nComprehensive covers hail.",
	})
	require.NoError(t, err)
	assert.Contains(t, p.System, "insurance company")
	assert.Contains(t, p.System, "ONLY the policy excerpts")
	assert.Contains(t, p.User, "Does my plan cover hail?")
	assert.Contains(t, p.User, "Comprehensive covers hail.")

	p, err = BuildPrompt(TemplateFallback, map[string]string{"message": "hi"})
	require.NoError(t, err)
	assert.NotContains(t, p.User, "Conversation so far")

	_, err = BuildPrompt("poem", nil)
	assert.Error(t, err)
}

func TestMockLLMIsDeterministic(t *testing.T) {
	m := NewMockLLM()
	ctx := context.Background()

	route, err := m.Generate(ctx, TemplateRoute, map[string]string{"message": "hello"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"route":"fallback","reasoning":"mock classifier"}`, route)

	a, err := m.Generate(ctx, TemplateFallback, map[string]string{"message": "hello"})
	require.NoError(t, err)
	b, err := m.Generate(ctx, TemplateFallback, map[string]string{"message": "hello"})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = m.Generate(ctx, "unknown", nil)
	assert.Error(t, err)
}

func TestAnthropicClientGenerate(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-test", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "Your claim is open."}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	c, err := NewAnthropicClient(AnthropicConfig{APIKey: "test-key", Model: "claude-test", BaseURL: srv.URL})
	require.NoError(t, err)

	text, err := c.Generate(context.Background(), TemplateFormatResult, map[string]string{
		"operation": "get_claim_status",
		"result":    `{"status":"open"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "Your claim is open.", text)
	assert.EqualValues(t, 1, hits.Load())
}

func TestAnthropicClientDoesNotRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"overloaded"}}`))
	}))
	defer srv.Close()

	c, err := NewAnthropicClient(AnthropicConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), TemplateFallback, map[string]string{"message": "hi"})
	assert.Error(t, err)
	assert.EqualValues(t, 1, hits.Load())
}

func TestAnthropicClientRequiresKey(t *testing.T) {
	_, err := NewAnthropicClient(AnthropicConfig{})
	assert.Error(t, err)
}
