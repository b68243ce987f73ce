package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicProvider_Complete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"claude-test","stop_reason":"end_turn","content":[{"type":"text","text":"{\"reply\":\"Hallo\"}"}]}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("secret", WithAnthropicBaseURL(srv.URL))
	resp, err := p.Complete(context.Background(), Request{
		Model:    "claude-test",
		System:   "be nice",
		Messages: []Message{{Role: RoleUser, Content: "Hallo"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"reply":"Hallo"}`, resp.Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, "be nice", got["system"])
	assert.EqualValues(t, defaultMaxTokens, got["max_tokens"])
}

func TestAnthropicProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("secret", WithAnthropicBaseURL(srv.URL))
	_, err := p.Complete(context.Background(), Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "slow down")
}

func TestOpenAIProvider_Complete(t *testing.T) {
	var got openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gpt-test","choices":[{"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("secret", WithOpenAIBaseURL(srv.URL))
	resp, err := p.Complete(context.Background(), Request{
		Model:  "gpt-test",
		System: "sys",
		Messages: []Message{
			{Role: RoleUser, Content: "a"},
			{Role: RoleAssistant, Content: "b"},
			{Role: RoleUser, Content: "c"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Text)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "sys", got.Messages[0].Content)
}

func TestOpenAIProvider_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("k", WithOpenAIBaseURL(srv.URL))
	_, err := p.Complete(context.Background(), Request{Model: "m"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGeminiProvider_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"servus"}]},"finishReason":"STOP"}],"modelVersion":"gemini-test"}`))
	}))
	defer srv.Close()

	p, err := NewGeminiProvider(context.Background(), "key", srv.URL)
	require.NoError(t, err)
	resp, err := p.Complete(context.Background(), Request{
		Model:    "gemini-test",
		System:   "sys",
		Messages: []Message{{Role: RoleUser, Content: "hallo"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "servus", resp.Text)
	assert.Equal(t, "STOP", resp.StopReason)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Settings{Provider: "parrot"})
	assert.Error(t, err)
	assert.True(t, Known(" Anthropic "))
	assert.False(t, Known("parrot"))
}

func TestDefaultModel(t *testing.T) {
	assert.Equal(t, "claude-sonnet-4-5", DefaultModel("anthropic"))
	assert.Equal(t, "gpt-4o", DefaultModel("OpenAI"))
	assert.Equal(t, "gemini-2.5-flash", DefaultModel("google"))
	assert.Empty(t, DefaultModel("parrot"))
}

func TestWindow(t *testing.T) {
	msgs := []Message{
		{Role: RoleAssistant, Content: "welcome"},
		{Role: RoleUser, Content: "1"},
		{Role: RoleAssistant, Content: "2"},
		{Role: RoleUser, Content: "3"},
		{Role: RoleAssistant, Content: "4"},
		{Role: RoleUser, Content: "5"},
	}
	assert.Len(t, Window(msgs, 0), 5)
	assert.Equal(t, "1", Window(msgs, 0)[0].Content)

	w := Window(msgs, 2)
	require.Len(t, w, 1)
	assert.Equal(t, "5", w[0].Content)

	w = Window(msgs, 3)
	require.Len(t, w, 3)
	assert.Equal(t, "3", w[0].Content)

	w = Window(msgs, 4)
	require.Len(t, w, 3)
	assert.Equal(t, "3", w[0].Content)
}
