package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderSelectsGemini(t *testing.T) {
	for _, name := range []string{"", "gemini"} {
		p, err := NewProvider(Config{Provider: name, APIKey: "k", Model: "gemini-2.5-flash"})
		require.NoError(t, err)
		_, ok := p.(*geminiProvider)
		assert.True(t, ok, "provider %q should resolve to gemini", name)
	}
}

func TestNewProviderCustomRequiresBaseURL(t *testing.T) {
	_, err := NewProvider(Config{Provider: "custom"})
	assert.Error(t, err)

	p, err := NewProvider(Config{Provider: "custom", BaseURL: "http://localhost:8080"})
	require.NoError(t, err)
	_, ok := p.(*openAICompatProvider)
	assert.True(t, ok)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", errors.New("LLM API error 429: slow down"), true},
		{"bad gateway", errors.New("LLM API error 502: upstream"), true},
		{"service unavailable", errors.New("LLM API error 503: busy"), true},
		{"conn refused", errors.New("dial tcp 127.0.0.1:9999: connect: connection refused"), true},
		{"timed out", errors.New("read tcp: i/o timeout"), true},
		{"fetch failed", errors.New("fetch failed"), true},
		{"network down", errors.New("network is unreachable"), true},
		{"wrapped transient", errors.New("request to http://x failed: ETIMEDOUT"), true},
		{"parse failure", errors.New("decoding chat response: unexpected end of JSON input"), false},
		{"bad request", errors.New("LLM API error 400: invalid model"), false},
		{"validation", errors.New("no choices in response"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestChatParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"message": {"content": "resposta"}, "finish_reason": "stop"}],
			"model": "test-model",
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "test-model"})
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "oi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "resposta", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 15, resp.TotalTokens)
}

func TestChatJSONResponseFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		rf, ok := body["response_format"].(map[string]any)
		require.True(t, ok, "response_format should be forwarded")
		assert.Equal(t, "json_object", rf["type"])
		w.Write([]byte(`{"choices": [{"message": {"content": "{}"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL, Model: "m"})
	_, err := p.Chat(context.Background(), ChatRequest{
		Messages:       []Message{{Role: "user", Content: "json"}},
		ResponseFormat: "json_object",
	})
	require.NoError(t, err)
}

func TestEmbedOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		// Out-of-order data entries must be re-sorted by index.
		w.Write([]byte(`{"data": [
			{"embedding": [0.2], "index": 1},
			{"embedding": [0.1], "index": 0}
		]}`))
	}))
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL, Model: "m"})
	embs, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, embs, 2)
	assert.Equal(t, []float32{0.1}, embs[0])
	assert.Equal(t, []float32{0.2}, embs[1])
}

func TestEmbedRejectsShortResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// One embedding for two inputs must not be accepted.
		w.Write([]byte(`{"data": [{"embedding": [0.1, 0.2], "index": 0}]}`))
	}))
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL, Model: "m"})
	embs, err := p.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Nil(t, embs)
	assert.Contains(t, err.Error(), "got 1 embeddings for 2 texts")
}

func TestEmbedRejectsEmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": [
			{"embedding": [0.1], "index": 0},
			{"embedding": [], "index": 1}
		]}`))
	}))
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL, Model: "m"})
	_, err := p.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty vector at index 1")
}

func TestDoPostDoesNotRetryPermanentErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL, Model: "m"})
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, IsTransient(err))
}

func TestRetryableStatusCode(t *testing.T) {
	assert.True(t, retryableStatusCode(429))
	assert.True(t, retryableStatusCode(502))
	assert.True(t, retryableStatusCode(503))
	assert.True(t, retryableStatusCode(504))
	assert.False(t, retryableStatusCode(400))
	assert.False(t, retryableStatusCode(401))
	assert.False(t, retryableStatusCode(500))
}
