package vectorstore

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stjgraph/stjrag/llm"
)

// fakeProvider scripts Embed responses per call.
type fakeProvider struct {
	calls   int
	respond func(call int, texts []string) ([][]float32, error)
}

func (f *fakeProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	return f.respond(f.calls, texts)
}

func constVectors(texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i]))}
	}
	return out
}

func testConfig() EmbedderConfig {
	return EmbedderConfig{BatchSize: 2, MaxRetries: 2, RetryBaseMs: 1, Concurrency: 2}
}

func TestEmbedBatchesInOrder(t *testing.T) {
	p := &fakeProvider{respond: func(call int, texts []string) ([][]float32, error) {
		return constVectors(texts), nil
	}}
	e := NewEmbedder(p, testConfig(), slog.Default())

	out, err := e.Embed(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)
	require.Len(t, out, 5)
	// Batch size 2 over 5 texts means 3 batch calls.
	assert.Equal(t, 3, p.calls)
	for i, want := range []float32{1, 2, 3, 4, 5} {
		assert.Equal(t, []float32{want}, out[i])
	}
}

func TestEmbedRetriesTransientFailure(t *testing.T) {
	p := &fakeProvider{respond: func(call int, texts []string) ([][]float32, error) {
		if call == 1 {
			return nil, errors.New("LLM API error 503: busy")
		}
		return constVectors(texts), nil
	}}
	e := NewEmbedder(p, testConfig(), slog.Default())

	out, err := e.Embed(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls)
	assert.Equal(t, []float32{1}, out[0])
}

func TestEmbedFallsBackPerItem(t *testing.T) {
	p := &fakeProvider{respond: func(call int, texts []string) ([][]float32, error) {
		// Batch requests (2 texts) always fail; per-item succeeds.
		if len(texts) > 1 {
			return nil, errors.New("LLM API error 502: upstream")
		}
		return constVectors(texts), nil
	}}
	e := NewEmbedder(p, testConfig(), slog.Default())

	out, err := e.Embed(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, out[0])
	assert.Equal(t, []float32{2}, out[1])
}

func TestEmbedPermanentErrorSkipsRetries(t *testing.T) {
	p := &fakeProvider{respond: func(call int, texts []string) ([][]float32, error) {
		if len(texts) > 1 {
			return nil, errors.New("decoding embedding response: bad json")
		}
		return constVectors(texts), nil
	}}
	e := NewEmbedder(p, testConfig(), slog.Default())

	out, err := e.Embed(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	// One failed batch attempt (no retry on permanent), then two per-item calls.
	assert.Equal(t, 3, p.calls)
	assert.NotNil(t, out[0])
	assert.NotNil(t, out[1])
}

func TestEmbedFailedItemFailsBatch(t *testing.T) {
	p := &fakeProvider{respond: func(call int, texts []string) ([][]float32, error) {
		if len(texts) > 1 {
			return nil, errors.New("LLM API error 502: upstream")
		}
		if texts[0] == "poison" {
			return nil, errors.New("decoding embedding response: bad json")
		}
		return constVectors(texts), nil
	}}
	e := NewEmbedder(p, EmbedderConfig{BatchSize: 2, MaxRetries: 1, RetryBaseMs: 1, Concurrency: 1}, slog.Default())

	out, err := e.Embed(context.Background(), []string{"ok", "poison"})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Contains(t, err.Error(), "bad json")
}

func TestEmbedEmptyInput(t *testing.T) {
	p := &fakeProvider{respond: func(call int, texts []string) ([][]float32, error) {
		t.Fatal("provider should not be called")
		return nil, nil
	}}
	e := NewEmbedder(p, testConfig(), slog.Default())

	out, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}
