package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/stjgraph/stjrag/llm"
	"github.com/stjgraph/stjrag/metrics"
)

// EmbedderConfig bounds the retry and fallback behavior.
type EmbedderConfig struct {
	BatchSize   int // texts per batch request
	MaxRetries  int // retries per batch before per-item fallback
	RetryBaseMs int // base backoff in milliseconds
	Concurrency int // parallel per-item requests in fallback
}

// DefaultEmbedderConfig mirrors the production defaults.
func DefaultEmbedderConfig() EmbedderConfig {
	return EmbedderConfig{
		BatchSize:   50,
		MaxRetries:  3,
		RetryBaseMs: 300,
		Concurrency: 1,
	}
}

// Embedder generates embeddings in batches, retrying transient failures
// and degrading to bounded per-item requests when a whole batch keeps
// failing.
type Embedder struct {
	provider llm.Provider
	cfg      EmbedderConfig
	log      *slog.Logger
}

// NewEmbedder creates an embedder over the given provider.
func NewEmbedder(provider llm.Provider, cfg EmbedderConfig, log *slog.Logger) *Embedder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseMs <= 0 {
		cfg.RetryBaseMs = 300
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Embedder{
		provider: provider,
		cfg:      cfg,
		log:      log.With("component", "embedder"),
	}
}

// Embed returns one vector per input text, in order. A text that fails
// even in per-item fallback fails the whole call.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vectors, err := e.embedBatch(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Whole batch failed after retries: try items one at a time so
			// a single oversized or poisoned text cannot sink the rest.
			metrics.EmbeddingFallbackUsed.Inc()
			e.log.Warn("batch embedding failed, falling back to per-item",
				"batch_start", start, "batch_size", len(batch), "error", err)
			vectors, err = e.embedPerItem(ctx, batch)
			if err != nil {
				return nil, fmt.Errorf("embedding texts %d..%d: %w", start, end-1, err)
			}
		}
		copy(out[start:end], vectors)
	}
	return out, nil
}

// embedBatch sends one batch with bounded exponential backoff on
// transient errors.
func (e *Embedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	metrics.EmbeddingBatchStarted.Inc()

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(e.backoff(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		start := time.Now()
		vectors, err := e.provider.Embed(ctx, batch)
		metrics.Default.Observe("embedding_batch_request_ms",
			float64(time.Since(start).Milliseconds()))
		if err == nil {
			metrics.EmbeddingBatchSucceeded.Inc()
			return vectors, nil
		}

		lastErr = err
		if !llm.IsTransient(err) {
			break
		}
	}

	metrics.EmbeddingBatchFailedAsync.Inc()
	return nil, fmt.Errorf("embedding batch of %d: %w", len(batch), lastErr)
}

// embedPerItem tries each text individually, bounded by Concurrency. Any
// item that still fails poisons the whole batch.
func (e *Embedder) embedPerItem(ctx context.Context, batch []string) ([][]float32, error) {
	out := make([][]float32, len(batch))
	errs := make([]error, len(batch))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.cfg.Concurrency)
	for i, text := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, text string) {
			defer wg.Done()
			defer func() { <-sem }()

			vectors, err := e.provider.Embed(ctx, []string{text})
			if err != nil || len(vectors) == 0 {
				metrics.EmbeddingBatchFailedPerItem.Inc()
				e.log.Warn("per-item embedding failed", "index", i, "error", err)
				if err == nil {
					err = fmt.Errorf("empty embedding response")
				}
				errs[i] = err
				return
			}
			out[i] = vectors[0]
		}(i, text)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}
	return out, nil
}

// backoff computes base*2^(attempt-1) plus up to 100ms of jitter.
func (e *Embedder) backoff(attempt int) time.Duration {
	base := time.Duration(e.cfg.RetryBaseMs) * time.Millisecond
	delay := base * time.Duration(1<<(attempt-1))
	jitter := time.Duration(rand.Intn(100)) * time.Millisecond
	return delay + jitter
}
