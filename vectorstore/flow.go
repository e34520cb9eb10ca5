package vectorstore

import (
	"context"
	"fmt"

	"github.com/stjgraph/stjrag/chunker"
)

const upsertBatchSize = 50

// Indexer combines the embedder and the vector client into the one
// operation pipelines need: embed chunks and store them.
type Indexer struct {
	Client   *Client
	Embedder *Embedder
}

// StoreChunks embeds chunks and writes them into a collection, creating
// the collection if needed. Duplicate chunk texts are embedded once.
// onProgress (optional) is called after each upserted batch.
func (ix *Indexer) StoreChunks(ctx context.Context, collection string, chunks []chunker.Chunk, onProgress func(done, total int)) (int, error) {
	client, embedder := ix.Client, ix.Embedder

	if len(chunks) == 0 {
		return 0, nil
	}

	if err := client.EnsureCollection(ctx, collection); err != nil {
		return 0, err
	}

	// Dedupe identical texts so repeated boilerplate is embedded once.
	seen := make(map[string]bool, len(chunks))
	unique := make([]chunker.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if seen[c.Text] {
			continue
		}
		seen[c.Text] = true
		unique = append(unique, c)
	}

	texts := make([]string, len(unique))
	for i, c := range unique {
		texts[i] = c.Text
	}

	vectors, err := embedder.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}

	if len(vectors) != len(unique) {
		return 0, fmt.Errorf("embedding %s: got %d vectors for %d chunks", collection, len(vectors), len(unique))
	}

	points := make([]Point, len(unique))
	for i, c := range unique {
		points[i] = Point{
			Vector:  vectors[i],
			Text:    c.Text,
			Index:   c.Index,
			Payload: c.Metadata,
		}
	}

	stored := 0
	for start := 0; start < len(points); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(points) {
			end = len(points)
		}
		if err := client.Upsert(ctx, collection, points[start:end]); err != nil {
			return stored, err
		}
		stored = end
		if onProgress != nil {
			onProgress(stored, len(points))
		}
	}
	return stored, nil
}
