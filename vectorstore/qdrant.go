// Package vectorstore adapts the remote Qdrant vector database: collection
// management, chunk upserts, and similarity search across collections.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// SearchResult is one scored chunk from a similarity search.
type SearchResult struct {
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
	Index  int     `json:"index"`
}

// Point is one embedded chunk ready for upsert.
type Point struct {
	Vector  []float32
	Text    string
	Index   int
	Payload map[string]string
}

// Client wraps the Qdrant gRPC client.
type Client struct {
	client *qdrant.Client
	dim    int
	log    *slog.Logger
}

// NewClient connects to Qdrant at the given URL (scheme decides TLS,
// default port 6334) with the configured embedding dimension.
func NewClient(qdrantURL, apiKey string, dim int, log *slog.Logger) (*Client, error) {
	u, err := url.Parse(qdrantURL)
	if err != nil {
		return nil, fmt.Errorf("parsing qdrant url: %w", err)
	}

	port := 6334
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("parsing qdrant port: %w", err)
		}
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: apiKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	return &Client{client: client, dim: dim, log: log.With("component", "vectorstore")}, nil
}

// EnsureCollection creates a cosine-distance collection if it does not
// already exist. Safe to call concurrently: a lost create race falls back
// to the existence check.
func (c *Client) EnsureCollection(ctx context.Context, name string) error {
	exists, err := c.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if exists {
		return nil
	}

	err = c.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(c.dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		exists, checkErr := c.client.CollectionExists(ctx, name)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("creating collection %s: %w", name, err)
	}

	c.log.Info("created collection", "collection", name, "dim", c.dim)
	return nil
}

// ListCollections returns the names of all collections.
func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	names, err := c.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Upsert writes points into a collection. Point ids are fresh UUIDs, so
// the write is append-style; dedupe happens upstream at the chunk level.
func (c *Client) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qp := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload := map[string]any{
			"text":       p.Text,
			"chunkIndex": p.Index,
		}
		for k, v := range p.Payload {
			payload[k] = v
		}
		qp = append(qp, &qdrant.PointStruct{
			Id:      qdrant.NewID(uuid.NewString()),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qp,
	})
	if err != nil {
		return fmt.Errorf("upserting %d points into %s: %w", len(points), collection, err)
	}
	return nil
}

// Search runs a similarity query against one collection. Qdrant returns a
// cosine similarity score; higher is better.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	points, err := c.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}

	results := make([]SearchResult, 0, len(points))
	for _, p := range points {
		payload := p.GetPayload()
		r := SearchResult{
			Score:  float64(p.GetScore()),
			Source: collection,
		}
		if v, ok := payload["text"]; ok {
			r.Text = v.GetStringValue()
		}
		if v, ok := payload["chunkIndex"]; ok {
			r.Index = int(v.GetIntegerValue())
		}
		results = append(results, r)
	}
	return results, nil
}

// SearchAll runs the query across every collection and merges the results
// by descending score. Collections that fail to answer are skipped with a
// warning so one bad collection cannot sink the whole search.
func (c *Client) SearchAll(ctx context.Context, vector []float32, limit int) ([]SearchResult, error) {
	collections, err := c.ListCollections(ctx)
	if err != nil {
		return nil, err
	}

	var merged []SearchResult
	for _, name := range collections {
		results, err := c.Search(ctx, name, vector, limit)
		if err != nil {
			c.log.Warn("collection search failed", "collection", name, "error", err)
			continue
		}
		merged = append(merged, results...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// Healthy reports whether the Qdrant endpoint is reachable.
func (c *Client) Healthy(ctx context.Context) bool {
	_, err := c.client.ListCollections(ctx)
	return err == nil
}
