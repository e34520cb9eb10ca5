// Package store owns all relational persistence for the service. Every
// mutable entity lives in Postgres; in-memory graph structures elsewhere
// are derived from these rows and discarded after use.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// User represents a row in the users table.
type User struct {
	ID           int64      `json:"id"`
	OpenID       string     `json:"open_id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Role         string     `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	LastSignedIn *time.Time `json:"last_signed_in,omitempty"`
}

// Dataset represents a row in the datasets table.
type Dataset struct {
	ID             int64      `json:"id"`
	Slug           string     `json:"slug"`
	Title          string     `json:"title"`
	Category       string     `json:"category"`
	TotalResources int        `json:"total_resources"`
	JSONResources  int        `json:"json_resources"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Resource represents a row in the resources table. ResourceID is the
// external CKAN identifier and is unique across datasets.
type Resource struct {
	ID           int64      `json:"id"`
	ResourceID   string     `json:"resource_id"`
	DatasetID    int64      `json:"dataset_id"`
	Name         string     `json:"name"`
	URL          string     `json:"url"`
	Format       string     `json:"format"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StorageKey   string     `json:"storage_key,omitempty"`
	ChunkCount   int        `json:"chunk_count"`
	EntityCount  int        `json:"entity_count"`
	EmbeddedAt   *time.Time `json:"embedded_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Document represents a row in the documents table.
type Document struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	Filename       string    `json:"filename"`
	MimeType       string    `json:"mime_type"`
	Size           int64     `json:"size"`
	Status         string    `json:"status"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	TextContent    string    `json:"text_content,omitempty"`
	ChunkCount     int       `json:"chunk_count"`
	CollectionName string    `json:"collection_name,omitempty"`
	StorageKey     string    `json:"storage_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// GraphNode represents a row in the graph_nodes table. EntityID is the
// stable "<type>:<slug>" identifier; upserting an existing node increments
// its mention count.
type GraphNode struct {
	EntityID       string `json:"entity_id"`
	Name           string `json:"name"`
	EntityType     string `json:"entity_type"`
	Description    string `json:"description"`
	MentionCount   int    `json:"mention_count"`
	CommunityID    *int   `json:"community_id,omitempty"`
	CommunityLevel *int   `json:"community_level,omitempty"`
}

// GraphEdge represents a row in the graph_edges table. Edges are
// append-only; weight is clamped to [0,1] before insertion.
type GraphEdge struct {
	ID               int64   `json:"id"`
	SourceID         string  `json:"source_id"`
	TargetID         string  `json:"target_id"`
	RelationshipType string  `json:"relationship_type"`
	Description      string  `json:"description"`
	Weight           float64 `json:"weight"`
}

// Community represents a row in the communities table. The whole table is
// rewritten on every community build.
type Community struct {
	ID          int64    `json:"id"`
	CommunityID int      `json:"community_id"`
	Level       int      `json:"level"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	FullReport  string   `json:"full_report"`
	KeyEntities []string `json:"key_entities"`
	EntityCount int      `json:"entity_count"`
	EdgeCount   int      `json:"edge_count"`
	Rank        float64  `json:"rank"`
}

// AuditLog represents a row in the extraction_logs table: one entry per
// top-level action with started/completed/failed status and counters.
type AuditLog struct {
	ID           int64     `json:"id"`
	Action       string    `json:"action"`
	Status       string    `json:"status"`
	ResourceID   *int64    `json:"resource_id,omitempty"`
	DocumentID   *int64    `json:"document_id,omitempty"`
	EntityCount  int       `json:"entity_count"`
	EdgeCount    int       `json:"edge_count"`
	ChunkCount   int       `json:"chunk_count"`
	DurationMs   int64     `json:"duration_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RagQuery represents a row in the rag_queries table. The row is created
// when a query starts and updated when it completes.
type RagQuery struct {
	ID              int64     `json:"id"`
	UserID          *int64    `json:"user_id,omitempty"`
	Query           string    `json:"query"`
	QueryType       string    `json:"query_type"`
	Response        string    `json:"response"`
	Entities        []string  `json:"entities"`
	CommunityTitles []string  `json:"community_titles"`
	VectorCount     int       `json:"vector_count"`
	ReasoningChain  []string  `json:"reasoning_chain"`
	DurationMs      int64     `json:"duration_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// Store wraps the Postgres connection pool for all service persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to Postgres at the given URL and initialises the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool returns the underlying pool for advanced queries.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
