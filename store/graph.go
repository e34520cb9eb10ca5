package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// --- Graph node operations ---

const nodeColumns = `entity_id, name, entity_type, description, mention_count, community_id, community_level`

func scanNodes(rows pgx.Rows) ([]GraphNode, error) {
	defer rows.Close()
	var nodes []GraphNode
	for rows.Next() {
		var n GraphNode
		if err := rows.Scan(&n.EntityID, &n.Name, &n.EntityType, &n.Description,
			&n.MentionCount, &n.CommunityID, &n.CommunityLevel); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// UpsertNodes bulk-upserts graph nodes in one batch. An existing node has
// its mention count incremented; the longer of the two descriptions wins.
func (s *Store) UpsertNodes(ctx context.Context, nodes []GraphNode) error {
	if len(nodes) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, n := range nodes {
		batch.Queue(`
			INSERT INTO graph_nodes (entity_id, name, entity_type, description)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (entity_id) DO UPDATE SET
				mention_count = graph_nodes.mention_count + 1,
				description = CASE
					WHEN length(EXCLUDED.description) > length(graph_nodes.description)
					THEN EXCLUDED.description
					ELSE graph_nodes.description
				END
		`, n.EntityID, n.Name, n.EntityType, n.Description)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range nodes {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upserting node: %w", err)
		}
	}
	return nil
}

// InsertEdges bulk-inserts relationships. Nodes must already exist;
// callers upsert nodes first.
func (s *Store) InsertEdges(ctx context.Context, edges []GraphEdge) error {
	if len(edges) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range edges {
		batch.Queue(`
			INSERT INTO graph_edges (source_id, target_id, relationship_type, description, weight)
			VALUES ($1, $2, $3, $4, $5)
		`, e.SourceID, e.TargetID, e.RelationshipType, e.Description, e.Weight)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range edges {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("inserting edge: %w", err)
		}
	}
	return nil
}

// AllGraphNodes returns every node in the graph.
func (s *Store) AllGraphNodes(ctx context.Context) ([]GraphNode, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+nodeColumns+" FROM graph_nodes")
	if err != nil {
		return nil, err
	}
	return scanNodes(rows)
}

// AllGraphEdges returns every edge in the graph.
func (s *Store) AllGraphEdges(ctx context.Context) ([]GraphEdge, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_id, target_id, relationship_type, description, weight
		FROM graph_edges
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []GraphEdge
	for rows.Next() {
		var e GraphEdge
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.RelationshipType,
			&e.Description, &e.Weight); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// SearchNodes finds nodes whose name or entity id contains the term,
// ordered by mention count. An optional entity type narrows the match.
func (s *Store) SearchNodes(ctx context.Context, term, entityType string, limit int) ([]GraphNode, error) {
	if limit <= 0 {
		limit = 100
	}

	query := "SELECT " + nodeColumns + ` FROM graph_nodes
		WHERE (name ILIKE '%' || $1 || '%' OR entity_id ILIKE '%' || $1 || '%')`
	args := []interface{}{term}
	if entityType != "" {
		query += " AND entity_type = $2"
		args = append(args, entityType)
	}
	query += fmt.Sprintf(" ORDER BY mention_count DESC LIMIT %d", limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanNodes(rows)
}

// GetNodes returns the nodes with the given entity ids.
func (s *Store) GetNodes(ctx context.Context, entityIDs []string) ([]GraphNode, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		"SELECT "+nodeColumns+" FROM graph_nodes WHERE entity_id = ANY($1)", entityIDs)
	if err != nil {
		return nil, err
	}
	return scanNodes(rows)
}

// TopNodesByMentions returns the most-mentioned nodes for visualization.
func (s *Store) TopNodesByMentions(ctx context.Context, limit int) ([]GraphNode, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx,
		"SELECT "+nodeColumns+" FROM graph_nodes ORDER BY mention_count DESC LIMIT $1", limit)
	if err != nil {
		return nil, err
	}
	return scanNodes(rows)
}

// NodeEdges returns edges incident to an entity, heaviest first.
func (s *Store) NodeEdges(ctx context.Context, entityID string, limit int) ([]GraphEdge, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_id, target_id, relationship_type, description, weight
		FROM graph_edges
		WHERE source_id = $1 OR target_id = $1
		ORDER BY weight DESC
		LIMIT $2
	`, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []GraphEdge
	for rows.Next() {
		var e GraphEdge
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.RelationshipType,
			&e.Description, &e.Weight); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// TypeCount is one row of a grouped count.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// NodeStats returns node counts grouped by entity type.
func (s *Store) NodeStats(ctx context.Context) ([]TypeCount, error) {
	return s.typeCounts(ctx,
		"SELECT entity_type, COUNT(*) FROM graph_nodes GROUP BY entity_type ORDER BY COUNT(*) DESC")
}

// EdgeStats returns edge counts grouped by relationship type.
func (s *Store) EdgeStats(ctx context.Context) ([]TypeCount, error) {
	return s.typeCounts(ctx,
		"SELECT relationship_type, COUNT(*) FROM graph_edges GROUP BY relationship_type ORDER BY COUNT(*) DESC")
}

func (s *Store) typeCounts(ctx context.Context, query string) ([]TypeCount, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []TypeCount
	for rows.Next() {
		var c TypeCount
		if err := rows.Scan(&c.Type, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// --- Community operations ---

// ResetCommunities clears all community rows and nullifies every node's
// community assignment in a single transaction, so readers never observe
// stale assignments pointing at deleted communities.
func (s *Store) ResetCommunities(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM communities"); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		"UPDATE graph_nodes SET community_id = NULL, community_level = NULL"); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpdateNodeCommunities writes a detection result back onto the nodes.
func (s *Store) UpdateNodeCommunities(ctx context.Context, assignment map[string]int, level int) error {
	if len(assignment) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for entityID, communityID := range assignment {
		batch.Queue(
			"UPDATE graph_nodes SET community_id = $1, community_level = $2 WHERE entity_id = $3",
			communityID, level, entityID)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range assignment {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("updating node community: %w", err)
		}
	}
	return nil
}

// InsertCommunity stores one community row from a build.
func (s *Store) InsertCommunity(ctx context.Context, c Community) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO communities (community_id, level, title, summary, full_report,
			key_entities, entity_count, edge_count, rank)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.CommunityID, c.Level, c.Title, c.Summary, c.FullReport,
		c.KeyEntities, c.EntityCount, c.EdgeCount, c.Rank)
	return err
}

// Communities returns communities, optionally filtered by level, ordered
// by rank descending.
func (s *Store) Communities(ctx context.Context, level *int) ([]Community, error) {
	query := `
		SELECT id, community_id, level, title, summary, full_report,
			key_entities, entity_count, edge_count, rank
		FROM communities`
	var args []interface{}
	if level != nil {
		query += " WHERE level = $1"
		args = append(args, *level)
	}
	query += " ORDER BY rank DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var communities []Community
	for rows.Next() {
		var c Community
		if err := rows.Scan(&c.ID, &c.CommunityID, &c.Level, &c.Title, &c.Summary,
			&c.FullReport, &c.KeyEntities, &c.EntityCount, &c.EdgeCount, &c.Rank); err != nil {
			return nil, err
		}
		communities = append(communities, c)
	}
	return communities, rows.Err()
}
