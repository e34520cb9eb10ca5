package store

import "context"

// --- RAG query records ---

// InsertRagQuery creates the query record at the start of retrieval and
// returns its ID so the record can be completed later.
func (s *Store) InsertRagQuery(ctx context.Context, userID *int64, query string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		"INSERT INTO rag_queries (user_id, query) VALUES ($1, $2) RETURNING id",
		userID, query).Scan(&id)
	return id, err
}

// RagQueryUpdate holds the completion fields written after retrieval.
type RagQueryUpdate struct {
	QueryType       string
	Response        string
	Entities        []string
	CommunityTitles []string
	VectorCount     int
	ReasoningChain  []string
	DurationMs      int64
}

// CompleteRagQuery fills in the result fields of an existing record.
func (s *Store) CompleteRagQuery(ctx context.Context, id int64, upd RagQueryUpdate) error {
	if upd.Entities == nil {
		upd.Entities = []string{}
	}
	if upd.CommunityTitles == nil {
		upd.CommunityTitles = []string{}
	}
	if upd.ReasoningChain == nil {
		upd.ReasoningChain = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE rag_queries SET
			query_type = $1,
			response = $2,
			entities = $3,
			community_titles = $4,
			vector_count = $5,
			reasoning_chain = $6,
			duration_ms = $7
		WHERE id = $8
	`, upd.QueryType, upd.Response, upd.Entities, upd.CommunityTitles,
		upd.VectorCount, upd.ReasoningChain, upd.DurationMs, id)
	return err
}

// ListRagQueries returns a user's recent queries, newest first.
func (s *Store) ListRagQueries(ctx context.Context, userID *int64, limit int) ([]RagQuery, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, user_id, query, query_type, response, entities,
			community_titles, vector_count, reasoning_chain, duration_ms, created_at
		FROM rag_queries`
	var args []interface{}
	if userID != nil {
		query += " WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2"
		args = []interface{}{*userID, limit}
	} else {
		query += " ORDER BY created_at DESC LIMIT $1"
		args = []interface{}{limit}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var queries []RagQuery
	for rows.Next() {
		var q RagQuery
		if err := rows.Scan(&q.ID, &q.UserID, &q.Query, &q.QueryType, &q.Response,
			&q.Entities, &q.CommunityTitles, &q.VectorCount, &q.ReasoningChain,
			&q.DurationMs, &q.CreatedAt); err != nil {
			return nil, err
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// --- Audit log ---

// InsertAuditLog appends one audit entry. The trail is append-only.
func (s *Store) InsertAuditLog(ctx context.Context, a AuditLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO extraction_logs (action, status, resource_id, document_id,
			entity_count, edge_count, chunk_count, duration_ms, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.Action, a.Status, a.ResourceID, a.DocumentID,
		a.EntityCount, a.EdgeCount, a.ChunkCount, a.DurationMs, a.ErrorMessage)
	return err
}

// ListAuditLogs returns recent audit entries, newest first.
func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, action, status, resource_id, document_id,
			entity_count, edge_count, chunk_count, duration_ms, error_message, created_at
		FROM extraction_logs ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var a AuditLog
		if err := rows.Scan(&a.ID, &a.Action, &a.Status, &a.ResourceID, &a.DocumentID,
			&a.EntityCount, &a.EdgeCount, &a.ChunkCount, &a.DurationMs,
			&a.ErrorMessage, &a.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, a)
	}
	return logs, rows.Err()
}
