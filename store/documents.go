package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// --- User operations ---

// UpsertUser inserts or refreshes a user keyed by open_id. Returns the
// user ID.
func (s *Store) UpsertUser(ctx context.Context, u User) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (open_id, name, email, role, last_signed_in)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (open_id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			last_signed_in = now()
		RETURNING id
	`, u.OpenID, u.Name, u.Email, u.Role).Scan(&id)
	return id, err
}

// GetUserByOpenID retrieves a user by their external identity.
func (s *Store) GetUserByOpenID(ctx context.Context, openID string) (*User, error) {
	u := &User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, open_id, name, email, role, created_at, last_signed_in
		FROM users WHERE open_id = $1
	`, openID).Scan(&u.ID, &u.OpenID, &u.Name, &u.Email, &u.Role, &u.CreatedAt, &u.LastSignedIn)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	u := &User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, open_id, name, email, role, created_at, last_signed_in
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.OpenID, &u.Name, &u.Email, &u.Role, &u.CreatedAt, &u.LastSignedIn)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// --- Document operations ---

// InsertDocument creates an uploaded document row and returns its ID.
func (s *Store) InsertDocument(ctx context.Context, d Document) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO documents (user_id, filename, mime_type, size, status, storage_key)
		VALUES ($1, $2, $3, $4, 'uploaded', $5)
		RETURNING id
	`, d.UserID, d.Filename, d.MimeType, d.Size, d.StorageKey).Scan(&id)
	return id, err
}

const documentColumns = `id, user_id, filename, mime_type, size, status, error_message,
	text_content, chunk_count, collection_name, storage_key, created_at, updated_at`

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	d := &Document{}
	err := s.pool.QueryRow(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = $1", id,
	).Scan(&d.ID, &d.UserID, &d.Filename, &d.MimeType, &d.Size, &d.Status,
		&d.ErrorMessage, &d.TextContent, &d.ChunkCount, &d.CollectionName,
		&d.StorageKey, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListDocumentsByUser returns a user's documents, newest first. Text
// content is omitted to keep list payloads small.
func (s *Store) ListDocumentsByUser(ctx context.Context, userID int64) ([]Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, filename, mime_type, size, status, error_message,
			'', chunk_count, collection_name, storage_key, created_at, updated_at
		FROM documents WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.UserID, &d.Filename, &d.MimeType, &d.Size, &d.Status,
			&d.ErrorMessage, &d.TextContent, &d.ChunkCount, &d.CollectionName,
			&d.StorageKey, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus advances the document state machine.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id int64, status string) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE documents SET status = $1, updated_at = now() WHERE id = $2",
		status, id)
	return err
}

// MarkDocumentError moves a document to the terminal error state.
func (s *Store) MarkDocumentError(ctx context.Context, id int64, message string) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE documents SET status = 'error', error_message = $1, updated_at = now() WHERE id = $2",
		message, id)
	return err
}

// SetDocumentText persists the (already truncated) extracted text.
func (s *Store) SetDocumentText(ctx context.Context, id int64, text string) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE documents SET text_content = $1, updated_at = now() WHERE id = $2",
		text, id)
	return err
}

// SetDocumentChunked records the chunk count after chunking.
func (s *Store) SetDocumentChunked(ctx context.Context, id int64, chunkCount int) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE documents SET status = 'chunked', chunk_count = $1, updated_at = now() WHERE id = $2",
		chunkCount, id)
	return err
}

// SetDocumentEmbedded marks embedding completion with the vector
// collection the chunks were written to.
func (s *Store) SetDocumentEmbedded(ctx context.Context, id int64, collectionName string) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE documents SET status = 'embedded', collection_name = $1, updated_at = now() WHERE id = $2",
		collectionName, id)
	return err
}
