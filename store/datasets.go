package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// --- Dataset operations ---

// UpsertDataset inserts or refreshes a dataset keyed by slug. Returns the
// dataset ID.
func (s *Store) UpsertDataset(ctx context.Context, d Dataset) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO datasets (slug, title, category, total_resources, json_resources, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (slug) DO UPDATE SET
			title = EXCLUDED.title,
			category = EXCLUDED.category,
			total_resources = EXCLUDED.total_resources,
			json_resources = EXCLUDED.json_resources,
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at = now()
		RETURNING id
	`, d.Slug, d.Title, d.Category, d.TotalResources, d.JSONResources, d.LastSyncedAt).Scan(&id)
	return id, err
}

// GetDatasetBySlug retrieves a dataset by its slug. Returns pgx.ErrNoRows
// wrapped as nil-dataset when absent.
func (s *Store) GetDatasetBySlug(ctx context.Context, slug string) (*Dataset, error) {
	d := &Dataset{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, slug, title, category, total_resources, json_resources, last_synced_at, created_at, updated_at
		FROM datasets WHERE slug = $1
	`, slug).Scan(&d.ID, &d.Slug, &d.Title, &d.Category, &d.TotalResources,
		&d.JSONResources, &d.LastSyncedAt, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// GetDataset retrieves a dataset by ID.
func (s *Store) GetDataset(ctx context.Context, id int64) (*Dataset, error) {
	d := &Dataset{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, slug, title, category, total_resources, json_resources, last_synced_at, created_at, updated_at
		FROM datasets WHERE id = $1
	`, id).Scan(&d.ID, &d.Slug, &d.Title, &d.Category, &d.TotalResources,
		&d.JSONResources, &d.LastSyncedAt, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListDatasets returns all datasets ordered by title.
func (s *Store) ListDatasets(ctx context.Context) ([]Dataset, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, slug, title, category, total_resources, json_resources, last_synced_at, created_at, updated_at
		FROM datasets ORDER BY title
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var datasets []Dataset
	for rows.Next() {
		var d Dataset
		if err := rows.Scan(&d.ID, &d.Slug, &d.Title, &d.Category, &d.TotalResources,
			&d.JSONResources, &d.LastSyncedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		datasets = append(datasets, d)
	}
	return datasets, rows.Err()
}

// --- Resource operations ---

// UpsertResource inserts or refreshes a resource keyed by its external
// CKAN id. Status and pipeline counters are not touched on conflict so a
// re-sync never rewinds a resource mid-pipeline.
func (s *Store) UpsertResource(ctx context.Context, r Resource) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO resources (resource_id, dataset_id, name, url, format)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (resource_id) DO UPDATE SET
			name = EXCLUDED.name,
			url = EXCLUDED.url,
			format = EXCLUDED.format,
			updated_at = now()
		RETURNING id
	`, r.ResourceID, r.DatasetID, r.Name, r.URL, r.Format).Scan(&id)
	return id, err
}

const resourceColumns = `id, resource_id, dataset_id, name, url, format, status,
	error_message, storage_key, chunk_count, entity_count, embedded_at, created_at, updated_at`

func scanResource(row pgx.Row) (*Resource, error) {
	r := &Resource{}
	err := row.Scan(&r.ID, &r.ResourceID, &r.DatasetID, &r.Name, &r.URL, &r.Format,
		&r.Status, &r.ErrorMessage, &r.StorageKey, &r.ChunkCount, &r.EntityCount,
		&r.EmbeddedAt, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// GetResource retrieves a resource by internal ID.
func (s *Store) GetResource(ctx context.Context, id int64) (*Resource, error) {
	return scanResource(s.pool.QueryRow(ctx,
		"SELECT "+resourceColumns+" FROM resources WHERE id = $1", id))
}

// ListResources returns all resources, newest first.
func (s *Store) ListResources(ctx context.Context) ([]Resource, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+resourceColumns+" FROM resources ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var resources []Resource
	for rows.Next() {
		var r Resource
		if err := rows.Scan(&r.ID, &r.ResourceID, &r.DatasetID, &r.Name, &r.URL, &r.Format,
			&r.Status, &r.ErrorMessage, &r.StorageKey, &r.ChunkCount, &r.EntityCount,
			&r.EmbeddedAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		resources = append(resources, r)
	}
	return resources, rows.Err()
}

// UpdateResourceStatus advances the resource state machine.
func (s *Store) UpdateResourceStatus(ctx context.Context, id int64, status string) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE resources SET status = $1, updated_at = now() WHERE id = $2",
		status, id)
	return err
}

// MarkResourceError moves a resource to the terminal error state.
func (s *Store) MarkResourceError(ctx context.Context, id int64, message string) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE resources SET status = 'error', error_message = $1, updated_at = now() WHERE id = $2",
		message, id)
	return err
}

// SetResourceStorageKey records where the downloaded payload was stored.
func (s *Store) SetResourceStorageKey(ctx context.Context, id int64, key string) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE resources SET storage_key = $1, updated_at = now() WHERE id = $2",
		key, id)
	return err
}

// SetResourceCounts records chunk and entity counters after processing.
func (s *Store) SetResourceCounts(ctx context.Context, id int64, chunks, entities int) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE resources SET chunk_count = $1, entity_count = $2, updated_at = now() WHERE id = $3",
		chunks, entities, id)
	return err
}

// SetResourceEmbedded marks embedding completion. embedded_at is set only
// here, with the terminal status.
func (s *Store) SetResourceEmbedded(ctx context.Context, id int64, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE resources SET status = 'embedded', embedded_at = $1, updated_at = now() WHERE id = $2",
		at, id)
	return err
}

// ResourceStatusCount is one row of the per-status resource breakdown.
type ResourceStatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// ResourceStats returns the count of resources grouped by status.
func (s *Store) ResourceStats(ctx context.Context) ([]ResourceStatusCount, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT status, COUNT(*) FROM resources GROUP BY status ORDER BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []ResourceStatusCount
	for rows.Next() {
		var c ResourceStatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, err
		}
		stats = append(stats, c)
	}
	return stats, rows.Err()
}
