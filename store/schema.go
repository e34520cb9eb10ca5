package store

// schemaSQL creates all tables and indexes. Statements are idempotent so
// startup can run them unconditionally.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	open_id TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT 'user',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_signed_in TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS datasets (
	id BIGSERIAL PRIMARY KEY,
	slug TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	total_resources INTEGER NOT NULL DEFAULT 0,
	json_resources INTEGER NOT NULL DEFAULT 0,
	last_synced_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS resources (
	id BIGSERIAL PRIMARY KEY,
	resource_id TEXT NOT NULL UNIQUE,
	dataset_id BIGINT NOT NULL REFERENCES datasets(id),
	name TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	format TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	error_message TEXT NOT NULL DEFAULT '',
	storage_key TEXT NOT NULL DEFAULT '',
	chunk_count INTEGER NOT NULL DEFAULT 0,
	entity_count INTEGER NOT NULL DEFAULT 0,
	embedded_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_resources_status ON resources(status);
CREATE INDEX IF NOT EXISTS idx_resources_dataset ON resources(dataset_id);

CREATE TABLE IF NOT EXISTS documents (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL REFERENCES users(id),
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL DEFAULT '',
	size BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'uploaded',
	error_message TEXT NOT NULL DEFAULT '',
	text_content TEXT NOT NULL DEFAULT '',
	chunk_count INTEGER NOT NULL DEFAULT 0,
	collection_name TEXT NOT NULL DEFAULT '',
	storage_key TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_documents_user ON documents(user_id);

CREATE TABLE IF NOT EXISTS graph_nodes (
	entity_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	mention_count INTEGER NOT NULL DEFAULT 1,
	community_id INTEGER,
	community_level INTEGER
);
CREATE INDEX IF NOT EXISTS idx_graph_nodes_type ON graph_nodes(entity_type);
CREATE INDEX IF NOT EXISTS idx_graph_nodes_community ON graph_nodes(community_id);

CREATE TABLE IF NOT EXISTS graph_edges (
	id BIGSERIAL PRIMARY KEY,
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	relationship_type TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	weight DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_graph_edges_source ON graph_edges(source_id);
CREATE INDEX IF NOT EXISTS idx_graph_edges_target ON graph_edges(target_id);
CREATE INDEX IF NOT EXISTS idx_graph_edges_type ON graph_edges(relationship_type);

CREATE TABLE IF NOT EXISTS communities (
	id BIGSERIAL PRIMARY KEY,
	community_id INTEGER NOT NULL,
	level INTEGER NOT NULL DEFAULT 0,
	title TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	full_report TEXT NOT NULL DEFAULT '',
	key_entities TEXT[] NOT NULL DEFAULT '{}',
	entity_count INTEGER NOT NULL DEFAULT 0,
	edge_count INTEGER NOT NULL DEFAULT 0,
	rank DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (community_id, level)
);

CREATE TABLE IF NOT EXISTS extraction_logs (
	id BIGSERIAL PRIMARY KEY,
	action TEXT NOT NULL,
	status TEXT NOT NULL,
	resource_id BIGINT,
	document_id BIGINT,
	entity_count INTEGER NOT NULL DEFAULT 0,
	edge_count INTEGER NOT NULL DEFAULT 0,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rag_queries (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT,
	query TEXT NOT NULL,
	query_type TEXT NOT NULL DEFAULT '',
	response TEXT NOT NULL DEFAULT '',
	entities TEXT[] NOT NULL DEFAULT '{}',
	community_titles TEXT[] NOT NULL DEFAULT '{}',
	vector_count INTEGER NOT NULL DEFAULT 0,
	reasoning_chain TEXT[] NOT NULL DEFAULT '{}',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
