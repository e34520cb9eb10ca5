package store

import "errors"

// ErrNotFound reports a lookup for a row that does not exist.
var ErrNotFound = errors.New("store: not found")

// Resource pipeline states, in processing order. "error" is a terminal
// sink reachable from any state.
const (
	ResourceStatusPending      = "pending"
	ResourceStatusQueued       = "queued"
	ResourceStatusDownloading  = "downloading"
	ResourceStatusDownloaded   = "downloaded"
	ResourceStatusProcessing   = "processing"
	ResourceStatusExtracting   = "extracting_entities"
	ResourceStatusEntitiesDone = "entities_extracted"
	ResourceStatusEmbedding    = "embedding"
	ResourceStatusEmbedded     = "embedded"
	ResourceStatusError        = "error"
)

// Document pipeline states, in processing order.
const (
	DocumentStatusUploaded   = "uploaded"
	DocumentStatusExtracting = "extracting"
	DocumentStatusExtracted  = "extracted"
	DocumentStatusChunking   = "chunking"
	DocumentStatusChunked    = "chunked"
	DocumentStatusEmbedding  = "embedding"
	DocumentStatusEmbedded   = "embedded"
	DocumentStatusError      = "error"
)

// ResourceStatusOrder maps each non-error resource status to its stage
// index, for monotonicity checks and progress display.
var ResourceStatusOrder = map[string]int{
	ResourceStatusPending:      0,
	ResourceStatusQueued:       1,
	ResourceStatusDownloading:  2,
	ResourceStatusDownloaded:   3,
	ResourceStatusProcessing:   4,
	ResourceStatusExtracting:   5,
	ResourceStatusEntitiesDone: 6,
	ResourceStatusEmbedding:    7,
	ResourceStatusEmbedded:     8,
}

// DocumentStatusOrder maps each non-error document status to its stage
// index.
var DocumentStatusOrder = map[string]int{
	DocumentStatusUploaded:   0,
	DocumentStatusExtracting: 1,
	DocumentStatusExtracted:  2,
	DocumentStatusChunking:   3,
	DocumentStatusChunked:    4,
	DocumentStatusEmbedding:  5,
	DocumentStatusEmbedded:   6,
}
