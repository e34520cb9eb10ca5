package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stjgraph/stjrag/chunker"
	"github.com/stjgraph/stjrag/extract"
	"github.com/stjgraph/stjrag/store"
)

// DocumentStore is the store slice the document processor needs.
type DocumentStore interface {
	GetDocument(ctx context.Context, id int64) (*store.Document, error)
	UpdateDocumentStatus(ctx context.Context, id int64, status string) error
	MarkDocumentError(ctx context.Context, id int64, message string) error
	SetDocumentText(ctx context.Context, id int64, text string) error
	SetDocumentChunked(ctx context.Context, id int64, chunkCount int) error
	SetDocumentEmbedded(ctx context.Context, id int64, collectionName string) error
	InsertAuditLog(ctx context.Context, a store.AuditLog) error
}

// DocumentProcessor drives an uploaded document from uploaded to
// embedded: fetch, extract text, chunk, embed.
type DocumentProcessor struct {
	store   DocumentStore
	objects ObjectStore
	formats *extract.Registry
	indexer ChunkIndexer
	log     *slog.Logger
}

func NewDocumentProcessor(s DocumentStore, obj ObjectStore, formats *extract.Registry, ix ChunkIndexer, log *slog.Logger) *DocumentProcessor {
	if log == nil {
		log = slog.Default()
	}
	return &DocumentProcessor{
		store:   s,
		objects: obj,
		formats: formats,
		indexer: ix,
		log:     log.With("component", "document-processor"),
	}
}

// Process runs the full document pipeline. On failure the document is
// marked error and the error is returned so the job runner can retry.
func (p *DocumentProcessor) Process(ctx context.Context, documentID int64, onProgress func(pct int)) error {
	if onProgress == nil {
		onProgress = func(int) {}
	}

	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("document %d: %w", documentID, store.ErrNotFound)
	}

	audit := startAudit(ctx, p.store, "process_document", store.AuditLog{DocumentID: &documentID})
	chunkCount, err := p.process(ctx, doc, onProgress)
	if err != nil {
		audit.failed(ctx, err)
		if markErr := p.store.MarkDocumentError(ctx, documentID, err.Error()); markErr != nil {
			p.log.Error("failed to mark document error", "documentId", documentID, "error", markErr)
		}
		return err
	}
	audit.completed(ctx, 0, 0, chunkCount)
	return nil
}

func (p *DocumentProcessor) process(ctx context.Context, doc *store.Document, onProgress func(pct int)) (int, error) {
	log := p.log.With("documentId", doc.ID, "filename", doc.Filename)

	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, store.DocumentStatusExtracting); err != nil {
		return 0, err
	}
	onProgress(10)

	data, err := p.objects.Get(ctx, doc.StorageKey)
	if err != nil {
		return 0, fmt.Errorf("fetch upload: %w", err)
	}

	text, err := p.formats.Extract(ctx, data, doc.MimeType, doc.Filename)
	if err != nil {
		return 0, fmt.Errorf("extract text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("document contains no extractable text")
	}
	if err := p.store.SetDocumentText(ctx, doc.ID, truncateText(text, textContentLimit)); err != nil {
		return 0, err
	}
	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, store.DocumentStatusExtracted); err != nil {
		return 0, err
	}
	log.Info("document text extracted", "chars", len(text))
	onProgress(30)

	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, store.DocumentStatusChunking); err != nil {
		return 0, err
	}
	chunks := chunker.ChunkText(text, map[string]string{"source": doc.Filename}, chunker.DefaultChunkSize, chunker.DefaultOverlap)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document produced no chunks")
	}
	if err := p.store.SetDocumentChunked(ctx, doc.ID, len(chunks)); err != nil {
		return 0, err
	}
	log.Info("document chunked", "chunks", len(chunks))
	onProgress(50)

	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, store.DocumentStatusEmbedding); err != nil {
		return 0, err
	}
	onProgress(80)

	collection := DocumentCollectionName(doc.ID, doc.Filename)
	embedAudit := startAudit(ctx, p.store, "generate_embeddings", store.AuditLog{DocumentID: &doc.ID})
	stored, err := p.indexer.StoreChunks(ctx, collection, chunks, nil)
	if err != nil {
		embedAudit.failed(ctx, err)
		return 0, fmt.Errorf("embed chunks: %w", err)
	}
	embedAudit.completed(ctx, 0, 0, stored)

	if err := p.store.SetDocumentEmbedded(ctx, doc.ID, collection); err != nil {
		return 0, err
	}
	onProgress(100)
	log.Info("document embedded", "collection", collection, "chunksStored", stored)

	return len(chunks), nil
}
