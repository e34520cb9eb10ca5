package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stjgraph/stjrag/chunker"
	"github.com/stjgraph/stjrag/graph"
	"github.com/stjgraph/stjrag/store"
)

// ResourceStore is the store slice the resource processor needs.
type ResourceStore interface {
	GetResource(ctx context.Context, id int64) (*store.Resource, error)
	GetDataset(ctx context.Context, id int64) (*store.Dataset, error)
	UpdateResourceStatus(ctx context.Context, id int64, status string) error
	MarkResourceError(ctx context.Context, id int64, message string) error
	SetResourceStorageKey(ctx context.Context, id int64, key string) error
	SetResourceCounts(ctx context.Context, id int64, chunks, entities int) error
	SetResourceEmbedded(ctx context.Context, id int64, at time.Time) error
	UpsertNodes(ctx context.Context, nodes []store.GraphNode) error
	InsertEdges(ctx context.Context, edges []store.GraphEdge) error
	InsertAuditLog(ctx context.Context, a store.AuditLog) error
}

// Downloader fetches a resource payload from its published URL.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// ObjectStore archives raw payloads.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// ChunkIndexer embeds chunks and writes them to a vector collection.
type ChunkIndexer interface {
	StoreChunks(ctx context.Context, collection string, chunks []chunker.Chunk, onProgress func(done, total int)) (int, error)
}

// EntityExtractor runs LLM entity extraction over chunk texts.
type EntityExtractor interface {
	ExtractMany(ctx context.Context, chunks []string, onProgress func(done, total int)) (graph.ExtractionResult, error)
}

// ResourceProcessor drives a dataset resource from queued to embedded:
// download, archive, chunk, extract entities, embed.
type ResourceProcessor struct {
	store      ResourceStore
	downloader Downloader
	objects    ObjectStore
	extractor  EntityExtractor
	indexer    ChunkIndexer
	chunkCap   int
	log        *slog.Logger
}

func NewResourceProcessor(s ResourceStore, dl Downloader, obj ObjectStore, ex EntityExtractor, ix ChunkIndexer, log *slog.Logger) *ResourceProcessor {
	if log == nil {
		log = slog.Default()
	}
	return &ResourceProcessor{
		store:      s,
		downloader: dl,
		objects:    obj,
		extractor:  ex,
		indexer:    ix,
		chunkCap:   DefaultExtractionChunkCap,
		log:        log.With("component", "resource-processor"),
	}
}

// Process runs the full resource pipeline. On failure the resource is
// marked error and the error is returned so the job runner can retry.
func (p *ResourceProcessor) Process(ctx context.Context, resourceID int64, onProgress func(pct int)) error {
	if onProgress == nil {
		onProgress = func(int) {}
	}

	res, err := p.store.GetResource(ctx, resourceID)
	if err != nil {
		return err
	}
	if res == nil {
		return fmt.Errorf("resource %d: %w", resourceID, store.ErrNotFound)
	}

	audit := startAudit(ctx, p.store, "process_json", store.AuditLog{ResourceID: &resourceID})
	chunks, entities, edges, err := p.process(ctx, res, onProgress)
	if err != nil {
		audit.failed(ctx, err)
		if markErr := p.store.MarkResourceError(ctx, resourceID, err.Error()); markErr != nil {
			p.log.Error("failed to mark resource error", "resourceId", resourceID, "error", markErr)
		}
		return err
	}
	audit.completed(ctx, entities, edges, chunks)
	return nil
}

func (p *ResourceProcessor) process(ctx context.Context, res *store.Resource, onProgress func(pct int)) (chunks, entities, edges int, err error) {
	log := p.log.With("resourceId", res.ID, "resource", res.Name)

	if err := p.store.UpdateResourceStatus(ctx, res.ID, store.ResourceStatusDownloading); err != nil {
		return 0, 0, 0, err
	}
	onProgress(10)

	data, err := p.fetch(ctx, res)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("download: %w", err)
	}
	if err := p.store.UpdateResourceStatus(ctx, res.ID, store.ResourceStatusDownloaded); err != nil {
		return 0, 0, 0, err
	}
	log.Info("resource downloaded", "bytes", len(data))

	if err := p.store.UpdateResourceStatus(ctx, res.ID, store.ResourceStatusProcessing); err != nil {
		return 0, 0, 0, err
	}
	onProgress(30)

	records, err := parseRecords(data)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("parse records: %w", err)
	}
	allChunks := chunkRecords(records)
	if len(allChunks) == 0 {
		return 0, 0, 0, fmt.Errorf("resource produced no chunks")
	}
	log.Info("resource chunked", "records", len(records), "chunks", len(allChunks))

	if err := p.store.UpdateResourceStatus(ctx, res.ID, store.ResourceStatusExtracting); err != nil {
		return 0, 0, 0, err
	}
	onProgress(50)

	texts := make([]string, 0, min(len(allChunks), p.chunkCap))
	for _, c := range allChunks[:min(len(allChunks), p.chunkCap)] {
		texts = append(texts, c.Text)
	}
	extractAudit := startAudit(ctx, p.store, "extract_entities", store.AuditLog{ResourceID: &res.ID})
	result, err := p.extractor.ExtractMany(ctx, texts, nil)
	if err != nil {
		extractAudit.failed(ctx, err)
		return 0, 0, 0, fmt.Errorf("entity extraction: %w", err)
	}

	nodes, edgeRows := graphRows(result)
	if len(nodes) > 0 {
		if err := p.store.UpsertNodes(ctx, nodes); err != nil {
			extractAudit.failed(ctx, err)
			return 0, 0, 0, fmt.Errorf("persist nodes: %w", err)
		}
	}
	if len(edgeRows) > 0 {
		if err := p.store.InsertEdges(ctx, edgeRows); err != nil {
			extractAudit.failed(ctx, err)
			return 0, 0, 0, fmt.Errorf("persist edges: %w", err)
		}
	}
	extractAudit.completed(ctx, len(nodes), len(edgeRows), len(texts))
	if err := p.store.UpdateResourceStatus(ctx, res.ID, store.ResourceStatusEntitiesDone); err != nil {
		return 0, 0, 0, err
	}
	if err := p.store.SetResourceCounts(ctx, res.ID, len(allChunks), len(nodes)); err != nil {
		return 0, 0, 0, err
	}
	log.Info("entities extracted", "entities", len(nodes), "relationships", len(edgeRows))

	if err := p.store.UpdateResourceStatus(ctx, res.ID, store.ResourceStatusEmbedding); err != nil {
		return 0, 0, 0, err
	}
	onProgress(80)

	dataset, err := p.store.GetDataset(ctx, res.DatasetID)
	if err != nil {
		return 0, 0, 0, err
	}
	if dataset == nil {
		return 0, 0, 0, fmt.Errorf("dataset %d: %w", res.DatasetID, store.ErrNotFound)
	}
	embedAudit := startAudit(ctx, p.store, "generate_embeddings", store.AuditLog{ResourceID: &res.ID})
	stored, err := p.indexer.StoreChunks(ctx, CollectionName(dataset.Slug), allChunks, nil)
	if err != nil {
		embedAudit.failed(ctx, err)
		return 0, 0, 0, fmt.Errorf("embed chunks: %w", err)
	}
	embedAudit.completed(ctx, 0, 0, stored)

	if err := p.store.SetResourceEmbedded(ctx, res.ID, time.Now()); err != nil {
		return 0, 0, 0, err
	}
	onProgress(100)
	log.Info("resource embedded", "chunksStored", stored)

	return len(allChunks), len(nodes), len(edgeRows), nil
}

// fetch returns the resource payload, preferring the archived copy so
// retries do not re-hit the upstream portal.
func (p *ResourceProcessor) fetch(ctx context.Context, res *store.Resource) ([]byte, error) {
	if res.StorageKey != "" && p.objects != nil {
		if data, err := p.objects.Get(ctx, res.StorageKey); err == nil {
			return data, nil
		}
		p.log.Warn("archived copy unavailable, re-downloading", "resourceId", res.ID, "key", res.StorageKey)
	}

	data, err := p.downloader.Download(ctx, res.URL)
	if err != nil {
		return nil, err
	}

	if p.objects != nil {
		key := fmt.Sprintf("resources/%d/%s", res.DatasetID, storageName(res))
		if err := p.objects.Put(ctx, key, data, "application/json"); err != nil {
			p.log.Warn("failed to archive resource payload", "resourceId", res.ID, "error", err)
		} else if err := p.store.SetResourceStorageKey(ctx, res.ID, key); err != nil {
			p.log.Warn("failed to record storage key", "resourceId", res.ID, "error", err)
		}
	}
	return data, nil
}

func storageName(res *store.Resource) string {
	name := graph.Slug(res.Name)
	if name == "" {
		name = res.ResourceID
	}
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	return name
}
