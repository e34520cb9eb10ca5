// Package pipeline runs the resource and document processing state
// machines: download, parse, chunk, extract entities, embed.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stjgraph/stjrag/chunker"
	"github.com/stjgraph/stjrag/graph"
	"github.com/stjgraph/stjrag/store"
)

const (
	// Persisted extracted text is capped; the full text is still chunked.
	textContentLimit = 65_000

	// LLM extraction runs over a bounded chunk prefix to cap cost.
	DefaultExtractionChunkCap = 50

	// MaxDocumentSize bounds uploads.
	MaxDocumentSize = 15 << 20
)

// CollectionName derives the vector collection for a dataset slug.
func CollectionName(datasetSlug string) string {
	return "stj_" + strings.ReplaceAll(graph.Slug(datasetSlug), "-", "_")
}

// DocumentCollectionName derives the vector collection for an uploaded
// document.
func DocumentCollectionName(docID int64, filename string) string {
	slug := graph.Slug(strings.TrimSuffix(filename, "."+fileExt(filename)))
	if slug == "" {
		slug = "documento"
	}
	return fmt.Sprintf("doc_%d_%s", docID, slug)
}

func fileExt(filename string) string {
	if i := strings.LastIndex(filename, "."); i >= 0 {
		return filename[i+1:]
	}
	return ""
}

// truncateText clips text to a character limit.
func truncateText(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	count := 0
	for i := range text {
		if count == limit {
			return text[:i]
		}
		count++
	}
	return text
}

// parseRecords decodes an STJ JSON payload into records. Both a bare
// array and the CKAN {"result": [...]} wrapper occur in the wild.
func parseRecords(data []byte) ([]map[string]any, error) {
	var records []map[string]any
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}

	var wrapped struct {
		Result []map[string]any `json:"result"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Result != nil {
		return wrapped.Result, nil
	}

	var single map[string]any
	if err := json.Unmarshal(data, &single); err == nil && len(single) > 0 {
		return []map[string]any{single}, nil
	}

	return nil, fmt.Errorf("payload is not a recognized STJ JSON shape")
}

// chunkRecords converts records to chunks, re-indexing across the whole
// resource so chunk indices stay contiguous.
func chunkRecords(records []map[string]any) []chunker.Chunk {
	var all []chunker.Chunk
	for _, record := range records {
		text, metadata := chunker.FromSTJRecord(record)
		if strings.TrimSpace(text) == "" {
			continue
		}
		for _, c := range chunker.ChunkText(text, metadata, chunker.DefaultChunkSize, chunker.DefaultOverlap) {
			c.Index = len(all)
			all = append(all, c)
		}
	}
	return all
}

// graphRows converts extraction results to store rows: nodes deduped by
// entity id, edges only between resolvable endpoints, weights clamped.
func graphRows(result graph.ExtractionResult) ([]store.GraphNode, []store.GraphEdge) {
	seen := make(map[string]bool)
	var nodes []store.GraphNode
	for _, e := range result.Entities {
		if strings.TrimSpace(e.Name) == "" {
			continue
		}
		id := graph.EntityID(e.Name, e.EntityType)
		if seen[id] {
			continue
		}
		seen[id] = true
		nodes = append(nodes, store.GraphNode{
			EntityID:    id,
			Name:        e.Name,
			EntityType:  e.EntityType,
			Description: e.Description,
		})
	}

	var edges []store.GraphEdge
	for _, r := range result.Relationships {
		sourceID := graph.EntityID(r.SourceName, r.SourceType)
		targetID := graph.EntityID(r.TargetName, r.TargetType)
		if !seen[sourceID] || !seen[targetID] || sourceID == targetID {
			continue
		}
		edges = append(edges, store.GraphEdge{
			SourceID:         sourceID,
			TargetID:         targetID,
			RelationshipType: r.RelationshipType,
			Description:      r.Description,
			Weight:           graph.ClampWeight(r.Weight),
		})
	}
	return nodes, edges
}

// AuditStore is the audit-trail slice both processors write to.
type AuditStore interface {
	InsertAuditLog(ctx context.Context, a store.AuditLog) error
}

// auditor writes started/completed/failed entries for one action.
type auditor struct {
	store  AuditStore
	action string
	start  time.Time
	entry  store.AuditLog
}

func startAudit(ctx context.Context, s AuditStore, action string, entry store.AuditLog) *auditor {
	entry.Action = action
	entry.Status = "started"
	_ = s.InsertAuditLog(ctx, entry)
	return &auditor{store: s, action: action, start: time.Now(), entry: entry}
}

func (a *auditor) completed(ctx context.Context, entities, edges, chunks int) {
	a.entry.Status = "completed"
	a.entry.EntityCount = entities
	a.entry.EdgeCount = edges
	a.entry.ChunkCount = chunks
	a.entry.DurationMs = time.Since(a.start).Milliseconds()
	_ = a.store.InsertAuditLog(ctx, a.entry)
}

func (a *auditor) failed(ctx context.Context, err error) {
	a.entry.Status = "failed"
	a.entry.DurationMs = time.Since(a.start).Milliseconds()
	a.entry.ErrorMessage = err.Error()
	_ = a.store.InsertAuditLog(ctx, a.entry)
}
