package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stjgraph/stjrag/chunker"
	"github.com/stjgraph/stjrag/extract"
	"github.com/stjgraph/stjrag/graph"
	"github.com/stjgraph/stjrag/store"
)

type fakeResourceStore struct {
	resource *store.Resource
	dataset  *store.Dataset

	statuses   []string
	errMessage string
	nodes      []store.GraphNode
	edges      []store.GraphEdge
	audits     []store.AuditLog
	embeddedAt time.Time
}

func (f *fakeResourceStore) GetResource(_ context.Context, id int64) (*store.Resource, error) {
	if f.resource != nil && f.resource.ID == id {
		return f.resource, nil
	}
	return nil, nil
}

func (f *fakeResourceStore) GetDataset(_ context.Context, id int64) (*store.Dataset, error) {
	if f.dataset != nil && f.dataset.ID == id {
		return f.dataset, nil
	}
	return nil, nil
}

func (f *fakeResourceStore) UpdateResourceStatus(_ context.Context, _ int64, status string) error {
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeResourceStore) MarkResourceError(_ context.Context, _ int64, message string) error {
	f.statuses = append(f.statuses, store.ResourceStatusError)
	f.errMessage = message
	return nil
}

func (f *fakeResourceStore) SetResourceStorageKey(_ context.Context, _ int64, key string) error {
	f.resource.StorageKey = key
	return nil
}

func (f *fakeResourceStore) SetResourceCounts(_ context.Context, _ int64, chunks, entities int) error {
	f.resource.ChunkCount = chunks
	f.resource.EntityCount = entities
	return nil
}

func (f *fakeResourceStore) SetResourceEmbedded(_ context.Context, _ int64, at time.Time) error {
	f.statuses = append(f.statuses, store.ResourceStatusEmbedded)
	f.embeddedAt = at
	return nil
}

func (f *fakeResourceStore) UpsertNodes(_ context.Context, nodes []store.GraphNode) error {
	f.nodes = append(f.nodes, nodes...)
	return nil
}

func (f *fakeResourceStore) InsertEdges(_ context.Context, edges []store.GraphEdge) error {
	f.edges = append(f.edges, edges...)
	return nil
}

func (f *fakeResourceStore) InsertAuditLog(_ context.Context, a store.AuditLog) error {
	f.audits = append(f.audits, a)
	return nil
}

type fakeDownloader struct {
	payload []byte
	err     error
	calls   int
}

func (f *fakeDownloader) Download(context.Context, string) ([]byte, error) {
	f.calls++
	return f.payload, f.err
}

type fakeExtractor struct {
	result graph.ExtractionResult
	err    error
	texts  []string
}

func (f *fakeExtractor) ExtractMany(_ context.Context, chunks []string, _ func(done, total int)) (graph.ExtractionResult, error) {
	f.texts = chunks
	return f.result, f.err
}

type fakeIndexer struct {
	collection string
	chunks     []chunker.Chunk
	err        error
}

func (f *fakeIndexer) StoreChunks(_ context.Context, collection string, chunks []chunker.Chunk, _ func(done, total int)) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.collection = collection
	f.chunks = chunks
	return len(chunks), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func stjPayload() []byte {
	record := `{"processo": "REsp 1.234.567", "relator": "Herman Benjamin", "ementa": "` +
		strings.Repeat("Direito tributário. ", 60) + `"}`
	return []byte(`[` + record + `]`)
}

func TestResourceProcessorHappyPath(t *testing.T) {
	fs := &fakeResourceStore{
		resource: &store.Resource{ID: 1, DatasetID: 5, Name: "decisoes.json", URL: "https://x/decisoes.json", Status: store.ResourceStatusQueued},
		dataset:  &store.Dataset{ID: 5, Slug: "decisoes-monocraticas"},
	}
	ex := &fakeExtractor{result: graph.ExtractionResult{
		Entities: []graph.ExtractedEntity{{Name: "Herman Benjamin", EntityType: graph.EntityMinistro}},
	}}
	ix := &fakeIndexer{}
	p := NewResourceProcessor(fs, &fakeDownloader{payload: stjPayload()}, nil, ex, ix, testLogger())

	var progress []int
	err := p.Process(context.Background(), 1, func(pct int) { progress = append(progress, pct) })
	require.NoError(t, err)

	// Statuses only ever advance through the pipeline.
	last := -1
	for _, s := range fs.statuses {
		order, ok := store.ResourceStatusOrder[s]
		require.True(t, ok, "unexpected status %q", s)
		assert.Greater(t, order, last, "status %q regressed", s)
		last = order
	}
	assert.Equal(t, store.ResourceStatusEmbedded, fs.statuses[len(fs.statuses)-1])
	assert.Equal(t, []int{10, 30, 50, 80, 100}, progress)

	assert.Equal(t, "stj_decisoes_monocraticas", ix.collection)
	assert.NotEmpty(t, fs.nodes)
	assert.NotEmpty(t, ex.texts)
	assert.Positive(t, fs.resource.ChunkCount)
	assert.False(t, fs.embeddedAt.IsZero())

	// Every pipeline phase audits: process_json wraps extract_entities
	// and generate_embeddings, each with a started/completed pair.
	require.Len(t, fs.audits, 6)
	actions := make([]string, len(fs.audits))
	statuses := make([]string, len(fs.audits))
	for i, a := range fs.audits {
		actions[i] = a.Action
		statuses[i] = a.Status
	}
	assert.Equal(t, []string{
		"process_json", "extract_entities", "extract_entities",
		"generate_embeddings", "generate_embeddings", "process_json",
	}, actions)
	assert.Equal(t, []string{"started", "started", "completed", "started", "completed", "completed"}, statuses)
	assert.Equal(t, fs.resource.ChunkCount, fs.audits[5].ChunkCount)
	assert.Equal(t, len(fs.nodes), fs.audits[2].EntityCount)
}

func TestResourceProcessorCapsExtractionChunks(t *testing.T) {
	// A payload large enough to exceed the extraction cap.
	big := `{"ementa": "` + strings.Repeat("Tese repetitiva de direito processual. ", 2500) + `"}`
	fs := &fakeResourceStore{
		resource: &store.Resource{ID: 1, DatasetID: 5, URL: "https://x/big.json"},
		dataset:  &store.Dataset{ID: 5, Slug: "repetitivos"},
	}
	ex := &fakeExtractor{}
	p := NewResourceProcessor(fs, &fakeDownloader{payload: []byte(`[` + big + `]`)}, nil, ex, &fakeIndexer{}, testLogger())

	require.NoError(t, p.Process(context.Background(), 1, nil))
	assert.Len(t, ex.texts, DefaultExtractionChunkCap)
	// All chunks are still embedded, not just the extraction prefix.
	assert.Greater(t, fs.resource.ChunkCount, DefaultExtractionChunkCap)
}

func TestResourceProcessorMarksErrorAndReturnsIt(t *testing.T) {
	fs := &fakeResourceStore{
		resource: &store.Resource{ID: 1, DatasetID: 5, URL: "https://x/r.json"},
		dataset:  &store.Dataset{ID: 5, Slug: "s"},
	}
	dl := &fakeDownloader{err: errors.New("upstream unavailable")}
	p := NewResourceProcessor(fs, dl, nil, &fakeExtractor{}, &fakeIndexer{}, testLogger())

	err := p.Process(context.Background(), 1, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream unavailable")
	assert.Equal(t, store.ResourceStatusError, fs.statuses[len(fs.statuses)-1])
	assert.Contains(t, fs.errMessage, "upstream unavailable")

	require.Len(t, fs.audits, 2)
	assert.Equal(t, "failed", fs.audits[1].Status)
}

type fakeDocumentStore struct {
	document *store.Document

	statuses   []string
	errMessage string
	text       string
	chunkCount int
	collection string
	audits     []store.AuditLog
}

func (f *fakeDocumentStore) GetDocument(_ context.Context, id int64) (*store.Document, error) {
	if f.document != nil && f.document.ID == id {
		return f.document, nil
	}
	return nil, nil
}

func (f *fakeDocumentStore) UpdateDocumentStatus(_ context.Context, _ int64, status string) error {
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeDocumentStore) MarkDocumentError(_ context.Context, _ int64, message string) error {
	f.statuses = append(f.statuses, store.DocumentStatusError)
	f.errMessage = message
	return nil
}

func (f *fakeDocumentStore) SetDocumentText(_ context.Context, _ int64, text string) error {
	f.text = text
	return nil
}

func (f *fakeDocumentStore) SetDocumentChunked(_ context.Context, _ int64, chunkCount int) error {
	f.statuses = append(f.statuses, store.DocumentStatusChunked)
	f.chunkCount = chunkCount
	return nil
}

func (f *fakeDocumentStore) SetDocumentEmbedded(_ context.Context, _ int64, collectionName string) error {
	f.statuses = append(f.statuses, store.DocumentStatusEmbedded)
	f.collection = collectionName
	return nil
}

func (f *fakeDocumentStore) InsertAuditLog(_ context.Context, a store.AuditLog) error {
	f.audits = append(f.audits, a)
	return nil
}

type fakeObjectStore struct {
	objects map[string][]byte
}

func (f *fakeObjectStore) Put(_ context.Context, key string, body []byte, _ string) error {
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = body
	return nil
}

func (f *fakeObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func TestDocumentProcessorHappyPath(t *testing.T) {
	body := strings.Repeat("Petição inicial com fundamentação extensa. ", 40)
	objects := &fakeObjectStore{objects: map[string][]byte{"documents/9/peticao.txt": []byte(body)}}
	fs := &fakeDocumentStore{document: &store.Document{
		ID: 9, Filename: "peticao.txt", MimeType: "text/plain",
		StorageKey: "documents/9/peticao.txt", Status: store.DocumentStatusUploaded,
	}}
	p := NewDocumentProcessor(fs, objects, extract.NewRegistry(), &fakeIndexer{}, testLogger())

	require.NoError(t, p.Process(context.Background(), 9, nil))

	last := -1
	for _, s := range fs.statuses {
		order, ok := store.DocumentStatusOrder[s]
		require.True(t, ok, "unexpected status %q", s)
		assert.Greater(t, order, last, "status %q regressed", s)
		last = order
	}
	assert.Equal(t, store.DocumentStatusEmbedded, fs.statuses[len(fs.statuses)-1])
	assert.Equal(t, strings.TrimSpace(body), strings.TrimSpace(fs.text))
	assert.Positive(t, fs.chunkCount)
	assert.Equal(t, "doc_9_peticao", fs.collection)

	require.Len(t, fs.audits, 4)
	assert.Equal(t, "process_document", fs.audits[0].Action)
	assert.Equal(t, "generate_embeddings", fs.audits[1].Action)
	assert.Equal(t, "completed", fs.audits[2].Status)
	assert.Equal(t, "completed", fs.audits[3].Status)
}

func TestDocumentProcessorRejectsEmptyText(t *testing.T) {
	objects := &fakeObjectStore{objects: map[string][]byte{"k": []byte("   \n\t  ")}}
	fs := &fakeDocumentStore{document: &store.Document{
		ID: 1, Filename: "vazio.txt", MimeType: "text/plain", StorageKey: "k",
	}}
	p := NewDocumentProcessor(fs, objects, extract.NewRegistry(), &fakeIndexer{}, testLogger())

	err := p.Process(context.Background(), 1, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no extractable text")
	assert.Equal(t, store.DocumentStatusError, fs.statuses[len(fs.statuses)-1])
}
