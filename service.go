// Package stjrag is a GraphRAG retrieval service over the open data of
// the Superior Tribunal de Justiça: dataset ingestion, entity graph
// construction, community detection, vector search, and LLM-generated
// answers grounded on the retrieved context.
package stjrag

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stjgraph/stjrag/ckan"
	"github.com/stjgraph/stjrag/extract"
	"github.com/stjgraph/stjrag/graph"
	"github.com/stjgraph/stjrag/jobs"
	"github.com/stjgraph/stjrag/llm"
	"github.com/stjgraph/stjrag/objectstore"
	"github.com/stjgraph/stjrag/pipeline"
	"github.com/stjgraph/stjrag/ratelimit"
	"github.com/stjgraph/stjrag/retrieval"
	"github.com/stjgraph/stjrag/store"
	"github.com/stjgraph/stjrag/vectorstore"
)

// catalogEntry is one STJ open-data dataset the service tracks.
type catalogEntry struct {
	Slug     string
	Title    string
	Category string
}

// datasetCatalog lists the STJ portal datasets synchronized by
// SyncDatasets. Slugs follow the portal's package names.
var datasetCatalog = []catalogEntry{
	{"decisoes-monocraticas", "Decisões Monocráticas", "jurisprudencia"},
	{"acordaos", "Acórdãos", "jurisprudencia"},
	{"repetitivos", "Recursos Repetitivos", "jurisprudencia"},
	{"sumulas", "Súmulas", "jurisprudencia"},
	{"enunciados-administrativos", "Enunciados Administrativos", "administrativo"},
}

// Service wires the full system: relational store, vector store, LLM
// gateway, object store, job queues, and the retrieval planner.
type Service struct {
	cfg Config
	log *slog.Logger

	store    *store.Store
	chatLLM  llm.Provider
	embedLLM llm.Provider
	vectors  *vectorstore.Client
	indexer  *vectorstore.Indexer
	objects  *objectstore.Store
	ckan     *ckan.Client
	runner   *jobs.Runner

	extractor *graph.Extractor
	builder   *graph.Builder
	planner   *retrieval.Planner
	limiter   *ratelimit.Limiter

	resources *pipeline.ResourceProcessor
	documents *pipeline.DocumentProcessor

	started time.Time
}

// New builds the service from configuration, connects every backend,
// and registers the job handlers. Start must be called before queued
// jobs are consumed.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	chatLLM, err := llm.NewProvider(llm.Config{
		Provider: "gemini",
		Model:    cfg.ChatModel,
		APIKey:   cfg.GeminiAPIKey,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating chat provider: %w", err)
	}
	embedLLM, err := llm.NewProvider(llm.Config{
		Provider: "gemini",
		Model:    cfg.EmbeddingModel,
		APIKey:   cfg.GeminiAPIKey,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	vectors, err := vectorstore.NewClient(cfg.QdrantURL, cfg.QdrantAPIKey, cfg.EmbeddingDimension, log)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("connecting vector store: %w", err)
	}
	embedder := vectorstore.NewEmbedder(embedLLM, vectorstore.EmbedderConfig{
		BatchSize:   cfg.EmbeddingBatchSize,
		MaxRetries:  cfg.EmbeddingMaxRetries,
		RetryBaseMs: cfg.EmbeddingRetryBase,
		Concurrency: cfg.EmbeddingConcurrency,
	}, log)
	indexer := &vectorstore.Indexer{Client: vectors, Embedder: embedder}

	objects, err := objectstore.New(ctx, objectstore.Config{
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Endpoint:  cfg.S3Endpoint,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("connecting object store: %w", err)
	}

	runner, err := jobs.NewRunner(cfg.RedisURL, log)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("connecting broker: %w", err)
	}

	extractor := graph.NewExtractor(chatLLM)
	portal := ckan.NewClient(ckan.DefaultBaseURL)
	svc := &Service{
		cfg:       cfg,
		log:       log.With("component", "service"),
		store:     s,
		chatLLM:   chatLLM,
		embedLLM:  embedLLM,
		vectors:   vectors,
		indexer:   indexer,
		objects:   objects,
		ckan:      portal,
		runner:    runner,
		extractor: extractor,
		builder:   graph.NewBuilder(s, chatLLM),
		planner:   retrieval.NewPlanner(chatLLM, s, s, extractor, vectors, embedder, log),
		limiter:   ratelimit.New(ratelimit.DefaultMax, ratelimit.DefaultWindow),
		resources: pipeline.NewResourceProcessor(s, portal, objects, extractor, indexer, log),
		documents: pipeline.NewDocumentProcessor(s, objects, extract.NewRegistry(), indexer, log),
		started:   time.Now(),
	}

	runner.Handle(jobs.QueueResourceProcess, svc.handleResourceJob)
	runner.Handle(jobs.QueueDocumentProcess, svc.handleDocumentJob)
	return svc, nil
}

// Start launches the background job workers.
func (s *Service) Start() { s.runner.Start() }

// Close drains the workers and releases every connection.
func (s *Service) Close() {
	s.runner.Stop()
	s.store.Close()
}

// Store exposes the relational store for read-side handlers.
func (s *Service) Store() *store.Store { return s.store }

// Uptime reports time since the service was constructed.
func (s *Service) Uptime() time.Duration { return time.Since(s.started) }

// --- job handlers ---

type resourceJobData struct {
	ResourceID int64 `json:"resourceId"`
}

type documentJobData struct {
	DocumentID int64 `json:"documentId"`
}

func (s *Service) handleResourceJob(ctx context.Context, job *jobs.Job) error {
	var data resourceJobData
	if err := json.Unmarshal(job.Data, &data); err != nil {
		return fmt.Errorf("malformed resource job payload: %v", err)
	}
	return s.resources.Process(ctx, data.ResourceID, func(pct int) {
		job.ReportProgress(ctx, pct)
	})
}

func (s *Service) handleDocumentJob(ctx context.Context, job *jobs.Job) error {
	var data documentJobData
	if err := json.Unmarshal(job.Data, &data); err != nil {
		return fmt.Errorf("malformed document job payload: %v", err)
	}
	return s.documents.Process(ctx, data.DocumentID, func(pct int) {
		job.ReportProgress(ctx, pct)
	})
}

// --- dataset operations ---

// SyncSummary reports one dataset's sync outcome.
type SyncSummary struct {
	Slug      string `json:"slug"`
	Resources int    `json:"resources"`
	Error     string `json:"error,omitempty"`
}

// SyncDatasets refreshes the dataset catalog from the STJ portal. Each
// dataset is synced independently: one portal failure does not abort
// the rest.
func (s *Service) SyncDatasets(ctx context.Context) ([]SyncSummary, error) {
	audit := startServiceAudit(ctx, s.store, "sync_datasets")
	var summaries []SyncSummary
	var synced int

	for _, entry := range datasetCatalog {
		summary := SyncSummary{Slug: entry.Slug}
		pkg, err := s.ckan.PackageShow(ctx, entry.Slug)
		if err != nil {
			s.log.Warn("dataset sync failed", "slug", entry.Slug, "error", err)
			summary.Error = err.Error()
			summaries = append(summaries, summary)
			continue
		}

		title := pkg.Title
		if title == "" {
			title = entry.Title
		}
		jsonResources := 0
		for _, r := range pkg.Resources {
			if strings.EqualFold(r.Format, "json") {
				jsonResources++
			}
		}
		now := time.Now()
		datasetID, err := s.store.UpsertDataset(ctx, store.Dataset{
			Slug:           entry.Slug,
			Title:          title,
			Category:       entry.Category,
			TotalResources: len(pkg.Resources),
			JSONResources:  jsonResources,
			LastSyncedAt:   &now,
		})
		if err != nil {
			summary.Error = err.Error()
			summaries = append(summaries, summary)
			continue
		}

		for _, r := range pkg.Resources {
			if !strings.EqualFold(r.Format, "json") {
				continue
			}
			if _, err := s.store.UpsertResource(ctx, store.Resource{
				ResourceID: r.ID,
				DatasetID:  datasetID,
				Name:       r.Name,
				URL:        r.URL,
				Format:     strings.ToLower(r.Format),
				Status:     store.ResourceStatusPending,
			}); err != nil {
				s.log.Warn("resource upsert failed", "resourceId", r.ID, "error", err)
				continue
			}
			summary.Resources++
		}
		synced++
		summaries = append(summaries, summary)
	}

	if synced == 0 {
		err := fmt.Errorf("no dataset could be synced")
		audit.failed(ctx, err)
		return summaries, err
	}
	audit.completed(ctx, 0, 0, 0)
	return summaries, nil
}

// DownloadResource downloads a resource payload, archives it, and
// returns a signed URL to the archived copy.
func (s *Service) DownloadResource(ctx context.Context, resourceID int64) (string, error) {
	res, err := s.store.GetResource(ctx, resourceID)
	if err != nil {
		return "", err
	}
	if res == nil {
		return "", fmt.Errorf("resource %d: %w", resourceID, ErrResourceNotFound)
	}

	audit := startServiceAudit(ctx, s.store, "download_resource")
	key := res.StorageKey
	if key == "" {
		data, err := s.ckan.Download(ctx, res.URL)
		if err != nil {
			audit.failed(ctx, err)
			return "", fmt.Errorf("download: %w", err)
		}
		key = fmt.Sprintf("resources/%d/%s.json", res.DatasetID, graph.Slug(res.Name))
		if err := s.objects.Put(ctx, key, data, "application/json"); err != nil {
			audit.failed(ctx, err)
			return "", fmt.Errorf("archive: %w", err)
		}
		if err := s.store.SetResourceStorageKey(ctx, resourceID, key); err != nil {
			return "", err
		}
		if res.Status == store.ResourceStatusPending {
			_ = s.store.UpdateResourceStatus(ctx, resourceID, store.ResourceStatusDownloaded)
		}
	}

	url, err := s.objects.SignedURL(ctx, key, objectstore.DefaultSignedURLTTL)
	if err != nil {
		audit.failed(ctx, err)
		return "", err
	}
	audit.completed(ctx, 0, 0, 0)
	return url, nil
}

// resourceQueueStore is the slice of the store the enqueue path needs.
type resourceQueueStore interface {
	GetResource(ctx context.Context, id int64) (*store.Resource, error)
	UpdateResourceStatus(ctx context.Context, id int64, status string) error
}

// jobEnqueuer is the slice of the job runner the enqueue path needs.
type jobEnqueuer interface {
	Enqueue(ctx context.Context, queue, name string, data any) (string, error)
}

// EnqueueResourceProcess marks a resource queued and enqueues its
// processing job. With the broker down the resource reverts to its
// previous status and ErrBrokerUnavailable surfaces.
func (s *Service) EnqueueResourceProcess(ctx context.Context, resourceID int64) (string, error) {
	return enqueueResourceProcess(ctx, s.store, s.runner, resourceID)
}

func enqueueResourceProcess(ctx context.Context, st resourceQueueStore, q jobEnqueuer, resourceID int64) (string, error) {
	res, err := st.GetResource(ctx, resourceID)
	if err != nil {
		return "", err
	}
	if res == nil {
		return "", fmt.Errorf("resource %d: %w", resourceID, ErrResourceNotFound)
	}

	// Mark queued before enqueueing: once the job is on the broker a
	// worker may pop it immediately, and its first status write must not
	// be overwritten by a late queued write.
	if err := st.UpdateResourceStatus(ctx, resourceID, store.ResourceStatusQueued); err != nil {
		return "", err
	}
	jobID, err := q.Enqueue(ctx, jobs.QueueResourceProcess, "process-resource", resourceJobData{ResourceID: resourceID})
	if err != nil {
		_ = st.UpdateResourceStatus(ctx, resourceID, res.Status)
		return "", fmt.Errorf("%w: async processing required", ErrBrokerUnavailable)
	}
	return jobID, nil
}

// --- document operations ---

// maxUploadBase64 bounds the base64 payload at ~7.5 MiB; the decoded
// bound is pipeline.MaxDocumentSize.
const maxUploadBase64 = 15 << 19

// UploadDocument stores an uploaded file and enqueues its processing.
func (s *Service) UploadDocument(ctx context.Context, userID int64, filename, mimeType, base64Data string) (int64, string, error) {
	if len(base64Data) > maxUploadBase64 {
		return 0, "", ErrDocumentTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(base64Data)
	if err != nil {
		return 0, "", fmt.Errorf("invalid base64 payload: %v", err)
	}
	if len(data) > pipeline.MaxDocumentSize {
		return 0, "", ErrDocumentTooLarge
	}
	if extract.NewRegistry().Format(mimeType, filename) == "" {
		return 0, "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimeType)
	}

	audit := startServiceAudit(ctx, s.store, "upload_document")
	key := fmt.Sprintf("documents/%d/%d_%s", userID, time.Now().UnixMilli(), graph.Slug(filename))
	if err := s.objects.Put(ctx, key, data, mimeType); err != nil {
		audit.failed(ctx, err)
		return 0, "", fmt.Errorf("storing upload: %w", err)
	}

	docID, err := s.store.InsertDocument(ctx, store.Document{
		UserID:     userID,
		Filename:   filename,
		MimeType:   mimeType,
		Size:       int64(len(data)),
		StorageKey: key,
	})
	if err != nil {
		audit.failed(ctx, err)
		return 0, "", err
	}
	audit.completed(ctx, 0, 0, 0)

	jobID, err := s.runner.Enqueue(ctx, jobs.QueueDocumentProcess, "process-document", documentJobData{DocumentID: docID})
	if err != nil {
		return docID, "", fmt.Errorf("%w: async processing required", ErrBrokerUnavailable)
	}
	return docID, jobID, nil
}

// EnqueueDocumentProcess re-enqueues processing for an existing upload.
func (s *Service) EnqueueDocumentProcess(ctx context.Context, documentID int64) (string, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return "", fmt.Errorf("document %d: %w", documentID, ErrDocumentNotFound)
	}

	jobID, err := s.runner.Enqueue(ctx, jobs.QueueDocumentProcess, "process-document", documentJobData{DocumentID: documentID})
	if err != nil {
		return "", fmt.Errorf("%w: async processing required", ErrBrokerUnavailable)
	}
	return jobID, nil
}

// --- graph and query operations ---

// BuildCommunities runs the single-flight community build.
func (s *Service) BuildCommunities(ctx context.Context) (*graph.BuildResult, error) {
	audit := startServiceAudit(ctx, s.store, "build_communities")
	result, err := s.builder.Build(ctx)
	if err != nil {
		if errors.Is(err, graph.ErrBuildInProgress) {
			err = ErrBuildInProgress
		}
		audit.failed(ctx, err)
		return nil, err
	}
	audit.completed(ctx, result.Nodes, 0, 0)
	return result, nil
}

// Visualization returns a bounded subgraph for rendering.
func (s *Service) Visualization(ctx context.Context, limit int) (*graph.Subgraph, error) {
	return graph.Visualization(ctx, s.store, limit)
}

// Neighborhood returns the subgraph around one entity.
func (s *Service) Neighborhood(ctx context.Context, entityID string, hops int) (*graph.Subgraph, error) {
	return graph.Neighborhood(ctx, s.store, entityID, hops)
}

// RateLimitQuery applies the per-user RAG query limit.
func (s *Service) RateLimitQuery(userID int64) ratelimit.Result {
	return s.limiter.Check(ratelimit.Key("rag", userID))
}

// RagQuery answers one user query through the GraphRAG planner.
func (s *Service) RagQuery(ctx context.Context, userID *int64, query string) (*retrieval.Result, error) {
	return s.planner.Query(ctx, query, userID)
}

// Collections lists the vector store collections.
func (s *Service) Collections(ctx context.Context) ([]string, error) {
	return s.vectors.ListCollections(ctx)
}

// Health reports the reachability of each backend.
func (s *Service) Health(ctx context.Context) map[string]bool {
	return map[string]bool{
		"database": s.store.Ping(ctx) == nil,
		"broker":   s.runner.Healthy(ctx),
		"vectors":  s.vectors.Healthy(ctx),
	}
}

// --- audit helper ---

type serviceAudit struct {
	store  *store.Store
	action string
	start  time.Time
}

func startServiceAudit(ctx context.Context, s *store.Store, action string) *serviceAudit {
	_ = s.InsertAuditLog(ctx, store.AuditLog{Action: action, Status: "started"})
	return &serviceAudit{store: s, action: action, start: time.Now()}
}

func (a *serviceAudit) completed(ctx context.Context, entities, edges, chunks int) {
	_ = a.store.InsertAuditLog(ctx, store.AuditLog{
		Action:      a.action,
		Status:      "completed",
		EntityCount: entities,
		EdgeCount:   edges,
		ChunkCount:  chunks,
		DurationMs:  time.Since(a.start).Milliseconds(),
	})
}

func (a *serviceAudit) failed(ctx context.Context, err error) {
	_ = a.store.InsertAuditLog(ctx, store.AuditLog{
		Action:       a.action,
		Status:       "failed",
		DurationMs:   time.Since(a.start).Milliseconds(),
		ErrorMessage: err.Error(),
	})
}
