// Package retrieval implements GraphRAG query planning over the legal
// knowledge graph: classification into local/global/hybrid, the three
// retrievers, prompt fusion, and answer generation.
package retrieval

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/stjgraph/stjrag/llm"
	"github.com/stjgraph/stjrag/metrics"
	"github.com/stjgraph/stjrag/reasoning"
	"github.com/stjgraph/stjrag/store"
	"github.com/stjgraph/stjrag/vectorstore"
)

// Query type classification values.
const (
	QueryLocal  = "local"
	QueryGlobal = "global"
	QueryHybrid = "hybrid"
)

const (
	perNameLimit       = 5
	fullQueryLimit     = 10
	fullQueryPrefixLen = 100
	neighborhoodSize   = 5
	edgesPerEntity     = 10
	maxLocalEntities   = 20
	maxCommunities     = 15
	vectorLimit        = 10
)

// NoContextAnswer is returned when every retriever comes back empty.
const NoContextAnswer = "Não foi possível encontrar informações relevantes para a sua consulta."

// GraphStore is the graph slice the planner reads.
type GraphStore interface {
	SearchNodes(ctx context.Context, term, entityType string, limit int) ([]store.GraphNode, error)
	GetNodes(ctx context.Context, entityIDs []string) ([]store.GraphNode, error)
	NodeEdges(ctx context.Context, entityID string, limit int) ([]store.GraphEdge, error)
	Communities(ctx context.Context, level *int) ([]store.Community, error)
}

// QueryStore persists query records and audit entries.
type QueryStore interface {
	InsertRagQuery(ctx context.Context, userID *int64, query string) (int64, error)
	CompleteRagQuery(ctx context.Context, id int64, upd store.RagQueryUpdate) error
	InsertAuditLog(ctx context.Context, a store.AuditLog) error
}

// EntityFinder extracts candidate entity names from a user query.
type EntityFinder interface {
	QueryEntities(ctx context.Context, query string) []string
}

// VectorSearcher searches every collection with one query vector.
type VectorSearcher interface {
	SearchAll(ctx context.Context, vector []float32, limit int) ([]vectorstore.SearchResult, error)
}

// QueryEmbedder embeds query text.
type QueryEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Result is the full outcome of one RAG query.
type Result struct {
	QueryID          int64                      `json:"queryId"`
	Answer           string                     `json:"answer"`
	QueryType        string                     `json:"queryType"`
	Entities         []store.GraphNode          `json:"entities"`
	CommunityReports []store.Community          `json:"communityReports"`
	VectorResults    []vectorstore.SearchResult `json:"vectorResults"`
	ReasoningChain   []string                   `json:"reasoningChain"`
	DurationMs       int64                      `json:"durationMs"`
}

// Planner classifies a query, runs the enabled retrievers in parallel,
// and fuses their context into one generated answer.
type Planner struct {
	chat     llm.Provider
	graph    GraphStore
	queries  QueryStore
	finder   EntityFinder
	vectors  VectorSearcher
	embedder QueryEmbedder
	log      *slog.Logger
}

func NewPlanner(chat llm.Provider, g GraphStore, q QueryStore, finder EntityFinder, vectors VectorSearcher, embedder QueryEmbedder, log *slog.Logger) *Planner {
	if log == nil {
		log = slog.Default()
	}
	return &Planner{
		chat:     chat,
		graph:    g,
		queries:  q,
		finder:   finder,
		vectors:  vectors,
		embedder: embedder,
		log:      log.With("component", "query-planner"),
	}
}

// Query runs the full GraphRAG flow for one user query. The record is
// created before retrieval and completed after, so abandoned queries
// remain visible in history.
func (p *Planner) Query(ctx context.Context, q string, userID *int64) (*Result, error) {
	chain := reasoning.NewChain()

	queryID, err := p.queries.InsertRagQuery(ctx, userID, q)
	if err != nil {
		p.audit(ctx, store.AuditLog{Action: "rag_query", Status: "failed", ErrorMessage: err.Error()})
		return nil, err
	}
	p.audit(ctx, store.AuditLog{Action: "rag_query", Status: "started"})

	queryType := p.classify(ctx, q, chain)
	metrics.RagQueries.WithLabelValues(queryType).Inc()

	local, global, vector := p.retrieve(ctx, q, queryType, chain)

	answer := p.generate(ctx, q, queryType, local, global, vector, chain)

	result := &Result{
		QueryID:          queryID,
		Answer:           answer,
		QueryType:        queryType,
		Entities:         local.entities,
		CommunityReports: global.communities,
		VectorResults:    vector.results,
		ReasoningChain:   chain.Lines(),
		DurationMs:       chain.Elapsed().Milliseconds(),
	}

	p.persist(ctx, queryID, result)
	return result, nil
}

// retrieve runs the retrievers the classification enables, in parallel.
// A failed retriever degrades to empty context rather than failing the
// query.
func (p *Planner) retrieve(ctx context.Context, q, queryType string, chain *reasoning.Chain) (local localResult, global globalResult, vector vectorResult) {
	var wg sync.WaitGroup

	if queryType == QueryLocal || queryType == QueryHybrid {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local = p.localSearch(ctx, q, chain)
		}()
	}
	if queryType == QueryGlobal || queryType == QueryHybrid {
		wg.Add(1)
		go func() {
			defer wg.Done()
			global = p.globalSearch(ctx, chain)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		vector = p.vectorSearch(ctx, q, chain)
	}()

	wg.Wait()
	return local, global, vector
}

// generate builds the fusion prompt and asks the LLM for the answer.
// With no context at all, the canned message is returned without an
// LLM call.
func (p *Planner) generate(ctx context.Context, q, queryType string, local localResult, global globalResult, vector vectorResult, chain *reasoning.Chain) string {
	prompt := fusionPrompt(q, local.context, global.context, vector.context)
	if prompt == "" {
		chain.Add("nenhum contexto encontrado, retornando resposta padrão")
		return NoContextAnswer
	}

	start := time.Now()
	resp, err := p.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: answerSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.3,
	})
	metrics.Default.Observe("rag_generation_ms", float64(time.Since(start).Milliseconds()))
	if err != nil {
		p.log.Error("answer generation failed", "queryType", queryType, "error", err)
		chain.Add("geração da resposta falhou: %v", err)
		return NoContextAnswer
	}

	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return NoContextAnswer
	}
	chain.Add("resposta gerada com %d caracteres", len(answer))

	if !reasoning.CitesContext(answer, local.context+"\n"+global.context+"\n"+vector.context) {
		chain.Add("aviso: resposta cita referências ausentes do contexto")
	}
	return answer
}

func (p *Planner) persist(ctx context.Context, queryID int64, result *Result) {
	entityNames := make([]string, 0, len(result.Entities))
	for _, e := range result.Entities {
		entityNames = append(entityNames, e.Name)
	}
	communityTitles := make([]string, 0, len(result.CommunityReports))
	for _, c := range result.CommunityReports {
		communityTitles = append(communityTitles, c.Title)
	}

	if err := p.queries.CompleteRagQuery(ctx, queryID, store.RagQueryUpdate{
		QueryType:       result.QueryType,
		Response:        result.Answer,
		Entities:        entityNames,
		CommunityTitles: communityTitles,
		VectorCount:     len(result.VectorResults),
		ReasoningChain:  result.ReasoningChain,
		DurationMs:      result.DurationMs,
	}); err != nil {
		p.log.Error("failed to complete query record", "queryId", queryID, "error", err)
	}

	p.audit(ctx, store.AuditLog{
		Action:      "rag_query",
		Status:      "completed",
		EntityCount: len(result.Entities),
		ChunkCount:  len(result.VectorResults),
		DurationMs:  result.DurationMs,
	})
}

func (p *Planner) audit(ctx context.Context, entry store.AuditLog) {
	if err := p.queries.InsertAuditLog(ctx, entry); err != nil {
		p.log.Error("failed to write query audit entry", "action", entry.Action, "error", err)
	}
}
