package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stjgraph/stjrag/llm"
	"github.com/stjgraph/stjrag/reasoning"
	"github.com/stjgraph/stjrag/store"
	"github.com/stjgraph/stjrag/vectorstore"
)

type fakeChat struct {
	respond func(req llm.ChatRequest) (*llm.ChatResponse, error)
	calls   []llm.ChatRequest
}

func (f *fakeChat) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.calls = append(f.calls, req)
	if f.respond == nil {
		return nil, errors.New("503 service unavailable")
	}
	return f.respond(req)
}

func (f *fakeChat) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type fakeGraph struct {
	nodes       map[string][]store.GraphNode
	edges       map[string][]store.GraphEdge
	communities []store.Community
	terms       []string
}

func (f *fakeGraph) SearchNodes(_ context.Context, term, _ string, limit int) ([]store.GraphNode, error) {
	f.terms = append(f.terms, term)
	nodes := f.nodes[strings.ToLower(term)]
	if len(nodes) > limit {
		nodes = nodes[:limit]
	}
	return nodes, nil
}

func (f *fakeGraph) GetNodes(_ context.Context, entityIDs []string) ([]store.GraphNode, error) {
	var out []store.GraphNode
	for _, nodes := range f.nodes {
		for _, n := range nodes {
			for _, id := range entityIDs {
				if n.EntityID == id {
					out = append(out, n)
				}
			}
		}
	}
	return out, nil
}

func (f *fakeGraph) NodeEdges(_ context.Context, entityID string, _ int) ([]store.GraphEdge, error) {
	return f.edges[entityID], nil
}

func (f *fakeGraph) Communities(_ context.Context, _ *int) ([]store.Community, error) {
	return f.communities, nil
}

type fakeQueries struct {
	inserted  []string
	insertErr error
	completed map[int64]store.RagQueryUpdate
	audits    []store.AuditLog
}

func (f *fakeQueries) InsertRagQuery(_ context.Context, _ *int64, query string) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.inserted = append(f.inserted, query)
	return int64(len(f.inserted)), nil
}

func (f *fakeQueries) CompleteRagQuery(_ context.Context, id int64, upd store.RagQueryUpdate) error {
	if f.completed == nil {
		f.completed = map[int64]store.RagQueryUpdate{}
	}
	f.completed[id] = upd
	return nil
}

func (f *fakeQueries) InsertAuditLog(_ context.Context, a store.AuditLog) error {
	f.audits = append(f.audits, a)
	return nil
}

type fakeFinder struct{ names []string }

func (f *fakeFinder) QueryEntities(context.Context, string) []string { return f.names }

type fakeVectors struct {
	results []vectorstore.SearchResult
	err     error
}

func (f *fakeVectors) SearchAll(context.Context, []float32, int) ([]vectorstore.SearchResult, error) {
	return f.results, f.err
}

func newTestPlanner(chat *fakeChat, g *fakeGraph, q *fakeQueries, finder *fakeFinder, v *fakeVectors) *Planner {
	return NewPlanner(chat, g, q, finder, v, chat, slog.New(slog.DiscardHandler))
}

func newTestChain() *reasoning.Chain { return reasoning.NewChain() }

func TestQueryWithEmptyStoresReturnsCannedAnswer(t *testing.T) {
	chat := &fakeChat{} // classification fails too, forcing hybrid
	queries := &fakeQueries{}
	p := newTestPlanner(chat, &fakeGraph{}, queries, &fakeFinder{}, &fakeVectors{})

	result, err := p.Query(context.Background(), "tendências jurisprudenciais recentes", nil)
	require.NoError(t, err)

	assert.Equal(t, NoContextAnswer, result.Answer)
	assert.Equal(t, QueryHybrid, result.QueryType)
	assert.Empty(t, result.Entities)
	assert.Empty(t, result.CommunityReports)
	assert.Empty(t, result.VectorResults)
	assert.NotEmpty(t, result.ReasoningChain)

	// Record created before retrieval and completed after.
	require.Len(t, queries.inserted, 1)
	upd, ok := queries.completed[result.QueryID]
	require.True(t, ok)
	assert.Equal(t, NoContextAnswer, upd.Response)
	assert.Equal(t, QueryHybrid, upd.QueryType)
	assert.Empty(t, upd.Entities)

	require.Len(t, queries.audits, 2)
	assert.Equal(t, "rag_query", queries.audits[0].Action)
	assert.Equal(t, "started", queries.audits[0].Status)
	assert.Equal(t, "completed", queries.audits[1].Status)
}

func TestQueryAuditsFailureWhenRecordInsertFails(t *testing.T) {
	queries := &fakeQueries{insertErr: errors.New("connection reset")}
	p := newTestPlanner(&fakeChat{}, &fakeGraph{}, queries, &fakeFinder{}, &fakeVectors{})

	_, err := p.Query(context.Background(), "qualquer consulta", nil)
	require.Error(t, err)
	require.Len(t, queries.audits, 1)
	assert.Equal(t, "rag_query", queries.audits[0].Action)
	assert.Equal(t, "failed", queries.audits[0].Status)
	assert.Equal(t, "connection reset", queries.audits[0].ErrorMessage)
}

func TestClassificationRoutesRetrievers(t *testing.T) {
	chat := &fakeChat{respond: func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		if req.ResponseFormat == "json_object" {
			if strings.Contains(req.Messages[0].Content, "Classifique") {
				return &llm.ChatResponse{Content: `{"queryType": "global", "reasoning": "pede tendências"}`}, nil
			}
			return &llm.ChatResponse{Content: `{"entities": []}`}, nil
		}
		return &llm.ChatResponse{Content: "A jurisprudência consolidou-se no tema de direito do consumidor."}, nil
	}}
	g := &fakeGraph{communities: []store.Community{
		{Title: "Direito do Consumidor", Summary: strings.Repeat("Comunidade sobre relações de consumo. ", 2), EntityCount: 12, EdgeCount: 30, Rank: 27},
	}}
	queries := &fakeQueries{}
	p := newTestPlanner(chat, g, queries, &fakeFinder{}, &fakeVectors{})

	result, err := p.Query(context.Background(), "quais as tendências em direito do consumidor?", nil)
	require.NoError(t, err)

	assert.Equal(t, QueryGlobal, result.QueryType)
	require.Len(t, result.CommunityReports, 1)
	assert.Empty(t, result.Entities, "global queries skip local search")
	assert.Contains(t, result.Answer, "consumidor")

	upd := queries.completed[result.QueryID]
	assert.Equal(t, []string{"Direito do Consumidor"}, upd.CommunityTitles)
}

func TestLocalSearchMergesWithoutDuplicates(t *testing.T) {
	herman := store.GraphNode{EntityID: "ministro:herman_benjamin", Name: "Herman Benjamin", EntityType: "MINISTRO", MentionCount: 9}
	resp := store.GraphNode{EntityID: "processo:resp_1_234_567", Name: "REsp 1.234.567", EntityType: "PROCESSO"}
	g := &fakeGraph{
		nodes: map[string][]store.GraphNode{
			"herman benjamin": {herman},
			// The full-query prefix search returns an overlapping set.
			"quem é herman benjamin?": {herman, resp},
		},
		edges: map[string][]store.GraphEdge{
			"ministro:herman_benjamin": {{
				SourceID: "ministro:herman_benjamin", TargetID: "processo:resp_1_234_567",
				RelationshipType: "RELATOR_DE", Weight: 0.9,
			}},
		},
	}
	chat := &fakeChat{}
	p := newTestPlanner(chat, g, &fakeQueries{}, &fakeFinder{names: []string{"Herman Benjamin"}}, &fakeVectors{})

	local := p.localSearch(context.Background(), "quem é herman benjamin?", newTestChain())
	require.Len(t, local.entities, 2)
	assert.Equal(t, "ministro:herman_benjamin", local.entities[0].EntityID)
	assert.Contains(t, local.context, "RELATOR_DE → REsp 1.234.567")
	assert.Contains(t, local.context, "(9 menções)")
}

func TestLocalSearchPrefixDoesNotSplitRunes(t *testing.T) {
	g := &fakeGraph{}
	p := newTestPlanner(&fakeChat{}, g, &fakeQueries{}, &fakeFinder{}, &fakeVectors{})

	// Every character is multibyte, so a byte-based cut at 100 would land
	// mid-rune and produce an invalid search term.
	q := strings.Repeat("ação", 40)
	p.localSearch(context.Background(), q, newTestChain())

	require.Len(t, g.terms, 1)
	assert.True(t, utf8.ValidString(g.terms[0]))
	assert.Equal(t, string([]rune(q)[:fullQueryPrefixLen]), g.terms[0])
}

func TestGlobalSearchSkipsTrivialSummaries(t *testing.T) {
	var communities []store.Community
	for i := 0; i < 20; i++ {
		communities = append(communities, store.Community{
			Title:   "Comunidade",
			Summary: strings.Repeat("Resumo substancial da comunidade. ", 2),
		})
	}
	communities = append(communities, store.Community{Title: "Vazia", Summary: "n/a"})

	p := newTestPlanner(&fakeChat{}, &fakeGraph{communities: communities}, &fakeQueries{}, &fakeFinder{}, &fakeVectors{})
	global := p.globalSearch(context.Background(), newTestChain())

	assert.Len(t, global.communities, maxCommunities)
	assert.NotContains(t, global.context, "Vazia")
}

func TestFusionPromptSections(t *testing.T) {
	prompt := fusionPrompt("qual o entendimento?", "grafo", "", "vetor")
	assert.Contains(t, prompt, "=== CONTEXTO DO GRAFO ===\ngrafo")
	assert.NotContains(t, prompt, "=== CONTEXTO GLOBAL ===")
	assert.Contains(t, prompt, "=== CONTEXTO VETORIAL ===\nvetor")
	assert.True(t, strings.HasSuffix(prompt, "Pergunta: qual o entendimento?"))

	assert.Empty(t, fusionPrompt("q", "", "", ""))
}
