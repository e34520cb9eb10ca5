package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stjgraph/stjrag/llm"
	"github.com/stjgraph/stjrag/store"
)

// ErrBuildInProgress is returned when a concurrent build is rejected.
var ErrBuildInProgress = errors.New("graph: community build already in progress")

// maxSummaryCalls caps LLM summarization per build to bound cost.
const maxSummaryCalls = 30

// summaryPause spaces consecutive summarization calls.
const summaryPause = 500 * time.Millisecond

// summaryTimeout caps a single community summarization call.
const summaryTimeout = 60 * time.Second

// maxKeyEntities is how many member ids a community report keeps.
const maxKeyEntities = 10

// communityReportPrompt asks the LLM for a strict JSON community report.
const communityReportPrompt = `Você é um analista de jurisprudência. Abaixo está um grupo de entidades relacionadas extraídas de decisões do STJ, com os relacionamentos internos do grupo.

ENTIDADES:
%s

RELACIONAMENTOS:
%s

Retorne um objeto JSON com exatamente três chaves:
  "title"      : um título curto para o grupo (máximo 10 palavras)
  "summary"    : resumo de 2-3 frases do que conecta essas entidades
  "fullReport" : relatório detalhado (1-3 parágrafos) sobre o grupo e sua relevância jurisprudencial

NÃO inclua texto fora do objeto JSON.`

// Store is the persistence surface the community builder needs.
type Store interface {
	AllGraphNodes(ctx context.Context) ([]store.GraphNode, error)
	AllGraphEdges(ctx context.Context) ([]store.GraphEdge, error)
	ResetCommunities(ctx context.Context) error
	UpdateNodeCommunities(ctx context.Context, assignment map[string]int, level int) error
	InsertCommunity(ctx context.Context, c store.Community) error
}

// Builder runs the community building pipeline: detection, membership
// persistence, and LLM report generation.
type Builder struct {
	store Store
	chat  llm.Provider
	log   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewBuilder creates a community Builder.
func NewBuilder(s Store, chat llm.Provider) *Builder {
	return &Builder{
		store: s,
		chat:  chat,
		log:   slog.Default().With("component", "communities"),
	}
}

// BuildResult reports the outcome of a community build.
type BuildResult struct {
	Communities int `json:"communities"`
	Nodes       int `json:"nodes"`
	Summarized  int `json:"summarized"`
}

// Build runs the full pipeline. It is globally single-flight: a second
// concurrent call fails immediately instead of interleaving the clear
// and repopulate phases.
func (b *Builder) Build(ctx context.Context) (*BuildResult, error) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil, ErrBuildInProgress
	}
	b.running = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	nodes, err := b.store.AllGraphNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading nodes: %w", err)
	}
	edges, err := b.store.AllGraphEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading edges: %w", err)
	}

	b.log.Info("community build starting", "nodes", len(nodes), "edges", len(edges))

	// Clear community rows and null per-node memberships before
	// repopulating, so readers observe either the old set or the new one.
	if err := b.store.ResetCommunities(ctx); err != nil {
		return nil, fmt.Errorf("clearing communities: %w", err)
	}

	if len(nodes) == 0 {
		return &BuildResult{}, nil
	}

	adj := BuildAdjacency(nodes, edges)
	assignment := DetectCommunities(ctx, adj)

	if err := b.store.UpdateNodeCommunities(ctx, assignment, 0); err != nil {
		return nil, fmt.Errorf("persisting node communities: %w", err)
	}

	bags := groupCommunities(nodes, edges, assignment)
	sort.Slice(bags, func(i, j int) bool {
		return len(bags[i].members) > len(bags[j].members)
	})

	summarized := 0
	for _, bag := range bags {
		c := store.Community{
			CommunityID: bag.id,
			Level:       0,
			KeyEntities: keyEntityIDs(bag.members),
			EntityCount: len(bag.members),
			EdgeCount:   len(bag.edges),
			Rank:        float64(len(bag.members)) + 0.5*float64(len(bag.edges)),
		}

		if len(bag.members) >= 2 && summarized < maxSummaryCalls {
			if summarized > 0 {
				select {
				case <-time.After(summaryPause):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			report := b.summarize(ctx, bag)
			c.Title = report.Title
			c.Summary = report.Summary
			c.FullReport = report.FullReport
			summarized++
		} else {
			c.Title, c.Summary = fallbackReport(bag)
		}

		if err := b.store.InsertCommunity(ctx, c); err != nil {
			return nil, fmt.Errorf("inserting community %d: %w", bag.id, err)
		}
	}

	b.log.Info("community build complete",
		"communities", len(bags), "summarized", summarized)
	return &BuildResult{
		Communities: len(bags),
		Nodes:       len(nodes),
		Summarized:  summarized,
	}, nil
}

// communityBag collects a community's members and internal edges.
type communityBag struct {
	id      int
	members []store.GraphNode
	edges   []store.GraphEdge
}

// groupCommunities partitions nodes into bags and keeps only the edges
// whose both endpoints fall in the same bag.
func groupCommunities(nodes []store.GraphNode, edges []store.GraphEdge, assignment map[string]int) []communityBag {
	byID := make(map[int]*communityBag)
	for _, n := range nodes {
		c, ok := assignment[n.EntityID]
		if !ok {
			continue
		}
		bag := byID[c]
		if bag == nil {
			bag = &communityBag{id: c}
			byID[c] = bag
		}
		bag.members = append(bag.members, n)
	}
	for _, e := range edges {
		sc, okS := assignment[e.SourceID]
		tc, okT := assignment[e.TargetID]
		if !okS || !okT || sc != tc {
			continue
		}
		if bag := byID[sc]; bag != nil {
			bag.edges = append(bag.edges, e)
		}
	}

	bags := make([]communityBag, 0, len(byID))
	for _, bag := range byID {
		bags = append(bags, *bag)
	}
	return bags
}

func keyEntityIDs(members []store.GraphNode) []string {
	n := len(members)
	if n > maxKeyEntities {
		n = maxKeyEntities
	}
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = members[i].EntityID
	}
	return ids
}

// communityReport is the strict JSON shape of the summarization call.
type communityReport struct {
	Title      string `json:"title"`
	Summary    string `json:"summary"`
	FullReport string `json:"fullReport"`
}

// summarize asks the LLM for a community report; on any failure it
// falls back to a synthetic title and summary so the build never stalls
// on one community.
func (b *Builder) summarize(ctx context.Context, bag communityBag) communityReport {
	var entityLines []string
	for _, m := range bag.members {
		if m.Description != "" {
			entityLines = append(entityLines, fmt.Sprintf("- %s (%s): %s", m.Name, m.EntityType, m.Description))
		} else {
			entityLines = append(entityLines, fmt.Sprintf("- %s (%s)", m.Name, m.EntityType))
		}
	}
	var edgeLines []string
	for _, e := range bag.edges {
		edgeLines = append(edgeLines, fmt.Sprintf("- %s -[%s]-> %s: %s", e.SourceID, e.RelationshipType, e.TargetID, e.Description))
	}
	if len(edgeLines) == 0 {
		edgeLines = []string{"(nenhum relacionamento interno)"}
	}

	prompt := fmt.Sprintf(communityReportPrompt,
		strings.Join(entityLines, "\n"), strings.Join(edgeLines, "\n"))

	callCtx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()

	resp, err := b.chat.Chat(callCtx, llm.ChatRequest{
		Messages:       []llm.Message{{Role: "user", Content: prompt}},
		Temperature:    0.3,
		ResponseFormat: "json_object",
	})
	if err != nil {
		b.log.Warn("community summarization failed, using fallback",
			"community_id", bag.id, "error", err)
		title, summary := fallbackReport(bag)
		return communityReport{Title: title, Summary: summary}
	}

	jsonStr, err := extractJSON(resp.Content)
	if err == nil {
		var report communityReport
		if jerr := json.Unmarshal([]byte(jsonStr), &report); jerr == nil && report.Summary != "" {
			return report
		}
	}

	b.log.Warn("community report JSON invalid, using fallback", "community_id", bag.id)
	title, summary := fallbackReport(bag)
	return communityReport{Title: title, Summary: summary}
}

// fallbackReport builds a deterministic title and summary from the
// community's most mentioned members.
func fallbackReport(bag communityBag) (title, summary string) {
	names := make([]string, 0, 3)
	for i, m := range bag.members {
		if i == 3 {
			break
		}
		names = append(names, m.Name)
	}
	title = fmt.Sprintf("Comunidade %d", bag.id)
	if len(names) > 0 {
		title = names[0]
		summary = fmt.Sprintf("Grupo de %d entidades relacionadas, incluindo %s.",
			len(bag.members), strings.Join(names, ", "))
	}
	return title, summary
}
