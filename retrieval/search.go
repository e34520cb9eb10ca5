package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/stjgraph/stjrag/reasoning"
	"github.com/stjgraph/stjrag/store"
	"github.com/stjgraph/stjrag/vectorstore"
)

type localResult struct {
	entities []store.GraphNode
	context  string
}

type globalResult struct {
	communities []store.Community
	context     string
}

type vectorResult struct {
	results []vectorstore.SearchResult
	context string
}

// localSearch resolves query entities against the graph and formats the
// neighborhood of the strongest matches.
func (p *Planner) localSearch(ctx context.Context, q string, chain *reasoning.Chain) localResult {
	names := p.finder.QueryEntities(ctx, q)
	chain.Add("busca local: %d entidades candidatas extraídas da consulta", len(names))

	seen := make(map[string]bool)
	var entities []store.GraphNode
	add := func(nodes []store.GraphNode) {
		for _, n := range nodes {
			if seen[n.EntityID] {
				continue
			}
			seen[n.EntityID] = true
			entities = append(entities, n)
		}
	}

	for _, name := range names {
		nodes, err := p.graph.SearchNodes(ctx, name, "", perNameLimit)
		if err != nil {
			p.log.Warn("graph search failed", "term", name, "error", err)
			continue
		}
		add(nodes)
	}

	prefix := q
	if runes := []rune(prefix); len(runes) > fullQueryPrefixLen {
		prefix = string(runes[:fullQueryPrefixLen])
	}
	if nodes, err := p.graph.SearchNodes(ctx, prefix, "", fullQueryLimit); err == nil {
		add(nodes)
	}

	if len(entities) > maxLocalEntities {
		entities = entities[:maxLocalEntities]
	}
	if len(entities) == 0 {
		chain.Add("busca local: nenhuma entidade encontrada no grafo")
		return localResult{}
	}
	chain.Add("busca local: %d entidades encontradas no grafo", len(entities))

	var b strings.Builder
	for i, e := range entities {
		if i >= neighborhoodSize {
			break
		}
		fmt.Fprintf(&b, "[%s] %s", e.EntityType, e.Name)
		if e.Description != "" {
			fmt.Fprintf(&b, ": %s", e.Description)
		}
		fmt.Fprintf(&b, " (%d menções)\n", e.MentionCount)

		edges, err := p.graph.NodeEdges(ctx, e.EntityID, edgesPerEntity)
		if err != nil {
			continue
		}
		for _, edge := range edges {
			b.WriteString("  - " + p.formatEdge(ctx, e.EntityID, edge) + "\n")
		}
		b.WriteString("\n")
	}

	return localResult{entities: entities, context: strings.TrimSpace(b.String())}
}

// formatEdge renders one relationship from the perspective of entityID.
func (p *Planner) formatEdge(ctx context.Context, entityID string, edge store.GraphEdge) string {
	otherID := edge.TargetID
	arrow := "%s → %s"
	if edge.TargetID == entityID {
		otherID = edge.SourceID
		arrow = "%s ← %s"
	}

	otherName := otherID
	if nodes, err := p.graph.GetNodes(ctx, []string{otherID}); err == nil && len(nodes) > 0 {
		otherName = nodes[0].Name
	}

	line := fmt.Sprintf(arrow, edge.RelationshipType, otherName)
	if edge.Description != "" {
		line += ": " + edge.Description
	}
	return line
}

// globalSearch assembles the community-report context: level-0
// communities by descending rank, trivial summaries skipped.
func (p *Planner) globalSearch(ctx context.Context, chain *reasoning.Chain) globalResult {
	level := 0
	all, err := p.graph.Communities(ctx, &level)
	if err != nil {
		p.log.Warn("community fetch failed", "error", err)
		chain.Add("busca global falhou: %v", err)
		return globalResult{}
	}

	var kept []store.Community
	for _, c := range all {
		if len(strings.TrimSpace(c.Summary)) < 20 {
			continue
		}
		kept = append(kept, c)
		if len(kept) == maxCommunities {
			break
		}
	}
	if len(kept) == 0 {
		chain.Add("busca global: nenhuma comunidade com resumo disponível")
		return globalResult{}
	}
	chain.Add("busca global: %d comunidades selecionadas de %d", len(kept), len(all))

	var b strings.Builder
	for _, c := range kept {
		fmt.Fprintf(&b, "## %s (%d entidades, %d relações)\n%s\n", c.Title, c.EntityCount, c.EdgeCount, c.Summary)
		if c.FullReport != "" && c.FullReport != c.Summary {
			b.WriteString(c.FullReport + "\n")
		}
		b.WriteString("\n")
	}

	return globalResult{communities: kept, context: strings.TrimSpace(b.String())}
}

// vectorSearch embeds the query and searches every collection.
func (p *Planner) vectorSearch(ctx context.Context, q string, chain *reasoning.Chain) vectorResult {
	vectors, err := p.embedder.Embed(ctx, []string{q})
	if err != nil || len(vectors) == 0 || vectors[0] == nil {
		p.log.Warn("query embedding failed", "error", err)
		chain.Add("busca vetorial: falha ao gerar embedding da consulta")
		return vectorResult{}
	}

	results, err := p.vectors.SearchAll(ctx, vectors[0], vectorLimit)
	if err != nil {
		p.log.Warn("vector search failed", "error", err)
		chain.Add("busca vetorial falhou: %v", err)
		return vectorResult{}
	}
	if len(results) == 0 {
		chain.Add("busca vetorial: nenhum trecho encontrado")
		return vectorResult{}
	}
	chain.Add("busca vetorial: %d trechos encontrados", len(results))

	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "[%s, score %.2f]\n%s\n\n", r.Source, r.Score, r.Text)
	}

	return vectorResult{results: results, context: strings.TrimSpace(b.String())}
}
