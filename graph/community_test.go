package graph

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stjgraph/stjrag/llm"
	"github.com/stjgraph/stjrag/store"
)

type memGraphStore struct {
	mu          sync.Mutex
	nodes       []store.GraphNode
	edges       []store.GraphEdge
	resets      int
	assignments []map[string]int
	communities []store.Community
}

func (m *memGraphStore) AllGraphNodes(context.Context) ([]store.GraphNode, error) {
	return m.nodes, nil
}

func (m *memGraphStore) AllGraphEdges(context.Context) ([]store.GraphEdge, error) {
	return m.edges, nil
}

func (m *memGraphStore) ResetCommunities(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	m.communities = nil
	return nil
}

func (m *memGraphStore) UpdateNodeCommunities(_ context.Context, assignment map[string]int, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments = append(m.assignments, assignment)
	return nil
}

func (m *memGraphStore) InsertCommunity(_ context.Context, c store.Community) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.communities = append(m.communities, c)
	return nil
}

// twoClusterGraph builds two dense triangles joined by nothing, the
// smallest graph where detection must find exactly two communities.
func twoClusterGraph() ([]store.GraphNode, []store.GraphEdge) {
	ids := []string{"a", "b", "c", "x", "y", "z"}
	var nodes []store.GraphNode
	for _, id := range ids {
		nodes = append(nodes, store.GraphNode{EntityID: id, Name: id, EntityType: EntityTema})
	}
	pairs := [][2]string{{"a", "b"}, {"b", "c"}, {"a", "c"}, {"x", "y"}, {"y", "z"}, {"x", "z"}}
	var edges []store.GraphEdge
	for _, p := range pairs {
		edges = append(edges, store.GraphEdge{SourceID: p[0], TargetID: p[1], RelationshipType: RelSimilarA, Weight: 1})
	}
	return nodes, edges
}

func TestBuildDetectsTwoCommunities(t *testing.T) {
	s := &memGraphStore{}
	s.nodes, s.edges = twoClusterGraph()
	chat := &scriptedChat{responses: []string{
		`{"title": "Grupo", "summary": "Resumo do grupo de temas.", "fullReport": "Relatório completo."}`,
	}}

	result, err := NewBuilder(s, chat).Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Communities)
	assert.Equal(t, 6, result.Nodes)
	assert.Equal(t, 1, s.resets)
	require.Len(t, s.communities, 2)

	for _, c := range s.communities {
		assert.Equal(t, 0, c.Level)
		assert.Equal(t, 3, c.EntityCount)
		assert.Equal(t, 3, c.EdgeCount)
		// rank = entityCount + 0.5*edgeCount
		assert.InDelta(t, 4.5, c.Rank, 1e-9)
		assert.Equal(t, "Grupo", c.Title)
	}

	// Every node is assigned, and the two triangles never share one.
	require.Len(t, s.assignments, 1)
	assignment := s.assignments[0]
	require.Len(t, assignment, 6)
	assert.Equal(t, assignment["a"], assignment["c"])
	assert.Equal(t, assignment["x"], assignment["z"])
	assert.NotEqual(t, assignment["a"], assignment["x"])
}

func TestBuildEmptyGraphOnlyClears(t *testing.T) {
	s := &memGraphStore{}
	result, err := NewBuilder(s, &scriptedChat{responses: []string{"{}"}}).Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &BuildResult{}, result)
	assert.Equal(t, 1, s.resets)
	assert.Empty(t, s.communities)
}

func TestBuildFallsBackWhenSummarizationFails(t *testing.T) {
	s := &memGraphStore{}
	s.nodes, s.edges = twoClusterGraph()
	chat := &scriptedChat{err: errors.New("503 upstream down")}

	result, err := NewBuilder(s, chat).Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Communities)

	for _, c := range s.communities {
		assert.NotEmpty(t, c.Title)
		assert.NotEmpty(t, c.Summary)
	}
}

func TestBuildIsSingleFlight(t *testing.T) {
	s := &memGraphStore{}
	b := NewBuilder(s, &scriptedChat{responses: []string{"{}"}})
	b.mu.Lock()
	b.running = true
	b.mu.Unlock()

	_, err := b.Build(context.Background())
	require.ErrorIs(t, err, ErrBuildInProgress)
}

var _ llm.Provider = (*scriptedChat)(nil)
