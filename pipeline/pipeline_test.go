package pipeline

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stjgraph/stjrag/graph"
	"github.com/stjgraph/stjrag/store"
)

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "stj_decisoes_monocraticas", CollectionName("decisoes-monocraticas"))
	assert.Equal(t, "stj_julgados_2024", CollectionName("Julgados 2024"))
}

func TestDocumentCollectionName(t *testing.T) {
	assert.Equal(t, "doc_42_peticao_inicial", DocumentCollectionName(42, "Petição Inicial.pdf"))
	assert.Equal(t, "doc_7_documento", DocumentCollectionName(7, "...pdf"))
}

func TestTruncateTextCountsCharacters(t *testing.T) {
	// Accented text must keep the full character budget, not a byte one.
	text := strings.Repeat("decisão", 3)
	out := truncateText(text, 10)
	assert.Equal(t, 10, utf8.RuneCountInString(out))
	assert.True(t, strings.HasPrefix(text, out))
	assert.True(t, utf8.ValidString(out))

	assert.Equal(t, "curto", truncateText("curto", 100))
	assert.Equal(t, "decisão", truncateText("decisão", 7))
}

func TestParseRecordsShapes(t *testing.T) {
	records, err := parseRecords([]byte(`[{"numero": "1"}, {"numero": "2"}]`))
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = parseRecords([]byte(`{"result": [{"numero": "3"}]}`))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "3", records[0]["numero"])

	records, err = parseRecords([]byte(`{"numero": "4", "ementa": "x"}`))
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = parseRecords([]byte(`"just a string"`))
	assert.Error(t, err)
}

func TestChunkRecordsReindexesAcrossRecords(t *testing.T) {
	records := []map[string]any{
		{"ementa": strings.Repeat("a", 1500)},
		{"ementa": "curta"},
		{"vazio": ""},
	}
	chunks := chunkRecords(records)
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
}

func TestGraphRowsDedupesAndClamps(t *testing.T) {
	heavy := 2.0
	result := graph.ExtractionResult{
		Entities: []graph.ExtractedEntity{
			{Name: "Herman Benjamin", EntityType: graph.EntityMinistro, Description: "ministro"},
			{Name: "Herman Benjamin", EntityType: graph.EntityMinistro, Description: "repetido"},
			{Name: "REsp 1.234.567", EntityType: graph.EntityProcesso},
			{Name: "   ", EntityType: graph.EntityTema},
		},
		Relationships: []graph.ExtractedRelationship{
			{
				SourceName: "Herman Benjamin", SourceType: graph.EntityMinistro,
				TargetName: "REsp 1.234.567", TargetType: graph.EntityProcesso,
				RelationshipType: graph.RelRelatorDe, Weight: &heavy,
			},
			{
				SourceName: "Desconhecido", SourceType: graph.EntityParte,
				TargetName: "REsp 1.234.567", TargetType: graph.EntityProcesso,
				RelationshipType: graph.RelParteEm,
			},
		},
	}

	nodes, edges := graphRows(result)
	require.Len(t, nodes, 2)
	assert.Equal(t, "ministro:herman_benjamin", nodes[0].EntityID)

	// The edge with an unresolvable endpoint is dropped; the kept edge
	// has its weight clamped into [0,1].
	require.Len(t, edges, 1)
	assert.Equal(t, graph.RelRelatorDe, edges[0].RelationshipType)
	assert.Equal(t, 1.0, edges[0].Weight)
}

func TestStatusOrdersCoverPipelines(t *testing.T) {
	assert.Len(t, store.ResourceStatusOrder, 9)
	assert.Len(t, store.DocumentStatusOrder, 7)
	assert.Equal(t, 8, store.ResourceStatusOrder[store.ResourceStatusEmbedded])
	assert.Equal(t, 6, store.DocumentStatusOrder[store.DocumentStatusEmbedded])
}
