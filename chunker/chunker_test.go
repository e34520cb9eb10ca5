package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkTextSingleChunkFastPath(t *testing.T) {
	chunks := ChunkText("Uma frase curta.", map[string]string{"origem": "teste"}, 1000, 200)

	require.Len(t, chunks, 1)
	assert.Equal(t, "Uma frase curta.", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "teste", chunks[0].Metadata["origem"])
}

func TestChunkTextEmptyInput(t *testing.T) {
	assert.Nil(t, ChunkText("", nil, 1000, 200))
	assert.Nil(t, ChunkText("   \n\t  ", nil, 1000, 200))
}

func TestChunkTextNormalizesWhitespace(t *testing.T) {
	chunks := ChunkText("Primeira   frase.\n\nSegunda\tfrase.", nil, 1000, 200)

	require.Len(t, chunks, 1)
	assert.Equal(t, "Primeira frase. Segunda frase.", chunks[0].Text)
}

func TestChunkTextRepeatedSentences(t *testing.T) {
	text := strings.Repeat("Frase um. ", 200)
	chunks := ChunkText(text, map[string]string{}, 500, 100)

	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.LessOrEqual(t, len(c.Text), 600, "chunk %d too long", i)
		assert.NotEmpty(t, strings.TrimSpace(c.Text))
	}
}

func TestChunkTextOverlapCarriesTrailingWords(t *testing.T) {
	text := strings.Repeat("Sentença de teste com várias palavras. ", 60)
	chunks := ChunkText(text, nil, 400, 80)

	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		prevWords := strings.Fields(chunks[i-1].Text)
		tail := prevWords[len(prevWords)-1]
		assert.Contains(t, chunks[i].Text, tail,
			"chunk %d should re-include trailing words of chunk %d", i, i-1)
	}
}

func TestChunkTextMetadataIsShallowCopy(t *testing.T) {
	meta := map[string]string{"processo": "REsp 1/SP"}
	chunks := ChunkText(strings.Repeat("Frase um. ", 200), meta, 500, 100)

	require.Greater(t, len(chunks), 1)
	chunks[0].Metadata["processo"] = "alterado"
	assert.Equal(t, "REsp 1/SP", meta["processo"])
	assert.Equal(t, "REsp 1/SP", chunks[1].Metadata["processo"])
}

func TestSplitSentencesPortugueseBoundaries(t *testing.T) {
	text := "O recurso foi provido; Às partes cabe recorrer. 2ª Turma decidiu."
	sentences := splitSentences(text)

	require.Len(t, sentences, 3)
	assert.Equal(t, "O recurso foi provido;", sentences[0])
	assert.Equal(t, "Às partes cabe recorrer.", sentences[1])
	assert.Equal(t, "2ª Turma decidiu.", sentences[2])
}

func TestSplitSentencesNoBoundaryOnLowercase(t *testing.T) {
	// "art. 5º" style abbreviations followed by lowercase must not split.
	text := "Nos termos do art. citado, nega-se provimento."
	sentences := splitSentences(text)
	require.Len(t, sentences, 1)
}

func TestOverlapTailLength(t *testing.T) {
	text := strings.Repeat("palavra ", 50)
	tail := overlapTail(strings.TrimSpace(text), 100)

	assert.GreaterOrEqual(t, len(tail), 100)
	// At most one extra word beyond the requested overlap.
	assert.Less(t, len(tail), 100+len("palavra ")+1)
}

func TestFromSTJRecordProjectsKnownFields(t *testing.T) {
	text, meta := FromSTJRecord(map[string]any{
		"processo": "REsp 1/SP",
		"ementa":   "Ementa.",
	})

	assert.Contains(t, text, "Processo: REsp 1/SP")
	assert.Contains(t, text, "EMENTA: Ementa.")
	assert.Equal(t, "REsp 1/SP", meta["processo"])
}

func TestFromSTJRecordLegislationListOrString(t *testing.T) {
	text, _ := FromSTJRecord(map[string]any{
		"processo":                "REsp 2/RJ",
		"referenciasLegislativas": []any{"CF art. 5", "CPC art. 1022"},
	})
	assert.Contains(t, text, "Referências Legislativas: CF art. 5; CPC art. 1022")

	text, _ = FromSTJRecord(map[string]any{
		"processo":                "REsp 2/RJ",
		"referenciasLegislativas": "CF art. 5",
	})
	assert.Contains(t, text, "Referências Legislativas: CF art. 5")
}

func TestFromSTJRecordCatchAllLongStrings(t *testing.T) {
	long := strings.Repeat("conteúdo adicional relevante ", 4)
	text, _ := FromSTJRecord(map[string]any{
		"processo":    "REsp 3/MG",
		"observacoes": long,
		"curto":       "pequeno",
	})

	assert.Contains(t, text, "observacoes: "+strings.TrimSpace(long))
	assert.NotContains(t, text, "pequeno")
}

func TestFromSTJRecordCatchAllIsDeterministic(t *testing.T) {
	record := map[string]any{
		"processo": "REsp 3/MG",
		"zeta":     strings.Repeat("campo livre com texto suficiente ", 3),
		"alfa":     strings.Repeat("outro campo livre com texto suficiente ", 3),
		"media":    strings.Repeat("mais um campo livre com texto suficiente ", 3),
	}

	first, _ := FromSTJRecord(record)
	for i := 0; i < 20; i++ {
		text, _ := FromSTJRecord(record)
		require.Equal(t, first, text)
	}
	// Unprojected fields append in key order.
	assert.Less(t, strings.Index(first, "alfa:"), strings.Index(first, "media:"))
	assert.Less(t, strings.Index(first, "media:"), strings.Index(first, "zeta:"))
}

func TestFromSTJRecordEmpty(t *testing.T) {
	text, meta := FromSTJRecord(map[string]any{"numero": 42.0})
	if text != "" {
		// Numeric fields render but only via well-known keys; an unknown
		// numeric field must not produce text.
		t.Fatalf("expected empty text, got %q", text)
	}
	assert.Nil(t, meta)
}

func TestChunkedRecordContainsEmenta(t *testing.T) {
	ementa := "EMENTA DE TESTE. " + strings.Repeat("Fundamento relevante da decisão. ", 80)
	text, meta := FromSTJRecord(map[string]any{
		"processo": "REsp 4/SP",
		"ementa":   ementa,
	})
	require.NotEmpty(t, text)

	chunks := ChunkText(text, meta, 1000, 200)
	require.NotEmpty(t, chunks)

	joined := ""
	for _, c := range chunks {
		joined += c.Text + " "
	}
	assert.Contains(t, joined, "EMENTA DE TESTE.")
}
