package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/stjgraph/stjrag/llm"
)

// extractionPrompt constrains the LLM to the closed entity and
// relationship sets of the STJ legal graph.
const extractionPrompt = `Você é um motor de extração de entidades para jurisprudência do Superior Tribunal de Justiça.
Dado o trecho de texto abaixo, extraia todas as entidades e os relacionamentos entre elas.

TIPOS DE ENTIDADE (use exatamente estes valores):
MINISTRO, PROCESSO, ORGAO_JULGADOR, TEMA, LEGISLACAO, PARTE, PRECEDENTE, DECISAO, CONCEITO_JURIDICO

TIPOS DE RELACIONAMENTO (use exatamente estes valores):
RELATOR_DE, JULGADO_POR, REFERENCIA, CITA_PRECEDENTE, TRATA_DE, SIMILAR_A, PERTENCE_A, PARTE_EM, FUNDAMENTA, APLICA, CONTRARIA, CONFIRMA

Retorne um objeto JSON com exatamente duas chaves:
  "entities"      : array de {"name": string, "entityType": string, "description": string}
  "relationships" : array de {"sourceName": string, "sourceType": string, "targetName": string, "targetType": string, "relationshipType": string, "description": string, "weight": number}

Regras:
- Inclua apenas entidades claramente presentes no texto.
- "weight" é a confiança do relacionamento entre 0.0 e 1.0.
- O relator é um MINISTRO com relacionamento RELATOR_DE para o PROCESSO.
- O órgão julgador se conecta ao processo via JULGADO_POR.
- Se não houver nada, retorne arrays vazios.
- NÃO inclua texto fora do objeto JSON.

TEXTO:
%s`

// queryEntitiesPrompt asks for a plain list of entity names mentioned
// in a user query, for local search seeding.
const queryEntitiesPrompt = `Liste as entidades jurídicas (ministros, processos, órgãos julgadores, temas, legislação, partes, precedentes, conceitos jurídicos) mencionadas na consulta abaixo.

Retorne um objeto JSON com exatamente uma chave:
  "entities" : array de strings com os nomes das entidades

Se não houver nenhuma, retorne um array vazio. NÃO inclua texto fora do objeto JSON.

CONSULTA:
%s`

// interCallPause spaces consecutive extraction calls to stay under the
// LLM gateway's burst limits.
const interCallPause = 300 * time.Millisecond

// Extractor runs LLM entity/relationship extraction over chunks.
type Extractor struct {
	chat llm.Provider
	log  *slog.Logger
}

// NewExtractor creates an Extractor backed by the given chat provider.
func NewExtractor(chat llm.Provider) *Extractor {
	return &Extractor{
		chat: chat,
		log:  slog.Default().With("component", "extractor"),
	}
}

// codeBlockRe strips markdown code fences from LLM output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSON finds a JSON object in raw LLM output, tolerating code
// fences and stray prose before or after the object.
func extractJSON(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "{") {
		return raw, nil
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1], nil
	}
	return "", fmt.Errorf("no JSON object found in response")
}

// Extract calls the LLM for a single chunk and validates the result
// against the closed type sets. Transient failures (rate limits,
// upstream outages, network errors) are re-raised so the enclosing job
// can retry; permanent failures (malformed JSON, unknown types) yield
// an empty result so the pipeline keeps going.
func (x *Extractor) Extract(ctx context.Context, chunkText string) (ExtractionResult, error) {
	resp, err := x.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf(extractionPrompt, chunkText)},
		},
		Temperature:    0.0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		if llm.IsTransient(err) {
			return ExtractionResult{}, fmt.Errorf("entity extraction: %w", err)
		}
		x.log.Warn("extraction failed permanently, returning empty result", "error", err)
		return ExtractionResult{}, nil
	}

	jsonStr, err := extractJSON(resp.Content)
	if err != nil {
		x.log.Warn("extraction returned no JSON, returning empty result", "error", err)
		return ExtractionResult{}, nil
	}

	var raw ExtractionResult
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		x.log.Warn("extraction JSON is malformed, returning empty result", "error", err)
		return ExtractionResult{}, nil
	}

	return validateResult(raw), nil
}

// validateResult drops entities and relationships outside the closed
// type sets and normalizes names.
func validateResult(raw ExtractionResult) ExtractionResult {
	var out ExtractionResult
	for _, e := range raw.Entities {
		e.Name = strings.TrimSpace(e.Name)
		e.EntityType = strings.ToUpper(strings.TrimSpace(e.EntityType))
		if e.Name == "" || !EntityTypes[e.EntityType] {
			continue
		}
		out.Entities = append(out.Entities, e)
	}
	for _, r := range raw.Relationships {
		r.SourceName = strings.TrimSpace(r.SourceName)
		r.TargetName = strings.TrimSpace(r.TargetName)
		r.SourceType = strings.ToUpper(strings.TrimSpace(r.SourceType))
		r.TargetType = strings.ToUpper(strings.TrimSpace(r.TargetType))
		r.RelationshipType = strings.ToUpper(strings.TrimSpace(r.RelationshipType))
		if r.SourceName == "" || r.TargetName == "" {
			continue
		}
		if !EntityTypes[r.SourceType] || !EntityTypes[r.TargetType] {
			continue
		}
		if !RelationshipTypes[r.RelationshipType] {
			continue
		}
		out.Relationships = append(out.Relationships, r)
	}
	return out
}

// ExtractMany runs Extract sequentially over chunks, deduplicating
// entities by stable id and concatenating relationships. onProgress,
// when non-nil, receives (done, total) after each chunk.
func (x *Extractor) ExtractMany(ctx context.Context, chunks []string, onProgress func(done, total int)) (ExtractionResult, error) {
	byID := make(map[string]ExtractedEntity)
	var order []string
	var rels []ExtractedRelationship

	total := len(chunks)
	for i, chunk := range chunks {
		if i > 0 {
			select {
			case <-time.After(interCallPause):
			case <-ctx.Done():
				return ExtractionResult{}, ctx.Err()
			}
		}

		result, err := x.Extract(ctx, chunk)
		if err != nil {
			return ExtractionResult{}, err
		}

		for _, e := range result.Entities {
			id := EntityID(e.Name, e.EntityType)
			if _, seen := byID[id]; !seen {
				byID[id] = e
				order = append(order, id)
			}
		}
		rels = append(rels, result.Relationships...)

		if onProgress != nil {
			onProgress(i+1, total)
		}
	}

	out := ExtractionResult{Relationships: rels}
	for _, id := range order {
		out.Entities = append(out.Entities, byID[id])
	}
	return out, nil
}

// QueryEntities returns the entity names mentioned in a user query.
// Any failure is suppressed to an empty list: local search degrades to
// substring matching on the raw query.
func (x *Extractor) QueryEntities(ctx context.Context, query string) []string {
	resp, err := x.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf(queryEntitiesPrompt, query)},
		},
		Temperature:    0.0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		x.log.Debug("query entity extraction failed", "error", err)
		return nil
	}

	jsonStr, err := extractJSON(resp.Content)
	if err != nil {
		return nil
	}

	var result struct {
		Entities []string `json:"entities"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil
	}

	var names []string
	for _, n := range result.Entities {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}
