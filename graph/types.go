// Package graph extracts the typed entity/relationship graph from legal
// text, detects communities, and serves neighborhood queries.
package graph

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Entity types of the STJ legal graph. The set is closed: the extractor
// rejects anything outside it.
const (
	EntityMinistro         = "MINISTRO"
	EntityProcesso         = "PROCESSO"
	EntityOrgaoJulgador    = "ORGAO_JULGADOR"
	EntityTema             = "TEMA"
	EntityLegislacao       = "LEGISLACAO"
	EntityParte            = "PARTE"
	EntityPrecedente       = "PRECEDENTE"
	EntityDecisao          = "DECISAO"
	EntityConceitoJuridico = "CONCEITO_JURIDICO"
)

// Relationship types of the STJ legal graph, also a closed set.
const (
	RelRelatorDe      = "RELATOR_DE"
	RelJulgadoPor     = "JULGADO_POR"
	RelReferencia     = "REFERENCIA"
	RelCitaPrecedente = "CITA_PRECEDENTE"
	RelTrataDe        = "TRATA_DE"
	RelSimilarA       = "SIMILAR_A"
	RelPertenceA      = "PERTENCE_A"
	RelParteEm        = "PARTE_EM"
	RelFundamenta     = "FUNDAMENTA"
	RelAplica         = "APLICA"
	RelContraria      = "CONTRARIA"
	RelConfirma       = "CONFIRMA"
)

// EntityTypes is the closed set of valid entity types.
var EntityTypes = map[string]bool{
	EntityMinistro:         true,
	EntityProcesso:         true,
	EntityOrgaoJulgador:    true,
	EntityTema:             true,
	EntityLegislacao:       true,
	EntityParte:            true,
	EntityPrecedente:       true,
	EntityDecisao:          true,
	EntityConceitoJuridico: true,
}

// RelationshipTypes is the closed set of valid relationship types.
var RelationshipTypes = map[string]bool{
	RelRelatorDe:      true,
	RelJulgadoPor:     true,
	RelReferencia:     true,
	RelCitaPrecedente: true,
	RelTrataDe:        true,
	RelSimilarA:       true,
	RelPertenceA:      true,
	RelParteEm:        true,
	RelFundamenta:     true,
	RelAplica:         true,
	RelContraria:      true,
	RelConfirma:       true,
}

// ExtractedEntity is one entity in the LLM extraction result.
type ExtractedEntity struct {
	Name        string `json:"name"`
	EntityType  string `json:"entityType"`
	Description string `json:"description"`
}

// ExtractedRelationship is one relationship in the LLM extraction result.
// Weight is a pointer so an absent value can be defaulted rather than
// read as zero.
type ExtractedRelationship struct {
	SourceName       string   `json:"sourceName"`
	SourceType       string   `json:"sourceType"`
	TargetName       string   `json:"targetName"`
	TargetType       string   `json:"targetType"`
	RelationshipType string   `json:"relationshipType"`
	Description      string   `json:"description"`
	Weight           *float64 `json:"weight,omitempty"`
}

// ExtractionResult holds the structured output for one chunk.
type ExtractionResult struct {
	Entities      []ExtractedEntity       `json:"entities"`
	Relationships []ExtractedRelationship `json:"relationships"`
}

// Slug normalizes an entity name into its stable id component:
// lowercase, Unicode NFD with combining marks stripped, runs of
// non-alphanumeric characters collapsed to a single underscore, and
// leading/trailing underscores trimmed. Slug is idempotent and the
// result is ASCII-only.
func Slug(name string) string {
	lowered := strings.ToLower(name)
	decomposed := norm.NFD.String(lowered)

	var b strings.Builder
	lastUnderscore := false
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			// Combining mark stripped by NFD decomposition.
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

// EntityID derives the stable id for an entity from its name and type:
// lower(type) + ":" + slug(name). The derivation is deterministic, so
// repeated extractions of the same entity upsert the same row.
func EntityID(name, entityType string) string {
	return strings.ToLower(entityType) + ":" + Slug(name)
}

// ClampWeight clamps a relationship weight to [0,1]; nil defaults to 0.5.
func ClampWeight(w *float64) float64 {
	if w == nil {
		return 0.5
	}
	if *w < 0 {
		return 0
	}
	if *w > 1 {
		return 1
	}
	return *w
}
