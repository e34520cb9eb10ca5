package chunker

import (
	"fmt"
	"sort"
	"strings"
)

// recordSection is one well-known STJ record field projected into the
// canonical text form.
type recordSection struct {
	key   string
	label string
}

// recordSections lists the projected fields in output order. Ementa,
// decisão and acórdão carry the primary text body of a legal record.
var recordSections = []recordSection{
	{"processo", "Processo"},
	{"classe", "Classe"},
	{"relator", "Relator"},
	{"orgaoJulgador", "Órgão Julgador"},
	{"dataJulgamento", "Data de Julgamento"},
	{"dataPublicacao", "Data de Publicação"},
	{"ementa", "EMENTA"},
	{"decisao", "DECISÃO"},
	{"acordao", "ACÓRDÃO"},
	{"referenciasLegislativas", "Referências Legislativas"},
	{"palavrasChave", "Palavras-chave"},
	{"tema", "Tema"},
	{"ramo", "Ramo do Direito"},
	{"notas", "Notas"},
	{"informacoesComplementares", "Informações Complementares"},
}

// metadataKeys are the record fields copied into chunk metadata.
var metadataKeys = []string{"processo", "classe", "relator", "orgaoJulgador", "tema", "ramo"}

// minCatchAllLen is the minimum length for an unprojected string field
// to be appended to the text form.
const minCatchAllLen = 50

// FromSTJRecord projects a typed STJ record into a canonical text form
// plus chunk metadata. Well-known fields become labeled sections joined
// by blank lines; any remaining string field longer than minCatchAllLen
// characters that is not already included as a substring is appended.
// Returns empty text when nothing projects.
func FromSTJRecord(record map[string]any) (string, map[string]string) {
	if len(record) == 0 {
		return "", nil
	}

	var parts []string
	projected := make(map[string]bool, len(recordSections))

	for _, sec := range recordSections {
		projected[sec.key] = true
		value := fieldString(record[sec.key])
		if value == "" {
			continue
		}
		parts = append(parts, sec.label+": "+value)
	}

	text := strings.Join(parts, "\n\n")

	// Catch-all: surface long free-text fields the projection missed.
	// Sorted keys keep the canonical form stable across runs.
	rest := make([]string, 0, len(record))
	for key := range record {
		if !projected[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		s, ok := record[key].(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if len(s) <= minCatchAllLen || strings.Contains(text, s) {
			continue
		}
		text += "\n\n" + key + ": " + s
	}
	text = strings.TrimSpace(text)

	if text == "" {
		return "", nil
	}

	metadata := make(map[string]string)
	for _, key := range metadataKeys {
		if v := fieldString(record[key]); v != "" {
			metadata[key] = v
		}
	}
	return text, metadata
}

// fieldString renders a record field value: strings pass through,
// lists (referenciasLegislativas may arrive as either) are joined with
// semicolons, everything else is dropped.
func fieldString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []any:
		var items []string
		for _, it := range t {
			if s := fieldString(it); s != "" {
				items = append(items, s)
			}
		}
		return strings.Join(items, "; ")
	case []string:
		return strings.Join(t, "; ")
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", t), "0"), ".")
	default:
		return ""
	}
}
