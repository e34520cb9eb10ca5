package reasoning

import (
	"regexp"
	"strings"
)

// Citation patterns for Brazilian legal text: process classes used by
// the STJ and legislation references.
var (
	processPattern = regexp.MustCompile(`(?i)\b(?:REsp|AREsp|AgRg|AgInt|EREsp|HC|RHC|MS|RMS|CC|EDcl|Pet|Rcl|SLS|IAC)\s*(?:n[ºo.]?\s*)?[\d][\d.,/-]*\d`)

	legislationPattern = regexp.MustCompile(`(?i)\b(?:Lei\s+(?:Complementar\s+)?n?[ºo.]?\s*[\d.]+(?:/\d{2,4})?|Decreto(?:-Lei)?\s+n?[ºo.]?\s*[\d.]+(?:/\d{2,4})?|S[úu]mula\s+(?:n[ºo.]?\s*)?\d+|CF/\d{2,4}|C[óo]digo\s+(?:Civil|Penal|Tribut[áa]rio(?:\s+Nacional)?|de\s+Processo\s+(?:Civil|Penal)|de\s+Defesa\s+do\s+Consumidor)|art(?:igo)?\.?\s*\d+[\wº°§.-]*)`)
)

// ExtractCitations returns the distinct process and legislation
// references found in an answer, in order of first appearance.
func ExtractCitations(text string) (processes, legislation []string) {
	return dedupe(processPattern.FindAllString(text, -1)),
		dedupe(legislationPattern.FindAllString(text, -1))
}

// CitesContext reports whether the answer cites at least one process or
// legislation reference that also appears in the retrieval context.
// Answers with no citations at all trivially pass: not every question
// calls for one.
func CitesContext(answer, context string) bool {
	processes, legislation := ExtractCitations(answer)
	refs := append(processes, legislation...)
	if len(refs) == 0 {
		return true
	}
	contextFold := strings.ToLower(context)
	for _, ref := range refs {
		if strings.Contains(contextFold, strings.ToLower(ref)) {
			return true
		}
	}
	return false
}

func dedupe(refs []string) []string {
	seen := make(map[string]bool, len(refs))
	var out []string
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		key := strings.ToLower(ref)
		if ref == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ref)
	}
	return out
}
