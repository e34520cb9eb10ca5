package retrieval

import "strings"

const answerSystemPrompt = `Você é um assistente jurídico especializado em jurisprudência do Superior Tribunal de Justiça. Responda APENAS com base no contexto fornecido. Cite entidades, processos e legislação presentes no contexto. Quando o contexto for insuficiente para responder, diga isso explicitamente. Não invente informações.`

// fusionPrompt assembles the labeled context sections and the question.
// Returns "" when every section is empty.
func fusionPrompt(q, localCtx, globalCtx, vectorCtx string) string {
	var b strings.Builder

	if localCtx != "" {
		b.WriteString("=== CONTEXTO DO GRAFO ===\n")
		b.WriteString(localCtx)
		b.WriteString("\n\n")
	}
	if globalCtx != "" {
		b.WriteString("=== CONTEXTO GLOBAL ===\n")
		b.WriteString(globalCtx)
		b.WriteString("\n\n")
	}
	if vectorCtx != "" {
		b.WriteString("=== CONTEXTO VETORIAL ===\n")
		b.WriteString(vectorCtx)
		b.WriteString("\n\n")
	}
	if b.Len() == 0 {
		return ""
	}

	b.WriteString("Pergunta: ")
	b.WriteString(q)
	return b.String()
}
