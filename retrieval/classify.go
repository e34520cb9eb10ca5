package retrieval

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stjgraph/stjrag/llm"
	"github.com/stjgraph/stjrag/reasoning"
)

const classifyPrompt = `Classifique a consulta jurídica abaixo em um de três tipos de busca:

- "local": a consulta menciona entidades específicas (ministros, processos, órgãos julgadores, legislação, partes) e pede fatos sobre elas.
- "global": a consulta pede padrões, tendências ou visão geral da jurisprudência, sem entidades específicas.
- "hybrid": a consulta combina entidades específicas com análise ampla, ou o tipo não é claro.

Consulta: %s

Responda SOMENTE com JSON no formato {"queryType": "local"|"global"|"hybrid", "reasoning": "..."}`

// classify asks the LLM to route the query. Any failure, malformed
// JSON included, defaults to hybrid so retrieval still runs.
func (p *Planner) classify(ctx context.Context, q string, chain *reasoning.Chain) string {
	resp, err := p.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf(classifyPrompt, q)},
		},
		Temperature:    0.0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		p.log.Warn("query classification failed, defaulting to hybrid", "error", err)
		chain.Add("classificação falhou, usando busca híbrida")
		return QueryHybrid
	}

	var out struct {
		QueryType string `json:"queryType"`
		Reasoning string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		chain.Add("classificação retornou JSON inválido, usando busca híbrida")
		return QueryHybrid
	}

	switch out.QueryType {
	case QueryLocal, QueryGlobal, QueryHybrid:
		chain.Add("consulta classificada como %s: %s", out.QueryType, out.Reasoning)
		return out.QueryType
	default:
		chain.Add("classificação desconhecida %q, usando busca híbrida", out.QueryType)
		return QueryHybrid
	}
}
