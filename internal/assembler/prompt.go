package assembler

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/primaria-go/internal/domain"
)

// systemPrompt is formatted with the municipality name.
const systemPrompt = `Ești un asistent AI expert în legislația fiscală și administrativă românească pentru %s.

INSTRUCȚIUNI IMPORTANTE:
1. Răspunde DOAR pe baza informațiilor din contextul furnizat.
2. Dacă informația există în context, răspunde precis și include valorile numerice exacte (cote, termene, sume).
3. Citează sursa (document, pagină) atunci când este posibil.
4. Dacă nu găsești informația exactă, spune clar că nu ai suficiente detalii.
5. Răspunde în limba română, formal, concis dar complet.
6. Folosește numerotarea și structurarea pentru claritate.`

// noContextInstruction replaces the context block when retrieval found
// nothing for the tenant.
const noContextInstruction = `Nu există documente relevante pentru această întrebare în baza de documente a primăriei.
Spune politicos că nu ai găsit informații în documentele disponibile și recomandă
reformularea întrebării sau contactarea directă a primăriei.`

// contextHeader introduces the grounding passages.
const contextHeader = "Context legislativ disponibil:\n\n"

// buildContext formats passages as "[Document: name, Pagina: n]" blocks
// separated by "---", truncated to budget characters. A passage that does
// not fit is cut at the budget; later passages are dropped. It also returns
// how many leading passages made it into the text, counting a cut passage
// when its header starts inside the budget.
func buildContext(passages []domain.Passage, budget int) (string, int) {
	const sep = "\n\n---\n\n"
	var sb strings.Builder
	used, included := 0, 0
	for i, p := range passages {
		if i > 0 {
			if budget > 0 && used+utf8.RuneCountInString(sep) >= budget {
				break
			}
			sb.WriteString(sep)
			used += utf8.RuneCountInString(sep)
		}
		page := "N/A"
		if p.PageNumber != nil {
			page = fmt.Sprint(*p.PageNumber)
		}
		block := fmt.Sprintf("[Document: %s, Pagina: %s]\n%s", p.DocumentName, page, strings.TrimSpace(p.Text))
		sb.WriteString(block)
		used += utf8.RuneCountInString(block)
		included++
		if budget > 0 && used >= budget {
			break
		}
	}
	return truncateRunes(sb.String(), budget), included
}

// truncateRunes cuts s to at most n characters.
func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
