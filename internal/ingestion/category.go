package ingestion

import (
	"path/filepath"
	"strings"

	"github.com/54b3r/primaria-go/internal/romanian"
)

// DefaultCategory is used when no keyword of the file name matches.
const DefaultCategory = "fiscal"

// categoryKeywords maps folded file-name keywords to a document category.
// Order matters: the first category with a matching keyword wins.
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{"urbanism", []string{"urbanism", "construire", "construct", "puz", "pug", "pud", "certificat", "demolare"}},
	{"social", []string{"social", "ajutor", "asistenta", "alocatie", "handicap"}},
	{"transport", []string{"transport", "parcare", "parcari", "circulatie"}},
	{"mediu", []string{"mediu", "salubrizare", "deseuri", "spatii verzi"}},
	{"stare-civila", []string{"stare civila", "casatorie", "nastere", "deces", "evidenta"}},
	{"fiscal", []string{"fiscal", "taxe", "taxa", "impozit", "tva", "itl", "buget"}},
	{"juridic", []string{"hcl", "hotarare", "hotararea", "lege", "regulament", "dispozitie", "ordonanta"}},
}

// InferCategory guesses a document category from its file name, e.g.
// "HCL_taxe_locale_2025.pdf" is fiscal and "certificat-urbanism.txt" is
// urbanism.
func InferCategory(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	folded := " " + strings.Join(romanian.Tokens(base), " ") + " "
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			// Long keywords also match as a word prefix ("construct" in "constructii").
			if strings.Contains(folded, " "+kw+" ") || (len(kw) >= 5 && strings.Contains(folded, " "+kw)) {
				return c.category
			}
		}
	}
	return DefaultCategory
}
