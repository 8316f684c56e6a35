package romanian

import (
	"regexp"
	"strings"
)

// rule is one rewrite applied by Polish.
type rule struct {
	re   *regexp.Regexp
	repl string
}

// wordRule matches phrase as whole words. RE2's \b is ASCII-only, so the
// boundaries are spelled out as non-letter classes to keep Romanian letters
// at the edges of a phrase working; they are captured and written back.
func wordRule(phrase, repl string) rule {
	return rule{
		re:   regexp.MustCompile(`(?i)(^|[^\p{L}\p{N}])(` + phrase + `)([^\p{L}\p{N}]|$)`),
		repl: "${1}" + repl + "${3}",
	}
}

func rawRule(pattern, repl string) rule {
	return rule{re: regexp.MustCompile(pattern), repl: repl}
}

// polishRules run in order: grammar agreement, formal address, legal
// document names, then number, currency and date formatting.
var polishRules = []rule{
	wordRule(`impozitele este`, "impozitele sunt"),
	wordRule(`documentele este`, "documentele sunt"),
	wordRule(`un taxă`, "o taxă"),
	wordRule(`un primărie`, "o primărie"),
	wordRule(`primăria sunt`, "primăria este"),
	wordRule(`consiliul sunt`, "consiliul este"),

	wordRule(`salut`, "Bună ziua"),
	wordRule(`ce mai faci`, "Cum vă pot ajuta"),
	wordRule(`te pot`, "vă pot"),
	wordRule(`te ajut`, "vă ajut"),
	wordRule(`ai nevoie`, "aveți nevoie"),

	wordRule(`hcl`, "HCL"),
	wordRule(`ogc`, "OGC"),
	wordRule(`hotărârea consiliului local`, "Hotărârea Consiliului Local"),
	wordRule(`consiliul local`, "Consiliul Local"),
	wordRule(`codul fiscal`, "Codul Fiscal"),
	wordRule(`ordonanța guvernului`, "Ordonanța Guvernului"),
	wordRule(`primaria`, "Primăria"),
	wordRule(`taxa pe clădire`, "taxa pe clădiri"),
	wordRule(`impozitul pe venit`, "impozitul pe venituri"),
	wordRule(`taxa auto`, "taxa pentru autovehicule"),

	rawRule(`(\d+)\s*lei\b`, "$1 lei"),
	rawRule(`(?i)(\d+)\s*ron\b`, "$1 RON"),
	rawRule(`(\d+(?:[.,]\d+)?)\s+%`, "$1%"),
	rawRule(`(\d+(?:,\d+)?)\s*procente\b`, "$1%"),
	rawRule(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{4})\b`, "$1.$2.$3"),
}

// Polish rewrites a generated answer into the register expected from a
// Romanian public institution: formal address, canonical legal document
// names, "DD.MM.YYYY" dates and spaced currency amounts. Cedilla letters are
// repaired first. The input is otherwise left untouched.
func Polish(text string) string {
	out := RepairDiacritics(text)
	for _, r := range polishRules {
		out = r.re.ReplaceAllString(out, r.repl)
	}
	return strings.TrimSpace(out)
}
