// Package romanian provides the Romanian text handling shared by retrieval,
// caching and answer assembly: diacritic repair and folding, tokenization,
// stopword filtering, light suffix stemming, abbreviation expansion and
// answer polishing.
package romanian

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// cedillaRepair maps the legacy cedilla forms (ş ţ), still common in documents
// produced by older Romanian keyboards, onto the correct comma-below letters.
var cedillaRepair = strings.NewReplacer(
	"ş", "ș", "Ş", "Ș",
	"ţ", "ț", "Ţ", "Ț",
)

// RepairDiacritics replaces cedilla letters with their comma-below forms.
// The result keeps all other diacritics and the original casing.
func RepairDiacritics(s string) string {
	return cedillaRepair.Replace(s)
}

// Fold lowercases s, repairs cedilla letters and strips every combining mark,
// so "Clădirile Ţării" and "cladirile tarii" compare equal.
func Fold(s string) string {
	// transform.Chain keeps internal state; build one per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(RepairDiacritics(s)))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// Tokens folds s and splits it on every rune that is neither a letter nor a
// digit. Single-letter tokens are dropped; single digits are kept.
func Tokens(s string) []string {
	fields := strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if r, size := utf8.DecodeRuneInString(f); size == len(f) && !unicode.IsDigit(r) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Terms returns the stemmed, stopword-free tokens of s in input order.
// Duplicates are kept so callers can compute term frequencies.
func Terms(s string) []string {
	toks := Tokens(s)
	out := make([]string, 0, len(toks))
	for _, t := range toks {
		if IsStopword(t) {
			continue
		}
		out = append(out, Stem(t))
	}
	return out
}

// Words returns the lowercase words of s with cedilla letters repaired and
// other diacritics kept, skipping stopwords and single letters. Backends that
// run their own Romanian stemmer take these instead of Terms.
func Words(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(RepairDiacritics(s)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) < 2 || IsStopword(Fold(f)) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// UniqueTerms returns Terms(s) with duplicates removed, first occurrence wins.
func UniqueTerms(s string) []string {
	terms := Terms(s)
	seen := make(map[string]bool, len(terms))
	out := terms[:0]
	for _, t := range terms {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// NormalizeQuestion produces the canonical form of a question used as the
// exact-match key of the response cache: abbreviations expanded, folded,
// punctuation removed and whitespace collapsed.
func NormalizeQuestion(q string) string {
	return strings.Join(Tokens(ExpandAbbreviations(q)), " ")
}

// abbreviations maps folded abbreviations found in residents' questions to
// their expansion.
var abbreviations = map[string]string{
	"hcl": "hotărârea consiliului local",
	"hg":  "hotărârea guvernului",
	"og":  "ordonanța guvernului",
	"ogc": "ordonanța guvernului",
	"oug": "ordonanța de urgență a guvernului",
	"cf":  "codul fiscal",
	"civ": "codul civil",
	"itl": "impozite și taxe locale",
}

// ExpandAbbreviations lowercases q, repairs its diacritics and replaces every
// whole-word abbreviation with its expansion. Punctuation between words is
// preserved.
func ExpandAbbreviations(q string) string {
	q = strings.ToLower(RepairDiacritics(strings.TrimSpace(q)))

	var b strings.Builder
	b.Grow(len(q))
	word := make([]rune, 0, 16)
	flush := func() {
		if len(word) == 0 {
			return
		}
		w := string(word)
		if exp, ok := abbreviations[w]; ok {
			b.WriteString(exp)
		} else {
			b.WriteString(w)
		}
		word = word[:0]
	}
	for _, r := range q {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			word = append(word, r)
			continue
		}
		flush()
		b.WriteRune(r)
	}
	flush()
	return b.String()
}

// stopwords is the folded Romanian stopword list used for full-text ranking
// and query term extraction.
var stopwords = map[string]bool{}

func init() {
	for _, w := range []string{
		"a", "am", "ar", "are", "as", "au", "avea", "avut", "ca", "caci", "cand",
		"care", "ce", "cel", "cea", "cei", "cele", "cu", "cum", "dar", "de",
		"din", "fiind", "fi", "fie", "fii", "fim", "fiti", "pentru", "peste",
		"prin", "sa", "se", "si", "un", "una", "unei", "unor", "in", "intre",
		"la", "le", "li", "lor", "lui", "ma", "meu", "mea", "mei", "mele",
		"pe", "po", "pot", "poate", "sunt", "te", "tu", "va", "vor",
		"este", "sau", "nu", "mai", "o", "al", "ale", "ai", "cat", "cata",
		"cate", "cati", "ea", "el", "ei", "eu", "noi", "voi", "acest", "aceasta",
		"acesta", "fost", "iar", "daca",
	} {
		stopwords[w] = true
	}
}

// IsStopword reports whether the folded token t is a Romanian stopword.
func IsStopword(t string) bool {
	return stopwords[t]
}
