package romanian

import (
	"strings"
	"unicode/utf8"
)

// minStemRunes is the shortest stem Stem will produce. Shorter candidates are
// rejected and the token is returned unchanged ("tva" stays "tva").
const minStemRunes = 3

// suffixes holds the folded inflectional endings removed by Stem, longest
// first so "urilor" wins over "ilor" and "ilor" over "i". Only nominal and
// article endings are listed.
var suffixes = []string{
	"urilor",
	"iilor", "urile", "easca",
	"ilor", "elor", "ului", "iile", "eaza",
	"ule", "ile", "ele", "uri", "lor",
	"ul", "ii", "ei", "ea", "ua",
	"a", "e", "i", "u",
}

// Stem strips one inflectional suffix from the folded token t. It is a light
// stemmer: enough to conflate "taxa", "taxe", "taxele" and "taxelor" without
// a dictionary.
func Stem(t string) string {
	for _, s := range suffixes {
		if !strings.HasSuffix(t, s) {
			continue
		}
		stem := t[:len(t)-len(s)]
		if utf8.RuneCountInString(stem) >= minStemRunes {
			return stem
		}
	}
	return t
}
