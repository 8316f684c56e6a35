package ingestion

import (
	"strconv"
	"strings"
)

// Passage is one word window produced by Chunk.
type Passage struct {
	Text  string
	Words int
	// Page is the page of the window's last marker, nil before any marker.
	Page *int
}

// Chunk splits text into windows of size words, each starting overlap words
// before the end of the previous one. "[Pagina N]" markers are removed from
// the text and set the page of the windows that follow.
func Chunk(text string, size, overlap int) []Passage {
	words := strings.Fields(text)
	if len(words) == 0 || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var (
		out     []Passage
		current []string
		page    *int
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		out = append(out, Passage{Text: strings.Join(current, " "), Words: len(current), Page: page})
	}

	for i := 0; i < len(words); i++ {
		if words[i] == "[Pagina" && i+1 < len(words) {
			if n, err := strconv.Atoi(strings.TrimSuffix(words[i+1], "]")); err == nil {
				page = &n
				i++
				continue
			}
		}
		current = append(current, words[i])
		if len(current) >= size {
			flush()
			if overlap > 0 {
				current = append([]string(nil), current[len(current)-overlap:]...)
			} else {
				current = current[:0]
			}
		}
	}
	// The trailing window is kept only when it adds words beyond the overlap.
	if len(current) > overlap || len(out) == 0 {
		flush()
	}
	return out
}
