package embedder

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/54b3r/primaria-go/internal/romanian"
)

// defaultHashDimensions matches the deployment's sentence-transformer size so
// a hash-embedded corpus fits the same vector columns.
const defaultHashDimensions = 384

// HashEmbedder produces deterministic bag-of-stems embeddings by feature
// hashing Romanian terms into a fixed number of buckets. It needs no model
// server, which makes it suitable for tests, demos and offline ingestion;
// similarity reflects shared vocabulary, not meaning.
type HashEmbedder struct {
	// dimensions is the output vector size.
	dimensions int
}

// NewHashEmbedder constructs a HashEmbedder. dimensions <= 0 selects 384.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = defaultHashDimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed converts a batch of texts into L2-normalized vectors. A text without
// any content term embeds to the zero vector.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

// Dimensions returns the output vector size.
func (e *HashEmbedder) Dimensions() int { return e.dimensions }

func (e *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dimensions)
	for _, term := range romanian.Terms(romanian.ExpandAbbreviations(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(term))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dimensions))
		// Top bit selects the sign.
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
