package rag

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/54b3r/primaria-go/internal/domain"
)

// Normalization selects how each method's raw scores are mapped onto [0,1]
// before they are combined.
type Normalization string

const (
	// NormalizeMinMax rescales scores linearly: (s-min)/(max-min).
	NormalizeMinMax Normalization = "minmax"
	// NormalizeRank replaces scores with (k+1)/(k+rank), so the best hit of
	// every method scores 1 regardless of the raw score distribution.
	NormalizeRank Normalization = "rank"
)

// Weights sets the contribution of each method to the combined score.
type Weights struct {
	Keyword  float64 `yaml:"keyword"`
	Semantic float64 `yaml:"semantic"`
	FullText float64 `yaml:"full_text"`
}

// FusionConfig controls how the three lookups are merged.
type FusionConfig struct {
	// Weights are the per-method weights of the combined score.
	Weights Weights
	// Normalization is the per-method score normalization.
	Normalization Normalization
	// RankConstant is k in the rank normalization (default 60).
	RankConstant int
	// CandidateFactor multiplies topK to size each method's candidate list.
	CandidateFactor int
	// MinSemanticScore drops semantic hits whose cosine similarity is lower.
	MinSemanticScore float64
}

// DefaultFusionConfig returns the deployment defaults.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		Weights:          Weights{Keyword: 0.2, Semantic: 0.4, FullText: 0.4},
		Normalization:    NormalizeMinMax,
		RankConstant:     60,
		CandidateFactor:  4,
		MinSemanticScore: 0.2,
	}
}

// Validate reports the first invalid field.
func (c FusionConfig) Validate() error {
	switch c.Normalization {
	case NormalizeMinMax, NormalizeRank:
	default:
		return fmt.Errorf("rag: unknown normalization %q, valid values: minmax, rank", c.Normalization)
	}
	w := c.Weights
	if w.Keyword < 0 || w.Semantic < 0 || w.FullText < 0 {
		return fmt.Errorf("rag: weights must not be negative")
	}
	if w.Keyword+w.Semantic+w.FullText == 0 {
		return fmt.Errorf("rag: at least one weight must be positive")
	}
	if c.RankConstant < 0 {
		return fmt.Errorf("rag: rank_constant must not be negative")
	}
	if c.CandidateFactor < 1 {
		return fmt.Errorf("rag: candidate_factor must be at least 1")
	}
	if c.MinSemanticScore < -1 || c.MinSemanticScore > 1 {
		return fmt.Errorf("rag: min_semantic_score must be within [-1,1]")
	}
	return nil
}

// comparePassages orders passages by document ordinal, then document ID,
// then passage ID. It is the final tie-breaker of every ranking in this
// package.
func comparePassages(a, b *domain.Passage) int {
	return cmp.Or(
		cmp.Compare(a.Ordinal, b.Ordinal),
		cmp.Compare(a.DocumentID, b.DocumentID),
		cmp.Compare(a.ID, b.ID),
	)
}

// sortHits orders hits by score descending, ties broken by comparePassages.
func sortHits(hits []Hit) {
	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return comparePassages(&a.Passage, &b.Passage)
	})
}

// topHits sorts hits and truncates them to limit.
func topHits(hits []Hit, limit int) []Hit {
	sortHits(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// dedupe keeps the best-scoring hit per passage ID.
func dedupe(hits []Hit) []Hit {
	best := make(map[string]int, len(hits))
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		if i, ok := best[h.Passage.ID]; ok {
			if h.Score > out[i].Score {
				out[i] = h
			}
			continue
		}
		best[h.Passage.ID] = len(out)
		out = append(out, h)
	}
	return out
}

// normalize maps one method's raw scores onto [0,1], keyed by passage ID.
func normalize(hits []Hit, mode Normalization, k int) map[string]float64 {
	out := make(map[string]float64, len(hits))
	if len(hits) == 0 {
		return out
	}

	if mode == NormalizeRank {
		sorted := slices.Clone(hits)
		sortHits(sorted)
		rank := 0
		for i, h := range sorted {
			// Equal raw scores share a rank.
			if i == 0 || h.Score != sorted[i-1].Score {
				rank = i + 1
			}
			out[h.Passage.ID] = float64(k+1) / float64(k+rank)
		}
		return out
	}

	lo, hi := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		lo = min(lo, h.Score)
		hi = max(hi, h.Score)
	}
	for _, h := range hits {
		switch {
		case hi > lo:
			out[h.Passage.ID] = (h.Score - lo) / (hi - lo)
		case hi > 0:
			out[h.Passage.ID] = 1
		default:
			out[h.Passage.ID] = 0
		}
	}
	return out
}

// fuse merges the three hit lists into one ranking. A passage missing from a
// method scores 0 for that method. The result is fully sorted and ranked but
// not truncated.
func fuse(keyword, semantic, fullText []Hit, cfg FusionConfig) []Result {
	keyword, semantic, fullText = dedupe(keyword), dedupe(semantic), dedupe(fullText)

	kw := normalize(keyword, cfg.Normalization, cfg.RankConstant)
	sem := normalize(semantic, cfg.Normalization, cfg.RankConstant)
	ft := normalize(fullText, cfg.Normalization, cfg.RankConstant)

	byID := make(map[string]*Result)
	order := make([]string, 0, len(keyword)+len(semantic)+len(fullText))
	collect := func(hits []Hit) {
		for _, h := range hits {
			if _, ok := byID[h.Passage.ID]; ok {
				continue
			}
			byID[h.Passage.ID] = &Result{Passage: h.Passage}
			order = append(order, h.Passage.ID)
		}
	}
	collect(keyword)
	collect(semantic)
	collect(fullText)

	results := make([]Result, 0, len(order))
	w := cfg.Weights
	for _, id := range order {
		r := byID[id]
		r.KeywordScore = kw[id]
		r.SemanticScore = sem[id]
		r.FullTextScore = ft[id]
		r.Combined = w.Keyword*r.KeywordScore + w.Semantic*r.SemanticScore + w.FullText*r.FullTextScore
		results = append(results, *r)
	}

	slices.SortFunc(results, func(a, b Result) int {
		if c := cmp.Compare(b.Combined, a.Combined); c != 0 {
			return c
		}
		return comparePassages(&a.Passage, &b.Passage)
	})
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}
