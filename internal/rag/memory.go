package rag

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/54b3r/primaria-go/internal/domain"
	"github.com/54b3r/primaria-go/internal/romanian"
)

// BM25 parameters used by MemoryStore.FullTextSearch.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// indexedPassage is a passage with its precomputed lexical statistics.
type indexedPassage struct {
	// passage is the stored passage, never mutated after indexing.
	passage domain.Passage
	// tokens maps each folded token to its frequency.
	tokens map[string]int
	// tokenCount is the total number of folded tokens.
	tokenCount int
	// terms maps each stemmed, stopword-free term to its frequency.
	terms map[string]int
	// termCount is the total number of terms.
	termCount int
	// norm is the Euclidean norm of the embedding, 0 when absent.
	norm float64
}

// MemoryStore is an in-process PassageStore and PassageWriter. It indexes
// passages per tenant and answers all three lookup methods with brute-force
// scans, which is adequate for a single municipality's document set and for
// tests. It is safe for concurrent use.
type MemoryStore struct {
	// mu guards docs and byTenant.
	mu sync.RWMutex
	// docs holds document metadata keyed by document ID.
	docs map[string]domain.Document
	// byTenant holds the indexed passages of each tenant.
	byTenant map[string][]*indexedPassage
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]domain.Document),
		byTenant: make(map[string][]*indexedPassage),
	}
}

// Upsert stores doc and replaces all of its passages.
func (m *MemoryStore) Upsert(_ context.Context, doc domain.Document, passages []domain.Passage) error {
	if doc.ID == "" {
		return fmt.Errorf("rag: memory upsert: %w: document id is required", domain.ErrInvalidInput)
	}
	indexed := make([]*indexedPassage, 0, len(passages))
	for _, p := range passages {
		if p.DocumentID != doc.ID {
			return fmt.Errorf("rag: memory upsert: %w: passage %s belongs to %s", domain.ErrInvalidInput, p.ID, p.DocumentID)
		}
		indexed = append(indexed, index(p))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(doc.ID)
	m.docs[doc.ID] = doc
	for _, ip := range indexed {
		m.byTenant[ip.passage.TenantID] = append(m.byTenant[ip.passage.TenantID], ip)
	}
	return nil
}

// DeleteDocument removes a document and its passages.
func (m *MemoryStore) DeleteDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(documentID)
	delete(m.docs, documentID)
	return nil
}

// removeLocked drops every passage of documentID. Callers hold mu.
func (m *MemoryStore) removeLocked(documentID string) {
	for tenant, list := range m.byTenant {
		kept := slices.DeleteFunc(list, func(ip *indexedPassage) bool {
			return ip.passage.DocumentID == documentID
		})
		if len(kept) == 0 {
			delete(m.byTenant, tenant)
			continue
		}
		m.byTenant[tenant] = kept
	}
}

// Load replaces the store content with every document and passage in src.
// It returns the number of passages loaded.
func (m *MemoryStore) Load(ctx context.Context, src Snapshot) (int, error) {
	docs, err := src.Documents(ctx)
	if err != nil {
		return 0, fmt.Errorf("rag: memory load documents: %w", err)
	}
	n := 0
	for _, d := range docs {
		ps, err := src.Passages(ctx, d.ID)
		if err != nil {
			return n, fmt.Errorf("rag: memory load passages of %s: %w", d.ID, err)
		}
		if err := m.Upsert(ctx, d, ps); err != nil {
			return n, err
		}
		n += len(ps)
	}
	return n, nil
}

// Len returns the number of passages stored for tenantID, including those of
// unprocessed documents.
func (m *MemoryStore) Len(tenantID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byTenant[tenantID])
}

// visible returns the searchable passages of tenantID. Callers hold mu.
func (m *MemoryStore) visibleLocked(tenantID string) []*indexedPassage {
	list := m.byTenant[tenantID]
	out := make([]*indexedPassage, 0, len(list))
	for _, ip := range list {
		if d, ok := m.docs[ip.passage.DocumentID]; ok && d.Processed {
			out = append(out, ip)
		}
	}
	return out
}

// KeywordSearch scores passages by the density of query tokens: the number of
// occurrences of each distinct, non-stopword query token divided by the
// passage token count.
func (m *MemoryStore) KeywordSearch(ctx context.Context, tenantID, query string, limit int) ([]Hit, error) {
	qtoks := keywordTokens(query)
	if len(qtoks) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []Hit
	for _, ip := range m.visibleLocked(tenantID) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s := keywordScore(qtoks, ip.tokens, ip.tokenCount); s > 0 {
			hits = append(hits, Hit{Passage: ip.passage, Score: s})
		}
	}
	return topHits(hits, limit), nil
}

// SemanticSearch ranks passages by cosine similarity with embedding.
// Passages without an embedding or with a different dimension are skipped.
func (m *MemoryStore) SemanticSearch(ctx context.Context, tenantID string, embedding []float32, limit int) ([]Hit, error) {
	qnorm := vecNorm(embedding)
	if qnorm == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []Hit
	for _, ip := range m.visibleLocked(tenantID) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ip.norm == 0 || len(ip.passage.Embedding) != len(embedding) {
			continue
		}
		var dot float64
		for i, v := range embedding {
			dot += float64(v) * float64(ip.passage.Embedding[i])
		}
		hits = append(hits, Hit{Passage: ip.passage, Score: dot / (qnorm * ip.norm)})
	}
	return topHits(hits, limit), nil
}

// FullTextSearch ranks passages with Okapi BM25 over stemmed Romanian terms.
// A passage matches when it contains any query term.
func (m *MemoryStore) FullTextSearch(ctx context.Context, tenantID, query string, limit int) ([]Hit, error) {
	qterms := romanian.UniqueTerms(romanian.ExpandAbbreviations(query))
	if len(qterms) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	corpus := m.visibleLocked(tenantID)
	if len(corpus) == 0 {
		return nil, nil
	}

	df := make(map[string]int, len(qterms))
	total := 0
	for _, ip := range corpus {
		total += ip.termCount
		for _, t := range qterms {
			if ip.terms[t] > 0 {
				df[t]++
			}
		}
	}
	n := float64(len(corpus))
	avgdl := float64(total) / n
	if avgdl == 0 {
		return nil, nil
	}

	var hits []Hit
	for _, ip := range corpus {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var score float64
		for _, t := range qterms {
			tf := float64(ip.terms[t])
			if tf == 0 {
				continue
			}
			idf := math.Log(1 + (n-float64(df[t])+0.5)/(float64(df[t])+0.5))
			score += idf * tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*float64(ip.termCount)/avgdl))
		}
		if score > 0 {
			hits = append(hits, Hit{Passage: ip.passage, Score: score})
		}
	}
	return topHits(hits, limit), nil
}

// index computes the lexical statistics of p.
func index(p domain.Passage) *indexedPassage {
	ip := &indexedPassage{
		passage: p,
		tokens:  make(map[string]int),
		terms:   make(map[string]int),
		norm:    vecNorm(p.Embedding),
	}
	for _, t := range romanian.Tokens(p.Text) {
		ip.tokens[t]++
		ip.tokenCount++
	}
	for _, t := range romanian.Terms(p.Text) {
		ip.terms[t]++
		ip.termCount++
	}
	return ip
}

// keywordTokens returns the distinct folded, non-stopword tokens of query
// after abbreviation expansion.
func keywordTokens(query string) []string {
	toks := romanian.Tokens(romanian.ExpandAbbreviations(query))
	out := make([]string, 0, len(toks))
	seen := make(map[string]bool, len(toks))
	for _, t := range toks {
		if romanian.IsStopword(t) || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// keywordScore is the keyword density of qtoks in a passage with the given
// token frequencies.
func keywordScore(qtoks []string, tf map[string]int, count int) float64 {
	if count == 0 {
		return 0
	}
	matches := 0
	for _, t := range qtoks {
		matches += tf[t]
	}
	return float64(matches) / float64(count)
}

// vecNorm returns the Euclidean norm of v.
func vecNorm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}
