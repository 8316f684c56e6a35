// Package rag implements tenant-scoped hybrid retrieval over Romanian
// municipal documents: keyword, semantic and full-text lookups against a
// passage store, fused into one deterministic ranking.
// Concrete stores (in-memory, Postgres with pgvector, Qdrant) satisfy the
// interfaces below so the orchestrator never depends on a specific backend.
package rag

import (
	"context"
	"fmt"

	"github.com/54b3r/primaria-go/internal/domain"
)

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedOne embeds a single text. Failures are wrapped with domain.ErrEmbedding.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("rag: embed: %w: %w", domain.ErrEmbedding, err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("rag: embed: %w: empty embedding", domain.ErrEmbedding)
	}
	return vecs[0], nil
}

// Hit is one passage returned by a single lookup method together with the
// raw score that method assigned. Raw scores are only comparable within the
// same method and call.
type Hit struct {
	// Passage is the matched passage.
	Passage domain.Passage
	// Score is the method's raw relevance score; higher is better.
	Score float64
}

// KeywordSearcher ranks passages by term frequency of the folded query tokens.
type KeywordSearcher interface {
	// KeywordSearch returns at most limit hits from processed documents
	// assigned to tenantID.
	KeywordSearch(ctx context.Context, tenantID, query string, limit int) ([]Hit, error)
}

// SemanticSearcher ranks passages by cosine similarity to a query embedding.
type SemanticSearcher interface {
	// SemanticSearch returns at most limit hits from processed documents
	// assigned to tenantID. Score is the cosine similarity.
	SemanticSearch(ctx context.Context, tenantID string, embedding []float32, limit int) ([]Hit, error)
}

// FullTextSearcher ranks passages with a Romanian-stemmed text ranking.
type FullTextSearcher interface {
	// FullTextSearch returns at most limit hits from processed documents
	// assigned to tenantID.
	FullTextSearch(ctx context.Context, tenantID, query string, limit int) ([]Hit, error)
}

// LexicalSearcher combines the two text-based lookups. Stores that keep
// passage text implement it; pure vector indexes do not.
type LexicalSearcher interface {
	KeywordSearcher
	FullTextSearcher
}

// PassageStore is the read path used by the hybrid retriever.
// Implementations must be safe to call from multiple goroutines and must
// never return passages of another tenant.
type PassageStore interface {
	KeywordSearcher
	SemanticSearcher
	FullTextSearcher
}

// PassageWriter is the write path used by ingestion. Upsert replaces every
// passage previously stored for doc.ID.
type PassageWriter interface {
	// Upsert stores doc and replaces its passages.
	Upsert(ctx context.Context, doc domain.Document, passages []domain.Passage) error
	// DeleteDocument removes a document and all of its passages.
	DeleteDocument(ctx context.Context, documentID string) error
}

// Snapshot is a persisted copy of documents and passages used to hydrate an
// in-memory store at startup.
type Snapshot interface {
	// Documents returns every stored document.
	Documents(ctx context.Context) ([]domain.Document, error)
	// Passages returns the passages of one document ordered by tenant and ordinal.
	Passages(ctx context.Context, documentID string) ([]domain.Passage, error)
}

// TenantLookup resolves a tenant by ID. Implementations return an error
// wrapping domain.ErrNotFound for unknown tenants.
type TenantLookup interface {
	Get(ctx context.Context, id string) (domain.Tenant, error)
}

// Result is one fused retrieval item.
type Result struct {
	// Passage is the retrieved passage.
	Passage domain.Passage
	// KeywordScore is the normalized keyword score in [0,1].
	KeywordScore float64
	// SemanticScore is the normalized semantic score in [0,1]; 0 when the
	// semantic lookup was unavailable or did not return the passage.
	SemanticScore float64
	// FullTextScore is the normalized full-text score in [0,1].
	FullTextScore float64
	// Combined is the weighted sum of the normalized scores.
	Combined float64
	// Rank is the 1-based position in the final ordering.
	Rank int
}

// Retriever is the high-level interface used by the orchestrator.
type Retriever interface {
	// Retrieve returns at most topK fused results for query within tenantID.
	Retrieve(ctx context.Context, tenantID, query string, topK int) ([]Result, error)
}
