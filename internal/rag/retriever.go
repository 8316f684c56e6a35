package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/primaria-go/internal/domain"
	"github.com/54b3r/primaria-go/internal/logging"
)

// RetrieverConfig configures a HybridRetriever.
type RetrieverConfig struct {
	// Fusion controls normalization and weighting of the three lookups.
	Fusion FusionConfig
	// DefaultTopK is used when Retrieve is called with topK <= 0 (default 5).
	DefaultTopK int
	// SemanticTimeout bounds the query embedding and the semantic lookup
	// together (default 5s). On expiry the query is answered lexically.
	SemanticTimeout time.Duration
}

// HybridRetriever implements Retriever by running the keyword, semantic and
// full-text lookups concurrently and fusing their scores.
type HybridRetriever struct {
	// tenants resolves and validates the requested tenant.
	tenants TenantLookup

	// store answers the three lookups.
	store PassageStore

	// embedder converts the query for the semantic lookup. When nil the
	// semantic lookup is skipped.
	embedder Embedder

	// cfg holds the resolved configuration.
	cfg RetrieverConfig
}

// NewHybridRetriever constructs a HybridRetriever. embedder may be nil, in
// which case retrieval is lexical only.
func NewHybridRetriever(tenants TenantLookup, store PassageStore, embedder Embedder, cfg RetrieverConfig) (*HybridRetriever, error) {
	if tenants == nil {
		return nil, fmt.Errorf("rag: tenant lookup must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 5
	}
	if cfg.SemanticTimeout <= 0 {
		cfg.SemanticTimeout = 5 * time.Second
	}
	if err := cfg.Fusion.Validate(); err != nil {
		return nil, err
	}
	return &HybridRetriever{
		tenants:  tenants,
		store:    store,
		embedder: embedder,
		cfg:      cfg,
	}, nil
}

// Retrieve returns at most topK fused results for query within tenantID.
// An empty corpus yields an empty slice. A failed or slow semantic side
// (embedding or semantic store) degrades to the two lexical lookups; a
// lexical store failure returns an error wrapping domain.ErrStorage.
func (r *HybridRetriever) Retrieve(ctx context.Context, tenantID, query string, topK int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("rag: retrieve: %w: empty query", domain.ErrInvalidInput)
	}
	tenant, err := r.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("rag: retrieve: %w", err)
	}
	if !tenant.Active {
		return nil, fmt.Errorf("rag: retrieve: %w: tenant %s is inactive", domain.ErrNotFound, tenantID)
	}
	if topK <= 0 {
		topK = r.cfg.DefaultTopK
	}
	limit := topK * r.cfg.Fusion.CandidateFactor
	log := logging.FromContext(ctx)

	var keyword, semantic, fullText []Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := r.store.KeywordSearch(gctx, tenantID, query, limit)
		if err != nil {
			return fmt.Errorf("keyword: %w", err)
		}
		keyword = hits
		return nil
	})
	g.Go(func() error {
		hits, err := r.store.FullTextSearch(gctx, tenantID, query, limit)
		if err != nil {
			return fmt.Errorf("full-text: %w", err)
		}
		fullText = hits
		return nil
	})
	if r.embedder != nil {
		g.Go(func() error {
			hits, err := r.semantic(gctx, tenantID, query, limit)
			if err != nil {
				if gctx.Err() == nil {
					log.Warn("rag: semantic lookup disabled for this query", slog.Any("error", err))
				}
				return nil
			}
			semantic = hits
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, domain.ErrStorage) {
			return nil, fmt.Errorf("rag: retrieve: %w", err)
		}
		return nil, fmt.Errorf("rag: retrieve: %w: %w", domain.ErrStorage, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keyword = ownedBy(tenantID, keyword)
	fullText = ownedBy(tenantID, fullText)
	semantic = ownedBy(tenantID, semantic)
	semantic = filterHits(semantic, func(h Hit) bool { return h.Score >= r.cfg.Fusion.MinSemanticScore })

	results := fuse(keyword, semantic, fullText, r.cfg.Fusion)
	if len(results) > topK {
		results = results[:topK]
	}

	log.Debug("rag: retrieved",
		slog.String("tenant_id", tenantID),
		slog.Int("keyword", len(keyword)),
		slog.Int("semantic", len(semantic)),
		slog.Int("full_text", len(fullText)),
		slog.Int("results", len(results)),
	)
	return results, nil
}

// semantic embeds query and runs the semantic lookup within the configured
// timeout.
func (r *HybridRetriever) semantic(ctx context.Context, tenantID, query string, limit int) ([]Hit, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SemanticTimeout)
	defer cancel()
	vec, err := EmbedOne(ctx, r.embedder, query)
	if err != nil {
		return nil, err
	}
	hits, err := r.store.SemanticSearch(ctx, tenantID, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("semantic: %w", err)
	}
	return hits, nil
}

// ownedBy drops hits whose passage belongs to another tenant.
func ownedBy(tenantID string, hits []Hit) []Hit {
	return filterHits(hits, func(h Hit) bool { return h.Passage.TenantID == tenantID })
}

// filterHits returns the hits for which keep is true, reusing the backing
// array.
func filterHits(hits []Hit, keep func(Hit) bool) []Hit {
	out := hits[:0]
	for _, h := range hits {
		if keep(h) {
			out = append(out, h)
		}
	}
	return out
}
