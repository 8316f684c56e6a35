package rag

import (
	"context"
	"errors"
	"fmt"

	"github.com/54b3r/primaria-go/internal/domain"
)

// Composite serves the lexical lookups from one store and the semantic
// lookup from another, typically MemoryStore or PostgresStore paired with a
// QdrantStore.
type Composite struct {
	// Lexical answers keyword and full-text lookups.
	Lexical LexicalSearcher
	// Semantic answers the semantic lookup.
	Semantic SemanticSearcher
}

// KeywordSearch delegates to Lexical.
func (c Composite) KeywordSearch(ctx context.Context, tenantID, query string, limit int) ([]Hit, error) {
	return c.Lexical.KeywordSearch(ctx, tenantID, query, limit)
}

// FullTextSearch delegates to Lexical.
func (c Composite) FullTextSearch(ctx context.Context, tenantID, query string, limit int) ([]Hit, error) {
	return c.Lexical.FullTextSearch(ctx, tenantID, query, limit)
}

// SemanticSearch delegates to Semantic.
func (c Composite) SemanticSearch(ctx context.Context, tenantID string, embedding []float32, limit int) ([]Hit, error) {
	return c.Semantic.SemanticSearch(ctx, tenantID, embedding, limit)
}

// MultiWriter fans writes out to several PassageWriters in order. The first
// failure stops the fan-out; writers already updated are not rolled back.
type MultiWriter []PassageWriter

// Upsert writes doc to every writer.
func (m MultiWriter) Upsert(ctx context.Context, doc domain.Document, passages []domain.Passage) error {
	for i, w := range m {
		if err := w.Upsert(ctx, doc, passages); err != nil {
			return fmt.Errorf("rag: writer %d: %w", i, err)
		}
	}
	return nil
}

// DeleteDocument deletes documentID from every writer and joins the errors.
func (m MultiWriter) DeleteDocument(ctx context.Context, documentID string) error {
	var errs []error
	for i, w := range m {
		if err := w.DeleteDocument(ctx, documentID); err != nil {
			errs = append(errs, fmt.Errorf("rag: writer %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
