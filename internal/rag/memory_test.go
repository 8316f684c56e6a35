package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/54b3r/primaria-go/internal/domain"
)

// seedDoc adds a processed document with one passage per text for tenantID.
func seedDoc(t *testing.T, m *MemoryStore, tenantID, docID string, processed bool, texts ...string) {
	t.Helper()
	doc := domain.Document{ID: docID, Name: docID + ".pdf", Processed: processed, TenantIDs: []string{tenantID}}
	ps := make([]domain.Passage, len(texts))
	for i, text := range texts {
		ps[i] = domain.Passage{
			ID:           docID + "#" + string(rune('a'+i)),
			DocumentID:   docID,
			DocumentName: doc.Name,
			TenantID:     tenantID,
			Ordinal:      i,
			Text:         text,
		}
	}
	if err := m.Upsert(context.Background(), doc, ps); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func TestMemoryStore_KeywordSearchFoldsDiacritics(t *testing.T) {
	t.Parallel()

	m := NewMemoryStore()
	seedDoc(t, m, "t1", "d1", true,
		"Impozitul pe clădiri se plătește anual.",
		"Taxa de salubrizare este lunară.",
	)

	hits, err := m.KeywordSearch(context.Background(), "t1", "impozit cladiri", 10)
	if err != nil {
		t.Fatalf("KeywordSearch: %v", err)
	}
	if len(hits) != 1 || hits[0].Passage.ID != "d1#a" {
		t.Fatalf("expected only d1#a, got %+v", hits)
	}
}

func TestMemoryStore_FullTextSearchStems(t *testing.T) {
	t.Parallel()

	m := NewMemoryStore()
	seedDoc(t, m, "t1", "d1", true,
		"Taxele locale se achită la ghișeu.",
		"Programul de funcționare al primăriei.",
		"Scutiri pentru persoane vârstnice.",
	)

	hits, err := m.FullTextSearch(context.Background(), "t1", "taxa locala", 10)
	if err != nil {
		t.Fatalf("FullTextSearch: %v", err)
	}
	if len(hits) != 1 || hits[0].Passage.ID != "d1#a" {
		t.Fatalf("expected stemmed match on d1#a, got %+v", hits)
	}
	if hits[0].Score <= 0 {
		t.Errorf("score = %v, want > 0", hits[0].Score)
	}
}

func TestMemoryStore_SemanticSearchSkipsDimensionMismatch(t *testing.T) {
	t.Parallel()

	m := NewMemoryStore()
	doc := domain.Document{ID: "d1", Processed: true}
	err := m.Upsert(context.Background(), doc, []domain.Passage{
		{ID: "p1", DocumentID: "d1", TenantID: "t1", Embedding: []float32{1, 0}},
		{ID: "p2", DocumentID: "d1", TenantID: "t1", Embedding: []float32{0, 1}, Ordinal: 1},
		{ID: "p3", DocumentID: "d1", TenantID: "t1", Embedding: []float32{1, 0, 0}, Ordinal: 2},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hits, err := m.SemanticSearch(context.Background(), "t1", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Passage.ID != "p1" || !approx(hits[0].Score, 1) || !approx(hits[1].Score, 0) {
		t.Errorf("unexpected ranking: %+v", hits)
	}
}

func TestMemoryStore_TenantIsolation(t *testing.T) {
	t.Parallel()

	m := NewMemoryStore()
	seedDoc(t, m, "t1", "d1", true, "Cota standard de TVA este 19%.")
	seedDoc(t, m, "t2", "d2", true, "Cota standard de TVA este 21%.")

	for _, search := range []func() ([]Hit, error){
		func() ([]Hit, error) { return m.KeywordSearch(context.Background(), "t1", "cota TVA", 10) },
		func() ([]Hit, error) { return m.FullTextSearch(context.Background(), "t1", "cota TVA", 10) },
	} {
		hits, err := search()
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		for _, h := range hits {
			if h.Passage.TenantID != "t1" {
				t.Errorf("foreign passage %s returned", h.Passage.ID)
			}
		}
		if len(hits) != 1 {
			t.Errorf("expected 1 hit, got %d", len(hits))
		}
	}
}

func TestMemoryStore_UnprocessedDocumentsHidden(t *testing.T) {
	t.Parallel()

	m := NewMemoryStore()
	seedDoc(t, m, "t1", "draft", false, "Impozitul pe teren.")

	hits, err := m.KeywordSearch(context.Background(), "t1", "impozit teren", 10)
	if err != nil {
		t.Fatalf("KeywordSearch: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("unprocessed document returned %d hits", len(hits))
	}
	if m.Len("t1") != 1 {
		t.Errorf("Len = %d, want 1", m.Len("t1"))
	}
}

func TestMemoryStore_UpsertReplacesAndDeleteRemoves(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryStore()
	seedDoc(t, m, "t1", "d1", true, "unu", "doi", "trei")
	seedDoc(t, m, "t1", "d1", true, "patru")
	if m.Len("t1") != 1 {
		t.Fatalf("re-upsert should replace passages, Len = %d", m.Len("t1"))
	}
	if err := m.DeleteDocument(ctx, "d1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if m.Len("t1") != 0 {
		t.Errorf("Len after delete = %d", m.Len("t1"))
	}
}

func TestMemoryStore_UpsertRejectsForeignPassage(t *testing.T) {
	t.Parallel()

	m := NewMemoryStore()
	err := m.Upsert(context.Background(), domain.Document{ID: "d1"}, []domain.Passage{{ID: "p", DocumentID: "d2"}})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

// fakeSnapshot serves a fixed document set.
type fakeSnapshot struct {
	docs     []domain.Document
	passages map[string][]domain.Passage
}

func (f fakeSnapshot) Documents(context.Context) ([]domain.Document, error) { return f.docs, nil }

func (f fakeSnapshot) Passages(_ context.Context, id string) ([]domain.Passage, error) {
	return f.passages[id], nil
}

func TestMemoryStore_Load(t *testing.T) {
	t.Parallel()

	src := fakeSnapshot{
		docs: []domain.Document{{ID: "d1", Processed: true}, {ID: "d2", Processed: true}},
		passages: map[string][]domain.Passage{
			"d1": {{ID: "p1", DocumentID: "d1", TenantID: "t1", Text: "a"}},
			"d2": {{ID: "p2", DocumentID: "d2", TenantID: "t1", Text: "b"}, {ID: "p3", DocumentID: "d2", TenantID: "t2", Text: "c"}},
		},
	}
	m := NewMemoryStore()
	n, err := m.Load(context.Background(), src)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 3 || m.Len("t1") != 2 || m.Len("t2") != 1 {
		t.Errorf("loaded %d passages, t1=%d t2=%d", n, m.Len("t1"), m.Len("t2"))
	}
}
