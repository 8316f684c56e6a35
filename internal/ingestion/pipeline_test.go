package ingestion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/54b3r/primaria-go/internal/domain"
	"github.com/54b3r/primaria-go/internal/embedder"
	"github.com/54b3r/primaria-go/internal/rag"
)

// recordingWriter keeps the last upsert.
type recordingWriter struct {
	mu       sync.Mutex
	doc      domain.Document
	passages []domain.Passage
	upserts  int
}

func (w *recordingWriter) Upsert(_ context.Context, doc domain.Document, passages []domain.Passage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.doc, w.passages = doc, passages
	w.upserts++
	return nil
}

func (w *recordingWriter) DeleteDocument(context.Context, string) error { return nil }

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model not loaded")
}

func words(n int, prefix string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(parts, " ")
}

func TestChunk(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		text      string
		size      int
		overlap   int
		wantCount int
		wantWords []int
	}{
		{name: "empty", text: "   ", size: 10, overlap: 2, wantCount: 0},
		{name: "shorter than window", text: words(5, "w"), size: 10, overlap: 2, wantCount: 1, wantWords: []int{5}},
		{name: "exact window", text: words(10, "w"), size: 10, overlap: 2, wantCount: 1, wantWords: []int{10}},
		{name: "overlapping windows", text: words(25, "w"), size: 10, overlap: 2, wantCount: 3, wantWords: []int{10, 10, 9}},
		{name: "default sizes", text: words(600, "w"), size: 300, overlap: 30, wantCount: 3, wantWords: []int{300, 300, 60}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Chunk(tc.text, tc.size, tc.overlap)
			if len(got) != tc.wantCount {
				t.Fatalf("want %d chunks, got %d", tc.wantCount, len(got))
			}
			for i, w := range tc.wantWords {
				if got[i].Words != w {
					t.Errorf("chunk %d: want %d words, got %d", i, w, got[i].Words)
				}
			}
		})
	}
}

func TestChunk_OverlapRepeatsTail(t *testing.T) {
	t.Parallel()
	got := Chunk(words(15, "w"), 10, 3)
	if len(got) != 2 {
		t.Fatalf("want 2 chunks, got %d", len(got))
	}
	if !strings.HasPrefix(got[1].Text, "w7 w8 w9 w10") {
		t.Errorf("second chunk should start with the overlap, got %q", got[1].Text)
	}
}

func TestChunk_PageMarkers(t *testing.T) {
	t.Parallel()
	text := "[Pagina 1]\n" + words(4, "a") + "\n[Pagina 2]\n" + words(4, "b")
	got := Chunk(text, 4, 0)
	if len(got) != 2 {
		t.Fatalf("want 2 chunks, got %d", len(got))
	}
	if got[0].Page == nil || *got[0].Page != 1 || got[1].Page == nil || *got[1].Page != 2 {
		t.Errorf("unexpected pages: %v %v", got[0].Page, got[1].Page)
	}
	if strings.Contains(got[0].Text, "Pagina") {
		t.Errorf("marker leaked into text: %q", got[0].Text)
	}
}

func TestInferCategory(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		want string
	}{
		{"HCL_taxe_locale_2025.pdf", "fiscal"},
		{"Codul_Fiscal.txt", "fiscal"},
		{"certificat-urbanism.txt", "urbanism"},
		{"autorizatie_constructii.docx", "urbanism"},
		{"regulament-parcari-rezidentiale.txt", "transport"},
		{"ajutor_social_procedura.pdf", "social"},
		{"hotarare_consiliu_12.pdf", "juridic"},
		{"contract_salubrizare.txt", "mediu"},
		{"anunt.txt", DefaultCategory},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := InferCategory(tc.name); got != tc.want {
				t.Errorf("InferCategory(%q) = %q, want %q", tc.name, got, tc.want)
			}
		})
	}
}

func TestIngest_FileAssignedToTenants(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "HCL_taxe_locale.txt")
	text := "[Pagina 3] Impozitul pe clădiri se plătește până la 31 martie. " + words(40, "x")
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	w := &recordingWriter{}
	p, err := NewPipeline(embedder.NewHashEmbedder(64), w, Config{ChunkWords: 20, OverlapWords: 5})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	reports, err := p.Ingest(context.Background(), []Source{{Path: path, TenantIDs: []string{"pmb", "cluj"}}}, nil)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(reports) != 1 || reports[0].Category != "fiscal" || reports[0].Name != "HCL_taxe_locale.txt" {
		t.Fatalf("unexpected report: %+v", reports)
	}
	rep := reports[0]
	if rep.Passages != 2*rep.Chunks {
		t.Errorf("want one passage set per tenant, got %d passages for %d chunks", rep.Passages, rep.Chunks)
	}
	if !w.doc.Processed || w.doc.ID != DocumentID("HCL_taxe_locale.txt") {
		t.Errorf("unexpected document: %+v", w.doc)
	}
	seen := make(map[string]bool)
	for _, ps := range w.passages {
		if seen[ps.ID] {
			t.Errorf("duplicate passage id %s", ps.ID)
		}
		seen[ps.ID] = true
		if len(ps.Embedding) != 64 || ps.DocumentID != w.doc.ID {
			t.Errorf("passage %s not embedded or not linked", ps.ID)
		}
	}
	if first := w.passages[0]; first.PageNumber == nil || *first.PageNumber != 3 {
		t.Errorf("want page 3 on first passage, got %v", first.PageNumber)
	}

	// Re-ingesting keeps the document id so the writer replaces passages.
	if _, err := p.Ingest(context.Background(), []Source{{Path: path, TenantIDs: []string{"pmb"}}}, nil); err != nil {
		t.Fatalf("reingest: %v", err)
	}
	if w.doc.ID != rep.DocumentID || w.upserts != 2 {
		t.Errorf("want same document id across ingestions")
	}
}

func TestIngest_IntoMemoryStoreIsRetrievable(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "tva.txt")
	if err := os.WriteFile(path, []byte("Cota standard de TVA este 19% pentru livrările de bunuri."), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := rag.NewMemoryStore()
	p, _ := NewPipeline(embedder.NewHashEmbedder(0), store, Config{})
	if _, err := p.Ingest(context.Background(), []Source{{Path: path, TenantIDs: []string{"pmb"}}}, nil); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	hits, err := store.KeywordSearch(context.Background(), "pmb", "TVA", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].Passage.DocumentName != "tva.txt" {
		t.Errorf("want the ingested passage, got %+v", hits)
	}
}

func TestIngest_URLAndLegacyEncoding(t *testing.T) {
	t.Parallel()
	// "taxă" in ISO 8859-16: 0xE3 is ă.
	body := []byte("Plata taxei de salubrizare: tax\xe3 anual\xe3.")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	w := &recordingWriter{}
	p, _ := NewPipeline(embedder.NewHashEmbedder(32), w, Config{})
	reports, err := p.Ingest(context.Background(), []Source{{URL: srv.URL + "/docs/salubrizare.txt?v=2", TenantIDs: []string{"pmb"}}}, nil)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if reports[0].Name != "salubrizare.txt" || reports[0].Category != "mediu" {
		t.Errorf("unexpected report: %+v", reports[0])
	}
	if !strings.Contains(w.passages[0].Text, "taxă anuală") {
		t.Errorf("legacy bytes not decoded: %q", w.passages[0].Text)
	}
}

func TestIngest_Errors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	_ = os.WriteFile(path, []byte("conținut"), 0o600)

	tests := []struct {
		name string
		emb  rag.Embedder
		src  Source
		want error
	}{
		{name: "no tenants", emb: embedder.NewHashEmbedder(8), src: Source{Path: path}, want: domain.ErrInvalidInput},
		{name: "path and url", emb: embedder.NewHashEmbedder(8), src: Source{Path: path, URL: "http://x", TenantIDs: []string{"t"}}, want: domain.ErrInvalidInput},
		{name: "embedding failure", emb: failingEmbedder{}, src: Source{Path: path, TenantIDs: []string{"t"}}, want: domain.ErrEmbedding},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p, _ := NewPipeline(tc.emb, &recordingWriter{}, Config{})
			if _, err := p.Ingest(context.Background(), []Source{tc.src}, nil); !errors.Is(err, tc.want) {
				t.Errorf("want %v, got %v", tc.want, err)
			}
		})
	}
}
