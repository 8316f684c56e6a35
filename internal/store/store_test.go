package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/54b3r/primaria-go/internal/cache"
	"github.com/54b3r/primaria-go/internal/domain"
	"github.com/54b3r/primaria-go/internal/rag"
)

var (
	_ cache.Persister   = (*SQLiteStore)(nil)
	_ rag.Snapshot      = (*SQLiteStore)(nil)
	_ rag.PassageWriter = (*SQLiteStore)(nil)
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_Store_AppendAndRecent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "sess-a", "t1", domain.RoleUser, "Cât este TVA?"); err != nil {
		t.Fatalf("append user: %v", err)
	}
	if err := s.Append(ctx, "sess-a", "t1", domain.RoleAssistant, "TVA este 19%."); err != nil {
		t.Fatalf("append assistant: %v", err)
	}

	msgs, err := s.Recent(ctx, "sess-a", "t1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("want 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != domain.RoleUser || msgs[0].Content != "Cât este TVA?" {
		t.Errorf("msg[0]: want user question, got %s/%s", msgs[0].Role, msgs[0].Content)
	}
	if msgs[1].Role != domain.RoleAssistant || msgs[1].Content != "TVA este 19%." {
		t.Errorf("msg[1]: want assistant answer, got %s/%s", msgs[1].Role, msgs[1].Content)
	}
}

func Test_Store_RecentLimitKeepsTail(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i := range 6 {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		if err := s.Append(ctx, "sess-b", "t1", role, fmt.Sprintf("msg-%d", i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	turns, err := s.RecentTurns(ctx, "sess-b", "t1", 4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(turns) != 4 {
		t.Fatalf("want 4 turns, got %d", len(turns))
	}
	for i, want := range []string{"msg-2", "msg-3", "msg-4", "msg-5"} {
		if turns[i].Content != want {
			t.Errorf("turn[%d]: want %s, got %s", i, want, turns[i].Content)
		}
	}
}

func Test_Store_SessionsIsolatedByTenant(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.Append(ctx, "sess", "t1", domain.RoleUser, "from t1")
	_ = s.Append(ctx, "sess", "t2", domain.RoleUser, "from t2")
	_ = s.Append(ctx, "other", "t1", domain.RoleUser, "other session")

	msgs, err := s.Recent(ctx, "sess", "t1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "from t1" {
		t.Errorf("want only the t1 message of sess, got %+v", msgs)
	}
}

func Test_Store_UnknownSessionReturnsNil(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	msgs, err := s.Recent(context.Background(), "missing", "t1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if msgs != nil {
		t.Errorf("want nil for unknown session, got %v", msgs)
	}
}

func Test_Store_CacheEntriesRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 123)
	entry := cache.Entry{
		ID:         "e1",
		TenantID:   "t1",
		Question:   "Care este cota TVA?",
		Normalized: "care este cota tva",
		Embedding:  []float32{0.25, -0.5, 1},
		Answer:     "Cota standard este 19%.",
		Citations: []domain.Citation{{
			DocumentID: "d1", PassageID: "d1-0", DocumentName: "codul_fiscal.pdf", PageNumber: domain.Page(12),
		}},
		Confidence: 0.8,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
		HitCount:   3,
		LastAccess: now.Add(time.Minute),
	}
	if err := s.SaveCacheEntry(ctx, entry); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.LoadCacheEntries(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("want 1 entry, got %d", len(got))
	}
	e := got[0]
	if e.Answer != entry.Answer || e.Normalized != entry.Normalized || e.HitCount != 3 {
		t.Errorf("entry fields differ: %+v", e)
	}
	if len(e.Embedding) != 3 || e.Embedding[1] != -0.5 {
		t.Errorf("embedding not preserved: %v", e.Embedding)
	}
	if !e.ExpiresAt.Equal(entry.ExpiresAt) || !e.LastAccess.Equal(entry.LastAccess) {
		t.Errorf("timestamps not preserved: %v %v", e.ExpiresAt, e.LastAccess)
	}
	if len(e.Citations) != 1 || e.Citations[0].PageNumber == nil || *e.Citations[0].PageNumber != 12 {
		t.Errorf("citations not preserved: %+v", e.Citations)
	}
}

func Test_Store_CacheEntriesDeleteAndClear(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i, tenant := range []string{"t1", "t1", "t2"} {
		e := cache.Entry{ID: fmt.Sprintf("e%d", i), TenantID: tenant, Question: "q", Normalized: "q", Embedding: []float32{1}}
		if err := s.SaveCacheEntry(ctx, e); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	if err := s.DeleteCacheEntries(ctx, []string{"e0"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.ClearCacheEntries(ctx, "t2"); err != nil {
		t.Fatalf("clear t2: %v", err)
	}
	got, _ := s.LoadCacheEntries(ctx)
	if len(got) != 1 || got[0].ID != "e1" {
		t.Fatalf("want only e1 left, got %+v", got)
	}

	if err := s.ClearCacheEntries(ctx, ""); err != nil {
		t.Fatalf("clear all: %v", err)
	}
	got, _ = s.LoadCacheEntries(ctx)
	if len(got) != 0 {
		t.Errorf("want empty cache table, got %d entries", len(got))
	}
}

func Test_Store_DocumentsHydrateMemoryStore(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	doc := domain.Document{ID: "d1", Name: "taxe_locale.pdf", Category: "fiscal", Processed: true, TenantIDs: []string{"t1", "t2"}}
	passages := []domain.Passage{
		{ID: "d1-t1-0", DocumentID: "d1", TenantID: "t1", Ordinal: 0, Text: "Impozitul pe clădiri se plătește în două rate.", Embedding: []float32{1, 0}, PageNumber: domain.Page(3), Metadata: map[string]string{"category": "fiscal"}},
		{ID: "d1-t2-0", DocumentID: "d1", TenantID: "t2", Ordinal: 0, Text: "Impozitul pe clădiri se plătește în două rate.", Embedding: []float32{1, 0}},
	}
	if err := s.Upsert(ctx, doc, passages); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	docs, err := s.Documents(ctx)
	if err != nil {
		t.Fatalf("documents: %v", err)
	}
	if len(docs) != 1 || len(docs[0].TenantIDs) != 2 || !docs[0].Processed {
		t.Fatalf("unexpected documents: %+v", docs)
	}
	got, err := s.Passages(ctx, "d1")
	if err != nil {
		t.Fatalf("passages: %v", err)
	}
	if len(got) != 2 || got[0].DocumentName != "taxe_locale.pdf" || got[0].PageNumber == nil || *got[0].PageNumber != 3 {
		t.Fatalf("unexpected passages: %+v", got)
	}
	if got[0].Metadata["category"] != "fiscal" || got[1].PageNumber != nil {
		t.Errorf("metadata or page not preserved: %+v", got)
	}

	mem := rag.NewMemoryStore()
	n, err := mem.Load(ctx, s)
	if err != nil {
		t.Fatalf("load into memory store: %v", err)
	}
	if n != 2 || mem.Len("t1") != 1 {
		t.Errorf("want 2 passages loaded and 1 for t1, got %d and %d", n, mem.Len("t1"))
	}
}

func Test_Store_UpsertReplacesPassages(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	doc := domain.Document{ID: "d1", Name: "a.pdf", Processed: true, TenantIDs: []string{"t1"}}
	first := []domain.Passage{
		{ID: "d1-0", DocumentID: "d1", TenantID: "t1", Ordinal: 0, Text: "unu"},
		{ID: "d1-1", DocumentID: "d1", TenantID: "t1", Ordinal: 1, Text: "doi"},
	}
	if err := s.Upsert(ctx, doc, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second := []domain.Passage{{ID: "d1-0", DocumentID: "d1", TenantID: "t1", Ordinal: 0, Text: "trei"}}
	if err := s.Upsert(ctx, doc, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, _ := s.Passages(ctx, "d1")
	if len(got) != 1 || got[0].Text != "trei" || got[0].Embedding != nil {
		t.Fatalf("want single replaced passage, got %+v", got)
	}

	if err := s.DeleteDocument(ctx, "d1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	docs, _ := s.Documents(ctx)
	got, _ = s.Passages(ctx, "d1")
	if len(docs) != 0 || len(got) != 0 {
		t.Errorf("want document and passages gone, got %d docs %d passages", len(docs), len(got))
	}
}
