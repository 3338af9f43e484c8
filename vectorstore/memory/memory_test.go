package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/midras-ai/midras/internal/domain"
	"github.com/midras-ai/midras/vectorstore"
)

func mustCreate(t *testing.T, s *Store, name string) {
	t.Helper()
	created, err := s.CreateIndex(context.Background(), name)
	if err != nil {
		t.Fatalf("create index: %v", err)
	}
	if !created {
		t.Fatalf("index %q already existed", name)
	}
}

func TestCreateIndex_Twice(t *testing.T) {
	s := New()
	ctx := context.Background()
	mustCreate(t, s, "docs")

	p := s.CreatePoint(vectorstore.IntID(1), domain.ColBERT{{1, 0}}, nil)
	if _, err := s.SavePoints(ctx, "docs", []vectorstore.Point{p}); err != nil {
		t.Fatalf("save: %v", err)
	}

	created, err := s.CreateIndex(ctx, "docs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatal("second create must report false")
	}
	got, err := s.Search(ctx, "docs", domain.ColBERT{{1, 0}}, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("existing index was modified: %d points", len(got))
	}
}

func TestCreateIndex_EmptyName(t *testing.T) {
	if _, err := New().CreateIndex(context.Background(), ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestMissingIndex(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := s.CreatePoint(vectorstore.StringID("a"), domain.ColBERT{{1}}, nil)

	if _, err := s.SavePoints(ctx, "nope", []vectorstore.Point{p}); !errors.Is(err, domain.ErrIndexNotFound) {
		t.Fatalf("save: expected ErrIndexNotFound, got %v", err)
	}
	if _, err := s.SavePoints(ctx, "nope", nil); !errors.Is(err, domain.ErrIndexNotFound) {
		t.Fatalf("empty save: expected ErrIndexNotFound, got %v", err)
	}
	if _, err := s.Search(ctx, "nope", domain.ColBERT{{1}}, 1); !errors.Is(err, domain.ErrIndexNotFound) {
		t.Fatalf("search: expected ErrIndexNotFound, got %v", err)
	}
}

func TestSearch_InvalidTopK(t *testing.T) {
	s := New()
	mustCreate(t, s, "docs")
	for _, k := range []int{0, -1} {
		_, err := s.Search(context.Background(), "docs", domain.ColBERT{{1}}, k)
		if !errors.Is(err, domain.ErrInvalidConfiguration) {
			t.Errorf("k=%d: expected ErrInvalidConfiguration, got %v", k, err)
		}
	}
}

func TestSearch_RanksByMaxSim(t *testing.T) {
	s := New()
	ctx := context.Background()
	mustCreate(t, s, "docs")

	points := []vectorstore.Point{
		s.CreatePoint(vectorstore.StringID("east"), domain.ColBERT{{1, 0}, {0.5, 0.5}}, map[string]any{"dir": "e"}),
		s.CreatePoint(vectorstore.StringID("north"), domain.ColBERT{{0, 1}}, map[string]any{"dir": "n"}),
		s.CreatePoint(vectorstore.StringID("west"), domain.ColBERT{{-1, 0}}, nil),
	}
	res, err := s.SavePoints(ctx, "docs", points)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if res.Saved != 3 {
		t.Fatalf("Saved = %d, want 3", res.Saved)
	}

	got, err := s.Search(ctx, "docs", domain.ColBERT{{1, 0}}, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	if got[0].ID != vectorstore.StringID("east") || got[0].Score != 1 {
		t.Errorf("top match = %+v", got[0])
	}
	if got[0].Metadata["dir"] != "e" {
		t.Errorf("metadata = %v", got[0].Metadata)
	}
	if got[1].ID != vectorstore.StringID("north") {
		t.Errorf("second match = %+v", got[1])
	}
}

func TestSearch_TopKLargerThanIndex(t *testing.T) {
	s := New()
	ctx := context.Background()
	mustCreate(t, s, "docs")
	p := s.CreatePoint(vectorstore.IntID(7), domain.ColBERT{{1}}, nil)
	if _, err := s.SavePoints(ctx, "docs", []vectorstore.Point{p}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Search(ctx, "docs", domain.ColBERT{{1}}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ID != vectorstore.IntID(7) {
		t.Fatalf("unexpected matches: %+v", got)
	}
}

func TestSavePoints_Upsert(t *testing.T) {
	s := New()
	ctx := context.Background()
	mustCreate(t, s, "docs")

	first := s.CreatePoint(vectorstore.StringID("a"), domain.ColBERT{{0, 1}}, map[string]any{"v": 1})
	second := s.CreatePoint(vectorstore.StringID("a"), domain.ColBERT{{1, 0}}, map[string]any{"v": 2})
	for _, p := range []vectorstore.Point{first, second} {
		if _, err := s.SavePoints(ctx, "docs", []vectorstore.Point{p}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, err := s.Search(ctx, "docs", domain.ColBERT{{1, 0}}, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].Metadata["v"] != 2 || got[0].Score != 1 {
		t.Fatalf("expected replaced point, got %+v", got)
	}
}

func TestSavePoints_StringAndIntIDsDistinct(t *testing.T) {
	s := New()
	ctx := context.Background()
	mustCreate(t, s, "docs")
	points := []vectorstore.Point{
		s.CreatePoint(vectorstore.StringID("1"), domain.ColBERT{{1}}, nil),
		s.CreatePoint(vectorstore.IntID(1), domain.ColBERT{{1}}, nil),
	}
	if _, err := s.SavePoints(ctx, "docs", points); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Search(ctx, "docs", domain.ColBERT{{1}}, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 distinct points, got %+v", got)
	}
}

func TestSavePoints_RejectsRaggedEmbedding(t *testing.T) {
	s := New()
	mustCreate(t, s, "docs")
	p := s.CreatePoint(vectorstore.StringID("bad"), domain.ColBERT{{1, 2}, {3}}, nil)
	_, err := s.SavePoints(context.Background(), "docs", []vectorstore.Point{p})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestMetadataIsCopied(t *testing.T) {
	s := New()
	ctx := context.Background()
	mustCreate(t, s, "docs")
	meta := map[string]any{"k": "before"}
	p := s.CreatePoint(vectorstore.StringID("a"), domain.ColBERT{{1}}, meta)
	if _, err := s.SavePoints(ctx, "docs", []vectorstore.Point{p}); err != nil {
		t.Fatalf("save: %v", err)
	}
	meta["k"] = "after"

	got, err := s.Search(ctx, "docs", domain.ColBERT{{1}}, 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got[0].Metadata["k"] != "before" {
		t.Fatalf("stored metadata aliased caller map: %v", got[0].Metadata)
	}
}

func TestConcurrentUse(t *testing.T) {
	s := New()
	ctx := context.Background()
	mustCreate(t, s, "docs")

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := s.CreatePoint(vectorstore.IntID(int64(i)), domain.ColBERT{{float32(i)}}, nil)
			if _, err := s.SavePoints(ctx, "docs", []vectorstore.Point{p}); err != nil {
				t.Errorf("save %d: %v", i, err)
			}
			if _, err := s.Search(ctx, "docs", domain.ColBERT{{1}}, 3); err != nil {
				t.Errorf("search %d: %v", i, err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Search(ctx, "docs", domain.ColBERT{{1}}, 100)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 16 {
		t.Fatalf("expected 16 points, got %d", len(got))
	}
	if got[0].ID != vectorstore.IntID(15) {
		t.Fatalf("top = %v", got[0].ID)
	}
}

func TestClose(t *testing.T) {
	s := New()
	mustCreate(t, s, "docs")
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.CreateIndex(context.Background(), "x"); err == nil {
		t.Fatal("expected error after close")
	}
}

func TestConcurrencyModel(t *testing.T) {
	if New().Concurrency() != vectorstore.Blocking {
		t.Fatal("memory store must be blocking")
	}
	if vectorstore.Async(New()).Concurrency() != vectorstore.Cooperative {
		t.Fatal("adapted store must be cooperative")
	}
}

func TestPing(t *testing.T) {
	s := New()
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping open store: %v", err)
	}
	_ = s.Close()
	if err := s.Ping(context.Background()); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Fatalf("ping closed store: got %v", err)
	}
}
