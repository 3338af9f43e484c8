package vectorstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/midras-ai/midras/internal/domain"
	"github.com/midras-ai/midras/vectorstore"
	"github.com/midras-ai/midras/vectorstore/memory"
)

func TestAsync_Semantics(t *testing.T) {
	ctx := context.Background()
	s := vectorstore.Async(memory.New())
	defer s.Close()

	created, err := s.CreateIndex(ctx, "docs").Await(ctx)
	if err != nil || !created {
		t.Fatalf("create: %v %v", created, err)
	}
	created, err = s.CreateIndex(ctx, "docs").Await(ctx)
	if err != nil || created {
		t.Fatalf("second create: %v %v", created, err)
	}

	p, err := s.CreatePoint(vectorstore.StringID("a"), domain.ColBERT{{1, 0}}, nil).Await(ctx)
	if err != nil {
		t.Fatalf("create point: %v", err)
	}
	res, err := s.SavePoints(ctx, "docs", []vectorstore.Point{p}).Await(ctx)
	if err != nil || res.Saved != 1 {
		t.Fatalf("save: %+v %v", res, err)
	}

	matches, err := s.Search(ctx, "docs", domain.ColBERT{{1, 0}}, 1).Await(ctx)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != vectorstore.StringID("a") {
		t.Fatalf("unexpected matches: %+v", matches)
	}

	_, err = s.Search(ctx, "missing", domain.ColBERT{{1, 0}}, 1).Await(ctx)
	if !errors.Is(err, vectorstore.ErrIndexNotFound) {
		t.Fatalf("expected ErrIndexNotFound, got %v", err)
	}
}
