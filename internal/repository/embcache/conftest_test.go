package embcache

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/midras-ai/midras/internal/db"
	"github.com/midras-ai/midras/internal/domain"
	"github.com/midras-ai/midras/internal/domain/request"
)

// mockEmbedder returns one single-row embedding per query, [len(text)].
type mockEmbedder struct {
	err    error
	calls  int
	seen   [][]string
	closed bool
}

func (m *mockEmbedder) Embed(_ context.Context, req request.Request) (domain.EmbeddingResponse, error) {
	m.calls++
	if m.err != nil {
		return domain.EmbeddingResponse{}, m.err
	}
	texts := req.Queries()
	m.seen = append(m.seen, texts)
	out := make([]domain.ColBERT, len(texts))
	for i, t := range texts {
		out[i] = domain.ColBERT{{float32(len(t))}}
	}
	return domain.EmbeddingResponse{CreditsSpent: len(texts), Embeddings: out}, nil
}

func (m *mockEmbedder) Close() error {
	m.closed = true
	return nil
}

// mockKVStore implements the consumer interface for tests.
type mockKVStore struct {
	getFn func(ctx context.Context, key string) ([]byte, error)
	setFn func(ctx context.Context, key string, value []byte) error
}

func (m *mockKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return nil, db.ErrKeyNotFound
}

func (m *mockKVStore) Set(ctx context.Context, key string, value []byte) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value)
	}
	return nil
}

func newTestCachedEmbedder(t *testing.T, inner *mockEmbedder) (*CachedEmbedder, *mockKVStore) {
	t.Helper()
	ms := &mockKVStore{}
	ce := New(inner, ms, nil, zap.NewNop())
	return ce, ms
}

func queryRequest(t *testing.T, texts ...string) request.Request {
	t.Helper()
	req, err := request.NewQueries("key", domain.ModeStandard, texts)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return req
}
