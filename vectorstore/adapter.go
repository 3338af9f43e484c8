package vectorstore

import (
	"context"

	"github.com/midras-ai/midras/async"
	"github.com/midras-ai/midras/internal/domain"
)

// Async adapts a goroutine-safe blocking Store to the cooperative contract.
// Each call runs the blocking operation in its own goroutine.
func Async(s Store) AsyncStore {
	return &asyncStore{inner: s}
}

type asyncStore struct {
	inner Store
}

func (a *asyncStore) Concurrency() Concurrency { return Cooperative }

func (a *asyncStore) CreateIndex(ctx context.Context, name string) *async.Future[bool] {
	return async.Go(ctx, func(ctx context.Context) (bool, error) {
		return a.inner.CreateIndex(ctx, name)
	})
}

func (a *asyncStore) CreatePoint(id PointID, embedding domain.ColBERT, metadata map[string]any) *async.Future[Point] {
	return async.Resolved(a.inner.CreatePoint(id, embedding, metadata))
}

func (a *asyncStore) SavePoints(ctx context.Context, index string, points []Point) *async.Future[SaveResult] {
	return async.Go(ctx, func(ctx context.Context) (SaveResult, error) {
		return a.inner.SavePoints(ctx, index, points)
	})
}

func (a *asyncStore) Search(
	ctx context.Context, index string, query domain.ColBERT, topK int,
) *async.Future[[]Match] {
	return async.Go(ctx, func(ctx context.Context) ([]Match, error) {
		return a.inner.Search(ctx, index, query, topK)
	})
}

func (a *asyncStore) Close() error { return a.inner.Close() }
