package midras

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/midras-ai/midras/async"
	"github.com/midras-ai/midras/internal/usecase/embedding"
	"github.com/midras-ai/midras/vectorstore"
	"github.com/midras-ai/midras/vectorstore/memory"
)

// AsyncClient is the cooperative facade: every call starts the work and
// returns a Future. It behaves like Client in every other respect.
type AsyncClient struct {
	engine *engine
	store  vectorstore.AsyncStore

	closeOnce sync.Once
	closeErr  error
}

// NewAsync creates a cooperative client.
// The vector store must declare the Cooperative concurrency model; wrap a
// blocking Store with vectorstore.Async to use it here.
func NewAsync(credential string, opts ...Option) (*AsyncClient, error) {
	cfg := &clientConfig{}
	for _, o := range opts {
		o.apply(cfg)
	}

	switch {
	case cfg.store != nil:
		return nil, fmt.Errorf("async client needs a cooperative store, got a %s one: %w",
			cfg.store.Concurrency(), ErrIncompatibleBackend)
	case cfg.asyncStore != nil && cfg.asyncStore.Concurrency() != vectorstore.Cooperative:
		return nil, fmt.Errorf("async client needs a cooperative store, got a %s one: %w",
			cfg.asyncStore.Concurrency(), ErrIncompatibleBackend)
	case cfg.concurrentBatches < 0:
		return nil, fmt.Errorf("concurrent batches must not be negative, got %d: %w",
			cfg.concurrentBatches, ErrInvalidConfiguration)
	}

	eng, err := newEngine(credential, cfg, embedding.Concurrent(cfg.concurrentBatches))
	if err != nil {
		return nil, err
	}

	store := cfg.asyncStore
	if store == nil {
		store = vectorstore.Async(memory.New())
	}
	return &AsyncClient{engine: eng, store: store}, nil
}

// EmbedPDF starts embedding the document at path. See Client.EmbedPDF.
func (c *AsyncClient) EmbedPDF(
	ctx context.Context, path string, batchSize int, includeImages bool,
) *async.Future[EmbeddingResponse] {
	return c.embedding(ctx, "embed_pdf", func(ctx context.Context) (EmbeddingResponse, error) {
		return c.engine.embedPDF(ctx, path, batchSize, includeImages)
	})
}

// EmbedPages starts embedding already rasterized pages.
func (c *AsyncClient) EmbedPages(
	ctx context.Context, pages []Image, batchSize int, includeImages bool,
) *async.Future[EmbeddingResponse] {
	return c.embedding(ctx, "embed_pages", func(ctx context.Context) (EmbeddingResponse, error) {
		return c.engine.embedPages(ctx, pages, batchSize, includeImages)
	})
}

// EmbedImages starts embedding images in a single request.
func (c *AsyncClient) EmbedImages(ctx context.Context, images []Image, mode Mode) *async.Future[EmbeddingResponse] {
	return c.embedding(ctx, "embed_images", func(ctx context.Context) (EmbeddingResponse, error) {
		return c.engine.embedImages(ctx, images, mode)
	})
}

// EmbedText starts embedding text queries in a single request.
func (c *AsyncClient) EmbedText(ctx context.Context, texts []string, mode Mode) *async.Future[EmbeddingResponse] {
	return c.embedding(ctx, "embed_text", func(ctx context.Context) (EmbeddingResponse, error) {
		return c.engine.embedText(ctx, texts, mode)
	})
}

// CreateIndex starts creating the named index. An invalid name fails the
// returned Future without starting any work.
func (c *AsyncClient) CreateIndex(ctx context.Context, name string) *async.Future[bool] {
	if err := vectorstore.ValidateIndexName(name); err != nil {
		c.engine.track("create_index", time.Now(), err)
		return async.Failed[bool](err)
	}
	ctx = c.engine.context(ctx)
	return async.Go(ctx, func(ctx context.Context) (created bool, err error) {
		start := time.Now()
		defer func() { c.engine.track("create_index", start, err) }()

		return c.store.CreateIndex(ctx, name).Await(ctx)
	})
}

// AddPoint starts storing one embedding with its metadata in index.
func (c *AsyncClient) AddPoint(
	ctx context.Context, index string, id PointID, embedding ColBERT, data map[string]any,
) *async.Future[SaveResult] {
	ctx = c.engine.context(ctx)
	return async.Go(ctx, func(ctx context.Context) (res SaveResult, err error) {
		start := time.Now()
		defer func() { c.engine.track("add_point", start, err) }()

		saved := async.Then(ctx, c.store.CreatePoint(id, embedding, data),
			func(ctx context.Context, p Point) (SaveResult, error) {
				return c.store.SavePoints(ctx, index, []Point{p}).Await(ctx)
			})
		return saved.Await(ctx)
	})
}

// Query starts a search of index for text. See Client.Query. An invalid k
// fails the returned Future without embedding the query.
func (c *AsyncClient) Query(ctx context.Context, index, text string, k int) *async.Future[[]Match] {
	if err := vectorstore.ValidateTopK(k); err != nil {
		c.engine.track("query", time.Now(), err)
		return async.Failed[[]Match](err)
	}
	ctx = c.engine.context(ctx)
	return async.Go(ctx, func(ctx context.Context) (matches []Match, err error) {
		start := time.Now()
		defer func() { c.engine.track("query", start, err) }()

		emb, credits, err := c.engine.queryEmbedding(ctx, text)
		if err != nil {
			return nil, err
		}
		c.engine.obs.credits("query", credits)
		return c.store.Search(ctx, index, emb, k).Await(ctx)
	})
}

// Close releases the transport and the vector store. It does not wait for
// pending futures.
func (c *AsyncClient) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = errors.Join(c.engine.close(), c.store.Close())
	})
	return c.closeErr
}

func (c *AsyncClient) embedding(
	ctx context.Context, op string, fn func(context.Context) (EmbeddingResponse, error),
) *async.Future[EmbeddingResponse] {
	ctx = c.engine.context(ctx)
	return async.Go(ctx, func(ctx context.Context) (resp EmbeddingResponse, err error) {
		start := time.Now()
		defer func() {
			if err == nil {
				c.engine.obs.credits(op, resp.CreditsSpent)
			}
			c.engine.track(op, start, err)
		}()
		return fn(ctx)
	})
}
