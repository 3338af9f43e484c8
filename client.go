package midras

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/midras-ai/midras/internal/usecase/embedding"
	"github.com/midras-ai/midras/vectorstore"
	"github.com/midras-ai/midras/vectorstore/memory"
)

// Client is the blocking facade: every call returns once the work is done.
// Batches of a document are embedded one after another.
type Client struct {
	engine *engine
	store  vectorstore.Store

	closeOnce sync.Once
	closeErr  error
}

// New creates a blocking client.
// The vector store must declare the Blocking concurrency model.
func New(credential string, opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, o := range opts {
		o.apply(cfg)
	}

	switch {
	case cfg.asyncStore != nil:
		return nil, fmt.Errorf("client needs a blocking store, got a %s one: %w",
			cfg.asyncStore.Concurrency(), ErrIncompatibleBackend)
	case cfg.store != nil && cfg.store.Concurrency() != vectorstore.Blocking:
		return nil, fmt.Errorf("client needs a blocking store, got a %s one: %w",
			cfg.store.Concurrency(), ErrIncompatibleBackend)
	case cfg.concurrentBatches != 0:
		return nil, fmt.Errorf("concurrent batches need an async client: %w", ErrInvalidConfiguration)
	}

	eng, err := newEngine(credential, cfg, embedding.Sequential())
	if err != nil {
		return nil, err
	}

	store := cfg.store
	if store == nil {
		store = memory.New()
	}
	return &Client{engine: eng, store: store}, nil
}

// EmbedPDF rasterizes the document at path and embeds its pages in batches
// of batchSize. With includeImages the pages are returned alongside.
func (c *Client) EmbedPDF(
	ctx context.Context, path string, batchSize int, includeImages bool,
) (resp EmbeddingResponse, err error) {
	defer c.track("embed_pdf", time.Now(), &resp, &err)
	return c.engine.embedPDF(c.engine.context(ctx), path, batchSize, includeImages)
}

// EmbedPages embeds already rasterized pages in batches of batchSize.
func (c *Client) EmbedPages(
	ctx context.Context, pages []Image, batchSize int, includeImages bool,
) (resp EmbeddingResponse, err error) {
	defer c.track("embed_pages", time.Now(), &resp, &err)
	return c.engine.embedPages(c.engine.context(ctx), pages, batchSize, includeImages)
}

// EmbedImages embeds images in a single request.
// An empty slice returns an empty response without contacting the service.
func (c *Client) EmbedImages(ctx context.Context, images []Image, mode Mode) (resp EmbeddingResponse, err error) {
	defer c.track("embed_images", time.Now(), &resp, &err)
	return c.engine.embedImages(c.engine.context(ctx), images, mode)
}

// EmbedText embeds text queries in a single request.
func (c *Client) EmbedText(ctx context.Context, texts []string, mode Mode) (resp EmbeddingResponse, err error) {
	defer c.track("embed_text", time.Now(), &resp, &err)
	return c.engine.embedText(c.engine.context(ctx), texts, mode)
}

// CreateIndex creates the named index. It reports false if it already existed.
func (c *Client) CreateIndex(ctx context.Context, name string) (created bool, err error) {
	start := time.Now()
	defer func() { c.engine.track("create_index", start, err) }()

	if err = vectorstore.ValidateIndexName(name); err != nil {
		return false, err
	}
	return c.store.CreateIndex(c.engine.context(ctx), name)
}

// AddPoint stores one embedding with its metadata in index.
func (c *Client) AddPoint(
	ctx context.Context, index string, id PointID, embedding ColBERT, data map[string]any,
) (res SaveResult, err error) {
	start := time.Now()
	defer func() { c.engine.track("add_point", start, err) }()

	p := c.store.CreatePoint(id, embedding, data)
	return c.store.SavePoints(c.engine.context(ctx), index, []Point{p})
}

// Query embeds text as a single query and returns the k most similar points
// of index. k is checked before any credits are spent.
func (c *Client) Query(ctx context.Context, index, text string, k int) (matches []Match, err error) {
	start := time.Now()
	defer func() { c.engine.track("query", start, err) }()

	if err = vectorstore.ValidateTopK(k); err != nil {
		return nil, err
	}
	ctx = c.engine.context(ctx)
	emb, credits, err := c.engine.queryEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}
	c.engine.obs.credits("query", credits)
	return c.store.Search(ctx, index, emb, k)
}

// Close releases the transport and the vector store. It is safe to call
// more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = errors.Join(c.engine.close(), c.store.Close())
	})
	return c.closeErr
}

func (c *Client) track(op string, start time.Time, resp *EmbeddingResponse, err *error) {
	if *err == nil {
		c.engine.obs.credits(op, resp.CreditsSpent)
	}
	c.engine.track(op, start, *err)
}
