package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/midras-ai/midras"
	"github.com/midras-ai/midras/internal/config"
	"github.com/midras-ai/midras/internal/raster"
	"github.com/midras-ai/midras/vectorstore"
	"github.com/midras-ai/midras/vectorstore/memory"
	"github.com/midras-ai/midras/vectorstore/qdrant"
	"github.com/midras-ai/midras/vectorstore/redis"
	"github.com/midras-ai/midras/vectorstore/sqlite"
)

// embedClient is the blocking view shared by Client and an awaited AsyncClient.
type embedClient interface {
	EmbedPDF(ctx context.Context, path string, batchSize int, includeImages bool) (midras.EmbeddingResponse, error)
	EmbedText(ctx context.Context, texts []string, mode midras.Mode) (midras.EmbeddingResponse, error)
	CreateIndex(ctx context.Context, name string) (bool, error)
	AddPoint(ctx context.Context, index string, id midras.PointID, emb midras.ColBERT, data map[string]any) (midras.SaveResult, error)
	Query(ctx context.Context, index, text string, k int) ([]midras.Match, error)
	Close() error
}

// awaited blocks on every future of an AsyncClient.
type awaited struct {
	c *midras.AsyncClient
}

func (a awaited) EmbedPDF(ctx context.Context, path string, batchSize int, includeImages bool) (midras.EmbeddingResponse, error) {
	return a.c.EmbedPDF(ctx, path, batchSize, includeImages).Await(ctx)
}

func (a awaited) EmbedText(ctx context.Context, texts []string, mode midras.Mode) (midras.EmbeddingResponse, error) {
	return a.c.EmbedText(ctx, texts, mode).Await(ctx)
}

func (a awaited) CreateIndex(ctx context.Context, name string) (bool, error) {
	return a.c.CreateIndex(ctx, name).Await(ctx)
}

func (a awaited) AddPoint(
	ctx context.Context, index string, id midras.PointID, emb midras.ColBERT, data map[string]any,
) (midras.SaveResult, error) {
	return a.c.AddPoint(ctx, index, id, emb, data).Await(ctx)
}

func (a awaited) Query(ctx context.Context, index, text string, k int) ([]midras.Match, error) {
	return a.c.Query(ctx, index, text, k).Await(ctx)
}

func (a awaited) Close() error { return a.c.Close() }

// sharedKV is a backend that can also hold query embeddings and credit counters.
type sharedKV interface {
	midras.CacheStore
	midras.CounterStore
}

// backend is a configured vector store that can report its availability.
type backend interface {
	vectorstore.Store
	Ping(ctx context.Context) error
}

// openStore builds the configured vector store backend.
// kv is non-nil when the backend can share its key-value space.
func openStore(ctx context.Context, cfg config.VectorStoreConfig) (backend, sharedKV, error) {
	switch cfg.Driver {
	case config.DriverRedis:
		s, err := redis.New(ctx, redis.Config{
			Addrs:          cfg.Redis.Addrs,
			Username:       cfg.Redis.Username,
			Password:       cfg.Redis.Password,
			DB:             cfg.Redis.DB,
			KeyPrefix:      cfg.Redis.KeyPrefix,
			ConnectTimeout: time.Duration(cfg.Redis.ReadinessTimeout) * time.Second,
			CacheTTL:       time.Duration(cfg.Redis.CacheTTLSec) * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.DriverQdrant:
		s, err := qdrant.New(qdrant.Config{Addr: cfg.Qdrant.Addr, Dimensions: cfg.Qdrant.Dimensions})
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	default:
		return memory.New(), nil, nil
	}
}

// newClient wires a client from configuration. Concurrency above one
// selects the async client with concurrent batches.
func (a *app) newClient(ctx context.Context) (embedClient, error) {
	cfg := a.cfg
	if cfg.API.APIKey == "" {
		return nil, fmt.Errorf("api.api_key is required: %w", midras.ErrInvalidConfiguration)
	}

	store, kv, err := openStore(ctx, cfg.VectorStore)
	if err != nil {
		return nil, fmt.Errorf("open %s vector store: %w", cfg.VectorStore.Driver, err)
	}

	opts := []midras.Option{
		midras.WithTimeout(cfg.API.Timeout()),
		midras.WithRasterizer(raster.NewPoppler(cfg.Raster.Binary, cfg.Raster.DPI, a.logger)),
		midras.WithLogger(a.logger),
	}
	if cfg.API.BaseURL != "" {
		opts = append(opts, midras.WithBaseURL(cfg.API.BaseURL))
	}
	if cfg.Embedding.OpenAI.Enabled() {
		opts = append(opts, midras.WithOpenAIEmbeddings(cfg.Embedding.OpenAI.BaseURL, cfg.Embedding.OpenAI.Model))
	}
	switch {
	case kv != nil:
		opts = append(opts, midras.WithQueryCacheStore(kv))
	case cfg.Embedding.QueryCacheSize > 0:
		opts = append(opts, midras.WithQueryCache(cfg.Embedding.QueryCacheSize))
	}

	if b := cfg.Embedding.Budget; b.Enabled() {
		budget := midras.CreditBudget{
			Daily:   b.DailyCreditLimit,
			Monthly: b.MonthlyCreditLimit,
			Reject:  b.Action == "reject",
		}
		if kv != nil {
			budget.Store = kv
		}
		opts = append(opts, midras.WithCreditBudget(budget))
	}

	a.logger.Debug("Creating client",
		zap.String("driver", cfg.VectorStore.Driver),
		zap.Int("concurrency", cfg.Embedding.Concurrency),
		zap.Bool("openai", cfg.Embedding.OpenAI.Enabled()),
	)

	var client embedClient
	if cfg.Embedding.Concurrency > 1 {
		opts = append(opts,
			midras.WithAsyncVectorStore(vectorstore.Async(store)),
			midras.WithConcurrentBatches(cfg.Embedding.Concurrency),
		)
		var ac *midras.AsyncClient
		ac, err = midras.NewAsync(cfg.API.APIKey, opts...)
		if ac != nil {
			client = awaited{c: ac}
		}
	} else {
		opts = append(opts, midras.WithVectorStore(store))
		var c *midras.Client
		c, err = midras.New(cfg.API.APIKey, opts...)
		if c != nil {
			client = c
		}
	}
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return client, nil
}
