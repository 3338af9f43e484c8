package midras

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/midras-ai/midras/internal/domain"
	"github.com/midras-ai/midras/internal/domain/request"
	"github.com/midras-ai/midras/internal/logger"
	"github.com/midras-ai/midras/internal/raster"
	budgetrepo "github.com/midras-ai/midras/internal/repository/budget"
	"github.com/midras-ai/midras/internal/repository/embcache"
	"github.com/midras-ai/midras/internal/transport/api"
	"github.com/midras-ai/midras/internal/transport/openai"
	"github.com/midras-ai/midras/internal/usecase/embedding"
)

// engine is the embedding core shared by Client and AsyncClient.
type engine struct {
	credential string
	embedder   embcache.Embedder
	rasterizer Rasterizer
	pipeline   *embedding.Pipeline
	obs        *observer
	logger     *zap.Logger
}

func newEngine(credential string, cfg *clientConfig, d embedding.Dispatcher) (*engine, error) {
	if credential == "" {
		return nil, fmt.Errorf("credential is required: %w", ErrInvalidConfiguration)
	}
	if cfg.queryCacheSize < 0 {
		return nil, fmt.Errorf("query cache size must not be negative, got %d: %w",
			cfg.queryCacheSize, ErrInvalidConfiguration)
	}
	if cfg.queryCacheSize > 0 && cfg.queryCacheStore != nil {
		return nil, fmt.Errorf("WithQueryCache and WithQueryCacheStore are exclusive: %w", ErrInvalidConfiguration)
	}
	if cfg.openAIBaseURL != "" && cfg.openAIModel == "" {
		return nil, fmt.Errorf("openai embeddings need a model: %w", ErrInvalidConfiguration)
	}
	if b := cfg.budget; b != nil && (b.Daily < 0 || b.Monthly < 0) {
		return nil, fmt.Errorf("credit budget limits must not be negative: %w", ErrInvalidConfiguration)
	}

	log := cfg.logger
	if log == nil {
		log = zap.NewNop()
	}
	obs, err := newObserver(log, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	var inner embcache.Embedder
	provider := api.DefaultProvider
	if cfg.openAIModel != "" {
		provider = openai.DefaultProvider
		inner = openai.NewEmbedder(&openai.Config{
			APIKey:   credential,
			BaseURL:  cfg.openAIBaseURL,
			Model:    cfg.openAIModel,
			Provider: provider,
			Logger:   log,
		})
	} else {
		inner = api.NewClient(&api.Config{
			BaseURL:    cfg.baseURL,
			Timeout:    cfg.timeout,
			HTTPClient: cfg.httpClient,
			Provider:   provider,
			Logger:     log,
		})
	}

	if b := cfg.budget; b != nil {
		action := embedding.BudgetActionWarn
		if b.Reject {
			action = embedding.BudgetActionReject
		}
		tracker := embedding.NewBudgetTracker(embedding.DefaultBudgetKeyPrefix, provider, b.Daily, b.Monthly, action, log)
		if b.Store != nil {
			tracker.WithStore(context.Background(), budgetrepo.New(b.Store, 0, 0))
		}
		inner = embedding.NewInstrumentedEmbedder(inner, provider, tracker, log)
	}

	var cache embcache.Store
	switch {
	case cfg.queryCacheStore != nil:
		cache = cfg.queryCacheStore
	case cfg.queryCacheSize > 0:
		lru, err := embcache.NewLRU(cfg.queryCacheSize)
		if err != nil {
			_ = inner.Close()
			return nil, fmt.Errorf("query cache: %v: %w", err, ErrInvalidConfiguration)
		}
		cache = lru
	}
	if cache != nil {
		inner = embcache.New(inner, cache, obs.cacheCounter(), log)
	}

	rast := cfg.rasterizer
	if rast == nil {
		rast = raster.NewPoppler("", 0, log)
	}

	return &engine{
		credential: credential,
		embedder:   inner,
		rasterizer: rast,
		pipeline:   embedding.New(d),
		obs:        obs,
		logger:     log,
	}, nil
}

func (e *engine) context(ctx context.Context) context.Context {
	return logger.Ensure(ctx, e.logger)
}

// track records the outcome of one public operation.
func (e *engine) track(op string, start time.Time, err error) {
	e.obs.observe(op, start, err)
}

func (e *engine) embed(ctx context.Context, req request.Request) (domain.EmbeddingResponse, error) {
	resp, err := e.embedder.Embed(ctx, req)
	if err != nil {
		return domain.EmbeddingResponse{}, err
	}
	if len(resp.Embeddings) != req.Units() {
		return domain.EmbeddingResponse{}, fmt.Errorf("got %d embeddings for %d inputs: %w",
			len(resp.Embeddings), req.Units(), ErrMalformedResponse)
	}
	return resp, nil
}

func (e *engine) embedImages(ctx context.Context, images []Image, mode Mode) (domain.EmbeddingResponse, error) {
	if len(images) == 0 {
		return domain.EmptyResponse(), nil
	}
	req, err := request.NewImages(e.credential, mode, images)
	if err != nil {
		return domain.EmbeddingResponse{}, err
	}
	return e.embed(ctx, req)
}

func (e *engine) embedText(ctx context.Context, texts []string, mode Mode) (domain.EmbeddingResponse, error) {
	if len(texts) == 0 {
		return domain.EmptyResponse(), nil
	}
	req, err := request.NewQueries(e.credential, mode, texts)
	if err != nil {
		return domain.EmbeddingResponse{}, err
	}
	return e.embed(ctx, req)
}

// embedPages runs the batching pipeline over already rasterized pages.
func (e *engine) embedPages(
	ctx context.Context, pages []Image, batchSize int, includeImages bool,
) (domain.EmbeddingResponse, error) {
	resp, err := embedding.Run(ctx, e.pipeline, pages, batchSize,
		func(ctx context.Context, _ int, batch []Image) (domain.EmbeddingResponse, error) {
			return e.embedImages(ctx, batch, ModeStandard)
		})
	if err != nil {
		return domain.EmbeddingResponse{}, err
	}
	if includeImages {
		resp.Images = make([]Image, len(pages))
		copy(resp.Images, pages)
	}
	return resp, nil
}

func (e *engine) embedPDF(
	ctx context.Context, path string, batchSize int, includeImages bool,
) (domain.EmbeddingResponse, error) {
	if _, err := embedding.Chunk([]Image(nil), batchSize); err != nil {
		return domain.EmbeddingResponse{}, err
	}
	pages, err := e.rasterizer.Rasterize(ctx, path)
	if err != nil {
		return domain.EmbeddingResponse{}, err
	}
	ctx = logger.With(ctx, zap.String("document", path))
	logger.FromContext(ctx).Debug("Document rasterized", zap.Int("pages", len(pages)))
	return e.embedPages(ctx, pages, batchSize, includeImages)
}

// queryEmbedding embeds text as a single query unit.
func (e *engine) queryEmbedding(ctx context.Context, text string) (ColBERT, int, error) {
	if text == "" {
		return nil, 0, fmt.Errorf("query text is required: %w", ErrInvalidInput)
	}
	resp, err := e.embedText(ctx, []string{text}, ModeStandard)
	if err != nil {
		return nil, 0, err
	}
	return resp.Embeddings[0], resp.CreditsSpent, nil
}

func (e *engine) close() error {
	return e.embedder.Close()
}
