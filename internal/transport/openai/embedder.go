// Package openai embeds text queries through any OpenAI-compatible
// embeddings endpoint. Every text becomes a single-row multi-vector.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/midras-ai/midras/internal/domain"
	"github.com/midras-ai/midras/internal/domain/request"
	"github.com/midras-ai/midras/internal/metrics"
)

// DefaultProvider is the metrics label of this transport.
const DefaultProvider = "openai"

// Embedder is an embedding provider using the OpenAI-compatible API.
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	user       string
	provider   string
	logger     *zap.Logger
}

// Config holds the embedding provider settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	User       string
	Provider   string
	Logger     *zap.Logger
}

// NewEmbedder creates an OpenAI-compatible embedding provider.
func NewEmbedder(cfg *Config) *Embedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	provider := cfg.Provider
	if provider == "" {
		provider = DefaultProvider
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Embedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		user:       cfg.User,
		provider:   provider,
		logger:     logger,
	}
}

// Embed embeds the queries of req. Image requests are rejected: the
// endpoint only understands text. Credits are the reported total tokens.
func (e *Embedder) Embed(ctx context.Context, req request.Request) (domain.EmbeddingResponse, error) {
	kind := string(req.Kind())
	if req.Kind() != request.KindQueries {
		metrics.RecordEmbeddingError(e.provider, kind, "unsupported", false)
		return domain.EmbeddingResponse{}, fmt.Errorf("%s provider embeds text only: %w", e.provider, domain.ErrInvalidInput)
	}
	texts := req.Queries()

	oreq := openai.EmbeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		User:           e.user,
	}
	if e.dimensions > 0 {
		oreq.Dimensions = e.dimensions
	}

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, oreq)
	duration := time.Since(start)

	if err != nil {
		metrics.RecordEmbeddingError(e.provider, kind, "api_error", true)
		e.logger.Warn("Embedding request failed",
			zap.String("provider", e.provider),
			zap.Int("units", len(texts)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return domain.EmbeddingResponse{}, parseAPIError(err)
	}

	embeddings, err := orderByIndex(resp.Data, len(texts))
	if err != nil {
		metrics.RecordEmbeddingError(e.provider, kind, "malformed", true)
		return domain.EmbeddingResponse{}, err
	}

	metrics.RecordEmbedding(e.provider, kind, len(texts), resp.Usage.TotalTokens, duration)

	return domain.EmbeddingResponse{
		CreditsSpent: resp.Usage.TotalTokens,
		Embeddings:   embeddings,
	}, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Close is a no-op; the client keeps no resources of its own.
func (e *Embedder) Close() error { return nil }

// orderByIndex restores request order; the API does not guarantee it.
func orderByIndex(data []openai.Embedding, want int) ([]domain.ColBERT, error) {
	if len(data) != want {
		return nil, fmt.Errorf("got %d embeddings for %d texts: %w", len(data), want, domain.ErrMalformedResponse)
	}
	out := make([]domain.ColBERT, want)
	for _, d := range data {
		if d.Index < 0 || d.Index >= want || out[d.Index] != nil {
			return nil, fmt.Errorf("bad embedding index %d: %w", d.Index, domain.ErrMalformedResponse)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("embedding %d is empty: %w", d.Index, domain.ErrMalformedResponse)
		}
		out[d.Index] = domain.ColBERT{d.Embedding}
	}
	return out, nil
}

// parseAPIError maps the API failure onto the service error taxonomy.
func parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		body := reqErr.Body
		if detail := extractDetail(body); detail != "" {
			body = []byte(detail)
		}
		if mapped := domain.StatusError(reqErr.HTTPStatusCode, body); mapped != nil {
			return fmt.Errorf("embedding API: %w", mapped)
		}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		if mapped := domain.StatusError(apiErr.HTTPStatusCode, []byte(apiErr.Message)); mapped != nil {
			return fmt.Errorf("embedding API: %w", mapped)
		}
	}

	return fmt.Errorf("embedding request failed: %w", err)
}

// extractDetail extracts the "detail" field from a JSON error body (Nebius error format).
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
