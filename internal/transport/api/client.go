// Package api is the HTTP transport to the midras embedding service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/midras-ai/midras/internal/domain"
	"github.com/midras-ai/midras/internal/domain/request"
	"github.com/midras-ai/midras/internal/metrics"
	"github.com/midras-ai/midras/internal/version"
)

// Transport defaults.
const (
	DefaultBaseURL  = "https://api.midras.ai"
	DefaultTimeout  = 180 * time.Second
	DefaultProvider = "midras"
)

// Config holds the transport settings.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Provider   string
	Logger     *zap.Logger
}

// Client posts embedding requests to the service and validates the responses.
type Client struct {
	http     *http.Client
	baseURL  string
	provider string
	logger   *zap.Logger
}

// NewClient creates a transport client. The per-call timeout applies to
// every HTTP exchange; a caller-supplied HTTPClient keeps its own timeout
// unless it has none.
func NewClient(cfg *Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	} else if httpClient.Timeout == 0 {
		c := *httpClient
		c.Timeout = timeout
		httpClient = &c
	}

	provider := cfg.Provider
	if provider == "" {
		provider = DefaultProvider
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		http:     httpClient,
		baseURL:  strings.TrimRight(baseURL, "/"),
		provider: provider,
		logger:   logger,
	}
}

// Embed sends one request to the endpoint matching its payload kind.
func (c *Client) Embed(ctx context.Context, req request.Request) (domain.EmbeddingResponse, error) {
	kind := string(req.Kind())

	body, err := json.Marshal(req)
	if err != nil {
		return domain.EmbeddingResponse{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+req.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return domain.EmbeddingResponse{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		metrics.RecordEmbeddingError(c.provider, kind, "transport", true)
		return domain.EmbeddingResponse{}, fmt.Errorf("post %s: %w", req.Endpoint(), err)
	}
	defer resp.Body.Close()

	result, err := Validate(resp, req.Units())
	if err != nil {
		metrics.RecordEmbeddingError(c.provider, kind, errorType(err), true)
		c.logger.Warn("Embedding request failed",
			zap.String("endpoint", req.Endpoint()),
			zap.Int("units", req.Units()),
			zap.Int("status", resp.StatusCode),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return domain.EmbeddingResponse{}, fmt.Errorf("embed %s: %w", kind, err)
	}

	metrics.RecordEmbedding(c.provider, kind, req.Units(), result.CreditsSpent, duration)

	c.logger.Debug("Embedding request completed",
		zap.String("endpoint", req.Endpoint()),
		zap.Int("units", req.Units()),
		zap.Int("credits_spent", result.CreditsSpent),
		zap.Duration("duration", duration),
	)
	return result, nil
}

// HealthCheck probes the service health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("get /health: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return domain.StatusError(resp.StatusCode, body)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
