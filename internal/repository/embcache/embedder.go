// Package embcache caches query embeddings in front of an embedder.
package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/midras-ai/midras/internal/db"
	"github.com/midras-ai/midras/internal/domain"
	"github.com/midras-ai/midras/internal/domain/request"
)

const cacheKeyPrefix = "emb_cache:"

// Embedder is the decorated embedding transport.
type Embedder interface {
	Embed(ctx context.Context, req request.Request) (domain.EmbeddingResponse, error)
	Close() error
}

// Store is the consumer interface for the embedding cache (ISP).
// Get returns db.ErrKeyNotFound on a miss.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// CachedEmbedder caches query embeddings in a key-value store.
// Image requests pass through untouched.
type CachedEmbedder struct {
	inner      Embedder
	store      Store
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a caching decorator.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"), passed explicitly.
func New(
	inner Embedder,
	s Store,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *CachedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{
		inner:      inner,
		store:      s,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// Embed serves cached queries from the store and sends the rest to the inner
// embedder in one request, preserving order. A query repeated within the
// request is sent once. Cache hits cost 0 credits; CreditsSpent is what the
// inner call charged.
func (c *CachedEmbedder) Embed(ctx context.Context, req request.Request) (domain.EmbeddingResponse, error) {
	if req.Kind() != request.KindQueries {
		return c.inner.Embed(ctx, req)
	}

	texts := req.Queries()
	out := make([]domain.ColBERT, len(texts))
	var misses []pendingQuery
	byKey := make(map[string]int)

	for i, text := range texts {
		key := cacheKey(req.Mode(), text)
		if j, ok := byKey[key]; ok {
			c.incCache("hit")
			misses[j].at = append(misses[j].at, i)
			continue
		}
		if emb, ok := c.getFromCache(ctx, key); ok {
			c.incCache("hit")
			out[i] = emb
			continue
		}
		c.incCache("miss")
		byKey[key] = len(misses)
		misses = append(misses, pendingQuery{key: key, text: text, at: []int{i}})
	}

	if len(misses) == 0 {
		return domain.EmbeddingResponse{Embeddings: out}, nil
	}

	missTexts := make([]string, len(misses))
	for j, m := range misses {
		missTexts[j] = m.text
	}
	missReq, err := request.NewQueries(req.Credential(), req.Mode(), missTexts)
	if err != nil {
		return domain.EmbeddingResponse{}, err
	}
	resp, err := c.inner.Embed(ctx, missReq)
	if err != nil {
		return domain.EmbeddingResponse{}, err
	}
	if len(resp.Embeddings) != len(misses) {
		return domain.EmbeddingResponse{}, fmt.Errorf("got %d embeddings for %d queries: %w",
			len(resp.Embeddings), len(misses), domain.ErrMalformedResponse)
	}

	for j, m := range misses {
		for _, i := range m.at {
			out[i] = resp.Embeddings[j]
		}
		c.putToCache(ctx, m.key, resp.Embeddings[j])
	}
	return domain.EmbeddingResponse{CreditsSpent: resp.CreditsSpent, Embeddings: out}, nil
}

// pendingQuery is a distinct uncached query and the positions it fills.
type pendingQuery struct {
	key  string
	text string
	at   []int
}

// Close closes the inner embedder.
func (c *CachedEmbedder) Close() error {
	return c.inner.Close()
}

func (c *CachedEmbedder) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func cacheKey(mode domain.Mode, text string) string {
	h := sha256.New()
	h.Write([]byte(mode.OrDefault()))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return cacheKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

func (c *CachedEmbedder) getFromCache(ctx context.Context, key string) (domain.ColBERT, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached embedding", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}

	var emb domain.ColBERT
	if err := emb.UnmarshalBinary(data); err != nil {
		c.logger.Warn("Failed to parse cached embedding", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return emb, true
}

func (c *CachedEmbedder) putToCache(ctx context.Context, key string, emb domain.ColBERT) {
	data, err := emb.MarshalBinary()
	if err != nil {
		c.logger.Warn("Failed to encode embedding for cache", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, key, data); err != nil {
		c.logger.Warn("Failed to cache embedding", zap.String("key", key), zap.Error(err))
	}
}
