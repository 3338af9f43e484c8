package midras

import (
	"context"
	"time"

	"github.com/midras-ai/midras/internal/domain"
	"github.com/midras-ai/midras/vectorstore"
)

// Embedding types.
type (
	// ColBERT is a multi-vector embedding: one row per token or image patch.
	ColBERT = domain.ColBERT
	// EmbeddingResponse is the aggregate result of an embedding call.
	EmbeddingResponse = domain.EmbeddingResponse
	// Mode selects the embedding model variant.
	Mode = domain.Mode
	// Image is a rasterized page or picture.
	Image = domain.Image
)

// ModeStandard is the default embedding mode.
const ModeStandard = domain.ModeStandard

// DefaultBatchSize is the number of pages per request the CLI uses when the
// configuration sets none.
const DefaultBatchSize = domain.DefaultBatchSize

// Vector store types.
type (
	PointID    = vectorstore.PointID
	Point      = vectorstore.Point
	Match      = vectorstore.Match
	SaveResult = vectorstore.SaveResult
)

// StringID returns a string point id.
func StringID(s string) PointID { return vectorstore.StringID(s) }

// IntID returns an integer point id.
func IntID(n int64) PointID { return vectorstore.IntID(n) }

// Rasterizer renders every page of a PDF document, in page order.
type Rasterizer interface {
	Rasterize(ctx context.Context, path string) ([]Image, error)
}

// CacheStore persists query embeddings for WithQueryCacheStore.
// Get returns ErrCacheMiss when the key is absent; any other error is
// logged and treated as a miss.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// CreditBudget caps the credits a client may spend per UTC day and month.
// A zero limit is unlimited. Cached query embeddings cost nothing and are
// not counted.
type CreditBudget struct {
	Daily   int64
	Monthly int64
	// Reject fails requests with ErrBudgetExceeded once a limit is reached;
	// otherwise the overrun is only logged.
	Reject bool
	// Store persists the counters so several processes share one budget,
	// e.g. a redis vector store. Optional.
	Store CounterStore
}

// CounterStore persists credit budget counters.
// Get returns ErrCacheMiss for an absent counter.
type CounterStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	IncrBy(ctx context.Context, key string, val int64) error
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}
