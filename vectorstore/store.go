// Package vectorstore defines the backend-agnostic vector store contract
// used by the midras clients, and the helpers shared by its backends.
//
// Every backend declares the concurrency model it serves. A blocking Store
// plugs into midras.Client; a cooperative AsyncStore plugs into
// midras.AsyncClient. Async wraps any goroutine-safe Store explicitly.
package vectorstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/midras-ai/midras/async"
	"github.com/midras-ai/midras/internal/domain"
)

// Errors returned by backends. Use errors.Is() to check.
var (
	ErrIndexNotFound        = domain.ErrIndexNotFound
	ErrInvalidConfiguration = domain.ErrInvalidConfiguration
	ErrInvalidInput         = domain.ErrInvalidInput
)

// Concurrency is the execution model a backend serves.
type Concurrency int

const (
	// Blocking backends complete each call before returning.
	Blocking Concurrency = iota
	// Cooperative backends return futures.
	Cooperative
)

func (c Concurrency) String() string {
	switch c {
	case Blocking:
		return "blocking"
	case Cooperative:
		return "cooperative"
	default:
		return "concurrency(" + strconv.Itoa(int(c)) + ")"
	}
}

// PointID identifies a point within an index. It is either a string or an integer.
type PointID struct {
	str     string
	num     int64
	numeric bool
}

// StringID returns a string point id.
func StringID(s string) PointID { return PointID{str: s} }

// IntID returns an integer point id.
func IntID(n int64) PointID { return PointID{num: n, numeric: true} }

// IsNumeric reports whether the id is an integer.
func (id PointID) IsNumeric() bool { return id.numeric }

// Int returns the integer value; 0 for string ids.
func (id PointID) Int() int64 { return id.num }

// String returns the id as text.
func (id PointID) String() string {
	if id.numeric {
		return strconv.FormatInt(id.num, 10)
	}
	return id.str
}

// Key is a type-qualified form that keeps IntID(1) and StringID("1") apart.
func (id PointID) Key() string {
	if id.numeric {
		return "n:" + id.String()
	}
	return "s:" + id.str
}

// ParseKey reverses Key.
func ParseKey(key string) (PointID, error) {
	if len(key) < 2 || key[1] != ':' {
		return PointID{}, fmt.Errorf("malformed point key %q", key)
	}
	switch key[0] {
	case 's':
		return StringID(key[2:]), nil
	case 'n':
		n, err := strconv.ParseInt(key[2:], 10, 64)
		if err != nil {
			return PointID{}, fmt.Errorf("malformed point key %q: %w", key, err)
		}
		return IntID(n), nil
	default:
		return PointID{}, fmt.Errorf("malformed point key %q", key)
	}
}

// Point is a multi-vector embedding with metadata, ready to be saved.
type Point struct {
	ID        PointID
	Embedding domain.ColBERT
	Metadata  map[string]any
}

// Match is a single search hit.
type Match struct {
	ID       PointID
	Score    float64
	Metadata map[string]any
}

// SaveResult reports a SavePoints call.
type SaveResult struct {
	Saved int
}

// Backend declares its concurrency model.
type Backend interface {
	Concurrency() Concurrency
}

// Store is the blocking vector store contract.
//
// CreateIndex returns false, not an error, when the index already exists and
// leaves it untouched. SavePoints and Search fail with ErrIndexNotFound on an
// absent index. Search returns at most topK matches, most similar first, and
// fails with ErrInvalidConfiguration for topK <= 0.
type Store interface {
	Backend
	CreateIndex(ctx context.Context, name string) (bool, error)
	CreatePoint(id PointID, embedding domain.ColBERT, metadata map[string]any) Point
	SavePoints(ctx context.Context, index string, points []Point) (SaveResult, error)
	Search(ctx context.Context, index string, query domain.ColBERT, topK int) ([]Match, error)
	Close() error
}

// AsyncStore is the cooperative vector store contract, with Store semantics.
type AsyncStore interface {
	Backend
	CreateIndex(ctx context.Context, name string) *async.Future[bool]
	CreatePoint(id PointID, embedding domain.ColBERT, metadata map[string]any) *async.Future[Point]
	SavePoints(ctx context.Context, index string, points []Point) *async.Future[SaveResult]
	Search(ctx context.Context, index string, query domain.ColBERT, topK int) *async.Future[[]Match]
	Close() error
}

// NewPoint builds a point. It has no persistence side effect.
func NewPoint(id PointID, embedding domain.ColBERT, metadata map[string]any) Point {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Point{ID: id, Embedding: embedding, Metadata: metadata}
}

// ValidateTopK rejects non-positive result counts.
func ValidateTopK(topK int) error {
	if topK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d: %w", topK, domain.ErrInvalidConfiguration)
	}
	return nil
}

// ValidateIndexName rejects empty index names.
func ValidateIndexName(name string) error {
	if name == "" {
		return fmt.Errorf("index name is required: %w", domain.ErrInvalidInput)
	}
	return nil
}

// ValidatePoints checks every embedding before anything is written.
func ValidatePoints(points []Point) error {
	for i := range points {
		if err := points[i].Embedding.Validate(); err != nil {
			return fmt.Errorf("point %s: %w", points[i].ID, err)
		}
	}
	return nil
}

// ValidateQuery checks a search request.
func ValidateQuery(query domain.ColBERT, topK int) error {
	if err := ValidateTopK(topK); err != nil {
		return err
	}
	if err := query.Validate(); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	return nil
}
