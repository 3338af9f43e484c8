// Package memory is the in-process vector store used by default.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/midras-ai/midras/internal/domain"
	"github.com/midras-ai/midras/vectorstore"
)

var _ vectorstore.Store = (*Store)(nil)

// Store keeps indexes in memory. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	indexes map[string]*index
	closed  bool
}

type index struct {
	order  []string
	points map[string]vectorstore.Point
}

// New returns an empty store.
func New() *Store {
	return &Store{indexes: make(map[string]*index)}
}

// Concurrency implements vectorstore.Backend.
func (s *Store) Concurrency() vectorstore.Concurrency { return vectorstore.Blocking }

// CreateIndex creates name unless it exists.
func (s *Store) CreateIndex(ctx context.Context, name string) (bool, error) {
	if err := vectorstore.ValidateIndexName(name); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	if _, ok := s.indexes[name]; ok {
		return false, nil
	}
	s.indexes[name] = &index{points: make(map[string]vectorstore.Point)}
	return true, nil
}

// CreatePoint builds a point without storing it.
func (s *Store) CreatePoint(id vectorstore.PointID, embedding domain.ColBERT, metadata map[string]any) vectorstore.Point {
	return vectorstore.NewPoint(id, embedding, metadata)
}

// SavePoints upserts points. A point with an existing id replaces it.
func (s *Store) SavePoints(
	ctx context.Context, name string, points []vectorstore.Point,
) (vectorstore.SaveResult, error) {
	if err := ctx.Err(); err != nil {
		return vectorstore.SaveResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return vectorstore.SaveResult{}, err
	}
	idx, ok := s.indexes[name]
	if !ok {
		return vectorstore.SaveResult{}, fmt.Errorf("index %q: %w", name, domain.ErrIndexNotFound)
	}
	if err := vectorstore.ValidatePoints(points); err != nil {
		return vectorstore.SaveResult{}, err
	}

	for _, p := range points {
		key := p.ID.Key()
		if _, exists := idx.points[key]; !exists {
			idx.order = append(idx.order, key)
		}
		idx.points[key] = vectorstore.Point{
			ID:        p.ID,
			Embedding: p.Embedding,
			Metadata:  maps.Clone(p.Metadata),
		}
	}
	return vectorstore.SaveResult{Saved: len(points)}, nil
}

// Search ranks every point of the index by MaxSim against query.
func (s *Store) Search(
	ctx context.Context, name string, query domain.ColBERT, topK int,
) ([]vectorstore.Match, error) {
	if err := vectorstore.ValidateQuery(query, topK); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	if err := s.checkOpen(); err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	idx, ok := s.indexes[name]
	if !ok {
		s.mu.RUnlock()
		return nil, fmt.Errorf("index %q: %w", name, domain.ErrIndexNotFound)
	}
	points := make([]vectorstore.Point, 0, len(idx.order))
	for _, key := range idx.order {
		points = append(points, idx.points[key])
	}
	s.mu.RUnlock()

	matches := vectorstore.ScorePoints(points, query, topK)
	for i := range matches {
		matches[i].Metadata = maps.Clone(matches[i].Metadata)
	}
	return matches, nil
}

// Ping fails once the store is closed.
func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkOpen()
}

// Close drops every index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.indexes = nil
	return nil
}

func (s *Store) checkOpen() error {
	if s.closed {
		return fmt.Errorf("memory store is closed: %w", domain.ErrInvalidConfiguration)
	}
	return nil
}
