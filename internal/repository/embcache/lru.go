package embcache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/midras-ai/midras/internal/db"
)

// LRU is an in-process Store bounded by entry count.
type LRU struct {
	cache *lru.Cache[string, []byte]
}

// NewLRU creates an LRU store holding at most size entries.
func NewLRU(size int) (*LRU, error) {
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("query cache: %w", err)
	}
	return &LRU{cache: c}, nil
}

// Get implements Store.
func (l *LRU) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := l.cache.Get(key)
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

// Set implements Store.
func (l *LRU) Set(_ context.Context, key string, value []byte) error {
	l.cache.Add(key, value)
	return nil
}

// Len returns the number of cached entries.
func (l *LRU) Len() int { return l.cache.Len() }
