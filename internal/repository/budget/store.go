// Package budget persists credit budget counters in a key-value store.
package budget

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/midras-ai/midras/internal/db"
)

// Counter lifetimes. Each outlives its period so late readers still see it.
const (
	DefaultDailyTTL   = 48 * time.Hour
	DefaultMonthlyTTL = 62 * 24 * time.Hour
)

// ErrUnknownPeriod is returned for keys that name neither a daily nor a monthly counter.
var ErrUnknownPeriod = errors.New("budget key has no daily or monthly period")

// counters is the consumer interface for budget operations (ISP).
type counters interface {
	Get(ctx context.Context, key string) ([]byte, error)
	db.CounterStore
}

// Store persists the tracker's counters with INCRBY and expires each key once.
type Store struct {
	kv  counters
	ttl map[string]time.Duration
}

// New creates a budget store. A non-positive TTL takes the default.
func New(kv counters, dailyTTL, monthTTL time.Duration) *Store {
	if dailyTTL <= 0 {
		dailyTTL = DefaultDailyTTL
	}
	if monthTTL <= 0 {
		monthTTL = DefaultMonthlyTTL
	}
	return &Store{
		kv:  kv,
		ttl: map[string]time.Duration{"daily": dailyTTL, "monthly": monthTTL},
	}
}

// IncrBy adds val to the counter and sets its expiry on first write.
func (s *Store) IncrBy(ctx context.Context, key string, val int64) error {
	ttl, err := s.ttlFor(key)
	if err != nil {
		return err
	}
	if err := s.kv.IncrBy(ctx, key, val); err != nil {
		return fmt.Errorf("budget INCRBY %s: %w", key, err)
	}
	// NX: a repeated increment must not push the expiry back.
	if err := s.kv.Expire(ctx, key, ttl, true); err != nil {
		return fmt.Errorf("budget EXPIRE %s: %w", key, err)
	}
	return nil
}

// Get returns the counter value, 0 when the key does not exist.
func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	data, err := s.kv.Get(ctx, key)
	switch {
	case errors.Is(err, db.ErrKeyNotFound):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("budget GET %s: %w", key, err)
	}

	val, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("budget GET %s: counter %q: %w", key, data, err)
	}
	return val, nil
}

// ttlFor reads the period from a {prefix}budget:{provider}:{period}:{date} key.
func (s *Store) ttlFor(key string) (time.Duration, error) {
	parts := strings.Split(key, ":")
	if len(parts) >= 2 {
		if ttl, ok := s.ttl[parts[len(parts)-2]]; ok {
			return ttl, nil
		}
	}
	return 0, fmt.Errorf("%q: %w", key, ErrUnknownPeriod)
}
