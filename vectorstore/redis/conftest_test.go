package redis

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/midras-ai/midras/internal/db"
)

// fakeStore implements the consumer interface in memory.
type fakeStore struct {
	mu     sync.Mutex
	kv     map[string][]byte
	ttls   map[string]time.Duration
	hashes map[string]map[string]string
	sets   map[string]map[string]struct{}
	closed bool

	existsErr error
	hsetErr   error
	pingErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		kv:     map[string][]byte{},
		ttls:   map[string]time.Duration{},
		hashes: map[string]map[string]string{},
		sets:   map[string]map[string]struct{}{},
	}
}

func (f *fakeStore) HSetMulti(_ context.Context, items []db.HashSetItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hsetErr != nil {
		return f.hsetErr
	}
	for _, it := range items {
		h := f.hashes[it.Key]
		if h == nil {
			h = map[string]string{}
			f.hashes[it.Key] = h
		}
		for k, v := range it.Fields {
			h[k] = v
		}
	}
	return nil
}

func (f *fakeStore) HGetAllMulti(_ context.Context, keys []string) ([]map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(keys) == 0 {
		return nil, nil
	}
	out := make([]map[string]string, len(keys))
	for i, k := range keys {
		m := map[string]string{}
		for fk, fv := range f.hashes[k] {
			m[fk] = fv
		}
		out[i] = m
	}
	return out, nil
}

func (f *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, inKV := f.kv[key]
	_, inHash := f.hashes[key]
	_, inSet := f.sets[key]
	return inKV || inHash || inSet, nil
}

func (f *fakeStore) SAdd(_ context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.sets[key]
	if set == nil {
		set = map[string]struct{}{}
		f.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (f *fakeStore) SMembers(_ context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sets[key]))
	for m := range f.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.kv[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (f *fakeStore) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kv[key] = value
	return nil
}

func (f *fakeStore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kv[key] = value
	f.ttls[key] = ttl
	return nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.kv[key]; ok {
		return false, nil
	}
	f.kv[key] = value
	return true, nil
}

func (f *fakeStore) IncrBy(_ context.Context, key string, val int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, _ := strconv.ParseInt(string(f.kv[key]), 10, 64)
	f.kv[key] = []byte(strconv.FormatInt(n+val, 10))
	return nil
}

func (f *fakeStore) Expire(_ context.Context, key string, ttl time.Duration, nx bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ttls[key]; ok && nx {
		return nil
	}
	f.ttls[key] = ttl
	return nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func newTestStore(t *testing.T) (*Store, *fakeStore) {
	t.Helper()
	fs := newFakeStore()
	return newStore(fs, ""), fs
}
