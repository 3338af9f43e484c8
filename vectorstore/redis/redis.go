// Package redis stores indexes in Redis through rueidis.
//
// Layout, for key prefix P and index N:
//
//	P index:N          marker, created with SET NX
//	P index:N:points   set of point keys
//	P point:N:<key>    hash {id, embedding, metadata}
//	P cache:<key>      query cache entries and credit counters
//
// Scoring is MaxSim computed client-side over the whole index.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/midras-ai/midras/internal/db"
	dbredis "github.com/midras-ai/midras/internal/db/redis"
	"github.com/midras-ai/midras/internal/domain"
	"github.com/midras-ai/midras/vectorstore"
)

// DefaultKeyPrefix namespaces every key written by the store.
const DefaultKeyPrefix = "midras:"

const (
	fieldID        = "id"
	fieldEmbedding = "embedding"
	fieldMetadata  = "metadata"
)

var _ vectorstore.Store = (*Store)(nil)

// store is the consumer interface for the redis backend (ISP).
type store interface {
	db.HashStore
	db.SetStore
	db.KVStore
	db.CounterStore
	db.Pinger
	Close()
}

// Config holds connection parameters.
type Config struct {
	Addrs     []string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
	// ConnectTimeout bounds the initial readiness wait; 0 skips it.
	ConnectTimeout time.Duration
	// CacheTTL expires values written through Set; 0 keeps them.
	CacheTTL time.Duration
}

// Store is a blocking vector store backed by Redis.
type Store struct {
	db       store
	prefix   string
	cacheTTL time.Duration
}

// New connects to Redis.
func New(ctx context.Context, cfg Config) (*Store, error) {
	rs, err := dbredis.NewStore(ctx, dbredis.Config{
		Addrs:          cfg.Addrs,
		Username:       cfg.Username,
		Password:       cfg.Password,
		DB:             cfg.DB,
		ConnectTimeout: cfg.ConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("redis vector store: %w", err)
	}
	s := newStore(rs, cfg.KeyPrefix)
	s.cacheTTL = cfg.CacheTTL
	return s, nil
}

func newStore(s store, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{db: s, prefix: prefix}
}

// Concurrency implements vectorstore.Backend.
func (s *Store) Concurrency() vectorstore.Concurrency { return vectorstore.Blocking }

func (s *Store) indexKey(name string) string   { return s.prefix + "index:" + name }
func (s *Store) membersKey(name string) string { return s.indexKey(name) + ":points" }
func (s *Store) pointKey(name, member string) string {
	return s.prefix + "point:" + name + ":" + member
}
func (s *Store) cacheKey(key string) string { return s.prefix + "cache:" + key }

// CreateIndex creates the index marker unless it exists.
func (s *Store) CreateIndex(ctx context.Context, name string) (bool, error) {
	if err := vectorstore.ValidateIndexName(name); err != nil {
		return false, err
	}
	created, err := s.db.SetNX(ctx, s.indexKey(name), []byte(time.Now().UTC().Format(time.RFC3339)))
	if err != nil {
		return false, fmt.Errorf("create index %q: %w", name, err)
	}
	return created, nil
}

// CreatePoint builds a point without storing it.
func (s *Store) CreatePoint(id vectorstore.PointID, embedding domain.ColBERT, metadata map[string]any) vectorstore.Point {
	return vectorstore.NewPoint(id, embedding, metadata)
}

// SavePoints upserts points into the index.
func (s *Store) SavePoints(
	ctx context.Context, name string, points []vectorstore.Point,
) (vectorstore.SaveResult, error) {
	if err := s.requireIndex(ctx, name); err != nil {
		return vectorstore.SaveResult{}, err
	}
	if len(points) == 0 {
		return vectorstore.SaveResult{}, nil
	}
	if err := vectorstore.ValidatePoints(points); err != nil {
		return vectorstore.SaveResult{}, err
	}

	items := make([]db.HashSetItem, len(points))
	members := make([]string, len(points))
	for i, p := range points {
		fields, err := encodePoint(p)
		if err != nil {
			return vectorstore.SaveResult{}, err
		}
		members[i] = p.ID.Key()
		items[i] = db.HashSetItem{Key: s.pointKey(name, members[i]), Fields: fields}
	}

	if err := s.db.HSetMulti(ctx, items); err != nil {
		return vectorstore.SaveResult{}, fmt.Errorf("save points to %q: %w", name, err)
	}
	if err := s.db.SAdd(ctx, s.membersKey(name), members...); err != nil {
		return vectorstore.SaveResult{}, fmt.Errorf("save points to %q: %w", name, err)
	}
	return vectorstore.SaveResult{Saved: len(points)}, nil
}

// Search loads every point of the index and ranks them by MaxSim.
func (s *Store) Search(
	ctx context.Context, name string, query domain.ColBERT, topK int,
) ([]vectorstore.Match, error) {
	if err := vectorstore.ValidateQuery(query, topK); err != nil {
		return nil, err
	}
	if err := s.requireIndex(ctx, name); err != nil {
		return nil, err
	}

	members, err := s.db.SMembers(ctx, s.membersKey(name))
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", name, err)
	}
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = s.pointKey(name, m)
	}
	hashes, err := s.db.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", name, err)
	}

	points := make([]vectorstore.Point, 0, len(hashes))
	for i, h := range hashes {
		if len(h) == 0 {
			continue
		}
		p, err := decodePoint(h)
		if err != nil {
			return nil, fmt.Errorf("search %q: point %s: %w", name, members[i], err)
		}
		points = append(points, p)
	}
	return vectorstore.ScorePoints(points, query, topK), nil
}

// Get reads a cached value; db.ErrKeyNotFound on a miss.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.db.Get(ctx, s.cacheKey(key))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("cache get: %w", err)
	}
	return data, nil
}

// Set writes a cached value, expiring after the configured CacheTTL.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	var err error
	if s.cacheTTL > 0 {
		err = s.db.SetWithTTL(ctx, s.cacheKey(key), value, s.cacheTTL)
	} else {
		err = s.db.Set(ctx, s.cacheKey(key), value)
	}
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// IncrBy increments a counter, e.g. the credits spent today.
func (s *Store) IncrBy(ctx context.Context, key string, val int64) error {
	if err := s.db.IncrBy(ctx, s.cacheKey(key), val); err != nil {
		return fmt.Errorf("counter incr: %w", err)
	}
	return nil
}

// Expire sets a TTL on a counter; with nx only if it has none yet.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error {
	if err := s.db.Expire(ctx, s.cacheKey(key), ttl, nx); err != nil {
		return fmt.Errorf("counter expire: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the connection.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

func (s *Store) requireIndex(ctx context.Context, name string) error {
	ok, err := s.db.Exists(ctx, s.indexKey(name))
	if err != nil {
		return fmt.Errorf("check index %q: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("index %q: %w", name, domain.ErrIndexNotFound)
	}
	return nil
}

func encodePoint(p vectorstore.Point) (map[string]string, error) {
	emb, err := p.Embedding.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("point %s: %w", p.ID, err)
	}
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("point %s: metadata: %v: %w", p.ID, err, domain.ErrInvalidInput)
	}
	return map[string]string{
		fieldID:        p.ID.Key(),
		fieldEmbedding: string(emb),
		fieldMetadata:  string(meta),
	}, nil
}

func decodePoint(h map[string]string) (vectorstore.Point, error) {
	id, err := vectorstore.ParseKey(h[fieldID])
	if err != nil {
		return vectorstore.Point{}, err
	}
	var emb domain.ColBERT
	if err := emb.UnmarshalBinary([]byte(h[fieldEmbedding])); err != nil {
		return vectorstore.Point{}, err
	}
	meta := map[string]any{}
	if raw := h[fieldMetadata]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return vectorstore.Point{}, fmt.Errorf("metadata: %w", err)
		}
	}
	return vectorstore.Point{ID: id, Embedding: emb, Metadata: meta}, nil
}
