package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/rueidis"

	"github.com/midras-ai/midras/internal/db"
)

// setOpts selects the SET variant issued by set.
type setOpts struct {
	ttl time.Duration
	nx  bool
}

// set issues SET with the optional EX and NX modifiers. ok is false when NX
// found the key already present.
func (s *Store) set(ctx context.Context, key string, value []byte, o setOpts) (ok bool, err error) {
	cmd := s.b().Set().Key(key).Value(rueidis.BinaryString(value))
	var built rueidis.Completed
	switch {
	case o.nx && o.ttl > 0:
		built = cmd.Nx().Ex(o.ttl).Build()
	case o.nx:
		built = cmd.Nx().Build()
	case o.ttl > 0:
		built = cmd.Ex(o.ttl).Build()
	default:
		built = cmd.Build()
	}

	err = s.do(ctx, built).Error()
	switch {
	case err == nil:
		return true, nil
	case o.nx && rueidis.IsRedisNil(err):
		return false, nil
	default:
		return false, &db.Error{Op: db.OpSet, Err: err}
	}
}

// Get returns the value at key, or db.ErrKeyNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.do(ctx, s.b().Get().Key(key).Build()).AsBytes()
	switch {
	case err == nil:
		return data, nil
	case rueidis.IsRedisNil(err):
		return nil, db.ErrKeyNotFound
	default:
		return nil, &db.Error{Op: db.OpGet, Err: err}
	}
}

// Set stores value at key without expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.set(ctx, key, value, setOpts{})
	return err
}

// SetWithTTL stores value at key, expiring after ttl. A non-positive ttl keeps it.
func (s *Store) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.set(ctx, key, value, setOpts{ttl: ttl})
	return err
}

// SetNX stores value only if key is absent and reports whether it did.
func (s *Store) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	return s.set(ctx, key, value, setOpts{nx: true})
}

// IncrBy adds val to the integer at key, creating it at zero.
func (s *Store) IncrBy(ctx context.Context, key string, val int64) error {
	if err := s.do(ctx, s.b().Incrby().Key(key).Increment(val).Build()).Error(); err != nil {
		return &db.Error{Op: db.OpIncrBy, Err: err}
	}
	return nil
}

// Expire sets a TTL of whole seconds on key. With nx it applies only to a
// key that has none yet. EXPIRE 0 deletes the key, so sub-second TTLs are refused.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error {
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		return &db.Error{Op: db.OpExpire, Err: fmt.Errorf("ttl %s is below one second", ttl)}
	}
	cmd := s.b().Expire().Key(key).Seconds(seconds)
	var built rueidis.Completed
	if nx {
		built = cmd.Nx().Build()
	} else {
		built = cmd.Build()
	}
	if err := s.do(ctx, built).Error(); err != nil {
		return &db.Error{Op: db.OpExpire, Err: err}
	}
	return nil
}
