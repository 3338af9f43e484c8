package redis

import (
	"context"
	"fmt"

	"github.com/redis/rueidis"

	"github.com/midras-ai/midras/internal/db"
)

// pipelineLimit caps the commands sent in one DoMulti so a search over a
// large index does not buffer every reply at once.
const pipelineLimit = 512

// doChunked runs cmds in DoMulti batches of at most pipelineLimit and hands
// every reply to fn with its position in cmds. It stops at the first error fn returns.
func (s *Store) doChunked(ctx context.Context, cmds []rueidis.Completed, fn func(i int, res rueidis.RedisResult) error) error {
	for start := 0; start < len(cmds); start += pipelineLimit {
		end := min(start+pipelineLimit, len(cmds))
		for j, res := range s.client.DoMulti(ctx, cmds[start:end]...) {
			if err := fn(start+j, res); err != nil {
				return err
			}
		}
	}
	return nil
}

// HSetMulti writes one hash per item, pipelined.
func (s *Store) HSetMulti(ctx context.Context, items []db.HashSetItem) error {
	if len(items) == 0 {
		return nil
	}

	cmds := make([]rueidis.Completed, len(items))
	for i, item := range items {
		cmd := s.b().Hset().Key(item.Key).FieldValue()
		for k, v := range item.Fields {
			cmd = cmd.FieldValue(k, v)
		}
		cmds[i] = cmd.Build()
	}

	return s.doChunked(ctx, cmds, func(i int, res rueidis.RedisResult) error {
		if err := res.Error(); err != nil {
			return &db.Error{Op: db.OpHSet, Err: fmt.Errorf("key %s: %w", items[i].Key, err)}
		}
		return nil
	})
}

// HGetAllMulti reads every field of each key, pipelined, in key order.
// A missing key yields an empty map.
func (s *Store) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]rueidis.Completed, len(keys))
	for i, key := range keys {
		cmds[i] = s.b().Hgetall().Key(key).Build()
	}

	out := make([]map[string]string, len(keys))
	err := s.doChunked(ctx, cmds, func(i int, res rueidis.RedisResult) error {
		m, err := res.AsStrMap()
		if err != nil {
			return &db.Error{Op: db.OpHGetAll, Err: fmt.Errorf("key %s: %w", keys[i], err)}
		}
		out[i] = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.do(ctx, s.b().Exists().Key(key).Build()).AsInt64()
	if err != nil {
		return false, &db.Error{Op: db.OpExists, Err: err}
	}
	return n > 0, nil
}
