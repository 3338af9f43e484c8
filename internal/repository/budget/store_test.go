package budget

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/midras-ai/midras/internal/db"
)

type fakeCounters struct {
	values map[string]int64
	ttls   map[string]time.Duration
	raw    map[string][]byte
	err    error
}

func newFakeCounters() *fakeCounters {
	return &fakeCounters{
		values: map[string]int64{},
		ttls:   map[string]time.Duration{},
		raw:    map[string][]byte{},
	}
}

func (f *fakeCounters) Get(_ context.Context, key string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if b, ok := f.raw[key]; ok {
		return b, nil
	}
	v, ok := f.values[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return []byte(strconv.FormatInt(v, 10)), nil
}

func (f *fakeCounters) IncrBy(_ context.Context, key string, val int64) error {
	if f.err != nil {
		return f.err
	}
	f.values[key] += val
	return nil
}

func (f *fakeCounters) Expire(_ context.Context, key string, ttl time.Duration, nx bool) error {
	if _, ok := f.ttls[key]; ok && nx {
		return nil
	}
	f.ttls[key] = ttl
	return nil
}

func TestStore_ExpirySetOnce(t *testing.T) {
	fc := newFakeCounters()
	s := New(fc, time.Hour, 0)
	key := "midras:budget:openai:daily:2026-10-19"

	if err := s.IncrBy(context.Background(), key, 1); err != nil {
		t.Fatal(err)
	}
	fc.ttls[key] = time.Minute // simulate time passing on the server
	if err := s.IncrBy(context.Background(), key, 1); err != nil {
		t.Fatal(err)
	}
	if fc.ttls[key] != time.Minute {
		t.Errorf("expiry pushed back to %v", fc.ttls[key])
	}
}

func TestStore_IncrByAndGet(t *testing.T) {
	fc := newFakeCounters()
	s := New(fc, time.Hour, 24*time.Hour)
	ctx := context.Background()

	daily := "midras:budget:midras:daily:2026-10-19"
	monthly := "midras:budget:midras:monthly:2026-10"
	for _, key := range []string{daily, monthly} {
		if err := s.IncrBy(ctx, key, 4); err != nil {
			t.Fatalf("IncrBy(%s): %v", key, err)
		}
		if err := s.IncrBy(ctx, key, 6); err != nil {
			t.Fatalf("IncrBy(%s): %v", key, err)
		}
		got, err := s.Get(ctx, key)
		if err != nil || got != 10 {
			t.Fatalf("Get(%s) = %d, %v", key, got, err)
		}
	}
	if fc.ttls[daily] != time.Hour || fc.ttls[monthly] != 24*time.Hour {
		t.Errorf("unexpected ttls: %v", fc.ttls)
	}
}

func TestStore_GetMissingIsZero(t *testing.T) {
	s := New(newFakeCounters(), 0, 0)
	got, err := s.Get(context.Background(), "absent")
	if err != nil || got != 0 {
		t.Fatalf("Get = %d, %v", got, err)
	}
	if s.ttl["daily"] != DefaultDailyTTL || s.ttl["monthly"] != DefaultMonthlyTTL {
		t.Errorf("defaults not applied: %v", s.ttl)
	}
}

func TestStore_Errors(t *testing.T) {
	fc := newFakeCounters()
	s := New(fc, 0, 0)
	ctx := context.Background()

	fc.raw["garbage"] = []byte("not-a-number")
	if _, err := s.Get(ctx, "garbage"); err == nil {
		t.Error("expected parse error")
	}

	fc.raw["padded"] = []byte(" 42\n")
	if got, err := s.Get(ctx, "padded"); err != nil || got != 42 {
		t.Errorf("Get(padded) = %d, %v", got, err)
	}

	if err := s.IncrBy(ctx, "midras:budget:midras:weekly:2026-42", 1); !errors.Is(err, ErrUnknownPeriod) {
		t.Errorf("expected ErrUnknownPeriod, got %v", err)
	}

	boom := errors.New("connection reset")
	fc.err = boom
	if err := s.IncrBy(ctx, "midras:budget:midras:daily:2026-10-19", 1); !errors.Is(err, boom) {
		t.Errorf("IncrBy error = %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, boom) {
		t.Errorf("Get error = %v", err)
	}
}
