package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/midras-ai/midras/internal/domain"
)

// BudgetAction defines behavior when the credit budget is exceeded.
type BudgetAction string

const (
	// BudgetActionWarn logs a warning but allows the request.
	BudgetActionWarn BudgetAction = "warn"
	// BudgetActionReject blocks the request.
	BudgetActionReject BudgetAction = "reject"
)

// DefaultBudgetKeyPrefix namespaces the counters written by the client.
const DefaultBudgetKeyPrefix = "midras:"

// persistTimeout bounds the write-behind of one Record call.
const persistTimeout = 2 * time.Second

// BudgetStore is the persistence interface for budget counters.
// IncrBy must be additive so concurrent writers can share a key.
type BudgetStore interface {
	IncrBy(ctx context.Context, key string, val int64) error
	Get(ctx context.Context, key string) (int64, error)
}

// window is the running spend of one accounting period.
type window struct {
	name   string
	layout string
	limit  int64
	used   int64
	start  time.Time
	begin  func(time.Time) time.Time
}

// roll zeroes the counter when now falls in a later period.
func (w *window) roll(now time.Time) {
	if s := w.begin(now); s.After(w.start) {
		w.start = s
		w.used = 0
	}
}

func (w *window) exceeded() bool { return w.limit > 0 && w.used >= w.limit }

// remaining is -1 for an unlimited window.
func (w *window) remaining() int64 {
	if w.limit == 0 {
		return -1
	}
	return max(w.limit-w.used, 0)
}

// BudgetTracker is an in-memory credit budget with optional write-behind
// persistence. Check never leaves the process.
type BudgetTracker struct {
	mu        sync.Mutex
	day       window
	month     window
	action    BudgetAction
	provider  string
	keyPrefix string
	store     BudgetStore
	logger    *zap.Logger
	now       func() time.Time
}

// NewBudgetTracker creates a budget tracker with the given credit limits.
// A zero limit is unlimited. keyPrefix namespaces the persisted counters.
func NewBudgetTracker(
	keyPrefix, provider string, dailyLimit, monthlyLimit int64,
	action BudgetAction, logger *zap.Logger,
) *BudgetTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &BudgetTracker{
		day:       window{name: "daily", layout: "2006-01-02", limit: dailyLimit, begin: startOfDay},
		month:     window{name: "monthly", layout: "2006-01", limit: monthlyLimit, begin: startOfMonth},
		action:    action,
		provider:  provider,
		keyPrefix: keyPrefix,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	b.rollLocked()
	return b
}

// WithStore attaches a persistence store and loads the current counters.
func (b *BudgetTracker) WithStore(ctx context.Context, store BudgetStore) *BudgetTracker {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.store = store
	b.rollLocked()
	for _, w := range []*window{&b.day, &b.month} {
		key := b.key(w, w.start)
		val, err := store.Get(ctx, key)
		if err != nil {
			b.logger.Warn("Failed to load budget counter", zap.String("key", key), zap.Error(err))
			continue
		}
		w.used = val
	}
	b.logger.Info("Budget loaded from store",
		zap.String("provider", b.provider),
		zap.Int64("daily_used", b.day.used),
		zap.Int64("monthly_used", b.month.used),
	)
	return b
}

func (b *BudgetTracker) key(w *window, t time.Time) string {
	return fmt.Sprintf("%sbudget:%s:%s:%s", b.keyPrefix, b.provider, w.name, t.Format(w.layout))
}

func (b *BudgetTracker) rollLocked() {
	now := b.now()
	b.day.roll(now)
	b.month.roll(now)
}

// Check reports whether a new request may be sent.
func (b *BudgetTracker) Check(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollLocked()
	if !b.day.exceeded() && !b.month.exceeded() {
		return nil
	}

	if b.action == BudgetActionReject {
		return fmt.Errorf("%s: daily %d/%d, monthly %d/%d credits: %w", b.provider,
			b.day.used, b.day.limit, b.month.used, b.month.limit, domain.ErrBudgetExceeded)
	}

	b.logger.Warn("Credit budget exceeded",
		zap.String("provider", b.provider),
		zap.Int64("daily_used", b.day.used),
		zap.Int64("daily_limit", b.day.limit),
		zap.Int64("monthly_used", b.month.used),
		zap.Int64("monthly_limit", b.month.limit),
	)
	return nil
}

// Record registers credits charged by a request, then persists them
// to the attached store. Store failures are logged, never returned.
func (b *BudgetTracker) Record(credits int64) {
	if credits <= 0 {
		return
	}

	b.mu.Lock()
	b.rollLocked()
	b.day.used += credits
	b.month.used += credits
	store := b.store
	keys := []string{b.key(&b.day, b.day.start), b.key(&b.month, b.month.start)}
	b.mu.Unlock()

	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	for _, key := range keys {
		if err := store.IncrBy(ctx, key, credits); err != nil {
			b.logger.Warn("Failed to persist budget counter", zap.String("key", key), zap.Error(err))
		}
	}
}

func (b *BudgetTracker) read(fn func() int64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	return fn()
}

// RemainingDaily returns credits left in the daily budget (-1 if unlimited).
func (b *BudgetTracker) RemainingDaily() int64 { return b.read(b.day.remaining) }

// RemainingMonthly returns credits left in the monthly budget (-1 if unlimited).
func (b *BudgetTracker) RemainingMonthly() int64 { return b.read(b.month.remaining) }

// DailyUsed returns credits spent today (UTC).
func (b *BudgetTracker) DailyUsed() int64 { return b.read(func() int64 { return b.day.used }) }

// MonthlyUsed returns credits spent this month (UTC).
func (b *BudgetTracker) MonthlyUsed() int64 { return b.read(func() int64 { return b.month.used }) }

// DailyLimit returns the daily credit cap.
func (b *BudgetTracker) DailyLimit() int64 { return b.day.limit }

// MonthlyLimit returns the monthly credit cap.
func (b *BudgetTracker) MonthlyLimit() int64 { return b.month.limit }

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
