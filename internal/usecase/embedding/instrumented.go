package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/midras-ai/midras/internal/domain"
	"github.com/midras-ai/midras/internal/domain/request"
	"github.com/midras-ai/midras/internal/metrics"
)

// Embedder sends one embedding request.
type Embedder interface {
	Embed(ctx context.Context, req request.Request) (domain.EmbeddingResponse, error)
	Close() error
}

// BudgetChecker is the local interface for budget enforcement.
type BudgetChecker interface {
	Check(ctx context.Context) error
	Record(credits int64)
	RemainingDaily() int64
	RemainingMonthly() int64
}

// InstrumentedEmbedder gates an Embedder on a credit budget and charges the
// budget with what each request cost. Request metrics and logs stay in the
// transports; this layer only owns the budget gauges.
type InstrumentedEmbedder struct {
	inner    Embedder
	provider string
	budget   BudgetChecker
	logger   *zap.Logger
}

// NewInstrumentedEmbedder wraps inner. A nil budget makes it a passthrough.
func NewInstrumentedEmbedder(
	inner Embedder, provider string, budget BudgetChecker, logger *zap.Logger,
) *InstrumentedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &InstrumentedEmbedder{
		inner:    inner,
		provider: provider,
		budget:   budget,
		logger:   logger,
	}
	p.publishRemaining()
	return p
}

// Embed checks the budget, delegates and records the credits charged. Every
// batch of a document goes through here, so a budget running out
// mid-document aborts the remaining batches.
func (p *InstrumentedEmbedder) Embed(
	ctx context.Context, req request.Request,
) (domain.EmbeddingResponse, error) {
	if p.budget == nil {
		return p.inner.Embed(ctx, req)
	}

	if err := p.budget.Check(ctx); err != nil {
		p.logger.Warn("Request refused by credit budget",
			zap.String("provider", p.provider),
			zap.String("kind", string(req.Kind())),
			zap.Int("units", req.Units()),
			zap.Error(err),
		)
		return domain.EmbeddingResponse{}, fmt.Errorf("budget check: %w", err)
	}

	resp, err := p.inner.Embed(ctx, req)
	if err != nil {
		return domain.EmbeddingResponse{}, err
	}

	if resp.CreditsSpent > 0 {
		p.budget.Record(int64(resp.CreditsSpent))
		p.publishRemaining()
	}
	return resp, nil
}

// Close closes the inner embedder.
func (p *InstrumentedEmbedder) Close() error { return p.inner.Close() }

func (p *InstrumentedEmbedder) publishRemaining() {
	if p.budget == nil {
		return
	}
	daily, monthly := p.budget.RemainingDaily(), p.budget.RemainingMonthly()
	metrics.EmbeddingBudgetCreditsRemaining.WithLabelValues(p.provider, "daily").Set(float64(daily))
	metrics.EmbeddingBudgetCreditsRemaining.WithLabelValues(p.provider, "monthly").Set(float64(monthly))
	p.logger.Debug("Credit budget remaining",
		zap.String("provider", p.provider),
		zap.Int64("daily", daily),
		zap.Int64("monthly", monthly),
	)
}
