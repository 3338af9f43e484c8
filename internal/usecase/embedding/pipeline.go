// Package embedding holds the batching pipeline that splits long inputs
// into bounded embedding requests and folds the partial responses.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/midras-ai/midras/internal/domain"
	"github.com/midras-ai/midras/internal/logger"
)

// BatchFunc embeds a single chunk. i is the chunk index.
type BatchFunc[T any] func(ctx context.Context, i int, batch []T) (domain.EmbeddingResponse, error)

// Pipeline splits inputs into chunks and dispatches them.
type Pipeline struct {
	dispatcher Dispatcher
}

// New creates a pipeline. A nil dispatcher means Sequential.
func New(d Dispatcher) *Pipeline {
	if d == nil {
		d = Sequential()
	}
	return &Pipeline{dispatcher: d}
}

// chunkFailure tags an error with the chunk that produced it.
type chunkFailure struct {
	index int
	err   error
}

func (f *chunkFailure) Error() string { return fmt.Sprintf("chunk %d: %v", f.index, f.err) }
func (f *chunkFailure) Unwrap() error { return f.err }

// Chunk partitions units into contiguous slices of at most size elements.
func Chunk[T any](units []T, size int) ([][]T, error) {
	if size <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d: %w", size, domain.ErrInvalidConfiguration)
	}
	chunks := make([][]T, 0, (len(units)+size-1)/size)
	for start := 0; start < len(units); start += size {
		end := min(start+size, len(units))
		chunks = append(chunks, units[start:end:end])
	}
	return chunks, nil
}

// Run embeds units in chunks of batchSize and returns one aggregate response:
// embeddings concatenated in chunk order, credits summed. Any chunk failure
// aborts the call with a *domain.BatchError and no partial response.
func Run[T any](
	ctx context.Context, p *Pipeline, units []T, batchSize int, fn BatchFunc[T],
) (domain.EmbeddingResponse, error) {
	chunks, err := Chunk(units, batchSize)
	if err != nil {
		return domain.EmbeddingResponse{}, err
	}
	if len(chunks) == 0 {
		return domain.EmptyResponse(), nil
	}

	log := logger.FromContext(ctx)
	results := make([]domain.EmbeddingResponse, len(chunks))
	succeeded := make([]bool, len(chunks))

	err = p.dispatcher.Dispatch(ctx, len(chunks), func(ctx context.Context, i int) error {
		start := time.Now()
		resp, err := fn(ctx, i, chunks[i])
		if err != nil {
			return &chunkFailure{index: i, err: err}
		}
		if len(resp.Embeddings) != len(chunks[i]) {
			return &chunkFailure{index: i, err: fmt.Errorf("got %d embeddings for %d inputs: %w",
				len(resp.Embeddings), len(chunks[i]), domain.ErrMalformedResponse)}
		}
		results[i] = resp
		succeeded[i] = true
		log.Debug("Batch embedded",
			zap.Int("batch", i),
			zap.Int("batches", len(chunks)),
			zap.Int("units", len(chunks[i])),
			zap.Int("credits_spent", resp.CreditsSpent),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	})
	if err != nil {
		return domain.EmbeddingResponse{}, batchError(err, chunks, results, succeeded)
	}

	agg := domain.EmbeddingResponse{Embeddings: make([]domain.ColBERT, 0, len(units))}
	for _, r := range results {
		agg.Merge(r)
	}
	return agg, nil
}

func batchError[T any](
	err error, chunks [][]T, results []domain.EmbeddingResponse, succeeded []bool,
) error {
	be := &domain.BatchError{Err: err}
	var cf *chunkFailure
	if errors.As(err, &cf) {
		be.Batch = cf.index
		be.Err = cf.err
	}
	if be.Batch < len(chunks) {
		be.Size = len(chunks[be.Batch])
	}
	for i, ok := range succeeded {
		if ok {
			be.CreditsSpent += results[i].CreditsSpent
		}
	}
	return be
}
