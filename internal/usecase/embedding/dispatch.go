package embedding

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Dispatcher runs the n chunk jobs of a pipeline call.
// It must stop issuing new jobs after the first failure and return it.
type Dispatcher interface {
	Dispatch(ctx context.Context, n int, job func(ctx context.Context, i int) error) error
}

type sequential struct{}

// Sequential runs chunks one after another in input order: chunk i+1 is
// issued only after chunk i returned.
func Sequential() Dispatcher { return sequential{} }

func (sequential) Dispatch(ctx context.Context, n int, job func(context.Context, int) error) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return &chunkFailure{index: i, err: err}
		}
		if err := job(ctx, i); err != nil {
			return err
		}
	}
	return nil
}

type concurrent struct {
	limit int
}

// Concurrent runs up to limit chunks at once. The first failure cancels the
// context handed to the other jobs. limit <= 1 behaves like Sequential.
func Concurrent(limit int) Dispatcher {
	if limit <= 1 {
		return sequential{}
	}
	return concurrent{limit: limit}
}

func (d concurrent) Dispatch(ctx context.Context, n int, job func(context.Context, int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.limit)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return &chunkFailure{index: i, err: err}
			}
			return job(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	// Parent cancelled before any job observed it.
	if err := ctx.Err(); err != nil {
		return &chunkFailure{index: 0, err: err}
	}
	return nil
}
