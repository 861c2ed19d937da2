// Package retrieval fetches report pages from the remote service under a
// concurrency cap and flattens them into one record collection.
package retrieval

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Task is one zero-argument fetch operation.
type Task[T any] func(ctx context.Context) (T, error)

// TaskError identifies which task failed.
type TaskError struct {
	Index int
	Err   error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d: %v", e.Index, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// ThrottleAll runs tasks with at most limit in flight and returns results in
// task order regardless of completion order.
//
// Exactly min(limit, len(tasks)) workers share one cursor, each claiming the
// next unclaimed task until none remain. The first failure cancels the
// context passed to the remaining tasks and is returned as a *TaskError; no
// partial results are returned.
func ThrottleAll[T any](ctx context.Context, tasks []Task[T], limit int) ([]T, error) {
	results := make([]T, len(tasks))
	if len(tasks) == 0 {
		return results, nil
	}
	if limit < 1 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	var cursor atomic.Int64

	for w := 0; w < min(limit, len(tasks)); w++ {
		g.Go(func() error {
			for {
				i := int(cursor.Add(1) - 1)
				if i >= len(tasks) {
					return nil
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				v, err := tasks[i](gctx)
				if err != nil {
					return &TaskError{Index: i, Err: err}
				}
				results[i] = v
			}
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
