package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultWorkers bounds concurrent background tasks.
const DefaultWorkers = 4

// pool runs best-effort background tasks. Submit never blocks the caller;
// tasks queue on the semaphore. Failures and panics are logged and dropped,
// nothing is retried, and pending tasks are abandoned on process exit.
type pool struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	logger *slog.Logger
}

func newPool(workers int, logger *slog.Logger) *pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &pool{sem: semaphore.NewWeighted(int64(workers)), logger: logger}
}

// Submit runs fn in the background with a context detached from ctx's
// cancellation, so the task outlives the request that spawned it.
func (p *pool) Submit(ctx context.Context, name string, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.logger.Warn("background task dropped", "task", name, "error", err)
			return
		}
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("background task panicked", "task", name,
					"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			}
		}()

		start := time.Now()
		if err := fn(ctx); err != nil {
			p.logger.Warn("background task failed", "task", name, "error", err, "duration", time.Since(start))
			return
		}
		p.logger.Debug("background task done", "task", name, "duration", time.Since(start))
	}()
}

// Wait blocks until every submitted task has finished.
func (p *pool) Wait() { p.wg.Wait() }
