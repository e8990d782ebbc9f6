package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gammazero/workerpool"
)

// Pool bounds the concurrency of the per-card authorize/capture/cancel
// fan-out so a single large split checkout cannot exhaust goroutines.
type Pool struct {
	wp         *workerpool.WorkerPool
	maxWorkers int
	submitted  atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
}

// PoolConfig bounds worker count.
type PoolConfig struct {
	MaxWorkers int
}

// DefaultPoolConfig is sized well above the maximum card count (§3): no
// checkout ever needs more concurrent card calls than it has cards, so the
// 50 workers are shared across many checkouts at once.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MaxWorkers: 50}
}

// NewPool creates a bounded worker pool.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultPoolConfig().MaxWorkers
	}
	return &Pool{wp: workerpool.New(cfg.MaxWorkers), maxWorkers: cfg.MaxWorkers}
}

// Stop gracefully drains the pool.
func (p *Pool) Stop() {
	p.wp.StopWait()
}

// cardTask is one unit of per-card work: authorize, confirm, capture or
// cancel a single card's payment intent.
type cardTask[R any] struct {
	index int
	run   func(ctx context.Context) (R, error)
}

// cardResult pairs a task's index (to preserve caller ordering) with its
// outcome. Every task runs to completion regardless of its siblings'
// outcomes — this is the all-settle fan-out invariant 2 of §4.6 depends
// on: capture-all must observe every card's result before deciding.
type cardResult[R any] struct {
	index int
	value R
	err   error
}

// fanOut runs every task concurrently, bounded by the pool, and returns
// all results in the original order. It never short-circuits on error.
func fanOut[R any](ctx context.Context, p *Pool, tasks []cardTask[R]) []cardResult[R] {
	if len(tasks) == 0 {
		return nil
	}

	results := make([]cardResult[R], len(tasks))
	var wg sync.WaitGroup
	wg.Add(len(tasks))

	for _, t := range tasks {
		t := t
		p.submitted.Add(1)
		p.wp.Submit(func() {
			defer wg.Done()
			v, err := t.run(ctx)
			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}
			results[t.index] = cardResult[R]{index: t.index, value: v, err: err}
		})
	}

	wg.Wait()
	return results
}

// Stats reports pool throughput counters.
type Stats struct {
	MaxWorkers int   `json:"max_workers"`
	Submitted  int64 `json:"submitted"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

func (p *Pool) Stats() Stats {
	return Stats{
		MaxWorkers: p.maxWorkers,
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Failed:     p.failed.Load(),
	}
}
