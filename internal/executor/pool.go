package executor

import (
	"context"

	"github.com/ShayCichocki/maestro/internal/plan"
	"github.com/ShayCichocki/maestro/internal/state"
)

// Pool runs several workers against one store. Each worker is an
// independent sequential loop; the store's atomic claim keeps them from
// ever holding the same task.
type Pool struct {
	workers []*Worker
	cancel  context.CancelFunc
}

// NewPool creates n workers sharing the same store, planner, and
// handler registry.
func NewPool(n int, store state.Store, planner *plan.Builder, registry *Registry, cfg Config) *Pool {
	p := &Pool{}
	for i := 0; i < n; i++ {
		p.workers = append(p.workers, NewWorker(store, planner, registry, cfg))
	}
	return p
}

// Start launches every worker.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for _, w := range p.workers {
		w.Start(ctx)
	}
}

// Stop shuts down every worker and waits for their loops to exit.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	for _, w := range p.workers {
		w.Stop()
	}
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int {
	return len(p.workers)
}
