package pipeline

import (
	"context"
	"sync"
	"time"

	"siemfusion/core"
	"siemfusion/stage"
	"siemfusion/util/goroutine"

	"go.uber.org/zap"
)

// Pipeline ties the batch scheduler to the orchestrator and owns their
// goroutines. Batches are processed strictly serially; intra-batch
// concurrency belongs to the stage runners.
type Pipeline struct {
	scheduler    *BatchScheduler
	orchestrator *Orchestrator
	runners      []*stage.Runner
	pools        []*core.WorkerPool
	budget       *core.ServiceBudget
	stats        *Stats
	logger       *zap.SugaredLogger

	cancel  context.CancelFunc
	started bool
	mu      sync.Mutex
	drained chan struct{}
}

// NewPipeline assembles a pipeline from its parts. pools are the stage
// worker pools, owned (started and stopped) by the pipeline.
func NewPipeline(scheduler *BatchScheduler, orchestrator *Orchestrator, runners []*stage.Runner,
	pools []*core.WorkerPool, budget *core.ServiceBudget, stats *Stats, logger *zap.SugaredLogger) *Pipeline {
	return &Pipeline{
		scheduler:    scheduler,
		orchestrator: orchestrator,
		runners:      runners,
		pools:        pools,
		budget:       budget,
		stats:        stats,
		logger:       logger,
		drained:      make(chan struct{}),
	}
}

// Start launches the scheduler and the batch consumer. Idempotent per
// pipeline instance; a stopped pipeline is not restartable.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for _, pool := range p.pools {
		pool.Start()
	}

	go p.scheduler.Run(runCtx)
	go func() {
		defer goroutine.Recover("pipeline-consumer", p.logger)
		defer close(p.drained)
		for batch := range p.scheduler.Batches() {
			p.orchestrator.ProcessBatch(runCtx, batch)
		}
	}()

	p.started = true
	p.logger.Infow("Pipeline started", "stages", len(p.runners))
	return nil
}

// Submit admits one event into the scheduler.
func (p *Pipeline) Submit(ctx context.Context, event *core.Event) error {
	return p.scheduler.Submit(ctx, event)
}

// Stop closes intake, waits for in-flight batches to drain up to the
// timeout, then tears down the stage pools.
func (p *Pipeline) Stop(timeout time.Duration) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.scheduler.Stop()

	select {
	case <-p.drained:
	case <-time.After(timeout):
		p.logger.Warnw("Pipeline drain timed out, cancelling in-flight batch", "timeout", timeout)
	}
	if p.cancel != nil {
		p.cancel()
	}

	for _, pool := range p.pools {
		pool.Stop()
	}
	p.logger.Info("Pipeline stopped")
}

// Status builds the operational snapshot served by the status API.
func (p *Pipeline) Status() *Snapshot {
	snap := &Snapshot{
		QueueDepth:        p.scheduler.QueueDepth(),
		ActiveConcurrency: make(map[string]int, len(p.runners)),
		ConcurrencyLimit:  make(map[string]int, len(p.runners)),
	}
	for _, r := range p.runners {
		snap.ActiveConcurrency[r.Kind().String()] = r.ActiveCalls()
		snap.ConcurrencyLimit[r.Kind().String()] = r.MaxConcurrency()
	}
	p.stats.Fill(snap)
	snap.RateBudgetRemaining = p.budget.Remaining()
	snap.RecentRuns = p.orchestrator.RecentRuns()
	return snap
}
