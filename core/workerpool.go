package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"siemfusion/metrics"
	"siemfusion/util/goroutine"

	"go.uber.org/zap"
)

// Worker pool errors.
var (
	ErrWorkerPoolNotRunning = errors.New("worker pool is not running")
	ErrWorkerPoolQueueFull  = errors.New("worker pool task queue is full")
)

// WorkerPool runs tasks on a fixed number of goroutines. Each analysis
// stage owns one pool sized to its concurrency cap, so the number of
// simultaneously in-flight stage-client calls never exceeds the cap.
type WorkerPool struct {
	workers   int
	queueSize int
	taskCh    chan func()
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	mu        sync.RWMutex
	poolName  string // metrics label, one pool per stage
}

// NewWorkerPool creates a pool whose workers start on Start(). Cancelling
// parentCtx stops the workers; Stop() does the same and waits.
func NewWorkerPool(parentCtx context.Context, workers, queueSize int, poolName string, logger *zap.SugaredLogger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(parentCtx)
	return &WorkerPool{
		workers:   workers,
		queueSize: queueSize,
		taskCh:    make(chan func(), queueSize),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		poolName:  poolName,
	}
}

// Start launches the worker goroutines. Safe to call twice.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.running {
		return
	}
	wp.running = true
	wp.logger.Infow("Starting worker pool", "pool", wp.poolName, "workers", wp.workers, "queue_size", wp.queueSize)
	metrics.WorkerPoolWorkers.WithLabelValues(wp.poolName).Set(float64(wp.workers))
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop shuts the pool down and waits for in-flight tasks, bounded so a
// wedged task cannot deadlock shutdown.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if !wp.running {
		return
	}
	wp.running = false
	wp.cancel()
	close(wp.taskCh)

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		wp.logger.Infow("Worker pool stopped", "pool", wp.poolName)
	case <-time.After(30 * time.Second):
		wp.logger.Errorw("Worker pool shutdown timed out, goroutines leaked",
			"pool", wp.poolName, "workers", wp.workers)
		metrics.WorkerPoolWorkers.WithLabelValues(wp.poolName).Set(-1)
	}
}

// Submit queues a task, returning ErrWorkerPoolQueueFull when the buffer
// is at capacity.
func (wp *WorkerPool) Submit(task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if !wp.running {
		return ErrWorkerPoolNotRunning
	}
	select {
	case wp.taskCh <- task:
		metrics.WorkerPoolQueueDepth.WithLabelValues(wp.poolName).Set(float64(len(wp.taskCh)))
		return nil
	default:
		return ErrWorkerPoolQueueFull
	}
}

// SubmitWait queues a task, blocking until there is room or ctx is done.
func (wp *WorkerPool) SubmitWait(ctx context.Context, task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if !wp.running {
		return ErrWorkerPoolNotRunning
	}
	select {
	case wp.taskCh <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth returns the number of queued, not yet started tasks.
func (wp *WorkerPool) QueueDepth() int {
	return len(wp.taskCh)
}

// Workers returns the pool's concurrency cap.
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	defer goroutine.Recover("worker-pool-"+wp.poolName, wp.logger)

	for {
		select {
		case <-wp.ctx.Done():
			return
		case task, ok := <-wp.taskCh:
			if !ok {
				return
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						wp.logger.Errorw("Task panicked in worker",
							"pool", wp.poolName, "worker_id", id, "panic", r)
					}
				}()
				task()
				metrics.WorkerPoolTasksProcessed.WithLabelValues(wp.poolName).Inc()
			}()
		}
	}
}
