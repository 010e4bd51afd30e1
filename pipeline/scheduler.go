// Package pipeline contains the batch scheduler and the orchestrator that
// drives batches through the four analysis stages.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"siemfusion/core"
	"siemfusion/metrics"
	"siemfusion/util/goroutine"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrSchedulerClosed is returned by Submit after Stop.
var ErrSchedulerClosed = errors.New("batch scheduler is closed")

// Batch is one unit of pipeline work.
type Batch struct {
	ID         string
	Events     []*core.Event
	ReleasedAt time.Time
}

// BatchScheduler coalesces admitted events into batches released when
// either the item-count threshold or the max-wait window is reached,
// whichever comes first. Empty windows release nothing; shutdown flushes
// the partial batch instead of dropping it.
type BatchScheduler struct {
	maxItems int
	maxWait  time.Duration

	in     chan *core.Event
	out    chan *Batch
	logger *zap.SugaredLogger

	// pending counts accepted-but-unreleased events for the status surface.
	pending atomic.Int64

	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
}

// NewBatchScheduler creates a scheduler. queueSize bounds how many events
// may sit between Submit and batch assembly.
func NewBatchScheduler(maxItems int, maxWait time.Duration, queueSize int, logger *zap.SugaredLogger) *BatchScheduler {
	if maxItems < 1 {
		maxItems = 1
	}
	if queueSize < maxItems {
		queueSize = maxItems
	}
	return &BatchScheduler{
		maxItems: maxItems,
		maxWait:  maxWait,
		in:       make(chan *core.Event, queueSize),
		out:      make(chan *Batch, 1),
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Submit admits one normalized event. It blocks when the intake queue is
// full until there is room or ctx is done.
func (s *BatchScheduler) Submit(ctx context.Context, event *core.Event) error {
	if s.closed.Load() {
		return ErrSchedulerClosed
	}
	select {
	case s.in <- event:
		s.pending.Add(1)
		metrics.SchedulerQueueDepth.Set(float64(s.pending.Load()))
		metrics.EventsAdmitted.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSchedulerClosed
	}
}

// Batches returns the channel of released batches. The channel is closed
// after Stop once the final partial batch has been flushed.
func (s *BatchScheduler) Batches() <-chan *Batch {
	return s.out
}

// QueueDepth reports events accepted but not yet released in a batch.
func (s *BatchScheduler) QueueDepth() int {
	return int(s.pending.Load())
}

// Stop closes intake and flushes any partial batch. Safe to call twice.
// The intake channel itself is never closed so a Submit racing Stop can
// never send on a closed channel.
func (s *BatchScheduler) Stop() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
}

// Run assembles batches until Stop is called or ctx is cancelled. Expected
// to run in its own goroutine.
func (s *BatchScheduler) Run(ctx context.Context) {
	defer goroutine.Recover("batch-scheduler", s.logger)
	defer close(s.out)

	var window []*core.Event
	// The timer starts when a window's first event arrives, so an empty
	// window never fires a release.
	timer := time.NewTimer(s.maxWait)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	release := func() {
		if len(window) == 0 {
			return
		}
		batch := &Batch{
			ID:         uuid.New().String(),
			Events:     window,
			ReleasedAt: time.Now().UTC(),
		}
		window = nil
		s.pending.Add(-int64(len(batch.Events)))
		metrics.SchedulerQueueDepth.Set(float64(s.pending.Load()))
		s.logger.Debugw("Releasing batch", "batch_id", batch.ID, "events", len(batch.Events))
		select {
		case s.out <- batch:
		case <-ctx.Done():
		}
	}

	for {
		select {
		case event := <-s.in:
			window = append(window, event)
			if len(window) == 1 {
				timer.Reset(s.maxWait)
			}
			if len(window) >= s.maxItems {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				release()
			}
		case <-timer.C:
			release()
		case <-s.done:
			// Shutdown: drain events already accepted, then flush the
			// partial window rather than drop it.
			for {
				select {
				case event := <-s.in:
					window = append(window, event)
				default:
					release()
					return
				}
			}
		case <-ctx.Done():
			release()
			return
		}
	}
}
