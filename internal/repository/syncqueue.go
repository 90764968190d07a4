package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// syncTask is one write-through unit of work against the durable store.
type syncTask func(ctx context.Context) error

// syncQueue runs best-effort background writes on a bounded channel with a
// fixed worker pool. Enqueue never blocks the hot path: when the queue is
// full the task is dropped and counted, the in-memory store stays the
// source of truth.
type syncQueue struct {
	name         string
	tasks        chan syncTask
	stopCh       chan struct{}
	stopOnce     sync.Once
	workers      sync.WaitGroup
	inFlight     sync.WaitGroup
	writeTimeout time.Duration
	logger       *zap.Logger

	dropped atomic.Uint64
	failed  atomic.Uint64
	synced  atomic.Uint64
}

func newSyncQueue(name string, queueSize, workers int, writeTimeout time.Duration, logger *zap.Logger) *syncQueue {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if workers <= 0 {
		workers = 2
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	q := &syncQueue{
		name:         name,
		tasks:        make(chan syncTask, queueSize),
		stopCh:       make(chan struct{}),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
	for i := 0; i < workers; i++ {
		q.workers.Add(1)
		go q.worker()
	}
	return q
}

// Enqueue schedules a task, reporting false when the queue was full and
// the task dropped.
func (q *syncQueue) Enqueue(t syncTask) bool {
	q.inFlight.Add(1)
	select {
	case q.tasks <- t:
		return true
	default:
		q.inFlight.Done()
		q.dropped.Add(1)
		syncTasksTotal.WithLabelValues(q.name, "dropped").Inc()
		q.logger.Warn("sync queue full, dropping write-through task", zap.String("repository", q.name))
		return false
	}
}

func (q *syncQueue) worker() {
	defer q.workers.Done()
	for {
		select {
		case <-q.stopCh:
			// drain what is already queued before exiting
			for {
				select {
				case t := <-q.tasks:
					q.run(t)
				default:
					return
				}
			}
		case t := <-q.tasks:
			q.run(t)
		}
	}
}

func (q *syncQueue) run(t syncTask) {
	defer q.inFlight.Done()
	ctx, cancel := context.WithTimeout(context.Background(), q.writeTimeout)
	defer cancel()
	if err := t(ctx); err != nil {
		q.failed.Add(1)
		syncTasksTotal.WithLabelValues(q.name, "failed").Inc()
		q.logger.Warn("write-through sync failed", zap.String("repository", q.name), zap.Error(err))
		return
	}
	q.synced.Add(1)
	syncTasksTotal.WithLabelValues(q.name, "ok").Inc()
}

// Drain waits until every scheduled task has finished or ctx expires.
func (q *syncQueue) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts the workers down after they finish the queued backlog.
func (q *syncQueue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.workers.Wait()
}

// QueueStats is a point-in-time snapshot of queue counters.
type QueueStats struct {
	Synced  uint64 `json:"synced"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

func (q *syncQueue) Stats() QueueStats {
	return QueueStats{
		Synced:  q.synced.Load(),
		Failed:  q.failed.Load(),
		Dropped: q.dropped.Load(),
	}
}
