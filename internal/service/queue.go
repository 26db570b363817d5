package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Rzx-x/Ticket-Agent/internal/errs"
	"github.com/Rzx-x/Ticket-Agent/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrQueueClosed = errors.New("processing queue is closed")

const jobTimeout = 2 * time.Minute

type ProcessFunc func(ctx context.Context, id uuid.UUID) error

// Queue is a bounded worker pool for background AI processing.
type Queue struct {
	jobs    chan uuid.UUID
	process ProcessFunc
	log     *zap.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewQueue(process ProcessFunc, workers, size int, m *metrics.Metrics, log *zap.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	q := &Queue{
		jobs:    make(chan uuid.UUID, size),
		process: process,
		log:     log.Named("queue"),
		metrics: m,
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker()
	}
	return q
}

// Enqueue never blocks. It returns errs.ErrQueueFull when every slot is taken.
func (q *Queue) Enqueue(id uuid.UUID) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- id:
		q.metrics.SetQueueDepth(len(q.jobs))
		return nil
	default:
		return errs.ErrQueueFull
	}
}

func (q *Queue) Len() int { return len(q.jobs) }

func (q *Queue) worker() {
	defer q.wg.Done()
	for id := range q.jobs {
		q.metrics.SetQueueDepth(len(q.jobs))
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		if err := q.process(ctx, id); err != nil {
			q.log.Warn("background processing failed", zap.String("ticket_id", id.String()), zap.Error(err))
		}
		cancel()
	}
}

// Close stops intake and waits for queued jobs until ctx is done.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
