package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/entity"
)

// ErrClosed is returned by Enqueue once Shutdown has started.
var ErrClosed = errors.New("classify queue is shutting down")

// Classifier is the piece of the review queue the workers drive.
type Classifier interface {
	Classify(ctx context.Context, id uuid.UUID) (*entity.QueueItem, error)
}

// ClassifyQueue runs background classification on a fixed set of workers.
type ClassifyQueue struct {
	classifier Classifier
	logger     *slog.Logger
	workers    int
	timeout    time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	// done releases producers blocked on a full buffer once Shutdown starts.
	done     chan struct{}
	stopOnce sync.Once

	// mu is held shared by senders and exclusively while closing ch.
	mu     sync.RWMutex
	closed bool
}

type Option func(*ClassifyQueue)

func WithWorkers(n int) Option {
	return func(q *ClassifyQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *ClassifyQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *ClassifyQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewClassifyQueue(c Classifier, logger *slog.Logger, opts ...Option) *ClassifyQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ClassifyQueue{
		classifier: c,
		logger:     logger,
		workers:    2,
		timeout:    2 * time.Minute,
		ch:         make(chan Job, 128),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ClassifyQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("classify worker started", "worker_id", workerID)
				for job := range q.ch {
					q.run(workerID, job)
				}
				q.logger.Info("classify worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ClassifyQueue) run(workerID int, job Job) {
	ctx := context.Background()
	if job.RequestID != "" {
		ctx = common.WithRequestID(ctx, job.RequestID)
	}
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	item, err := q.classifier.Classify(ctx, job.QueueItemID)
	waited := time.Since(job.SubmittedAt)
	if err != nil {
		// Lost races and already-classified items are expected when a
		// request also classifies synchronously.
		if errors.Is(err, common.ErrDuplicateInQueue) || errors.Is(err, common.ErrStateConflict) {
			q.logger.Debug("classify skipped", "worker_id", workerID, "queue_item_id", job.QueueItemID, "reason", err)
			return
		}
		q.logger.Error("classify failed", "worker_id", workerID, "queue_item_id", job.QueueItemID, "error", err)
		return
	}
	q.logger.Info("classified queue item", "worker_id", workerID, "queue_item_id", job.QueueItemID,
		"state", item.State, "queued_ms", waited.Milliseconds())
}

// Enqueue blocks when the buffer is full so producers feel backpressure.
// A blocked producer is released with ErrClosed when Shutdown starts.
func (q *ClassifyQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "queue_item_id", job.QueueItemID)
		return ErrClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	select {
	case q.ch <- job:
		q.logger.Debug("queued item for classification", "queue_item_id", job.QueueItemID)
		return nil
	default:
	}
	q.logger.Warn("queue full, applying backpressure", "queue_item_id", job.QueueItemID)
	select {
	case q.ch <- job:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *ClassifyQueue) Shutdown(ctx context.Context) {
	q.stopOnce.Do(func() { close(q.done) })
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	drained := make(chan struct{})
	go func() { defer close(drained); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-drained:
		q.logger.Info("queue drained, shutdown complete")
	}
}

var _ Queue = (*ClassifyQueue)(nil)
