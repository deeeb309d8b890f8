package async_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/async"
	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/entity"
	"github.com/joseph-ayodele/audit-reports/internal/repository/repotest"
)

type recorder struct {
	mu   sync.Mutex
	seen []uuid.UUID
	reqs []string
}

func (r *recorder) Classify(ctx context.Context, id uuid.UUID) (*entity.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, id)
	r.reqs = append(r.reqs, common.RequestIDFromContext(ctx))
	if len(r.seen) == 2 {
		return nil, &common.StateConflictError{QueueItemID: id.String()}
	}
	if len(r.seen) == 3 {
		return nil, errors.New("db down")
	}
	return &entity.QueueItem{ID: id, State: constants.QueueStateRelevantPendingReview}, nil
}

func TestClassifyQueueDrainsOnShutdown(t *testing.T) {
	rec := &recorder{}
	q := async.NewClassifyQueue(rec, repotest.Logger(), async.WithWorkers(1), async.WithQueueSize(1), async.WithProcessTimeout(time.Second))

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		require.NoError(t, q.Enqueue(context.Background(), async.Job{QueueItemID: id, RequestID: "req-1"}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Shutdown(ctx)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, ids, rec.seen, "single worker keeps order and errors do not stop it")
	assert.Equal(t, []string{"req-1", "req-1", "req-1", "req-1"}, rec.reqs)

	assert.ErrorIs(t, q.Enqueue(context.Background(), async.Job{QueueItemID: uuid.New()}), async.ErrClosed)
	q.Shutdown(ctx)
}

// gate blocks every classification until released.
type gate struct {
	started chan uuid.UUID
	release chan struct{}
}

func (g *gate) Classify(ctx context.Context, id uuid.UUID) (*entity.QueueItem, error) {
	g.started <- id
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return &entity.QueueItem{ID: id, State: constants.QueueStateIrrelevantArchived}, nil
}

func TestShutdownReleasesBlockedProducer(t *testing.T) {
	g := &gate{started: make(chan uuid.UUID, 4), release: make(chan struct{})}
	q := async.NewClassifyQueue(g, repotest.Logger(), async.WithWorkers(1), async.WithQueueSize(1), async.WithProcessTimeout(10*time.Second))

	require.NoError(t, q.Enqueue(context.Background(), async.Job{QueueItemID: uuid.New()}))
	<-g.started // the worker is busy
	require.NoError(t, q.Enqueue(context.Background(), async.Job{QueueItemID: uuid.New()}))

	blocked := make(chan error, 1)
	go func() { blocked <- q.Enqueue(context.Background(), async.Job{QueueItemID: uuid.New()}) }()

	shut := make(chan struct{})
	go func() {
		defer close(shut)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		q.Shutdown(ctx)
	}()

	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, async.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("producer still blocked after shutdown started")
	}

	close(g.release)
	select {
	case <-shut:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not finish")
	}
}
