package async

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Job asks a worker to classify one discovered queue item.
type Job struct {
	QueueItemID uuid.UUID
	SubmittedAt time.Time
	RequestID   string
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}
