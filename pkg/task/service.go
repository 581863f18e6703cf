package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Enqueuer schedules background work on the shared asynq queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type enqueuer struct {
	client *asynq.Client
}

func NewEnqueuer(client *asynq.Client) Enqueuer {
	return &enqueuer{client: client}
}

// Enqueue treats a task that is already queued under the same id as
// scheduled, so deduplicated sync and export requests are not errors.
func (e *enqueuer) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	info, err := e.client.EnqueueContext(ctx, task, opts...)
	switch {
	case err == nil:
		return info, nil
	case errors.Is(err, asynq.ErrTaskIDConflict), errors.Is(err, asynq.ErrDuplicateTask):
		zap.L().Debug("task already queued", zap.String("task_type", task.Type()))
		return &asynq.TaskInfo{Type: task.Type()}, nil
	default:
		return nil, fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}
}
