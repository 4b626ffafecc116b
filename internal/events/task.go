package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// TaskEntityChanged is the asynq task type the administration backend enqueues after writes.
const TaskEntityChanged = "rates:entity_changed"

// NewChangeTask encodes a change as an asynq task.
func NewChangeTask(change Change) (*asynq.Task, error) {
	if err := change.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEntityChanged, payload, asynq.MaxRetry(5)), nil
}

// Enqueuer submits change tasks.
type Enqueuer struct {
	Client *asynq.Client
	Queue  string
}

// Enqueue submits change for asynchronous fan-out.
func (e Enqueuer) Enqueue(ctx context.Context, change Change) (*asynq.TaskInfo, error) {
	task, err := NewChangeTask(change)
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{}
	if e.Queue != "" {
		opts = append(opts, asynq.Queue(e.Queue))
	}
	return e.Client.EnqueueContext(ctx, task, opts...)
}

// TaskHandler publishes enqueued changes on the bus.
type TaskHandler struct {
	Bus *Bus
}

// ProcessTask implements asynq.Handler. Malformed payloads are not retried.
func (h TaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var change Change
	if err := json.Unmarshal(t.Payload(), &change); err != nil {
		return fmt.Errorf("decode change: %v: %w", err, asynq.SkipRetry)
	}
	if err := change.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return h.Bus.Publish(ctx, &change)
}
