package queue

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/grookai/vault-engine/internal/model"
)

// HandlerFunc executes one work item's decoded payload.
type HandlerFunc func(ctx context.Context, payload model.JobPayload) error

// Registry maps job names to their handlers.
type Registry struct {
	handlers map[model.JobName]HandlerFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[model.JobName]HandlerFunc)}
}

// Register binds a handler to a job name, replacing any previous binding.
func (r *Registry) Register(name model.JobName, fn HandlerFunc) {
	r.handlers[name] = fn
}

// Dispatch decodes the item's payload and runs the matching handler.
func (r *Registry) Dispatch(ctx context.Context, item model.WorkItem) error {
	fn, ok := r.handlers[item.Name]
	if !ok {
		return eris.Errorf("queue: no handler for job %q", item.Name)
	}
	payload, err := model.ParseJobPayload(item.Name, item.Payload)
	if err != nil {
		return err
	}
	return fn(ctx, payload)
}
