// Package workqueue carries background work units between the DSR manager
// and its workers. Tasks only name the request and the work to do; workers
// re-read persisted state, so a redelivered or lost task is harmless.
package workqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dsrengine/pkg/domain"
)

type Kind string

const (
	// KindDiscover builds the manifest for a request.
	KindDiscover Kind = "discover"
	// KindProcess runs deletion or records processing flags.
	KindProcess Kind = "process"
	// KindAdvance re-evaluates the request state machine.
	KindAdvance Kind = "advance"
)

// Task is one unit of background work.
type Task struct {
	ID         uuid.UUID        `json:"id"`
	Kind       Kind             `json:"kind"`
	RequestID  domain.RequestID `json:"request_id"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
}

func NewTask(kind Kind, requestID domain.RequestID, now time.Time) Task {
	return Task{ID: uuid.New(), Kind: kind, RequestID: requestID, EnqueuedAt: now}
}

func (t Task) Encode() ([]byte, error) {
	return json.Marshal(t)
}

func Decode(b []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(b, &t); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	if t.Kind == "" || t.RequestID.IsNil() {
		return Task{}, fmt.Errorf("decode task: missing kind or request")
	}
	return t, nil
}

// Queue accepts tasks for asynchronous processing.
type Queue interface {
	Enqueue(ctx context.Context, t Task) error
}

// Handler processes one task.
type Handler interface {
	HandleTask(ctx context.Context, t Task) error
}

type HandlerFunc func(ctx context.Context, t Task) error

func (f HandlerFunc) HandleTask(ctx context.Context, t Task) error { return f(ctx, t) }

// Router dispatches tasks to kind-specific handlers.
type Router struct {
	handlers map[Kind]Handler
	logger   *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{handlers: make(map[Kind]Handler), logger: logger}
}

func (r *Router) Register(kind Kind, h Handler) {
	r.handlers[kind] = h
}

// HandleTask routes t. Unknown kinds are dropped so they are not redelivered forever.
func (r *Router) HandleTask(ctx context.Context, t Task) error {
	h, ok := r.handlers[t.Kind]
	if !ok {
		r.logger.WarnContext(ctx, "no handler for task kind, skipping",
			"kind", t.Kind,
			"request_id", t.RequestID.String(),
		)
		return nil
	}
	return h.HandleTask(ctx, t)
}
