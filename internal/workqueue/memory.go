package workqueue

import (
	"context"
	"log/slog"
	"sync"
)

// MemoryQueue is an unbounded in-process FIFO. Tasks are lost on restart,
// which scheduler recovery tolerates.
type MemoryQueue struct {
	mu      sync.Mutex
	pending []Task
	signal  chan struct{}
	logger  *slog.Logger
}

func NewMemory(logger *slog.Logger) *MemoryQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryQueue{signal: make(chan struct{}, 1), logger: logger}
}

func (q *MemoryQueue) Enqueue(_ context.Context, t Task) error {
	q.mu.Lock()
	q.pending = append(q.pending, t)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return Task{}, false
	}
	t := q.pending[0]
	q.pending = q.pending[1:]
	return t, true
}

// Len is the number of queued tasks.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain handles queued tasks, including ones enqueued by handlers, until the
// queue is empty. It returns the number of tasks handled.
func (q *MemoryQueue) Drain(ctx context.Context, h Handler) int {
	n := 0
	for ctx.Err() == nil {
		t, ok := q.pop()
		if !ok {
			return n
		}
		q.handle(ctx, h, t)
		n++
	}
	return n
}

// Run handles tasks as they arrive until ctx is done.
func (q *MemoryQueue) Run(ctx context.Context, h Handler) error {
	for {
		q.Drain(ctx, h)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.signal:
		}
	}
}

func (q *MemoryQueue) handle(ctx context.Context, h Handler, t Task) {
	if err := h.HandleTask(ctx, t); err != nil {
		q.logger.ErrorContext(ctx, "task failed",
			"kind", t.Kind,
			"request_id", t.RequestID.String(),
			"error", err,
		)
	}
}
