package workqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsrengine/pkg/domain"
)

func TestMemoryQueueDrain(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(nil)
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	id := domain.NewRequestID()

	var seen []Kind
	router := NewRouter(nil)
	router.Register(KindDiscover, HandlerFunc(func(ctx context.Context, task Task) error {
		seen = append(seen, task.Kind)
		return q.Enqueue(ctx, NewTask(KindAdvance, task.RequestID, now))
	}))
	router.Register(KindAdvance, HandlerFunc(func(_ context.Context, task Task) error {
		seen = append(seen, task.Kind)
		return errors.New("transient")
	}))

	require.NoError(t, q.Enqueue(ctx, NewTask(KindDiscover, id, now)))
	require.NoError(t, q.Enqueue(ctx, NewTask(KindProcess, id, now)))
	assert.Equal(t, 2, q.Len())

	n := q.Drain(ctx, router)
	assert.Equal(t, 3, n, "tasks enqueued by handlers are drained too")
	assert.Equal(t, []Kind{KindDiscover, KindAdvance}, seen, "unknown kinds are skipped")
	assert.Zero(t, q.Len())
}

func TestMemoryQueueRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewMemory(nil)
	done := make(chan Task, 1)
	go func() {
		_ = q.Run(ctx, HandlerFunc(func(_ context.Context, task Task) error {
			done <- task
			return nil
		}))
	}()

	task := NewTask(KindAdvance, domain.NewRequestID(), time.Now())
	require.NoError(t, q.Enqueue(ctx, task))
	select {
	case got := <-done:
		assert.Equal(t, task.ID, got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("task was not handled")
	}
	cancel()
}

func TestDecode(t *testing.T) {
	task := NewTask(KindProcess, domain.NewRequestID(), time.Now().UTC())
	raw, err := task.Encode()
	require.NoError(t, err)
	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, task.RequestID, got.RequestID)
	assert.Equal(t, KindProcess, got.Kind)

	_, err = Decode([]byte(`{"kind":"advance"}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}
