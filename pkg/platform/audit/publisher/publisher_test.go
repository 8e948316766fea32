package publisher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "dsrengine/pkg/platform/audit"
	"dsrengine/pkg/platform/audit/store/memory"
	"dsrengine/pkg/requestcontext"
)

func entry(action audit.AuditEvent, payload map[string]any) audit.Entry {
	return audit.Entry{Actor: "system", Action: action, RequestID: "req-1", Payload: payload}
}

func TestPublisher_RecordIsDurable(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	event, err := pub.Record(context.Background(), entry(audit.EventDSRSubmitted, map[string]any{"type": "ACCESS"}))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), event.Seq)
	assert.Equal(t, audit.GenesisHash, event.PrevHash)
	assert.Equal(t, audit.CategoryCompliance, event.Category)

	// Durable before Record returns: the store already has it.
	stored, err := store.Range(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, event.Hash, stored[0].Hash)
}

func TestPublisher_RedactsBeforeHashing(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	event, err := pub.Record(context.Background(), entry(audit.EventVerificationFailed, map[string]any{
		"subject_id": "u1",
		"token":      "123456",
	}))
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED]", event.Payload["token"])
	assert.NotContains(t, event.Payload, "subject_id")
	assert.Contains(t, event.Payload, "subject_id_hash")
}

func TestPublisher_UsesRequestTime(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 987654321, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), fixed)

	event, err := pub.Record(ctx, entry(audit.EventDSRSubmitted, nil))
	require.NoError(t, err)
	assert.Equal(t, fixed.Truncate(time.Microsecond), event.Timestamp)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(4))

	for range 20 {
		pub.RecordAsync(context.Background(), entry(audit.EventVerificationInitiated, nil))
	}
	require.NoError(t, pub.Close())

	head, err := store.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(20), head.Seq, "async entries are not dropped when the queue is full")
}

func TestPublisher_AsyncQueuesWithDoneContext(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for range 50 {
		pub.RecordAsync(ctx, entry(audit.EventVerificationInitiated, nil))
	}
	require.NoError(t, pub.Close())

	head, err := store.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(50), head.Seq, "a cancelled request context does not drop queued entries")
}

func TestPublisher_RecordAfterClose(t *testing.T) {
	pub := NewPublisher(memory.NewInMemoryStore())
	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close())

	_, err := pub.Record(context.Background(), entry(audit.EventDSRSubmitted, nil))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPublisher_ConcurrentRecordsFormOneChain(t *testing.T) {
	store := memory.NewInMemoryStore()
	reg := prometheus.NewRegistry()
	pub := NewPublisher(store, WithMetrics(NewMetrics(reg)), WithBatchSize(8))
	defer pub.Close()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pub.Record(context.Background(), entry(audit.EventDSRStatusChanged, map[string]any{"n": i}))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	v, err := pub.VerifyChain(context.Background(), 1, 50)
	require.NoError(t, err)
	assert.True(t, v.Valid, v.Reason)
	assert.Equal(t, 50.0, testutil.ToFloat64(pub.metrics.Recorded.WithLabelValues("compliance")))
}

func TestPublisher_TwoWritersShareOneStore(t *testing.T) {
	store := memory.NewInMemoryStore()
	a := NewPublisher(store)
	b := NewPublisher(store)
	defer a.Close()
	defer b.Close()

	for i := range 10 {
		_, err := a.Record(context.Background(), entry(audit.EventDSRStatusChanged, map[string]any{"writer": "a", "n": i}))
		require.NoError(t, err)
		_, err = b.Record(context.Background(), entry(audit.EventDSRStatusChanged, map[string]any{"writer": "b", "n": i}))
		require.NoError(t, err)
	}

	v, err := a.VerifyChain(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.True(t, v.Valid, v.Reason)
}

// tamperingStore rewrites events on the way out, as an attacker editing rows would.
type tamperingStore struct {
	*memory.InMemoryStore
	mutate func(e *audit.Event)
}

func (s tamperingStore) Range(ctx context.Context, from, to uint64) ([]audit.Event, error) {
	events, err := s.InMemoryStore.Range(ctx, from, to)
	for i := range events {
		s.mutate(&events[i])
	}
	return events, err
}

func TestPublisher_VerifyChain(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	for i := range 10 {
		_, err := pub.Record(context.Background(), entry(audit.EventDSRStatusChanged, map[string]any{"n": i}))
		require.NoError(t, err)
	}
	require.NoError(t, pub.Close())

	t.Run("intact chain and sub-range verify", func(t *testing.T) {
		verifier := NewPublisher(store)
		defer verifier.Close()

		v, err := verifier.VerifyChain(context.Background(), 1, 10)
		require.NoError(t, err)
		assert.True(t, v.Valid)

		v, err = verifier.VerifyChain(context.Background(), 4, 7)
		require.NoError(t, err)
		assert.True(t, v.Valid)
	})

	t.Run("altered historical payload fails for the range", func(t *testing.T) {
		verifier := NewPublisher(tamperingStore{InMemoryStore: store, mutate: func(e *audit.Event) {
			if e.Seq == 5 {
				e.Payload["n"] = "tampered"
			}
		}})
		defer verifier.Close()

		v, err := verifier.VerifyChain(context.Background(), 1, 10)
		require.NoError(t, err)
		assert.False(t, v.Valid)
		assert.Equal(t, uint64(5), v.BrokenAt)
	})

	t.Run("re-hashed alteration is caught by the successor link", func(t *testing.T) {
		verifier := NewPublisher(tamperingStore{InMemoryStore: store, mutate: func(e *audit.Event) {
			if e.Seq == 5 {
				e.Payload["n"] = "tampered"
				e.Hash, _ = audit.ComputeHash(*e)
			}
		}})
		defer verifier.Close()

		v, err := verifier.VerifyChain(context.Background(), 6, 10)
		require.NoError(t, err)
		assert.False(t, v.Valid)
		assert.Equal(t, uint64(6), v.BrokenAt)
	})

	t.Run("range past the head reports missing events", func(t *testing.T) {
		verifier := NewPublisher(store)
		defer verifier.Close()

		v, err := verifier.VerifyChain(context.Background(), 8, 12)
		require.NoError(t, err)
		assert.False(t, v.Valid)
		assert.Equal(t, "missing events", v.Reason)
	})

	t.Run("invalid range is rejected", func(t *testing.T) {
		verifier := NewPublisher(store)
		defer verifier.Close()

		_, err := verifier.VerifyChain(context.Background(), 5, 2)
		require.Error(t, err)
	})
}
