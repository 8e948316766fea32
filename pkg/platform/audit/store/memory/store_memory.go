package memory

import (
	"context"
	"maps"
	"sync"

	audit "dsrengine/pkg/platform/audit"
	"dsrengine/pkg/platform/sentinel"
)

// InMemoryStore keeps the chain as an append-only slice indexed by seq-1.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Head(_ context.Context) (audit.Head, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.headLocked(), nil
}

func (s *InMemoryStore) headLocked() audit.Head {
	if len(s.events) == 0 {
		return audit.Head{Seq: 0, Hash: audit.GenesisHash}
	}
	last := s.events[len(s.events)-1]
	return audit.Head{Seq: last.Seq, Hash: last.Hash}
}

func (s *InMemoryStore) AppendBatch(_ context.Context, expected audit.Head, events []audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headLocked() != expected {
		return sentinel.ErrConflict
	}
	for _, e := range events {
		e.Payload = maps.Clone(e.Payload)
		s.events = append(s.events, e)
	}
	return nil
}

func (s *InMemoryStore) Range(_ context.Context, from, to uint64) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if from == 0 {
		from = 1
	}
	var out []audit.Event
	for seq := from; seq <= to && seq <= uint64(len(s.events)); seq++ {
		e := s.events[seq-1]
		e.Payload = maps.Clone(e.Payload)
		out = append(out, e)
	}
	return out, nil
}

// ListByRequest returns every event correlated with a DSR request, oldest first.
func (s *InMemoryStore) ListByRequest(_ context.Context, requestID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.RequestID == requestID {
			e.Payload = maps.Clone(e.Payload)
			out = append(out, e)
		}
	}
	return out, nil
}
