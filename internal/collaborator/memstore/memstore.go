// Package memstore is an in-memory storage module used in tests and local runs.
package memstore

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"dsrengine/internal/collaborator"
	"dsrengine/pkg/domain"
	"dsrengine/pkg/platform/sentinel"
)

type record struct {
	subject domain.SubjectID
	kind    string
	data    []byte
	syncs   int
}

// Store holds items in memory. Overwrites mutate the stored bytes directly so
// tests can observe every pass.
type Store struct {
	name  string
	mu    sync.RWMutex
	items map[string]*record
	// set by FailWith
	failQueries error
	// items whose writes are acknowledged but dropped, see IgnoreWrites
	ignored map[string]bool
}

func New(name string) *Store {
	return &Store{name: name, items: make(map[string]*record), ignored: make(map[string]bool)}
}

func (s *Store) Name() string { return s.name }

// Put stores an item for a subject.
func (s *Store) Put(subject domain.SubjectID, itemID, kind string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[itemID] = &record{subject: subject, kind: kind, data: append([]byte(nil), data...)}
}

// FailWith makes subsequent queries fail with err; nil restores normal behaviour.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failQueries = err
}

// IgnoreWrites makes overwrites of the item report success without changing
// its bytes, as a faulty storage layer would.
func (s *Store) IgnoreWrites(itemID string, ignore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignored[itemID] = ignore
}

// Has reports whether the item still exists.
func (s *Store) Has(itemID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[itemID]
	return ok
}

// Syncs reports how many flushes the item has seen.
func (s *Store) Syncs(itemID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.items[itemID]; ok {
		return r.syncs
	}
	return 0
}

func (s *Store) FindBySubject(_ context.Context, subject domain.SubjectID) ([]collaborator.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failQueries != nil {
		return nil, s.failQueries
	}
	var out []collaborator.Item
	for id, r := range s.items {
		if r.subject == subject {
			out = append(out, collaborator.Item{Module: s.name, ItemID: id, Kind: r.kind})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (s *Store) Read(_ context.Context, itemID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.items[itemID]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", itemID, sentinel.ErrNotFound)
	}
	return append([]byte(nil), r.data...), nil
}

func (s *Store) Open(_ context.Context, itemID string) (collaborator.Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.items[itemID]; !ok {
		return nil, fmt.Errorf("item %s: %w", itemID, sentinel.ErrNotFound)
	}
	return &handle{store: s, itemID: itemID}, nil
}

func (s *Store) Remove(_ context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, itemID)
	return nil
}

type handle struct {
	store  *Store
	itemID string
}

func (h *handle) rec() (*record, error) {
	r, ok := h.store.items[h.itemID]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", h.itemID, sentinel.ErrNotFound)
	}
	return r, nil
}

func (h *handle) Size() int64 {
	h.store.mu.RLock()
	defer h.store.mu.RUnlock()
	r, err := h.rec()
	if err != nil {
		return 0
	}
	return int64(len(r.data))
}

func (h *handle) ReadAt(p []byte, off int64) (int, error) {
	h.store.mu.RLock()
	defer h.store.mu.RUnlock()
	r, err := h.rec()
	if err != nil {
		return 0, err
	}
	if off >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt never grows the item; overwrites stay within the original size.
func (h *handle) WriteAt(p []byte, off int64) (int, error) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	r, err := h.rec()
	if err != nil {
		return 0, err
	}
	if off+int64(len(p)) > int64(len(r.data)) {
		return 0, fmt.Errorf("write past end of item %s", h.itemID)
	}
	if h.store.ignored[h.itemID] {
		return len(p), nil
	}
	return copy(r.data[off:], p), nil
}

func (h *handle) Sync() error {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	r, err := h.rec()
	if err != nil {
		return err
	}
	r.syncs++
	return nil
}

func (h *handle) Close() error { return nil }
