//go:generate mockgen -source=collaborator.go -destination=mocks/mocks.go -package=mocks Discoverable,PIIClassifier

// Package collaborator defines the capabilities the engine consumes from the
// storage modules that own subject data, and from PII classification.
package collaborator

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"dsrengine/pkg/domain"
)

// Item is one piece of subject data held by a storage module.
type Item struct {
	Module string `json:"module"`
	ItemID string `json:"item_id"`
	Kind   string `json:"kind"`
}

// Key identifies an item across modules.
func (i Item) Key() string {
	return i.Module + "/" + i.ItemID
}

// StorageQuery finds the items a module holds for a subject.
type StorageQuery interface {
	Name() string
	FindBySubject(ctx context.Context, subject domain.SubjectID) ([]Item, error)
}

// ContentReader returns the raw bytes of an item.
type ContentReader interface {
	Read(ctx context.Context, itemID string) ([]byte, error)
}

// Handle is an open item that can be overwritten in place and flushed.
type Handle interface {
	io.ReaderAt
	io.WriterAt
	Size() int64
	Sync() error
	Close() error
}

// Eraser gives the deletion engine in-place access to an item and removes it
// once it has been overwritten.
type Eraser interface {
	Open(ctx context.Context, itemID string) (Handle, error)
	Remove(ctx context.Context, itemID string) error
}

// Discoverable is what discovery needs from a module: find items and read them
// for classification.
type Discoverable interface {
	StorageQuery
	ContentReader
}

// Module is a storage module that supports discovery, export and deletion.
type Module interface {
	Discoverable
	Eraser
}

// Span is a detected sensitive region of content.
type Span struct {
	Kind       string  `json:"kind"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

// PIIClassifier detects sensitive spans in content.
type PIIClassifier interface {
	Classify(ctx context.Context, content []byte) ([]Span, error)
}

// Registry holds the registered storage modules by name.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

func NewRegistry(modules ...Module) *Registry {
	r := &Registry{modules: make(map[string]Module, len(modules))}
	for _, m := range modules {
		r.modules[m.Name()] = m
	}
	return r
}

// Register adds or replaces a module.
func (r *Registry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.Name()] = m
}

// Get returns the named module.
func (r *Registry) Get(name string) (Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	if !ok {
		return nil, fmt.Errorf("unknown storage module %q", name)
	}
	return m, nil
}

// Sources returns every module for discovery, ordered by name.
func (r *Registry) Sources() []Discoverable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Discoverable, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Read implements content lookup across modules for the export engine.
func (r *Registry) Read(ctx context.Context, item Item) ([]byte, error) {
	m, err := r.Get(item.Module)
	if err != nil {
		return nil, err
	}
	return m.Read(ctx, item.ItemID)
}

// Eraser returns the eraser for a module.
func (r *Registry) Eraser(module string) (Eraser, error) {
	return r.Get(module)
}
