// Package filestore is a storage module backed by a directory tree, one
// directory per subject (named by the subject hash) and one file per item.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dsrengine/internal/collaborator"
	"dsrengine/pkg/domain"
	"dsrengine/pkg/platform/privacy"
	"dsrengine/pkg/platform/sentinel"
)

type Store struct {
	name string
	root string
}

// New creates the module root if needed.
func New(name, root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Store{name: name, root: root}, nil
}

func (s *Store) Name() string { return s.name }

// Put writes an item for a subject and returns its item ID.
func (s *Store) Put(subject domain.SubjectID, name string, data []byte) (string, error) {
	if strings.ContainsAny(name, `/\`) || name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("invalid item name %q", name)
	}
	dir := filepath.Join(s.root, privacy.HashIdentifier(string(subject)))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create subject dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
		return "", fmt.Errorf("write item: %w", err)
	}
	return privacy.HashIdentifier(string(subject)) + "/" + name, nil
}

func (s *Store) FindBySubject(_ context.Context, subject domain.SubjectID) ([]collaborator.Item, error) {
	hash := privacy.HashIdentifier(string(subject))
	entries, err := os.ReadDir(filepath.Join(s.root, hash))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list subject items: %w", err)
	}
	items := make([]collaborator.Item, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		kind := strings.TrimPrefix(filepath.Ext(e.Name()), ".")
		if kind == "" {
			kind = "file"
		}
		items = append(items, collaborator.Item{Module: s.name, ItemID: hash + "/" + e.Name(), Kind: kind})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ItemID < items[j].ItemID })
	return items, nil
}

func (s *Store) Read(_ context.Context, itemID string) ([]byte, error) {
	path, err := s.path(itemID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("item %s: %w", itemID, sentinel.ErrNotFound)
	}
	return data, err
}

func (s *Store) Open(_ context.Context, itemID string) (collaborator.Handle, error) {
	path, err := s.path(itemID)
	if err != nil {
		return nil, err
	}
	f, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Store) Remove(_ context.Context, itemID string) error {
	path, err := s.path(itemID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove item: %w", err)
	}
	return nil
}

// path resolves an item ID inside the root and rejects traversal.
func (s *Store) path(itemID string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(itemID))
	if filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid item id %q", itemID)
	}
	return filepath.Join(s.root, clean), nil
}

// File adapts an *os.File to collaborator.Handle.
type File struct {
	*os.File
}

// OpenFile opens an existing file for in-place overwrite.
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open item: %w", err)
	}
	return &File{File: f}, nil
}

func (f *File) Size() int64 {
	info, err := f.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}
