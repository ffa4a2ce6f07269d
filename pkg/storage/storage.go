// Package storage persists node tree documents. A Storage holds exactly one
// document: the tree JSON spliced together with the editor's UI layout JSON
// (see Compose and Split).
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotFound is returned by Load when nothing has been saved yet.
var ErrNotFound = errors.New("storage: no document")

// Storage is a pluggable backend for a single document.
type Storage interface {
	Save(doc string) error
	Load() (string, error)
}

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

// Memory keeps the document in process memory. It is safe for concurrent use.
type Memory struct {
	mu    sync.Mutex
	doc   string
	saved bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Save(doc string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc, m.saved = doc, true
	return nil
}

func (m *Memory) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.saved {
		return "", ErrNotFound
	}
	return m.doc, nil
}

// ---------------------------------------------------------------------------
// File
// ---------------------------------------------------------------------------

// File stores the document in a single file. Saves write a temporary file
// in the same directory and rename it over the target, so a reader never
// sees a partial document.
type File struct {
	path string
}

// NewFile returns a store backed by path. The file need not exist yet.
func NewFile(path string) *File { return &File{path: path} }

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

func (f *File) Save(doc string) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(doc); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: writing %s: %w", f.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: writing %s: %w", f.path, err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("storage: replacing %s: %w", f.path, err)
	}
	return nil
}

func (f *File) Load() (string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("storage: reading %s: %w", f.path, err)
	}
	return string(data), nil
}
