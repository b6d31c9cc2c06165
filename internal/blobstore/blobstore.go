package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var ErrNotFound = errors.New("workbook blob not found")

// Store holds the single workbook object. Every call moves the whole object.
type Store interface {
	Name() string
	Download(ctx context.Context) ([]byte, error)
	Upload(ctx context.Context, data []byte) error
}

type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Name() string {
	return filepath.Base(s.path)
}

func (s *FileStore) Download(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, s.path)
		}
		return nil, fmt.Errorf("read workbook: %w", err)
	}
	return data, nil
}

func (s *FileStore) Upload(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temporary workbook: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("install workbook: %w", err)
	}
	return nil
}

type MemoryStore struct {
	mu      sync.Mutex
	name    string
	data    []byte
	uploads int
}

func NewMemoryStore(name string, data []byte) *MemoryStore {
	s := &MemoryStore{name: name}
	if data != nil {
		s.data = append([]byte(nil), data...)
	}
	return s
}

func (s *MemoryStore) Name() string {
	return s.name
}

func (s *MemoryStore) Download(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.name)
	}
	return append([]byte(nil), s.data...), nil
}

func (s *MemoryStore) Upload(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	s.uploads++
	return nil
}

// Uploads reports how many times the blob was written.
func (s *MemoryStore) Uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}
