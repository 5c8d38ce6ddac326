package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FSStore implements ObjectStore on a local directory. Keys map to paths
// below the root; it stands in for a bucket when publishing to a mounted
// share or a local preview tree.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem-backed object store rooted at the given directory.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create object root: %w", err)
	}
	return &FSStore{root: root}, nil
}

// Get opens an object for reading.
func (s *FSStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.objectPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	return f, nil
}

// Put writes an object through a temp file and rename.
func (s *FSStore) Put(_ context.Context, key string, r io.Reader, _ string) error {
	p, err := s.objectPath(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".object-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := io.Copy(tmpFile, r); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write object data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, p); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename object: %w", err)
	}
	return nil
}

// Delete removes an object.
func (s *FSStore) Delete(_ context.Context, key string) error {
	p, err := s.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// List returns all keys under prefix by scanning the directory tree.
func (s *FSStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string

	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".object-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})

	sort.Strings(keys)
	return keys, err
}

// objectPath returns the filesystem path for a key.
func (s *FSStore) objectPath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}
