// Package publish uploads unpacked content packages to an object-storage
// bucket and records what was published.
package publish

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned when a requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore defines the bucket operations publishing needs.
type ObjectStore interface {
	// Get returns a reader for the object at key.
	// Returns ErrObjectNotFound if the object does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Put stores the object at key, replacing any previous content.
	Put(ctx context.Context, key string, r io.Reader, contentType string) error

	// Delete removes an object. No error if it doesn't exist.
	Delete(ctx context.Context, key string) error

	// List returns every key under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
