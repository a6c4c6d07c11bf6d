package storage

import (
	"context"
	"io"
)

// Storage is the minimal interface for output-object storage backends.
type Storage interface {
	// Save stores an object at the given key.
	Save(ctx context.Context, key string, reader io.Reader, contentType string) error

	// Delete removes an object by key. Returns nil if the object doesn't exist.
	Delete(ctx context.Context, key string) error

	// URL returns the public URL for an object given its key.
	URL(key string) string
}
