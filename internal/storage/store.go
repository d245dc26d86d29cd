package storage

import (
	"context"
)

// Backend persists the task-list snapshot as an opaque JSON document.
// Implementations MUST be safe for concurrent use and never partially write:
// after Save either the new document or the previous one is visible to Load.
type Backend interface {
	// Load returns the last saved document, or nil, nil if nothing was saved yet.
	// A medium that exists but can not be read or is corrupt is an error, never an empty result.
	Load(ctx context.Context) ([]byte, error)
	// Save overwrites the stored document with doc.
	Save(ctx context.Context, doc []byte) error

	Close() error
}
