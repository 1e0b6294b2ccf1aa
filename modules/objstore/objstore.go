// Package objstore implements the Object Store (spec §4.1): content-
// addressed, idempotent blob storage. The local backend is grounded on the
// teacher's modules/zeta/backend/file_storer.go create-temp-then-rename
// idiom for atomic writes; production backends additionally wired onto
// AWS S3 and Google Cloud Storage so the same interface fronts either a
// local working copy or a hub-scale store.
package objstore

import (
	"context"
	"io"

	"github.com/museup/muse/internal/muserr"
	"github.com/museup/muse/modules/hash"
)

// Store is the persistence-agnostic contract every object store backend
// satisfies (spec §4.1).
type Store interface {
	// Put computes the SHA-256 of the full contents of r and writes it
	// under that id. If the id already exists, Put is a no-op that still
	// returns the id (idempotent upsert).
	Put(ctx context.Context, r io.Reader) (hash.Hash, error)
	// PutBytes is a convenience wrapper around Put for in-memory content.
	PutBytes(ctx context.Context, b []byte) (hash.Hash, error)
	// Get returns the full contents addressed by id. Returns a
	// *muserr.NotFoundError when id is absent.
	Get(ctx context.Context, id hash.Hash) ([]byte, error)
	// Open returns a stream over the contents addressed by id, for callers
	// that don't want to hold the whole blob in memory.
	Open(ctx context.Context, id hash.Hash) (io.ReadCloser, error)
	// Exists reports whether id is present.
	Exists(ctx context.Context, id hash.Hash) (bool, error)
	// Size returns the stored size in bytes of the object addressed by id.
	// Returns a *muserr.NotFoundError when id is absent.
	Size(ctx context.Context, id hash.Hash) (int64, error)
}

// NotFound constructs the object-not-found error used uniformly by every
// Store implementation.
func NotFound(id hash.Hash) error {
	return &muserr.NotFoundError{Kind: "object", ID: id.String()}
}
