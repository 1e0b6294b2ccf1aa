// Package store defines the Persistence Interface the engine consumes
// (spec §4.3) and its implementations: an in-memory backend for tests and
// engine-internal use, a MySQL-backed production backend for the hub, and a
// read-through cache wrapper. The engine itself depends only on the Backend
// interface, never on a concrete implementation — the same inversion the
// teacher applies between its command layer and its storage backends
// (modules/zeta/backend).
package store

import (
	"context"

	"github.com/museup/muse/modules/hash"
	"github.com/museup/muse/modules/manifest"
	"github.com/museup/muse/modules/museobj"
)

// Predicate is evaluated by CommitsMatching against each candidate commit.
type Predicate func(*museobj.Commit) bool

// Backend is the persistence interface from spec §4.3, verbatim in
// operation set. All methods are safe for concurrent use. Callers control
// transaction scope; the engine itself only calls Flush-equivalent
// operations (i.e. each Put*) at meaningful boundaries and never spans a
// transaction across them.
type Backend interface {
	// PutObject upserts object metadata (existence + size). Idempotent.
	PutObject(ctx context.Context, id hash.Hash, size int64) error

	// PutSnapshot upserts a manifest under its snapshot id. Idempotent.
	PutSnapshot(ctx context.Context, id hash.Hash, m *manifest.Manifest) error

	// PutCommit inserts a commit. Calling it twice with the same commit_id
	// is a programming error per spec §4.3; implementations may choose to
	// treat a byte-identical duplicate insert as a no-op, but callers must
	// not rely on that.
	PutCommit(ctx context.Context, c *museobj.Commit) error

	// GetCommit returns the commit, or ok=false if unknown.
	GetCommit(ctx context.Context, id hash.Hash) (c *museobj.Commit, ok bool, err error)

	// GetSnapshot returns the manifest, or ok=false if unknown.
	GetSnapshot(ctx context.Context, id hash.Hash) (m *manifest.Manifest, ok bool, err error)

	// LatestCommitOn returns the tip commit id recorded for repoID/branch,
	// or ok=false if the branch has no recorded tip.
	LatestCommitOn(ctx context.Context, repoID, branch string) (id hash.Hash, ok bool, err error)

	// SetLatestCommitOn records the tip commit id for repoID/branch. It is
	// not part of spec §4.3's listed operations but is the natural
	// counterpart LatestCommitOn requires to ever return something —
	// engine callers invoke it wherever the spec says to "advance the
	// branch ref" against a database-backed repository (the hub).
	SetLatestCommitOn(ctx context.Context, repoID, branch string, id hash.Hash) error

	// CommitsByPrefix returns every commit in repoID whose id starts with
	// prefix, for short-id resolution.
	CommitsByPrefix(ctx context.Context, repoID, prefix string) ([]*museobj.Commit, error)

	// CommitsMatching returns up to limit commits in repoID satisfying
	// pred, for the find engine. limit <= 0 means unlimited.
	CommitsMatching(ctx context.Context, repoID string, pred Predicate, limit int) ([]*museobj.Commit, error)
}
