package store

import (
	"context"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/museup/muse/modules/hash"
	"github.com/museup/muse/modules/manifest"
	"github.com/museup/muse/modules/museobj"
)

// Cached wraps a Backend with a read-through cache for GetCommit and
// GetSnapshot, the two hot paths for ancestor queries (LCA, CommitsBetween)
// and the find engine. Commits and snapshots are immutable once written —
// spec §3 describes an accumulate-never-delete lifecycle — so cached
// entries are never explicitly invalidated, only evicted by ristretto's own
// cost-based policy.
type Cached struct {
	backend Backend
	commits *ristretto.Cache[hash.Hash, *museobj.Commit]
	snaps   *ristretto.Cache[hash.Hash, *manifest.Manifest]
}

var _ Backend = (*Cached)(nil)

// NewCached wraps backend with a bounded-size read-through cache.
// maxCost caps the number of entries in each of the two caches (every
// entry is stored with cost 1); ristretto sizes its internal structures
// off of it.
func NewCached(backend Backend, maxCost int64) (*Cached, error) {
	commits, err := ristretto.NewCache(&ristretto.Config[hash.Hash, *museobj.Commit]{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	snaps, err := ristretto.NewCache(&ristretto.Config[hash.Hash, *manifest.Manifest]{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cached{backend: backend, commits: commits, snaps: snaps}, nil
}

func (c *Cached) PutObject(ctx context.Context, id hash.Hash, size int64) error {
	return c.backend.PutObject(ctx, id, size)
}

func (c *Cached) PutSnapshot(ctx context.Context, id hash.Hash, m *manifest.Manifest) error {
	if err := c.backend.PutSnapshot(ctx, id, m); err != nil {
		return err
	}
	c.snaps.Set(id, m.Clone(), 1)
	return nil
}

func (c *Cached) PutCommit(ctx context.Context, commit *museobj.Commit) error {
	if err := c.backend.PutCommit(ctx, commit); err != nil {
		return err
	}
	c.commits.Set(commit.ID, commit, 1)
	return nil
}

func (c *Cached) GetCommit(ctx context.Context, id hash.Hash) (*museobj.Commit, bool, error) {
	if v, ok := c.commits.Get(id); ok {
		return v, true, nil
	}
	commit, ok, err := c.backend.GetCommit(ctx, id)
	if err != nil || !ok {
		return commit, ok, err
	}
	c.commits.Set(id, commit, 1)
	return commit, true, nil
}

func (c *Cached) GetSnapshot(ctx context.Context, id hash.Hash) (*manifest.Manifest, bool, error) {
	if v, ok := c.snaps.Get(id); ok {
		return v.Clone(), true, nil
	}
	m, ok, err := c.backend.GetSnapshot(ctx, id)
	if err != nil || !ok {
		return m, ok, err
	}
	c.snaps.Set(id, m, 1)
	return m, true, nil
}

func (c *Cached) LatestCommitOn(ctx context.Context, repoID, branch string) (hash.Hash, bool, error) {
	return c.backend.LatestCommitOn(ctx, repoID, branch)
}

func (c *Cached) SetLatestCommitOn(ctx context.Context, repoID, branch string, id hash.Hash) error {
	return c.backend.SetLatestCommitOn(ctx, repoID, branch, id)
}

func (c *Cached) CommitsByPrefix(ctx context.Context, repoID, prefix string) ([]*museobj.Commit, error) {
	return c.backend.CommitsByPrefix(ctx, repoID, prefix)
}

func (c *Cached) CommitsMatching(ctx context.Context, repoID string, pred Predicate, limit int) ([]*museobj.Commit, error) {
	return c.backend.CommitsMatching(ctx, repoID, pred, limit)
}
