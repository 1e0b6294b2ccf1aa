package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/museup/muse/modules/hash"
	"github.com/museup/muse/modules/manifest"
	"github.com/museup/muse/modules/museobj"
)

// LocalFile is the client-side Backend for a standalone working copy with
// no hub to talk to: an in-memory Memory backend whose full contents are
// flushed to a single JSON file after every mutating call, using the same
// temp-file-then-rename atomicity as modules/objstore.LocalStore.Put and
// modules/refs.atomicWrite — a crash mid-flush can never leave callers
// reading a half-written database.
//
// Muse's persistence interface is deliberately backend-agnostic (spec §9);
// this implementation exists because a CLI working against a local
// repository needs *some* durable commit/snapshot store that survives
// between process invocations, and the corpus offers only an in-memory
// engine-test double and a MySQL-backed hub server, neither of which fits a
// single-user local checkout.
type LocalFile struct {
	path string
	mu   sync.Mutex
	mem  *Memory
}

var _ Backend = (*LocalFile)(nil)

// OpenLocalFile loads path (if it exists) into a fresh Memory backend, or
// starts empty if it does not.
func OpenLocalFile(path string) (*LocalFile, error) {
	lf := &LocalFile{path: path, mem: NewMemory()}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return lf, nil
	}
	if err != nil {
		return nil, err
	}
	var img image
	if err := json.Unmarshal(b, &img); err != nil {
		return nil, err
	}
	lf.mem.importImage(&img)
	return lf, nil
}

func (lf *LocalFile) flush() error {
	b, err := json.Marshal(lf.mem.export())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(lf.path), 0o755); err != nil {
		return err
	}
	tmp := lf.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, lf.path)
}

func (lf *LocalFile) PutObject(ctx context.Context, id hash.Hash, size int64) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if err := lf.mem.PutObject(ctx, id, size); err != nil {
		return err
	}
	return lf.flush()
}

func (lf *LocalFile) PutSnapshot(ctx context.Context, id hash.Hash, m *manifest.Manifest) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if err := lf.mem.PutSnapshot(ctx, id, m); err != nil {
		return err
	}
	return lf.flush()
}

func (lf *LocalFile) PutCommit(ctx context.Context, c *museobj.Commit) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if err := lf.mem.PutCommit(ctx, c); err != nil {
		return err
	}
	return lf.flush()
}

func (lf *LocalFile) GetCommit(ctx context.Context, id hash.Hash) (*museobj.Commit, bool, error) {
	return lf.mem.GetCommit(ctx, id)
}

func (lf *LocalFile) GetSnapshot(ctx context.Context, id hash.Hash) (*manifest.Manifest, bool, error) {
	return lf.mem.GetSnapshot(ctx, id)
}

func (lf *LocalFile) LatestCommitOn(ctx context.Context, repoID, branch string) (hash.Hash, bool, error) {
	return lf.mem.LatestCommitOn(ctx, repoID, branch)
}

func (lf *LocalFile) SetLatestCommitOn(ctx context.Context, repoID, branch string, id hash.Hash) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if err := lf.mem.SetLatestCommitOn(ctx, repoID, branch, id); err != nil {
		return err
	}
	return lf.flush()
}

func (lf *LocalFile) CommitsByPrefix(ctx context.Context, repoID, prefix string) ([]*museobj.Commit, error) {
	return lf.mem.CommitsByPrefix(ctx, repoID, prefix)
}

func (lf *LocalFile) CommitsMatching(ctx context.Context, repoID string, pred Predicate, limit int) ([]*museobj.Commit, error) {
	return lf.mem.CommitsMatching(ctx, repoID, pred, limit)
}
