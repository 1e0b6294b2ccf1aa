// Package worktree projects a Snapshot Manifest onto the filesystem and
// back (spec §4.2's build_from_tree, plus the Working Tree component spec
// §2 lists separately): hashing files into the Object Store while walking
// a directory, and writing a manifest's blobs out to disk for checkout,
// merge conflict inspection, and rebase replay.
//
// Concurrent hashing uses golang.org/x/sync/errgroup the way the teacher's
// bulk-hashing call sites bound fan-out with a worker pool, and exclusion
// matching is delegated to modules/wildmatch against a repository's
// .museignore file plus the always-excluded .muse metadata directory.
package worktree

import (
	"bufio"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/museup/muse/modules/hash"
	"github.com/museup/muse/modules/manifest"
	"github.com/museup/muse/modules/objstore"
	"github.com/museup/muse/modules/wildmatch"
)

// MetaDir is the engine's own metadata directory, always excluded from
// snapshots regardless of .museignore content.
const MetaDir = ".muse"

// IgnoreFile is the per-repository exclusion-pattern file, matched with
// the same pattern grammar git uses for .gitignore (modules/wildmatch).
const IgnoreFile = ".museignore"

// loadExclusions reads root/.museignore (if present) into a slice of
// Wildmatch matchers, one per non-empty, non-comment line.
func loadExclusions(root string) ([]*wildmatch.Wildmatch, error) {
	f, err := os.Open(filepath.Join(root, IgnoreFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var matchers []*wildmatch.Wildmatch
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		if wm := parsePattern(line); wm != nil {
			matchers = append(matchers, wm)
		}
	}
	return matchers, scanner.Err()
}

// parsePattern wraps wildmatch.NewWildmatch, which panics on a malformed
// pattern rather than returning an error; a bad line in .museignore should
// be skipped, not abort the whole walk.
func parsePattern(line string) (wm *wildmatch.Wildmatch) {
	defer func() {
		if recover() != nil {
			wm = nil
		}
	}()
	return wildmatch.NewWildmatch(line, wildmatch.Contents)
}

func excluded(rel string, matchers []*wildmatch.Wildmatch) bool {
	for _, m := range matchers {
		if m.Match(rel) {
			return true
		}
	}
	return false
}

// BuildFromTree walks root, hashes every non-excluded regular file into
// store, and returns the resulting Manifest (spec §4.2's build_from_tree).
// Files are hashed concurrently up to GOMAXPROCS workers; each path is
// still assigned into the manifest sequentially afterward so manifest
// construction itself stays single-threaded and deterministic.
func BuildFromTree(ctx context.Context, root string, store objstore.Store) (*manifest.Manifest, error) {
	matchers, err := loadExclusions(root)
	if err != nil {
		return nil, err
	}

	type found struct {
		path string
		abs  string
	}
	var paths []found
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		posix := filepath.ToSlash(rel)
		if d.IsDir() {
			if d.Name() == MetaDir {
				return filepath.SkipDir
			}
			if excluded(posix, matchers) {
				return filepath.SkipDir
			}
			return nil
		}
		if excluded(posix, matchers) {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		paths = append(paths, found{path: posix, abs: p})
		return nil
	})
	if err != nil {
		return nil, err
	}

	ids := make([]hash.Hash, len(paths))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range paths {
		i, p := i, p
		group.Go(func() error {
			f, err := os.Open(p.abs)
			if err != nil {
				return err
			}
			defer f.Close()
			id, err := store.Put(gctx, f)
			if err != nil {
				return err
			}
			ids[i] = id
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	m := manifest.New()
	for i, p := range paths {
		m.Set(p.path, ids[i])
	}
	return m, nil
}

// Checkout writes every blob named in m out to root, overwriting existing
// content, then removes any regular file under root that BuildFromTree
// would have considered part of the working tree but that m does not
// name. It leaves .muse and files matched by .museignore untouched.
func Checkout(ctx context.Context, root string, store objstore.Store, m *manifest.Manifest) error {
	wanted := make(map[string]bool, m.Len())
	var werr error
	m.Each(func(path string, id hash.Hash) {
		if werr != nil {
			return
		}
		wanted[path] = true
		werr = writeBlob(ctx, root, store, path, id)
	})
	if werr != nil {
		return werr
	}

	matchers, err := loadExclusions(root)
	if err != nil {
		return err
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		posix := filepath.ToSlash(rel)
		if d.IsDir() {
			if d.Name() == MetaDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if excluded(posix, matchers) || wanted[posix] {
			return nil
		}
		return os.Remove(p)
	})
}

// CheckoutPaths writes only the named paths from m, used by the merge
// engine to copy theirs' version of conflicted files into the working
// tree for inspection (spec §4.4) without touching anything else.
func CheckoutPaths(ctx context.Context, root string, store objstore.Store, m *manifest.Manifest, paths []string) error {
	for _, path := range paths {
		id, ok := m.Get(path)
		if !ok {
			continue
		}
		if err := writeBlob(ctx, root, store, path, id); err != nil {
			return err
		}
	}
	return nil
}

func writeBlob(ctx context.Context, root string, store objstore.Store, path string, id hash.Hash) error {
	dest := filepath.Join(root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	b, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, b, 0o644)
}

// Diff builds the working tree's current manifest and compares it against
// base, returning the same (added, removed, modified) triple as
// manifest.Diff.
func Diff(ctx context.Context, root string, store objstore.Store, base *manifest.Manifest) (added, removed, modified []string, err error) {
	current, err := BuildFromTree(ctx, root, store)
	if err != nil {
		return nil, nil, nil, err
	}
	added, removed, modified = manifest.Diff(base, current)
	return added, removed, modified, nil
}
