// Package refs is the client-side Ref Store (spec §4, §6): named branch
// pointers plus HEAD, persisted as loose files under .muse/ with atomic,
// compare-and-swap updates. The lock-file-then-rename update pattern is
// grounded on the teacher's modules/zeta/refs fsBackend.ReferenceUpdate
// (now deleted from this tree, read in full beforehand); Muse has no
// equivalent of git's packed-refs compaction since a repository's branch
// count is small and loose files are cheap enough to keep forever.
package refs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/museup/muse/modules/hash"
)

const (
	headFile    = "HEAD"
	headsPrefix = "refs/heads/"
)

// ErrHasChanged is returned by Update when old does not match the ref's
// current value — a concurrent writer raced ahead of the caller.
type ErrHasChanged struct {
	Ref string
}

func (e *ErrHasChanged) Error() string {
	return fmt.Sprintf("refs: %s has changed concurrently", e.Ref)
}

// Store is the filesystem-backed Ref Store rooted at a repository's .muse
// directory.
type Store struct {
	root string // .muse
}

// NewStore returns a Store rooted at dir (typically <repo>/.muse).
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

func (s *Store) branchPath(branch string) string {
	return filepath.Join(s.root, "refs", "heads", branch)
}

// Branches lists every branch name with a recorded tip.
func (s *Store) Branches() ([]string, error) {
	dir := filepath.Join(s.root, "refs", "heads")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Branch returns the commit id a branch points at, and whether the branch
// exists at all (an existing branch may point at the zero Hash only
// transiently; spec §6 shows `refs/heads/<branch>` content as "64-hex
// commit_id or empty").
func (s *Store) Branch(branch string) (hash.Hash, bool, error) {
	b, err := os.ReadFile(s.branchPath(branch))
	if os.IsNotExist(err) {
		return hash.Zero, false, nil
	}
	if err != nil {
		return hash.Zero, false, err
	}
	text := strings.TrimSpace(string(b))
	if text == "" {
		return hash.Zero, true, nil
	}
	id, err := hash.Parse(text)
	if err != nil {
		return hash.Zero, false, fmt.Errorf("refs: corrupt branch file %q: %w", branch, err)
	}
	return id, true, nil
}

// UpdateBranch sets branch to point at id. If old is non-nil, the update
// is a compare-and-swap against the branch's current value: it fails with
// *ErrHasChanged if the file's current content does not match *old. The
// write itself is atomic — a temp file is created alongside the final
// path and renamed into place, the same idiom objstore.LocalStore.Put and
// the teacher's ReferenceUpdate both use for crash-safe updates.
func (s *Store) UpdateBranch(branch string, id hash.Hash, old *hash.Hash) error {
	path := s.branchPath(branch)
	if old != nil {
		current, exists, err := s.Branch(branch)
		if err != nil {
			return err
		}
		if !exists || current != *old {
			return &ErrHasChanged{Ref: "refs/heads/" + branch}
		}
	}
	return atomicWrite(path, id.String()+"\n")
}

// DeleteBranch removes a branch's ref file. Not an error if already absent.
func (s *Store) DeleteBranch(branch string) error {
	err := os.Remove(s.branchPath(branch))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Head reads HEAD: either a symbolic reference to refs/heads/<branch> (the
// common case) or a detached commit id.
func (s *Store) Head() (branch string, detached hash.Hash, isDetached bool, err error) {
	b, err := os.ReadFile(filepath.Join(s.root, headFile))
	if err != nil {
		return "", hash.Zero, false, err
	}
	text := strings.TrimSpace(string(b))
	if strings.HasPrefix(text, headsPrefix) {
		return strings.TrimPrefix(text, headsPrefix), hash.Zero, false, nil
	}
	id, perr := hash.Parse(text)
	if perr != nil {
		return "", hash.Zero, false, fmt.Errorf("refs: corrupt HEAD: %w", perr)
	}
	return "", id, true, nil
}

// SetHeadToBranch points HEAD at refs/heads/<branch> (the usual, attached
// form — spec §6).
func (s *Store) SetHeadToBranch(branch string) error {
	return atomicWrite(filepath.Join(s.root, headFile), headsPrefix+branch+"\n")
}

// DetachHead points HEAD directly at a commit id, bypassing any branch.
func (s *Store) DetachHead(id hash.Hash) error {
	return atomicWrite(filepath.Join(s.root, headFile), id.String()+"\n")
}

// ResolveHead resolves HEAD down to a concrete commit id, following a
// symbolic HEAD through its target branch.
func (s *Store) ResolveHead() (hash.Hash, error) {
	branch, detached, isDetached, err := s.Head()
	if err != nil {
		return hash.Zero, err
	}
	if isDetached {
		return detached, nil
	}
	id, _, err := s.Branch(branch)
	return id, err
}

func atomicWrite(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	lock := path + ".lock"
	fd, err := os.OpenFile(lock, os.O_CREATE|os.O_EXCL|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("refs: %s is locked by a concurrent writer", filepath.Base(path))
		}
		return err
	}
	if _, err := fd.WriteString(content); err != nil {
		_ = fd.Close()
		_ = os.Remove(lock)
		return err
	}
	if err := fd.Sync(); err != nil {
		_ = fd.Close()
		_ = os.Remove(lock)
		return err
	}
	if err := fd.Close(); err != nil {
		_ = os.Remove(lock)
		return err
	}
	return os.Rename(lock, path)
}
