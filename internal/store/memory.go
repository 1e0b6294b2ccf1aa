package store

import (
	"context"
	"sort"
	"sync"

	"github.com/museup/muse/modules/hash"
	"github.com/museup/muse/modules/manifest"
	"github.com/museup/muse/modules/museobj"
)

// Memory is an in-memory Backend: maps guarded by a single RWMutex. It
// backs every engine test (spec §9: "supply two implementations:
// production... and in-memory. All engine tests run against the in-memory
// backend").
type Memory struct {
	mu        sync.RWMutex
	objects   map[hash.Hash]int64
	snapshots map[hash.Hash]*manifest.Manifest
	commits   map[hash.Hash]*museobj.Commit
	// branchTips[repoID][branch] = commit id
	branchTips map[string]map[string]hash.Hash
	// commitsByRepo keeps insertion order per repo for deterministic
	// CommitsMatching/CommitsByPrefix iteration.
	commitsByRepo map[string][]hash.Hash
}

var _ Backend = (*Memory)(nil)

// NewMemory returns an empty in-memory Backend.
func NewMemory() *Memory {
	return &Memory{
		objects:       make(map[hash.Hash]int64),
		snapshots:     make(map[hash.Hash]*manifest.Manifest),
		commits:       make(map[hash.Hash]*museobj.Commit),
		branchTips:    make(map[string]map[string]hash.Hash),
		commitsByRepo: make(map[string][]hash.Hash),
	}
}

func (m *Memory) PutObject(_ context.Context, id hash.Hash, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[id] = size
	return nil
}

func (m *Memory) PutSnapshot(_ context.Context, id hash.Hash, snap *manifest.Manifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[id] = snap.Clone()
	return nil
}

func (m *Memory) PutCommit(_ context.Context, c *museobj.Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.commits[c.ID]; exists {
		// Any duplicate commit_id is a no-op: the stored commit is kept
		// and is not compared with c, so an identical retry and a
		// conflicting duplicate (the programming error spec §4.3
		// describes) both return nil.
		return nil
	}
	cp := *c
	cp.ParentIDs = append([]hash.Hash(nil), c.ParentIDs...)
	m.commits[c.ID] = &cp
	m.commitsByRepo[c.RepoID] = append(m.commitsByRepo[c.RepoID], c.ID)
	return nil
}

func (m *Memory) GetCommit(_ context.Context, id hash.Hash) (*museobj.Commit, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.commits[id]
	if !ok {
		return nil, false, nil
	}
	cp := *c
	cp.ParentIDs = append([]hash.Hash(nil), c.ParentIDs...)
	return &cp, true, nil
}

func (m *Memory) GetSnapshot(_ context.Context, id hash.Hash) (*manifest.Manifest, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[id]
	if !ok {
		return nil, false, nil
	}
	return s.Clone(), true, nil
}

func (m *Memory) LatestCommitOn(_ context.Context, repoID, branch string) (hash.Hash, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byBranch, ok := m.branchTips[repoID]
	if !ok {
		return hash.Zero, false, nil
	}
	id, ok := byBranch[branch]
	return id, ok, nil
}

func (m *Memory) SetLatestCommitOn(_ context.Context, repoID, branch string, id hash.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byBranch, ok := m.branchTips[repoID]
	if !ok {
		byBranch = make(map[string]hash.Hash)
		m.branchTips[repoID] = byBranch
	}
	byBranch[branch] = id
	return nil
}

func (m *Memory) CommitsByPrefix(_ context.Context, repoID, prefix string) ([]*museobj.Commit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*museobj.Commit
	for _, id := range m.commitsByRepo[repoID] {
		if id.HasPrefix(prefix) {
			c := m.commits[id]
			cp := *c
			cp.ParentIDs = append([]hash.Hash(nil), c.ParentIDs...)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// image is a serializable snapshot of every Memory-held map, the basis of
// LocalFile's on-disk persistence — Memory itself stays transport-agnostic,
// so this lives beside it rather than inside manifest/museobj.
type image struct {
	Objects       map[hash.Hash]int64                 `json:"objects"`
	Snapshots     map[hash.Hash]map[string]hash.Hash  `json:"snapshots"`
	Commits       map[hash.Hash]*museobj.Commit       `json:"commits"`
	BranchTips    map[string]map[string]hash.Hash     `json:"branch_tips"`
	CommitsByRepo map[string][]hash.Hash               `json:"commits_by_repo"`
}

// export captures the whole backend as an image for serialization.
func (m *Memory) export() *image {
	m.mu.RLock()
	defer m.mu.RUnlock()

	img := &image{
		Objects:       make(map[hash.Hash]int64, len(m.objects)),
		Snapshots:     make(map[hash.Hash]map[string]hash.Hash, len(m.snapshots)),
		Commits:       make(map[hash.Hash]*museobj.Commit, len(m.commits)),
		BranchTips:    make(map[string]map[string]hash.Hash, len(m.branchTips)),
		CommitsByRepo: make(map[string][]hash.Hash, len(m.commitsByRepo)),
	}
	for id, size := range m.objects {
		img.Objects[id] = size
	}
	for id, snap := range m.snapshots {
		paths := make(map[string]hash.Hash, snap.Len())
		snap.Each(func(path string, objID hash.Hash) { paths[path] = objID })
		img.Snapshots[id] = paths
	}
	for id, c := range m.commits {
		cp := *c
		cp.ParentIDs = append([]hash.Hash(nil), c.ParentIDs...)
		img.Commits[id] = &cp
	}
	for repoID, byBranch := range m.branchTips {
		cp := make(map[string]hash.Hash, len(byBranch))
		for branch, id := range byBranch {
			cp[branch] = id
		}
		img.BranchTips[repoID] = cp
	}
	for repoID, ids := range m.commitsByRepo {
		img.CommitsByRepo[repoID] = append([]hash.Hash(nil), ids...)
	}
	return img
}

// importImage replaces m's contents with img's, used to restore a Memory
// from a previously exported file.
func (m *Memory) importImage(img *image) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects = make(map[hash.Hash]int64, len(img.Objects))
	for id, size := range img.Objects {
		m.objects[id] = size
	}
	m.snapshots = make(map[hash.Hash]*manifest.Manifest, len(img.Snapshots))
	for id, paths := range img.Snapshots {
		mf := manifest.New()
		for path, objID := range paths {
			mf.Set(path, objID)
		}
		m.snapshots[id] = mf
	}
	m.commits = make(map[hash.Hash]*museobj.Commit, len(img.Commits))
	for id, c := range img.Commits {
		cp := *c
		cp.ParentIDs = append([]hash.Hash(nil), c.ParentIDs...)
		m.commits[id] = &cp
	}
	m.branchTips = make(map[string]map[string]hash.Hash, len(img.BranchTips))
	for repoID, byBranch := range img.BranchTips {
		cp := make(map[string]hash.Hash, len(byBranch))
		for branch, id := range byBranch {
			cp[branch] = id
		}
		m.branchTips[repoID] = cp
	}
	m.commitsByRepo = make(map[string][]hash.Hash, len(img.CommitsByRepo))
	for repoID, ids := range img.CommitsByRepo {
		m.commitsByRepo[repoID] = append([]hash.Hash(nil), ids...)
	}
}

func (m *Memory) CommitsMatching(_ context.Context, repoID string, pred Predicate, limit int) ([]*museobj.Commit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.commitsByRepo[repoID]
	var out []*museobj.Commit
	for i := len(ids) - 1; i >= 0; i-- {
		c := m.commits[ids[i]]
		if pred != nil && !pred(c) {
			continue
		}
		cp := *c
		cp.ParentIDs = append([]hash.Hash(nil), c.ParentIDs...)
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
