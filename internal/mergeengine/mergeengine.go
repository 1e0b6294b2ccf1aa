// Package mergeengine implements the Merge Engine (spec §4.4): fast-forward
// detection, already-up-to-date detection, three-way merge with path-level
// conflict detection, --ours/--theirs strategies, --squash, and the
// MergeState in-progress record that lets --continue/--abort resume or
// unwind an interrupted merge.
//
// MergeState.json is written with the same create-temp-then-rename
// atomicity the teacher's modules/zeta/refs uses for ref updates (spec
// §5: "MergeState and RebaseState are written by rename from a temp file
// so readers never observe a partial state file").
package mergeengine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/museup/muse/internal/dag"
	"github.com/museup/muse/internal/muserr"
	"github.com/museup/muse/internal/store"
	"github.com/museup/muse/modules/hash"
	"github.com/museup/muse/modules/manifest"
	"github.com/museup/muse/modules/museobj"
	"github.com/museup/muse/modules/objstore"
	"github.com/museup/muse/modules/refs"
	"github.com/museup/muse/modules/worktree"
)

// Strategy selects how a three-way conflict on an overlapping path is
// resolved, bypassing normal conflict detection (spec §4.4 "Strategies").
type Strategy int

const (
	// StrategyDefault detects conflicts normally.
	StrategyDefault Strategy = iota
	// StrategyOurs takes ours' object_id for every conflicted path.
	StrategyOurs
	// StrategyTheirs takes theirs' object_id for every conflicted path.
	StrategyTheirs
)

// Options configures a Merge call.
type Options struct {
	NoFF     bool // fall through to three-way even when a fast-forward applies
	Squash   bool // produce a single-parent commit instead of a DAG merge
	Strategy Strategy
	Author   string
}

// State is the on-disk record of an in-progress merge (spec §6:
// MERGE_STATE.json).
type State struct {
	BaseCommit    hash.Hash `json:"base_commit"`
	OursCommit    hash.Hash `json:"ours_commit"`
	TheirsCommit  hash.Hash `json:"theirs_commit"`
	ConflictPaths []string  `json:"conflict_paths"`
	OtherBranch   string    `json:"other_branch,omitempty"`
}

const stateFileName = "MERGE_STATE.json"

func statePath(museDir string) string { return filepath.Join(museDir, stateFileName) }

// ReadState loads MergeState from museDir. ok=false with no error means no
// merge is in progress. A file that fails to parse is treated the same way
// (spec §7: "an unparseable state file returns NoMergeInProgress... rather
// than crashing") — the caller's recovery path is to delete it and retry.
func ReadState(museDir string) (*State, bool, error) {
	b, err := os.ReadFile(statePath(museDir))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, false, nil
	}
	return &s, true, nil
}

func writeState(museDir string, s *State) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	path := statePath(museDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func clearState(museDir string) error {
	err := os.Remove(statePath(museDir))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// InProgress reports whether a merge is currently in progress in museDir.
func InProgress(museDir string) (bool, error) {
	_, ok, err := ReadState(museDir)
	return ok, err
}

// Result describes a completed (non-conflicted) merge outcome.
type Result struct {
	FastForward bool
	UpToDate    bool
	NewCommit   *museobj.Commit // nil for fast-forward/up-to-date
}

// Merge performs spec §4.4's algorithm for merging theirsBranch into
// oursBranch, checked out at workRoot. repoID/branch naming and ref
// updates go through refStore; object/commit/snapshot data goes through
// backend and objStore.
func Merge(
	ctx context.Context,
	backend store.Backend,
	objStore objstore.Store,
	refStore *refs.Store,
	museDir, workRoot, repoID, oursBranch, theirsBranch string,
	opts Options,
) (*Result, error) {
	if inProgress, err := InProgress(museDir); err != nil {
		return nil, err
	} else if inProgress {
		return nil, muserr.ErrMergeInProgress
	}

	oursID, ok, err := refStore.Branch(oursBranch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &muserr.UnknownBranch{Branch: oursBranch}
	}
	theirsID, ok, err := refStore.Branch(theirsBranch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &muserr.UnknownBranch{Branch: theirsBranch}
	}

	lca, hasLCA, err := dag.LCA(ctx, backend, oursID, theirsID)
	if err != nil {
		return nil, err
	}
	if !hasLCA {
		return nil, muserr.ErrDisjointHistories
	}

	if lca == theirsID {
		return &Result{UpToDate: true}, nil
	}
	if lca == oursID && !opts.NoFF {
		if err := refStore.UpdateBranch(oursBranch, theirsID, &oursID); err != nil {
			return nil, err
		}
		return &Result{FastForward: true}, nil
	}

	baseManifest, err := loadManifest(ctx, backend, lca)
	if err != nil {
		return nil, err
	}
	oursManifest, err := loadManifest(ctx, backend, oursID)
	if err != nil {
		return nil, err
	}
	theirsManifest, err := loadManifest(ctx, backend, theirsID)
	if err != nil {
		return nil, err
	}

	oursAdded, oursRemoved, oursModified := manifest.Diff(baseManifest, oursManifest)
	theirsAdded, theirsRemoved, theirsModified := manifest.Diff(baseManifest, theirsManifest)
	oursChanges := toSet(oursAdded, oursRemoved, oursModified)
	theirsChanges := toSet(theirsAdded, theirsRemoved, theirsModified)

	var conflicts []string
	conflictSet := make(map[string]bool)
	for path := range oursChanges {
		if !theirsChanges[path] {
			continue
		}
		oursVal, oursHas := oursManifest.Get(path)
		theirsVal, theirsHas := theirsManifest.Get(path)
		if oursHas != theirsHas || oursVal != theirsVal {
			conflicts = append(conflicts, path)
			conflictSet[path] = true
		}
	}
	sort.Strings(conflicts)

	if opts.Strategy == StrategyDefault && len(conflicts) > 0 {
		state := &State{
			BaseCommit:    lca,
			OursCommit:    oursID,
			TheirsCommit:  theirsID,
			ConflictPaths: conflicts,
			OtherBranch:   theirsBranch,
		}
		if err := writeState(museDir, state); err != nil {
			return nil, err
		}
		if err := worktree.CheckoutPaths(ctx, workRoot, objStore, theirsManifest, conflicts); err != nil {
			return nil, err
		}
		return nil, &muserr.MergeConflict{Paths: conflicts}
	}

	merged := buildMerged(baseManifest, oursManifest, theirsManifest, oursChanges, theirsChanges, conflictSet, opts.Strategy)

	return finalizeMerge(ctx, backend, refStore, repoID, oursBranch, oursID, theirsID, merged, opts, "merge "+theirsBranch)
}

// buildMerged applies spec §4.4's symmetric-difference rule: paths changed
// by only one side take that side's value; paths changed by both but
// agreeing on the result take that (shared) value; paths in conflict are
// resolved per strategy (buildMerged is only ever called with a non-empty
// conflict set when a --strategy override bypassed the default conflict
// path above, so strategy is never StrategyDefault here in practice).
func buildMerged(base, ours, theirs *manifest.Manifest, oursChanges, theirsChanges, conflictSet map[string]bool, strategy Strategy) *manifest.Manifest {
	additions := make(map[string]hash.Hash)
	deletions := make(map[string]struct{})

	take := func(path string, m *manifest.Manifest) {
		if v, ok := m.Get(path); ok {
			additions[path] = v
		} else {
			deletions[path] = struct{}{}
		}
	}

	for path := range oursChanges {
		switch {
		case theirsChanges[path] && conflictSet[path] && strategy == StrategyTheirs:
			take(path, theirs)
		case theirsChanges[path] && conflictSet[path]:
			take(path, ours) // StrategyOurs
		case theirsChanges[path]:
			take(path, ours) // both changed but agree on the resulting value
		default:
			take(path, ours) // only ours changed it
		}
	}
	for path := range theirsChanges {
		if !oursChanges[path] {
			take(path, theirs) // only theirs changed it
		}
	}
	return manifest.ApplyDelta(base, additions, deletions)
}

func finalizeMerge(
	ctx context.Context,
	backend store.Backend,
	refStore *refs.Store,
	repoID, oursBranch string,
	oursID, theirsID hash.Hash,
	merged *manifest.Manifest,
	opts Options,
	message string,
) (*Result, error) {
	snapID := manifest.ComputeSnapshotID(merged)
	if err := backend.PutSnapshot(ctx, snapID, merged); err != nil {
		return nil, err
	}

	parents := []hash.Hash{oursID, theirsID}
	if opts.Squash {
		parents = []hash.Hash{oursID}
	}
	commit := museobj.New(repoID, oursBranch, parents, snapID, message, opts.Author, time.Now())
	if err := backend.PutCommit(ctx, commit); err != nil {
		return nil, err
	}
	if err := refStore.UpdateBranch(oursBranch, commit.ID, &oursID); err != nil {
		return nil, err
	}
	if err := backend.SetLatestCommitOn(ctx, repoID, oursBranch, commit.ID); err != nil {
		return nil, err
	}
	return &Result{NewCommit: commit}, nil
}

// Continue implements spec §4.4's resume path: the user has resolved every
// conflicted path in the working tree, which is re-hashed and becomes the
// merged snapshot directly.
func Continue(ctx context.Context, backend store.Backend, objStore objstore.Store, refStore *refs.Store, museDir, workRoot, repoID, oursBranch string, author string) (*Result, error) {
	state, ok, err := ReadState(museDir)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, muserr.ErrNoMergeInProgress
	}
	if len(state.ConflictPaths) > 0 {
		return nil, &muserr.MergeConflict{Paths: state.ConflictPaths}
	}

	merged, err := worktree.BuildFromTree(ctx, workRoot, objStore)
	if err != nil {
		return nil, err
	}
	result, err := finalizeMerge(ctx, backend, refStore, repoID, oursBranch, state.OursCommit, state.TheirsCommit, merged, Options{Author: author}, "merge "+state.OtherBranch)
	if err != nil {
		return nil, err
	}
	if err := clearState(museDir); err != nil {
		return nil, err
	}
	return result, nil
}

// ResolvePath marks path as resolved in MergeState by removing it from
// conflict_paths, the engine-level counterpart of a `resolve <path>
// --ours/--theirs` CLI command — the CLI layer writes the chosen bytes
// into the working tree and calls this to update bookkeeping.
func ResolvePath(museDir, path string) error {
	state, ok, err := ReadState(museDir)
	if err != nil {
		return err
	}
	if !ok {
		return muserr.ErrNoMergeInProgress
	}
	remaining := state.ConflictPaths[:0]
	for _, p := range state.ConflictPaths {
		if p != path {
			remaining = append(remaining, p)
		}
	}
	state.ConflictPaths = remaining
	return writeState(museDir, state)
}

// Abort implements spec §4.4's abort path: restore the working tree to
// ours' manifest and delete MergeState.
func Abort(ctx context.Context, backend store.Backend, objStore objstore.Store, museDir, workRoot string) error {
	state, ok, err := ReadState(museDir)
	if err != nil {
		return err
	}
	if !ok {
		return muserr.ErrNoMergeInProgress
	}
	oursManifest, err := loadManifest(ctx, backend, state.OursCommit)
	if err != nil {
		return err
	}
	if err := worktree.Checkout(ctx, workRoot, objStore, oursManifest); err != nil {
		return err
	}
	return clearState(museDir)
}

func loadManifest(ctx context.Context, backend store.Backend, commitID hash.Hash) (*manifest.Manifest, error) {
	c, ok, err := backend.GetCommit(ctx, commitID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &muserr.CorruptStateError{Path: commitID.String(), Err: muserr.ErrCorruptState}
	}
	m, ok, err := backend.GetSnapshot(ctx, c.SnapshotID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &muserr.CorruptStateError{Path: c.SnapshotID.String(), Err: muserr.ErrCorruptState}
	}
	return m, nil
}

func toSet(groups ...[]string) map[string]bool {
	set := make(map[string]bool)
	for _, g := range groups {
		for _, p := range g {
			set[p] = true
		}
	}
	return set
}
