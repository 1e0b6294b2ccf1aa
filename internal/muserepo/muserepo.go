// Package muserepo wires the object store, manifest, commit DAG, ref
// store, and the merge/rebase/divergence/find engines into a single
// repository façade — the client-side equivalent of the teacher's
// pkg/zeta.Repository, which likewise bundles config, an object database,
// and a ref backend behind one type that commands operate against.
package muserepo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/museup/muse/internal/config"
	"github.com/museup/muse/internal/dag"
	"github.com/museup/muse/internal/divergence"
	"github.com/museup/muse/internal/findengine"
	"github.com/museup/muse/internal/mergeengine"
	"github.com/museup/muse/internal/muserr"
	"github.com/museup/muse/internal/rebaseengine"
	"github.com/museup/muse/internal/store"
	"github.com/museup/muse/internal/telemetry"
	"github.com/museup/muse/modules/hash"
	"github.com/museup/muse/modules/manifest"
	"github.com/museup/muse/modules/museobj"
	"github.com/museup/muse/modules/objstore"
	"github.com/museup/muse/modules/refs"
	"github.com/museup/muse/modules/worktree"
)

// MuseDirName is the engine's metadata directory, analogous to the
// teacher's ZetaDirName.
const MuseDirName = ".muse"

// Repo is a single checked-out Muse repository: a working tree rooted at
// WorkRoot, its .muse metadata directory, and every engine dependency that
// operates over it.
type Repo struct {
	WorkRoot string
	MuseDir  string
	RepoID   string

	Backend  store.Backend
	ObjStore objstore.Store
	Refs     *refs.Store
	Config   *config.Config
	Log      *logrus.Entry
}

// Discover walks upward from startDir looking for a .muse directory, the
// same upward-search a repo-scoped command needs before it can do anything
// (spec §6's NotInRepository condition).
func Discover(startDir string) (workRoot string, err error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		if info, statErr := os.Stat(filepath.Join(dir, MuseDirName)); statErr == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", muserr.ErrNotInRepository
		}
		dir = parent
	}
}

// Open loads an existing repository rooted at workRoot.
func Open(workRoot string, backend store.Backend, objStore objstore.Store, log *logrus.Entry) (*Repo, error) {
	museDir := filepath.Join(workRoot, MuseDirName)
	descriptor, err := config.ReadRepoDescriptor(museDir)
	if err != nil {
		return nil, fmt.Errorf("muserepo: open: %w", err)
	}
	cfg, err := config.LoadEffective(museDir)
	if err != nil {
		return nil, fmt.Errorf("muserepo: open: %w", err)
	}
	if log == nil {
		log = telemetry.Silent()
	}
	return &Repo{
		WorkRoot: workRoot,
		MuseDir:  museDir,
		RepoID:   descriptor.RepoID,
		Backend:  backend,
		ObjStore: objStore,
		Refs:     refs.NewStore(museDir),
		Config:   cfg,
		Log:      log,
	}, nil
}

// Init creates a new repository at workRoot: .muse/repo.json and HEAD
// pointing at the default branch from config.Defaults() (no commits
// yet, so the branch ref itself doesn't exist until the first commit).
// No config file is written; the returned Repo carries config.Defaults().
func Init(workRoot string, backend store.Backend, objStore objstore.Store, log *logrus.Entry) (*Repo, error) {
	museDir := filepath.Join(workRoot, MuseDirName)
	if err := os.MkdirAll(museDir, 0o755); err != nil {
		return nil, fmt.Errorf("muserepo: init: %w", err)
	}
	descriptor := config.NewRepoDescriptor()
	if err := config.WriteRepoDescriptor(museDir, descriptor); err != nil {
		return nil, fmt.Errorf("muserepo: init: %w", err)
	}
	cfg := config.Defaults()
	refStore := refs.NewStore(museDir)
	if err := refStore.SetHeadToBranch(cfg.DefaultBranch); err != nil {
		return nil, fmt.Errorf("muserepo: init: %w", err)
	}
	if log == nil {
		log = telemetry.Silent()
	}
	log.WithField("repo_id", descriptor.RepoID).Info("initialized repository")
	return &Repo{
		WorkRoot: workRoot,
		MuseDir:  museDir,
		RepoID:   descriptor.RepoID,
		Backend:  backend,
		ObjStore: objStore,
		Refs:     refStore,
		Config:   cfg,
		Log:      log,
	}, nil
}

// CurrentBranch resolves HEAD to the attached branch name; it errors if
// HEAD is detached, since commit/switch both require a branch identity.
func (r *Repo) CurrentBranch() (string, error) {
	branch, _, detached, err := r.Refs.Head()
	if err != nil {
		return "", fmt.Errorf("muserepo: read HEAD: %w", err)
	}
	if detached {
		return "", fmt.Errorf("muserepo: HEAD is detached")
	}
	return branch, nil
}

// Commit builds a snapshot manifest from the working tree, persists it and
// a new commit advancing the current branch, applying fast-forward-only
// bookkeeping (a plain commit always has the branch's current tip, or none,
// as its sole parent).
func (r *Repo) Commit(ctx context.Context, message, author string) (*museobj.Commit, error) {
	branch, err := r.CurrentBranch()
	if err != nil {
		return nil, err
	}
	m, err := worktree.BuildFromTree(ctx, r.WorkRoot, r.ObjStore)
	if err != nil {
		return nil, fmt.Errorf("muserepo: build snapshot: %w", err)
	}

	tip, hasTip, err := r.Refs.Branch(branch)
	if err != nil {
		return nil, fmt.Errorf("muserepo: read branch %s: %w", branch, err)
	}

	if hasTip {
		parentCommit, ok, err := r.Backend.GetCommit(ctx, tip)
		if err != nil {
			return nil, fmt.Errorf("muserepo: load parent commit: %w", err)
		}
		if !ok {
			return nil, &muserr.NotFoundError{Kind: "commit", ID: tip.String()}
		}
		parentManifest, ok, err := r.Backend.GetSnapshot(ctx, parentCommit.SnapshotID)
		if err != nil {
			return nil, fmt.Errorf("muserepo: load parent snapshot: %w", err)
		}
		if !ok {
			return nil, &muserr.NotFoundError{Kind: "snapshot", ID: parentCommit.SnapshotID.String()}
		}
		if manifest.ComputeSnapshotID(parentManifest) == manifest.ComputeSnapshotID(m) {
			return nil, muserr.ErrNothingToCommit
		}
	}

	snapID := manifest.ComputeSnapshotID(m)
	if err := r.Backend.PutSnapshot(ctx, snapID, m); err != nil {
		return nil, fmt.Errorf("muserepo: persist snapshot: %w", err)
	}

	var parents []hash.Hash
	if hasTip {
		parents = []hash.Hash{tip}
	}
	c := museobj.New(r.RepoID, branch, parents, snapID, message, author, time.Now())
	if err := r.Backend.PutCommit(ctx, c); err != nil {
		return nil, fmt.Errorf("muserepo: persist commit: %w", err)
	}
	var old *hash.Hash
	if hasTip {
		old = &tip
	}
	if err := r.Refs.UpdateBranch(branch, c.ID, old); err != nil {
		return nil, fmt.Errorf("muserepo: advance branch %s: %w", branch, err)
	}
	if err := r.Backend.SetLatestCommitOn(ctx, r.RepoID, branch, c.ID); err != nil {
		return nil, fmt.Errorf("muserepo: record latest commit: %w", err)
	}
	r.Log.WithFields(logrus.Fields{"branch": branch, "commit": c.ID.String()}).Info("created commit")
	return c, nil
}

// CreateBranch points a new branch name at the current tip of branch from,
// the same "branch from HEAD" shape every VCS offers.
func (r *Repo) CreateBranch(name, from string) error {
	tip, ok, err := r.Refs.Branch(from)
	if err != nil {
		return fmt.Errorf("muserepo: read branch %s: %w", from, err)
	}
	if !ok {
		return &muserr.UnknownBranch{Branch: from}
	}
	return r.Refs.UpdateBranch(name, tip, nil)
}

// Switch checks out branch into the working tree and repoints HEAD at it.
func (r *Repo) Switch(ctx context.Context, branch string) error {
	tip, ok, err := r.Refs.Branch(branch)
	if err != nil {
		return fmt.Errorf("muserepo: read branch %s: %w", branch, err)
	}
	if !ok {
		return &muserr.UnknownBranch{Branch: branch}
	}
	c, ok, err := r.Backend.GetCommit(ctx, tip)
	if err != nil {
		return fmt.Errorf("muserepo: load commit: %w", err)
	}
	if !ok {
		return &muserr.NotFoundError{Kind: "commit", ID: tip.String()}
	}
	m, ok, err := r.Backend.GetSnapshot(ctx, c.SnapshotID)
	if err != nil {
		return fmt.Errorf("muserepo: load snapshot: %w", err)
	}
	if !ok {
		return &muserr.NotFoundError{Kind: "snapshot", ID: c.SnapshotID.String()}
	}
	if err := worktree.Checkout(ctx, r.WorkRoot, r.ObjStore, m); err != nil {
		return fmt.Errorf("muserepo: checkout: %w", err)
	}
	return r.Refs.SetHeadToBranch(branch)
}

// Merge integrates theirsBranch into the current branch.
func (r *Repo) Merge(ctx context.Context, theirsBranch string, opts mergeengine.Options) (*mergeengine.Result, error) {
	ours, err := r.CurrentBranch()
	if err != nil {
		return nil, err
	}
	if opts.Author == "" {
		opts.Author = r.Config.User.String()
	}
	return mergeengine.Merge(ctx, r.Backend, r.ObjStore, r.Refs, r.MuseDir, r.WorkRoot, r.RepoID, ours, theirsBranch, opts)
}

// MergeContinue resumes an in-progress merge after conflicts are resolved.
func (r *Repo) MergeContinue(ctx context.Context, author string) (*mergeengine.Result, error) {
	ours, err := r.CurrentBranch()
	if err != nil {
		return nil, err
	}
	if author == "" {
		author = r.Config.User.String()
	}
	return mergeengine.Continue(ctx, r.Backend, r.ObjStore, r.Refs, r.MuseDir, r.WorkRoot, r.RepoID, ours, author)
}

// MergeAbort unwinds an in-progress merge, restoring the working tree.
func (r *Repo) MergeAbort(ctx context.Context) error {
	return mergeengine.Abort(ctx, r.Backend, r.ObjStore, r.MuseDir, r.WorkRoot)
}

// Rebase replays the current branch's commits onto upstreamBranch.
func (r *Repo) Rebase(ctx context.Context, upstreamBranch string, autosquash bool, author string) (*rebaseengine.Result, error) {
	branch, err := r.CurrentBranch()
	if err != nil {
		return nil, err
	}
	if author == "" {
		author = r.Config.User.String()
	}
	head, ok, err := r.Refs.Branch(branch)
	if err != nil {
		return nil, fmt.Errorf("muserepo: read branch %s: %w", branch, err)
	}
	if !ok {
		return nil, &muserr.UnknownBranch{Branch: branch}
	}
	upstream, ok, err := r.Refs.Branch(upstreamBranch)
	if err != nil {
		return nil, fmt.Errorf("muserepo: read branch %s: %w", upstreamBranch, err)
	}
	if !ok {
		return nil, &muserr.UnknownBranch{Branch: upstreamBranch}
	}

	plan, base, err := rebaseengine.BuildPlan(ctx, r.Backend, head, upstream)
	if err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		return nil, muserr.ErrNothingToRebase
	}
	if autosquash {
		plan = rebaseengine.ApplyAutosquash(plan)
	}
	return rebaseengine.Rebase(ctx, r.Backend, r.Refs, r.MuseDir, r.RepoID, branch, head, base, upstream, plan, author)
}

// RebaseContinue resumes an in-progress rebase with a resolved manifest
// built fresh from the working tree.
func (r *Repo) RebaseContinue(ctx context.Context, author string) (*rebaseengine.Result, error) {
	if author == "" {
		author = r.Config.User.String()
	}
	resolved, err := worktree.BuildFromTree(ctx, r.WorkRoot, r.ObjStore)
	if err != nil {
		return nil, fmt.Errorf("muserepo: build resolved snapshot: %w", err)
	}
	return rebaseengine.Continue(ctx, r.Backend, r.Refs, r.MuseDir, r.RepoID, resolved, author)
}

// RebaseAbort unwinds an in-progress rebase, restoring the original branch
// tip.
func (r *Repo) RebaseAbort() error {
	branch, err := r.CurrentBranch()
	if err != nil {
		return err
	}
	return rebaseengine.Abort(r.Refs, r.MuseDir, branch)
}

// MergeResolve writes the chosen side's bytes for path into the working
// tree and marks it resolved in MergeState, the engine-level half of a
// `muse resolve <path> --ours/--theirs` command.
func (r *Repo) MergeResolve(ctx context.Context, path string, theirs bool) error {
	state, ok, err := mergeengine.ReadState(r.MuseDir)
	if err != nil {
		return err
	}
	if !ok {
		return muserr.ErrNoMergeInProgress
	}
	commitID := state.OursCommit
	if theirs {
		commitID = state.TheirsCommit
	}
	c, ok, err := r.Backend.GetCommit(ctx, commitID)
	if err != nil {
		return fmt.Errorf("muserepo: load commit: %w", err)
	}
	if !ok {
		return &muserr.NotFoundError{Kind: "commit", ID: commitID.String()}
	}
	m, ok, err := r.Backend.GetSnapshot(ctx, c.SnapshotID)
	if err != nil {
		return fmt.Errorf("muserepo: load snapshot: %w", err)
	}
	if !ok {
		return &muserr.NotFoundError{Kind: "snapshot", ID: c.SnapshotID.String()}
	}
	if err := worktree.CheckoutPaths(ctx, r.WorkRoot, r.ObjStore, m, []string{path}); err != nil {
		return fmt.Errorf("muserepo: write resolved path: %w", err)
	}
	return mergeengine.ResolvePath(r.MuseDir, path)
}

// Divergence reports how branchA and branchB have diverged musically.
func (r *Repo) Divergence(ctx context.Context, branchA, branchB string, opts divergence.Options) (*divergence.Result, error) {
	return divergence.Compute(ctx, r.Backend, r.Refs, r.RepoID, branchA, branchB, opts)
}

// Find searches commit history against q.
func (r *Repo) Find(ctx context.Context, q findengine.Query) (*findengine.Results, error) {
	if q.Limit <= 0 {
		q.Limit = r.Config.FindLimit
	}
	return findengine.Search(ctx, r.Backend, r.RepoID, q)
}

// MergeState returns the in-progress MergeState, if any.
func (r *Repo) MergeState() (*mergeengine.State, bool, error) {
	return mergeengine.ReadState(r.MuseDir)
}

// RebaseState returns the in-progress RebaseState, if any.
func (r *Repo) RebaseState() (*rebaseengine.State, bool, error) {
	return rebaseengine.ReadState(r.MuseDir)
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (r *Repo) IsAncestor(ctx context.Context, ancestor, descendant hash.Hash) (bool, error) {
	return dag.IsAncestor(ctx, r.Backend, ancestor, descendant)
}
