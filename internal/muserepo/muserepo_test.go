package muserepo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/museup/muse/internal/findengine"
	"github.com/museup/muse/internal/mergeengine"
	"github.com/museup/muse/internal/muserr"
	"github.com/museup/muse/internal/store"
	"github.com/museup/muse/internal/telemetry"
	"github.com/museup/muse/modules/objstore"
)

func newRepo(t *testing.T) *Repo {
	t.Helper()
	workRoot := t.TempDir()
	backend := store.NewMemory()
	objStore := objstore.NewLocalStore(filepath.Join(workRoot, MuseDirName, "objects"), false)
	r, err := Init(workRoot, backend, objStore, telemetry.Silent())
	require.NoError(t, err)
	return r
}

func writeFile(t *testing.T, root, path, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(path))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestInitCreatesRepoDescriptorAndHead(t *testing.T) {
	r := newRepo(t)
	require.NotEmpty(t, r.RepoID)
	branch, err := r.CurrentBranch()
	require.NoError(t, err)
	require.Equal(t, "main", branch)
}

func TestDiscoverFindsMuseDirFromNestedPath(t *testing.T) {
	r := newRepo(t)
	nested := filepath.Join(r.WorkRoot, "songs", "verse")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := Discover(nested)
	require.NoError(t, err)
	require.Equal(t, r.WorkRoot, found)
}

func TestDiscoverReturnsNotInRepository(t *testing.T) {
	_, err := Discover(t.TempDir())
	require.ErrorIs(t, err, muserr.ErrNotInRepository)
}

func TestCommitCreatesCommitAndAdvancesBranch(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	writeFile(t, r.WorkRoot, "lead_melody.mid", "v1")

	c, err := r.Commit(ctx, "first take", "River <river@example.com>")
	require.NoError(t, err)
	require.Equal(t, 0, c.NumParents())

	tip, ok, err := r.Refs.Branch("main")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, c.ID, tip)
}

func TestCommitWithNoChangesReturnsNothingToCommit(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	writeFile(t, r.WorkRoot, "beat.mid", "v1")

	_, err := r.Commit(ctx, "first take", "River")
	require.NoError(t, err)

	_, err = r.Commit(ctx, "second take, no changes", "River")
	require.ErrorIs(t, err, muserr.ErrNothingToCommit)
}

func TestCommitChainParentsLinearly(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	writeFile(t, r.WorkRoot, "beat.mid", "v1")
	first, err := r.Commit(ctx, "first take", "River")
	require.NoError(t, err)

	writeFile(t, r.WorkRoot, "beat.mid", "v2")
	second, err := r.Commit(ctx, "second take", "River")
	require.NoError(t, err)

	require.Equal(t, 1, second.NumParents())
	parent, ok := second.FirstParent()
	require.True(t, ok)
	require.Equal(t, first.ID, parent)
}

func TestCreateBranchAndSwitch(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	writeFile(t, r.WorkRoot, "beat.mid", "v1")
	_, err := r.Commit(ctx, "first take", "River")
	require.NoError(t, err)

	require.NoError(t, r.CreateBranch("guitar-idea", "main"))
	require.NoError(t, r.Switch(ctx, "guitar-idea"))

	branch, err := r.CurrentBranch()
	require.NoError(t, err)
	require.Equal(t, "guitar-idea", branch)
}

func TestSwitchUnknownBranch(t *testing.T) {
	r := newRepo(t)
	err := r.Switch(context.Background(), "nope")
	var unknown *muserr.UnknownBranch
	require.ErrorAs(t, err, &unknown)
}

func TestMergeFastForward(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	writeFile(t, r.WorkRoot, "beat.mid", "v1")
	_, err := r.Commit(ctx, "base", "River")
	require.NoError(t, err)
	require.NoError(t, r.CreateBranch("guitar-idea", "main"))
	require.NoError(t, r.Switch(ctx, "guitar-idea"))

	writeFile(t, r.WorkRoot, "lead_melody.mid", "v1")
	_, err = r.Commit(ctx, "add melody", "River")
	require.NoError(t, err)

	require.NoError(t, r.Switch(ctx, "main"))
	result, err := r.Merge(ctx, "guitar-idea", mergeengine.Options{})
	require.NoError(t, err)
	require.True(t, result.FastForward)
}

func TestMergeConflictThenResolveAndContinue(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	writeFile(t, r.WorkRoot, "beat.mid", "V1")
	_, err := r.Commit(ctx, "c1", "River")
	require.NoError(t, err)

	require.NoError(t, r.CreateBranch("exp", "main"))

	writeFile(t, r.WorkRoot, "beat.mid", "V2")
	c2, err := r.Commit(ctx, "c2", "River")
	require.NoError(t, err)

	require.NoError(t, r.Switch(ctx, "exp"))
	writeFile(t, r.WorkRoot, "beat.mid", "V3")
	c3, err := r.Commit(ctx, "c3", "River")
	require.NoError(t, err)

	require.NoError(t, r.Switch(ctx, "main"))
	_, err = r.Merge(ctx, "exp", mergeengine.Options{})
	var conflict *muserr.MergeConflict
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, []string{"beat.mid"}, conflict.Paths)

	state, ok, err := r.MergeState()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, c2.ID, state.OursCommit)
	require.Equal(t, c3.ID, state.TheirsCommit)

	require.NoError(t, r.MergeResolve(ctx, "beat.mid", true))
	got, err := os.ReadFile(filepath.Join(r.WorkRoot, "beat.mid"))
	require.NoError(t, err)
	require.Equal(t, "V3", string(got))

	result, err := r.MergeContinue(ctx, "River")
	require.NoError(t, err)
	require.Len(t, result.NewCommit.ParentIDs, 2)

	_, ok, err = r.MergeState()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRebaseReplaysOntoUpstream(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	writeFile(t, r.WorkRoot, "beat.mid", "V1")
	_, err := r.Commit(ctx, "base", "River")
	require.NoError(t, err)

	require.NoError(t, r.CreateBranch("dev", "main"))

	writeFile(t, r.WorkRoot, "lead_melody.mid", "v1")
	_, err = r.Commit(ctx, "main moves ahead", "River")
	require.NoError(t, err)

	require.NoError(t, r.Switch(ctx, "dev"))
	writeFile(t, r.WorkRoot, "chord_progression.mid", "v1")
	_, err = r.Commit(ctx, "dev work", "River")
	require.NoError(t, err)

	result, err := r.Rebase(ctx, "main", false, "River")
	require.NoError(t, err)
	require.Len(t, result.Pairs, 1)

	tip, ok, err := r.Refs.Branch("dev")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, result.NewHead, tip)
}

func TestFindAppliesDefaultLimitFromConfig(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	writeFile(t, r.WorkRoot, "beat.mid", "v1")
	_, err := r.Commit(ctx, "tempo=120 groove", "River")
	require.NoError(t, err)

	results, err := r.Find(ctx, findengine.Query{})
	require.NoError(t, err)
	require.Equal(t, r.Config.FindLimit, results.Query.Limit)
	require.Len(t, results.Matches, 1)
}
