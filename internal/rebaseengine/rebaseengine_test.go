package rebaseengine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/museup/muse/internal/muserr"
	"github.com/museup/muse/internal/store"
	"github.com/museup/muse/modules/hash"
	"github.com/museup/muse/modules/manifest"
	"github.com/museup/muse/modules/museobj"
	"github.com/museup/muse/modules/refs"
)

type harness struct {
	backend  store.Backend
	refStore *refs.Store
	museDir  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	museDir := filepath.Join(t.TempDir(), ".muse")
	return &harness{
		backend:  store.NewMemory(),
		refStore: refs.NewStore(museDir),
		museDir:  museDir,
	}
}

func (h *harness) commit(t *testing.T, repoID, branch string, parent hash.Hash, hasParent bool, files map[string]hash.Hash, message string) *museobj.Commit {
	t.Helper()
	ctx := context.Background()
	m := manifest.New()
	for path, id := range files {
		m.Set(path, id)
	}
	snapID := manifest.ComputeSnapshotID(m)
	require.NoError(t, h.backend.PutSnapshot(ctx, snapID, m))
	var parents []hash.Hash
	if hasParent {
		parents = []hash.Hash{parent}
	}
	c := museobj.New(repoID, branch, parents, snapID, message, "river@example.com", time.Now())
	require.NoError(t, h.backend.PutCommit(ctx, c))
	return c
}

func blob(b byte) hash.Hash {
	var id hash.Hash
	id[0] = b
	return id
}

func TestBuildPlanOrdersOldestFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	base := h.commit(t, "repo", "main", hash.Zero, false, map[string]hash.Hash{"a.mid": blob(1)}, "base")
	require.NoError(t, h.refStore.UpdateBranch("main", base.ID, nil))
	require.NoError(t, h.refStore.UpdateBranch("dev", base.ID, nil))

	c1 := h.commit(t, "repo", "dev", base.ID, true, map[string]hash.Hash{"a.mid": blob(1), "b.mid": blob(2)}, "add b")
	require.NoError(t, h.refStore.UpdateBranch("dev", c1.ID, &base.ID))
	c2 := h.commit(t, "repo", "dev", c1.ID, true, map[string]hash.Hash{"a.mid": blob(1), "b.mid": blob(3)}, "tweak b")
	require.NoError(t, h.refStore.UpdateBranch("dev", c2.ID, &c1.ID))

	main2 := h.commit(t, "repo", "main", base.ID, true, map[string]hash.Hash{"a.mid": blob(9), "c.mid": blob(4)}, "main moves on")
	require.NoError(t, h.refStore.UpdateBranch("main", main2.ID, &base.ID))

	plan, lca, err := BuildPlan(ctx, h.backend, c2.ID, main2.ID)
	require.NoError(t, err)
	require.Equal(t, base.ID, lca)
	require.Len(t, plan, 2)
	require.Equal(t, c1.ID, plan[0].CommitID)
	require.Equal(t, c2.ID, plan[1].CommitID)
	for _, step := range plan {
		require.Equal(t, ActionPick, step.Action)
	}
}

func TestApplyAutosquashReordersAndMarksFixup(t *testing.T) {
	plan := []PlanStep{
		{Action: ActionPick, CommitID: blob(1), Message: "add drum loop"},
		{Action: ActionPick, CommitID: blob(2), Message: "add bassline"},
		{Action: ActionPick, CommitID: blob(3), Message: "fixup! add drum loop"},
		{Action: ActionPick, CommitID: blob(4), Message: "fixup! nothing matches this"},
	}
	out := ApplyAutosquash(plan)
	require.Len(t, out, 4)
	require.Equal(t, blob(1), out[0].CommitID)
	require.Equal(t, blob(3), out[1].CommitID, "fixup targeting commit 1 moves right after it")
	require.Equal(t, ActionFixup, out[1].Action)
	require.Equal(t, blob(2), out[2].CommitID)
	require.Equal(t, blob(4), out[3].CommitID, "unmatched fixup moves to the end")
}

func TestApplyAutosquashChainedFixupFallsThroughToEnd(t *testing.T) {
	plan := []PlanStep{
		{Action: ActionPick, CommitID: blob(1), Message: "add drum loop"},
		{Action: ActionPick, CommitID: blob(2), Message: "fixup! add drum loop"},
		{Action: ActionPick, CommitID: blob(3), Message: "fixup! fixup! add drum loop"},
	}
	out := ApplyAutosquash(plan)
	require.Len(t, out, 3, "a fixup chained onto another fixup must never be dropped from the plan")
	require.Equal(t, blob(1), out[0].CommitID)
	require.Equal(t, blob(2), out[1].CommitID, "fixup targeting commit 1 moves right after it")
	require.Equal(t, ActionFixup, out[1].Action)
	require.Equal(t, blob(3), out[2].CommitID, "fixup whose target is itself a fixup has no non-fixup target, so it falls to the end")
	require.Equal(t, ActionFixup, out[2].Action)
}

func TestParsePlanTextIgnoresCommentsAndBlankLines(t *testing.T) {
	original := []PlanStep{
		{Action: ActionPick, CommitID: blob(1), Message: "m1"},
		{Action: ActionPick, CommitID: blob(2), Message: "m2"},
	}
	text := "pick " + blob(1).String() + " m1\n\n# a comment\nreword " + blob(2).String() + " new message\n"
	out, err := ParsePlanText(text, original)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, ActionPick, out[0].Action)
	require.Equal(t, ActionReword, out[1].Action)
	require.Equal(t, "new message", out[1].NewMessage)
}

func TestParsePlanTextRejectsUnknownAction(t *testing.T) {
	original := []PlanStep{{Action: ActionPick, CommitID: blob(1), Message: "m1"}}
	_, err := ParsePlanText("bogus "+blob(1).String()+" m1", original)
	require.Error(t, err)
}

func TestRebaseReplaysOntoNewBase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	base := h.commit(t, "repo", "main", hash.Zero, false, map[string]hash.Hash{"a.mid": blob(1)}, "base")
	require.NoError(t, h.refStore.UpdateBranch("main", base.ID, nil))
	require.NoError(t, h.refStore.UpdateBranch("dev", base.ID, nil))

	c1 := h.commit(t, "repo", "dev", base.ID, true, map[string]hash.Hash{"a.mid": blob(1), "b.mid": blob(2)}, "add b")
	require.NoError(t, h.refStore.UpdateBranch("dev", c1.ID, &base.ID))

	main2 := h.commit(t, "repo", "main", base.ID, true, map[string]hash.Hash{"a.mid": blob(1), "c.mid": blob(9)}, "main adds c")
	require.NoError(t, h.refStore.UpdateBranch("main", main2.ID, &base.ID))

	plan, lca, err := BuildPlan(ctx, h.backend, c1.ID, main2.ID)
	require.NoError(t, err)

	result, err := Rebase(ctx, h.backend, h.refStore, h.museDir, "repo", "dev", c1.ID, lca, main2.ID, plan, "river@example.com")
	require.NoError(t, err)
	require.Len(t, result.Pairs, 1)
	require.Equal(t, c1.ID, result.Pairs[0].OriginalID)

	newCommit, ok, err := h.backend.GetCommit(ctx, result.NewHead)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []hash.Hash{main2.ID}, newCommit.ParentIDs)

	snap, ok, err := h.backend.GetSnapshot(ctx, newCommit.SnapshotID)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok = snap.Get("c.mid")
	require.True(t, ok, "onto's own change carries forward")
	_, ok = snap.Get("b.mid")
	require.True(t, ok, "replayed commit's change is present")

	tip, ok, err := h.refStore.Branch("dev")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, result.NewHead, tip)
}

func TestRebaseDetectsConflictAndPersistsState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	base := h.commit(t, "repo", "main", hash.Zero, false, map[string]hash.Hash{"a.mid": blob(1)}, "base")
	require.NoError(t, h.refStore.UpdateBranch("main", base.ID, nil))
	require.NoError(t, h.refStore.UpdateBranch("dev", base.ID, nil))

	c1 := h.commit(t, "repo", "dev", base.ID, true, map[string]hash.Hash{"a.mid": blob(7)}, "dev changes a")
	require.NoError(t, h.refStore.UpdateBranch("dev", c1.ID, &base.ID))

	main2 := h.commit(t, "repo", "main", base.ID, true, map[string]hash.Hash{"a.mid": blob(8)}, "main changes a differently")
	require.NoError(t, h.refStore.UpdateBranch("main", main2.ID, &base.ID))

	plan, lca, err := BuildPlan(ctx, h.backend, c1.ID, main2.ID)
	require.NoError(t, err)

	_, err = Rebase(ctx, h.backend, h.refStore, h.museDir, "repo", "dev", c1.ID, lca, main2.ID, plan, "river@example.com")
	require.Error(t, err)
	var conflict *muserr.RebaseConflict
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, []string{"a.mid"}, conflict.Paths)

	state, ok, err := ReadState(h.museDir)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, main2.ID, state.UpstreamCommit)
	require.Equal(t, base.ID, state.BaseCommit)
	require.Equal(t, c1.ID, state.CurrentCommit)
	require.Len(t, state.CommitsToReplay, 1)

	require.NoError(t, Abort(h.refStore, h.museDir, "dev"))
	tip, ok, err := h.refStore.Branch("dev")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, c1.ID, tip, "abort restores the original branch tip")

	_, ok, err = ReadState(h.museDir)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRebaseSquashFoldsIntoLeader(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	base := h.commit(t, "repo", "main", hash.Zero, false, map[string]hash.Hash{"a.mid": blob(1)}, "base")
	require.NoError(t, h.refStore.UpdateBranch("main", base.ID, nil))
	require.NoError(t, h.refStore.UpdateBranch("dev", base.ID, nil))

	c1 := h.commit(t, "repo", "dev", base.ID, true, map[string]hash.Hash{"a.mid": blob(1), "b.mid": blob(2)}, "add b")
	require.NoError(t, h.refStore.UpdateBranch("dev", c1.ID, &base.ID))
	c2 := h.commit(t, "repo", "dev", c1.ID, true, map[string]hash.Hash{"a.mid": blob(1), "b.mid": blob(3)}, "tweak b")
	require.NoError(t, h.refStore.UpdateBranch("dev", c2.ID, &c1.ID))

	plan := []PlanStep{
		{Action: ActionPick, CommitID: c1.ID, Message: "add b"},
		{Action: ActionSquash, CommitID: c2.ID, Message: "tweak b"},
	}

	result, err := Rebase(ctx, h.backend, h.refStore, h.museDir, "repo", "dev", c2.ID, base.ID, base.ID, plan, "river@example.com")
	require.NoError(t, err)
	require.Len(t, result.Pairs, 1, "squash group produces a single commit")

	newCommit, ok, err := h.backend.GetCommit(ctx, result.NewHead)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "add b\n\ntweak b", newCommit.Message)

	snap, ok, err := h.backend.GetSnapshot(ctx, newCommit.SnapshotID)
	require.NoError(t, err)
	require.True(t, ok)
	id, ok := snap.Get("b.mid")
	require.True(t, ok)
	require.Equal(t, blob(3), id, "squash keeps the final accumulated content")
}

func TestRebaseDropSkipsCommit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	base := h.commit(t, "repo", "main", hash.Zero, false, map[string]hash.Hash{"a.mid": blob(1)}, "base")
	require.NoError(t, h.refStore.UpdateBranch("main", base.ID, nil))
	require.NoError(t, h.refStore.UpdateBranch("dev", base.ID, nil))

	c1 := h.commit(t, "repo", "dev", base.ID, true, map[string]hash.Hash{"a.mid": blob(1), "b.mid": blob(2)}, "keep me")
	require.NoError(t, h.refStore.UpdateBranch("dev", c1.ID, &base.ID))
	c2 := h.commit(t, "repo", "dev", c1.ID, true, map[string]hash.Hash{"a.mid": blob(1), "b.mid": blob(2), "c.mid": blob(5)}, "drop me")
	require.NoError(t, h.refStore.UpdateBranch("dev", c2.ID, &c1.ID))

	plan := []PlanStep{
		{Action: ActionPick, CommitID: c1.ID, Message: "keep me"},
		{Action: ActionDrop, CommitID: c2.ID, Message: "drop me"},
	}

	result, err := Rebase(ctx, h.backend, h.refStore, h.museDir, "repo", "dev", c2.ID, base.ID, base.ID, plan, "river@example.com")
	require.NoError(t, err)
	require.Len(t, result.Pairs, 1)

	newCommit, ok, err := h.backend.GetCommit(ctx, result.NewHead)
	require.NoError(t, err)
	require.True(t, ok)
	snap, ok, err := h.backend.GetSnapshot(ctx, newCommit.SnapshotID)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok = snap.Get("c.mid")
	require.False(t, ok, "dropped commit's change must not appear")
}

func TestRebaseWhileInProgressFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	base := h.commit(t, "repo", "main", hash.Zero, false, map[string]hash.Hash{"a.mid": blob(1)}, "base")
	require.NoError(t, h.refStore.UpdateBranch("main", base.ID, nil))
	require.NoError(t, h.refStore.UpdateBranch("dev", base.ID, nil))
	c1 := h.commit(t, "repo", "dev", base.ID, true, map[string]hash.Hash{"a.mid": blob(7)}, "dev changes a")
	require.NoError(t, h.refStore.UpdateBranch("dev", c1.ID, &base.ID))
	main2 := h.commit(t, "repo", "main", base.ID, true, map[string]hash.Hash{"a.mid": blob(8)}, "main changes a differently")
	require.NoError(t, h.refStore.UpdateBranch("main", main2.ID, &base.ID))

	plan, lca, err := BuildPlan(ctx, h.backend, c1.ID, main2.ID)
	require.NoError(t, err)
	_, err = Rebase(ctx, h.backend, h.refStore, h.museDir, "repo", "dev", c1.ID, lca, main2.ID, plan, "a")
	require.Error(t, err)

	_, err = Rebase(ctx, h.backend, h.refStore, h.museDir, "repo", "dev", c1.ID, lca, main2.ID, plan, "a")
	require.ErrorIs(t, err, muserr.ErrRebaseInProgress)
}
