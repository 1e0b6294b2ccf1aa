package dag

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/museup/muse/internal/store"
	"github.com/museup/muse/modules/hash"
	"github.com/museup/muse/modules/manifest"
	"github.com/museup/muse/modules/museobj"
)

func commitAt(t *testing.T, backend store.Backend, repoID, branch string, parents []hash.Hash, content string, when time.Time) *museobj.Commit {
	t.Helper()
	ctx := context.Background()
	snap := manifest.New()
	snap.Set("track.mid", hash.Sum([]byte(content)))
	snapID := manifest.ComputeSnapshotID(snap)
	require.NoError(t, backend.PutSnapshot(ctx, snapID, snap))
	c := museobj.New(repoID, branch, parents, snapID, content, "river@example.com", when)
	require.NoError(t, backend.PutCommit(ctx, c))
	return c
}

// buildLine: c1 -> c2 -> c3 on main
func TestLCALinearIsAncestor(t *testing.T) {
	backend := store.NewMemory()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c1 := commitAt(t, backend, "repo", "main", nil, "v1", base)
	c2 := commitAt(t, backend, "repo", "main", []hash.Hash{c1.ID}, "v2", base.Add(time.Minute))
	c3 := commitAt(t, backend, "repo", "main", []hash.Hash{c2.ID}, "v3", base.Add(2*time.Minute))

	lca, ok, err := LCA(context.Background(), backend, c3.ID, c1.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, c1.ID, lca, "c1 is an ancestor of c3, so it is its own LCA with c3")

	isAnc, err := IsAncestor(context.Background(), backend, c1.ID, c3.ID)
	require.NoError(t, err)
	require.True(t, isAnc)
}

// Diverging history: c1 -> c2 (main), c1 -> c3 (exp)
func TestLCADiverged(t *testing.T) {
	backend := store.NewMemory()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c1 := commitAt(t, backend, "repo", "main", nil, "base", base)
	c2 := commitAt(t, backend, "repo", "main", []hash.Hash{c1.ID}, "main-change", base.Add(time.Minute))
	c3 := commitAt(t, backend, "repo", "exp", []hash.Hash{c1.ID}, "exp-change", base.Add(2*time.Minute))

	lca, ok, err := LCA(context.Background(), backend, c2.ID, c3.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, c1.ID, lca)
}

func TestCommitsBetweenFirstParentOnly(t *testing.T) {
	backend := store.NewMemory()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c1 := commitAt(t, backend, "repo", "main", nil, "c1", base)
	c2 := commitAt(t, backend, "repo", "main", []hash.Hash{c1.ID}, "c2", base.Add(time.Minute))
	c3 := commitAt(t, backend, "repo", "main", []hash.Hash{c2.ID}, "c3", base.Add(2*time.Minute))

	between, err := CommitsBetween(context.Background(), backend, c3.ID, c1.ID)
	require.NoError(t, err)
	require.Len(t, between, 2)
	require.Equal(t, c2.ID, between[0].ID, "oldest first")
	require.Equal(t, c3.ID, between[1].ID)
}

func TestLCANoCommonAncestor(t *testing.T) {
	backend := store.NewMemory()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c1 := commitAt(t, backend, "repo-a", "main", nil, "a-root", base)
	c2 := commitAt(t, backend, "repo-b", "main", nil, "b-root", base)

	_, ok, err := LCA(context.Background(), backend, c1.ID, c2.ID)
	require.NoError(t, err)
	require.False(t, ok)
}
