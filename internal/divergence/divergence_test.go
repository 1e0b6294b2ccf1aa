package divergence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/museup/muse/internal/muserr"
	"github.com/museup/muse/internal/store"
	"github.com/museup/muse/modules/hash"
	"github.com/museup/muse/modules/manifest"
	"github.com/museup/muse/modules/museobj"
	"github.com/museup/muse/modules/objstore"
)

type fakeRefs struct {
	branches map[string]hash.Hash
}

func (f *fakeRefs) Branch(branch string) (hash.Hash, bool, error) {
	id, ok := f.branches[branch]
	return id, ok, nil
}

type harness struct {
	backend  store.Backend
	objStore objstore.Store
	refs     *fakeRefs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		backend:  store.NewMemory(),
		objStore: objstore.NewLocalStore(t.TempDir(), false),
		refs:     &fakeRefs{branches: make(map[string]hash.Hash)},
	}
}

func (h *harness) commit(t *testing.T, repoID, branch string, parents []hash.Hash, files map[string]string, message string) *museobj.Commit {
	t.Helper()
	ctx := context.Background()
	m := manifest.New()
	for path, content := range files {
		id, err := h.objStore.PutBytes(ctx, []byte(content))
		require.NoError(t, err)
		m.Set(path, id)
	}
	snapID := manifest.ComputeSnapshotID(m)
	require.NoError(t, h.backend.PutSnapshot(ctx, snapID, m))
	c := museobj.New(repoID, branch, parents, snapID, message, "river@example.com", time.Now())
	require.NoError(t, h.backend.PutCommit(ctx, c))
	h.refs.branches[branch] = c.ID
	return c
}

func TestClassifyPathMatchesMultipleDimensions(t *testing.T) {
	dims := ClassifyPath("vocal_melody_chorus.mid")
	require.True(t, dims["melodic"])
	require.True(t, dims["structural"])
	require.Len(t, dims, 2)
}

func TestClassifyPathUnclassified(t *testing.T) {
	dims := ClassifyPath("notes.txt")
	require.Empty(t, dims)
}

func TestScoreToLevelThresholds(t *testing.T) {
	require.Equal(t, LevelNone, ScoreToLevel(0.0))
	require.Equal(t, LevelNone, ScoreToLevel(0.1499))
	require.Equal(t, LevelLow, ScoreToLevel(0.15))
	require.Equal(t, LevelLow, ScoreToLevel(0.3999))
	require.Equal(t, LevelMed, ScoreToLevel(0.40))
	require.Equal(t, LevelMed, ScoreToLevel(0.6999))
	require.Equal(t, LevelHigh, ScoreToLevel(0.70))
	require.Equal(t, LevelHigh, ScoreToLevel(1.0))
}

// Loosely tracks spec §8 S5: two branches diverge from a shared base, one
// rewriting melody/lead files, the other rewriting mix/master files.
func TestComputeHighMelodicAndDynamicDivergence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	base := h.commit(t, "repo", "main", nil, map[string]string{
		"lead_melody.mid": "m1",
		"mix_master.mid":  "x1",
		"beat.mid":         "b1",
	}, "base")

	a := h.commit(t, "repo", "guitar", []hash.Hash{base.ID}, map[string]string{
		"lead_melody.mid": "m2",
		"vocal_solo.mid":  "s1",
		"mix_master.mid":  "x1",
		"beat.mid":         "b1",
	}, "a")

	b := h.commit(t, "repo", "piano", []hash.Hash{base.ID}, map[string]string{
		"lead_melody.mid": "m1",
		"mix_master.mid":  "x2",
		"beat.mid":         "b2",
	}, "b")

	result, err := Compute(ctx, h.backend, h.refs, "repo", "guitar", "piano", Options{})
	require.NoError(t, err)
	require.True(t, result.HasAncestor)
	require.Equal(t, base.ID, result.CommonAncestor)

	byDim := make(map[string]DimensionDivergence)
	for _, d := range result.Dimensions {
		byDim[d.Dimension] = d
	}

	// guitar changed lead_melody.mid + vocal_solo.mid; piano changed nothing
	// melodic -> symmetric diff is both paths over a union of 2 -> 1.0
	require.InDelta(t, 1.0, byDim["melodic"].Score, 1e-9)
	require.Equal(t, LevelHigh, byDim["melodic"].Level)

	// guitar changed nothing dynamic (mix_master.mid untouched); piano
	// changed mix_master.mid -> union size 1, symmetric diff 1 -> 1.0
	require.InDelta(t, 1.0, byDim["dynamic"].Score, 1e-9)

	// rhythmic: only piano touched beat.mid -> union 1, sym diff 1 -> 1.0
	require.InDelta(t, 1.0, byDim["rhythmic"].Score, 1e-9)

	require.Equal(t, a.ID, mustBranchHead(h, "guitar"))
	require.Equal(t, b.ID, mustBranchHead(h, "piano"))
}

func TestComputeNoChangesScoresZero(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	base := h.commit(t, "repo", "main", nil, map[string]string{"lead_melody.mid": "m1"}, "base")
	h.commit(t, "repo", "a", []hash.Hash{base.ID}, map[string]string{"lead_melody.mid": "m1"}, "a")
	h.commit(t, "repo", "b", []hash.Hash{base.ID}, map[string]string{"lead_melody.mid": "m1"}, "b")

	result, err := Compute(ctx, h.backend, h.refs, "repo", "a", "b", Options{})
	require.NoError(t, err)
	require.InDelta(t, 0.0, result.OverallScore, 1e-9)
	for _, d := range result.Dimensions {
		require.Equal(t, LevelNone, d.Level)
	}
}

func TestComputeRestrictsToRequestedDimensions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	base := h.commit(t, "repo", "main", nil, map[string]string{"lead_melody.mid": "m1"}, "base")
	h.commit(t, "repo", "a", []hash.Hash{base.ID}, map[string]string{"lead_melody.mid": "m2"}, "a")
	h.commit(t, "repo", "b", []hash.Hash{base.ID}, map[string]string{"lead_melody.mid": "m1"}, "b")

	result, err := Compute(ctx, h.backend, h.refs, "repo", "a", "b", Options{Dimensions: []string{"harmonic"}})
	require.NoError(t, err)
	require.Len(t, result.Dimensions, 1)
	require.Equal(t, "harmonic", result.Dimensions[0].Dimension)
}

func TestComputeUnknownBranch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.commit(t, "repo", "main", nil, map[string]string{"a.mid": "1"}, "c1")

	_, err := Compute(ctx, h.backend, h.refs, "repo", "main", "nope", Options{})
	var unk *muserr.UnknownBranch
	require.ErrorAs(t, err, &unk)
}

func TestComputeDisjointHistoriesTreatsBaseAsEmpty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.commit(t, "repo", "a", nil, map[string]string{"lead_melody.mid": "m1"}, "a-root")
	h.commit(t, "repo", "b", nil, map[string]string{"mix_master.mid": "x1"}, "b-root")

	result, err := Compute(ctx, h.backend, h.refs, "repo", "a", "b", Options{})
	require.NoError(t, err)
	require.False(t, result.HasAncestor)

	byDim := make(map[string]DimensionDivergence)
	for _, d := range result.Dimensions {
		byDim[d.Dimension] = d
	}
	require.InDelta(t, 1.0, byDim["melodic"].Score, 1e-9)
	require.InDelta(t, 1.0, byDim["dynamic"].Score, 1e-9)
}

func mustBranchHead(h *harness, branch string) hash.Hash {
	id, _, _ := h.refs.Branch(branch)
	return id
}
