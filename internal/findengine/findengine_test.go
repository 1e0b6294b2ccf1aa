package findengine

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

func strp(s string) *string { return &s }

func seedCommit(t *testing.T, backend store.Backend, repoID, branch, message string, committedAt time.Time, parents []hash.Hash) *museobj.Commit {
	t.Helper()
	ctx := context.Background()
	m := manifest.New()
	snapID := manifest.ComputeSnapshotID(m)
	require.NoError(t, backend.PutSnapshot(ctx, snapID, m))
	c := museobj.New(repoID, branch, parents, snapID, message, "river@example.com", committedAt)
	require.NoError(t, backend.PutCommit(ctx, c))
	return c
}

func TestParsePropertyFilterRecognisesRange(t *testing.T) {
	key, low, high, ok := parsePropertyFilter("tempo=120-130")
	require.True(t, ok)
	require.Equal(t, "tempo", key)
	require.Equal(t, 120.0, low)
	require.Equal(t, 130.0, high)
}

func TestParsePropertyFilterRejectsPlainEquality(t *testing.T) {
	_, _, _, ok := parsePropertyFilter("key=Eb")
	require.False(t, ok)
}

func TestExtractNumericValue(t *testing.T) {
	v, ok := extractNumericValue("tempo=125 bpm", "tempo")
	require.True(t, ok)
	require.Equal(t, 125.0, v)

	v, ok = extractNumericValue("swing=0.72", "swing")
	require.True(t, ok)
	require.Equal(t, 0.72, v)

	_, ok = extractNumericValue("no numbers here", "tempo")
	require.False(t, ok)
}

func TestMatchesPropertyPlainTextCaseInsensitive(t *testing.T) {
	require.True(t, matchesProperty("Key=Eb major groove", "key=eb"))
	require.False(t, matchesProperty("Key=Eb major groove", "key=g"))
}

func TestMatchesPropertyRange(t *testing.T) {
	require.True(t, matchesProperty("tempo=125 bpm, swing feel", "tempo=120-130"))
	require.False(t, matchesProperty("tempo=140 bpm", "tempo=120-130"))
	require.False(t, matchesProperty("no tempo mentioned", "tempo=120-130"))
}

// Loosely tracks spec §8 S6: a range filter over a numeric property embedded
// in commit messages.
func TestSearchRangeFilterAndOrdering(t *testing.T) {
	backend := store.NewMemory()
	ctx := context.Background()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c1 := seedCommit(t, backend, "repo", "main", "tempo=100 steady groove", t0, nil)
	c2 := seedCommit(t, backend, "repo", "main", "tempo=125 driving energy", t0.Add(time.Hour), []hash.Hash{c1.ID})
	c3 := seedCommit(t, backend, "repo", "main", "tempo=128, key=Eb bridge", t0.Add(2*time.Hour), []hash.Hash{c2.ID})

	results, err := Search(ctx, backend, "repo", Query{Rhythm: strp("tempo=120-130")})
	require.NoError(t, err)
	require.Equal(t, 3, results.TotalScanned)
	require.Len(t, results.Matches, 2)
	// newest first
	require.Equal(t, c3.ID, results.Matches[0].CommitID)
	require.Equal(t, c2.ID, results.Matches[1].CommitID)
}

func TestSearchPlainTextFilterIsPushedAsPredicate(t *testing.T) {
	backend := store.NewMemory()
	ctx := context.Background()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c1 := seedCommit(t, backend, "repo", "main", "key=Eb verse chords", t0, nil)
	seedCommit(t, backend, "repo", "main", "key=G chorus chords", t0.Add(time.Hour), []hash.Hash{c1.ID})

	results, err := Search(ctx, backend, "repo", Query{Harmony: strp("key=Eb")})
	require.NoError(t, err)
	require.Len(t, results.Matches, 1)
	require.Equal(t, c1.ID, results.Matches[0].CommitID)
}

func TestSearchCombinesFiltersWithAND(t *testing.T) {
	backend := store.NewMemory()
	ctx := context.Background()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c1 := seedCommit(t, backend, "repo", "main", "key=Eb tempo=125 groove", t0, nil)
	seedCommit(t, backend, "repo", "main", "key=Eb tempo=90 ballad", t0.Add(time.Hour), []hash.Hash{c1.ID})
	seedCommit(t, backend, "repo", "main", "key=G tempo=125 groove", t0.Add(2*time.Hour), []hash.Hash{c1.ID})

	results, err := Search(ctx, backend, "repo", Query{
		Harmony: strp("key=Eb"),
		Rhythm:  strp("tempo=120-130"),
	})
	require.NoError(t, err)
	require.Len(t, results.Matches, 1)
	require.Equal(t, c1.ID, results.Matches[0].CommitID)
}

func TestSearchDateRange(t *testing.T) {
	backend := store.NewMemory()
	ctx := context.Background()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedCommit(t, backend, "repo", "main", "early take", t0, nil)
	c2 := seedCommit(t, backend, "repo", "main", "later take", t0.Add(48*time.Hour), nil)
	seedCommit(t, backend, "repo", "main", "much later take", t0.Add(240*time.Hour), nil)

	since := t0.Add(24 * time.Hour)
	until := t0.Add(72 * time.Hour)
	results, err := Search(ctx, backend, "repo", Query{Since: &since, Until: &until})
	require.NoError(t, err)
	require.Len(t, results.Matches, 1)
	require.Equal(t, c2.ID, results.Matches[0].CommitID)
}

func TestSearchLimitCapsResultsButNotTotalScanned(t *testing.T) {
	backend := store.NewMemory()
	ctx := context.Background()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedCommit(t, backend, "repo", "main", "take", t0.Add(time.Duration(i)*time.Hour), nil)
	}

	results, err := Search(ctx, backend, "repo", Query{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 5, results.TotalScanned)
	require.Len(t, results.Matches, 2)
}

func TestSearchDefaultLimitIsTwenty(t *testing.T) {
	backend := store.NewMemory()
	ctx := context.Background()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		seedCommit(t, backend, "repo", "main", "take", t0.Add(time.Duration(i)*time.Hour), nil)
	}

	results, err := Search(ctx, backend, "repo", Query{})
	require.NoError(t, err)
	require.Len(t, results.Matches, 20)
}
