package command

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/museup/muse/internal/muserr"
	"github.com/museup/muse/modules/hash"
)

type fakeExitError struct{ code int }

func (e *fakeExitError) Error() string { return fmt.Sprintf("fake exit %d", e.code) }
func (e *fakeExitError) ExitCode() int { return e.code }

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"exit coder", &fakeExitError{code: 7}, 7},
		{"not in repository", muserr.ErrNotInRepository, 2},
		{"wrapped not in repository", fmt.Errorf("open: %w", muserr.ErrNotInRepository), 2},
		{"nothing to commit", muserr.ErrNothingToCommit, 1},
		{"already up to date", muserr.ErrAlreadyUpToDate, 1},
		{"disjoint histories", muserr.ErrDisjointHistories, 1},
		{"unknown branch", &muserr.UnknownBranch{Branch: "ghost"}, 1},
		{"merge conflict", &muserr.MergeConflict{Paths: []string{"a.mid"}}, 1},
		{"rebase conflict", &muserr.RebaseConflict{Paths: []string{"b.mid"}}, 1},
		{"unrelated error", errors.New("disk on fire"), 3},
		{"corrupt state", muserr.ErrCorruptState, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ExitCodeFor(tc.err))
		})
	}
}

func TestShortID(t *testing.T) {
	h := hash.Sum([]byte("a melody"))
	got := shortID(h)
	require.Len(t, got, 12)
	require.Equal(t, h.String()[:12], got)
}

func TestFindRequiresAtLeastOneFilter(t *testing.T) {
	require.False(t, (&Find{}).hasFilter())
	require.True(t, (&Find{Harmony: "key=Cmaj"}).hasFilter())
	require.True(t, (&Find{Since: "2026-01-01T00:00:00Z"}).hasFilter())
	require.True(t, (&Find{Until: "2026-01-01T00:00:00Z"}).hasFilter())

	err := (&Find{}).Run(&Globals{})
	require.Error(t, err)
}
