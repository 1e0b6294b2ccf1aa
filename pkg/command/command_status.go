package command

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/museup/muse/internal/muserepo"
	"github.com/museup/muse/modules/hash"
)

// Status implements `muse status`: current branch, HEAD commit, tracked
// snapshot size, and whether a merge or rebase is currently in progress —
// the in-progress state a user needs before deciding whether to run
// --continue or --abort.
type Status struct{}

func (c *Status) Run(g *Globals) error {
	r, err := openRepo(g)
	if err != nil {
		diev("%v", err)
		return err
	}
	ctx := context.Background()
	branch, detached, isDetached, err := r.Refs.Head()
	if err != nil {
		diev("status: %v", err)
		return err
	}
	tip := detached
	if isDetached {
		fmt.Printf("HEAD detached at %s\n", shortID(detached))
	} else {
		fmt.Printf("On branch %s\n", branch)
		var ok bool
		if tip, ok, err = r.Refs.Branch(branch); err == nil && ok {
			fmt.Printf("HEAD is at %s\n", shortID(tip))
		} else {
			fmt.Println("No commits yet")
		}
	}

	if !tip.IsZero() {
		if size, ok := snapshotSize(ctx, r, tip); ok {
			fmt.Printf("Tracked snapshot: %s\n", humanize.Bytes(uint64(size)))
		}
	}

	if state, ok, err := r.MergeState(); err == nil && ok {
		fmt.Printf("Merge in progress; %d conflicted path(s) remaining.\n", len(state.ConflictPaths))
	}
	if state, ok, err := r.RebaseState(); err == nil && ok {
		fmt.Printf("Rebase in progress; %d commit(s) left to replay.\n", len(state.CommitsToReplay))
	}
	return nil
}

// snapshotSize sums the on-disk size of every blob the commit's snapshot
// tracks, the number humanize.Bytes renders on the status line above.
// Errors are swallowed to ok=false: a size we can't compute (a blob missing
// from a partial local object store, say) shouldn't block status from
// reporting everything else it knows.
func snapshotSize(ctx context.Context, r *muserepo.Repo, commitID hash.Hash) (int64, bool) {
	c, ok, err := r.Backend.GetCommit(ctx, commitID)
	if err != nil || !ok {
		return 0, false
	}
	m, ok, err := r.Backend.GetSnapshot(ctx, c.SnapshotID)
	if err != nil || !ok {
		return 0, false
	}
	var total int64
	var sizeErr error
	m.Each(func(path string, id hash.Hash) {
		if sizeErr != nil {
			return
		}
		n, err := r.ObjStore.Size(ctx, id)
		if err != nil {
			sizeErr = err
			return
		}
		total += n
	})
	if sizeErr != nil {
		return 0, false
	}
	return total, true
}
