package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/museup/muse/internal/mergeengine"
	"github.com/museup/muse/internal/muserr"
)

// Merge implements `muse merge <branch>` and its --continue/--abort
// resumption pair, mirroring the teacher's Merge command's flag shape minus
// the renaming/conflict-style flags Muse's manifest model doesn't need.
type Merge struct {
	Branch   string `arg:"" optional:"" name:"branch" help:"Branch to merge into the current branch"`
	NoFF     bool   `name:"no-ff" help:"Create a merge commit even when a fast-forward is possible"`
	Squash   bool   `name:"squash" help:"Produce a single-parent commit instead of recording both parents"`
	Ours     bool   `name:"ours" help:"Resolve every conflicting path in favor of the current branch"`
	Theirs   bool   `name:"theirs" help:"Resolve every conflicting path in favor of the merged branch"`
	Author   string `name:"author" help:"Override the configured author" placeholder:"<author>"`
	Continue bool   `name:"continue" help:"Resume a merge after resolving conflicts"`
	Abort    bool   `name:"abort" help:"Abort an in-progress merge and restore the working tree"`
}

func (c *Merge) Run(g *Globals) error {
	r, err := openRepo(g)
	if err != nil {
		diev("%v", err)
		return err
	}
	ctx := context.Background()

	switch {
	case c.Abort:
		if err := r.MergeAbort(ctx); err != nil {
			diev("merge --abort: %v", err)
			return err
		}
		return nil
	case c.Continue:
		result, err := r.MergeContinue(ctx, c.Author)
		if err != nil {
			diev("merge --continue: %v", err)
			return err
		}
		printMergeResult(result)
		return nil
	}

	if c.Branch == "" {
		diev("merge: a branch argument is required")
		return fmt.Errorf("command: merge requires a branch argument")
	}

	opts := mergeengine.Options{NoFF: c.NoFF, Squash: c.Squash, Author: c.Author}
	switch {
	case c.Ours && c.Theirs:
		diev("merge: --ours and --theirs are mutually exclusive")
		return fmt.Errorf("command: incompatible merge flags")
	case c.Ours:
		opts.Strategy = mergeengine.StrategyOurs
	case c.Theirs:
		opts.Strategy = mergeengine.StrategyTheirs
	}

	result, err := r.Merge(ctx, c.Branch, opts)
	if err != nil {
		var conflict *muserr.MergeConflict
		if errors.As(err, &conflict) {
			fmt.Printf("Automatic merge failed; fix conflicts in %d path(s) and run `muse merge --continue`:\n", len(conflict.Paths))
			for _, p := range conflict.Paths {
				fmt.Printf("\tboth modified: %s\n", p)
			}
			return err
		}
		if errors.Is(err, muserr.ErrAlreadyUpToDate) {
			fmt.Println("Already up to date.")
			return nil
		}
		diev("merge: %v", err)
		return err
	}
	printMergeResult(result)
	return nil
}

func printMergeResult(result *mergeengine.Result) {
	switch {
	case result.UpToDate:
		fmt.Println("Already up to date.")
	case result.FastForward:
		fmt.Println("Fast-forward.")
	case result.NewCommit != nil:
		fmt.Printf("Merge made commit %s.\n", shortID(result.NewCommit.ID))
	}
}
