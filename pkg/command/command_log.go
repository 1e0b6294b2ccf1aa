package command

import (
	"context"
	"fmt"

	"github.com/museup/muse/internal/muserr"
)

// Log implements `muse log [branch]`: print the first-parent history of
// branch (default: current branch), newest first, in the teacher's
// `commit <id>\nAuthor: ...\nDate: ...\n\n    <subject>` format
// (modules/museobj.Commit.String()).
type Log struct {
	Branch string `arg:"" optional:"" name:"branch" help:"Branch to print history for (default: current branch)"`
	Limit  int    `name:"limit" short:"n" help:"Maximum number of commits to print (default: unlimited)"`
}

func (c *Log) Run(g *Globals) error {
	r, err := openRepo(g)
	if err != nil {
		diev("%v", err)
		return err
	}
	branch := c.Branch
	if branch == "" {
		branch, err = r.CurrentBranch()
		if err != nil {
			diev("%v", err)
			return err
		}
	}
	tip, ok, err := r.Refs.Branch(branch)
	if err != nil {
		diev("log: %v", err)
		return err
	}
	if !ok {
		err := &muserr.UnknownBranch{Branch: branch}
		diev("log: %v", err)
		return err
	}

	ctx := context.Background()
	id := tip
	for n := 0; c.Limit <= 0 || n < c.Limit; n++ {
		if id.IsZero() {
			break
		}
		commit, ok, err := r.Backend.GetCommit(ctx, id)
		if err != nil {
			diev("log: %v", err)
			return err
		}
		if !ok {
			return &muserr.NotFoundError{Kind: "commit", ID: id.String()}
		}
		fmt.Print(commit.String())
		parent, hasParent := commit.FirstParent()
		if !hasParent {
			break
		}
		id = parent
	}
	return nil
}
