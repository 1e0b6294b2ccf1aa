package command

import (
	"context"
	"fmt"
)

// Resolve implements `muse resolve <path> --ours|--theirs`: write the
// chosen side's bytes for path into the working tree and mark it resolved
// in the in-progress MergeState.
type Resolve struct {
	Path   string `arg:"" name:"path" help:"Conflicted path to resolve"`
	Ours   bool   `name:"ours" help:"Take the current branch's version"`
	Theirs bool   `name:"theirs" help:"Take the merged branch's version"`
}

func (c *Resolve) Run(g *Globals) error {
	if c.Ours == c.Theirs {
		diev("resolve: exactly one of --ours or --theirs is required")
		return fmt.Errorf("command: resolve requires exactly one of --ours/--theirs")
	}
	r, err := openRepo(g)
	if err != nil {
		diev("%v", err)
		return err
	}
	if err := r.MergeResolve(context.Background(), c.Path, c.Theirs); err != nil {
		diev("resolve: %v", err)
		return err
	}
	fmt.Printf("%s marked resolved\n", c.Path)
	return nil
}
