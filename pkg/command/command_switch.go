package command

import "context"

// Switch implements `muse switch <branch>`: check the branch's tip snapshot
// out into the working tree and repoint HEAD at it.
type Switch struct {
	Branch string `arg:"" name:"branch" help:"Branch to switch to"`
}

func (c *Switch) Run(g *Globals) error {
	r, err := openRepo(g)
	if err != nil {
		diev("%v", err)
		return err
	}
	if err := r.Switch(context.Background(), c.Branch); err != nil {
		diev("switch: %v", err)
		return err
	}
	return nil
}
