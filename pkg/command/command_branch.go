package command

// Branch implements `muse branch <name> [from]`: create a new branch
// pointing at from's tip (default the current branch).
type Branch struct {
	Name string `arg:"" name:"name" help:"New branch name"`
	From string `arg:"" optional:"" name:"from" help:"Branch to create the new branch from (default: current branch)"`
}

func (c *Branch) Run(g *Globals) error {
	r, err := openRepo(g)
	if err != nil {
		diev("%v", err)
		return err
	}
	from := c.From
	if from == "" {
		from, err = r.CurrentBranch()
		if err != nil {
			diev("%v", err)
			return err
		}
	}
	if err := r.CreateBranch(c.Name, from); err != nil {
		diev("branch: %v", err)
		return err
	}
	return nil
}
