package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/museup/muse/internal/muserepo"
	"github.com/museup/muse/internal/muserr"
	"github.com/museup/muse/internal/rebaseengine"
)

// Rebase implements `muse rebase <upstream>` plus --continue/--abort and
// --interactive, the interactive path round-tripping the plan through
// $EDITOR the same way the teacher lets a user hand-edit state before
// resuming an operation (pkg/zeta/editor.go's launchEditor).
type Rebase struct {
	Upstream    string `arg:"" optional:"" name:"upstream" help:"Branch to rebase the current branch onto"`
	Autosquash  bool   `name:"autosquash" help:"Automatically reorder fixup!/squash! commits onto their targets"`
	Interactive bool   `name:"interactive" short:"i" help:"Edit the rebase plan in $EDITOR before replaying it"`
	Author      string `name:"author" help:"Override the configured author" placeholder:"<author>"`
	Continue    bool   `name:"continue" help:"Resume a rebase after resolving conflicts"`
	Abort       bool   `name:"abort" help:"Abort an in-progress rebase and restore the original branch tip"`
}

func (c *Rebase) Run(g *Globals) error {
	r, err := openRepo(g)
	if err != nil {
		diev("%v", err)
		return err
	}
	ctx := context.Background()

	switch {
	case c.Abort:
		if err := r.RebaseAbort(); err != nil {
			diev("rebase --abort: %v", err)
			return err
		}
		return nil
	case c.Continue:
		result, err := r.RebaseContinue(ctx, c.Author)
		if err != nil {
			diev("rebase --continue: %v", err)
			return err
		}
		printRebaseResult(result)
		return nil
	}

	if c.Upstream == "" {
		diev("rebase: an upstream branch argument is required")
		return fmt.Errorf("command: rebase requires an upstream argument")
	}

	author := c.Author
	if author == "" {
		author = r.Config.User.String()
	}

	if !c.Interactive {
		result, err := r.Rebase(ctx, c.Upstream, c.Autosquash, author)
		if err != nil {
			return reportRebaseError(err)
		}
		printRebaseResult(result)
		return nil
	}

	branch, err := r.CurrentBranch()
	if err != nil {
		diev("%v", err)
		return err
	}
	head, ok, err := r.Refs.Branch(branch)
	if err != nil || !ok {
		diev("rebase: read branch %s: %v", branch, err)
		return err
	}
	upstream, ok, err := r.Refs.Branch(c.Upstream)
	if err != nil || !ok {
		diev("rebase: unknown branch %s", c.Upstream)
		return &muserr.UnknownBranch{Branch: c.Upstream}
	}

	plan, base, err := rebaseengine.BuildPlan(ctx, r.Backend, head, upstream)
	if err != nil {
		diev("rebase: %v", err)
		return err
	}
	if len(plan) == 0 {
		diev("rebase: nothing to rebase")
		return muserr.ErrNothingToRebase
	}
	if c.Autosquash {
		plan = rebaseengine.ApplyAutosquash(plan)
	}

	edited, err := editPlan(r, plan)
	if err != nil {
		diev("rebase: %v", err)
		return err
	}

	result, err := rebaseengine.Rebase(ctx, r.Backend, r.Refs, r.MuseDir, r.RepoID, branch, head, base, upstream, edited, author)
	if err != nil {
		return reportRebaseError(err)
	}
	printRebaseResult(result)
	return nil
}

// editPlan renders plan as editable text, opens it in $EDITOR, and parses
// the result back into []rebaseengine.PlanStep.
func editPlan(r *muserepo.Repo, plan []rebaseengine.PlanStep) ([]rebaseengine.PlanStep, error) {
	f, err := os.CreateTemp("", "muse-rebase-plan-*.txt")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	defer os.Remove(path)
	if err := f.Close(); err != nil {
		return nil, err
	}
	if err := writePlanFile(path, planToText(plan)); err != nil {
		return nil, err
	}
	if err := launchEditor(r.Config.Editor, path); err != nil {
		return nil, fmt.Errorf("launch editor: %w", err)
	}
	edited, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return rebaseengine.ParsePlanText(string(edited), plan)
}

func printRebaseResult(result *rebaseengine.Result) {
	fmt.Printf("Successfully rebased %d commit(s) onto %s.\n", len(result.Pairs), shortID(result.NewHead))
}

func reportRebaseError(err error) error {
	var conflict *muserr.RebaseConflict
	if errors.As(err, &conflict) {
		fmt.Printf("Rebase conflict while replaying %s in %d path(s); fix and run `muse rebase --continue`:\n", conflict.Commit, len(conflict.Paths))
		for _, p := range conflict.Paths {
			fmt.Printf("\tboth modified: %s\n", p)
		}
		return err
	}
	diev("rebase: %v", err)
	return err
}

func planToText(plan []rebaseengine.PlanStep) string {
	var b strings.Builder
	for _, step := range plan {
		fmt.Fprintf(&b, "%s %s %s\n", step.Action, shortID(step.CommitID), step.Message)
	}
	b.WriteString("\n# Rebase plan. Lines are \"<action> <commit> <message>\".\n")
	b.WriteString("# Actions: pick, squash, fixup, drop, reword <new message>.\n")
	b.WriteString("# Lines starting with '#' and blank lines are ignored.\n")
	return b.String()
}

func writePlanFile(path, text string) error {
	return os.WriteFile(path, []byte(text), 0o644)
}
