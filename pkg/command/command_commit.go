package command

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/museup/muse/internal/muserepo"
	"github.com/museup/muse/internal/muserr"
	"github.com/museup/muse/modules/museobj"
)

// Commit implements `muse commit -m <message>`: rebuild the snapshot
// manifest from the working tree and advance the current branch. Muse has
// no staging area (spec §3: every commit snapshots the whole working tree),
// so unlike the teacher's Commit there is no --all/--amend/--file surface.
type Commit struct {
	Message string `name:"message" short:"m" required:"" help:"Commit message" placeholder:"<message>"`
	Author  string `name:"author" help:"Override the configured author (\"Name <email>\")" placeholder:"<author>"`
}

func (c *Commit) Run(g *Globals) error {
	r, err := openRepo(g)
	if err != nil {
		diev("%v", err)
		return err
	}
	author := c.Author
	if author == "" {
		author = r.Config.User.String()
	}
	if author == "" {
		diev("author identity unknown; pass --author or set user.name/user.email")
		return fmt.Errorf("command: missing author identity")
	}
	ctx := context.Background()
	var commit *museobj.Commit
	if g.JSON || !colorEnabled() {
		commit, err = r.Commit(ctx, c.Message, author)
	} else {
		commit, err = commitWithProgress(ctx, r, c.Message, author)
	}
	if err != nil {
		if errors.Is(err, muserr.ErrNothingToCommit) {
			fmt.Println("nothing to commit, working tree clean")
			return err
		}
		diev("commit: %v", err)
		return err
	}
	fmt.Printf("[%s %s] %s\n", commit.Branch, shortID(commit.ID), commit.Subject())
	return nil
}

// commitWithProgress wraps Repo.Commit's working-tree scan in an
// indeterminate progress bar, the same mpb idiom the teacher uses for
// operations whose duration it can't predict ahead of time (see
// pkg/zeta/transfer.go's download bars): total -1 until the goroutine
// finishes, then SetTotal(-1, true) marks it complete.
func commitWithProgress(ctx context.Context, r *muserepo.Repo, message, author string) (*museobj.Commit, error) {
	p := mpb.New(mpb.WithOutput(os.Stderr), mpb.WithAutoRefresh())
	bar := p.New(-1,
		mpb.BarStyle().Filler("#").Padding(" "),
		mpb.PrependDecorators(decor.Name("Building snapshot")),
		mpb.AppendDecorators(
			decor.OnComplete(decor.EwmaETA(decor.ET_STYLE_GO, 30), "done"),
		),
	)
	var commit *museobj.Commit
	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		commit, err = r.Commit(ctx, message, author)
		bar.SetTotal(-1, true)
	}()
	<-done
	p.Wait()
	return commit, err
}
