package command

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/museup/muse/internal/muserepo"
)

// Init implements `muse init [directory]`: create a new repository rooted at
// directory (default the current directory), same shape as the teacher's
// Init command minus the branch-name/remote flags Muse's scope doesn't need.
type Init struct {
	Directory string `arg:"" optional:"" name:"directory" help:"Directory to initialize (default: current directory)"`
}

func (c *Init) Run(g *Globals) error {
	dir := c.Directory
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		diev("%v", err)
		return err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		diev("%v", err)
		return err
	}
	if found, err := muserepo.Discover(abs); err == nil {
		diev("'%s' is already managed by muse", found)
		return fmt.Errorf("command: %s is already a muse repository", found)
	}
	r, err := initRepo(g, abs)
	if err != nil {
		diev("init: %v", err)
		return err
	}
	if !g.JSON {
		fmt.Println("Initialized empty Muse repository in " + r.MuseDir)
	}
	return nil
}
