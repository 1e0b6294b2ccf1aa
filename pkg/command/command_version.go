package command

import (
	"fmt"

	"github.com/museup/muse/pkg/version"
)

// Version implements `muse version`, the non-flag form of --version for
// scripts that prefer a subcommand over a global flag.
type Version struct{}

func (c *Version) Run(g *Globals) error {
	fmt.Println(version.GetVersionString())
	return nil
}
