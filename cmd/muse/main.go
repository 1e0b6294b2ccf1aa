// Command muse is the standalone CLI client: init/commit/branch/switch,
// merge and rebase (with --continue/--abort/--interactive), conflict
// resolution, divergence reporting, and the musical-property-aware find
// search, all operating against a local .muse working copy. Wiring mirrors
// the teacher's cmd/zeta/main.go: an App struct embedding command.Globals
// plus one field per subcommand, parsed with alecthomas/kong, its result
// mapped to a process exit code per spec §6.
package main

import (
	"os"

	"github.com/alecthomas/kong"

	"github.com/museup/muse/pkg/command"
	"github.com/museup/muse/pkg/version"
)

type App struct {
	command.Globals
	Init       command.Init       `cmd:"init" help:"Create an empty muse repository"`
	Commit     command.Commit     `cmd:"commit" help:"Snapshot the working tree and advance the current branch"`
	Branch     command.Branch     `cmd:"branch" help:"Create a new branch"`
	Switch     command.Switch     `cmd:"switch" help:"Switch branches"`
	Merge      command.Merge      `cmd:"merge" help:"Join two development histories together"`
	Resolve    command.Resolve    `cmd:"resolve" help:"Mark a conflicted path resolved during a merge"`
	Rebase     command.Rebase     `cmd:"rebase" help:"Reapply commits on top of another base tip"`
	Divergence command.Divergence `cmd:"divergence" help:"Report musical divergence between two branches"`
	Find       command.Find       `cmd:"find" help:"Search commit history by musical property"`
	Status     command.Status     `cmd:"status" help:"Show the current branch and any in-progress merge/rebase"`
	Log        command.Log        `cmd:"log" help:"Show commit history"`
	Version    command.Version    `cmd:"version" help:"Display version information"`
}

func main() {
	var app App
	ctx := kong.Parse(&app,
		kong.Name("muse"),
		kong.Description("Muse - a version control system for music production"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true, NoExpandSubcommands: true}),
		kong.Vars{"version": version.GetVersionString()},
	)
	err := ctx.Run(&app.Globals)
	os.Exit(command.ExitCodeFor(err))
}
