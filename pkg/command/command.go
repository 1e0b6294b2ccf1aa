// Package command implements Muse's CLI command layer: one struct per
// subcommand, each with a kong-tagged flag set and a Run(*Globals) error
// method, the same shape the teacher's pkg/command uses throughout
// (Globals, VersionFlag, Run against an opened repository). cmd/muse wires
// these structs into a kong.Kong App and maps the returned error to an
// exit code per spec §6.
package command

import (
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"
	"github.com/sirupsen/logrus"

	"github.com/museup/muse/internal/muserr"
	"github.com/museup/muse/internal/telemetry"
	"github.com/museup/muse/modules/hash"
	"github.com/museup/muse/pkg/version"
)

// Globals holds flags shared by every subcommand.
type Globals struct {
	Verbose bool        `short:"V" name:"verbose" help:"Make the operation more talkative"`
	Version VersionFlag `short:"v" name:"version" help:"Show version number and quit"`
	CWD     string      `name:"cwd" help:"Path to the repository working tree (default: current directory)"`
	JSON    bool        `name:"json" help:"Emit machine-readable JSON instead of text"`
}

// Logger returns a logger scoped to this invocation: text to stderr at
// info level normally, debug level under --verbose.
func (g *Globals) Logger() *logrus.Entry {
	level := "info"
	if g.Verbose {
		level = "debug"
	}
	return telemetry.New(telemetry.Options{Level: level})
}

// VersionFlag prints the version string and exits, the same
// Decode/IsBool/BeforeApply trio the teacher's command.VersionFlag uses to
// short-circuit kong's normal parse-then-run flow.
type VersionFlag bool

func (v VersionFlag) Decode(ctx *kong.DecodeContext) error { return nil }
func (v VersionFlag) IsBool() bool                         { return true }
func (v VersionFlag) BeforeApply(app *kong.Kong, vars kong.Vars) error {
	fmt.Println(version.GetVersionString())
	app.Exit(0)
	return nil
}

// ExitCoder is implemented by errors that carry their own process exit
// code (spec §6: 0 success, 1 user error, 2 not-in-repo, other = internal).
type ExitCoder interface {
	error
	ExitCode() int
}

// ExitCodeFor maps an engine/command error to a process exit code.
func ExitCodeFor(err error) int {
	var coder ExitCoder
	switch {
	case err == nil:
		return 0
	case errors.As(err, &coder):
		return coder.ExitCode()
	case errors.Is(err, muserr.ErrNotInRepository):
		return 2
	default:
		return exitCodeForClass(err)
	}
}

// exitCodeForClass distinguishes user-recoverable conditions (exit 1) from
// everything else (exit 3, "internal/unexpected" per spec §6's "other
// codes for internal failures") — corruption and I/O failures are never
// exit 1, since there is no user action that fixes them.
func exitCodeForClass(err error) int {
	switch {
	case errors.Is(err, muserr.ErrNothingToCommit),
		errors.Is(err, muserr.ErrNothingToRebase),
		errors.Is(err, muserr.ErrAlreadyUpToDate),
		errors.Is(err, muserr.ErrMergeInProgress),
		errors.Is(err, muserr.ErrRebaseInProgress),
		errors.Is(err, muserr.ErrNoMergeInProgress),
		errors.Is(err, muserr.ErrNoRebaseInProgress),
		errors.Is(err, muserr.ErrDisjointHistories):
		return 1
	}
	var unknownBranch *muserr.UnknownBranch
	var unknownCommit *muserr.UnknownCommit
	var ambiguous *muserr.AmbiguousPrefix
	var mergeConflict *muserr.MergeConflict
	var rebaseConflict *muserr.RebaseConflict
	if errors.As(err, &unknownBranch) || errors.As(err, &unknownCommit) ||
		errors.As(err, &ambiguous) || errors.As(err, &mergeConflict) || errors.As(err, &rebaseConflict) {
		return 1
	}
	return 3
}

// colorEnabled reports whether stderr is a terminal that should receive
// ANSI color codes — the same isatty gate the teacher applies before
// emitting any color (pkg/zeta/misc.go's IsTerminal).
func colorEnabled() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func colorize(s, style string) string {
	if !colorEnabled() {
		return s
	}
	return ansi.Color(s, style)
}

// shortID renders a hash the way git-style logs do: the first 12 hex
// characters, enough for a human to read and short enough to type back.
func shortID(h hash.Hash) string {
	s := h.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

func diev(format string, a ...any) {
	fmt.Fprintf(os.Stderr, colorize("fatal: ", "red")+format+"\n", a...)
}

func warnv(format string, a ...any) {
	fmt.Fprintf(os.Stderr, colorize("warning: ", "yellow")+format+"\n", a...)
}
