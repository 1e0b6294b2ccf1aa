package command

import (
	"fmt"
	"os"
	"os/exec"

	shellwords "github.com/kballard/go-shellquote"
)

// editorCommand resolves which editor to launch for an interactive rebase
// plan: the repo's core.editor, then $GIT_EDITOR, then $EDITOR, falling back
// to "vi" — the same precedence the teacher's launchEditor applies, with
// github.com/kballard/go-shellquote standing in for the teacher's in-repo
// modules/shlex tokenizer.
func editorCommand(configured string) (string, []string, error) {
	candidate := configured
	if candidate == "" {
		candidate = os.Getenv("GIT_EDITOR")
	}
	if candidate == "" {
		candidate = os.Getenv("EDITOR")
	}
	if candidate == "" {
		candidate = "vi"
	}
	words, err := shellwords.Split(candidate)
	if err != nil {
		return "", nil, fmt.Errorf("command: parse editor command %q: %w", candidate, err)
	}
	if len(words) == 0 {
		return "", nil, fmt.Errorf("command: empty editor command")
	}
	return words[0], words[1:], nil
}

// launchEditor opens path in the resolved editor with stdio attached to the
// current process, so an interactive terminal editor behaves normally.
func launchEditor(configured, path string) error {
	name, args, err := editorCommand(configured)
	if err != nil {
		return err
	}
	cmd := exec.Command(name, append(args, path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
