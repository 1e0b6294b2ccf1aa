// Package rebaseengine implements the Rebase Engine (spec §4.5): plan
// construction over a branch's first-parent range, autosquash reordering,
// the interactive plan grammar (pick/squash/fixup/drop/reword), and the
// replay loop that recreates each retained commit with a new parent,
// detecting path-level conflicts against what the onto side itself last
// changed (base to upstream for the first group, then each replayed
// commit's own change). RebaseState.json persists enough to resume
// (`--continue`) or unwind (`--abort`) an interrupted rebase, using the
// same create-temp-then-rename write internal/mergeengine uses for
// MergeState.
//
// Autosquash and replay-conflict semantics are grounded on
// original_source/maestro/services/muse_rebase.py; `$EDITOR` invocation to
// produce or edit a plan's text form is an external-collaborator concern
// (spec §1) and lives in pkg/command, not here — this package only parses
// already-written plan text and operates on an already-resolved []PlanStep.
package rebaseengine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/museup/muse/internal/dag"
	"github.com/museup/muse/internal/muserr"
	"github.com/museup/muse/internal/store"
	"github.com/museup/muse/modules/hash"
	"github.com/museup/muse/modules/manifest"
	"github.com/museup/muse/modules/museobj"
	"github.com/museup/muse/modules/refs"
)

// Action is a single plan step's verb (spec §4.5).
type Action string

const (
	ActionPick   Action = "pick"
	ActionSquash Action = "squash"
	ActionFixup  Action = "fixup"
	ActionDrop   Action = "drop"
	ActionReword Action = "reword"
)

// PlanStep is one line of a rebase plan: an action applied to an existing
// commit, carrying its original message (and, for reword, the edited
// replacement).
type PlanStep struct {
	Action     Action    `json:"action"`
	CommitID   hash.Hash `json:"commit_id"`
	Message    string    `json:"message"`
	NewMessage string    `json:"new_message,omitempty"` // set only for ActionReword
}

// BuildPlan constructs the default plan for rebasing headID onto
// upstreamID: the LCA of head and upstream, then every commit reachable
// from head beyond that base, oldest first, following first parents only.
// Every step defaults to ActionPick. An empty plan (head already contains
// upstream) means there is nothing to do.
func BuildPlan(ctx context.Context, backend store.Backend, headID, upstreamID hash.Hash) (plan []PlanStep, base hash.Hash, err error) {
	lca, ok, err := dag.LCA(ctx, backend, headID, upstreamID)
	if err != nil {
		return nil, hash.Zero, err
	}
	if !ok {
		return nil, hash.Zero, muserr.ErrDisjointHistories
	}
	commits, err := dag.CommitsBetween(ctx, backend, headID, lca)
	if err != nil {
		return nil, hash.Zero, err
	}
	plan = make([]PlanStep, len(commits))
	for i, c := range commits {
		plan[i] = PlanStep{Action: ActionPick, CommitID: c.ID, Message: c.Message}
	}
	return plan, lca, nil
}

const fixupPrefix = "fixup! "

// ApplyAutosquash reorders any step whose message begins with "fixup! " to
// sit immediately after the first earlier step whose message starts with
// the remainder of that prefix, and marks it ActionFixup. A fixup with no
// matching target is marked ActionFixup too and moves to the end of the
// plan (spec §4.5: "unmatched fixups move to the end"). Matching only ever
// considers non-fixup targets (the same restriction
// original_source/maestro/services/muse_rebase.py's apply_autosquash
// applies), so a fixup chained onto another fixup (a "fixup! fixup! ..."
// message) never matches a target that is itself about to be relocated —
// it falls through to the unmatched bucket instead of being silently
// dropped when its target index turns out to be matched too.
func ApplyAutosquash(plan []PlanStep) []PlanStep {
	insertAfter := make(map[int][]PlanStep) // target index -> fixups to place right after it
	matchedIdx := make(map[int]bool)
	var unmatched []PlanStep

	for i, step := range plan {
		if !strings.HasPrefix(step.Message, fixupPrefix) {
			continue
		}
		target := strings.TrimPrefix(step.Message, fixupPrefix)
		targetIdx := -1
		for j := 0; j < i; j++ {
			other := plan[j]
			if strings.HasPrefix(other.Message, fixupPrefix) {
				continue
			}
			if strings.HasPrefix(other.Message, target) {
				targetIdx = j
				break
			}
		}
		step.Action = ActionFixup
		matchedIdx[i] = true
		if targetIdx == -1 {
			unmatched = append(unmatched, step)
			continue
		}
		insertAfter[targetIdx] = append(insertAfter[targetIdx], step)
	}

	out := make([]PlanStep, 0, len(plan))
	for i, step := range plan {
		if matchedIdx[i] {
			continue
		}
		out = append(out, step)
		out = append(out, insertAfter[i]...)
	}
	out = append(out, unmatched...)
	return out
}

// ParsePlanText parses the interactive plan grammar (spec §4.5): one step
// per line as "<action> <short_sha> <message...>", blank lines and lines
// starting with '#' ignored. original supplies the full commit id and
// canonical message for each short_sha prefix appearing in text (the
// caller — pkg/command — resolves short shas against the repository
// before calling this). An unrecognized action aborts the whole parse.
func ParsePlanText(text string, original []PlanStep) ([]PlanStep, error) {
	byPrefix := make(map[string]PlanStep, len(original))
	for _, step := range original {
		byPrefix[step.CommitID.String()] = step
	}

	var out []PlanStep
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		fields := strings.SplitN(trimmed, " ", 3)
		if len(fields) < 2 {
			return nil, fmt.Errorf("rebaseengine: malformed plan line %q", line)
		}
		action := Action(fields[0])
		shortSHA := fields[1]
		var message string
		if len(fields) == 3 {
			message = fields[2]
		}

		var matched *PlanStep
		for id, step := range byPrefix {
			if strings.HasPrefix(id, shortSHA) {
				s := step
				matched = &s
				break
			}
		}
		if matched == nil {
			return nil, fmt.Errorf("rebaseengine: unknown commit %q in plan", shortSHA)
		}

		switch action {
		case ActionPick, ActionSquash, ActionFixup, ActionDrop:
			out = append(out, PlanStep{Action: action, CommitID: matched.CommitID, Message: matched.Message})
		case ActionReword:
			out = append(out, PlanStep{Action: action, CommitID: matched.CommitID, Message: matched.Message, NewMessage: message})
		default:
			return nil, fmt.Errorf("rebaseengine: unknown action %q", action)
		}
	}
	return out, nil
}

// CompletedPair records one replayed commit: the id it had before rebase,
// and the id of the commit created in its place.
type CompletedPair struct {
	OriginalID hash.Hash `json:"original_id"`
	NewID      hash.Hash `json:"new_id"`
}

// State is the on-disk record of an in-progress rebase (spec §6:
// RebaseState.json).
type State struct {
	UpstreamCommit  hash.Hash       `json:"upstream_commit"`
	BaseCommit      hash.Hash       `json:"base_commit"`
	OriginalBranch  string          `json:"original_branch"`
	OriginalHead    hash.Hash       `json:"original_head"`
	CommitsToReplay []PlanStep      `json:"commits_to_replay"`
	CurrentOnto     hash.Hash       `json:"current_onto"`
	CompletedPairs  []CompletedPair `json:"completed_pairs"`
	CurrentCommit   hash.Hash       `json:"current_commit"`
	ConflictPaths   []string        `json:"conflict_paths"`
}

const stateFileName = "REBASE_STATE.json"

func statePath(museDir string) string { return filepath.Join(museDir, stateFileName) }

// ReadState loads RebaseState from museDir. ok=false with no error means
// no rebase is in progress; an unparseable file degrades to the same
// result rather than erroring (spec §7).
func ReadState(museDir string) (*State, bool, error) {
	b, err := os.ReadFile(statePath(museDir))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, false, nil
	}
	return &s, true, nil
}

func writeState(museDir string, s *State) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	path := statePath(museDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func clearState(museDir string) error {
	err := os.Remove(statePath(museDir))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// InProgress reports whether a rebase is currently in progress in museDir.
func InProgress(museDir string) (bool, error) {
	_, ok, err := ReadState(museDir)
	return ok, err
}

// Result describes a completed rebase.
type Result struct {
	NewHead hash.Hash
	Pairs   []CompletedPair
}

// group accumulates the deltas of a run of squash/fixup steps folded into
// a preceding pick/reword.
type group struct {
	leaderOriginal hash.Hash
	message        string
	running        *manifest.Manifest // accumulated result so far
}

// Rebase replays plan (built by BuildPlan, optionally reordered by
// ApplyAutosquash and/or rewritten by ParsePlanText) onto upstreamID,
// updating branch's ref on success. originalHead is branch's tip before
// the rebase began, recorded so Abort can restore it.
func Rebase(
	ctx context.Context,
	backend store.Backend,
	refStore *refs.Store,
	museDir, repoID, branch string,
	originalHead, baseID, upstreamID hash.Hash,
	plan []PlanStep,
	author string,
) (*Result, error) {
	if inProgress, err := InProgress(museDir); err != nil {
		return nil, err
	} else if inProgress {
		return nil, muserr.ErrRebaseInProgress
	}

	ontoManifest, err := loadManifest(ctx, backend, upstreamID)
	if err != nil {
		return nil, err
	}
	prevOntoManifest, err := loadManifest(ctx, backend, baseID)
	if err != nil {
		return nil, err
	}
	ontoID := upstreamID

	var pairs []CompletedPair
	var g *group

	flush := func() error {
		if g == nil {
			return nil
		}
		newCommit, err := commitManifest(ctx, backend, repoID, branch, ontoID, g.running, g.message, author)
		if err != nil {
			return err
		}
		pairs = append(pairs, CompletedPair{OriginalID: g.leaderOriginal, NewID: newCommit.ID})
		prevOntoManifest = ontoManifest
		ontoManifest = g.running
		ontoID = newCommit.ID
		g = nil
		return nil
	}

	for i, step := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if step.Action == ActionDrop {
			continue
		}

		// A pick/reword step starts a fresh group: flush whatever group is
		// pending first, so onto/prevOnto are fully advanced before this
		// step's own conflict check and delta application run.
		if step.Action == ActionPick || step.Action == ActionReword {
			if err := flush(); err != nil {
				return nil, err
			}
		}

		original, ok, err := backend.GetCommit(ctx, step.CommitID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &muserr.CorruptStateError{Path: step.CommitID.String(), Err: muserr.ErrCorruptState}
		}
		parentID, hasParent := original.FirstParent()
		var parentManifest *manifest.Manifest
		if hasParent {
			parentManifest, err = loadManifest(ctx, backend, parentID)
		} else {
			parentManifest, err = loadManifest(ctx, backend, baseID)
		}
		if err != nil {
			return nil, err
		}
		commitManifestSnap, err := loadManifest(ctx, backend, step.CommitID)
		if err != nil {
			return nil, err
		}

		additions, deletions := delta(parentManifest, commitManifestSnap)
		changed := changedPaths(additions, deletions)

		// The onto side's own changes (spec §4.5's diff(prev_onto, onto))
		// only move at a flush, i.e. at group boundaries — every member of
		// the currently-accumulating group compares against the same pair,
		// never against deltas this group already folded in itself.
		ontoChanged := changedPaths(delta(prevOntoManifest, ontoManifest))

		var conflicts []string
		for path := range changed {
			if ontoChanged[path] {
				conflicts = append(conflicts, path)
			}
		}
		if len(conflicts) > 0 {
			sort.Strings(conflicts)
			remaining := make([]PlanStep, len(plan)-i)
			copy(remaining, plan[i:])
			state := &State{
				UpstreamCommit:  upstreamID,
				BaseCommit:      baseID,
				OriginalBranch:  branch,
				OriginalHead:    originalHead,
				CommitsToReplay: remaining,
				CurrentOnto:     ontoID,
				CompletedPairs:  pairs,
				CurrentCommit:   step.CommitID,
				ConflictPaths:   conflicts,
			}
			if err := writeState(museDir, state); err != nil {
				return nil, err
			}
			return nil, &muserr.RebaseConflict{Commit: step.CommitID.String(), Paths: conflicts}
		}

		isGroupMember := (step.Action == ActionSquash || step.Action == ActionFixup) && g != nil

		var running *manifest.Manifest
		if isGroupMember {
			running = g.running
		} else {
			running = ontoManifest
		}
		newRunning := manifest.ApplyDelta(running, additions, deletions)

		switch {
		case step.Action == ActionPick || step.Action == ActionReword:
			message := original.Message
			if step.Action == ActionReword && step.NewMessage != "" {
				message = step.NewMessage
			}
			g = &group{
				leaderOriginal: step.CommitID,
				message:        message,
				running:        newRunning,
			}
		case step.Action == ActionSquash:
			g.running = newRunning
			g.message = g.message + "\n\n" + original.Message
		case step.Action == ActionFixup:
			g.running = newRunning
			// message discarded, keep the leader's.
		default:
			// Orphan squash/fixup with nothing to fold into: treat as its
			// own single-commit group.
			g = &group{leaderOriginal: step.CommitID, message: original.Message, running: newRunning}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if err := refStore.UpdateBranch(branch, ontoID, &originalHead); err != nil {
		return nil, err
	}
	if err := backend.SetLatestCommitOn(ctx, repoID, branch, ontoID); err != nil {
		return nil, err
	}
	return &Result{NewHead: ontoID, Pairs: pairs}, nil
}

// Continue implements spec §4.5's resume path: the user has resolved
// current_commit's conflict in the working tree, which is re-hashed and
// treated as that commit's replayed snapshot directly, then the remaining
// plan is replayed normally.
func Continue(
	ctx context.Context,
	backend store.Backend,
	refStore *refs.Store,
	museDir, repoID string,
	resolvedManifest *manifest.Manifest,
	author string,
) (*Result, error) {
	state, ok, err := ReadState(museDir)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, muserr.ErrNoRebaseInProgress
	}
	if len(state.ConflictPaths) > 0 {
		return nil, &muserr.RebaseConflict{Commit: state.CurrentCommit.String(), Paths: state.ConflictPaths}
	}
	if len(state.CommitsToReplay) == 0 {
		return nil, muserr.ErrNothingToRebase
	}

	resolvedStep := state.CommitsToReplay[0]
	original, ok, err := backend.GetCommit(ctx, resolvedStep.CommitID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &muserr.CorruptStateError{Path: resolvedStep.CommitID.String(), Err: muserr.ErrCorruptState}
	}
	message := original.Message
	if resolvedStep.Action == ActionReword && resolvedStep.NewMessage != "" {
		message = resolvedStep.NewMessage
	}
	resumedCommit, err := commitManifest(ctx, backend, repoID, state.OriginalBranch, state.CurrentOnto, resolvedManifest, message, author)
	if err != nil {
		return nil, err
	}
	pairs := append(append([]CompletedPair(nil), state.CompletedPairs...), CompletedPair{OriginalID: resolvedStep.CommitID, NewID: resumedCommit.ID})

	remainingPlan := state.CommitsToReplay[1:]
	if len(remainingPlan) == 0 {
		if err := refStore.UpdateBranch(state.OriginalBranch, resumedCommit.ID, &state.OriginalHead); err != nil {
			return nil, err
		}
		if err := backend.SetLatestCommitOn(ctx, repoID, state.OriginalBranch, resumedCommit.ID); err != nil {
			return nil, err
		}
		if err := clearState(museDir); err != nil {
			return nil, err
		}
		return &Result{NewHead: resumedCommit.ID, Pairs: pairs}, nil
	}

	if err := clearState(museDir); err != nil {
		return nil, err
	}
	result, err := Rebase(ctx, backend, refStore, museDir, repoID, state.OriginalBranch, state.OriginalHead, state.BaseCommit, resumedCommit.ID, remainingPlan, author)
	if err != nil {
		return nil, err
	}
	result.Pairs = append(pairs, result.Pairs...)
	return result, nil
}

// Abort implements spec §4.5's abort path: restore branch to
// original_head and delete RebaseState. Commits already created during
// the interrupted rebase remain in the database, orphaned but harmless
// (spec §4.5).
func Abort(refStore *refs.Store, museDir, branch string) error {
	state, ok, err := ReadState(museDir)
	if err != nil {
		return err
	}
	if !ok {
		return muserr.ErrNoRebaseInProgress
	}
	if err := refStore.UpdateBranch(branch, state.OriginalHead, nil); err != nil {
		return err
	}
	return clearState(museDir)
}

func commitManifest(ctx context.Context, backend store.Backend, repoID, branch string, parent hash.Hash, m *manifest.Manifest, message, author string) (*museobj.Commit, error) {
	snapID := manifest.ComputeSnapshotID(m)
	if err := backend.PutSnapshot(ctx, snapID, m); err != nil {
		return nil, err
	}
	c := museobj.New(repoID, branch, []hash.Hash{parent}, snapID, message, author, time.Now())
	if err := backend.PutCommit(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func loadManifest(ctx context.Context, backend store.Backend, commitID hash.Hash) (*manifest.Manifest, error) {
	c, ok, err := backend.GetCommit(ctx, commitID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &muserr.CorruptStateError{Path: commitID.String(), Err: muserr.ErrCorruptState}
	}
	m, ok, err := backend.GetSnapshot(ctx, c.SnapshotID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &muserr.CorruptStateError{Path: c.SnapshotID.String(), Err: muserr.ErrCorruptState}
	}
	return m, nil
}

func delta(parent, child *manifest.Manifest) (additions map[string]hash.Hash, deletions map[string]struct{}) {
	additions = make(map[string]hash.Hash)
	deletions = make(map[string]struct{})
	added, removed, modified := manifest.Diff(parent, child)
	for _, p := range append(append([]string{}, added...), modified...) {
		v, _ := child.Get(p)
		additions[p] = v
	}
	for _, p := range removed {
		deletions[p] = struct{}{}
	}
	return additions, deletions
}

func changedPaths(additions map[string]hash.Hash, deletions map[string]struct{}) map[string]bool {
	out := make(map[string]bool, len(additions)+len(deletions))
	for p := range additions {
		out[p] = true
	}
	for p := range deletions {
		out[p] = true
	}
	return out
}
