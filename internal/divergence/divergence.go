// Package divergence implements the musical divergence report spec §4.6
// defines over two branches: how far their creative directions have drifted
// since they last shared history, broken down per musical dimension.
package divergence

import (
	"context"
	"fmt"
	"strings"

	"github.com/museup/muse/internal/dag"
	"github.com/museup/muse/internal/muserr"
	"github.com/museup/muse/internal/store"
	"github.com/museup/muse/modules/hash"
	"github.com/museup/muse/modules/manifest"
)

// Level is a qualitative label for a divergence score.
type Level string

const (
	LevelNone Level = "none"
	LevelLow  Level = "low"
	LevelMed  Level = "med"
	LevelHigh Level = "high"
)

// AllDimensions lists every musical dimension analysed when the caller does
// not restrict the report to a subset.
var AllDimensions = []string{"melodic", "harmonic", "rhythmic", "structural", "dynamic"}

// dimensionPatterns are the lowercase keyword substrings that classify a
// file path into a musical dimension. A path may match more than one.
var dimensionPatterns = map[string][]string{
	"melodic":    {"melody", "lead", "solo", "vocal"},
	"harmonic":   {"harm", "chord", "key", "scale"},
	"rhythmic":   {"beat", "drum", "rhythm", "groove", "perc"},
	"structural": {"struct", "form", "section", "bridge", "chorus", "verse", "intro", "outro"},
	"dynamic":    {"mix", "master", "volume", "level", "dyn"},
}

// ClassifyPath returns every dimension whose keyword set matches path,
// case-insensitively. The result is empty when path matches nothing.
func ClassifyPath(path string) map[string]bool {
	lower := strings.ToLower(path)
	dims := make(map[string]bool)
	for dim, patterns := range dimensionPatterns {
		for _, pat := range patterns {
			if strings.Contains(lower, pat) {
				dims[dim] = true
				break
			}
		}
	}
	return dims
}

// ScoreToLevel maps a normalised [0,1] divergence score to its qualitative
// label per spec §4.6's thresholds.
func ScoreToLevel(score float64) Level {
	switch {
	case score < 0.15:
		return LevelNone
	case score < 0.40:
		return LevelLow
	case score < 0.70:
		return LevelMed
	default:
		return LevelHigh
	}
}

// DimensionDivergence is the per-dimension portion of a Result.
type DimensionDivergence struct {
	Dimension      string  `json:"dimension"`
	Level          Level   `json:"level"`
	Score          float64 `json:"score"`
	Description    string  `json:"description"`
	BranchASummary string  `json:"branch_a_summary"`
	BranchBSummary string  `json:"branch_b_summary"`
}

// Result is the full musical divergence report between two branches.
type Result struct {
	BranchA        string                `json:"branch_a"`
	BranchB        string                `json:"branch_b"`
	CommonAncestor hash.Hash             `json:"common_ancestor"`
	HasAncestor    bool                  `json:"-"`
	Dimensions     []DimensionDivergence `json:"dimensions"`
	OverallScore   float64               `json:"overall_score"`
}

func filterByDimension(paths map[string]bool, dimension string) map[string]bool {
	out := make(map[string]bool)
	for p := range paths {
		if ClassifyPath(p)[dimension] {
			out[p] = true
		}
	}
	return out
}

// computeDimension scores a single musical dimension: the proportion of the
// union of changed paths (in this dimension, across both branches) that only
// one branch touched. 0.0 means both branches changed exactly the same
// files; 1.0 means no overlap at all.
func computeDimension(dimension string, aChanged, bChanged map[string]bool) DimensionDivergence {
	aDim := filterByDimension(aChanged, dimension)
	bDim := filterByDimension(bChanged, dimension)

	union := make(map[string]bool, len(aDim)+len(bDim))
	for p := range aDim {
		union[p] = true
	}
	for p := range bDim {
		union[p] = true
	}
	symDiff := 0
	for p := range union {
		if aDim[p] != bDim[p] {
			symDiff++
		}
	}

	var score float64
	var desc string
	if len(union) == 0 {
		score = 0.0
		desc = fmt.Sprintf("No %s changes on either branch.", dimension)
	} else {
		score = float64(symDiff) / float64(len(union))
		switch {
		case score < 0.15:
			desc = fmt.Sprintf("Both branches made similar %s changes.", dimension)
		case score < 0.40:
			desc = fmt.Sprintf("Minor %s divergence — mostly aligned.", dimension)
		case score < 0.70:
			desc = fmt.Sprintf("Moderate %s divergence — different directions.", dimension)
		default:
			desc = fmt.Sprintf("High %s divergence — branches took different creative paths.", dimension)
		}
	}

	return DimensionDivergence{
		Dimension:      dimension,
		Level:          ScoreToLevel(score),
		Score:          score,
		Description:    desc,
		BranchASummary: fmt.Sprintf("%d %s file(s) changed", len(aDim), dimension),
		BranchBSummary: fmt.Sprintf("%d %s file(s) changed", len(bDim), dimension),
	}
}

// changedPathsSince collects every path added, removed, or modified between
// base's snapshot and tip's, reusing manifest.ChangedPaths the same way
// mergeengine and rebaseengine reuse manifest.Diff. base may be hash.Zero to
// mean disjoint histories, in which case every path in tip's snapshot counts
// as changed.
func changedPathsSince(ctx context.Context, backend store.Backend, tip, base hash.Hash) (map[string]bool, error) {
	tipManifest, err := loadManifest(ctx, backend, tip)
	if err != nil {
		return nil, err
	}
	baseManifest := manifest.New()
	if !base.IsZero() {
		baseManifest, err = loadManifest(ctx, backend, base)
		if err != nil {
			return nil, err
		}
	}

	changed := make(map[string]bool)
	for _, p := range manifest.ChangedPaths(baseManifest, tipManifest) {
		changed[p] = true
	}
	return changed, nil
}

func loadManifest(ctx context.Context, backend store.Backend, commitID hash.Hash) (*manifest.Manifest, error) {
	c, ok, err := backend.GetCommit(ctx, commitID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &muserr.CorruptStateError{Path: commitID.String(), Err: fmt.Errorf("commit not found")}
	}
	m, ok, err := backend.GetSnapshot(ctx, c.SnapshotID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &muserr.CorruptStateError{Path: c.SnapshotID.String(), Err: fmt.Errorf("snapshot not found")}
	}
	return m, nil
}

// Options configures a Compute call.
type Options struct {
	// Since overrides the auto-detected common ancestor. Zero means
	// auto-detect via dag.LCA.
	Since hash.Hash
	// Dimensions restricts the report to a subset of AllDimensions. Empty
	// means all of them.
	Dimensions []string
}

// Compute produces the musical divergence report between branchA and
// branchB: it resolves both branch tips, finds (or takes as given) their
// common ancestor, collects each branch's changed paths since that
// ancestor, and scores every requested dimension.
func Compute(ctx context.Context, backend store.Backend, refStore BranchResolver, repoID, branchA, branchB string, opts Options) (*Result, error) {
	aHead, ok, err := refStore.Branch(branchA)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &muserr.UnknownBranch{Branch: branchA}
	}
	bHead, ok, err := refStore.Branch(branchB)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &muserr.UnknownBranch{Branch: branchB}
	}

	base := opts.Since
	hasBase := !base.IsZero()
	if !hasBase {
		base, hasBase, err = dag.LCA(ctx, backend, aHead, bHead)
		if err != nil {
			return nil, err
		}
	}
	baseForDiff := hash.Zero
	if hasBase {
		baseForDiff = base
	}

	aChanged, err := changedPathsSince(ctx, backend, aHead, baseForDiff)
	if err != nil {
		return nil, err
	}
	bChanged, err := changedPathsSince(ctx, backend, bHead, baseForDiff)
	if err != nil {
		return nil, err
	}

	dims := opts.Dimensions
	if len(dims) == 0 {
		dims = AllDimensions
	}

	dimensions := make([]DimensionDivergence, 0, len(dims))
	var sum float64
	for _, dim := range dims {
		d := computeDimension(dim, aChanged, bChanged)
		dimensions = append(dimensions, d)
		sum += d.Score
	}
	var overall float64
	if len(dimensions) > 0 {
		overall = sum / float64(len(dimensions))
	}

	return &Result{
		BranchA:        branchA,
		BranchB:        branchB,
		CommonAncestor: base,
		HasAncestor:    hasBase,
		Dimensions:     dimensions,
		OverallScore:   overall,
	}, nil
}

// BranchResolver is the subset of refs.Store that Compute needs — kept
// narrow so tests can fake it without pulling in the lock-file machinery.
type BranchResolver interface {
	Branch(branch string) (hash.Hash, bool, error)
}
