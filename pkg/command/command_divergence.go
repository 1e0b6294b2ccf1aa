package command

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/museup/muse/internal/divergence"
)

// Divergence implements `muse divergence <a> <b>`: report how two branches
// have diverged across musical dimensions (spec §4.6), a search surface the
// teacher's git-shaped command set has no analogue for.
type Divergence struct {
	BranchA    string `arg:"" name:"branch-a"`
	BranchB    string `arg:"" name:"branch-b"`
	Dimensions string `name:"dimensions" help:"Comma-separated subset of dimensions to report (default: all)"`
}

func (c *Divergence) Run(g *Globals) error {
	r, err := openRepo(g)
	if err != nil {
		diev("%v", err)
		return err
	}
	opts := divergence.Options{}
	if c.Dimensions != "" {
		opts.Dimensions = strings.Split(c.Dimensions, ",")
	}
	result, err := r.Divergence(context.Background(), c.BranchA, c.BranchB, opts)
	if err != nil {
		diev("divergence: %v", err)
		return err
	}
	if g.JSON {
		return json.NewEncoder(os.Stdout).Encode(result)
	}
	fmt.Printf("Divergence between %s and %s (overall: %.2f):\n", result.BranchA, result.BranchB, result.OverallScore)
	for _, d := range result.Dimensions {
		fmt.Printf("  %-10s %-8s %.2f  %s\n", d.Dimension, d.Level, d.Score, d.Description)
	}
	return nil
}
