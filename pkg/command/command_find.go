package command

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/museup/muse/internal/findengine"
)

// Find implements `muse find`: the musical-property-aware commit search
// (spec §4.7), extending a plain "git log --grep" with per-dimension
// key=value and key=low-high filters that all AND together.
type Find struct {
	Harmony   string `name:"harmony" help:"Harmony filter, e.g. key=Cmaj or tempo=100-140"`
	Rhythm    string `name:"rhythm" help:"Rhythm filter"`
	Melody    string `name:"melody" help:"Melody filter"`
	Structure string `name:"structure" help:"Structure filter"`
	Dynamic   string `name:"dynamic" help:"Dynamics filter"`
	Emotion   string `name:"emotion" help:"Emotion filter"`
	Section   string `name:"section" help:"Section filter"`
	Track     string `name:"track" help:"Track filter"`
	Since     string `name:"since" help:"Only commits at or after this RFC3339 time"`
	Until     string `name:"until" help:"Only commits at or before this RFC3339 time"`
	Limit     int    `name:"limit" help:"Maximum number of matches (default: configured findLimit)"`
}

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// hasFilter reports whether at least one search dimension was given.
// Find with no filters is a usage error (spec §8): it would just replay the
// full commit history up to --limit, which `muse log` already does.
func (c *Find) hasFilter() bool {
	return c.Harmony != "" || c.Rhythm != "" || c.Melody != "" || c.Structure != "" ||
		c.Dynamic != "" || c.Emotion != "" || c.Section != "" || c.Track != "" ||
		c.Since != "" || c.Until != ""
}

func (c *Find) Run(g *Globals) error {
	if !c.hasFilter() {
		diev("find: provide at least one filter flag")
		return fmt.Errorf("command: find requires at least one filter")
	}
	r, err := openRepo(g)
	if err != nil {
		diev("%v", err)
		return err
	}
	q := findengine.Query{
		Harmony:   ptr(c.Harmony),
		Rhythm:    ptr(c.Rhythm),
		Melody:    ptr(c.Melody),
		Structure: ptr(c.Structure),
		Dynamic:   ptr(c.Dynamic),
		Emotion:   ptr(c.Emotion),
		Section:   ptr(c.Section),
		Track:     ptr(c.Track),
		Limit:     c.Limit,
	}
	if c.Since != "" {
		t, err := time.Parse(time.RFC3339, c.Since)
		if err != nil {
			diev("find: invalid --since: %v", err)
			return err
		}
		q.Since = &t
	}
	if c.Until != "" {
		t, err := time.Parse(time.RFC3339, c.Until)
		if err != nil {
			diev("find: invalid --until: %v", err)
			return err
		}
		q.Until = &t
	}

	results, err := r.Find(context.Background(), q)
	if err != nil {
		diev("find: %v", err)
		return err
	}
	if g.JSON {
		return json.NewEncoder(os.Stdout).Encode(results)
	}
	for _, m := range results.Matches {
		fmt.Printf("%s %s %s\n", shortID(m.CommitID), m.CommittedAt.Format(time.RFC3339), firstLine(m.Message))
	}
	fmt.Printf("(%d match(es), %d candidate(s) scanned)\n", len(results.Matches), results.TotalScanned)
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' || r == '\r' {
			return s[:i]
		}
	}
	return s
}
