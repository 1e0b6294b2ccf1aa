// Package findengine implements the commit-message search spec §4.7
// defines: "git log --grep" extended with musical property filters (key=value
// and key=low-high range syntax) that all combine with AND logic.
package findengine

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/museup/muse/internal/store"
	"github.com/museup/muse/modules/hash"
	"github.com/museup/muse/modules/museobj"
)

const defaultLimit = 20

// Query carries every optional search criterion for a find invocation. A nil
// field means "no constraint on this property"; all non-nil fields AND
// together.
type Query struct {
	Harmony   *string
	Rhythm    *string
	Melody    *string
	Structure *string
	Dynamic   *string
	Emotion   *string
	Section   *string
	Track     *string
	Since     *time.Time
	Until     *time.Time
	// Limit caps the result set. Zero or negative means the default of 20.
	Limit int
}

func (q Query) terms() []string {
	terms := make([]string, 0, 8)
	for _, t := range []*string{q.Harmony, q.Rhythm, q.Melody, q.Structure, q.Dynamic, q.Emotion, q.Section, q.Track} {
		if t != nil {
			terms = append(terms, *t)
		}
	}
	return terms
}

// Match is a single commit that satisfied every criterion in a Query.
type Match struct {
	CommitID       hash.Hash
	Branch         string
	Message        string
	Author         string
	CommittedAt    time.Time
	ParentCommitID hash.Hash
	HasParent      bool
	SnapshotID     hash.Hash
}

// Results is what Search returns: the matches (newest-first, capped at the
// query's limit) plus how many candidate commits were scanned before the
// limit was applied.
type Results struct {
	Matches      []Match
	TotalScanned int
	Query        Query
}

var (
	rangeRE    = regexp.MustCompile(`^(\d+(?:\.\d+)?)-(\d+(?:\.\d+)?)$`)
	keyValueRE = regexp.MustCompile(`^([^=]+)=(.+)$`)
)

// parsePropertyFilter recognises "key=low-high" range syntax. It returns
// ok=false for plain text (including a bare "key=value" equality match,
// which falls through to substring matching).
func parsePropertyFilter(queryStr string) (key string, low, high float64, ok bool) {
	m := keyValueRE.FindStringSubmatch(queryStr)
	if m == nil {
		return "", 0, 0, false
	}
	key = strings.TrimSpace(m[1])
	value := strings.TrimSpace(m[2])
	rm := rangeRE.FindStringSubmatch(value)
	if rm == nil {
		return "", 0, 0, false
	}
	low, _ = strconv.ParseFloat(rm[1], 64)
	high, _ = strconv.ParseFloat(rm[2], 64)
	return key, low, high, true
}

// extractNumericValue finds the first "key=<number>" occurrence in message
// (case-insensitive, word-bounded) and returns its numeric value.
func extractNumericValue(message, key string) (float64, bool) {
	pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(key) + `\s*=\s*(\d+(?:\.\d+)?)\b`)
	m := pattern.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// matchesProperty reports whether message satisfies queryStr: either a
// numeric range test (when queryStr parses as "key=low-high") or a plain
// case-insensitive substring match.
func matchesProperty(message, queryStr string) bool {
	if key, low, high, ok := parsePropertyFilter(queryStr); ok {
		value, found := extractNumericValue(message, key)
		if !found {
			return false
		}
		return low <= value && value <= high
	}
	return strings.Contains(strings.ToLower(message), strings.ToLower(queryStr))
}

// Search finds commits in repoID matching every criterion in q.
//
// Plain-text terms are pushed into the store.Predicate handed to
// backend.CommitsMatching, the same "push what the persistence layer can
// evaluate" split spec §4.7 describes for a SQL backend — here the
// predicate closure itself is the pushdown boundary. Range terms can't be
// expressed as a predicate over a single commit without re-deriving the key
// match twice, so they're re-checked in the engine against the candidate
// set CommitsMatching already filtered by date and plain text.
func Search(ctx context.Context, backend store.Backend, repoID string, q Query) (*Results, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	var plainTerms, rangeTerms []string
	for _, t := range q.terms() {
		if _, _, _, ok := parsePropertyFilter(t); ok {
			rangeTerms = append(rangeTerms, t)
		} else {
			plainTerms = append(plainTerms, t)
		}
	}

	pred := func(c *museobj.Commit) bool {
		if q.Since != nil && c.CommittedAt.Before(*q.Since) {
			return false
		}
		if q.Until != nil && c.CommittedAt.After(*q.Until) {
			return false
		}
		for _, term := range plainTerms {
			if !strings.Contains(strings.ToLower(c.Message), strings.ToLower(term)) {
				return false
			}
		}
		return true
	}

	candidates, err := backend.CommitsMatching(ctx, repoID, pred, 0)
	if err != nil {
		return nil, fmt.Errorf("findengine: search commits: %w", err)
	}
	totalScanned := len(candidates)

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CommittedAt.After(candidates[j].CommittedAt)
	})

	matches := make([]Match, 0, limit)
	for _, c := range candidates {
		if len(matches) >= limit {
			break
		}
		satisfiesRanges := true
		for _, term := range rangeTerms {
			if !matchesProperty(c.Message, term) {
				satisfiesRanges = false
				break
			}
		}
		if !satisfiesRanges {
			continue
		}
		parent, hasParent := c.FirstParent()
		matches = append(matches, Match{
			CommitID:       c.ID,
			Branch:         c.Branch,
			Message:        c.Message,
			Author:         c.Author,
			CommittedAt:    c.CommittedAt,
			ParentCommitID: parent,
			HasParent:      hasParent,
			SnapshotID:     c.SnapshotID,
		})
	}

	return &Results{
		Matches:      matches,
		TotalScanned: totalScanned,
		Query:        q,
	}, nil
}
