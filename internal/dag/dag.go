// Package dag implements the ancestor queries spec §4.3 defines over the
// commit graph: lowest common ancestor and first-parent commit ranges. Both
// are plain BFS over store.Backend.GetCommit — the graph is never materialized
// in memory as a whole, so the only state kept is the traversal frontier.
package dag

import (
	"context"
	"fmt"

	"github.com/museup/muse/internal/store"
	"github.com/museup/muse/modules/hash"
	"github.com/museup/muse/modules/museobj"
)

// color marks which side of the bidirectional BFS first reached a node.
type color uint8

const (
	colorNone color = iota
	colorA
	colorB
	colorBoth
)

// LCA returns the lowest common ancestor of a and b: BFS from both commits
// over parent edges (both parents of a merge commit are traversed),
// coloring nodes by which side reached them first. The first node colored
// by both sides is the LCA. When several commits are equally valid LCAs,
// the one reached earliest by the queue order is returned — the same
// traversal order both calls share makes this deterministic (spec §4.3).
func LCA(ctx context.Context, backend store.Backend, a, b hash.Hash) (hash.Hash, bool, error) {
	if a == b {
		return a, true, nil
	}
	colors := make(map[hash.Hash]color)
	queue := []hash.Hash{a, b}
	colors[a] = colorA
	colors[b] = colorB

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		c, ok, err := backend.GetCommit(ctx, id)
		if err != nil {
			return hash.Zero, false, err
		}
		if !ok {
			continue
		}
		mine := colors[id]
		for _, parentID := range c.ParentIDs {
			existing, seen := colors[parentID]
			if !seen {
				colors[parentID] = mine
				queue = append(queue, parentID)
				continue
			}
			if existing != mine && existing != colorBoth {
				colors[parentID] = colorBoth
				return parentID, true, nil
			}
		}
	}
	return hash.Zero, false, nil
}

// IsAncestor reports whether ancestor is a (possibly equal, possibly
// non-first-parent) ancestor of descendant.
func IsAncestor(ctx context.Context, backend store.Backend, ancestor, descendant hash.Hash) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	visited := map[hash.Hash]bool{descendant: true}
	queue := []hash.Hash{descendant}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		c, ok, err := backend.GetCommit(ctx, id)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		for _, parentID := range c.ParentIDs {
			if parentID == ancestor {
				return true, nil
			}
			if !visited[parentID] {
				visited[parentID] = true
				queue = append(queue, parentID)
			}
		}
	}
	return false, nil
}

// CommitsBetween returns commits reachable from tip but not from base,
// oldest-first, following only the first-parent chain from tip — spec
// §4.3: "to avoid re-replaying merge inlines". If base is not found on
// tip's first-parent chain at all, traversal stops at the root commit.
func CommitsBetween(ctx context.Context, backend store.Backend, tip, base hash.Hash) ([]*museobj.Commit, error) {
	var chain []*museobj.Commit
	cur := tip
	for {
		if cur == base {
			break
		}
		c, ok, err := backend.GetCommit(ctx, cur)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("dag: commit %s not found", cur)
		}
		chain = append(chain, c)
		parent, ok := c.FirstParent()
		if !ok {
			break
		}
		cur = parent
	}
	// chain was built tip-first; reverse for oldest-first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
