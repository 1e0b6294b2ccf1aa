// Package museobj defines Muse's Commit record and its canonical,
// content-derived id (spec §3), grounded on the encode/decode shape of the
// teacher's modules/zeta/object.Commit (antgroup/hugescm) but simplified to
// Muse's flat snapshot model: a commit references one Snapshot Manifest id
// directly rather than a tree object.
package museobj

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/museup/muse/modules/hash"
)

// Commit is an immutable commit record (spec §3).
type Commit struct {
	ID          hash.Hash   `json:"commit_id"`
	RepoID      string      `json:"repo_id"`
	Branch      string      `json:"branch"` // advisory, not authoritative
	ParentIDs   []hash.Hash `json:"parent_ids"`
	SnapshotID  hash.Hash   `json:"snapshot_id"`
	Message     string      `json:"message"`
	Author      string      `json:"author"`
	CommittedAt time.Time   `json:"committed_at"`
}

// NumParents is 0 (root), 1 (linear), or 2 (merge; parent[0] is "ours"/
// mainline, parent[1] is "theirs" — spec §9 parent-order significance).
func (c *Commit) NumParents() int { return len(c.ParentIDs) }

// IsMerge reports whether c has two parents.
func (c *Commit) IsMerge() bool { return len(c.ParentIDs) == 2 }

// FirstParent returns parent[0] and true, or the zero Hash and false for a
// root commit.
func (c *Commit) FirstParent() (hash.Hash, bool) {
	if len(c.ParentIDs) == 0 {
		return hash.Zero, false
	}
	return c.ParentIDs[0], true
}

// Subject returns the first line of the commit message.
func (c *Commit) Subject() string {
	if i := strings.IndexAny(c.Message, "\r\n"); i != -1 {
		return c.Message[:i]
	}
	return c.Message
}

// canonicalSerialization encodes (parent_ids, snapshot_id, message,
// committed_at) exactly as spec §3 requires for commit_id derivation:
//
//	parent <id>\n        (zero or more, in order)
//	tree <snapshot_id>\n
//	time <unix-utc-nanos>\n
//	\n
//	<message>
//
// Author and branch are intentionally excluded from the id derivation per
// spec §3's listed tuple — two commits with identical parents, snapshot,
// message, and timestamp collide by construction regardless of author.
func canonicalSerialization(parentIDs []hash.Hash, snapshotID hash.Hash, message string, committedAt time.Time) []byte {
	var buf bytes.Buffer
	for _, p := range parentIDs {
		buf.WriteString("parent ")
		buf.WriteString(p.String())
		buf.WriteByte('\n')
	}
	buf.WriteString("tree ")
	buf.WriteString(snapshotID.String())
	buf.WriteByte('\n')
	buf.WriteString("time ")
	buf.WriteString(strconv.FormatInt(committedAt.UTC().UnixNano(), 10))
	buf.WriteByte('\n')
	buf.WriteByte('\n')
	buf.WriteString(message)
	return buf.Bytes()
}

// ComputeCommitID returns the content-derived commit id for the given
// fields, independent of any particular Commit struct instance.
func ComputeCommitID(parentIDs []hash.Hash, snapshotID hash.Hash, message string, committedAt time.Time) hash.Hash {
	return hash.Sum(canonicalSerialization(parentIDs, snapshotID, message, committedAt))
}

// New constructs a Commit with its id computed per spec §3. committedAt is
// converted to UTC and truncated to whole seconds, so the nanosecond count
// canonical serialization writes is always a whole number of seconds and
// two calls built from the same logical instant (e.g. a resumed rebase)
// produce identical ids.
func New(repoID, branch string, parentIDs []hash.Hash, snapshotID hash.Hash, message, author string, committedAt time.Time) *Commit {
	committedAt = committedAt.UTC().Truncate(time.Second)
	id := ComputeCommitID(parentIDs, snapshotID, message, committedAt)
	return &Commit{
		ID:          id,
		RepoID:      repoID,
		Branch:      branch,
		ParentIDs:   append([]hash.Hash(nil), parentIDs...),
		SnapshotID:  snapshotID,
		Message:     message,
		Author:      author,
		CommittedAt: committedAt,
	}
}

// VerifyID recomputes the commit id from c's fields and reports whether it
// matches c.ID — the basis of testable invariant 4 in spec §8.
func (c *Commit) VerifyID() bool {
	return ComputeCommitID(c.ParentIDs, c.SnapshotID, c.Message, c.CommittedAt) == c.ID
}

func (c *Commit) String() string {
	return fmt.Sprintf("commit %s\nAuthor: %s\nDate:   %s\n\n    %s\n",
		c.ID, c.Author, c.CommittedAt.Format(time.RFC1123Z), c.Subject())
}
