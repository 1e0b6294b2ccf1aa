// Package manifest implements the Snapshot Manifest (spec §3, §4.2): an
// ordered mapping from repo-relative POSIX path to object id, and the
// canonical serialization that makes snapshot ids deterministic.
//
// The ordered map is backed by github.com/emirpasic/gods' treemap, the same
// family of container the teacher reaches for when it needs a sorted
// associative structure — it predates Go generics, so Manifest wraps its
// interface{}-typed accessors behind typed methods and no caller ever
// touches interface{}.
package manifest

import (
	"bytes"
	"strings"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"

	"github.com/museup/muse/modules/hash"
)

// Manifest is an ordered path -> object id mapping. The zero value is not
// usable; construct with New.
type Manifest struct {
	m *treemap.Map
}

// New returns an empty Manifest.
func New() *Manifest {
	return &Manifest{m: treemap.NewWith(utils.StringComparator)}
}

// Set inserts or replaces the object id stored at path.
func (m *Manifest) Set(path string, id hash.Hash) {
	m.m.Put(path, id)
}

// Get returns the object id stored at path, if any.
func (m *Manifest) Get(path string) (hash.Hash, bool) {
	v, found := m.m.Get(path)
	if !found {
		return hash.Zero, false
	}
	return v.(hash.Hash), true
}

// Delete removes path from the manifest. It is a no-op if path is absent.
func (m *Manifest) Delete(path string) {
	m.m.Remove(path)
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	return m.m.Size()
}

// Paths returns all paths in sorted order.
func (m *Manifest) Paths() []string {
	keys := m.m.Keys()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.(string)
	}
	return out
}

// Each calls fn for every entry in sorted path order.
func (m *Manifest) Each(fn func(path string, id hash.Hash)) {
	m.m.Each(func(key, value interface{}) {
		fn(key.(string), value.(hash.Hash))
	})
}

// Clone returns a deep (entry-wise) copy of m.
func (m *Manifest) Clone() *Manifest {
	out := New()
	m.Each(func(path string, id hash.Hash) {
		out.Set(path, id)
	})
	return out
}

// Equal reports whether a and b contain exactly the same path -> id pairs.
func Equal(a, b *Manifest) bool {
	if a.Len() != b.Len() {
		return false
	}
	equal := true
	a.Each(func(path string, id hash.Hash) {
		other, ok := b.Get(path)
		if !ok || other != id {
			equal = false
		}
	})
	return equal
}

// NormalizePath validates and normalizes a repo-relative path per spec §3:
// no leading '/', no '..' components, forward slashes only.
func NormalizePath(path string) (string, bool) {
	p := strings.ReplaceAll(path, "\\", "/")
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "", false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", false
		}
	}
	return p, true
}

// ComputeSnapshotID computes the canonical serialization of m described in
// spec §3: entries sorted by path, each encoded as "path\0object_id\n", then
// SHA-256'd. Manifest is already path-sorted by construction (treemap), so
// this is a single linear pass.
func ComputeSnapshotID(m *Manifest) hash.Hash {
	var buf bytes.Buffer
	m.Each(func(path string, id hash.Hash) {
		buf.WriteString(path)
		buf.WriteByte(0)
		buf.WriteString(id.String())
		buf.WriteByte('\n')
	})
	return hash.Sum(buf.Bytes())
}

// EmptySnapshotID is the canonical snapshot id of an empty manifest — the
// hash of the empty byte string, constant for every repository (spec §8
// boundary behaviour).
var EmptySnapshotID = hash.Sum(nil)

// Diff computes the set of paths added, removed, and modified between a and
// b. A path is modified iff it is present in both manifests with differing
// object ids (spec §4.2). Comparisons are byte-exact (Hash equality).
func Diff(a, b *Manifest) (added, removed, modified []string) {
	a.Each(func(path string, aID hash.Hash) {
		bID, ok := b.Get(path)
		switch {
		case !ok:
			removed = append(removed, path)
		case aID != bID:
			modified = append(modified, path)
		}
	})
	b.Each(func(path string, _ hash.Hash) {
		if _, ok := a.Get(path); !ok {
			added = append(added, path)
		}
	})
	return added, removed, modified
}

// ChangedPaths returns the union of added, removed, and modified paths
// between a and b — the "changes" set used throughout the merge, rebase,
// and divergence engines.
func ChangedPaths(a, b *Manifest) []string {
	added, removed, modified := Diff(a, b)
	seen := make(map[string]struct{}, len(added)+len(removed)+len(modified))
	out := make([]string, 0, len(added)+len(removed)+len(modified))
	for _, group := range [][]string{added, removed, modified} {
		for _, p := range group {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				out = append(out, p)
			}
		}
	}
	return out
}

// ApplyDelta produces a new manifest with additions merged into onto and
// deletions removed (spec §4.2). It is a pure function: onto is not
// mutated.
func ApplyDelta(onto *Manifest, additions map[string]hash.Hash, deletions map[string]struct{}) *Manifest {
	out := onto.Clone()
	for path, id := range additions {
		out.Set(path, id)
	}
	for path := range deletions {
		out.Delete(path)
	}
	return out
}
