package worktree

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/museup/muse/modules/objstore"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestBuildFromTreeExcludesMetaDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "beat.mid", "v1")
	writeFile(t, root, ".muse/repo.json", "{}")
	store := objstore.NewLocalStore(t.TempDir(), false)

	m, err := BuildFromTree(context.Background(), root, store)
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())
	_, ok := m.Get("beat.mid")
	require.True(t, ok)
}

func TestBuildFromTreeRespectsMuseignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "beat.mid", "v1")
	writeFile(t, root, "scratch/temp.wav", "junk")
	writeFile(t, root, IgnoreFile, "scratch/\n")
	store := objstore.NewLocalStore(t.TempDir(), false)

	m, err := BuildFromTree(context.Background(), root, store)
	require.NoError(t, err)
	require.Equal(t, 2, m.Len(), "beat.mid and .museignore itself are tracked; scratch/ is excluded")
	_, ok := m.Get("scratch/temp.wav")
	require.False(t, ok)
}

func TestCheckoutWritesAndPrunes(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "beat.mid", "v1")
	store := objstore.NewLocalStore(t.TempDir(), false)
	m, err := BuildFromTree(context.Background(), src, store)
	require.NoError(t, err)

	dest := t.TempDir()
	writeFile(t, dest, "stale.mid", "old content that should be removed")
	require.NoError(t, Checkout(context.Background(), dest, store, m))

	got, err := os.ReadFile(filepath.Join(dest, "beat.mid"))
	require.NoError(t, err)
	require.Equal(t, "v1", string(got))

	_, err = os.Stat(filepath.Join(dest, "stale.mid"))
	require.True(t, os.IsNotExist(err), "checkout must remove files not in the manifest")
}

func TestDiffDetectsModification(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "beat.mid", "v1")
	store := objstore.NewLocalStore(t.TempDir(), false)
	base, err := BuildFromTree(context.Background(), root, store)
	require.NoError(t, err)

	writeFile(t, root, "beat.mid", "v2")
	added, removed, modified, err := Diff(context.Background(), root, store, base)
	require.NoError(t, err)
	require.Empty(t, added)
	require.Empty(t, removed)
	require.Equal(t, []string{"beat.mid"}, modified)
}
