package command

import (
	"path/filepath"

	"github.com/museup/muse/internal/muserepo"
	"github.com/museup/muse/internal/store"
	"github.com/museup/muse/modules/objstore"
)

const (
	objectsDirName = "objects"
	storeFileName  = "store.json"
)

// openRepo discovers the repository containing g.CWD (or the process's
// working directory when CWD is unset) and opens it against the
// on-disk backend every standalone CLI invocation uses: a LocalFile
// store for commits/snapshots/refs bookkeeping and a LocalStore object
// store, both rooted under the discovered .muse directory.
func openRepo(g *Globals) (*muserepo.Repo, error) {
	start := g.CWD
	if start == "" {
		start = "."
	}
	workRoot, err := muserepo.Discover(start)
	if err != nil {
		return nil, err
	}
	museDir := filepath.Join(workRoot, muserepo.MuseDirName)
	backend, err := store.OpenLocalFile(filepath.Join(museDir, storeFileName))
	if err != nil {
		return nil, err
	}
	objStore := objstore.NewLocalStore(filepath.Join(museDir, objectsDirName), true)
	return muserepo.Open(workRoot, backend, objStore, g.Logger())
}

// initRepo creates a new repository at dir with the same backend wiring
// openRepo uses to open one.
func initRepo(g *Globals, dir string) (*muserepo.Repo, error) {
	museDir := filepath.Join(dir, muserepo.MuseDirName)
	backend, err := store.OpenLocalFile(filepath.Join(museDir, storeFileName))
	if err != nil {
		return nil, err
	}
	objStore := objstore.NewLocalStore(filepath.Join(museDir, objectsDirName), true)
	return muserepo.Init(dir, backend, objStore, g.Logger())
}
