package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/museup/muse/internal/store"
	"github.com/museup/muse/internal/telemetry"
	"github.com/museup/muse/modules/hash"
	"github.com/museup/muse/modules/manifest"
	"github.com/museup/muse/modules/museobj"
	"github.com/museup/muse/modules/objstore"
)

func newTestServer(t *testing.T) (*Server, store.Backend) {
	t.Helper()
	backend := store.NewMemory()
	objStore := objstore.NewLocalStore(t.TempDir(), false)
	return NewServer(backend, objStore, telemetry.Silent()), backend
}

func TestHandleGetCommitNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/repos/r1/commits/"+hash.Zero.String(), nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetCommitFound(t *testing.T) {
	s, backend := newTestServer(t)
	ctx := context.Background()
	snap := manifest.New()
	snapID := manifest.ComputeSnapshotID(snap)
	require.NoError(t, backend.PutSnapshot(ctx, snapID, snap))
	c := museobj.New("r1", "main", nil, snapID, "first", "river", time.Now())
	require.NoError(t, backend.PutCommit(ctx, c))

	req := httptest.NewRequest(http.MethodGet, "/repos/r1/commits/"+c.ID.String(), nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got museobj.Commit
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, c.Message, got.Message)
}

func TestHandleGetObject(t *testing.T) {
	s, _ := newTestServer(t)
	id, err := s.ObjStore.PutBytes(context.Background(), []byte("beat data"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/repos/r1/objects/"+id.String(), nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "beat data", rec.Body.String())
}

func TestHandleListRefs(t *testing.T) {
	s, backend := newTestServer(t)
	ctx := context.Background()
	snap := manifest.New()
	snapID := manifest.ComputeSnapshotID(snap)
	require.NoError(t, backend.PutSnapshot(ctx, snapID, snap))
	c := museobj.New("r1", "main", nil, snapID, "first", "river", time.Now())
	require.NoError(t, backend.PutCommit(ctx, c))
	require.NoError(t, backend.SetLatestCommitOn(ctx, "r1", "main", c.ID))

	req := httptest.NewRequest(http.MethodGet, "/repos/r1/refs", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RefsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Refs, 1)
	require.Equal(t, "main", resp.Refs[0].Branch)
	require.Equal(t, c.ID, resp.Refs[0].Commit)
}

func TestHandlePushRejectsUnknownParent(t *testing.T) {
	s, _ := newTestServer(t)
	snap := manifest.New()
	snapID := manifest.ComputeSnapshotID(snap)
	orphanParent := hash.Sum([]byte("nonexistent"))
	c := museobj.New("r1", "main", []hash.Hash{orphanParent}, snapID, "second", "river", time.Now())

	body, err := json.Marshal(PushRequest{
		Branch:    "main",
		Snapshots: map[hash.Hash]map[string]hash.Hash{snapID: {}},
		Commits:   []*museobj.Commit{c},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/repos/r1/push", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlePushAcceptsLinearHistory(t *testing.T) {
	s, backend := newTestServer(t)
	ctx := context.Background()

	rootSnap := manifest.New()
	rootSnapID := manifest.ComputeSnapshotID(rootSnap)
	root := museobj.New("r1", "main", nil, rootSnapID, "root", "river", time.Now())

	childSnap := manifest.New()
	childSnap.Set("beat.mid", hash.Sum([]byte("v1")))
	childSnapID := manifest.ComputeSnapshotID(childSnap)
	child := museobj.New("r1", "main", []hash.Hash{root.ID}, childSnapID, "second", "river", time.Now())

	body, err := json.Marshal(PushRequest{
		Branch: "main",
		Snapshots: map[hash.Hash]map[string]hash.Hash{
			rootSnapID:  {},
			childSnapID: {"beat.mid": hash.Sum([]byte("v1"))},
		},
		Commits: []*museobj.Commit{root, child},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/repos/r1/push", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	tip, ok, err := backend.LatestCommitOn(ctx, "r1", "main")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, child.ID, tip)

	got, ok, err := backend.GetCommit(ctx, root.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, root.Message, got.Message)
}
