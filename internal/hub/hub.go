// Package hub implements the read/write HTTP surface spec §6 assigns to
// muse-hub: commit/object/ref lookups plus a push endpoint, fronting a
// store.Backend and modules/objstore.Store the same way the teacher's
// pkg/serve/httpserver.Server fronts its database and object backends
// (gorilla/mux routing, one handler per concern, JSON request/response
// bodies rather than the teacher's Zeta-protocol binary framing, since
// Muse's wire format has no equivalent pack/loose-object negotiation).
//
// Deliberately out of scope, matching spec §6's non-goals for this
// surface: authentication, HTML rendering, and response pagination — every
// endpoint here assumes a trusted caller and an unbounded result set.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/museup/muse/internal/muserr"
	"github.com/museup/muse/internal/store"
	"github.com/museup/muse/modules/hash"
	"github.com/museup/muse/modules/manifest"
	"github.com/museup/muse/modules/museobj"
	"github.com/museup/muse/modules/objstore"
)

// Server is the hub's HTTP handler: a thin proxy over a store.Backend and
// an objstore.Store, with no repository-existence bookkeeping of its own —
// repoID is just a namespacing key the backend/object store already
// partition on.
type Server struct {
	Backend  store.Backend
	ObjStore objstore.Store
	Log      *logrus.Entry

	router *mux.Router
}

// NewServer builds a Server and registers its routes.
func NewServer(backend store.Backend, objStore objstore.Store, log *logrus.Entry) *Server {
	s := &Server{Backend: backend, ObjStore: objStore, Log: log}
	r := mux.NewRouter()
	r.HandleFunc("/repos/{id}/commits/{commit}", s.handleGetCommit).Methods(http.MethodGet)
	r.HandleFunc("/repos/{id}/objects/{oid}", s.handleGetObject).Methods(http.MethodGet)
	r.HandleFunc("/repos/{id}/refs", s.handleListRefs).Methods(http.MethodGet)
	r.HandleFunc("/repos/{id}/push", s.handlePush).Methods(http.MethodPost)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logEntry() *logrus.Entry {
	if s.Log != nil {
		return s.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func renderError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func renderJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleGetCommit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := hash.Parse(vars["commit"])
	if err != nil {
		renderError(w, http.StatusBadRequest, fmt.Errorf("hub: bad commit id: %w", err))
		return
	}
	c, ok, err := s.Backend.GetCommit(r.Context(), id)
	if err != nil {
		renderError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		renderError(w, http.StatusNotFound, &muserr.NotFoundError{Kind: "commit", ID: vars["commit"]})
		return
	}
	renderJSON(w, c)
}

func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := hash.Parse(vars["oid"])
	if err != nil {
		renderError(w, http.StatusBadRequest, fmt.Errorf("hub: bad object id: %w", err))
		return
	}
	rc, err := s.ObjStore.Open(r.Context(), id)
	if err != nil {
		renderError(w, http.StatusNotFound, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, rc); err != nil {
		s.logEntry().WithError(err).Warn("hub: stream object failed")
	}
}

// branchTips discovers every branch in repoID and resolves each to its
// current tip. The Backend interface has no "list branches" primitive
// (spec §4.3 names only a fixed operation set), so this scans every commit
// via CommitsMatching and collects the advisory Branch field each one
// carries, then re-resolves the authoritative tip per branch through
// LatestCommitOn — a full scan, acceptable given spec §6's explicit
// no-pagination scope for this surface.
func (s *Server) branchTips(ctx context.Context, repoID string) (map[string]hash.Hash, error) {
	commits, err := s.Backend.CommitsMatching(ctx, repoID, nil, 0)
	if err != nil {
		return nil, err
	}
	branches := make(map[string]struct{})
	for _, c := range commits {
		if c.Branch != "" {
			branches[c.Branch] = struct{}{}
		}
	}
	tips := make(map[string]hash.Hash, len(branches))
	for b := range branches {
		if tip, ok, err := s.Backend.LatestCommitOn(ctx, repoID, b); err != nil {
			return nil, err
		} else if ok {
			tips[b] = tip
		}
	}
	return tips, nil
}

// RefsResponse is the JSON body of GET /repos/{id}/refs: every branch this
// repo has recorded a tip for, sorted by name for a stable response.
type RefsResponse struct {
	Refs []RefEntry `json:"refs"`
}

// RefEntry names one branch and its tip commit id.
type RefEntry struct {
	Branch string    `json:"branch"`
	Commit hash.Hash `json:"commit"`
}

func (s *Server) handleListRefs(w http.ResponseWriter, r *http.Request) {
	repoID := mux.Vars(r)["id"]
	tips, err := s.branchTips(r.Context(), repoID)
	if err != nil {
		renderError(w, http.StatusInternalServerError, err)
		return
	}
	resp := RefsResponse{Refs: make([]RefEntry, 0, len(tips))}
	for branch, id := range tips {
		resp.Refs = append(resp.Refs, RefEntry{Branch: branch, Commit: id})
	}
	sort.Slice(resp.Refs, func(i, j int) bool { return resp.Refs[i].Branch < resp.Refs[j].Branch })
	renderJSON(w, resp)
}

// PushRequest is the body of POST /repos/{id}/push: every snapshot and
// commit the client's local history reached that the hub doesn't have yet,
// oldest-first, plus the branch whose tip should advance to the last
// commit in Commits.
type PushRequest struct {
	Branch    string                            `json:"branch"`
	Snapshots map[hash.Hash]map[string]hash.Hash `json:"snapshots"`
	Commits   []*museobj.Commit                  `json:"commits"`
}

func snapshotFromWire(entries map[string]hash.Hash) *manifest.Manifest {
	m := manifest.New()
	for path, id := range entries {
		m.Set(path, id)
	}
	return m
}

// handlePush implements spec §6's push validation: every parent of every
// pushed commit must already exist server-side (either already stored, or
// earlier in this same push) before any of it is accepted — a commit whose
// parent the hub has never seen would otherwise create a DAG with a
// dangling edge.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	repoID := mux.Vars(r)["id"]
	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, http.StatusBadRequest, fmt.Errorf("hub: decode push body: %w", err))
		return
	}
	ctx := r.Context()

	known := make(map[hash.Hash]bool, len(req.Commits))
	for _, c := range req.Commits {
		for _, parent := range c.ParentIDs {
			if known[parent] {
				continue
			}
			if _, ok, err := s.Backend.GetCommit(ctx, parent); err != nil {
				renderError(w, http.StatusInternalServerError, err)
				return
			} else if !ok {
				renderError(w, http.StatusConflict, fmt.Errorf("hub: commit %s references unknown parent %s", c.ID, parent))
				return
			}
		}
		known[c.ID] = true
	}

	for id, entries := range req.Snapshots {
		if err := s.Backend.PutSnapshot(ctx, id, snapshotFromWire(entries)); err != nil {
			renderError(w, http.StatusInternalServerError, err)
			return
		}
	}
	for _, c := range req.Commits {
		if err := s.Backend.PutCommit(ctx, c); err != nil {
			renderError(w, http.StatusInternalServerError, err)
			return
		}
	}
	if req.Branch != "" && len(req.Commits) > 0 {
		newHead := req.Commits[len(req.Commits)-1].ID
		if err := s.Backend.SetLatestCommitOn(ctx, repoID, req.Branch, newHead); err != nil {
			renderError(w, http.StatusInternalServerError, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
