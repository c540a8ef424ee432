package composite

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/heliograph/dfms/internal/dropgraph/graph"
)

// NewCompositeRouter exposes mgr's fan-out session surface over the same
// REST shape NewNodeRouter gives a Node Manager, so a parent composite's
// RemoteChild can address a Data Island or Master Manager process exactly
// as it would a Node Manager (spec.md §4.7: "operations mirror the Node
// Manager surface"). A Data Island or Master Manager process serves this
// directly.
func NewCompositeRouter(mgr *Manager) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/sessions/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		if err := mgr.CreateSession(id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"sessionId": id})
	}).Methods(http.MethodPost)

	r.HandleFunc("/sessions/{id}/graph", func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		var spec graph.Spec
		if !decodeJSON(w, req, &spec) {
			return
		}
		if err := mgr.AddGraphSpec(id, spec); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}).Methods(http.MethodPost)

	r.HandleFunc("/sessions/{id}/link", func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		var body struct{ LHS, RHS, LinkType string }
		if !decodeJSON(w, req, &body) {
			return
		}
		if err := mgr.LinkGraphParts(id, body.LHS, body.RHS, body.LinkType); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}).Methods(http.MethodPost)

	r.HandleFunc("/sessions/{id}/deploy", func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		var body struct{ Completed []string }
		if !decodeJSON(w, req, &body) {
			return
		}
		uris, err := mgr.DeploySession(id, body.Completed)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, uris)
	}).Methods(http.MethodPost)

	r.HandleFunc("/sessions/{id}/status", func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		status, err := mgr.GetSessionStatus(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": status})
	}).Methods(http.MethodGet)

	r.HandleFunc("/sessions/{id}/graph/status", func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		status, err := mgr.GetGraphStatus(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}).Methods(http.MethodGet)

	r.HandleFunc("/sessions/{id}/graph/{oid}/status", func(w http.ResponseWriter, req *http.Request) {
		vars := mux.Vars(req)
		var body struct{ Status string }
		if !decodeJSON(w, req, &body) {
			return
		}
		if err := mgr.PropagateDropStatus(vars["id"], vars["oid"], body.Status); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}).Methods(http.MethodPost)

	r.HandleFunc("/sessions/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		if err := mgr.DestroySession(id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}).Methods(http.MethodDelete)

	r.HandleFunc("/sessions", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, mgr.GetSessionIds())
	}).Methods(http.MethodGet)

	return r
}
