package composite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/heliograph/dfms/internal/dropgraph/graph"
	"github.com/heliograph/dfms/internal/manager/node"
	"github.com/heliograph/dfms/pkg/errkind"
)

// NewNodeRouter exposes mgr's session operations as the REST surface
// spec.md §6 summarizes, routed with gorilla/mux the way the teacher's
// marble services do. A Node Manager process serves this directly; a
// RemoteChild on a parent composite Manager is the corresponding client.
func NewNodeRouter(mgr *node.Manager) *mux.Router {
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
		writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
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

	r.HandleFunc("/templates", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, mgr.GetTemplates())
	}).Methods(http.MethodGet)

	r.HandleFunc("/sessions/{id}/templates/{name}", func(w http.ResponseWriter, req *http.Request) {
		vars := mux.Vars(req)
		var params map[string]string
		if !decodeJSON(w, req, &params) {
			return
		}
		if err := mgr.MaterializeTemplate(vars["name"], vars["id"], params); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}).Methods(http.MethodPost)

	r.HandleFunc("/quickdeploy", func(w http.ResponseWriter, req *http.Request) {
		var spec graph.Spec
		if !decodeJSON(w, req, &spec) {
			return
		}
		sessionID, uris, err := mgr.QuickDeploy(spec)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"sessionId": sessionID, "uris": uris})
	}).Methods(http.MethodPost)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		return true
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && err.Error() != "EOF" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errkind.HTTPStatus(err), map[string]string{"error": err.Error()})
}

// RemoteChild is an HTTP-transport Child talking to a Node Manager (or a
// lower composite Manager, which exposes the same REST surface) over
// net/http, the client side of NewNodeRouter.
type RemoteChild struct {
	addr       string
	baseURL    string
	httpClient *http.Client
}

// NewRemoteChild returns a Child that issues calls to baseURL (e.g.
// "http://10.0.0.2:8080"), identified for error reporting and rollback
// bookkeeping by addr.
func NewRemoteChild(addr, baseURL string, httpClient *http.Client) *RemoteChild {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RemoteChild{addr: addr, baseURL: baseURL, httpClient: httpClient}
}

func (c *RemoteChild) Address() string { return c.addr }

func (c *RemoteChild) do(method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errkind.RemoteFailure(c.addr, err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return errkind.RemoteFailure(c.addr, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errkind.RemoteFailure(c.addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var body struct{ Error string }
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return errkind.RemoteFailure(c.addr, fmt.Errorf("status %d: %s", resp.StatusCode, body.Error))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *RemoteChild) CreateSession(sessionID string) error {
	return c.do(http.MethodPost, "/sessions/"+sessionID, nil, nil)
}

func (c *RemoteChild) AddGraphSpec(sessionID string, spec graph.Spec) error {
	return c.do(http.MethodPost, "/sessions/"+sessionID+"/graph", spec, nil)
}

func (c *RemoteChild) LinkGraphParts(sessionID, lhsOID, rhsOID, linkType string) error {
	body := map[string]string{"LHS": lhsOID, "RHS": rhsOID, "LinkType": linkType}
	return c.do(http.MethodPost, "/sessions/"+sessionID+"/link", body, nil)
}

func (c *RemoteChild) DeploySession(sessionID string, completed []string) (map[string]string, error) {
	var uris map[string]string
	body := map[string][]string{"Completed": completed}
	err := c.do(http.MethodPost, "/sessions/"+sessionID+"/deploy", body, &uris)
	return uris, err
}

func (c *RemoteChild) GetGraphStatus(sessionID string) (map[string]string, error) {
	var status map[string]string
	err := c.do(http.MethodGet, "/sessions/"+sessionID+"/graph/status", nil, &status)
	return status, err
}

func (c *RemoteChild) GetSessionStatus(sessionID string) (string, error) {
	var body struct{ Status string }
	err := c.do(http.MethodGet, "/sessions/"+sessionID+"/status", nil, &body)
	return body.Status, err
}

func (c *RemoteChild) PropagateDropStatus(sessionID, oid, status string) error {
	body := map[string]string{"Status": status}
	return c.do(http.MethodPost, "/sessions/"+sessionID+"/graph/"+oid+"/status", body, nil)
}

func (c *RemoteChild) DestroySession(sessionID string) error {
	return c.do(http.MethodDelete, "/sessions/"+sessionID, nil, nil)
}
