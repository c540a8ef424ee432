// Package node implements the Node Manager (C6): the bottom tier of the
// manager hierarchy, hosting many sessions on one address space behind a
// single-writer discipline -- every mutation goes through one of Manager's
// public methods, mirroring the teacher's registry-guarded subsystem access.
package node

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/heliograph/dfms/internal/dropgraph/dlm"
	"github.com/heliograph/dfms/internal/dropgraph/drop"
	"github.com/heliograph/dfms/internal/dropgraph/exec"
	"github.com/heliograph/dfms/internal/dropgraph/graph"
	"github.com/heliograph/dfms/internal/dropgraph/session"
	"github.com/heliograph/dfms/internal/manager/templates"
	"github.com/heliograph/dfms/pkg/errkind"
	"github.com/heliograph/dfms/pkg/logger"
)

// Options configures a Manager at construction time.
type Options struct {
	Host      string
	DataDir   string
	ExecCfg   exec.Config
	DLMCfg    dlm.Config
	OnError   exec.ErrorListener
	Templates *templates.Registry
	Log       *logger.Logger
}

// Manager holds a mapping from sessionId to Session and exposes the public
// operations spec.md §4.6 names (also the surface the REST façade and
// composite-manager fan-out layer call through).
type Manager struct {
	host    string
	dataDir string
	execCfg exec.Config
	onError exec.ErrorListener
	log     *logger.Logger

	templates *templates.Registry
	dlmgr     *dlm.DLM

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// New creates a Manager and starts its DLM sweeper.
func New(opts Options) *Manager {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("node-manager")
	}
	tpl := opts.Templates
	if tpl == nil {
		tpl = templates.NewDefaultRegistry()
	}

	m := &Manager{
		host:      opts.Host,
		dataDir:   opts.DataDir,
		execCfg:   opts.ExecCfg,
		onError:   opts.OnError,
		log:       log,
		templates: tpl,
		dlmgr:     dlm.New(opts.DLMCfg, log),
		sessions:  make(map[string]*session.Session),
	}
	m.dlmgr.Start()
	return m
}

// DLM returns the manager's data lifecycle manager, e.g. for wiring a
// replication hook at daemon startup.
func (m *Manager) DLM() *dlm.DLM { return m.dlmgr }

// Shutdown stops the DLM sweeper. Sessions are left as-is: callers wanting a
// clean teardown should DestroySession each id first.
func (m *Manager) Shutdown() { m.dlmgr.Stop() }

func (m *Manager) checkSessionLocked(id string) (*session.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, errkind.NoSession(id)
	}
	return s, nil
}

// CreateSession creates a new, empty session under id.
func (m *Manager) CreateSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[id]; exists {
		return errkind.SessionAlreadyExists(id)
	}
	m.sessions[id] = session.New(id, m.dataDir, m.log)
	m.log.WithField("session", id).Info("created session")
	return nil
}

// AddGraphSpec wires spec into sessionID's drop table and registers any new
// data drops with the DLM.
func (m *Manager) AddGraphSpec(sessionID string, spec graph.Spec) error {
	m.mu.Lock()
	s, err := m.checkSessionLocked(sessionID)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if err := s.AddGraphSpec(spec); err != nil {
		return err
	}
	m.registerWithDLM(s)
	return nil
}

// registerWithDLM adds every data drop in s's table to the DLM. AddDrop is a
// no-op for oids already tracked is not guaranteed -- callers only invoke
// this right after adding new nodes, and the DLM simply overwrites the
// record, which is harmless since CreateTime is informational only.
func (m *Manager) registerWithDLM(s *session.Session) {
	for _, n := range s.Graph().All() {
		if n.Kind() == drop.KindData {
			m.dlmgr.AddDrop(n)
		}
	}
}

// LinkGraphParts wires an edge between two previously added nodes in
// sessionID, used to stitch graph partitions built independently.
func (m *Manager) LinkGraphParts(sessionID, lhsOID, rhsOID, linkType string) error {
	m.mu.Lock()
	s, err := m.checkSessionLocked(sessionID)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return s.LinkGraphParts(lhsOID, rhsOID, linkType)
}

// DeploySession transitions sessionID to RUNNING and returns the uid -> uri
// mapping of every drop in its table, mirroring the original's deploySession
// return value (used to stitch composite-manager partitions together).
func (m *Manager) DeploySession(sessionID string, completed []string) (map[string]string, error) {
	m.mu.Lock()
	s, err := m.checkSessionLocked(sessionID)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := s.Deploy(m.execCfg, m.onError, completed); err != nil {
		return nil, err
	}

	uris := make(map[string]string)
	for _, n := range s.Graph().All() {
		if withURI, ok := n.(interface{ URI() string }); ok {
			uris[n.UID()] = withURI.URI()
		}
	}
	return uris, nil
}

// QuickDeploy is the supplemented convenience operation from the original's
// data_object_manager.py: createSession + addGraphSpec + deploySession in one
// call, under a generated session id.
func (m *Manager) QuickDeploy(spec graph.Spec) (sessionID string, uris map[string]string, err error) {
	sessionID = uuid.NewString()
	if err = m.CreateSession(sessionID); err != nil {
		return "", nil, err
	}
	if err = m.AddGraphSpec(sessionID, spec); err != nil {
		return "", nil, err
	}
	uris, err = m.DeploySession(sessionID, nil)
	if err != nil {
		return "", nil, err
	}
	return sessionID, uris, nil
}

// GetGraph returns sessionID's drop table.
func (m *Manager) GetGraph(sessionID string) (*drop.Table, error) {
	m.mu.Lock()
	s, err := m.checkSessionLocked(sessionID)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Graph(), nil
}

// GetGraphStatus returns a per-drop status/execStatus snapshot for sessionID.
func (m *Manager) GetGraphStatus(sessionID string) (map[string]string, error) {
	m.mu.Lock()
	s, err := m.checkSessionLocked(sessionID)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.GraphStatus(), nil
}

// GetSessionStatus returns sessionID's lifecycle status.
func (m *Manager) GetSessionStatus(sessionID string) (session.Status, error) {
	m.mu.Lock()
	s, err := m.checkSessionLocked(sessionID)
	m.mu.Unlock()
	if err != nil {
		return "", err
	}
	return s.Status(), nil
}

// PropagateDropStatus applies a status reached by the real upstream drop oid
// is standing in for to the local node, used by a composite Manager to
// forward a remote producer's completion or failure to the stub data drop it
// stitched into a cross-node consumer edge (spec.md §4.7). Only COMPLETED and
// ERROR are meaningful terminal statuses to forward; anything else is
// rejected rather than silently ignored.
func (m *Manager) PropagateDropStatus(sessionID, oid, status string) error {
	m.mu.Lock()
	s, err := m.checkSessionLocked(sessionID)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	n, ok := s.Graph().Get(oid)
	if !ok {
		return errkind.InvalidGraph("unknown oid", oid)
	}

	switch drop.Status(status) {
	case drop.StatusCompleted:
		d, ok := n.(interface{ SetCompleted() error })
		if !ok {
			return errkind.InvalidState("oid does not accept completion", oid)
		}
		return d.SetCompleted()
	case drop.StatusError:
		d, ok := n.(interface{ SetError(error) error })
		if !ok {
			return errkind.InvalidState("oid does not accept error", oid)
		}
		return d.SetError(errkind.RemoteFailure(sessionID, fmt.Errorf("remote producer for %s failed", oid)))
	default:
		return errkind.InvalidState("unsupported propagated status "+status, oid)
	}
}

// AppTriggered forwards an externally-driven input completion to sessionID's
// execution engine.
func (m *Manager) AppTriggered(sessionID, appOID string) error {
	m.mu.Lock()
	s, err := m.checkSessionLocked(sessionID)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return s.AppTriggered(appOID)
}

// DestroySession tears sessionID's drops down and removes it from the
// manager's session map.
func (m *Manager) DestroySession(sessionID string) error {
	m.mu.Lock()
	s, err := m.checkSessionLocked(sessionID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	for _, n := range s.Graph().All() {
		m.dlmgr.Forget(n.UID())
	}
	return s.Destroy()
}

// GetSessionIds returns the ids of every session currently held.
func (m *Manager) GetSessionIds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// GetTemplates enumerates the registered graph-spec templates.
func (m *Manager) GetTemplates() []templates.Descriptor {
	return m.templates.List()
}

// MaterializeTemplate resolves name in the template registry, invokes it with
// params, and adds the resulting graph spec to sessionID.
func (m *Manager) MaterializeTemplate(name, sessionID string, params map[string]string) error {
	m.mu.Lock()
	_, err := m.checkSessionLocked(sessionID)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	spec, err := m.templates.Materialize(name, params)
	if err != nil {
		return err
	}
	return m.AddGraphSpec(sessionID, spec)
}

// SessionCount reports how many sessions are currently tracked, exposed for
// metrics and composite-manager status aggregation.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// URI returns an opaque address for this manager instance, used to populate
// drop URIs and for peer discovery advertisement.
func (m *Manager) URI(port int) string {
	return fmt.Sprintf("%s:%d", m.host, port)
}
