// Package session implements the Session abstraction (C4): one graph
// instance's lifecycle from build through deploy, run and destroy.
package session

import (
	"sync"

	"github.com/heliograph/dfms/internal/dropgraph/drop"
	"github.com/heliograph/dfms/internal/dropgraph/exec"
	"github.com/heliograph/dfms/internal/dropgraph/graph"
	"github.com/heliograph/dfms/pkg/errkind"
	"github.com/heliograph/dfms/pkg/logger"
	"github.com/heliograph/dfms/pkg/metrics"
)

// Status is the session lifecycle state machine.
type Status string

const (
	StatusPristine  Status = "PRISTINE"
	StatusBuilding  Status = "BUILDING"
	StatusDeploying Status = "DEPLOYING"
	StatusRunning   Status = "RUNNING"
	StatusFinished  Status = "FINISHED"
	StatusCancelled Status = "CANCELLED"
)

// Session owns one graph instance's drops, status, and execution engine.
type Session struct {
	id      string
	dataDir string
	log     *logger.Logger

	mu      sync.RWMutex
	status  Status
	builder *graph.Builder
	engine  *exec.Engine
	oids    map[string]bool
}

// New creates an empty, PRISTINE session.
func New(id, dataDir string, log *logger.Logger) *Session {
	if log == nil {
		log = logger.NewDefault("session")
	}
	return &Session{
		id:      id,
		dataDir: dataDir,
		log:     log,
		status:  StatusPristine,
		builder: graph.NewBuilder(dataDir),
		oids:    make(map[string]bool),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// AddGraphSpec wires spec into the session's drop table. Allowed only before
// deployment; idempotent per oid (a repeated oid fails deterministically
// with InvalidGraph, leaving the table unchanged).
func (s *Session) AddGraphSpec(spec graph.Spec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusPristine && s.status != StatusBuilding {
		return errkind.InvalidState("addGraphSpec after deploy", s.id)
	}
	for _, oid := range spec.OIDs() {
		if s.oids[oid] {
			return errkind.InvalidGraph("oid already present in session", oid)
		}
	}
	if err := s.builder.AddSpec(spec); err != nil {
		return err
	}
	for _, oid := range spec.OIDs() {
		s.oids[oid] = true
	}
	s.status = StatusBuilding
	return nil
}

// LinkGraphParts wires an edge between two previously added nodes, used to
// stitch graph partitions built independently (e.g. across composite-manager
// node boundaries).
func (s *Session) LinkGraphParts(lhsOID, rhsOID, linkType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusPristine && s.status != StatusBuilding {
		return errkind.InvalidState("linkGraphParts after deploy", s.id)
	}

	tbl := s.builder.Table()
	switch linkType {
	case "input":
		return tbl.AddInput(lhsOID, rhsOID)
	case "output":
		return tbl.AddOutput(lhsOID, rhsOID)
	case "streamingInput":
		return tbl.AddStreamingInput(lhsOID, rhsOID)
	case "consumer":
		return tbl.AddConsumer(lhsOID, rhsOID)
	case "producer":
		return tbl.AddProducer(lhsOID, rhsOID)
	default:
		return errkind.InvalidGraph("unknown link type "+linkType, lhsOID, rhsOID)
	}
}

// Deploy transitions the session to RUNNING, wires the execution engine, and
// triggers the graph's roots. completed pre-marks certain root data drops as
// already COMPLETED, used when stitching graphs across nodes. Deploying a
// session that is already RUNNING fails with InvalidState.
func (s *Session) Deploy(cfg exec.Config, onError exec.ErrorListener, completed []string) error {
	s.mu.Lock()
	if s.status == StatusRunning || s.status == StatusDeploying {
		s.mu.Unlock()
		return errkind.InvalidState("deploy while already running", s.id)
	}
	if s.status == StatusFinished || s.status == StatusCancelled {
		s.mu.Unlock()
		return errkind.InvalidState("deploy after terminal status", s.id)
	}
	s.status = StatusDeploying
	tbl := s.builder.Table()
	s.engine = exec.New(tbl, s.id, cfg, s.log, onError)
	s.mu.Unlock()

	s.engine.Wire()
	s.engine.FireZeroInputApps()

	// completed pre-marks certain root data drops as already finished,
	// used when stitching graphs across nodes: the upstream partition has
	// already produced the bytes, only the local trigger is missing.
	for _, oid := range completed {
		n, ok := tbl.Get(oid)
		if !ok || n.Kind() != drop.KindData {
			continue
		}
		if d, ok := n.(interface{ SetCompleted() error }); ok {
			_ = d.SetCompleted()
		}
	}

	s.mu.Lock()
	s.status = StatusRunning
	s.mu.Unlock()
	metrics.SetSessionStatusCount(string(StatusRunning), 1)
	return nil
}

// Graph returns the session's drop table.
func (s *Session) Graph() *drop.Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.builder.Table()
}

// GraphStatus returns a per-drop status/execStatus snapshot.
func (s *Session) GraphStatus() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string)
	for _, n := range s.builder.Table().All() {
		switch n.Kind() {
		case drop.KindData:
			if d, ok := n.(interface{ Status() drop.Status }); ok {
				out[n.OID()] = string(d.Status())
			}
		case drop.KindApp:
			if a, ok := n.(interface{ ExecStatus() drop.ExecStatus }); ok {
				out[n.OID()] = string(a.ExecStatus())
			}
		}
	}
	return out
}

// AppTriggered forwards an externally-driven trigger to the session's
// execution engine. Only meaningful once Deploy has run.
func (s *Session) AppTriggered(appOID string) error {
	s.mu.RLock()
	eng := s.engine
	s.mu.RUnlock()
	if eng == nil {
		return errkind.InvalidState("appTriggered before deploy", s.id)
	}
	eng.AppTriggered(appOID)
	return nil
}

// Cancel transitions a RUNNING session to CANCELLED without tearing down
// drops; running apps are expected to observe cancellation cooperatively.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning && s.status != StatusDeploying {
		return errkind.InvalidState("cancel outside RUNNING", s.id)
	}
	s.status = StatusCancelled
	return nil
}

// Destroy walks drops in reverse topological order and deletes the payloads
// of drops marked expireAfterUse. It does not cancel pending expirations or
// unsubscribe event handlers; other drops are left in their current status.
func (s *Session) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusFinished {
		return errkind.InvalidState("destroy already finished session", s.id)
	}

	tbl := s.builder.Table()
	for _, oid := range tbl.ReverseTopological() {
		n, ok := tbl.Get(oid)
		if !ok {
			continue
		}
		d, ok := n.(interface {
			ExpireAfterUse() bool
			ForceDelete() error
		})
		if ok && d.ExpireAfterUse() {
			_ = d.ForceDelete()
		}
	}

	s.status = StatusFinished
	metrics.SetSessionStatusCount(string(StatusFinished), 1)
	return nil
}
