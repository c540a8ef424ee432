package composite

import (
	"github.com/heliograph/dfms/internal/dropgraph/graph"
	"github.com/heliograph/dfms/internal/manager/node"
)

// Child is the surface a composite Manager fans operations out to: either a
// Node Manager directly (Data Island over Node Managers), or another
// composite Manager (Master over Data Islands, or over Node Managers in
// small deployments). Address identifies the child for error reporting and
// for the per-call rollback/hole bookkeeping spec.md §4.7 requires.
type Child interface {
	Address() string
	CreateSession(sessionID string) error
	AddGraphSpec(sessionID string, spec graph.Spec) error
	LinkGraphParts(sessionID, lhsOID, rhsOID, linkType string) error
	DeploySession(sessionID string, completed []string) (map[string]string, error)
	GetGraphStatus(sessionID string) (map[string]string, error)
	GetSessionStatus(sessionID string) (string, error)
	// PropagateDropStatus forwards a remote producer's terminal status to
	// the local stub a prior cross-node LinkGraphParts stitched in,
	// causing the consumer's real event chain to fire (spec.md §4.7).
	PropagateDropStatus(sessionID, oid, status string) error
	DestroySession(sessionID string) error
}

// LocalChild adapts an in-process *node.Manager (or a lower composite
// *Manager, which also exposes the same method set) to Child, used for
// small deployments where a Master sits directly over Node Managers, or in
// tests that don't need a real transport.
type LocalChild struct {
	addr string
	mgr  interface {
		CreateSession(id string) error
		AddGraphSpec(sessionID string, spec graph.Spec) error
		LinkGraphParts(sessionID, lhsOID, rhsOID, linkType string) error
		DeploySession(sessionID string, completed []string) (map[string]string, error)
		GetGraphStatus(sessionID string) (map[string]string, error)
		DestroySession(sessionID string) error
	}
	status    func(sessionID string) (string, error)
	propagate func(sessionID, oid, status string) error
}

// NewLocalNodeChild wraps a Node Manager as a composite Child.
func NewLocalNodeChild(addr string, mgr *node.Manager) *LocalChild {
	return &LocalChild{
		addr: addr,
		mgr:  mgr,
		status: func(sessionID string) (string, error) {
			st, err := mgr.GetSessionStatus(sessionID)
			return string(st), err
		},
		propagate: mgr.PropagateDropStatus,
	}
}

// NewLocalCompositeChild wraps a lower-tier composite Manager (Data Island)
// as a Child of a higher one (Master).
func NewLocalCompositeChild(addr string, mgr *Manager) *LocalChild {
	return &LocalChild{
		addr: addr,
		mgr:  mgr,
		status: func(sessionID string) (string, error) {
			return mgr.GetSessionStatus(sessionID)
		},
		propagate: mgr.PropagateDropStatus,
	}
}

func (c *LocalChild) Address() string { return c.addr }
func (c *LocalChild) CreateSession(sessionID string) error {
	return c.mgr.CreateSession(sessionID)
}
func (c *LocalChild) AddGraphSpec(sessionID string, spec graph.Spec) error {
	return c.mgr.AddGraphSpec(sessionID, spec)
}
func (c *LocalChild) LinkGraphParts(sessionID, lhsOID, rhsOID, linkType string) error {
	return c.mgr.LinkGraphParts(sessionID, lhsOID, rhsOID, linkType)
}
func (c *LocalChild) DeploySession(sessionID string, completed []string) (map[string]string, error) {
	return c.mgr.DeploySession(sessionID, completed)
}
func (c *LocalChild) GetGraphStatus(sessionID string) (map[string]string, error) {
	return c.mgr.GetGraphStatus(sessionID)
}
func (c *LocalChild) GetSessionStatus(sessionID string) (string, error) {
	return c.status(sessionID)
}
func (c *LocalChild) PropagateDropStatus(sessionID, oid, status string) error {
	return c.propagate(sessionID, oid, status)
}
func (c *LocalChild) DestroySession(sessionID string) error {
	return c.mgr.DestroySession(sessionID)
}
