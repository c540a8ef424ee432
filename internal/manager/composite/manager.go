// Package composite implements the Data Island and Master Managers (C7):
// the two upper tiers of the manager hierarchy, each owning a static list
// of child addresses and fanning operations out to them in parallel,
// mirroring the Node Manager's public surface at one remove.
package composite

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/heliograph/dfms/internal/dropgraph/graph"
	"github.com/heliograph/dfms/pkg/errkind"
	"github.com/heliograph/dfms/pkg/logger"
)

// Kind names the composite tier, used only for logging.
type Kind string

const (
	KindDataIsland Kind = "dataisland"
	KindMaster     Kind = "master"
)

// crossLink records one cross-node edge LinkGraphParts stitched: the real
// producer of oid lives on producerAddr, and a stub of oid was injected into
// consumerAddr so a local app there could be wired to it. DeploySession uses
// these to start a forwarder per edge instead of pre-marking the stub
// COMPLETED, so the consumer only fires once the real producer does
// (spec.md §4.7).
type crossLink struct {
	producerAddr string
	consumerAddr string
	oid          string
}

// sessionState is the per-session bookkeeping a composite Manager keeps in
// order to resolve LinkGraphParts calls and forward cross-node drop status
// without asking children to remember cross-boundary detail themselves.
type sessionState struct {
	ownerAddr  map[string]string // oid -> owning child address
	typeOf     map[string]string // oid -> drop type, for stub construction
	stubbed    map[string]map[string]bool
	crossLinks []crossLink
	stopCh     chan struct{} // closed by DestroySession to stop forwarders
}

func newSessionState() *sessionState {
	return &sessionState{
		ownerAddr: make(map[string]string),
		typeOf:    make(map[string]string),
		stubbed:   make(map[string]map[string]bool),
		stopCh:    make(chan struct{}),
	}
}

// Manager fans session operations out to a static list of children.
type Manager struct {
	kind     Kind
	children []Child
	byAddr   map[string]Child
	log      *logger.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// New returns a composite Manager of the given kind over children.
func New(kind Kind, children []Child, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault(string(kind) + "-manager")
	}
	byAddr := make(map[string]Child, len(children))
	for _, c := range children {
		byAddr[c.Address()] = c
	}
	return &Manager{
		kind:     kind,
		children: children,
		byAddr:   byAddr,
		log:      log,
		sessions: make(map[string]*sessionState),
	}
}

// AddNode registers a new child address, used by a Master reacting to the
// daemon's discovery callbacks (addNode/removeNode, spec.md §4.8).
func (m *Manager) AddNode(c Child) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.children = append(m.children, c)
	m.byAddr[c.Address()] = c
}

// RemoveNode drops a child address from the static list.
func (m *Manager) RemoveNode(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byAddr, addr)
	for i, c := range m.children {
		if c.Address() == addr {
			m.children = append(m.children[:i], m.children[i+1:]...)
			break
		}
	}
}

func (m *Manager) childrenSnapshot() []Child {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Child(nil), m.children...)
}

// fanOut runs fn against every child in parallel and returns a map of
// address -> error for every child that failed (absent entries succeeded).
func fanOut(children []Child, fn func(Child) error) map[string]error {
	var mu sync.Mutex
	failures := make(map[string]error)
	var g errgroup.Group
	for _, c := range children {
		c := c
		g.Go(func() error {
			if err := fn(c); err != nil {
				mu.Lock()
				failures[c.Address()] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures
}

func aggregate(failures map[string]error) error {
	if len(failures) == 0 {
		return nil
	}
	ids := make([]string, 0, len(failures))
	errs := make([]error, 0, len(failures))
	for addr, err := range failures {
		ids = append(ids, addr)
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
	}
	return errkind.RemoteFailure(fmt.Sprintf("%v", ids), errors.Join(errs...))
}

// CreateSession creates sessionID on every child. A failure on any child
// rolls back the children that succeeded (best-effort DestroySession) and
// reports the aggregated error, per spec.md §4.7's partial-failure policy
// for structural calls.
func (m *Manager) CreateSession(sessionID string) error {
	children := m.childrenSnapshot()

	var succeeded []Child
	var mu sync.Mutex
	failures := fanOut(children, func(c Child) error {
		if err := c.CreateSession(sessionID); err != nil {
			return err
		}
		mu.Lock()
		succeeded = append(succeeded, c)
		mu.Unlock()
		return nil
	})

	if len(failures) > 0 {
		fanOut(succeeded, func(c Child) error { return c.DestroySession(sessionID) })
		return aggregate(failures)
	}

	m.mu.Lock()
	m.sessions[sessionID] = newSessionState()
	m.mu.Unlock()
	m.log.WithField("session", sessionID).Info("created composite session")
	return nil
}

// AddGraphSpec partitions spec by its node attribute, ships each partition
// to its owning child, then reconnects every inter-node edge discovered by
// the partitioner via LinkGraphParts.
func (m *Manager) AddGraphSpec(sessionID string, spec graph.Spec) error {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return errkind.NoSession(sessionID)
	}

	parts, cross, err := partitionSpec(spec)
	if err != nil {
		return err
	}

	for addr := range parts {
		if _, known := m.byAddr[addr]; !known {
			return errkind.InvalidGraph("unknown composite child address", addr)
		}
	}

	m.mu.Lock()
	for _, n := range spec {
		st.ownerAddr[n.OID] = n.Node
		st.typeOf[n.OID] = n.Type
	}
	m.mu.Unlock()

	var mu sync.Mutex
	var g errgroup.Group
	var succeeded []Child
	failures := make(map[string]error)
	for addr, part := range parts {
		addr, part, c := addr, part, m.byAddr[addr]
		g.Go(func() error {
			if err := c.AddGraphSpec(sessionID, part); err != nil {
				mu.Lock()
				failures[addr] = err
				mu.Unlock()
				return nil
			}
			mu.Lock()
			succeeded = append(succeeded, c)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) > 0 {
		fanOut(succeeded, func(c Child) error { return c.DestroySession(sessionID) })
		return aggregate(failures)
	}

	for _, cl := range cross {
		if err := m.LinkGraphParts(sessionID, cl.lhsOID, cl.rhsOID, cl.linkType); err != nil {
			return err
		}
	}
	return nil
}

// LinkGraphParts wires lhsOID/rhsOID together. If both live on the same
// child, the call is forwarded as-is. Otherwise it's a cross-boundary edge:
// the consumer's child gets a stub of the remote oid injected via
// AddGraphSpec and wired locally, and the edge is recorded as a crossLink so
// DeploySession can start a forwarder that propagates the real producer's
// eventual status to that stub (spec.md §4.7) -- this implementation still
// doesn't move bytes across a real transport (see DESIGN.md), but the
// consumer's app now only fires once the real upstream drop does.
func (m *Manager) LinkGraphParts(sessionID, lhsOID, rhsOID, linkType string) error {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return errkind.NoSession(sessionID)
	}

	lhsAddr, lhsOK := st.ownerAddr[lhsOID]
	rhsAddr, rhsOK := st.ownerAddr[rhsOID]
	if !lhsOK || !rhsOK {
		return errkind.InvalidGraph("unknown oid in composite link", lhsOID, rhsOID)
	}

	if lhsAddr == rhsAddr {
		return m.byAddr[lhsAddr].LinkGraphParts(sessionID, lhsOID, rhsOID, linkType)
	}

	// appAddr is whichever side consumes the other; dataOID/appOID follow
	// Session.LinkGraphParts' argument convention per linkType. producerAddr
	// is the child that genuinely owns dataOID, the source a forwarder polls.
	var appAddr, dataOID, appOID, typeOID, producerAddr string
	switch linkType {
	case "input", "streamingInput":
		appAddr, appOID, dataOID = lhsAddr, lhsOID, rhsOID
		producerAddr = rhsAddr
	case "consumer":
		appAddr, dataOID, appOID = rhsAddr, lhsOID, rhsOID
		producerAddr = lhsAddr
	default:
		return errkind.InvalidRelationship("production edge crosses node boundary, unsupported", lhsOID, rhsOID)
	}
	typeOID = dataOID

	m.mu.Lock()
	if st.stubbed[appAddr] == nil {
		st.stubbed[appAddr] = make(map[string]bool)
	}
	alreadyStubbed := st.stubbed[appAddr][typeOID]
	if !alreadyStubbed {
		st.stubbed[appAddr][typeOID] = true
	}
	m.mu.Unlock()

	child := m.byAddr[appAddr]
	if !alreadyStubbed {
		stub := graph.Spec{{OID: typeOID, Type: st.typeOf[typeOID], Node: appAddr}}
		if err := child.AddGraphSpec(sessionID, stub); err != nil {
			return err
		}
	}

	lhs, rhs := appOID, dataOID
	if linkType == "consumer" {
		lhs, rhs = dataOID, appOID
	}
	if err := child.LinkGraphParts(sessionID, lhs, rhs, linkType); err != nil {
		return err
	}

	if !alreadyStubbed {
		m.mu.Lock()
		st.crossLinks = append(st.crossLinks, crossLink{producerAddr: producerAddr, consumerAddr: appAddr, oid: typeOID})
		m.mu.Unlock()
	}
	return nil
}

// DeploySession deploys sessionID on every child in parallel, then starts one
// forwarder goroutine per cross-node edge LinkGraphParts stitched, so each
// stubbed input completes (or errors) only once the real producer does.
// Status aggregation is the element-wise union of every child's uid->uri map.
func (m *Manager) DeploySession(sessionID string, completed []string) (map[string]string, error) {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, errkind.NoSession(sessionID)
	}

	children := m.childrenSnapshot()
	var succeeded []Child
	var mu sync.Mutex
	uris := make(map[string]string)

	failures := fanOut(children, func(c Child) error {
		childURIs, err := c.DeploySession(sessionID, completed)
		if err != nil {
			return err
		}
		mu.Lock()
		succeeded = append(succeeded, c)
		for uid, uri := range childURIs {
			uris[uid] = uri
		}
		mu.Unlock()
		return nil
	})

	if len(failures) > 0 {
		fanOut(succeeded, func(c Child) error { return c.DestroySession(sessionID) })
		return nil, aggregate(failures)
	}

	m.startCrossNodeForwarders(sessionID, st)
	return uris, nil
}

// crossNodePollInterval is the cadence a forwarder polls a producer child's
// status at. spec.md §4.7 only requires eventual propagation, not a bound on
// latency, so a short, cheap poll stands in for a push channel the REST
// transport doesn't offer.
const crossNodePollInterval = 200 * time.Millisecond

// startCrossNodeForwarders launches one goroutine per cross-node edge
// recorded against st, each polling the real producer's graph status until
// oid reaches a terminal state and then propagating that state to the stub
// injected into the consumer (spec.md §4.7). Forwarders exit on their own
// once they've propagated once, or when st.stopCh is closed by
// DestroySession.
func (m *Manager) startCrossNodeForwarders(sessionID string, st *sessionState) {
	m.mu.Lock()
	links := append([]crossLink(nil), st.crossLinks...)
	stopCh := st.stopCh
	m.mu.Unlock()

	for _, cl := range links {
		producer, ok := m.byAddr[cl.producerAddr]
		if !ok {
			continue
		}
		consumer, ok := m.byAddr[cl.consumerAddr]
		if !ok {
			continue
		}
		go m.forwardCrossNodeStatus(sessionID, cl, producer, consumer, stopCh)
	}
}

func (m *Manager) forwardCrossNodeStatus(sessionID string, cl crossLink, producer, consumer Child, stopCh <-chan struct{}) {
	ticker := time.NewTicker(crossNodePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		status, err := producer.GetGraphStatus(sessionID)
		if err != nil {
			continue
		}
		s, ok := status[cl.oid]
		if !ok || (s != "COMPLETED" && s != "ERROR") {
			continue
		}
		if err := consumer.PropagateDropStatus(sessionID, cl.oid, s); err != nil {
			m.log.WithField("session", sessionID).WithField("oid", cl.oid).WithField("err", err).
				Warn("composite: cross-node status propagation failed")
		}
		return
	}
}

// GetGraphStatus aggregates every child's per-drop status map. A child that
// errors contributes a hole, identified by its address, rather than failing
// the whole call (query calls tolerate per-child errors per spec.md §4.7).
func (m *Manager) GetGraphStatus(sessionID string) (map[string]string, error) {
	if _, ok := m.sessionState(sessionID); !ok {
		return nil, errkind.NoSession(sessionID)
	}

	children := m.childrenSnapshot()
	out := make(map[string]string)
	var mu sync.Mutex
	var g errgroup.Group
	for _, c := range children {
		c := c
		g.Go(func() error {
			status, err := c.GetGraphStatus(sessionID)
			if err != nil {
				mu.Lock()
				out["__error__:"+c.Address()] = err.Error()
				mu.Unlock()
				return nil
			}
			mu.Lock()
			for oid, s := range status {
				out[oid] = s
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// GetSessionStatus reports the coarsest status seen across children: RUNNING
// if any child is still running, FINISHED only once every child agrees.
func (m *Manager) GetSessionStatus(sessionID string) (string, error) {
	if _, ok := m.sessionState(sessionID); !ok {
		return "", errkind.NoSession(sessionID)
	}

	children := m.childrenSnapshot()
	statuses := make([]string, 0, len(children))
	var mu sync.Mutex
	var g errgroup.Group
	for _, c := range children {
		c := c
		g.Go(func() error {
			s, err := c.GetSessionStatus(sessionID)
			if err != nil {
				return nil
			}
			mu.Lock()
			statuses = append(statuses, s)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(statuses) == 0 {
		return "", errkind.NoSession(sessionID)
	}
	best := statuses[0]
	rank := map[string]int{"PRISTINE": 0, "BUILDING": 1, "DEPLOYING": 2, "RUNNING": 3, "CANCELLED": 4, "FINISHED": 5}
	for _, s := range statuses[1:] {
		if rank[s] < rank[best] {
			best = s
		}
	}
	return best, nil
}

// DestroySession tears sessionID down on every child, best-effort, stops any
// still-running cross-node forwarders, and drops the composite's own
// bookkeeping regardless of per-child errors.
func (m *Manager) DestroySession(sessionID string) error {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return errkind.NoSession(sessionID)
	}
	close(st.stopCh)

	children := m.childrenSnapshot()
	failures := fanOut(children, func(c Child) error { return c.DestroySession(sessionID) })
	return aggregate(failures)
}

// PropagateDropStatus routes a forwarded status to whichever child actually
// owns oid, so a composite Manager nested under another composite (Master
// over Data Islands) satisfies the same Child surface a Node Manager does.
func (m *Manager) PropagateDropStatus(sessionID, oid, status string) error {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return errkind.NoSession(sessionID)
	}

	addr, ok := st.ownerAddr[oid]
	if !ok {
		return errkind.InvalidGraph("unknown oid in composite propagate", oid)
	}
	child, ok := m.byAddr[addr]
	if !ok {
		return errkind.InvalidGraph("owning child no longer known", addr)
	}
	return child.PropagateDropStatus(sessionID, oid, status)
}

func (m *Manager) sessionState(sessionID string) (*sessionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	return st, ok
}

// GetSessionIds returns every session id the composite has created.
func (m *Manager) GetSessionIds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}
