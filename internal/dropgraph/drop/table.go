package drop

import (
	"fmt"
	"sync"

	"github.com/heliograph/dfms/pkg/errkind"
)

// Node is the common surface every drop variant implements. Concrete drop
// structs embed dataBase or appBase, which provides it.
type Node interface {
	OID() string
	UID() string
	Kind() Kind
	Type() Type
	Subscribe(topic Topic, handler EventHandler)
}

// Table is the session-owned drop arena: it exclusively owns drop instances
// and represents edges as adjacency lookups rather than pointers, so that
// producers/consumers never form reference cycles in Go's memory model
// (the arena+index shape called for in the design notes on cyclic
// owner/back-edges).
type Table struct {
	mu    sync.RWMutex
	byOID map[string]Node

	// flowsTo[a][b] records a directed data-flow edge a -> b, used both to
	// answer Inputs/Outputs/Consumers/Producer queries and to reject edges
	// that would close a cycle.
	flowsTo map[string]map[string]bool
}

// NewTable returns an empty drop table.
func NewTable() *Table {
	return &Table{
		byOID:   make(map[string]Node),
		flowsTo: make(map[string]map[string]bool),
	}
}

// Add registers a new drop. Duplicate oids fail with InvalidGraph.
func (t *Table) Add(n Node) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byOID[n.OID()]; exists {
		return errkind.InvalidGraph("duplicate oid", n.OID())
	}
	t.byOID[n.OID()] = n
	t.flowsTo[n.OID()] = make(map[string]bool)
	return nil
}

// Remove deletes oids from the table entirely, along with any edge
// connecting them to a node that remains, on either side, cleaning up the
// surviving node's consumer/producer/input/output back-references first.
// Used by Builder.AddSpec to undo a partially-applied spec when wiring fails
// partway through, so a failed add leaves the table exactly as it was.
func (t *Table) Remove(oids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	remove := make(map[string]bool, len(oids))
	for _, oid := range oids {
		remove[oid] = true
	}

	for oid := range remove {
		if _, ok := t.byOID[oid]; !ok {
			continue
		}
		if d, err := t.dataNode(oid); err == nil {
			if d.producer != "" && !remove[d.producer] {
				if a, err := t.appNode(d.producer); err == nil {
					a.removeOutputLocked(oid)
				}
			}
			for _, c := range append([]string(nil), d.consumers...) {
				if !remove[c] {
					if a, err := t.appNode(c); err == nil {
						a.removeInputLocked(oid)
					}
				}
			}
			for _, c := range append([]string(nil), d.streamingConsumers...) {
				if !remove[c] {
					if a, err := t.appNode(c); err == nil {
						a.removeStreamingInputLocked(oid)
					}
				}
			}
		}
		if a, err := t.appNode(oid); err == nil {
			for _, in := range append([]string(nil), a.inputs...) {
				if !remove[in] {
					if d, err := t.dataNode(in); err == nil {
						d.removeConsumerLocked(oid)
					}
				}
			}
			for _, out := range append([]string(nil), a.outputs...) {
				if !remove[out] {
					if d, err := t.dataNode(out); err == nil && d.producer == oid {
						d.producer = ""
					}
				}
			}
			for _, in := range append([]string(nil), a.streamingInputs...) {
				if !remove[in] {
					if d, err := t.dataNode(in); err == nil {
						d.removeStreamingConsumerLocked(oid)
					}
				}
			}
		}

		delete(t.byOID, oid)
		delete(t.flowsTo, oid)
	}

	for from, tos := range t.flowsTo {
		if remove[from] {
			continue
		}
		for to := range tos {
			if remove[to] {
				delete(tos, to)
			}
		}
	}
}

// Get returns the drop with the given oid, if present.
func (t *Table) Get(oid string) (Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.byOID[oid]
	return n, ok
}

// All returns every registered drop, in no particular order.
func (t *Table) All() []Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Node, 0, len(t.byOID))
	for _, n := range t.byOID {
		out = append(out, n)
	}
	return out
}

// addEdge records a -> b after verifying it would not close a cycle
// (b must not already be able to reach a). Idempotent: an edge added twice
// is a no-op, not an error.
func (t *Table) addEdge(a, b string) error {
	if a == b {
		return errkind.InvalidRelationship("self edge", a)
	}
	if t.flowsTo[a][b] {
		return nil
	}
	if t.reaches(b, a) {
		return errkind.InvalidRelationship(fmt.Sprintf("edge %s->%s would create a cycle", a, b), a, b)
	}
	t.flowsTo[a][b] = true
	return nil
}

// reaches reports whether a directed path from -> to exists, assuming the
// caller already holds t.mu.
func (t *Table) reaches(from, to string) bool {
	if from == to {
		return true
	}
	visited := make(map[string]bool)
	var walk func(n string) bool
	walk = func(n string) bool {
		if visited[n] {
			return false
		}
		visited[n] = true
		for next := range t.flowsTo[n] {
			if next == to || walk(next) {
				return true
			}
		}
		return false
	}
	return walk(from)
}

func (t *Table) dataNode(oid string) (*dataBase, error) {
	n, ok := t.byOID[oid]
	if !ok {
		return nil, errkind.InvalidGraph("unknown oid", oid)
	}
	d, ok := n.(interface{ dataBasePtr() *dataBase })
	if !ok {
		return nil, errkind.InvalidRelationship("oid is not a data drop", oid)
	}
	return d.dataBasePtr(), nil
}

func (t *Table) appNode(oid string) (*appBase, error) {
	n, ok := t.byOID[oid]
	if !ok {
		return nil, errkind.InvalidGraph("unknown oid", oid)
	}
	a, ok := n.(interface{ appBasePtr() *appBase })
	if !ok {
		return nil, errkind.InvalidRelationship("oid is not an app drop", oid)
	}
	return a.appBasePtr(), nil
}

// AddOutput wires appOID as the (sole) producer of dataOID.
func (t *Table) AddOutput(appOID, dataOID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, err := t.appNode(appOID)
	if err != nil {
		return err
	}
	d, err := t.dataNode(dataOID)
	if err != nil {
		return err
	}
	if d.producer != "" && d.producer != appOID {
		return errkind.InvalidRelationship("data drop already has a producer", dataOID)
	}
	if err := t.addEdge(appOID, dataOID); err != nil {
		return err
	}
	d.producer = appOID
	a.addOutputLocked(dataOID)
	return nil
}

// AddProducer is the data-drop-first spelling of AddOutput.
func (t *Table) AddProducer(dataOID, appOID string) error {
	return t.AddOutput(appOID, dataOID)
}

// AddInput wires appOID as a (non-streaming) consumer of dataOID.
func (t *Table) AddInput(appOID, dataOID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, err := t.appNode(appOID)
	if err != nil {
		return err
	}
	d, err := t.dataNode(dataOID)
	if err != nil {
		return err
	}
	if err := t.addEdge(dataOID, appOID); err != nil {
		return err
	}
	d.addConsumerLocked(appOID)
	a.addInputLocked(dataOID)
	return nil
}

// AddConsumer is the data-drop-first spelling of AddInput.
func (t *Table) AddConsumer(dataOID, appOID string) error {
	return t.AddInput(appOID, dataOID)
}

// AddStreamingInput wires appOID as a streaming consumer of dataOID: it
// receives partial writes instead of waiting for completion.
func (t *Table) AddStreamingInput(appOID, dataOID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, err := t.appNode(appOID)
	if err != nil {
		return err
	}
	d, err := t.dataNode(dataOID)
	if err != nil {
		return err
	}
	if err := t.addEdge(dataOID, appOID); err != nil {
		return err
	}
	d.addStreamingConsumerLocked(appOID)
	a.addStreamingInputLocked(dataOID)
	return nil
}

// Inputs returns the non-streaming input oids of an app drop.
func (t *Table) Inputs(appOID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, err := t.appNode(appOID)
	if err != nil {
		return nil
	}
	return append([]string(nil), a.inputs...)
}

// Outputs returns the output oids of an app drop.
func (t *Table) Outputs(appOID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, err := t.appNode(appOID)
	if err != nil {
		return nil
	}
	return append([]string(nil), a.outputs...)
}

// StreamingInputs returns the streaming input oids of an app drop.
func (t *Table) StreamingInputs(appOID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, err := t.appNode(appOID)
	if err != nil {
		return nil
	}
	return append([]string(nil), a.streamingInputs...)
}

// Consumers returns the app oids that consume a data drop.
func (t *Table) Consumers(dataOID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, err := t.dataNode(dataOID)
	if err != nil {
		return nil
	}
	return append([]string(nil), d.consumers...)
}

// StreamingConsumers returns the app oids streaming-consuming a data drop.
func (t *Table) StreamingConsumers(dataOID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, err := t.dataNode(dataOID)
	if err != nil {
		return nil
	}
	return append([]string(nil), d.streamingConsumers...)
}

// Producer returns the app oid that produces a data drop, if any.
func (t *Table) Producer(dataOID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, err := t.dataNode(dataOID)
	if err != nil || d.producer == "" {
		return "", false
	}
	return d.producer, true
}

// Roots returns the oids with no producer (data) or no inputs (app) --
// the drops a session triggers first on deploy.
func (t *Table) Roots() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var roots []string
	for oid, n := range t.byOID {
		switch n.Kind() {
		case KindData:
			d, _ := t.dataNode(oid)
			if d.producer == "" {
				roots = append(roots, oid)
			}
		case KindApp:
			a, _ := t.appNode(oid)
			if len(a.inputs) == 0 && len(a.streamingInputs) == 0 {
				roots = append(roots, oid)
			}
		}
	}
	return roots
}

// Leaves returns the oids with no outgoing flow edge.
func (t *Table) Leaves() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var leaves []string
	for oid := range t.byOID {
		if len(t.flowsTo[oid]) == 0 {
			leaves = append(leaves, oid)
		}
	}
	return leaves
}

// ReverseTopological returns all oids ordered so that every drop appears
// before anything it flows into is guaranteed already processed -- i.e. in
// the order Session.Destroy must tear drops down (consumers/sinks first).
func (t *Table) ReverseTopological() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	visited := make(map[string]bool, len(t.byOID))
	var order []string
	var visit func(oid string)
	visit = func(oid string) {
		if visited[oid] {
			return
		}
		visited[oid] = true
		for next := range t.flowsTo[oid] {
			visit(next)
		}
		order = append(order, oid)
	}
	for oid := range t.byOID {
		visit(oid)
	}
	// Post-order DFS over flow edges (producer -> consumer) appends a node
	// only after all of its downstream neighbors, so order already lists
	// sinks before sources: exactly the teardown order destroy needs.
	return order
}
