package graph

import (
	"fmt"

	"github.com/heliograph/dfms/internal/dropgraph/drop"
	"github.com/heliograph/dfms/internal/nativeapp"
	"github.com/heliograph/dfms/pkg/errkind"
)

// Builder constructs a drop.Table from one or more graph specs, following
// the four-step algorithm of the graph-builder component design: validate,
// construct, wire, assert.
type Builder struct {
	dataDir string
	table   *drop.Table
}

// NewBuilder returns a Builder whose FileDrops are stored under dataDir.
func NewBuilder(dataDir string) *Builder {
	return &Builder{dataDir: dataDir, table: drop.NewTable()}
}

// Table returns the drop table built so far.
func (b *Builder) Table() *drop.Table { return b.table }

// AddSpec validates, constructs and wires one graph spec into the builder's
// table. Oids must not already exist in the table (addGraphSpec is
// idempotent per-oid at the session layer, not here: a duplicate oid always
// fails with InvalidGraph). The whole call is transactional: if wiring fails
// partway through (e.g. an edge that would close a cycle), every node this
// call added and every edge it wired is rolled back, so the table is left
// exactly as it was before the call.
func (b *Builder) AddSpec(spec Spec) error {
	if err := validate(spec); err != nil {
		return err
	}

	nodes, err := b.construct(spec)
	if err != nil {
		return err
	}

	added := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if err := b.table.Add(n); err != nil {
			b.table.Remove(added)
			return err
		}
		added = append(added, n.OID())
	}

	if err := b.wire(spec); err != nil {
		b.table.Remove(added)
		return err
	}

	return nil
}

func validate(spec Spec) error {
	seen := make(map[string]bool, len(spec))
	for _, n := range spec {
		if n.OID == "" {
			return errkind.InvalidGraph("node descriptor missing oid")
		}
		if seen[n.OID] {
			return errkind.InvalidGraph("duplicate oid within spec", n.OID)
		}
		seen[n.OID] = true
		if !knownType(n.Type) {
			return errkind.InvalidGraph(fmt.Sprintf("unknown type %q", n.Type), n.OID)
		}
	}
	return nil
}

func knownType(t string) bool {
	switch t {
	case string(drop.TypeFile), string(drop.TypeMemory), string(drop.TypeDirectoryContainer),
		string(drop.TypeContainer), string(drop.TypeBarrier), string(drop.TypeStreaming), string(drop.TypeNativeLib):
		return true
	default:
		return false
	}
}

func (b *Builder) construct(spec Spec) ([]drop.Node, error) {
	nodes := make([]drop.Node, 0, len(spec))
	for _, n := range spec {
		d, err := b.constructOne(n)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, d)
	}
	return nodes, nil
}

func (b *Builder) constructOne(n NodeSpec) (drop.Node, error) {
	switch drop.Type(n.Type) {
	case drop.TypeFile:
		dir := b.dataDir
		if d := n.Params["dir"]; d != "" {
			dir = d
		}
		d, err := drop.NewFileDrop(n.OID, dir)
		if err != nil {
			return nil, errkind.InvalidGraph(err.Error(), n.OID)
		}
		applyDataOptions(d, n)
		return d, nil
	case drop.TypeMemory:
		d := drop.NewInMemoryDrop(n.OID)
		applyDataOptions(d, n)
		return d, nil
	case drop.TypeDirectoryContainer:
		return drop.NewDirectoryContainerDrop(n.OID), nil
	case drop.TypeContainer:
		return drop.NewContainerDrop(n.OID), nil
	case drop.TypeBarrier:
		d := drop.NewBarrierAppDrop(n.OID, nil)
		applyExecutionMode(d, n)
		return d, nil
	case drop.TypeStreaming:
		d := drop.NewStreamingAppDrop(n.OID, nil)
		applyExecutionMode(d, n)
		return d, nil
	case drop.TypeNativeLib:
		// A nativelib node whose params carry streaming=true is wired as a
		// StreamingAppDrop backed by nativeapp.StreamingAdapter instead of
		// NativeLibAppDrop -- the original's DynlibApp/DynlibStreamApp split
		// (supplemented feature, see SPEC_FULL.md §12.5).
		if n.Params["streaming"] == "true" {
			d := drop.NewStreamingAppDrop(n.OID, nativeapp.NewStreamingAdapter(n.App, n.OID, n.Params))
			applyExecutionMode(d, n)
			return d, nil
		}
		d := drop.NewNativeLibAppDrop(n.OID, n.App, n.Params)
		d.Bridge = nativeapp.NewBarrierAdapter(n.App, n.OID, n.Params)
		applyExecutionMode(d, n)
		return d, nil
	default:
		return nil, errkind.InvalidGraph(fmt.Sprintf("unknown type %q", n.Type), n.OID)
	}
}

type dataOptioner interface {
	SetMaxSize(int64)
	SetExpireAfterUse(bool)
	SetDesiredReplicas(int)
}

func applyDataOptions(d dataOptioner, n NodeSpec) {
	if n.MaxSize > 0 {
		d.SetMaxSize(n.MaxSize)
	}
	d.SetExpireAfterUse(n.ExpireAfterUse)
	if n.Replicas > 0 {
		d.SetDesiredReplicas(n.Replicas)
	}
}

type executionModer interface {
	SetExecutionMode(drop.ExecutionMode)
}

func applyExecutionMode(d executionModer, n NodeSpec) {
	if n.ExecutionMode == string(drop.ModeExternal) {
		d.SetExecutionMode(drop.ModeExternal)
	}
}

// wire resolves inputs/outputs/streamingInputs/consumers/producers by oid
// and invokes the wiring operations on the table.
func (b *Builder) wire(spec Spec) error {
	for _, n := range spec {
		isApp := drop.Type(n.Type) == drop.TypeBarrier || drop.Type(n.Type) == drop.TypeStreaming || drop.Type(n.Type) == drop.TypeNativeLib

		if isApp {
			for _, in := range n.Inputs {
				if err := b.table.AddInput(n.OID, in); err != nil {
					return err
				}
			}
			for _, out := range n.Outputs {
				if err := b.table.AddOutput(n.OID, out); err != nil {
					return err
				}
			}
			for _, in := range n.StreamingInputs {
				if err := b.table.AddStreamingInput(n.OID, in); err != nil {
					return err
				}
			}
		} else {
			for _, c := range n.Consumers {
				if err := b.table.AddConsumer(n.OID, c); err != nil {
					return err
				}
			}
			for _, p := range n.Producers {
				if err := b.table.AddProducer(n.OID, p); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
