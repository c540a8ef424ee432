package graph

import (
	"testing"

	"github.com/heliograph/dfms/internal/dropgraph/drop"
	"github.com/heliograph/dfms/pkg/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func producerConsumerSpec() Spec {
	return Spec{
		{OID: "A", Type: string(drop.TypeMemory)},
		{OID: "App1", Type: string(drop.TypeBarrier), Inputs: []string{"A"}, Outputs: []string{"B"}},
		{OID: "B", Type: string(drop.TypeMemory)},
	}
}

func TestBuilderWiresProducerConsumer(t *testing.T) {
	b := NewBuilder(t.TempDir())
	require.NoError(t, b.AddSpec(producerConsumerSpec()))

	tbl := b.Table()
	assert.Equal(t, []string{"A"}, tbl.Inputs("App1"))
	assert.Equal(t, []string{"B"}, tbl.Outputs("App1"))
	producer, ok := tbl.Producer("B")
	assert.True(t, ok)
	assert.Equal(t, "App1", producer)
}

func TestBuilderRejectsCycle(t *testing.T) {
	b := NewBuilder(t.TempDir())
	spec := Spec{
		{OID: "A", Type: string(drop.TypeMemory)},
		{OID: "App1", Type: string(drop.TypeBarrier), Inputs: []string{"A"}, Outputs: []string{"A"}},
	}
	err := b.AddSpec(spec)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindInvalidRelationship))
}

// TestBuilderRejectsCycleLeavesTableUnchanged covers the case where the
// nodes and the A->App1 consumer edge commit fine and only the closing
// App1->A producer edge fails on the cycle check: the whole spec must still
// roll back, not just bail out of wire() with A and App1 left stranded.
func TestBuilderRejectsCycleLeavesTableUnchanged(t *testing.T) {
	b := NewBuilder(t.TempDir())
	spec := Spec{
		{OID: "A", Type: string(drop.TypeMemory)},
		{OID: "App1", Type: string(drop.TypeBarrier), Inputs: []string{"A"}, Outputs: []string{"A"}},
	}
	err := b.AddSpec(spec)
	require.Error(t, err)

	tbl := b.Table()
	assert.Empty(t, tbl.All())
	_, ok := tbl.Get("A")
	assert.False(t, ok)
	_, ok = tbl.Get("App1")
	assert.False(t, ok)

	// The oids must be free for a later, valid spec to reuse them.
	require.NoError(t, b.AddSpec(Spec{
		{OID: "A", Type: string(drop.TypeMemory)},
		{OID: "App1", Type: string(drop.TypeBarrier), Inputs: []string{"A"}},
	}))
}

// TestBuilderRollbackClearsEdgeToPreexistingNode covers a spec that wires a
// consumer edge to a node committed by an earlier AddSpec call, then fails
// later in the same wire() pass (here, closing a cycle back onto that same
// node): rollback must undo the new node's back-reference on the
// already-committed node, not just discard the new node.
func TestBuilderRollbackClearsEdgeToPreexistingNode(t *testing.T) {
	b := NewBuilder(t.TempDir())
	require.NoError(t, b.AddSpec(Spec{{OID: "A", Type: string(drop.TypeMemory)}}))

	spec := Spec{
		{OID: "App1", Type: string(drop.TypeBarrier), Inputs: []string{"A"}, Outputs: []string{"A"}},
	}
	err := b.AddSpec(spec)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindInvalidRelationship))

	tbl := b.Table()
	_, ok := tbl.Get("A")
	require.True(t, ok, "the earlier committed node must survive")
	assert.Empty(t, tbl.Consumers("A"), "the rolled-back app's consumer edge on A must be undone")
	_, ok = tbl.Get("App1")
	assert.False(t, ok)
}

func TestBuilderRejectsUnknownType(t *testing.T) {
	b := NewBuilder(t.TempDir())
	err := b.AddSpec(Spec{{OID: "A", Type: "bogus"}})
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindInvalidGraph))
}

func TestBuilderRejectsDuplicateOIDWithinSpec(t *testing.T) {
	b := NewBuilder(t.TempDir())
	spec := Spec{
		{OID: "A", Type: string(drop.TypeMemory)},
		{OID: "A", Type: string(drop.TypeMemory)},
	}
	err := b.AddSpec(spec)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindInvalidGraph))
}

func TestBuilderFanInBarrier(t *testing.T) {
	b := NewBuilder(t.TempDir())
	spec := Spec{
		{OID: "R1", Type: string(drop.TypeMemory)},
		{OID: "R2", Type: string(drop.TypeMemory)},
		{OID: "R3", Type: string(drop.TypeMemory)},
		{OID: "App", Type: string(drop.TypeBarrier), Inputs: []string{"R1", "R2", "R3"}, Outputs: []string{"O"}},
		{OID: "O", Type: string(drop.TypeMemory)},
	}
	require.NoError(t, b.AddSpec(spec))
	assert.ElementsMatch(t, []string{"R1", "R2", "R3"}, b.Table().Inputs("App"))
}
