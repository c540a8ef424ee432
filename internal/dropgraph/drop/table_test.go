package drop

import (
	"testing"

	"github.com/heliograph/dfms/pkg/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableWiringAndCycleRejection(t *testing.T) {
	tbl := NewTable()

	a := NewInMemoryDrop("A")
	app1 := NewBarrierAppDrop("App1", nil)
	b := NewInMemoryDrop("B")

	require.NoError(t, tbl.Add(a))
	require.NoError(t, tbl.Add(app1))
	require.NoError(t, tbl.Add(b))

	require.NoError(t, tbl.AddInput("App1", "A"))
	require.NoError(t, tbl.AddOutput("App1", "B"))

	assert.Equal(t, []string{"A"}, tbl.Inputs("App1"))
	assert.Equal(t, []string{"B"}, tbl.Outputs("App1"))
	producer, ok := tbl.Producer("B")
	assert.True(t, ok)
	assert.Equal(t, "App1", producer)

	err := tbl.AddOutput("App1", "A")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindInvalidRelationship))
}

func TestTableDuplicateOID(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Add(NewInMemoryDrop("X")))
	err := tbl.Add(NewInMemoryDrop("X"))
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindInvalidGraph))
}

func TestTableSingleProducerInvariant(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Add(NewBarrierAppDrop("App1", nil)))
	require.NoError(t, tbl.Add(NewBarrierAppDrop("App2", nil)))
	require.NoError(t, tbl.Add(NewInMemoryDrop("B")))

	require.NoError(t, tbl.AddOutput("App1", "B"))
	err := tbl.AddOutput("App2", "B")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindInvalidRelationship))
}

func TestTableReverseTopological(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Add(NewInMemoryDrop("A")))
	require.NoError(t, tbl.Add(NewBarrierAppDrop("App1", nil)))
	require.NoError(t, tbl.Add(NewInMemoryDrop("B")))

	require.NoError(t, tbl.AddInput("App1", "A"))
	require.NoError(t, tbl.AddOutput("App1", "B"))

	order := tbl.ReverseTopological()
	pos := map[string]int{}
	for i, oid := range order {
		pos[oid] = i
	}
	assert.Less(t, pos["B"], pos["App1"])
	assert.Less(t, pos["App1"], pos["A"])
}
