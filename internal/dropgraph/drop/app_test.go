package drop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarrierAppDropLifecycle(t *testing.T) {
	app := NewBarrierAppDrop("App1", nil)
	require.NoError(t, app.SetRunning())
	require.Error(t, app.SetRunning(), "must not re-enter RUNNING")
	require.NoError(t, app.SetFinished())
	require.Error(t, app.SetFinished(), "FINISHED must be terminal")
}

func TestAppFiresAtMostOnce(t *testing.T) {
	app := NewBarrierAppDrop("App1", nil)
	assert.True(t, app.tryFire())
	assert.False(t, app.tryFire())
}

func TestExternalModeFiresOnceCardinalityReached(t *testing.T) {
	tbl := NewTable()
	app := NewBarrierAppDrop("App1", nil)
	app.SetExecutionMode(ModeExternal)
	require.NoError(t, tbl.Add(app))
	require.NoError(t, tbl.Add(NewInMemoryDrop("A")))
	require.NoError(t, tbl.Add(NewInMemoryDrop("B")))
	require.NoError(t, tbl.AddInput("App1", "A"))
	require.NoError(t, tbl.AddInput("App1", "B"))

	assert.False(t, app.AppTriggered())
	assert.True(t, app.AppTriggered())
	assert.False(t, app.AppTriggered(), "further triggers after firing are no-ops")
}

func TestAppErrorIsTerminal(t *testing.T) {
	app := NewBarrierAppDrop("App1", nil)
	require.NoError(t, app.SetError(assertErr))
	require.Error(t, app.SetFinished())
}
