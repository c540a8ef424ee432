package daemon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerInfoAbsentReportsNotRunning(t *testing.T) {
	d := New(Config{}, nil)
	_, running := d.ManagerInfo(KindNode)
	assert.False(t, running)
}

func TestStopManagerOnAbsentKindIsNoop(t *testing.T) {
	d := New(Config{}, nil)
	require.NoError(t, d.StopManager(KindMaster))
}

func TestStartManagerRejectsDuplicate(t *testing.T) {
	d := New(Config{BinDir: t.TempDir(), GraceTimeout: time.Millisecond}, nil)
	d.procs[KindNode] = &managerProc{pid: 1234}

	_, err := d.StartManager(KindNode, nil)
	require.Error(t, err)
}
