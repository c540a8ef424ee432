package session

import (
	"testing"

	"github.com/heliograph/dfms/internal/dropgraph/drop"
	"github.com/heliograph/dfms/internal/dropgraph/exec"
	"github.com/heliograph/dfms/internal/dropgraph/graph"
	"github.com/heliograph/dfms/pkg/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLifecycleHappyPath(t *testing.T) {
	s := New("s1", t.TempDir(), nil)
	assert.Equal(t, StatusPristine, s.Status())

	spec := graph.Spec{
		{OID: "A", Type: string(drop.TypeMemory)},
		{OID: "App1", Type: string(drop.TypeBarrier), Inputs: []string{"A"}, Outputs: []string{"B"}},
		{OID: "B", Type: string(drop.TypeMemory)},
	}
	require.NoError(t, s.AddGraphSpec(spec))
	assert.Equal(t, StatusBuilding, s.Status())

	require.NoError(t, s.Deploy(exec.Config{}, nil, nil))
	assert.Equal(t, StatusRunning, s.Status())

	n, ok := s.Graph().Get("A")
	require.True(t, ok)
	a := n.(interface{ Write([]byte) (int, error) })
	_, err := a.Write([]byte("x"))
	require.NoError(t, err)
	completer := n.(interface{ SetCompleted() error })
	require.NoError(t, completer.SetCompleted())

	status := s.GraphStatus()
	assert.Equal(t, "COMPLETED", status["B"])
}

func TestSessionDuplicateOIDFailsDeterministically(t *testing.T) {
	s := New("s1", t.TempDir(), nil)
	spec := graph.Spec{{OID: "A", Type: string(drop.TypeMemory)}}
	require.NoError(t, s.AddGraphSpec(spec))

	err := s.AddGraphSpec(spec)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindInvalidGraph))
}

func TestSessionDeployTwiceFails(t *testing.T) {
	s := New("s1", t.TempDir(), nil)
	require.NoError(t, s.AddGraphSpec(graph.Spec{{OID: "A", Type: string(drop.TypeMemory)}}))
	require.NoError(t, s.Deploy(exec.Config{}, nil, nil))

	err := s.Deploy(exec.Config{}, nil, nil)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindInvalidState))
}

func TestSessionAddGraphSpecAfterDeployFails(t *testing.T) {
	s := New("s1", t.TempDir(), nil)
	require.NoError(t, s.AddGraphSpec(graph.Spec{{OID: "A", Type: string(drop.TypeMemory)}}))
	require.NoError(t, s.Deploy(exec.Config{}, nil, nil))

	err := s.AddGraphSpec(graph.Spec{{OID: "B", Type: string(drop.TypeMemory)}})
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindInvalidState))
}

func TestSessionCycleLeavesSessionPristine(t *testing.T) {
	s := New("s1", t.TempDir(), nil)
	spec := graph.Spec{
		{OID: "A", Type: string(drop.TypeMemory)},
		{OID: "App1", Type: string(drop.TypeBarrier), Inputs: []string{"A"}, Outputs: []string{"A"}},
	}
	err := s.AddGraphSpec(spec)
	require.Error(t, err)
	assert.Equal(t, StatusPristine, s.Status())

	assert.Empty(t, s.Graph().All(), "a failed add must leave the table completely unchanged, not just the session status")

	// The oids must also be free for a subsequent, non-cyclic add to reuse --
	// if "A" or "App1" had survived the rollback, this would fail with
	// InvalidGraph("duplicate oid").
	require.NoError(t, s.AddGraphSpec(graph.Spec{
		{OID: "A", Type: string(drop.TypeMemory)},
		{OID: "App1", Type: string(drop.TypeBarrier), Inputs: []string{"A"}},
	}))
}

func TestSessionDestroyDeletesExpireAfterUseDrops(t *testing.T) {
	s := New("s1", t.TempDir(), nil)
	spec := graph.Spec{{OID: "A", Type: string(drop.TypeMemory), ExpireAfterUse: true}}
	require.NoError(t, s.AddGraphSpec(spec))
	require.NoError(t, s.Deploy(exec.Config{}, nil, nil))
	require.NoError(t, s.Destroy())
	assert.Equal(t, StatusFinished, s.Status())

	n, _ := s.Graph().Get("A")
	st := n.(interface{ Status() drop.Status }).Status()
	assert.Equal(t, drop.StatusDeleted, st)
}
