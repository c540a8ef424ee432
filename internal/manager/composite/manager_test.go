package composite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliograph/dfms/internal/dropgraph/dlm"
	"github.com/heliograph/dfms/internal/dropgraph/exec"
	"github.com/heliograph/dfms/internal/dropgraph/graph"
	"github.com/heliograph/dfms/internal/manager/node"
)

func newTestNode(t *testing.T, host string) *node.Manager {
	m := node.New(node.Options{
		Host:    host,
		DataDir: t.TempDir(),
		ExecCfg: exec.Config{MaxPoolSize: 0},
		DLMCfg:  dlm.Config{SweepInterval: time.Hour},
	})
	t.Cleanup(m.Shutdown)
	return m
}

func newTestComposite(t *testing.T) (*Manager, *node.Manager, *node.Manager) {
	n1 := newTestNode(t, "node1")
	n2 := newTestNode(t, "node2")
	children := []Child{
		NewLocalNodeChild("node1", n1),
		NewLocalNodeChild("node2", n2),
	}
	return New(KindDataIsland, children, nil), n1, n2
}

func TestCreateSessionFansOutToAllChildren(t *testing.T) {
	m, n1, n2 := newTestComposite(t)
	require.NoError(t, m.CreateSession("s1"))

	_, err := n1.GetSessionStatus("s1")
	assert.NoError(t, err)
	_, err = n2.GetSessionStatus("s1")
	assert.NoError(t, err)
}

func TestAddGraphSpecPartitionsByNodeAttribute(t *testing.T) {
	m, n1, n2 := newTestComposite(t)
	require.NoError(t, m.CreateSession("s1"))

	spec := graph.Spec{
		{OID: "A", Type: "memory", Node: "node1"},
		{OID: "B", Type: "memory", Node: "node2"},
	}
	require.NoError(t, m.AddGraphSpec("s1", spec))

	g1, err := n1.GetGraph("s1")
	require.NoError(t, err)
	_, ok := g1.Get("A")
	assert.True(t, ok)

	g2, err := n2.GetGraph("s1")
	require.NoError(t, err)
	_, ok = g2.Get("B")
	assert.True(t, ok)
}

// pollGraphStatus polls m.GetGraphStatus(sessionID) until oid reports want
// or the deadline elapses, letting tests observe asynchronous forwarder
// propagation without a fixed sleep.
func pollGraphStatus(t *testing.T, m *Manager, sessionID, oid, want string, timeout time.Duration) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		status, err := m.GetGraphStatus(sessionID)
		require.NoError(t, err)
		if status[oid] == want {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestAddGraphSpecStitchesCrossNodeInputEdge(t *testing.T) {
	m, n1, n2 := newTestComposite(t)
	require.NoError(t, m.CreateSession("s1"))

	spec := graph.Spec{
		{OID: "Src", Type: "memory", Node: "node1"},
		{OID: "App", Type: "barrier", Node: "node2", Inputs: []string{"Src"}},
	}
	require.NoError(t, m.AddGraphSpec("s1", spec))

	g2, err := n2.GetGraph("s1")
	require.NoError(t, err)
	_, ok := g2.Get("Src")
	assert.True(t, ok, "remote input should be stubbed into the consuming child")

	uris, err := m.DeploySession("s1", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, uris)

	// App must not fire just because it was deployed -- only once the real
	// Src drop on node1 actually completes.
	status, err := m.GetGraphStatus("s1")
	require.NoError(t, err)
	assert.NotEqual(t, "FINISHED", status["App"])

	g1, err := n1.GetGraph("s1")
	require.NoError(t, err)
	realSrc, ok := g1.Get("Src")
	require.True(t, ok)
	writer := realSrc.(interface {
		Write([]byte) (int, error)
		SetCompleted() error
	})
	_, err = writer.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, writer.SetCompleted())

	require.True(t, pollGraphStatus(t, m, "s1", "App", "FINISHED", 2*time.Second),
		"App should fire once the forwarder propagates Src's real completion")
}

// TestAddGraphSpecDoesNotFireConsumerWhenRemoteProducerNeverCompletes is the
// negative case: a deliberately incomplete real producer must leave the
// cross-node consumer un-fired indefinitely, not just until some deploy-time
// pre-completion shortcut kicks in.
func TestAddGraphSpecDoesNotFireConsumerWhenRemoteProducerNeverCompletes(t *testing.T) {
	m, _, _ := newTestComposite(t)
	require.NoError(t, m.CreateSession("s1"))

	spec := graph.Spec{
		{OID: "Src", Type: "memory", Node: "node1"},
		{OID: "App", Type: "barrier", Node: "node2", Inputs: []string{"Src"}},
	}
	require.NoError(t, m.AddGraphSpec("s1", spec))

	_, err := m.DeploySession("s1", nil)
	require.NoError(t, err)

	// Give the forwarder several poll cycles to (wrongly) fire App anyway.
	time.Sleep(10 * crossNodePollInterval)

	status, err := m.GetGraphStatus("s1")
	require.NoError(t, err)
	assert.NotEqual(t, "FINISHED", status["App"], "App must not fire while its real remote input is still incomplete")
}

func TestAddGraphSpecRejectsMissingNodeAttribute(t *testing.T) {
	m, _, _ := newTestComposite(t)
	require.NoError(t, m.CreateSession("s1"))

	err := m.AddGraphSpec("s1", graph.Spec{{OID: "A", Type: "memory"}})
	require.Error(t, err)
}

func TestDestroySessionTearsDownEveryChild(t *testing.T) {
	m, n1, n2 := newTestComposite(t)
	require.NoError(t, m.CreateSession("s1"))
	require.NoError(t, m.DestroySession("s1"))

	_, err := n1.GetSessionStatus("s1")
	assert.Error(t, err)
	_, err = n2.GetSessionStatus("s1")
	assert.Error(t, err)
}

func TestGetSessionStatusReportsCoarsestAcrossChildren(t *testing.T) {
	m, _, _ := newTestComposite(t)
	require.NoError(t, m.CreateSession("s1"))
	spec := graph.Spec{
		{OID: "A", Type: "memory", Node: "node1"},
		{OID: "B", Type: "memory", Node: "node2"},
	}
	require.NoError(t, m.AddGraphSpec("s1", spec))
	_, err := m.DeploySession("s1", nil)
	require.NoError(t, err)

	status, err := m.GetSessionStatus("s1")
	require.NoError(t, err)
	assert.Equal(t, "FINISHED", status)
}
