package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliograph/dfms/internal/dropgraph/dlm"
	"github.com/heliograph/dfms/internal/dropgraph/exec"
	"github.com/heliograph/dfms/internal/dropgraph/graph"
	"github.com/heliograph/dfms/internal/dropgraph/session"
	"github.com/heliograph/dfms/pkg/errkind"
)

func newTestManager(t *testing.T) *Manager {
	m := New(Options{
		Host:    "localhost",
		DataDir: t.TempDir(),
		ExecCfg: exec.Config{MaxPoolSize: 0},
		DLMCfg:  dlm.Config{SweepInterval: time.Hour},
	})
	t.Cleanup(m.Shutdown)
	return m
}

func TestCreateSessionRejectsDuplicate(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreateSession("s1"))
	err := m.CreateSession("s1")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindSessionExists))
}

func TestMethodsValidateSessionPresence(t *testing.T) {
	m := newTestManager(t)

	_, err := m.GetGraph("missing")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindNoSession))

	err = m.AddGraphSpec("missing", graph.Spec{})
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindNoSession))
}

func TestQuickDeployProducerConsumerChain(t *testing.T) {
	m := newTestManager(t)

	spec := graph.Spec{
		{OID: "A", Type: "memory"},
		{OID: "App1", Type: "barrier", Inputs: []string{"A"}, Outputs: []string{"B"}},
		{OID: "B", Type: "memory"},
	}

	sessionID, uris, err := m.QuickDeploy(spec)
	require.NoError(t, err)
	assert.NotEmpty(t, sessionID)
	assert.Len(t, uris, 3)

	status, err := m.GetSessionStatus(sessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusRunning, status)
}

func TestDestroySessionRemovesFromDLM(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreateSession("s1"))
	require.NoError(t, m.AddGraphSpec("s1", graph.Spec{{OID: "A", Type: "memory"}}))

	g, err := m.GetGraph("s1")
	require.NoError(t, err)
	a, ok := g.Get("A")
	require.True(t, ok)
	_, tracked := m.DLM().Record(a.UID())
	require.True(t, tracked)

	require.NoError(t, m.DestroySession("s1"))

	_, err = m.GetSessionStatus("s1")
	require.Error(t, err)
	_, tracked = m.DLM().Record(a.UID())
	assert.False(t, tracked)
}

func TestMaterializeTemplateAddsSpecToSession(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreateSession("s1"))

	err := m.MaterializeTemplate("dfms.templates.complex_graph", "s1", map[string]string{"prefix": "t"})
	require.NoError(t, err)

	g, err := m.GetGraph("s1")
	require.NoError(t, err)
	_, ok := g.Get("t_src")
	assert.True(t, ok)
}

func TestMaterializeTemplateUnknownFails(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreateSession("s1"))
	err := m.MaterializeTemplate("no.such.template", "s1", nil)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindNoTemplate))
}
