package dlm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliograph/dfms/internal/dropgraph/drop"
)

func TestSweepExpiresAndEvictsPastDeadline(t *testing.T) {
	m := New(Config{SweepInterval: time.Hour}, nil)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	d := drop.NewInMemoryDrop("A")
	d.SetExpiration(fixed.Add(-time.Second))
	_, err := d.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, d.SetCompleted())

	m.AddDrop(d)
	m.Sweep()

	assert.Equal(t, drop.StatusDeleted, d.Status())
}

func TestSweepLeavesUnexpiredDropsAlone(t *testing.T) {
	m := New(Config{SweepInterval: time.Hour}, nil)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	d := drop.NewInMemoryDrop("A")
	d.SetExpiration(fixed.Add(time.Hour))
	_, _ = d.Write([]byte("x"))
	require.NoError(t, d.SetCompleted())

	m.AddDrop(d)
	m.Sweep()

	assert.Equal(t, drop.StatusCompleted, d.Status())
}

func TestForgetRemovesRecordImmediately(t *testing.T) {
	m := New(Config{}, nil)
	d := drop.NewInMemoryDrop("A")
	m.AddDrop(d)

	_, ok := m.Record(d.UID())
	require.True(t, ok)

	m.Forget(d.UID())
	_, ok = m.Record(d.UID())
	assert.False(t, ok)
}

func TestDeletedStatusForgetsAutomatically(t *testing.T) {
	m := New(Config{}, nil)
	d := drop.NewInMemoryDrop("A")
	m.AddDrop(d)
	require.NoError(t, d.ForceDelete())

	_, ok := m.Record(d.UID())
	assert.False(t, ok)
}

func TestCascadingContainerEviction(t *testing.T) {
	m := New(Config{SweepInterval: time.Hour}, nil)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	container := drop.NewDirectoryContainerDrop("Dir")
	container.SetExpiration(fixed.Add(-time.Second))
	require.NoError(t, container.SetCompleted())

	child := drop.NewInMemoryDrop("Child")
	_, _ = child.Write([]byte("x"))
	require.NoError(t, child.SetCompleted())
	container.AddChild(child.OID())

	m.AddDrop(container)
	m.AddDrop(child)
	m.Sweep()

	assert.Equal(t, drop.StatusDeleted, container.Status())
	assert.Equal(t, drop.StatusDeleted, child.Status())
}

func TestNewParsesCronSchedule(t *testing.T) {
	m := New(Config{CronSchedule: "*/5 * * * *"}, nil)
	require.NotNil(t, m.schedule)
}

func TestNewFallsBackToTickerOnInvalidCronSchedule(t *testing.T) {
	m := New(Config{CronSchedule: "not a schedule"}, nil)
	assert.Nil(t, m.schedule)
}

func TestReplicationHookInvokedWhenShortOfDesiredCount(t *testing.T) {
	m := New(Config{DefaultReplicas: 2}, nil)
	var gotUID string
	var gotDesired int
	m.SetReplicationHook(func(uid string, desired int) []string {
		gotUID, gotDesired = uid, desired
		return []string{"node2://A"}
	})

	d := drop.NewInMemoryDrop("A")
	m.AddDrop(d)
	m.Sweep()

	assert.Equal(t, d.UID(), gotUID)
	assert.Equal(t, 2, gotDesired)

	rec, ok := m.Record(d.UID())
	require.True(t, ok)
	assert.Equal(t, []string{"node2://A"}, rec.ReplicaURIs)
}
