package drop

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryDropWriteReadRoundTrip(t *testing.T) {
	d := NewInMemoryDrop("A")

	_, err := d.Open()
	require.Error(t, err, "open before COMPLETED must fail")

	n, err := d.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, StatusWriting, d.Status())

	require.NoError(t, d.SetCompleted())
	assert.Equal(t, StatusCompleted, d.Status())

	r, err := d.Open()
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestInMemoryDropOverflow(t *testing.T) {
	d := NewInMemoryDrop("A")
	d.SetMaxSize(4)

	_, err := d.Write([]byte("hello"))
	require.Error(t, err)
}

func TestInMemoryDropWriteAfterCompletedFails(t *testing.T) {
	d := NewInMemoryDrop("A")
	_, err := d.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, d.SetCompleted())

	_, err = d.Write([]byte("y"))
	require.Error(t, err)
}

func TestDataDropStatusEventsFireOnce(t *testing.T) {
	d := NewInMemoryDrop("A")
	var events []Status
	d.Subscribe(TopicStatus, func(e Event) { events = append(events, e.Status) })

	_, _ = d.Write([]byte("x"))
	require.NoError(t, d.SetCompleted())

	require.Len(t, events, 1)
	assert.Equal(t, StatusCompleted, events[0])
}

func TestDataDropSubscribeDedupesSameHandler(t *testing.T) {
	d := NewInMemoryDrop("A")
	count := 0
	handler := func(e Event) { count++ }
	d.Subscribe(TopicStatus, handler)
	d.Subscribe(TopicStatus, handler)

	_, _ = d.Write([]byte("x"))
	require.NoError(t, d.SetCompleted())
	assert.Equal(t, 1, count)
}

func TestDataDropErrorIsSink(t *testing.T) {
	d := NewInMemoryDrop("A")
	require.NoError(t, d.SetError(assertErr))
	assert.Equal(t, StatusError, d.Status())
}

func TestDirectoryContainerDropTracksChildren(t *testing.T) {
	c := NewDirectoryContainerDrop("Dir")
	c.AddChild("A")
	c.AddChild("B")
	c.AddChild("A")
	assert.ElementsMatch(t, []string{"A", "B"}, c.Children())
}

var assertErr = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
