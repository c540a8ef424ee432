package exec

import (
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/heliograph/dfms/internal/dropgraph/drop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uppercase(ctx drop.AppContext) error {
	r, err := ctx.OpenInput("A")
	if err != nil {
		return err
	}
	defer r.Close()
	buf := make([]byte, 1024)
	n, _ := r.Read(buf)
	_, err = ctx.WriteOutput("B", []byte(strings.ToUpper(string(buf[:n]))))
	if err != nil {
		return err
	}
	return ctx.CompleteOutput("B")
}

func TestProducerConsumerChain(t *testing.T) {
	tbl := drop.NewTable()
	a := drop.NewInMemoryDrop("A")
	app1 := drop.NewBarrierAppDrop("App1", uppercase)
	b := drop.NewInMemoryDrop("B")
	require.NoError(t, tbl.Add(a))
	require.NoError(t, tbl.Add(app1))
	require.NoError(t, tbl.Add(b))
	require.NoError(t, tbl.AddInput("App1", "A"))
	require.NoError(t, tbl.AddOutput("App1", "B"))

	eng := New(tbl, "s1", Config{}, nil, nil)
	eng.Wire()

	_, _ = a.Write([]byte("hello"))
	require.NoError(t, a.SetCompleted())

	eng.Wait()
	assert.Equal(t, drop.StatusCompleted, b.Status())
	assert.Equal(t, drop.ExecFinished, app1.ExecStatus())

	r, err := b.Open()
	require.NoError(t, err)
	buf := make([]byte, 10)
	n, _ := r.Read(buf)
	assert.Equal(t, "HELLO", string(buf[:n]))
}

func TestFanInBarrierOrderIndependent(t *testing.T) {
	tbl := drop.NewTable()
	concat := func(ctx drop.AppContext) error {
		var parts []string
		for _, oid := range []string{"R1", "R2", "R3"} {
			r, err := ctx.OpenInput(oid)
			if err != nil {
				return err
			}
			buf := make([]byte, 16)
			n, _ := r.Read(buf)
			r.Close()
			parts = append(parts, string(buf[:n]))
		}
		sort.Strings(parts)
		_, err := ctx.WriteOutput("O", []byte(strings.Join(parts, "")))
		if err != nil {
			return err
		}
		return ctx.CompleteOutput("O")
	}

	r1, r2, r3 := drop.NewInMemoryDrop("R1"), drop.NewInMemoryDrop("R2"), drop.NewInMemoryDrop("R3")
	app := drop.NewBarrierAppDrop("App", concat)
	o := drop.NewInMemoryDrop("O")
	for _, n := range []drop.Node{r1, r2, r3, app, o} {
		require.NoError(t, tbl.Add(n))
	}
	require.NoError(t, tbl.AddInput("App", "R1"))
	require.NoError(t, tbl.AddInput("App", "R2"))
	require.NoError(t, tbl.AddInput("App", "R3"))
	require.NoError(t, tbl.AddOutput("App", "O"))

	eng := New(tbl, "s1", Config{}, nil, nil)
	eng.Wire()

	_, _ = r2.Write([]byte("2"))
	require.NoError(t, r2.SetCompleted())
	_, _ = r3.Write([]byte("3"))
	require.NoError(t, r3.SetCompleted())
	_, _ = r1.Write([]byte("1"))
	require.NoError(t, r1.SetCompleted())

	eng.Wait()
	rd, err := o.Open()
	require.NoError(t, err)
	buf := make([]byte, 8)
	n, _ := rd.Read(buf)
	assert.Equal(t, "123", string(buf[:n]))
}

func TestAppFiresExactlyOnceUnderConcurrentCompletion(t *testing.T) {
	tbl := drop.NewTable()
	var runs int32
	var mu sync.Mutex
	app := drop.NewBarrierAppDrop("App", func(ctx drop.AppContext) error {
		mu.Lock()
		runs++
		mu.Unlock()
		return ctx.CompleteOutput("O")
	})
	r1, r2 := drop.NewInMemoryDrop("R1"), drop.NewInMemoryDrop("R2")
	o := drop.NewInMemoryDrop("O")
	for _, n := range []drop.Node{r1, r2, app, o} {
		require.NoError(t, tbl.Add(n))
	}
	require.NoError(t, tbl.AddInput("App", "R1"))
	require.NoError(t, tbl.AddInput("App", "R2"))
	require.NoError(t, tbl.AddOutput("App", "O"))

	eng := New(tbl, "s1", Config{MaxPoolSize: 4}, nil, nil)
	eng.Wire()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _, _ = r1.Write([]byte("x")); _ = r1.SetCompleted() }()
	go func() { defer wg.Done(); _, _ = r2.Write([]byte("y")); _ = r2.SetCompleted() }()
	wg.Wait()
	eng.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), runs)
}

func TestExternalModeRequiresExplicitTrigger(t *testing.T) {
	tbl := drop.NewTable()
	var ran bool
	app := drop.NewBarrierAppDrop("App", func(ctx drop.AppContext) error { ran = true; return nil })
	app.SetExecutionMode(drop.ModeExternal)
	r1, r2 := drop.NewInMemoryDrop("R1"), drop.NewInMemoryDrop("R2")
	for _, n := range []drop.Node{r1, r2, app} {
		require.NoError(t, tbl.Add(n))
	}
	require.NoError(t, tbl.AddInput("App", "R1"))
	require.NoError(t, tbl.AddInput("App", "R2"))

	eng := New(tbl, "s1", Config{}, nil, nil)
	eng.Wire()

	_, _ = r1.Write([]byte("x"))
	require.NoError(t, r1.SetCompleted())
	_, _ = r2.Write([]byte("y"))
	require.NoError(t, r2.SetCompleted())
	eng.Wait()
	assert.False(t, ran, "external-mode app must not fire from completions alone")

	eng.AppTriggered("App")
	assert.False(t, ran)
	eng.AppTriggered("App")
	eng.Wait()
	assert.True(t, ran)
}

func TestFailurePropagatesDownstream(t *testing.T) {
	tbl := drop.NewTable()
	var notified []string
	app1 := drop.NewBarrierAppDrop("App1", func(ctx drop.AppContext) error {
		return assertErr
	})
	a := drop.NewInMemoryDrop("A")
	b := drop.NewInMemoryDrop("B")
	app2 := drop.NewBarrierAppDrop("App2", func(ctx drop.AppContext) error {
		t.Fatal("downstream app must not run after upstream error")
		return nil
	})
	c := drop.NewInMemoryDrop("C")
	for _, n := range []drop.Node{a, app1, b, app2, c} {
		require.NoError(t, tbl.Add(n))
	}
	require.NoError(t, tbl.AddInput("App1", "A"))
	require.NoError(t, tbl.AddOutput("App1", "B"))
	require.NoError(t, tbl.AddInput("App2", "B"))
	require.NoError(t, tbl.AddOutput("App2", "C"))

	eng := New(tbl, "s1", Config{}, nil, func(oid, sessionID string, cause error) {
		notified = append(notified, oid)
	})
	eng.Wire()

	_, _ = a.Write([]byte("x"))
	require.NoError(t, a.SetCompleted())
	eng.Wait()
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, drop.ExecError, app1.ExecStatus())
	assert.Equal(t, drop.StatusError, b.Status())
	assert.Contains(t, notified, "App1")
}

var assertErr = &engineTestError{"boom"}

type engineTestError struct{ msg string }

func (e *engineTestError) Error() string { return e.msg }
