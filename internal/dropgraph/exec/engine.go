// Package exec implements the execution engine (C3): data-driven and
// externally-driven firing of app drops, barrier and streaming execution,
// at-most-once firing, and failure propagation down the DAG.
package exec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/heliograph/dfms/internal/dropgraph/drop"
	"github.com/heliograph/dfms/pkg/errkind"
	"github.com/heliograph/dfms/pkg/logger"
	"github.com/heliograph/dfms/pkg/metrics"
)

// ErrorListener is notified whenever an app drop (or the data drop it
// produces) transitions to ERROR. Its return value does not alter
// propagation; a panic inside it is recovered and logged, per the
// swallow-after-log resolution of the error-listener open question.
type ErrorListener func(oid, sessionID string, cause error)

// Config controls the engine's firing concurrency.
type Config struct {
	// MaxPoolSize bounds concurrently running apps. Zero runs apps
	// synchronously on the calling goroutine (no pooling); negative means
	// one goroutine per app (unbounded).
	MaxPoolSize int
}

// Engine drives one session's drop table to completion.
type Engine struct {
	table     *drop.Table
	sessionID string
	cfg       Config
	log       *logger.Logger
	onError   ErrorListener

	sem chan struct{} // nil unless MaxPoolSize > 0

	mu        sync.Mutex
	completed map[string]int // appOID -> count of completed non-streaming inputs
	cancelled bool

	wg sync.WaitGroup
}

// New creates an Engine bound to table. log and onError may be nil.
func New(table *drop.Table, sessionID string, cfg Config, log *logger.Logger, onError ErrorListener) *Engine {
	if log == nil {
		log = logger.NewDefault("execution-engine")
	}
	e := &Engine{
		table:     table,
		sessionID: sessionID,
		cfg:       cfg,
		log:       log,
		onError:   onError,
		completed: make(map[string]int),
	}
	if cfg.MaxPoolSize > 0 {
		e.sem = make(chan struct{}, cfg.MaxPoolSize)
	}
	return e
}

// Wire subscribes the engine to every app's inputs so that data-driven apps
// fire automatically as their inputs complete, and wires streaming apps to
// their streaming inputs' write/completion notifications. Must be called
// before the session's roots are triggered.
func (e *Engine) Wire() {
	for _, n := range e.table.All() {
		if n.Kind() != drop.KindApp {
			continue
		}
		appOID := n.OID()

		for _, inputOID := range e.table.Inputs(appOID) {
			e.wireDataDrivenInput(appOID, inputOID)
		}

		if sd, ok := n.(*drop.StreamingAppDrop); ok {
			e.wireStreaming(sd)
		}
	}
}

func (e *Engine) wireDataDrivenInput(appOID, inputOID string) {
	in, ok := e.table.Get(inputOID)
	if !ok {
		return
	}
	in.Subscribe(drop.TopicStatus, func(ev drop.Event) {
		switch ev.Status {
		case drop.StatusCompleted:
			e.onInputCompleted(appOID)
		case drop.StatusError:
			e.propagateFailure(appOID, ev.Cause)
		}
	})
}

func (e *Engine) wireStreaming(sd *drop.StreamingAppDrop) {
	if sd.Handler == nil {
		return
	}
	ctx := drop.AppContext{Ctx: context.Background(), Table: e.table, Self: sd.OID()}

	for _, inputOID := range e.table.StreamingInputs(sd.OID()) {
		in, ok := e.table.Get(inputOID)
		if !ok {
			continue
		}
		oid := inputOID
		if observable, ok := in.(interface{ AddWriteObserver(func([]byte)) }); ok {
			observable.AddWriteObserver(func(chunk []byte) {
				sd.Handler.DataWritten(ctx, oid, chunk)
			})
		}
		in.Subscribe(drop.TopicStatus, func(ev drop.Event) {
			if ev.Status == drop.StatusCompleted || ev.Status == drop.StatusError {
				sd.Handler.DropCompleted(ctx, oid, ev.Status)
			}
		})
	}

	e.submit(func() {
		if err := sd.Handler.Start(ctx); err != nil {
			e.propagateFailure(sd.OID(), err)
		}
	})
}

// onInputCompleted records one completed input for appOID and fires the app
// once its completed count reaches its non-streaming input cardinality.
// Tie-breaks: only the transition that brings the count to cardinality
// fires; all others no-op.
func (e *Engine) onInputCompleted(appOID string) {
	n, ok := e.table.Get(appOID)
	if !ok {
		return
	}
	app, ok := n.(interface {
		InputCardinality() int
		ExecutionMode() drop.ExecutionMode
	})
	if !ok {
		return
	}
	if app.ExecutionMode() != drop.ModeDrop {
		return
	}

	e.mu.Lock()
	e.completed[appOID]++
	reached := e.completed[appOID] >= app.InputCardinality()
	e.mu.Unlock()

	if reached {
		e.fire(n)
	}
}

// FireZeroInputApps fires every app drop with no non-streaming inputs (a
// graph root that needs no upstream completion to start), once at deploy
// time.
func (e *Engine) FireZeroInputApps() {
	for _, n := range e.table.All() {
		if n.Kind() != drop.KindApp {
			continue
		}
		if card, ok := n.(interface{ InputCardinality() int }); ok && card.InputCardinality() == 0 {
			e.fire(n)
		}
	}
}

// AppTriggered is the externally-driven counterpart to onInputCompleted: an
// external driver calls this once per observed input completion.
func (e *Engine) AppTriggered(appOID string) {
	n, ok := e.table.Get(appOID)
	if !ok {
		return
	}
	triggerable, ok := n.(interface{ AppTriggered() bool })
	if !ok {
		return
	}
	if triggerable.AppTriggered() {
		e.fire(n)
	}
}

// fire submits an app drop for execution, respecting the at-most-once latch.
func (e *Engine) fire(n drop.Node) {
	switch app := n.(type) {
	case *drop.BarrierAppDrop:
		if !fireOnce(app) {
			return
		}
		e.submit(func() { e.runBarrier(app) })
	case *drop.NativeLibAppDrop:
		if !fireOnce(app) {
			return
		}
		e.submit(func() { e.runNative(app) })
	}
}

// submit runs fn on the engine's executor: synchronously if pooling is
// disabled, through the bounded semaphore if configured, or as an unbounded
// goroutine otherwise.
func (e *Engine) submit(fn func()) {
	switch {
	case e.cfg.MaxPoolSize == 0:
		fn()
	case e.sem != nil:
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.sem <- struct{}{}
			defer func() { <-e.sem }()
			fn()
		}()
	default:
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			fn()
		}()
	}
}

// Wait blocks until every app submitted through the engine's pool has
// returned. Callers using synchronous (MaxPoolSize == 0) mode never need it.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) runBarrier(app *drop.BarrierAppDrop) {
	start := time.Now()
	if err := app.SetRunning(); err != nil {
		e.log.WithField("oid", app.OID()).WithField("err", err).Errorf("cannot start barrier app")
		return
	}

	ctx := drop.AppContext{Ctx: context.Background(), Table: e.table, Self: app.OID()}
	var runErr error
	if app.Run != nil {
		runErr = safeRun(app.Run, ctx)
	}

	if runErr != nil {
		metrics.RecordAppExecution(string(drop.TypeBarrier), "error", time.Since(start))
		_ = app.SetError(runErr)
		e.propagateFailure(app.OID(), runErr)
		return
	}

	_ = app.SetFinished()
	metrics.RecordAppExecution(string(drop.TypeBarrier), "finished", time.Since(start))

	// A barrier app completes every output it owns that its run left open.
	for _, outOID := range e.table.Outputs(app.OID()) {
		out, ok := e.table.Get(outOID)
		if !ok {
			continue
		}
		if d, ok := out.(interface {
			Status() drop.Status
			SetCompleted() error
		}); ok && (d.Status() == drop.StatusInitialized || d.Status() == drop.StatusWriting) {
			_ = d.SetCompleted()
		}
	}
}

func (e *Engine) runNative(app *drop.NativeLibAppDrop) {
	start := time.Now()
	if app.Bridge == nil {
		err := errkind.InvalidLibrary("native bridge not loaded", app.LibPath)
		_ = app.SetError(err)
		e.propagateFailure(app.OID(), err)
		return
	}
	if err := app.SetRunning(); err != nil {
		return
	}

	ctx := drop.AppContext{Ctx: context.Background(), Table: e.table, Self: app.OID()}
	runErr := safeRunBridge(app.Bridge, ctx)

	if runErr != nil {
		metrics.RecordAppExecution(string(drop.TypeNativeLib), "error", time.Since(start))
		_ = app.SetError(runErr)
		e.propagateFailure(app.OID(), runErr)
		return
	}

	_ = app.SetFinished()
	metrics.RecordAppExecution(string(drop.TypeNativeLib), "finished", time.Since(start))
}

// safeRun recovers a panicking AppFunc and turns it into an error, since a
// failing native-ish app must propagate ERROR rather than crash the engine.
func safeRun(fn drop.AppFunc, ctx drop.AppContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("app panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func safeRunBridge(bridge drop.NativeBridge, ctx drop.AppContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("native app panicked: %v", r)
		}
	}()
	return bridge.Run(ctx)
}

// propagateFailure marks oid itself ERROR (idempotently) and recurses
// transitively to everything it flows into, notifying the error listener
// for each node visited. Errors propagate down the DAG; downstream apps
// short-circuit and never run. Both data drops (already ERROR when this is
// called directly) and app drops (not yet ERROR when the failure
// originates upstream) are handled the same way.
func (e *Engine) propagateFailure(oid string, cause error) {
	e.notifyErrorListener(oid, cause)

	n, ok := e.table.Get(oid)
	if !ok {
		return
	}
	if settable, ok := n.(interface{ SetError(error) error }); ok {
		_ = settable.SetError(cause)
	}

	var children []string
	switch n.Kind() {
	case drop.KindApp:
		children = e.table.Outputs(oid)
	case drop.KindData:
		children = e.table.Consumers(oid)
	}
	for _, next := range children {
		e.propagateFailure(next, cause)
	}
}

func (e *Engine) notifyErrorListener(oid string, cause error) {
	if e.onError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("oid", oid).WithField("panic", r).Errorf("error listener panicked; swallowed")
		}
	}()
	e.onError(oid, e.sessionID, cause)
}

// fireOnce is a small type-switch helper around the unexported tryFire
// latch each app drop variant embeds through appBase.
func fireOnce(n drop.Node) bool {
	type latcher interface{ TryFire() bool }
	if l, ok := n.(latcher); ok {
		return l.TryFire()
	}
	return true
}
