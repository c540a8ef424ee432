package drop

import (
	"sync"

	"github.com/google/uuid"

	"github.com/heliograph/dfms/pkg/errkind"
	"github.com/heliograph/dfms/pkg/metrics"
)

// appBase is the shared state and behavior of every app drop variant.
type appBase struct {
	oid string
	uid string
	typ Type

	mu            sync.Mutex
	execStatus    ExecStatus
	executionMode ExecutionMode
	bus           *bus

	inputs          []string
	streamingInputs []string
	outputs         []string

	// triggerCount tracks externally-driven firings; fired latches at-most-once.
	triggerCount int
	fired        bool

	uri string
}

func newAppBase(oid string, typ Type) *appBase {
	return &appBase{
		oid:           oid,
		uid:           uuid.NewString(),
		typ:           typ,
		execStatus:    ExecNotRun,
		executionMode: ModeDrop,
		bus:           newBus(),
	}
}

func (a *appBase) OID() string        { return a.oid }
func (a *appBase) UID() string        { return a.uid }
func (a *appBase) Kind() Kind         { return KindApp }
func (a *appBase) Type() Type         { return a.typ }
func (a *appBase) URI() string        { return a.uri }
func (a *appBase) SetURI(u string)    { a.uri = u }
func (a *appBase) appBasePtr() *appBase { return a }

func (a *appBase) ExecStatus() ExecStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.execStatus
}

func (a *appBase) ExecutionMode() ExecutionMode { return a.executionMode }

// SetExecutionMode selects DROP (data-driven) or EXTERNAL firing. Must be
// called before the owning session is deployed.
func (a *appBase) SetExecutionMode(m ExecutionMode) { a.executionMode = m }

func (a *appBase) Subscribe(topic Topic, handler EventHandler) {
	a.bus.Subscribe(topic, handler)
}

func (a *appBase) addInputLocked(oid string) {
	for _, o := range a.inputs {
		if o == oid {
			return
		}
	}
	a.inputs = append(a.inputs, oid)
}

func (a *appBase) addStreamingInputLocked(oid string) {
	for _, o := range a.streamingInputs {
		if o == oid {
			return
		}
	}
	a.streamingInputs = append(a.streamingInputs, oid)
}

func (a *appBase) addOutputLocked(oid string) {
	for _, o := range a.outputs {
		if o == oid {
			return
		}
	}
	a.outputs = append(a.outputs, oid)
}

func (a *appBase) removeInputLocked(oid string) {
	for i, o := range a.inputs {
		if o == oid {
			a.inputs = append(a.inputs[:i], a.inputs[i+1:]...)
			return
		}
	}
}

func (a *appBase) removeStreamingInputLocked(oid string) {
	for i, o := range a.streamingInputs {
		if o == oid {
			a.streamingInputs = append(a.streamingInputs[:i], a.streamingInputs[i+1:]...)
			return
		}
	}
}

func (a *appBase) removeOutputLocked(oid string) {
	for i, o := range a.outputs {
		if o == oid {
			a.outputs = append(a.outputs[:i], a.outputs[i+1:]...)
			return
		}
	}
}

// InputCardinality returns the number of non-streaming inputs wired to this app.
func (a *appBase) InputCardinality() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inputs)
}

// tryFire latches the app so RUNNING -> FINISHED fires at most once per
// session, per spec's at-most-once firing invariant. Returns false if
// already fired.
func (a *appBase) tryFire() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fired {
		return false
	}
	a.fired = true
	return true
}

// TryFire is the exported form of tryFire, used by the execution engine to
// enforce the at-most-once firing latch across package boundaries.
func (a *appBase) TryFire() bool { return a.tryFire() }

// AppTriggered records one externally-driven input completion and reports
// whether this call brought the count up to the app's input cardinality
// (i.e. whether the app should now fire). Only meaningful in ModeExternal.
func (a *appBase) AppTriggered() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fired {
		return false
	}
	a.triggerCount++
	return a.triggerCount == len(a.inputs)
}

// SetRunning transitions NOT_RUN -> RUNNING and publishes an execStatus event.
func (a *appBase) SetRunning() error {
	a.mu.Lock()
	if a.execStatus != ExecNotRun {
		a.mu.Unlock()
		return errkind.InvalidState("setRunning outside NOT_RUN", a.oid)
	}
	a.execStatus = ExecRunning
	a.mu.Unlock()

	metrics.RecordDropStatus(string(a.typ), string(ExecRunning))
	a.bus.Publish(Event{Topic: TopicExecStatus, OID: a.oid, UID: a.uid, ExecStatus: ExecRunning})
	return nil
}

// SetFinished transitions RUNNING -> FINISHED and publishes an execStatus event.
func (a *appBase) SetFinished() error {
	a.mu.Lock()
	if a.execStatus != ExecRunning {
		a.mu.Unlock()
		return errkind.InvalidState("setFinished outside RUNNING", a.oid)
	}
	a.execStatus = ExecFinished
	a.mu.Unlock()

	a.bus.Publish(Event{Topic: TopicExecStatus, OID: a.oid, UID: a.uid, ExecStatus: ExecFinished})
	return nil
}

// SetError transitions to ERROR (terminal) from any non-terminal state.
func (a *appBase) SetError(cause error) error {
	a.mu.Lock()
	if a.execStatus == ExecFinished || a.execStatus == ExecError || a.execStatus == ExecCancelled {
		a.mu.Unlock()
		return errkind.InvalidState("setError after terminal state", a.oid)
	}
	a.execStatus = ExecError
	a.mu.Unlock()

	a.bus.Publish(Event{Topic: TopicExecStatus, OID: a.oid, UID: a.uid, ExecStatus: ExecError, Cause: cause})
	return nil
}

// SetCancelled transitions to CANCELLED (terminal) from any non-terminal state.
func (a *appBase) SetCancelled() error {
	a.mu.Lock()
	if a.execStatus == ExecFinished || a.execStatus == ExecError || a.execStatus == ExecCancelled {
		a.mu.Unlock()
		return errkind.InvalidState("setCancelled after terminal state", a.oid)
	}
	a.execStatus = ExecCancelled
	a.mu.Unlock()

	a.bus.Publish(Event{Topic: TopicExecStatus, OID: a.oid, UID: a.uid, ExecStatus: ExecCancelled})
	return nil
}

// AppFunc is the user-supplied computation of a barrier app: given open
// readers for its inputs (by oid) and writers for its outputs (by oid), it
// runs to completion and returns an error to fail the app.
type AppFunc func(ctx AppContext) error

// BarrierAppDrop runs once all of its non-streaming inputs are COMPLETED,
// consuming them in full before producing its outputs.
type BarrierAppDrop struct {
	*appBase
	Run AppFunc
}

// NewBarrierAppDrop creates a BarrierAppDrop. run may be nil for drops
// wired purely for graph-shape tests.
func NewBarrierAppDrop(oid string, run AppFunc) *BarrierAppDrop {
	d := &BarrierAppDrop{appBase: newAppBase(oid, TypeBarrier), Run: run}
	metrics.RecordDropCreated(string(TypeBarrier))
	return d
}

// StreamHandler is the user-supplied computation of a streaming app. Start
// is invoked once when the engine begins driving the app; DataWritten and
// DropCompleted deliver partial writes and end-of-stream notices from its
// streaming inputs as they arrive. The handler must call ctx.SetRunning and
// ctx.SetFinished itself, exactly once each, per spec's streaming-app rule.
type StreamHandler interface {
	Start(ctx AppContext) error
	DataWritten(ctx AppContext, inputOID string, chunk []byte)
	DropCompleted(ctx AppContext, inputOID string, status Status)
}

// StreamingAppDrop receives partial writes as upstream data arrives instead
// of waiting for its inputs to complete.
type StreamingAppDrop struct {
	*appBase
	Handler StreamHandler
}

// NewStreamingAppDrop creates a StreamingAppDrop.
func NewStreamingAppDrop(oid string, handler StreamHandler) *StreamingAppDrop {
	d := &StreamingAppDrop{appBase: newAppBase(oid, TypeStreaming), Handler: handler}
	metrics.RecordDropCreated(string(TypeStreaming))
	return d
}

// NativeLibAppDrop bridges to a dynamic library implementing the C-ABI app
// contract (C9); Bridge is implemented by internal/nativeapp to avoid an
// import cycle between the drop table and the adapter.
type NativeLibAppDrop struct {
	*appBase
	LibPath string
	Params  map[string]string
	Bridge  NativeBridge
}

// NativeBridge is the subset of the dynamic-library adapter the drop runtime
// needs to invoke: init/run plus the two optional streaming entry points.
type NativeBridge interface {
	Init(params map[string]string) error
	Run(ctx AppContext) error
	DataWritten(inputOID string, chunk []byte)
	DropCompleted(inputOID string, status Status)
}

// NewNativeLibAppDrop creates a NativeLibAppDrop with no Bridge; the graph
// builder assigns one backed by internal/nativeapp, which defers the actual
// dlopen of libPath until the app first runs.
func NewNativeLibAppDrop(oid, libPath string, params map[string]string) *NativeLibAppDrop {
	d := &NativeLibAppDrop{appBase: newAppBase(oid, TypeNativeLib), LibPath: libPath, Params: params}
	metrics.RecordDropCreated(string(TypeNativeLib))
	return d
}
