package nativeapp

import (
	"fmt"
	"io"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/heliograph/dfms/internal/dropgraph/drop"
	"github.com/heliograph/dfms/pkg/errkind"
	"github.com/heliograph/dfms/pkg/logger"
)

// BarrierAdapter implements drop.NativeBridge for a dynamic library that
// follows the original's DynlibApp shape: run() computes synchronously
// over its inputs (each input's read cursor is opened on its first read
// callback) and returns -- the descriptor's
// running/done callbacks are wired but unused by this variant, per spec.md
// §4.9 ("barrier apps return from run normally").
type BarrierAdapter struct {
	libPath string
	appname string
	params  map[string]string
	log     *logger.Logger

	lib *library
}

// NewBarrierAdapter returns an unloaded BarrierAdapter for libPath. Load is
// deferred to the first Init call so a session can be built and deployed
// without every native library being present until it's actually fired.
func NewBarrierAdapter(libPath, appname string, params map[string]string) *BarrierAdapter {
	return &BarrierAdapter{libPath: libPath, appname: appname, params: params, log: logger.NewDefault("nativeapp")}
}

// Init resolves and dlopens libPath, caching the library handle.
func (a *BarrierAdapter) Init(params map[string]string) error {
	lib, err := loadLibrary(a.libPath)
	if err != nil {
		return err
	}
	a.lib = lib
	if params != nil {
		a.params = params
	}
	return nil
}

// Run builds the full native descriptor over ctx's inputs/outputs, calls
// init(descriptor) then run(descriptor), and maps a nonzero return status
// to an error, per spec.md §4.9's run/init contract.
func (a *BarrierAdapter) Run(ctx drop.AppContext) error {
	if a.lib == nil {
		if err := a.Init(a.params); err != nil {
			return err
		}
	}

	ar := &arena{}
	desc, err := buildDescriptor(ctx, a.appname, a.params, ar, nil, nil)
	if err != nil {
		return err
	}
	descPtr := uintptr(unsafe.Pointer(desc))

	if status := a.lib.initFn(descPtr); status != 0 {
		return errkind.InvalidLibrary(fmt.Sprintf("init returned status %d", status), a.libPath)
	}
	if status := a.lib.runFn(descPtr); status != 0 {
		return fmt.Errorf("native app %q run returned status %d", a.appname, status)
	}
	return nil
}

// DataWritten forwards a streaming-input write to the library's optional
// data_written entry point, a no-op if the library doesn't export one.
func (a *BarrierAdapter) DataWritten(inputOID string, chunk []byte) {
	if a.lib == nil || !a.lib.hasDataWritten || len(chunk) == 0 {
		return
	}
	oidPtr := uintptr(unsafe.Pointer(&append([]byte(inputOID), 0)[0]))
	a.lib.dataWrittenFn(0, oidPtr, uintptr(unsafe.Pointer(&chunk[0])), int64(len(chunk)))
}

// DropCompleted forwards an input's terminal status to drop_completed, a
// no-op if the library doesn't export one.
func (a *BarrierAdapter) DropCompleted(inputOID string, status drop.Status) {
	if a.lib == nil || !a.lib.hasDropCompleted {
		return
	}
	oidPtr := uintptr(unsafe.Pointer(&append([]byte(inputOID), 0)[0]))
	a.lib.dropCompletedFn(0, oidPtr, statusCode(status))
}

// StreamingAdapter implements drop.StreamHandler for a dynamic library that
// follows the original's DynlibStreamApp shape: init/run kick off native
// processing that may return before the app is actually finished, and the
// native side calls back through the descriptor's running()/done()
// function pointers to signal RUNNING/FINISHED, per spec.md §4.9.
type StreamingAdapter struct {
	libPath string
	appname string
	params  map[string]string
	log     *logger.Logger

	lib *library
}

// NewStreamingAdapter returns an unloaded StreamingAdapter for libPath.
func NewStreamingAdapter(libPath, appname string, params map[string]string) *StreamingAdapter {
	return &StreamingAdapter{libPath: libPath, appname: appname, params: params, log: logger.NewDefault("nativeapp")}
}

// Start dlopens libPath if needed, wires the descriptor's running/done
// callbacks to ctx.SetRunning/SetFinished, calls init then run, and blocks
// until the native side invokes done() -- since a streaming run() may
// return immediately after handing processing to its own background
// machinery, per the original's DynlibStreamApp contract.
func (a *StreamingAdapter) Start(ctx drop.AppContext) error {
	lib, err := loadLibrary(a.libPath)
	if err != nil {
		return err
	}
	a.lib = lib

	doneCh := make(chan error, 1)
	runningCB := purego.NewCallback(func(_ uintptr) {
		_ = ctx.SetRunning()
	})
	doneCB := purego.NewCallback(func(_ uintptr, status int32) {
		if status == 0 {
			_ = ctx.SetFinished()
			doneCh <- nil
			return
		}
		cause := fmt.Errorf("native app %q reported status %d", a.appname, status)
		_ = ctx.SetAppError(cause)
		doneCh <- cause
	})

	ar := &arena{}
	desc, err := buildDescriptor(ctx, a.appname, a.params, ar, &runningCB, &doneCB)
	if err != nil {
		return err
	}
	descPtr := uintptr(unsafe.Pointer(desc))

	if status := a.lib.initFn(descPtr); status != 0 {
		return errkind.InvalidLibrary(fmt.Sprintf("init returned status %d", status), a.libPath)
	}
	if status := a.lib.runFn(descPtr); status != 0 {
		return fmt.Errorf("native app %q run returned status %d", a.appname, status)
	}

	return <-doneCh
}

// DataWritten forwards a streaming-input write to data_written.
func (a *StreamingAdapter) DataWritten(ctx drop.AppContext, inputOID string, chunk []byte) {
	if a.lib == nil || !a.lib.hasDataWritten || len(chunk) == 0 {
		return
	}
	oidPtr := uintptr(unsafe.Pointer(&append([]byte(inputOID), 0)[0]))
	a.lib.dataWrittenFn(0, oidPtr, uintptr(unsafe.Pointer(&chunk[0])), int64(len(chunk)))
}

// DropCompleted forwards an input's terminal status to drop_completed.
func (a *StreamingAdapter) DropCompleted(ctx drop.AppContext, inputOID string, status drop.Status) {
	if a.lib == nil || !a.lib.hasDropCompleted {
		return
	}
	oidPtr := uintptr(unsafe.Pointer(&append([]byte(inputOID), 0)[0]))
	a.lib.dropCompletedFn(0, oidPtr, statusCode(status))
}

// statusCode maps a drop.Status to the small integer code native code sees,
// mirroring the original's DropStates enum ordinals.
func statusCode(s drop.Status) int32 {
	switch s {
	case drop.StatusCompleted:
		return 0
	case drop.StatusError:
		return 1
	case drop.StatusExpired:
		return 2
	case drop.StatusDeleted:
		return 3
	default:
		return -1
	}
}

// buildDescriptor constructs the full native descriptor for ctx's app node,
// wiring one dedicated read/write trampoline per input/output via
// purego.NewCallback so each closes over its own drop reference instead of
// dispatching through a shared ctx handle.
func buildDescriptor(ctx drop.AppContext, appname string, params map[string]string, ar *arena, runningCB, doneCB *uintptr) (*cDescriptor, error) {
	appOID := ctx.Self

	inputs := ctx.Table.Inputs(appOID)
	streaming := ctx.Table.StreamingInputs(appOID)
	outputs := ctx.Table.Outputs(appOID)

	inDescs := make([]cInputDescriptor, 0, len(inputs))
	for _, oid := range inputs {
		d, err := buildInputDescriptor(ctx, oid, ar)
		if err != nil {
			return nil, err
		}
		inDescs = append(inDescs, d)
	}

	streamDescs := make([]cInputDescriptor, 0, len(streaming))
	for _, oid := range streaming {
		d, err := buildInputDescriptor(ctx, oid, ar)
		if err != nil {
			return nil, err
		}
		streamDescs = append(streamDescs, d)
	}

	outDescs := make([]cOutputDescriptor, 0, len(outputs))
	for _, oid := range outputs {
		outDescs = append(outDescs, buildOutputDescriptor(ctx, oid))
	}

	desc := &cDescriptor{
		appname: ar.cstring(appname),
		uid:     ar.cstring(appOID),
		oid:     ar.cstring(appOID),
		nInputs: int64(len(inDescs)),

		nStreamingInputs: int64(len(streamDescs)),
		nOutputs:         int64(len(outDescs)),
		data:             buildParamVector(params, ar),
	}
	if len(inDescs) > 0 {
		desc.inputs = uintptr(unsafe.Pointer(&inDescs[0]))
	}
	if len(streamDescs) > 0 {
		desc.streamingInputs = uintptr(unsafe.Pointer(&streamDescs[0]))
	}
	if len(outDescs) > 0 {
		desc.outputs = uintptr(unsafe.Pointer(&outDescs[0]))
	}
	if runningCB != nil {
		desc.running = *runningCB
	}
	if doneCB != nil {
		desc.done = *doneCB
	}

	return desc, nil
}

// buildInputDescriptor wires a per-input read trampoline that opens the
// input drop's read cursor lazily (on its first call) and routes every
// subsequent read through that cursor, closing it once the native side
// reads past EOF -- the §4.1 open/read/close contract behind §4.9's read
// callback.
func buildInputDescriptor(ctx drop.AppContext, oid string, ar *arena) (cInputDescriptor, error) {
	var cursor io.ReadCloser

	readCB := purego.NewCallback(func(_ uintptr, buf uintptr, n int64) int64 {
		if n <= 0 {
			return 0
		}
		if cursor == nil {
			rc, err := ctx.OpenInput(oid)
			if err != nil {
				return -1
			}
			cursor = rc
		}
		dst := unsafe.Slice((*byte)(unsafe.Pointer(buf)), int(n))
		read, err := cursor.Read(dst)
		if read == 0 && err != nil {
			_ = cursor.Close()
		}
		return int64(read)
	})

	return cInputDescriptor{
		uid:    ar.cstring(oid),
		oid:    ar.cstring(oid),
		name:   ar.cstring(oid),
		status: 0,
		read:   readCB,
	}, nil
}

// buildOutputDescriptor wires a per-output write trampoline routing
// directly through ctx.WriteOutput, the §4.1 write operation.
func buildOutputDescriptor(ctx drop.AppContext, oid string) cOutputDescriptor {
	writeCB := purego.NewCallback(func(_ uintptr, buf uintptr, n int64) int64 {
		if n <= 0 {
			return 0
		}
		src := unsafe.Slice((*byte)(unsafe.Pointer(buf)), int(n))
		written, err := ctx.WriteOutput(oid, src)
		if err != nil {
			return -1
		}
		return int64(written)
	})

	return cOutputDescriptor{write: writeCB}
}

// buildParamVector marshals params into the null-terminated (key, value)
// vector spec.md §4.9 describes and returns a pointer to its first element
// via data, the descriptor's opaque blob field.
func buildParamVector(params map[string]string, ar *arena) uintptr {
	if len(params) == 0 {
		return 0
	}
	pairs := make([]cParamPair, 0, len(params)+1)
	for k, v := range params {
		pairs = append(pairs, cParamPair{key: ar.cstring(k), val: ar.cstring(v)})
	}
	pairs = append(pairs, cParamPair{}) // null terminator
	return uintptr(unsafe.Pointer(&pairs[0]))
}
