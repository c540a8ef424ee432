// Package nativeapp implements the dynamic-library application adapter
// (C9): the bridge between the drop runtime and a shared object exposing
// the C-ABI contract of spec.md §4.9 (init, run, optionally data_written
// and drop_completed), loaded without cgo via github.com/ebitengine/purego
// -- the same no-cgo dynamic-loading approach purego's own examples use to
// call a platform C library from pure Go.
//
// The wire layout below is this repository's concrete rendering of spec.md
// §4.9's descriptor structure. It is frozen for the lifetime of a loaded
// library: field order and widths must match what the native side was
// compiled against, exactly as a cgo-free FFI boundary requires a shared
// header on both sides (see abi.h in this package for the C-side mirror).
package nativeapp

import (
	"sync"
	"unsafe"
)

// cInputDescriptor mirrors one element of the native descriptor's
// inputs[]/streamingInputs[] arrays: {uid, oid, name, status, read}.
// read is a C function pointer of signature int64_t(*)(void *ctx, void
// *buf, int64_t n) -- a trampoline created by purego.NewCallback that
// routes into the owning input drop's Open/Read/Close operations (§4.1).
type cInputDescriptor struct {
	uid    uintptr // const char*
	oid    uintptr // const char*
	name   uintptr // const char*
	status int32
	_      int32 // padding to 8-byte align the pointer that follows
	read   uintptr
	ctx    uintptr // left zero: each read trampoline closes over its own input
}

// cOutputDescriptor mirrors one element of the native descriptor's
// outputs[]: {uid, oid, name, write}. write is int64_t(*)(void *ctx,
// void *buf, int64_t n), routing into the output drop's Write operation.
type cOutputDescriptor struct {
	uid   uintptr
	oid   uintptr
	name  uintptr
	write uintptr
	ctx   uintptr
}

// cDescriptor mirrors spec.md §4.9's full descriptor: {appname, uid, oid,
// inputs[], n_inputs, streamingInputs[], n_streaming_inputs, outputs[],
// n_outputs, running, done, data}. running is void(*)(void *ctx); done is
// void(*)(void *ctx, int32_t status); both are streaming-only callbacks the
// native side invokes to signal state transitions to the host.
type cDescriptor struct {
	appname uintptr
	uid     uintptr
	oid     uintptr

	inputs  uintptr // *cInputDescriptor
	nInputs int64

	streamingInputs  uintptr // *cInputDescriptor
	nStreamingInputs int64

	outputs  uintptr // *cOutputDescriptor
	nOutputs int64

	running uintptr
	done    uintptr

	data uintptr // opaque blob; this adapter points it at the init param vector
	ctx  uintptr // left zero by this adapter; callbacks close over their own state
}

// cParamPair mirrors one (key, value) entry of the null-terminated
// initialization parameter vector spec.md §4.9 describes.
type cParamPair struct {
	key uintptr
	val uintptr
}

// arena keeps every Go-owned byte slice referenced by a native call's
// pointers alive for the call's duration. purego calls are synchronous from
// Go's perspective, but streaming adapters hold their descriptor's memory
// alive for the life of the run, since native callbacks may fire after the
// triggering entry-point call returns.
type arena struct {
	mu     sync.Mutex
	blocks [][]byte
}

func (a *arena) cstring(s string) uintptr {
	b := append([]byte(s), 0)
	a.mu.Lock()
	a.blocks = append(a.blocks, b)
	a.mu.Unlock()
	return uintptr(unsafe.Pointer(&b[0]))
}

// keep pins v (any Go-allocated slice/struct this adapter built) so it is
// not collected while native code still holds a pointer into it.
func (a *arena) keep(v interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch b := v.(type) {
	case []byte:
		a.blocks = append(a.blocks, b)
	default:
		// Struct slices are kept alive via a parallel []byte view of their
		// backing array so the arena doesn't need a generic "any pointer"
		// slot; callers pass the byte view explicitly for those.
	}
}
