package nativeapp

import (
	"sync"

	"github.com/ebitengine/purego"

	"github.com/heliograph/dfms/pkg/errkind"
)

// library wraps one dlopen'd shared object and the two required entry
// points plus the two optional streaming ones, resolved once and reused
// across every Adapter instance that shares the same LibPath.
type library struct {
	handle uintptr

	initFn func(uintptr) int32
	runFn  func(uintptr) int32

	hasDataWritten   bool
	dataWrittenFn    func(uintptr, uintptr, uintptr, int64)
	hasDropCompleted bool
	dropCompletedFn  func(uintptr, uintptr, int32)
}

var (
	libCacheMu sync.Mutex
	libCache   = map[string]*library{}
)

// loadLibrary dlopens path once per process and caches the result, since
// the same native library backs every drop instance of a given app type
// across a session.
func loadLibrary(path string) (*library, error) {
	libCacheMu.Lock()
	defer libCacheMu.Unlock()

	if lib, ok := libCache[path]; ok {
		return lib, nil
	}

	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, errkind.InvalidLibrary("dlopen failed: "+err.Error(), path)
	}

	lib := &library{handle: handle}

	if err := registerRequired(handle, "init", &lib.initFn); err != nil {
		return nil, errkind.InvalidLibrary(err.Error(), path)
	}
	if err := registerRequired(handle, "run", &lib.runFn); err != nil {
		return nil, errkind.InvalidLibrary(err.Error(), path)
	}

	if _, symErr := purego.Dlsym(handle, "data_written"); symErr == nil {
		purego.RegisterLibFunc(&lib.dataWrittenFn, handle, "data_written")
		lib.hasDataWritten = true
	}
	if _, symErr := purego.Dlsym(handle, "drop_completed"); symErr == nil {
		purego.RegisterLibFunc(&lib.dropCompletedFn, handle, "drop_completed")
		lib.hasDropCompleted = true
	}

	libCache[path] = lib
	return lib, nil
}

// registerRequired resolves name against handle, returning InvalidLibrary's
// underlying message (not wrapped yet) if the symbol is absent, per spec.md
// §4.9's "missing entry points fail with InvalidLibrary".
func registerRequired(handle uintptr, name string, fptr interface{}) error {
	if _, err := purego.Dlsym(handle, name); err != nil {
		return errSymbolMissing(name)
	}
	purego.RegisterLibFunc(fptr, handle, name)
	return nil
}

type missingSymbolError string

func (e missingSymbolError) Error() string { return "missing required entry point: " + string(e) }

func errSymbolMissing(name string) error { return missingSymbolError(name) }
