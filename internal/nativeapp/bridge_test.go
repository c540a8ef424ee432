package nativeapp

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliograph/dfms/internal/dropgraph/drop"
)

func TestStatusCode(t *testing.T) {
	cases := map[drop.Status]int32{
		drop.StatusCompleted: 0,
		drop.StatusError:     1,
		drop.StatusExpired:   2,
		drop.StatusDeleted:   3,
		drop.StatusWriting:   -1,
	}
	for status, want := range cases {
		assert.Equal(t, want, statusCode(status), "status %s", status)
	}
}

func TestBuildParamVectorEmpty(t *testing.T) {
	ar := &arena{}
	assert.Equal(t, uintptr(0), buildParamVector(nil, ar))
}

func TestBuildParamVectorRoundTrip(t *testing.T) {
	ar := &arena{}
	ptr := buildParamVector(map[string]string{"threshold": "0.5"}, ar)
	require.NotZero(t, ptr)

	pairs := unsafe.Slice((*cParamPair)(unsafe.Pointer(ptr)), 2)
	key := cStringAt(pairs[0].key)
	val := cStringAt(pairs[0].val)
	assert.Equal(t, "threshold", key)
	assert.Equal(t, "0.5", val)

	// The vector is null-terminated: the second entry is the zero pair.
	assert.Equal(t, uintptr(0), pairs[1].key)
}

func TestArenaCstringNullTerminated(t *testing.T) {
	ar := &arena{}
	ptr := ar.cstring("hello")
	assert.Equal(t, "hello", cStringAt(ptr))
}

// cStringAt reads a null-terminated C string out of Go-owned memory,
// mirroring how a native callee would interpret one of this package's
// cstring() pointers -- used only to assert the arena's encoding in tests.
func cStringAt(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	var n int
	for {
		b := *(*byte)(unsafe.Pointer(ptr + uintptr(n)))
		if b == 0 {
			break
		}
		n++
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n))
}
