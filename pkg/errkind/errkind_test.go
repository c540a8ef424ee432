package errkind

import (
	"errors"
	"net/http"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err    *DropError
		status int
	}{
		{InvalidGraph("cycle detected", "A", "B"), http.StatusBadRequest},
		{InvalidState("not writing", "d1"), http.StatusConflict},
		{NoSession("s1"), http.StatusNotFound},
		{SessionAlreadyExists("s1"), http.StatusConflict},
		{RemoteFailure("10.0.0.1:8000", errors.New("refused")), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := c.err.HTTPStatus(); got != c.status {
			t.Errorf("%s: expected status %d, got %d", c.err.Kind, c.status, got)
		}
	}
}

func TestIsAndAs(t *testing.T) {
	err := NoSession("abc")
	if !Is(err, KindNoSession) {
		t.Fatalf("expected Is to match KindNoSession")
	}
	wrapped := errors.New("context: " + err.Error())
	if Is(wrapped, KindNoSession) {
		t.Fatalf("plain error should not match")
	}

	de, ok := As(err)
	if !ok || de.Kind != KindNoSession {
		t.Fatalf("expected As to extract DropError")
	}
}

func TestWrapPreservesUnderlyingError(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := RemoteFailure("node-1", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find wrapped cause")
	}
}

func TestHTTPStatusDefaultsForNonDropError(t *testing.T) {
	if HTTPStatus(errors.New("boom")) != http.StatusInternalServerError {
		t.Fatalf("expected default 500 for non-DropError")
	}
}
