// Package errkind provides the unified error vocabulary used across the
// drop-graph runtime and manager hierarchy, mirroring the structured
// ServiceError the teacher's infrastructure/errors package builds: a code,
// a message, an HTTP status, and offending identifiers.
package errkind

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one of the error kinds named in spec.md §7.
type Kind string

const (
	KindInvalidGraph        Kind = "INVALID_GRAPH"
	KindInvalidRelationship Kind = "INVALID_RELATIONSHIP"
	KindInvalidState        Kind = "INVALID_STATE"
	KindInvalidLibrary      Kind = "INVALID_LIBRARY"
	KindNoSession           Kind = "NO_SESSION"
	KindSessionExists       Kind = "SESSION_ALREADY_EXISTS"
	KindNoTemplate          Kind = "NO_TEMPLATE"
	KindOverflow            Kind = "OVERFLOW"
	KindTimeout             Kind = "TIMEOUT"
	KindRemoteFailure       Kind = "REMOTE_FAILURE"
)

// httpStatusByKind maps each kind to the conventional HTTP status spec.md
// §7 requires of the REST façade.
var httpStatusByKind = map[Kind]int{
	KindInvalidGraph:        http.StatusBadRequest,
	KindInvalidRelationship: http.StatusBadRequest,
	KindInvalidState:        http.StatusConflict,
	KindInvalidLibrary:      http.StatusBadRequest,
	KindNoSession:           http.StatusNotFound,
	KindSessionExists:       http.StatusConflict,
	KindNoTemplate:          http.StatusNotFound,
	KindOverflow:            http.StatusBadRequest,
	KindTimeout:             http.StatusInternalServerError,
	KindRemoteFailure:       http.StatusInternalServerError,
}

// DropError is a structured error carrying the offending identifiers, as
// required by spec.md §7 ("Each carries the offending identifier(s)").
type DropError struct {
	Kind    Kind
	Message string
	IDs     []string
	Err     error
}

func (e *DropError) Error() string {
	msg := e.Message
	if len(e.IDs) > 0 {
		msg = fmt.Sprintf("%s %v", msg, e.IDs)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

func (e *DropError) Unwrap() error { return e.Err }

// HTTPStatus returns the conventional HTTP status for this error's kind.
func (e *DropError) HTTPStatus() int {
	if status, ok := httpStatusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func new(kind Kind, message string, ids ...string) *DropError {
	return &DropError{Kind: kind, Message: message, IDs: ids}
}

func wrap(kind Kind, message string, err error, ids ...string) *DropError {
	return &DropError{Kind: kind, Message: message, IDs: ids, Err: err}
}

// InvalidGraph reports a graph-spec validation failure (§4.2).
func InvalidGraph(reason string, oids ...string) *DropError {
	return new(KindInvalidGraph, reason, oids...)
}

// InvalidRelationship reports an edge that would violate the DAG invariant (§4.1).
func InvalidRelationship(reason string, oids ...string) *DropError {
	return new(KindInvalidRelationship, reason, oids...)
}

// InvalidState reports an operation attempted from the wrong state (§3, §4.4).
func InvalidState(reason string, id string) *DropError {
	return new(KindInvalidState, reason, id)
}

// InvalidLibrary reports a malformed or missing native-library entry point (§4.9).
func InvalidLibrary(reason string, libPath string) *DropError {
	return new(KindInvalidLibrary, reason, libPath)
}

// NoSession reports an unknown session id (§4.6).
func NoSession(sessionID string) *DropError {
	return new(KindNoSession, "no such session", sessionID)
}

// SessionAlreadyExists reports a duplicate session id (§4.6).
func SessionAlreadyExists(sessionID string) *DropError {
	return new(KindSessionExists, "session already exists", sessionID)
}

// NoTemplate reports an unknown template name (§4.6).
func NoTemplate(name string) *DropError {
	return new(KindNoTemplate, "no such template", name)
}

// Overflow reports a write past a size-bounded drop's capacity (§4.1).
func Overflow(dropID string) *DropError {
	return new(KindOverflow, "write exceeds drop capacity", dropID)
}

// Timeout reports an operation that exceeded its deadline.
func Timeout(operation string, err error) *DropError {
	return wrap(KindTimeout, fmt.Sprintf("%s timed out", operation), err)
}

// RemoteFailure reports a failed RPC to a child manager or remote drop proxy (§4.7).
func RemoteFailure(address string, err error) *DropError {
	return wrap(KindRemoteFailure, "remote call failed", err, address)
}

// Is reports whether err is a DropError of the given kind.
func Is(err error, kind Kind) bool {
	var de *DropError
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}

// As extracts a *DropError from err's chain, if present.
func As(err error) (*DropError, bool) {
	var de *DropError
	ok := errors.As(err, &de)
	return de, ok
}

// HTTPStatus returns the conventional HTTP status for err, defaulting to 500
// if err is not a *DropError.
func HTTPStatus(err error) int {
	if de, ok := As(err); ok {
		return de.HTTPStatus()
	}
	return http.StatusInternalServerError
}
