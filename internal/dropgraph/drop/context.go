package drop

import (
	"context"
	"io"

	"github.com/heliograph/dfms/pkg/errkind"
)

// AppContext is the handle an app drop's user code runs with: it resolves
// inputs/outputs by oid through the owning table's open/read/write
// operations, routing native and Go app code through the same §4.1 surface.
type AppContext struct {
	Ctx   context.Context
	Table *Table
	Self  string
}

// OpenInput opens a read cursor on one of the app's input drops.
func (c AppContext) OpenInput(oid string) (io.ReadCloser, error) {
	n, ok := c.Table.Get(oid)
	if !ok {
		return nil, errkind.InvalidGraph("unknown input oid", oid)
	}
	d, ok := n.(interface{ Open() (io.ReadCloser, error) })
	if !ok {
		return nil, errkind.InvalidRelationship("oid is not a readable data drop", oid)
	}
	return d.Open()
}

// WriteOutput writes bytes to one of the app's output drops.
func (c AppContext) WriteOutput(oid string, p []byte) (int, error) {
	n, ok := c.Table.Get(oid)
	if !ok {
		return 0, errkind.InvalidGraph("unknown output oid", oid)
	}
	d, ok := n.(interface{ Write([]byte) (int, error) })
	if !ok {
		return 0, errkind.InvalidRelationship("oid is not a writable data drop", oid)
	}
	return d.Write(p)
}

// CompleteOutput finalizes one of the app's output drops.
func (c AppContext) CompleteOutput(oid string) error {
	n, ok := c.Table.Get(oid)
	if !ok {
		return errkind.InvalidGraph("unknown output oid", oid)
	}
	d, ok := n.(interface{ SetCompleted() error })
	if !ok {
		return errkind.InvalidRelationship("oid is not a data drop", oid)
	}
	return d.SetCompleted()
}

// FailOutput transitions one of the app's output drops to ERROR.
func (c AppContext) FailOutput(oid string, cause error) error {
	n, ok := c.Table.Get(oid)
	if !ok {
		return errkind.InvalidGraph("unknown output oid", oid)
	}
	d, ok := n.(interface{ SetError(error) error })
	if !ok {
		return errkind.InvalidRelationship("oid is not a data drop", oid)
	}
	return d.SetError(cause)
}

// self resolves the app drop this context belongs to.
func (c AppContext) self() (*appBase, error) {
	n, ok := c.Table.Get(c.Self)
	if !ok {
		return nil, errkind.InvalidGraph("unknown app oid", c.Self)
	}
	a, ok := n.(interface{ appBasePtr() *appBase })
	if !ok {
		return nil, errkind.InvalidRelationship("oid is not an app drop", c.Self)
	}
	return a.appBasePtr(), nil
}

// SetRunning transitions this context's own app drop NOT_RUN -> RUNNING.
// Streaming app handlers call this once when they begin processing.
func (c AppContext) SetRunning() error {
	a, err := c.self()
	if err != nil {
		return err
	}
	return a.SetRunning()
}

// SetFinished transitions this context's own app drop RUNNING -> FINISHED.
func (c AppContext) SetFinished() error {
	a, err := c.self()
	if err != nil {
		return err
	}
	return a.SetFinished()
}

// SetAppError transitions this context's own app drop to ERROR.
func (c AppContext) SetAppError(cause error) error {
	a, err := c.self()
	if err != nil {
		return err
	}
	return a.SetError(cause)
}
