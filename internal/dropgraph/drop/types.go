// Package drop implements the typed graph nodes of the drop-graph runtime:
// data drops (file, in-memory, directory-container, container) and app
// drops (barrier, streaming, native-library), their state machines, and the
// per-drop event bus described by the drop runtime's component design.
package drop

// Kind distinguishes a data drop from an application drop.
type Kind string

const (
	KindData Kind = "data"
	KindApp  Kind = "app"
)

// Type identifies the concrete drop variant.
type Type string

const (
	TypeFile               Type = "file"
	TypeDirectoryContainer Type = "directorycontainer"
	TypeMemory             Type = "memory"
	TypeContainer          Type = "container"
	TypeBarrier            Type = "barrier"
	TypeStreaming          Type = "streaming"
	TypeNativeLib          Type = "nativelib"
)

// Status is the data-drop state machine:
// INITIALIZED -> WRITING -> COMPLETED -> EXPIRED -> DELETED, ERROR sink.
type Status string

const (
	StatusInitialized Status = "INITIALIZED"
	StatusWriting     Status = "WRITING"
	StatusCompleted   Status = "COMPLETED"
	StatusExpired     Status = "EXPIRED"
	StatusDeleted     Status = "DELETED"
	StatusError       Status = "ERROR"
)

// ExecStatus is the app-drop state machine:
// NOT_RUN -> RUNNING -> FINISHED, terminal ERROR/CANCELLED.
type ExecStatus string

const (
	ExecNotRun    ExecStatus = "NOT_RUN"
	ExecRunning   ExecStatus = "RUNNING"
	ExecFinished  ExecStatus = "FINISHED"
	ExecError     ExecStatus = "ERROR"
	ExecCancelled ExecStatus = "CANCELLED"
)

// ExecutionMode selects how an app drop is fired.
type ExecutionMode string

const (
	// ModeDrop is data-driven: completion of all non-streaming inputs fires the app.
	ModeDrop ExecutionMode = "DROP"
	// ModeExternal defers firing to an external driver calling AppTriggered.
	ModeExternal ExecutionMode = "EXTERNAL"
)

// Topic names the event channels a drop can publish on.
type Topic string

const (
	TopicStatus           Topic = "status"
	TopicExecStatus       Topic = "execStatus"
	TopicProducerFinished Topic = "producerFinished"
)
