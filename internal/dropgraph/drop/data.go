package drop

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heliograph/dfms/pkg/errkind"
	"github.com/heliograph/dfms/pkg/metrics"
)

var (
	errNotWritable = errors.New("drop: payload does not accept writes")
	errNotReadable = errors.New("drop: payload does not support reads")
)

// dataBase is the shared state and behavior of every data drop variant.
type dataBase struct {
	oid string
	uid string
	typ Type

	mu             sync.Mutex
	status         Status
	bus            *bus
	payload        payload
	maxSize        int64 // 0 means unbounded
	expirationDate time.Time
	expireAfterUse bool
	readWhileWrite bool

	producer           string
	consumers          []string
	streamingConsumers []string

	writeObservers []func([]byte)

	uri             string
	desiredReplicas int
}

// SetDesiredReplicas records how many replicas the DLM should aim to keep
// for this drop's payload; 0 (the default) means no replication.
func (d *dataBase) SetDesiredReplicas(n int) { d.desiredReplicas = n }

// DesiredReplicas returns the replica count configured via SetDesiredReplicas.
func (d *dataBase) DesiredReplicas() int { return d.desiredReplicas }

// AddWriteObserver registers fn to be called with every chunk written to
// this drop, used by the execution engine to deliver dataWritten callbacks
// to streaming app consumers as upstream data arrives.
func (d *dataBase) AddWriteObserver(fn func([]byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeObservers = append(d.writeObservers, fn)
}

func newDataBase(oid string, typ Type, p payload) *dataBase {
	return &dataBase{
		oid:     oid,
		uid:     uuid.NewString(),
		typ:     typ,
		status:  StatusInitialized,
		bus:     newBus(),
		payload: p,
	}
}

func (d *dataBase) OID() string  { return d.oid }
func (d *dataBase) UID() string  { return d.uid }
func (d *dataBase) Kind() Kind   { return KindData }
func (d *dataBase) Type() Type   { return d.typ }
func (d *dataBase) URI() string  { return d.uri }
func (d *dataBase) SetURI(u string) { d.uri = u }

func (d *dataBase) dataBasePtr() *dataBase { return d }

func (d *dataBase) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// SetMaxSize bounds the drop's writable payload; 0 (the default) is unbounded.
func (d *dataBase) SetMaxSize(n int64) { d.maxSize = n }

// SetExpiration records the absolute time after which the drop expires.
// A zero time means no expiration.
func (d *dataBase) SetExpiration(t time.Time) { d.expirationDate = t }

func (d *dataBase) Expiration() time.Time { return d.expirationDate }

// SetExpireAfterUse marks the drop's payload for deletion when its owning
// session is destroyed.
func (d *dataBase) SetExpireAfterUse(v bool) { d.expireAfterUse = v }

func (d *dataBase) ExpireAfterUse() bool { return d.expireAfterUse }

// SetReadableWhileWriting relaxes Open to allow streaming reads before
// COMPLETED, used by streaming consumers.
func (d *dataBase) SetReadableWhileWriting(v bool) { d.readWhileWrite = v }

func (d *dataBase) Subscribe(topic Topic, handler EventHandler) {
	d.bus.Subscribe(topic, handler)
}

// Write appends bytes to the payload. Accepted only while the drop is
// INITIALIZED or WRITING; the first write transitions to WRITING.
func (d *dataBase) Write(p []byte) (int, error) {
	d.mu.Lock()
	switch d.status {
	case StatusInitialized:
		d.status = StatusWriting
	case StatusWriting:
		// already writing
	default:
		d.mu.Unlock()
		return 0, errkind.InvalidState("write outside WRITING", d.oid)
	}
	if d.maxSize > 0 && d.payload.size()+int64(len(p)) > d.maxSize {
		d.mu.Unlock()
		return 0, errkind.Overflow(d.oid)
	}
	d.mu.Unlock()

	n, err := d.payload.write(p)
	if err != nil {
		return n, err
	}
	metrics.RecordDropWrite(string(d.typ), n)

	d.mu.Lock()
	observers := append([]func([]byte){}, d.writeObservers...)
	d.mu.Unlock()
	for _, obs := range observers {
		obs(p)
	}
	return n, nil
}

// Open returns a read cursor over the payload. Fails with InvalidState
// unless the drop is COMPLETED, or readable-while-writing was set and the
// drop is at least WRITING.
func (d *dataBase) Open() (io.ReadCloser, error) {
	d.mu.Lock()
	status := d.status
	streaming := d.readWhileWrite && (status == StatusWriting || status == StatusCompleted)
	d.mu.Unlock()

	if status != StatusCompleted && !streaming {
		return nil, errkind.InvalidState("open before COMPLETED", d.oid)
	}

	var blockForMore func() bool
	if streaming && status != StatusCompleted {
		blockForMore = func() bool { return d.Status() != StatusCompleted }
	}
	return d.payload.newReader(blockForMore)
}

// SetCompleted finalizes the drop: transitions to COMPLETED and publishes a
// status event. Streaming consumers observe end-of-stream through the
// execution engine's drop-completed callback, wired separately.
func (d *dataBase) SetCompleted() error {
	d.mu.Lock()
	if d.status != StatusInitialized && d.status != StatusWriting {
		d.mu.Unlock()
		return errkind.InvalidState("setCompleted outside WRITING", d.oid)
	}
	d.status = StatusCompleted
	d.mu.Unlock()

	if mp, ok := d.payload.(*memoryPayload); ok {
		mp.markDone()
	}

	metrics.RecordDropStatus(string(d.typ), string(StatusCompleted))
	d.bus.Publish(Event{Topic: TopicStatus, OID: d.oid, UID: d.uid, Status: StatusCompleted})
	return nil
}

// SetError transitions the drop to ERROR from any non-terminal state and
// publishes a status event. ERROR is a sink: once entered it cannot be left.
func (d *dataBase) SetError(cause error) error {
	d.mu.Lock()
	if d.status == StatusError {
		d.mu.Unlock()
		return nil
	}
	if d.status == StatusDeleted {
		d.mu.Unlock()
		return errkind.InvalidState("setError after DELETED", d.oid)
	}
	d.status = StatusError
	d.mu.Unlock()

	if mp, ok := d.payload.(*memoryPayload); ok {
		mp.markDone()
	}

	metrics.RecordDropStatus(string(d.typ), string(StatusError))
	d.bus.Publish(Event{Topic: TopicStatus, OID: d.oid, UID: d.uid, Status: StatusError, Cause: cause})
	return nil
}

// Expire transitions COMPLETED -> EXPIRED. Called by the DLM sweeper only.
func (d *dataBase) Expire() bool {
	d.mu.Lock()
	if d.status != StatusCompleted {
		d.mu.Unlock()
		return false
	}
	d.status = StatusExpired
	d.mu.Unlock()

	metrics.RecordDropStatus(string(d.typ), string(StatusExpired))
	d.bus.Publish(Event{Topic: TopicStatus, OID: d.oid, UID: d.uid, Status: StatusExpired})
	return true
}

// evict releases the payload and transitions EXPIRED -> DELETED. Called by
// the DLM sweeper only.
func (d *dataBase) evict() error {
	d.mu.Lock()
	if d.status != StatusExpired {
		d.mu.Unlock()
		return errkind.InvalidState("evict before EXPIRED", d.oid)
	}
	d.status = StatusDeleted
	d.mu.Unlock()

	err := d.payload.evict()
	metrics.RecordDropStatus(string(d.typ), string(StatusDeleted))
	d.bus.Publish(Event{Topic: TopicStatus, OID: d.oid, UID: d.uid, Status: StatusDeleted})
	return err
}

// Evict is the exported form of evict, used by the data lifecycle manager's
// sweeper (a separate package) to release an EXPIRED drop's payload.
func (d *dataBase) Evict() error { return d.evict() }

// ForceDelete releases the payload and transitions directly to DELETED from
// any non-DELETED status, regardless of expiration. Used by Session.Destroy
// to tear down drops marked expireAfterUse without waiting on the DLM sweep.
func (d *dataBase) ForceDelete() error {
	d.mu.Lock()
	if d.status == StatusDeleted {
		d.mu.Unlock()
		return nil
	}
	d.status = StatusDeleted
	d.mu.Unlock()

	err := d.payload.evict()
	d.bus.Publish(Event{Topic: TopicStatus, OID: d.oid, UID: d.uid, Status: StatusDeleted})
	return err
}

func (d *dataBase) addConsumerLocked(appOID string) {
	for _, c := range d.consumers {
		if c == appOID {
			return
		}
	}
	d.consumers = append(d.consumers, appOID)
}

func (d *dataBase) addStreamingConsumerLocked(appOID string) {
	for _, c := range d.streamingConsumers {
		if c == appOID {
			return
		}
	}
	d.streamingConsumers = append(d.streamingConsumers, appOID)
}

func (d *dataBase) removeConsumerLocked(appOID string) {
	for i, c := range d.consumers {
		if c == appOID {
			d.consumers = append(d.consumers[:i], d.consumers[i+1:]...)
			return
		}
	}
}

func (d *dataBase) removeStreamingConsumerLocked(appOID string) {
	for i, c := range d.streamingConsumers {
		if c == appOID {
			d.streamingConsumers = append(d.streamingConsumers[:i], d.streamingConsumers[i+1:]...)
			return
		}
	}
}

// FileDrop is a data drop backed by a single file on disk.
type FileDrop struct{ *dataBase }

// NewFileDrop creates a FileDrop whose payload lives under dir/oid.
func NewFileDrop(oid, dir string) (*FileDrop, error) {
	p, err := newFilePayload(dir, oid)
	if err != nil {
		return nil, err
	}
	d := &FileDrop{dataBase: newDataBase(oid, TypeFile, p)}
	metrics.RecordDropCreated(string(TypeFile))
	return d, nil
}

// InMemoryDrop is a data drop backed by an in-process buffer, optionally
// readable-while-writing for streaming consumers.
type InMemoryDrop struct{ *dataBase }

// NewInMemoryDrop creates an InMemoryDrop.
func NewInMemoryDrop(oid string) *InMemoryDrop {
	d := &InMemoryDrop{dataBase: newDataBase(oid, TypeMemory, newMemoryPayload())}
	metrics.RecordDropCreated(string(TypeMemory))
	return d
}

// containerDrop is the shared shape of DirectoryContainerDrop and ContainerDrop.
type containerDrop struct {
	*dataBase
	container *containerPayload
}

// AddChild registers a child oid under this container, for cascade eviction.
func (c *containerDrop) AddChild(oid string) { c.container.addChild(oid) }

// Children returns the oids of this container's members.
func (c *containerDrop) Children() []string { return c.container.listChildren() }

// DirectoryContainerDrop groups child drops under a logical directory.
type DirectoryContainerDrop struct{ containerDrop }

// NewDirectoryContainerDrop creates a DirectoryContainerDrop.
func NewDirectoryContainerDrop(oid string) *DirectoryContainerDrop {
	cp := &containerPayload{}
	d := &DirectoryContainerDrop{containerDrop{dataBase: newDataBase(oid, TypeDirectoryContainer, cp), container: cp}}
	metrics.RecordDropCreated(string(TypeDirectoryContainer))
	return d
}

// ContainerDrop groups child drops without directory semantics (e.g. a
// logical collection of in-memory drops treated as one unit).
type ContainerDrop struct{ containerDrop }

// NewContainerDrop creates a ContainerDrop.
func NewContainerDrop(oid string) *ContainerDrop {
	cp := &containerPayload{}
	d := &ContainerDrop{containerDrop{dataBase: newDataBase(oid, TypeContainer, cp), container: cp}}
	metrics.RecordDropCreated(string(TypeContainer))
	return d
}
