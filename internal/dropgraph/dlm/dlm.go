// Package dlm implements the Data Lifecycle Manager (C5): per-drop creation
// and expiration bookkeeping, a background sweeper that expires and evicts
// COMPLETED drops past their expirationDate, and the replication hook spec.md
// §4.5 describes (the DLM records replica URIs; it never moves bytes itself).
package dlm

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/heliograph/dfms/internal/dropgraph/drop"
	"github.com/heliograph/dfms/pkg/logger"
	"github.com/heliograph/dfms/pkg/metrics"
)

// Record is the DLM's per-drop bookkeeping entry, per spec.md §3 ("DLM
// record"): creation time, expiration time, replica locations, access count.
type Record struct {
	UID             string
	OID             string
	CreateTime      time.Time
	ExpirationDate  time.Time // zero value means no expiration
	DesiredReplicas int
	ReplicaURIs     []string
	AccessCount     int64
}

// ReplicationHook is called when a drop's replica count falls short of its
// DesiredReplicas; it returns the URIs of the replicas it created, or nil if
// it could not satisfy the request yet. The DLM never moves bytes itself --
// movement is left to the owning manager, per spec.md's §4.5 and §9 Open
// Questions resolution ("replication is a hook").
type ReplicationHook func(uid string, desired int) []string

// dataDrop is the subset of a data drop's surface the sweeper needs.
type dataDrop interface {
	drop.Node
	Status() drop.Status
	Expiration() time.Time
	Expire() bool
	Evict() error
}

type entry struct {
	rec  *Record
	node dataDrop
}

// Config controls the sweeper's tick granularity and default replication.
type Config struct {
	// SweepInterval is the sweeper's tick granularity; spec.md §4.5 default
	// is 10s. Zero is replaced by the 10s default.
	SweepInterval time.Duration
	// DefaultReplicas seeds Record.DesiredReplicas for drops that don't
	// request an explicit replica count of their own.
	DefaultReplicas int
	// CronSchedule optionally overrides the fixed SweepInterval cadence
	// with a standard 5-field cron expression (e.g. "*/10 * * * *" for
	// "every 10 minutes"), for deployments that want sweeps aligned to
	// wall-clock boundaries rather than a fixed tick since startup. Left
	// empty, the sweeper ticks every SweepInterval as spec.md §4.5
	// describes. An unparsable expression is logged and ignored.
	CronSchedule string
}

// DLM tracks drops' lifetime and runs the background expiration sweeper. It
// holds no drops exclusively -- records are removed explicitly by Forget
// (called by the node manager's DestroySession, and on a drop's DELETED
// event) rather than through a true GC weak reference,
// since Go exposes no portable weak-pointer primitive before the 1.24 `weak`
// package (see DESIGN.md).
type DLM struct {
	cfg Config
	log *logger.Logger
	now func() time.Time

	mu       sync.Mutex
	byUID    map[string]*entry
	byOID    map[string]*entry
	replicFn ReplicationHook

	schedule cron.Schedule

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a DLM. log may be nil.
func New(cfg Config, log *logger.Logger) *DLM {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("dlm")
	}
	var schedule cron.Schedule
	if cfg.CronSchedule != "" {
		s, err := cron.ParseStandard(cfg.CronSchedule)
		if err != nil {
			log.WithField("schedule", cfg.CronSchedule).WithField("err", err).Warn("dlm: invalid cron schedule, falling back to fixed interval")
		} else {
			schedule = s
		}
	}
	return &DLM{
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		byUID:    make(map[string]*entry),
		byOID:    make(map[string]*entry),
		schedule: schedule,
		stopCh:   make(chan struct{}),
	}
}

// SetReplicationHook installs the callback invoked when a tracked drop's
// replica count falls short of its desired count.
func (m *DLM) SetReplicationHook(fn ReplicationHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replicFn = fn
}

// AddDrop registers n for lifecycle tracking if it is a data drop; app drops
// and anything not exposing the data-drop surface are ignored. Subscribes to
// the drop's status topic so DELETED transitions remove the record without
// waiting for the next sweep.
func (m *DLM) AddDrop(n drop.Node) {
	dd, ok := n.(dataDrop)
	if !ok {
		return
	}

	desired := m.cfg.DefaultReplicas
	if r, ok := n.(interface{ DesiredReplicas() int }); ok && r.DesiredReplicas() > 0 {
		desired = r.DesiredReplicas()
	}

	rec := &Record{
		UID:             n.UID(),
		OID:             n.OID(),
		CreateTime:      m.now(),
		ExpirationDate:  dd.Expiration(),
		DesiredReplicas: desired,
	}
	e := &entry{rec: rec, node: dd}

	m.mu.Lock()
	m.byUID[n.UID()] = e
	m.byOID[n.OID()] = e
	m.mu.Unlock()

	n.Subscribe(drop.TopicStatus, func(ev drop.Event) {
		if ev.Status == drop.StatusDeleted {
			m.Forget(n.UID())
		}
	})
}

// Forget removes a drop from tracking. Called by the node manager's
// DestroySession so a destroyed session's drops disappear from the DLM immediately rather than
// waiting on the next sweep, per spec.md §4.5.
func (m *DLM) Forget(uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.byUID[uid]; ok {
		delete(m.byOID, e.rec.OID)
	}
	delete(m.byUID, uid)
}

// RecordAccess increments a tracked drop's access counter; used by readers to
// inform future eviction/replication policy decisions (the policy itself is
// left to the owning manager per spec.md §9).
func (m *DLM) RecordAccess(uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.byUID[uid]; ok {
		e.rec.AccessCount++
	}
}

// Record returns a copy of the tracked record for uid, if present.
func (m *DLM) Record(uid string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byUID[uid]
	if !ok {
		return Record{}, false
	}
	return *e.rec, true
}

// Start launches the background sweeper goroutine. Safe to call once per DLM.
func (m *DLM) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Stop signals the sweeper to exit and waits for it to do so.
func (m *DLM) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *DLM) loop() {
	defer m.wg.Done()
	if m.schedule != nil {
		m.cronLoop()
		return
	}
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// cronLoop sweeps on each firing of the configured cron schedule instead of
// a fixed tick, used when Config.CronSchedule is set.
func (m *DLM) cronLoop() {
	for {
		next := m.schedule.Next(m.now())
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-m.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			m.Sweep()
		}
	}
}

// Sweep runs one pass: expire COMPLETED drops past their expirationDate,
// evict EXPIRED drops (releasing payloads, cascading into containers), and
// invoke the replication hook for drops short of their desired replica count.
// Exported so tests and callers needing deterministic timing can drive a pass
// without waiting on the ticker.
func (m *DLM) Sweep() {
	start := m.now()

	m.mu.Lock()
	entries := make([]*entry, 0, len(m.byUID))
	for _, e := range m.byUID {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for _, e := range entries {
		m.sweepOne(e)
	}
	metrics.RecordDLMSweep("ok", m.now().Sub(start))
}

func (m *DLM) sweepOne(e *entry) {
	now := m.now()

	if e.node.Status() == drop.StatusCompleted && !e.rec.ExpirationDate.IsZero() && now.After(e.rec.ExpirationDate) {
		if e.node.Expire() {
			metrics.RecordDLMExpiration("lifespan")
		}
	}

	if e.node.Status() == drop.StatusExpired {
		m.evictCascading(e.rec.OID, e.node)
	}

	m.mu.Lock()
	desired := e.rec.DesiredReplicas
	haveReplicas := len(e.rec.ReplicaURIs)
	hook := m.replicFn
	m.mu.Unlock()

	if desired > 0 && haveReplicas < desired && hook != nil {
		uris := hook(e.rec.UID, desired)
		if len(uris) > 0 {
			m.mu.Lock()
			e.rec.ReplicaURIs = uris
			m.mu.Unlock()
		}
	}
}

// evictCascading releases n's payload and, if n is a container, recursively
// evicts its children, per spec.md §4.5 ("container drops cascade to their
// children").
func (m *DLM) evictCascading(oid string, n dataDrop) {
	if err := n.Evict(); err != nil {
		m.log.WithField("oid", oid).WithField("err", err).Warn("dlm: evict failed")
		return
	}
	metrics.RecordDLMEviction()

	children, ok := n.(interface{ Children() []string })
	if !ok {
		return
	}
	for _, childOID := range children.Children() {
		m.mu.Lock()
		childEntry, ok := m.byOID[childOID]
		m.mu.Unlock()
		if !ok {
			continue
		}
		if childEntry.node.Status() == drop.StatusCompleted {
			childEntry.node.Expire()
		}
		if childEntry.node.Status() == drop.StatusExpired {
			m.evictCascading(childOID, childEntry.node)
		}
	}
}
