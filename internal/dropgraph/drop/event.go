package drop

import (
	"sync"
	"unsafe"
)

// Event describes one state transition published on a drop's bus.
type Event struct {
	Topic      Topic
	OID        string
	UID        string
	Status     Status
	ExecStatus ExecStatus
	Cause      error
}

// EventHandler receives events published on a drop's bus. Handlers must not
// block; if they need to do real work they should enqueue it elsewhere.
type EventHandler func(Event)

// bus is a per-drop publish/subscribe channel, grounded on the subscriber-map
// shape of the teacher's event bus but delivering synchronously: the drop
// runtime requires delivery to happen within the same call that caused the
// transition, not fanned out across goroutines with a timeout.
type bus struct {
	mu   sync.RWMutex
	subs map[Topic]map[uintptr]EventHandler
}

func newBus() *bus {
	return &bus{subs: make(map[Topic]map[uintptr]EventHandler)}
}

// Subscribe registers handler for topic. Subscription is idempotent: the
// same function value subscribed twice to the same topic is only delivered
// once, per the (callback, topic) de-duplication rule.
func (b *bus) Subscribe(topic Topic, handler EventHandler) {
	if handler == nil {
		return
	}
	// A func value points at its closure object: copies of one value share
	// it, while distinct closures built from the same literal do not.
	key := uintptr(*(*unsafe.Pointer)(unsafe.Pointer(&handler)))

	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.subs[topic]
	if !ok {
		m = make(map[uintptr]EventHandler)
		b.subs[topic] = m
	}
	m[key] = handler
}

// Publish delivers event to every handler subscribed to event.Topic, on the
// calling goroutine. The order among handlers of one topic is not defined.
func (b *bus) Publish(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subs[event.Topic]))
	for _, h := range b.subs[event.Topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
