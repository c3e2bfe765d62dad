// Package events delivers archive lifecycle notifications to observers.
package events

import (
	"sync"

	"xdao.co/archiver/contentkey"
)

// Kind is the type of a lifecycle event.
type Kind int

const (
	Add Kind = iota + 1
	Remove
)

func (k Kind) String() string {
	switch k {
	case Add:
		return "add"
	case Remove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event reports that an archive was added to or removed from management.
type Event struct {
	Kind Kind
	Key  contentkey.Key
}

// Observer receives events. It runs on the emitting goroutine and must not
// emit on the same Bus.
type Observer func(Event)

type subscription struct {
	id   uint64
	kind Kind
	fn   Observer
}

// Bus is an ordered list of observers. Emit delivers synchronously: every
// observer subscribed when Emit starts has seen the event when Emit returns.
// Concurrent Emit calls are serialized, so each observer sees events in
// emission order.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscription

	emitMu sync.Mutex
}

func NewBus() *Bus { return &Bus{} }

// Subscribe registers fn for events of kind. A zero kind subscribes to every
// kind. The returned function unsubscribes.
func (b *Bus) Subscribe(kind Kind, fn Observer) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, kind: kind, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit delivers e to the matching observers in subscription order.
func (b *Bus) Emit(e Event) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.Unlock()

	for _, s := range subs {
		if s.kind == 0 || s.kind == e.Kind {
			s.fn(e)
		}
	}
}
