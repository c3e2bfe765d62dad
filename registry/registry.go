// Package registry tracks which archives are running, keyed by content key.
//
// Every operation is serialized on one mutex, so check-and-insert and
// check-and-remove are atomic. A key can be reserved while its archive is
// being opened, and a removed key stays held until its teardown finishes.
// Held keys block other inserts but are invisible to Get, Remove and Keys.
package registry

import (
	"errors"
	"sort"
	"sync"

	"xdao.co/archiver/contentkey"
)

var (
	// ErrExists is returned when a key is already registered or reserved.
	ErrExists = errors.New("registry: key already registered")
	// ErrSealed is returned once the registry has been drained.
	ErrSealed = errors.New("registry: sealed")
	// ErrNotReserved is returned by Commit for a key without a reservation.
	ErrNotReserved = errors.New("registry: key not reserved")
	// ErrRemoving is returned by Reserve while the key's removal is in
	// progress.
	ErrRemoving = errors.New("registry: key is being removed")
)

// State is the lifecycle stage of a key.
type State uint8

const (
	Absent State = iota
	Reserved
	Ready
	Removing
)

func (s State) String() string {
	switch s {
	case Reserved:
		return "reserved"
	case Ready:
		return "ready"
	case Removing:
		return "removing"
	default:
		return "absent"
	}
}

type slot[H any] struct {
	handle H
	state  State
}

// Registry maps content keys to running handles. The zero value is not
// usable; construct with New.
type Registry[H any] struct {
	mu     sync.Mutex
	slots  map[contentkey.Key]*slot[H]
	sealed bool
}

func New[H any]() *Registry[H] {
	return &Registry[H]{slots: make(map[contentkey.Key]*slot[H])}
}

// TryInsert registers h under key if the key is neither registered nor
// reserved, and reports whether it did.
func (r *Registry[H]) TryInsert(key contentkey.Key, h H) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return false
	}
	if _, ok := r.slots[key]; ok {
		return false
	}
	r.slots[key] = &slot[H]{handle: h, state: Ready}
	return true
}

// Reserve claims key ahead of Commit.
func (r *Registry[H]) Reserve(key contentkey.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrSealed
	}
	if s, ok := r.slots[key]; ok {
		if s.state == Removing {
			return ErrRemoving
		}
		return ErrExists
	}
	r.slots[key] = &slot[H]{state: Reserved}
	return nil
}

// Commit fills a reservation. If the registry was drained in the meantime it
// returns ErrSealed and the caller still owns h.
func (r *Registry[H]) Commit(key contentkey.Key, h H) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrSealed
	}
	s, ok := r.slots[key]
	if !ok || s.state != Reserved {
		return ErrNotReserved
	}
	s.handle = h
	s.state = Ready
	return nil
}

// Release frees a key held by Reserve or Remove. Registered keys are left
// alone.
func (r *Registry[H]) Release(key contentkey.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.slots[key]; ok && s.state != Ready {
		delete(r.slots, key)
	}
}

// Remove unregisters key and returns its handle. The key stays held in the
// Removing state until the caller releases it.
func (r *Registry[H]) Remove(key contentkey.Key) (H, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[key]
	if !ok || s.state != Ready {
		var zero H
		return zero, false
	}
	h := s.handle
	var zero H
	s.handle = zero
	s.state = Removing
	return h, true
}

func (r *Registry[H]) Get(key contentkey.Key) (H, bool) {
	h, st := r.Lookup(key)
	return h, st == Ready
}

// Lookup returns key's state and, when Ready, its handle.
func (r *Registry[H]) Lookup(key contentkey.Key) (H, State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[key]
	if !ok {
		var zero H
		return zero, Absent
	}
	return s.handle, s.state
}

// Has reports whether key is held in any state.
func (r *Registry[H]) Has(key contentkey.Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.slots[key]
	return ok
}

// Keys returns the registered keys sorted by their hex form.
func (r *Registry[H]) Keys() []contentkey.Key {
	r.mu.Lock()
	out := make([]contentkey.Key, 0, len(r.slots))
	for k, s := range r.slots {
		if s.state == Ready {
			out = append(out, k)
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (r *Registry[H]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.slots {
		if s.state == Ready {
			n++
		}
	}
	return n
}

// Drain seals the registry and removes every entry, returning the registered
// handles. Reservations and removals in progress are dropped; their Commit
// will fail and their Release is a no-op.
func (r *Registry[H]) Drain() map[contentkey.Key]H {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
	out := make(map[contentkey.Key]H, len(r.slots))
	for k, s := range r.slots {
		if s.state == Ready {
			out[k] = s.handle
		}
	}
	r.slots = make(map[contentkey.Key]*slot[H])
	return out
}

func (r *Registry[H]) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}
