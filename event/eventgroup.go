// Package event implements eventgroup subscriber bookkeeping, cached field
// values delivered on fresh subscription, and cyclic/on-change notification
// with debounce filtering.
package event

import (
	"sync"
	"time"

	"github.com/someip-go/vsomeip/wire/someip"
)

// Kind enumerates an event's delivery semantics.
type Kind uint8

const (
	KindEvent Kind = iota
	KindField
	KindSelectiveEvent
)

// EpsilonPredicate decides whether a new payload differs enough from the
// previous one to count as a change: for a field, the last cached payload;
// for a plain event, nil. It plays the role of a field's
// epsilon_change_predicate gates redundant updates.
type EpsilonPredicate func(previous, next []byte) bool

// DebounceFilter bounds how often one event's updates are delivered.
// Interval -1 disables delivery entirely; interval 0 with OnChangeOnly
// coalesces by change alone.
type DebounceFilter struct {
	Interval      time.Duration // -1 disables
	OnChangeOnly  bool
	EpsilonChange EpsilonPredicate
}

const DisableInterval = time.Duration(-1)

func (f DebounceFilter) allows(lastEmit time.Time, now time.Time, previous, next []byte) bool {
	if f.Interval == DisableInterval {
		return false
	}
	if f.OnChangeOnly {
		changed := true
		if f.EpsilonChange != nil {
			changed = f.EpsilonChange(previous, next)
		} else {
			changed = !bytesEqual(previous, next)
		}
		if !changed {
			return false
		}
	}
	if f.Interval == 0 {
		return true
	}
	return !now.Before(lastEmit.Add(f.Interval))
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Event describes one event/field's delivery configuration within an
// eventgroup.
type Event struct {
	ID                someip.MethodID
	Kind              Kind
	Cycle             time.Duration // 0 means no cyclic emission
	ChangeResetsCycle bool
	UpdateOnChange    bool
	Filter            DebounceFilter
	IsReliable        bool
}

// Sender delivers one notification payload to every current subscriber of
// an eventgroup owned by (service, instance).
type Sender interface {
	Notify(service someip.ServiceID, instance someip.InstanceID, eventID someip.MethodID, payload []byte, isInitial bool, subscribers []someip.ClientID) error
}

// Eventgroup is the (service, instance, eventgroup)'s subscriber set plus
// its member events' cached values, grounded on the teacher's cached,
// shared-lock-read record-set shape (internal/records' TTL-cache tests)
// generalized from DNS TTL expiry to SOME/IP field caching.
type Eventgroup struct {
	Service  someip.ServiceID
	Instance someip.InstanceID
	ID       someip.EventgroupID

	mu          sync.RWMutex
	events      map[someip.MethodID]*Event
	cached      map[someip.MethodID][]byte
	lastEmit    map[someip.MethodID]time.Time
	subscribers map[someip.ClientID]struct{}
}

// NewEventgroup returns an empty [Eventgroup].
func NewEventgroup(service someip.ServiceID, instance someip.InstanceID, id someip.EventgroupID) *Eventgroup {
	return &Eventgroup{
		Service: service, Instance: instance, ID: id,
		events:      make(map[someip.MethodID]*Event),
		cached:      make(map[someip.MethodID][]byte),
		lastEmit:    make(map[someip.MethodID]time.Time),
		subscribers: make(map[someip.ClientID]struct{}),
	}
}

// AddEvent registers an event/field as a member of this eventgroup.
func (g *Eventgroup) AddEvent(e *Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events[e.ID] = e
}

// HasEvent reports whether id is a member event of this eventgroup.
func (g *Eventgroup) HasEvent(id someip.MethodID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.events[id]
	return ok
}

// Events returns a snapshot of this eventgroup's member events, for a
// caller (e.g. a cyclic driver) that needs to iterate them outside the
// eventgroup's own lock.
func (g *Eventgroup) Events() []*Event {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Event, 0, len(g.events))
	for _, ev := range g.events {
		out = append(out, ev)
	}
	return out
}

// Subscribe adds clientID to the subscriber set and returns the cached
// payloads of every FIELD member that has ever been written, so the caller
// can deliver them immediately with is_initial = true.
func (g *Eventgroup) Subscribe(clientID someip.ClientID) map[someip.MethodID][]byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscribers[clientID] = struct{}{}
	initial := make(map[someip.MethodID][]byte)
	for id, ev := range g.events {
		if ev.Kind != KindField {
			continue
		}
		if payload, ok := g.cached[id]; ok {
			initial[id] = payload
		}
	}
	return initial
}

// Unsubscribe removes clientID from the subscriber set.
func (g *Eventgroup) Unsubscribe(clientID someip.ClientID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.subscribers, clientID)
}

// Subscribers returns a snapshot of the current subscriber set.
func (g *Eventgroup) Subscribers() []someip.ClientID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]someip.ClientID, 0, len(g.subscribers))
	for c := range g.subscribers {
		out = append(out, c)
	}
	return out
}

// Notify writes a new payload for eventID, updates the cache for FIELD
// events, and reports whether the debounce filter allows delivery right
// now. On true, the caller is responsible for actually sending and must
// call MarkEmitted afterward.
func (g *Eventgroup) Notify(eventID someip.MethodID, payload []byte, now time.Time) (deliver bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ev, ok := g.events[eventID]
	if !ok {
		return false
	}
	previous := g.cached[eventID]
	if ev.Kind == KindField {
		g.cached[eventID] = payload
	}
	deliver = ev.Filter.allows(g.lastEmit[eventID], now, previous, payload)
	return deliver
}

// MarkEmitted records that eventID was just delivered at now, resetting the
// debounce window.
func (g *Eventgroup) MarkEmitted(eventID someip.MethodID, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastEmit[eventID] = now
}

// Cached returns the last written payload for a FIELD event, if any.
func (g *Eventgroup) Cached(eventID someip.MethodID) ([]byte, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.cached[eventID]
	return v, ok
}
