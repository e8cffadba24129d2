package routing

import (
	"fmt"
	"sync"
	"time"

	"github.com/someip-go/vsomeip/obs"
	"github.com/someip-go/vsomeip/wire/someip"
)

// ServiceKey identifies one offered service instance.
type ServiceKey struct {
	Service  someip.ServiceID
	Instance someip.InstanceID
}

// ServiceEntry records one locally- or remotely-offered service.
type ServiceEntry struct {
	Key        ServiceKey
	Major      someip.MajorVersion
	Minor      someip.MinorVersion
	OwnerID    someip.ClientID // local application, if offered locally
	Peer       someip.Peer     // remote endpoint, if offered remotely
	IsLocal    bool
	OfferedAt  time.Time
}

// RequestKey identifies one application's request for a service.
type RequestKey struct {
	Key      ServiceKey
	ClientID someip.ClientID
}

// PendingKey identifies one in-flight request awaiting a response.
type PendingKey struct {
	Peer      string
	RequestID someip.RequestID
}

// SubscriptionKey identifies one client's subscription to an eventgroup.
type SubscriptionKey struct {
	Key        ServiceKey
	Eventgroup someip.EventgroupID
	ClientID   someip.ClientID
}

// Tables holds the routing core's service/request/subscription/pending
// bookkeeping and the per-client session counters used to stamp outgoing
// requests.
type Tables struct {
	mu sync.RWMutex

	services      map[ServiceKey]*ServiceEntry
	requests      map[RequestKey]struct{}
	subscriptions map[SubscriptionKey]struct{}
	pending       map[PendingKey]time.Time
	sessions      map[someip.ClientID]someip.SessionID
}

// NewTables returns empty routing tables.
func NewTables() *Tables {
	return &Tables{
		services:      make(map[ServiceKey]*ServiceEntry),
		requests:      make(map[RequestKey]struct{}),
		subscriptions: make(map[SubscriptionKey]struct{}),
		pending:       make(map[PendingKey]time.Time),
		sessions:      make(map[someip.ClientID]someip.SessionID),
	}
}

// OfferService records (or replaces) an offered service entry.
func (t *Tables) OfferService(e *ServiceEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.OfferedAt = time.Now()
	t.services[e.Key] = e
}

// StopOfferService removes a service's availability entry.
func (t *Tables) StopOfferService(key ServiceKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.services, key)
}

// LookupService returns the current offer for key, if any.
func (t *Tables) LookupService(key ServiceKey) (*ServiceEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.services[key]
	return e, ok
}

// RequestService records that a client wants to use a service.
func (t *Tables) RequestService(key ServiceKey, clientID someip.ClientID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests[RequestKey{Key: key, ClientID: clientID}] = struct{}{}
}

// ReleaseService drops a client's request for a service.
func (t *Tables) ReleaseService(key ServiceKey, clientID someip.ClientID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.requests, RequestKey{Key: key, ClientID: clientID})
}

// Requesters returns every client id currently holding a request for key.
func (t *Tables) Requesters(key ServiceKey) []someip.ClientID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []someip.ClientID
	for rk := range t.requests {
		if rk.Key == key {
			out = append(out, rk.ClientID)
		}
	}
	return out
}

// Subscribe records a client's eventgroup subscription.
func (t *Tables) Subscribe(key ServiceKey, eventgroup someip.EventgroupID, clientID someip.ClientID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscriptions[SubscriptionKey{Key: key, Eventgroup: eventgroup, ClientID: clientID}] = struct{}{}
}

// Unsubscribe removes a client's eventgroup subscription.
func (t *Tables) Unsubscribe(key ServiceKey, eventgroup someip.EventgroupID, clientID someip.ClientID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subscriptions, SubscriptionKey{Key: key, Eventgroup: eventgroup, ClientID: clientID})
}

// Subscribers returns every client subscribed to (key, eventgroup).
func (t *Tables) Subscribers(key ServiceKey, eventgroup someip.EventgroupID) []someip.ClientID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []someip.ClientID
	for sk := range t.subscriptions {
		if sk.Key == key && sk.Eventgroup == eventgroup {
			out = append(out, sk.ClientID)
		}
	}
	return out
}

// NextSession returns the next session id for clientID, wrapping per
// [someip.NextSession]'s skip-0 semantics. The bool result reports whether
// the counter wrapped, signaling a reboot-flag toggle to Service Discovery.
func (t *Tables) NextSession(clientID someip.ClientID) (someip.SessionID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next, wrapped := someip.NextSession(t.sessions[clientID])
	t.sessions[clientID] = next
	return next, wrapped
}

// AddPending records an in-flight request so its eventual response (or
// timeout) can be matched back to the caller.
func (t *Tables) AddPending(peer string, reqID someip.RequestID, deadline time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[PendingKey{Peer: peer, RequestID: reqID}] = deadline
}

// ResolvePending removes and reports whether a pending request exists for
// the given peer/request id.
func (t *Tables) ResolvePending(peer string, reqID someip.RequestID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := PendingKey{Peer: peer, RequestID: reqID}
	_, ok := t.pending[key]
	delete(t.pending, key)
	return ok
}

// SweepExpiredPending removes pending requests whose deadline has passed,
// returning the keys that timed out so callers can synthesize
// ReturnCodeTimeout responses.
func (t *Tables) SweepExpiredPending(now time.Time) []PendingKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []PendingKey
	for k, deadline := range t.pending {
		if now.After(deadline) {
			expired = append(expired, k)
			delete(t.pending, k)
		}
	}
	return expired
}

// WithdrawOwner removes every service offer, request, and subscription
// owned by clientID, plus its session counter; pending-request entries stay
// until [Tables.SweepExpiredPending] drops them. This is the table-level half of dead
// application cleanup (spec.md §4.D: "dead application cleanup is
// idempotent"). Safe to call more than once for the same client.
func (t *Tables) WithdrawOwner(clientID someip.ClientID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, e := range t.services {
		if e.IsLocal && e.OwnerID == clientID {
			delete(t.services, k)
		}
	}
	for k := range t.requests {
		if k.ClientID == clientID {
			delete(t.requests, k)
		}
	}
	for k := range t.subscriptions {
		if k.ClientID == clientID {
			delete(t.subscriptions, k)
		}
	}
	delete(t.sessions, clientID)
}

// errUnknownService builds the error returned by dispatch when no offer is on file for a
// message's target service.
func errUnknownService(key ServiceKey) error {
	return obs.New(obs.KindProtocolViolation, "routing.Tables", fmt.Errorf("unknown service %#x.%#x", uint16(key.Service), uint16(key.Instance)))
}
