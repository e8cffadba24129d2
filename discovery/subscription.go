package discovery

import (
	"sync"

	"github.com/someip-go/vsomeip/wire/someip"
)

// SubscriptionState enumerates one client's acknowledgment state for a
// subscription, grounded field-for-field on subscription.hpp's
// subscription_state_e.
type SubscriptionState uint8

const (
	SubscriptionUnknown SubscriptionState = iota
	SubscriptionAcknowledged
	SubscriptionNotAcknowledged
	SubscriptionResubscribing
	SubscriptionResubscribingNotAcknowledged
)

func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionAcknowledged:
		return "ACKNOWLEDGED"
	case SubscriptionNotAcknowledged:
		return "NOT_ACKNOWLEDGED"
	case SubscriptionResubscribing:
		return "RESUBSCRIBING"
	case SubscriptionResubscribingNotAcknowledged:
		return "RESUBSCRIBING_NOT_ACKNOWLEDGED"
	default:
		return "UNKNOWN"
	}
}

// Subscription is one (service, instance, eventgroup)'s subscriber-set
// bookkeeping, grounded on subscription.hpp/.cpp. It owns a back-reference
// to its owning eventgroup (standing in for the C++ weak_ptr) so the event
// package can locate cached field values without an import cycle.
type Subscription struct {
	Service    someip.ServiceID
	Instance   someip.InstanceID
	Eventgroup someip.EventgroupID
	Major      someip.MajorVersion
	TTL        someip.TTL

	ReliableEndpoint   someip.Peer
	UnreliableEndpoint someip.Peer
	IsSelective        bool

	EventgroupRef any // *event.Eventgroup, kept untyped to avoid a discovery -> event import cycle

	mu      sync.Mutex
	clients map[someip.ClientID]SubscriptionState
}

// NewSubscription returns an empty [Subscription] for the given key.
func NewSubscription(service someip.ServiceID, instance someip.InstanceID, eventgroup someip.EventgroupID) *Subscription {
	return &Subscription{Service: service, Instance: instance, Eventgroup: eventgroup, clients: make(map[someip.ClientID]SubscriptionState)}
}

// AddClient registers clientID as a subscriber in state UNKNOWN, reporting
// whether it was newly added.
func (s *Subscription) AddClient(clientID someip.ClientID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[clientID]; ok {
		return false
	}
	s.clients[clientID] = SubscriptionUnknown
	return true
}

// RemoveClient drops clientID, reporting whether it was present.
func (s *Subscription) RemoveClient(clientID someip.ClientID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[clientID]; !ok {
		return false
	}
	delete(s.clients, clientID)
	return true
}

// State returns clientID's acknowledgment state.
func (s *Subscription) State(clientID someip.ClientID) SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients[clientID]
}

// SetState updates clientID's acknowledgment state.
func (s *Subscription) SetState(clientID someip.ClientID, state SubscriptionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[clientID] = state
}

// HasClients reports whether any client is currently subscribed.
func (s *Subscription) HasClients() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients) > 0
}

// Clients returns a snapshot of subscribed client ids.
func (s *Subscription) Clients() []someip.ClientID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]someip.ClientID, 0, len(s.clients))
	for c := range s.clients {
		out = append(out, c)
	}
	return out
}
