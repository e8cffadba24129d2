package vsomeip

import (
	"time"

	"github.com/someip-go/vsomeip/event"
	"github.com/someip-go/vsomeip/routing"
	"github.com/someip-go/vsomeip/wire/someip"
)

// notificationGate adapts the routing package's notification branch to the
// event package's eventgroup/debounce machinery, keeping routing free of a
// direct import on event (mirroring how routing.Gateway keeps routing free
// of an import on policy).
type notificationGate struct {
	h *RoutingHost
}

// Deliver resolves msg's event/field id to its containing eventgroup(s) —
// the fix for the event-id/eventgroup-id confusion — runs each through its
// eventgroup's debounce filter, and fans the payload out to the union of
// their current subscribers.
func (g notificationGate) Deliver(key routing.ServiceKey, msg *someip.Message) error {
	now := time.Now()
	delivered := make(map[someip.ClientID]struct{})
	var firstErr error
	for _, eg := range g.h.eventgroupsFor(key.Service, key.Instance) {
		if !eg.HasEvent(msg.MethodID) {
			continue
		}
		if !eg.Notify(msg.MethodID, msg.Payload, now) {
			continue
		}
		subscribers := eg.Subscribers()
		if err := g.h.Notify(key.Service, key.Instance, msg.MethodID, msg.Payload, false, dedupNew(delivered, subscribers)); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		eg.MarkEmitted(msg.MethodID, now)
	}
	return firstErr
}

// dedupNew returns the subset of candidates not already present in seen,
// adding them to seen as a side effect, so one subscriber of more than one
// eventgroup carrying the same event id is only delivered to once.
func dedupNew(seen map[someip.ClientID]struct{}, candidates []someip.ClientID) []someip.ClientID {
	out := make([]someip.ClientID, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// eventgroupsFor returns every eventgroup registered for (service, instance).
func (h *RoutingHost) eventgroupsFor(service someip.ServiceID, instance someip.InstanceID) []*event.Eventgroup {
	h.eventgroupsMu.Lock()
	defer h.eventgroupsMu.Unlock()
	var out []*event.Eventgroup
	for k, eg := range h.eventgroups {
		if k.service == service && k.instance == instance {
			out = append(out, eg)
		}
	}
	return out
}

var _ event.Sender = (*RoutingHost)(nil)

// Notify implements [event.Sender], the single fan-out path shared by
// reactive (on-change/debounced) delivery from notificationGate and
// scheduled delivery from a CyclicDriver. DIAGNOSIS state suppresses it
// here too, since cyclic delivery never passes through
// routing.Dispatcher.Dispatch.
func (h *RoutingHost) Notify(service someip.ServiceID, instance someip.InstanceID, eventID someip.MethodID, payload []byte, isInitial bool, subscribers []someip.ClientID) error {
	if h.state.Current() == routing.StateDiagnosis {
		return nil
	}
	var firstErr error
	for _, clientID := range subscribers {
		msg := &someip.Message{
			ServiceID: service, MethodID: eventID, InstanceID: instance,
			MessageType: someip.MessageTypeNotification, ProtocolVersion: someip.ProtocolVersion,
			Payload: payload, IsInitial: isInitial,
		}
		if err := h.SendLocal(clientID, msg); err != nil {
			h.logger.Warn("notification delivery failed", "client_id", clientID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// deliverCyclic is the deliver callback an [event.CyclicDriver] invokes on
// its own timer goroutine for one (group, event); it resends the event's
// most recently cached payload to every current subscriber unconditionally,
// bypassing debounce since the schedule itself is the rate limit.
func (h *RoutingHost) deliverCyclic(group *event.Eventgroup, eventID someip.MethodID, payload []byte) {
	if err := h.Notify(group.Service, group.Instance, eventID, payload, false, group.Subscribers()); err != nil {
		h.logger.Warn("cyclic notification delivery failed", "service", group.Service, "event_id", eventID, "error", err)
	}
}
