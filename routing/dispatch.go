package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/someip-go/vsomeip/obs"
	"github.com/someip-go/vsomeip/wire/someip"
)

// Identity is the caller identity a dispatch decision is checked against.
type Identity struct {
	UID         uint32
	GID         uint32
	HostAddress string
	Port        uint16
}

// Gateway is the subset of the policy package's predicate surface the
// dispatch pipeline consults. Kept as a local interface (rather than an
// import of the policy package) so routing has no dependency on policy's
// configuration format.
type Gateway interface {
	IsRequestAllowed(identity Identity, service someip.ServiceID, instance someip.InstanceID, method someip.MethodID) bool
	IsOfferAllowed(identity Identity, service someip.ServiceID, instance someip.InstanceID) bool
}

// Sender delivers an encoded SOME/IP frame to a local application or a
// remote peer; the concrete implementation is vsomeip.RoutingHost.
type Sender interface {
	SendLocal(clientID someip.ClientID, msg *someip.Message) error
	SendRemote(peer someip.Peer, msg *someip.Message) error
}

// NotificationGate owns the event/field-to-eventgroup resolution and
// debounce-filtered fan-out for outbound notifications (spec.md §4.F); the
// concrete implementation lives in the vsomeip package, the only place
// that holds event.Eventgroup state.
type NotificationGate interface {
	Deliver(key ServiceKey, msg *someip.Message) error
}

// RequestTimeout bounds how long a pending request waits for a response
// before the dispatcher synthesizes a timeout error response.
const RequestTimeout = 5 * time.Second

// Dispatcher runs the validate -> policy check -> pending-insert -> route
// pipeline for every message the routing core sees.
type Dispatcher struct {
	tables  *Tables
	state   *StateMachine
	gateway Gateway
	sender  Sender
	gate    NotificationGate
	logger  obs.SLogger
}

// NewDispatcher builds a [Dispatcher] over the given tables, state
// machine, policy gateway, sender, and notification gate.
func NewDispatcher(tables *Tables, state *StateMachine, gateway Gateway, sender Sender, gate NotificationGate) *Dispatcher {
	return &Dispatcher{tables: tables, state: state, gateway: gateway, sender: sender, gate: gate, logger: obs.DefaultSLogger()}
}

// SetLogger overrides the dispatcher's [obs.SLogger].
func (d *Dispatcher) SetLogger(l obs.SLogger) { d.logger = l }

// Dispatch routes one decoded message that arrived from identity, at
// sourcePeer (a textual endpoint description used for pending-request
// bookkeeping).
func (d *Dispatcher) Dispatch(ctx context.Context, msg *someip.Message, identity Identity, sourcePeer string) error {
	if d.state.Current() == StateSuspended || d.state.Current() == StateShutdown {
		return obs.New(obs.KindTransportFailure, "routing.Dispatcher.Dispatch", fmt.Errorf("routing core is %s", d.state.Current()))
	}

	if msg.IsSDMessage() {
		return obs.New(obs.KindProtocolViolation, "routing.Dispatcher.Dispatch", fmt.Errorf("service discovery messages are not routed through Dispatch"))
	}

	key := ServiceKey{Service: msg.ServiceID, Instance: msg.InstanceID}

	switch {
	case msg.IsRequest():
		if !d.gateway.IsRequestAllowed(identity, msg.ServiceID, msg.InstanceID, msg.MethodID) {
			return d.reject(ctx, msg, sourcePeer, someip.ReturnCodePermissionDenied,
				obs.New(obs.KindPolicyDenied, "routing.Dispatcher.Dispatch", fmt.Errorf("request denied by policy")))
		}
		entry, ok := d.tables.LookupService(key)
		if !ok {
			return d.reject(ctx, msg, sourcePeer, someip.ReturnCodeUnknownService, errUnknownService(key))
		}
		if !msg.IsFireAndForget() {
			d.tables.AddPending(sourcePeer, msg.RequestID(), time.Now().Add(RequestTimeout))
		}
		return d.route(entry, msg)

	case msg.IsResponse():
		if !d.tables.ResolvePending(sourcePeer, msg.RequestID()) {
			d.logger.Warn("response for unknown pending request", "request_id", msg.RequestID().String())
		}
		entry, ok := d.tables.LookupService(key)
		if !ok {
			return errUnknownService(key)
		}
		return d.route(entry, msg)

	default: // notifications/events
		if d.state.Current() == StateDiagnosis {
			// DIAGNOSIS suppresses outbound notifications but leaves
			// request/response routing (above) working.
			return nil
		}
		return d.gate.Deliver(key, msg)
	}
}

func (d *Dispatcher) route(entry *ServiceEntry, msg *someip.Message) error {
	if entry.IsLocal {
		return d.sender.SendLocal(entry.OwnerID, msg)
	}
	return d.sender.SendRemote(entry.Peer, msg)
}

func (d *Dispatcher) reject(ctx context.Context, msg *someip.Message, sourcePeer string, code someip.ReturnCode, cause error) error {
	if msg.IsFireAndForget() {
		return cause
	}
	errResp := *msg
	errResp.MessageType = someip.MessageTypeError
	errResp.ReturnCode = code
	errResp.Payload = nil
	if msg.Source == (someip.Peer{}) {
		// Locally-originated requests never populate Source (see
		// handleSomeipMessage); the ERROR has to go back over the local
		// bus to the requesting client instead of to an empty peer.
		_ = d.sender.SendLocal(msg.ClientID, &errResp)
	} else {
		_ = d.sender.SendRemote(msg.Source, &errResp)
	}
	return cause
}

// SweepTimeouts drops pending requests that have exceeded [RequestTimeout]
// and returns the keys of the dropped entries, for the caller to report as
// ReturnCodeTimeout to whichever client is still waiting. It should be
// called periodically from the routing core's event loop.
func (d *Dispatcher) SweepTimeouts(now time.Time) []PendingKey {
	return d.tables.SweepExpiredPending(now)
}
