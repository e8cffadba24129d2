package vsomeip

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/someip-go/vsomeip/endpoint"
	"github.com/someip-go/vsomeip/event"
	"github.com/someip-go/vsomeip/ipcbus"
	"github.com/someip-go/vsomeip/obs"
	"github.com/someip-go/vsomeip/policy"
	"github.com/someip-go/vsomeip/routing"
	"github.com/someip-go/vsomeip/wire/ipc"
	"github.com/someip-go/vsomeip/wire/someip"
)

// handleConn services one application's local-bus connection end to end:
// the registration handshake, then the read loop dispatching every
// subsequent command, mirroring the teacher's per-connection goroutine
// shape generalized from one shared multicast socket to one goroutine per
// connected application.
func (h *RoutingHost) handleConn(netConn net.Conn) {
	ctx := context.Background()
	conn := endpoint.NewLocalTransport(h.cfg.Routing.Host, netConn)
	defer conn.Close()

	app, identity, err := h.registerConn(ctx, conn)
	if err != nil {
		h.logger.Warn("registration failed", "error", err)
		return
	}
	defer func() {
		h.withdrawApplication(app.ClientID)
		h.registry.Deregister(app.ClientID)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for e := range app.Outbound() {
			if err := conn.Send(ctx, ipc.Encode(e), nil); err != nil {
				return
			}
		}
	}()

	for {
		buf, _, err := conn.Receive(ctx)
		if err != nil {
			break
		}
		rest := buf
		for len(rest) > 0 {
			e, n, derr := ipc.Decode(rest)
			if derr != nil {
				break
			}
			h.handleEnvelope(app, identity, e)
			rest = rest[n:]
		}
	}
	<-writerDone
}

func (h *RoutingHost) registerConn(ctx context.Context, conn *endpoint.LocalTransport) (*ipcbus.App, policy.Identity, error) {
	buf, _, err := conn.Receive(ctx)
	if err != nil {
		return nil, policy.Identity{}, err
	}
	e, _, err := ipc.Decode(buf)
	if err != nil {
		return nil, policy.Identity{}, err
	}
	if e.Command != ipc.CommandRegisterApplication {
		return nil, policy.Identity{}, obs.New(obs.KindProtocolViolation, "vsomeip.RoutingHost.registerConn", fmt.Errorf("first command was %s, expected REGISTER_APPLICATION", e.Command))
	}

	identity := policy.Identity{}
	if creds, err := conn.PeerCredentials(); err == nil {
		identity = policy.Identity{UID: creds.UID, GID: creds.GID}
	}
	if !h.gateway.AuthenticateRouter(identity) {
		return nil, identity, obs.New(obs.KindPolicyDenied, "vsomeip.RoutingHost.registerConn", fmt.Errorf("router authentication denied for uid %d", identity.UID))
	}

	name := ipc.DecodeRegisterApplication(e.Payload).Name
	clientID, err := h.allocateClientID(name)
	if err != nil {
		return nil, identity, err
	}
	app, err := h.registry.Register(clientID, name)
	if err != nil {
		return nil, identity, err
	}
	app.State = ipcbus.AppStateInitialized

	ack := &ipc.Envelope{Command: ipc.CommandRegisterApplicationAck, Payload: ipc.EncodeRegisterApplicationAck(uint16(clientID))}
	if err := conn.Send(ctx, ipc.Encode(ack), nil); err != nil {
		h.registry.Deregister(clientID)
		return nil, identity, err
	}
	h.logger.Info("application registered", "client_id", clientID, "name", name)
	return app, identity, nil
}

func (h *RoutingHost) handleEnvelope(app *ipcbus.App, identity policy.Identity, e *ipc.Envelope) {
	switch e.Command {
	case ipc.CommandPong:
		h.liveness.HandlePong(app, time.Now())

	case ipc.CommandOfferService:
		h.handleOfferService(app, identity, e.Payload)

	case ipc.CommandStopOfferService:
		h.handleStopOfferService(app, e.Payload)

	case ipc.CommandRequestService:
		h.handleRequestService(app, e.Payload)

	case ipc.CommandReleaseService:
		h.handleReleaseService(app, e.Payload)

	case ipc.CommandSubscribe:
		h.handleSubscribe(app, identity, e.Payload)

	case ipc.CommandUnsubscribe:
		h.handleUnsubscribe(app, e.Payload)

	case ipc.CommandSomeipMessage:
		h.handleSomeipMessage(app, identity, e.Payload)

	case ipc.CommandSetRoutingState:
		if state, err := ipc.DecodeRoutingState(e.Payload); err == nil {
			h.SetRoutingState(routing.State(state))
		}

	case ipc.CommandDeregisterApplication:
		// The connection closing after this drives the same cleanup path as
		// a liveness timeout; nothing further to do here.

	default:
		h.logger.Warn("unhandled command", "command", e.Command.String(), "client_id", app.ClientID)
	}
}

func (h *RoutingHost) handleOfferService(app *ipcbus.App, identity policy.Identity, payload []byte) {
	p, reliablePort, unreliablePort, err := ipc.DecodeOfferService(payload)
	if err != nil {
		h.logger.Warn("malformed OFFER_SERVICE", "error", err)
		return
	}
	service, instance := someip.ServiceID(p.Service), someip.InstanceID(p.Instance)
	if !h.gateway.IsOfferAllowed(identity, service, instance) {
		h.logger.Warn("offer denied by policy", "service", service, "instance", instance, "client_id", app.ClientID)
		return
	}
	key := routing.ServiceKey{Service: service, Instance: instance}
	if existing, ok := h.tables.LookupService(key); ok && existing.IsLocal && someip.MinorVersion(p.Minor) < existing.Minor {
		h.logger.Warn("duplicate offer with lower minor version rejected", "service", service, "instance", instance)
		return
	}
	h.tables.OfferService(&routing.ServiceEntry{
		Key:     key,
		Major:   someip.MajorVersion(p.Major),
		Minor:   someip.MinorVersion(p.Minor),
		OwnerID: app.ClientID,
		IsLocal: true,
	})
	h.notifyAvailability(key, true)
	if h.sd != nil {
		h.sd.onLocalOffer(key, someip.MajorVersion(p.Major), someip.MinorVersion(p.Minor), reliablePort, unreliablePort)
	}
}

func (h *RoutingHost) handleStopOfferService(app *ipcbus.App, payload []byte) {
	service, instance, err := ipc.DecodeServiceKey(payload)
	if err != nil {
		return
	}
	key := routing.ServiceKey{Service: someip.ServiceID(service), Instance: someip.InstanceID(instance)}
	entry, ok := h.tables.LookupService(key)
	if !ok || !entry.IsLocal || entry.OwnerID != app.ClientID {
		return
	}
	h.tables.StopOfferService(key)
	h.notifyAvailability(key, false)
	if h.sd != nil {
		h.sd.onLocalStopOffer(key)
	}
}

func (h *RoutingHost) handleRequestService(app *ipcbus.App, payload []byte) {
	p, err := ipc.DecodeRequestService(payload)
	if err != nil {
		return
	}
	key := routing.ServiceKey{Service: someip.ServiceID(p.Service), Instance: someip.InstanceID(p.Instance)}
	h.tables.RequestService(key, app.ClientID)
	if _, ok := h.tables.LookupService(key); ok {
		_ = app.Send(&ipc.Envelope{Command: ipc.CommandAvailabilityUpdate, Payload: ipc.EncodeAvailabilityUpdate(p.Service, p.Instance, true)})
	} else if h.sd != nil {
		h.sd.onLocalRequest(key, someip.MajorVersion(p.Major), someip.MinorVersion(p.Minor))
	}
}

func (h *RoutingHost) handleReleaseService(app *ipcbus.App, payload []byte) {
	service, instance, err := ipc.DecodeServiceKey(payload)
	if err != nil {
		return
	}
	key := routing.ServiceKey{Service: someip.ServiceID(service), Instance: someip.InstanceID(instance)}
	h.tables.ReleaseService(key, app.ClientID)
}

func (h *RoutingHost) handleSubscribe(app *ipcbus.App, identity policy.Identity, payload []byte) {
	p, err := ipc.DecodeSubscribe(payload)
	if err != nil {
		return
	}
	service, instance, group := someip.ServiceID(p.Service), someip.InstanceID(p.Instance), someip.EventgroupID(p.Eventgroup)
	if !h.gateway.IsMemberAllowed(identity, service, instance, group) {
		_ = app.Send(&ipc.Envelope{Command: ipc.CommandSubscribeNack, Payload: ipc.EncodeUnsubscribe(p.Service, p.Instance, p.Eventgroup)})
		return
	}

	key := routing.ServiceKey{Service: service, Instance: instance}
	entry, isKnown := h.tables.LookupService(key)
	h.tables.Subscribe(key, group, app.ClientID)

	if eg := h.eventgroup(service, instance, group); eg != nil {
		initial := eg.Subscribe(app.ClientID)
		for id, fieldPayload := range initial {
			_ = h.SendLocal(app.ClientID, &someip.Message{
				ServiceID: service, MethodID: id, InstanceID: instance,
				MessageType: someip.MessageTypeNotification, ProtocolVersion: someip.ProtocolVersion,
				Payload: fieldPayload, IsInitial: true,
			})
		}
	}
	_ = app.Send(&ipc.Envelope{Command: ipc.CommandSubscribeAck, Payload: ipc.EncodeUnsubscribe(p.Service, p.Instance, p.Eventgroup)})

	if isKnown && !entry.IsLocal && h.sd != nil {
		h.sd.onLocalSubscribe(p, entry.Peer)
	}
}

func (h *RoutingHost) handleUnsubscribe(app *ipcbus.App, payload []byte) {
	service, instance, group, err := ipc.DecodeUnsubscribe(payload)
	if err != nil {
		return
	}
	key := routing.ServiceKey{Service: someip.ServiceID(service), Instance: someip.InstanceID(instance)}
	h.tables.Unsubscribe(key, someip.EventgroupID(group), app.ClientID)
	if eg := h.eventgroup(someip.ServiceID(service), someip.InstanceID(instance), someip.EventgroupID(group)); eg != nil {
		eg.Unsubscribe(app.ClientID)
	}
}

func (h *RoutingHost) handleSomeipMessage(app *ipcbus.App, identity policy.Identity, payload []byte) {
	instanceID, flags, frame, err := ipc.DecodeSomeipEnvelope(payload)
	if err != nil {
		return
	}
	msg, _, err := someip.Decode(frame, 0)
	if err != nil {
		h.logger.Warn("malformed SOMEIP_MESSAGE from application", "client_id", app.ClientID, "error", err)
		return
	}
	msg.InstanceID = someip.InstanceID(instanceID)
	msg.IsReliable = flags&ipc.SomeipFlagReliable != 0
	if msg.ClientID == 0 {
		msg.ClientID = app.ClientID
	}
	if msg.SessionID == 0 && !msg.MessageType.IsTP() {
		next, wrapped := h.tables.NextSession(msg.ClientID)
		msg.SessionID = next
		if wrapped && h.sd != nil {
			h.sd.onSessionWrapped(msg.ClientID)
		}
	}
	routerIdentity := routing.Identity{UID: identity.UID, GID: identity.GID, HostAddress: identity.HostAddress, Port: identity.Port}
	peerKey := fmt.Sprintf("local:%#x", uint16(app.ClientID))
	if err := h.dispatcher.Dispatch(context.Background(), msg, routerIdentity, peerKey); err != nil {
		h.logger.Warn("dispatch failed", "error", err)
	}
}

func (h *RoutingHost) notifyAvailability(key routing.ServiceKey, available bool) {
	for _, clientID := range h.tables.Requesters(key) {
		if app, ok := h.registry.Get(clientID); ok {
			_ = app.Send(&ipc.Envelope{
				Command: ipc.CommandAvailabilityUpdate,
				Payload: ipc.EncodeAvailabilityUpdate(uint16(key.Service), uint16(key.Instance), available),
			})
		}
	}
}

func (h *RoutingHost) eventgroup(service someip.ServiceID, instance someip.InstanceID, group someip.EventgroupID) *event.Eventgroup {
	h.eventgroupsMu.Lock()
	defer h.eventgroupsMu.Unlock()
	return h.eventgroups[eventgroupKey{service, instance, group}]
}
