package vsomeip

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/someip-go/vsomeip/endpoint"
	"github.com/someip-go/vsomeip/obs"
	"github.com/someip-go/vsomeip/routing"
	"github.com/someip-go/vsomeip/wire/ipc"
	"github.com/someip-go/vsomeip/wire/someip"
)

// MessageHandler receives every incoming request, response, event, or field
// notification not claimed by a pending [Application.Request] call.
type MessageHandler func(msg *someip.Message)

// AvailabilityHandler receives a (service, instance) availability change.
type AvailabilityHandler func(service someip.ServiceID, instance someip.InstanceID, available bool)

// Option configures an [Application] at construction time.
type Option func(*Application)

// WithLogger overrides the application's [obs.SLogger].
func WithLogger(l obs.SLogger) Option {
	return func(a *Application) { a.logger = l }
}

// Application is the per-process client proxy onto a [RoutingHost]: it owns
// the application's local bus connection, relays SOME/IP traffic to and
// from it, and tracks one routing-assigned client id for the lifetime of
// the connection.
type Application struct {
	rt       *Runtime
	name     string
	clientID someip.ClientID
	conn     *endpoint.LocalTransport
	logger   obs.SLogger

	mu             sync.Mutex
	available      map[routing.ServiceKey]bool
	onAvailability []AvailabilityHandler
	onMessage      []MessageHandler

	pendingMu sync.Mutex
	pending   map[someip.RequestID]chan *someip.Message

	sessionMu   sync.Mutex
	nextSession someip.SessionID

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewApplication dials routingAddr (the routing host's local bus listen path) and
// registers name with it, returning a ready-to-use [Application].
func NewApplication(ctx context.Context, rt *Runtime, name string, routingAddr string, opts ...Option) (*Application, error) {
	if err := rt.reserveName(name); err != nil {
		return nil, err
	}
	conn, err := endpoint.DialLocal(ctx, routingAddr)
	if err != nil {
		rt.releaseName(name)
		return nil, err
	}

	a := &Application{
		rt: rt, name: name, conn: conn, logger: rt.logger,
		available: make(map[routing.ServiceKey]bool),
		pending:   make(map[someip.RequestID]chan *someip.Message),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.register(ctx); err != nil {
		_ = conn.Close()
		rt.releaseName(name)
		return nil, err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.readLoop()
	}()
	return a, nil
}

func (a *Application) register(ctx context.Context) error {
	req := &ipc.Envelope{
		Command: ipc.CommandRegisterApplication,
		Payload: ipc.EncodeRegisterApplication(ipc.RegisterApplicationPayload{Name: a.name}),
	}
	if err := a.conn.Send(ctx, ipc.Encode(req), nil); err != nil {
		return err
	}
	buf, _, err := a.conn.Receive(ctx)
	if err != nil {
		return err
	}
	e, _, err := ipc.Decode(buf)
	if err != nil {
		return err
	}
	if e.Command != ipc.CommandRegisterApplicationAck {
		return obs.New(obs.KindProtocolViolation, "vsomeip.Application.register", fmt.Errorf("expected REGISTER_APPLICATION_ACK, got %s", e.Command))
	}
	clientID, err := ipc.DecodeRegisterApplicationAck(e.Payload)
	if err != nil {
		return err
	}
	a.clientID = someip.ClientID(clientID)
	return nil
}

// ClientID returns the client id the routing host assigned at registration.
func (a *Application) ClientID() someip.ClientID { return a.clientID }

// Close deregisters the application and closes its local bus connection.
// Safe to call more than once.
func (a *Application) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.stop)
		_ = a.conn.Send(context.Background(), ipc.Encode(&ipc.Envelope{Command: ipc.CommandDeregisterApplication}), nil)
		err = a.conn.Close()
		a.wg.Wait()
		a.rt.releaseName(a.name)
	})
	return err
}

// OfferService announces a locally implemented service instance. Port
// values of 0 mean the corresponding transport is not offered.
func (a *Application) OfferService(service someip.ServiceID, instance someip.InstanceID, major someip.MajorVersion, minor someip.MinorVersion, reliablePort, unreliablePort uint16) error {
	payload := ipc.EncodeOfferService(ipc.ServiceInstancePayload{
		Service: uint16(service), Instance: uint16(instance), Major: uint8(major), Minor: uint32(minor),
	}, reliablePort, unreliablePort)
	return a.send(&ipc.Envelope{Command: ipc.CommandOfferService, Payload: payload})
}

// StopOfferService withdraws a previously offered service instance.
func (a *Application) StopOfferService(service someip.ServiceID, instance someip.InstanceID) error {
	return a.send(&ipc.Envelope{Command: ipc.CommandStopOfferService, Payload: ipc.EncodeServiceKey(uint16(service), uint16(instance))})
}

// RequestService declares intent to use a remote service instance. The
// routing host pushes a [CommandAvailabilityUpdate] once it is reachable.
func (a *Application) RequestService(service someip.ServiceID, instance someip.InstanceID, major someip.MajorVersion, minor someip.MinorVersion) error {
	payload := ipc.EncodeRequestService(ipc.ServiceInstancePayload{
		Service: uint16(service), Instance: uint16(instance), Major: uint8(major), Minor: uint32(minor),
	})
	return a.send(&ipc.Envelope{Command: ipc.CommandRequestService, Payload: payload})
}

// ReleaseService withdraws interest in a previously requested service.
func (a *Application) ReleaseService(service someip.ServiceID, instance someip.InstanceID) error {
	return a.send(&ipc.Envelope{Command: ipc.CommandReleaseService, Payload: ipc.EncodeServiceKey(uint16(service), uint16(instance))})
}

// Subscribe joins an eventgroup, triggering immediate delivery of any
// cached field payloads ahead of live notifications.
func (a *Application) Subscribe(service someip.ServiceID, instance someip.InstanceID, eventgroup someip.EventgroupID, major someip.MajorVersion, ttl someip.TTL) error {
	payload := ipc.EncodeSubscribe(ipc.SubscribePayload{
		Service: uint16(service), Instance: uint16(instance), Eventgroup: uint16(eventgroup), Major: uint8(major), TTL: uint32(ttl),
	})
	return a.send(&ipc.Envelope{Command: ipc.CommandSubscribe, Payload: payload})
}

// Unsubscribe leaves an eventgroup.
func (a *Application) Unsubscribe(service someip.ServiceID, instance someip.InstanceID, eventgroup someip.EventgroupID) error {
	return a.send(&ipc.Envelope{Command: ipc.CommandUnsubscribe, Payload: ipc.EncodeUnsubscribe(uint16(service), uint16(instance), uint16(eventgroup))})
}

// IsAvailable reports the last known availability of (service, instance).
func (a *Application) IsAvailable(service someip.ServiceID, instance someip.InstanceID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.available[routing.ServiceKey{Service: service, Instance: instance}]
}

// OnAvailability registers a callback invoked on every availability change
// for any service this application has requested.
func (a *Application) OnAvailability(h AvailabilityHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onAvailability = append(a.onAvailability, h)
}

// OnMessage registers a callback invoked for every incoming request,
// notification, or field update not claimed by a pending [Application.Request].
func (a *Application) OnMessage(h MessageHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onMessage = append(a.onMessage, h)
}

// Send transmits msg as-is; the routing host stamps a session id if the
// caller leaves SessionID zero. Used for responses, fire-and-forget
// requests, and event/field notifications from an offering service.
func (a *Application) Send(msg *someip.Message) error {
	msg.ClientID = a.clientID
	return a.sendMessage(msg)
}

// Notify publishes an event or field update to every current subscriber of
// (service, instance, method). isField sets the message's initial-value
// flag; whether the routing host caches the payload for late subscribers
// depends only on the event kind configured for the eventgroup.
func (a *Application) Notify(service someip.ServiceID, instance someip.InstanceID, method someip.MethodID, payload []byte, isField bool) error {
	return a.Send(&someip.Message{
		ServiceID: service, MethodID: method, InstanceID: instance,
		MessageType: someip.MessageTypeNotification, ProtocolVersion: someip.ProtocolVersion,
		Payload: payload, IsInitial: isField,
	})
}

// Request sends a request and blocks for its matching response, or until
// ctx is done. The caller must have called RequestService for the target
// instance first.
func (a *Application) Request(ctx context.Context, msg *someip.Message) (*someip.Message, error) {
	msg.ClientID = a.clientID
	msg.SessionID = a.nextSessionID()
	msg.MessageType = someip.MessageTypeRequest

	ch := make(chan *someip.Message, 1)
	reqID := msg.RequestID()
	a.pendingMu.Lock()
	a.pending[reqID] = ch
	a.pendingMu.Unlock()
	defer func() {
		a.pendingMu.Lock()
		delete(a.pending, reqID)
		a.pendingMu.Unlock()
	}()

	if err := a.sendMessage(msg); err != nil {
		return nil, err
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, obs.New(obs.KindTransportFailure, "vsomeip.Application.Request", ctx.Err())
	}
}

func (a *Application) nextSessionID() someip.SessionID {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()
	next, _ := someip.NextSession(a.nextSession)
	a.nextSession = next
	return next
}

func (a *Application) sendMessage(msg *someip.Message) error {
	flags := uint8(0)
	if msg.IsReliable {
		flags |= ipc.SomeipFlagReliable
	}
	if msg.IsInitial {
		flags |= ipc.SomeipFlagInitial
	}
	payload := ipc.EncodeSomeipEnvelope(uint16(msg.InstanceID), flags, someip.Encode(msg))
	return a.send(&ipc.Envelope{Command: ipc.CommandSomeipMessage, Payload: payload})
}

func (a *Application) send(e *ipc.Envelope) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.conn.Send(ctx, ipc.Encode(e), nil)
}

func (a *Application) readLoop() {
	ctx := context.Background()
	for {
		buf, _, err := a.conn.Receive(ctx)
		if err != nil {
			select {
			case <-a.stop:
			default:
				a.logger.Warn("local bus connection lost", "application", a.name, "error", err)
			}
			return
		}
		rest := buf
		for len(rest) > 0 {
			e, n, derr := ipc.Decode(rest)
			if derr != nil {
				break
			}
			a.handleEnvelope(e)
			rest = rest[n:]
		}
	}
}

func (a *Application) handleEnvelope(e *ipc.Envelope) {
	switch e.Command {
	case ipc.CommandPing:
		_ = a.send(&ipc.Envelope{Command: ipc.CommandPong})

	case ipc.CommandAvailabilityUpdate:
		service, instance, available, err := ipc.DecodeAvailabilityUpdate(e.Payload)
		if err != nil {
			return
		}
		key := routing.ServiceKey{Service: someip.ServiceID(service), Instance: someip.InstanceID(instance)}
		a.mu.Lock()
		a.available[key] = available
		handlers := append([]AvailabilityHandler(nil), a.onAvailability...)
		a.mu.Unlock()
		for _, h := range handlers {
			h(key.Service, key.Instance, available)
		}

	case ipc.CommandSomeipMessage, ipc.CommandSomeipField:
		instanceID, flags, frame, err := ipc.DecodeSomeipEnvelope(e.Payload)
		if err != nil {
			return
		}
		msg, _, err := someip.Decode(frame, 0)
		if err != nil {
			a.logger.Warn("malformed SOMEIP_MESSAGE from routing host", "error", err)
			return
		}
		msg.InstanceID = someip.InstanceID(instanceID)
		msg.IsReliable = flags&ipc.SomeipFlagReliable != 0
		msg.IsInitial = flags&ipc.SomeipFlagInitial != 0

		if msg.MessageType == someip.MessageTypeResponse || msg.MessageType == someip.MessageTypeError {
			a.pendingMu.Lock()
			ch, ok := a.pending[msg.RequestID()]
			a.pendingMu.Unlock()
			if ok {
				ch <- msg
				return
			}
		}
		a.mu.Lock()
		handlers := append([]MessageHandler(nil), a.onMessage...)
		a.mu.Unlock()
		for _, h := range handlers {
			h(msg)
		}

	case ipc.CommandSubscribeAck, ipc.CommandSubscribeNack:
		a.logger.Info("subscription result", "application", a.name, "result", e.Command.String())
	}
}
