package routing

import (
	"context"
	"testing"
	"time"

	"github.com/someip-go/vsomeip/wire/someip"
)

type allowAllGateway struct{}

func (allowAllGateway) IsRequestAllowed(Identity, someip.ServiceID, someip.InstanceID, someip.MethodID) bool {
	return true
}
func (allowAllGateway) IsOfferAllowed(Identity, someip.ServiceID, someip.InstanceID) bool { return true }

type denyAllGateway struct{}

func (denyAllGateway) IsRequestAllowed(Identity, someip.ServiceID, someip.InstanceID, someip.MethodID) bool {
	return false
}
func (denyAllGateway) IsOfferAllowed(Identity, someip.ServiceID, someip.InstanceID) bool { return false }

type recordingSender struct {
	localCalls  []someip.ClientID
	localMsgs   []*someip.Message
	remoteCalls []someip.Peer
}

func (s *recordingSender) SendLocal(clientID someip.ClientID, msg *someip.Message) error {
	s.localCalls = append(s.localCalls, clientID)
	s.localMsgs = append(s.localMsgs, msg)
	return nil
}

func (s *recordingSender) SendRemote(peer someip.Peer, _ *someip.Message) error {
	s.remoteCalls = append(s.remoteCalls, peer)
	return nil
}

// fakeGate stands in for vsomeip.notificationGate, which is the real
// eventgroup-membership resolver; these tests only need to assert that
// Dispatch delegates to it (and when), not re-derive eventgroup membership.
type fakeGate struct {
	calls []struct {
		key ServiceKey
		msg *someip.Message
	}
}

func (g *fakeGate) Deliver(key ServiceKey, msg *someip.Message) error {
	g.calls = append(g.calls, struct {
		key ServiceKey
		msg *someip.Message
	}{key, msg})
	return nil
}

func TestDispatchRoutesRequestToLocalOwner(t *testing.T) {
	tables := NewTables()
	key := ServiceKey{Service: 1, Instance: 1}
	tables.OfferService(&ServiceEntry{Key: key, IsLocal: true, OwnerID: 42})

	sender := &recordingSender{}
	d := NewDispatcher(tables, NewStateMachine(), allowAllGateway{}, sender, &fakeGate{})

	msg := &someip.Message{ServiceID: 1, InstanceID: 1, MethodID: 1, MessageType: someip.MessageTypeRequest}
	if err := d.Dispatch(context.Background(), msg, Identity{}, "peer-1"); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(sender.localCalls) != 1 || sender.localCalls[0] != 42 {
		t.Errorf("localCalls = %v, want [42]", sender.localCalls)
	}
}

func TestDispatchUnknownServiceRejected(t *testing.T) {
	d := NewDispatcher(NewTables(), NewStateMachine(), allowAllGateway{}, &recordingSender{}, &fakeGate{})
	msg := &someip.Message{ServiceID: 9, InstanceID: 9, MethodID: 1, MessageType: someip.MessageTypeRequest}
	if err := d.Dispatch(context.Background(), msg, Identity{}, "peer-1"); err == nil {
		t.Fatal("expected unknown-service error")
	}
}

func TestDispatchPolicyDenial(t *testing.T) {
	tables := NewTables()
	key := ServiceKey{Service: 1, Instance: 1}
	tables.OfferService(&ServiceEntry{Key: key, IsLocal: true, OwnerID: 1})
	d := NewDispatcher(tables, NewStateMachine(), denyAllGateway{}, &recordingSender{}, &fakeGate{})
	msg := &someip.Message{ServiceID: 1, InstanceID: 1, MethodID: 1, MessageType: someip.MessageTypeRequest}
	err := d.Dispatch(context.Background(), msg, Identity{}, "peer-1")
	if err == nil {
		t.Fatal("expected policy denial error")
	}
}

// TestDispatchRejectRoutesLocalOriginError covers a policy-denied locally
// originated request: msg.Source is the zero-value someip.Peer (handleSomeipMessage
// never sets it), so the synthesized ERROR must come back over SendLocal to
// msg.ClientID, not SendRemote to an empty peer.
func TestDispatchRejectRoutesLocalOriginError(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(NewTables(), NewStateMachine(), denyAllGateway{}, sender, &fakeGate{})
	msg := &someip.Message{ServiceID: 1, InstanceID: 1, MethodID: 1, ClientID: 7, MessageType: someip.MessageTypeRequest}
	if err := d.Dispatch(context.Background(), msg, Identity{}, "peer-1"); err == nil {
		t.Fatal("expected policy denial error")
	}
	if len(sender.remoteCalls) != 0 {
		t.Errorf("remoteCalls = %v, want none for a local-origin request", sender.remoteCalls)
	}
	if len(sender.localCalls) != 1 || sender.localCalls[0] != 7 {
		t.Fatalf("localCalls = %v, want [7]", sender.localCalls)
	}
	if sender.localMsgs[0].MessageType != someip.MessageTypeError {
		t.Errorf("MessageType = %v, want MessageTypeError", sender.localMsgs[0].MessageType)
	}
}

// TestDispatchRejectRoutesRemoteOriginError covers the mirror case: a
// message that did arrive with a populated Source gets its ERROR sent back
// over SendRemote.
func TestDispatchRejectRoutesRemoteOriginError(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(NewTables(), NewStateMachine(), denyAllGateway{}, sender, &fakeGate{})
	peer := someip.Peer{Address: "198.51.100.1", Port: 30509}
	msg := &someip.Message{ServiceID: 1, InstanceID: 1, MethodID: 1, Source: peer, MessageType: someip.MessageTypeRequest}
	if err := d.Dispatch(context.Background(), msg, Identity{}, "peer-1"); err == nil {
		t.Fatal("expected policy denial error")
	}
	if len(sender.localCalls) != 0 {
		t.Errorf("localCalls = %v, want none for a remote-origin request", sender.localCalls)
	}
	if len(sender.remoteCalls) != 1 || sender.remoteCalls[0] != peer {
		t.Fatalf("remoteCalls = %v, want [%v]", sender.remoteCalls, peer)
	}
}

func TestDispatchNotificationFanout(t *testing.T) {
	tables := NewTables()
	gate := &fakeGate{}
	d := NewDispatcher(tables, NewStateMachine(), allowAllGateway{}, &recordingSender{}, gate)

	msg := &someip.Message{ServiceID: 1, InstanceID: 1, MethodID: 0x8001, MessageType: someip.MessageTypeNotification}
	if err := d.Dispatch(context.Background(), msg, Identity{}, "peer-1"); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(gate.calls) != 1 {
		t.Fatalf("gate.calls = %d, want 1", len(gate.calls))
	}
	wantKey := ServiceKey{Service: 1, Instance: 1}
	if gate.calls[0].key != wantKey {
		t.Errorf("gate key = %+v, want %+v", gate.calls[0].key, wantKey)
	}
	if gate.calls[0].msg != msg {
		t.Errorf("gate was not handed the notification message")
	}
}

// TestDispatchDiagnosisSuppressesNotifications covers spec §4.D: DIAGNOSIS
// drops outbound notifications but keeps request/response routing working.
func TestDispatchDiagnosisSuppressesNotifications(t *testing.T) {
	tables := NewTables()
	key := ServiceKey{Service: 1, Instance: 1}
	tables.OfferService(&ServiceEntry{Key: key, IsLocal: true, OwnerID: 42})
	state := NewStateMachine()
	if !state.Transition(StateDiagnosis) {
		t.Fatal("RUNNING -> DIAGNOSIS should be allowed")
	}
	gate := &fakeGate{}
	sender := &recordingSender{}
	d := NewDispatcher(tables, state, allowAllGateway{}, sender, gate)

	notif := &someip.Message{ServiceID: 1, InstanceID: 1, MethodID: 0x8001, MessageType: someip.MessageTypeNotification}
	if err := d.Dispatch(context.Background(), notif, Identity{}, "peer-1"); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(gate.calls) != 0 {
		t.Errorf("gate.calls = %d, want 0 while in DIAGNOSIS", len(gate.calls))
	}

	req := &someip.Message{ServiceID: 1, InstanceID: 1, MethodID: 1, MessageType: someip.MessageTypeRequest}
	if err := d.Dispatch(context.Background(), req, Identity{}, "peer-1"); err != nil {
		t.Fatalf("Dispatch() error = %v, want request/response to keep working in DIAGNOSIS", err)
	}
	if len(sender.localCalls) != 1 || sender.localCalls[0] != 42 {
		t.Errorf("localCalls = %v, want [42]", sender.localCalls)
	}
}

func TestDispatchSuspendedRejectsAll(t *testing.T) {
	state := NewStateMachine()
	state.Transition(StateSuspended)
	d := NewDispatcher(NewTables(), state, allowAllGateway{}, &recordingSender{}, &fakeGate{})
	msg := &someip.Message{ServiceID: 1, InstanceID: 1, MethodID: 1, MessageType: someip.MessageTypeRequest}
	if err := d.Dispatch(context.Background(), msg, Identity{}, "peer-1"); err == nil {
		t.Fatal("expected error while suspended")
	}
}

func TestTablesSessionWraparound(t *testing.T) {
	tables := NewTables()
	tables.sessions[1] = 0xFFFF
	next, wrapped := tables.NextSession(1)
	if next != 1 || !wrapped {
		t.Errorf("NextSession() = %d, %v, want 1, true", next, wrapped)
	}
}

func TestTablesSweepExpiredPending(t *testing.T) {
	tables := NewTables()
	tables.AddPending("peer-1", someip.RequestID{Client: 1, Session: 1}, time.Now().Add(-time.Second))
	tables.AddPending("peer-1", someip.RequestID{Client: 1, Session: 2}, time.Now().Add(time.Hour))
	expired := tables.SweepExpiredPending(time.Now())
	if len(expired) != 1 {
		t.Fatalf("SweepExpiredPending() = %v, want 1 entry", expired)
	}
}

func TestStateMachineTransitions(t *testing.T) {
	m := NewStateMachine()
	if !m.Transition(StateSuspended) {
		t.Fatal("RUNNING -> SUSPENDED should be allowed")
	}
	if m.Transition(StateDiagnosis) {
		t.Fatal("SUSPENDED -> DIAGNOSIS should not be allowed")
	}
	if !m.Transition(StateResumed) {
		t.Fatal("SUSPENDED -> RESUMED should be allowed")
	}
}
