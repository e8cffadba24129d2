package discovery

import (
	"testing"
	"time"

	"github.com/someip-go/vsomeip/wire/someip"
)

func TestSubscribeMachineStartAndAck(t *testing.T) {
	ann := &recordingAnnouncer{}
	req := SubscribeRequest{Service: 1, Instance: 1, Eventgroup: 0x8001, Major: 1, TTL: 3}
	m := NewSubscribeMachine(req, someip.Peer{Address: "192.0.2.1", Port: 30490}, 20*time.Millisecond, 3, ann)
	m.Start()
	if m.State() != SubscriptionNotAcknowledged {
		t.Fatalf("state after Start = %v, want NOT_ACKNOWLEDGED", m.State())
	}
	m.Acknowledged()
	if m.State() != SubscriptionAcknowledged {
		t.Fatalf("state after ack = %v, want ACKNOWLEDGED", m.State())
	}
	_, unicast := ann.counts()
	if unicast == 0 {
		t.Error("expected a unicast SUBSCRIBE to have been sent")
	}
}

func TestSubscribeMachineRetriesOnTimeout(t *testing.T) {
	ann := &recordingAnnouncer{}
	req := SubscribeRequest{Service: 1, Instance: 1, Eventgroup: 0x8001, Major: 1, TTL: 3}
	m := NewSubscribeMachine(req, someip.Peer{Address: "192.0.2.1", Port: 30490}, 5*time.Millisecond, 2, ann)
	m.Start()
	time.Sleep(60 * time.Millisecond)
	_, unicast := ann.counts()
	if unicast < 2 {
		t.Errorf("unicast sends = %d, want at least 2 retries", unicast)
	}
	if m.State() != SubscriptionNotAcknowledged {
		t.Errorf("state after exhausting retries = %v, want NOT_ACKNOWLEDGED", m.State())
	}
	m.Stop()
}

func TestSubscribeMachineNetworkLostThenResubscribe(t *testing.T) {
	ann := &recordingAnnouncer{}
	req := SubscribeRequest{Service: 1, Instance: 1, Eventgroup: 0x8001, Major: 1, TTL: 3}
	m := NewSubscribeMachine(req, someip.Peer{Address: "192.0.2.1", Port: 30490}, 20*time.Millisecond, 3, ann)
	m.Start()
	m.Acknowledged()
	m.NetworkLost()
	if m.State() != SubscriptionResubscribing {
		t.Fatalf("state after network loss = %v, want RESUBSCRIBING", m.State())
	}
	m.Resubscribe()
	m.Acknowledged()
	if m.State() != SubscriptionAcknowledged {
		t.Fatalf("state after resubscribe ack = %v, want ACKNOWLEDGED", m.State())
	}
}

func TestSubscribeMachineNegativeAcknowledgedRetriesThenSettles(t *testing.T) {
	ann := &recordingAnnouncer{}
	req := SubscribeRequest{Service: 1, Instance: 1, Eventgroup: 0x8001, Major: 1, TTL: 3}
	m := NewSubscribeMachine(req, someip.Peer{Address: "192.0.2.1", Port: 30490}, time.Second, 1, ann)
	m.Start()
	m.NegativeAcknowledged()
	m.NegativeAcknowledged()
	if m.State() != SubscriptionNotAcknowledged {
		t.Fatalf("state after exhausting NACK retries = %v, want NOT_ACKNOWLEDGED", m.State())
	}
}
