package discovery

import (
	"testing"
	"time"

	"github.com/someip-go/vsomeip/wire/sd"
	"github.com/someip-go/vsomeip/wire/someip"
)

func TestFindMachineReachesAnnouncing(t *testing.T) {
	ann := &recordingAnnouncer{}
	m := NewFindMachine(ServiceRequest{Service: 1, Instance: 1}, fastTiming(), ann, nil)
	m.StatusChange(true)

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && m.State() != FindReadyAnnouncing {
		time.Sleep(2 * time.Millisecond)
	}
	if m.State() != FindReadyAnnouncing {
		t.Fatalf("state = %v, want Ready/Announcing", m.State())
	}
	m.StatusChange(false)
}

func TestFindMachineOfferSeenStopsAndCallsBack(t *testing.T) {
	ann := &recordingAnnouncer{}
	var gotEntry *sd.Entry
	m := NewFindMachine(ServiceRequest{Service: 1, Instance: 1}, fastTiming(), ann, func(e *sd.Entry, _ []*sd.Option) {
		gotEntry = e
	})
	m.StatusChange(true)
	offer := &sd.Entry{Type: sd.EntryTypeOfferService, ServiceID: 1, Instance: 1}
	m.OfferSeen(offer, nil)
	if m.State() != FindSeen {
		t.Fatalf("state = %v, want Seen", m.State())
	}
	if gotEntry != offer {
		t.Error("onFound callback was not invoked with the observed offer")
	}

	multicastBefore, _ := ann.counts()
	time.Sleep(30 * time.Millisecond)
	multicastAfter, _ := ann.counts()
	if multicastAfter != multicastBefore {
		t.Error("FindMachine kept sending FIND after OfferSeen")
	}
}

func TestFindMachineRequestedVersionCarriedIntoFind(t *testing.T) {
	ann := &recordingAnnouncer{}
	m := NewFindMachine(ServiceRequest{Service: 2, Instance: 3, Major: 5, Minor: someip.AnyMinor}, fastTiming(), ann, nil)
	m.StatusChange(true)
	time.Sleep(5 * time.Millisecond)
	m.StatusChange(false)
	multicast, _ := ann.counts()
	if multicast == 0 {
		t.Fatal("expected at least one FIND to have been sent")
	}
	ann.mu.Lock()
	got := ann.lastEntry
	ann.mu.Unlock()
	if got.Major != 5 || got.Minor != someip.AnyMinor {
		t.Errorf("FIND entry version = %d.%d, want 5.%d", got.Major, got.Minor, someip.AnyMinor)
	}
}
