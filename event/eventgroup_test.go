package event

import (
	"testing"
	"time"
)

func TestEventgroupSubscribeDeliversCachedField(t *testing.T) {
	g := NewEventgroup(1, 1, 0x8001)
	g.AddEvent(&Event{ID: 0x8005, Kind: KindField})
	g.Notify(0x8005, []byte("25C"), time.Now())

	initial := g.Subscribe(42)
	payload, ok := initial[0x8005]
	if !ok || string(payload) != "25C" {
		t.Fatalf("Subscribe() initial = %v, want cached field delivered", initial)
	}
}

func TestEventgroupSubscribeOmitsUnsetField(t *testing.T) {
	g := NewEventgroup(1, 1, 0x8001)
	g.AddEvent(&Event{ID: 0x8005, Kind: KindField})
	initial := g.Subscribe(42)
	if _, ok := initial[0x8005]; ok {
		t.Error("expected no initial delivery for a field that was never set")
	}
}

func TestEventgroupNotifyPlainEventAlwaysDelivers(t *testing.T) {
	g := NewEventgroup(1, 1, 0x8001)
	g.AddEvent(&Event{ID: 0x8001, Kind: KindEvent})
	if !g.Notify(0x8001, []byte("x"), time.Now()) {
		t.Error("expected plain event with default filter to deliver")
	}
}

func TestEventgroupNotifyRespectsDisabledFilter(t *testing.T) {
	g := NewEventgroup(1, 1, 0x8001)
	g.AddEvent(&Event{ID: 0x8001, Kind: KindEvent, Filter: DebounceFilter{Interval: DisableInterval}})
	if g.Notify(0x8001, []byte("x"), time.Now()) {
		t.Error("expected disabled filter to suppress delivery")
	}
}

func TestEventgroupNotifyOnChangeOnlySuppressesRepeat(t *testing.T) {
	g := NewEventgroup(1, 1, 0x8001)
	g.AddEvent(&Event{ID: 0x8001, Kind: KindField, Filter: DebounceFilter{OnChangeOnly: true}})
	now := time.Now()
	if !g.Notify(0x8001, []byte("a"), now) {
		t.Fatal("expected first write to deliver")
	}
	g.MarkEmitted(0x8001, now)
	if g.Notify(0x8001, []byte("a"), now.Add(time.Millisecond)) {
		t.Error("expected unchanged payload to be suppressed under OnChangeOnly")
	}
	if !g.Notify(0x8001, []byte("b"), now.Add(2*time.Millisecond)) {
		t.Error("expected changed payload to deliver under OnChangeOnly")
	}
}

func TestEventgroupNotifyIntervalThrottles(t *testing.T) {
	g := NewEventgroup(1, 1, 0x8001)
	g.AddEvent(&Event{ID: 0x8001, Kind: KindEvent, Filter: DebounceFilter{Interval: 100 * time.Millisecond}})
	base := time.Now()
	if !g.Notify(0x8001, []byte("a"), base) {
		t.Fatal("expected first delivery")
	}
	g.MarkEmitted(0x8001, base)
	if g.Notify(0x8001, []byte("b"), base.Add(50*time.Millisecond)) {
		t.Error("expected delivery within the interval to be throttled")
	}
	if !g.Notify(0x8001, []byte("c"), base.Add(150*time.Millisecond)) {
		t.Error("expected delivery past the interval to proceed")
	}
}

func TestEventgroupSubscribersSnapshot(t *testing.T) {
	g := NewEventgroup(1, 1, 0x8001)
	g.Subscribe(1)
	g.Subscribe(2)
	subs := g.Subscribers()
	if len(subs) != 2 {
		t.Fatalf("Subscribers() = %v, want 2 entries", subs)
	}
	g.Unsubscribe(1)
	if len(g.Subscribers()) != 1 {
		t.Fatalf("Subscribers() after Unsubscribe = %v, want 1 entry", g.Subscribers())
	}
}

func TestEventgroupNotifyUnknownEventIsNoop(t *testing.T) {
	g := NewEventgroup(1, 1, 0x8001)
	if g.Notify(0x9999, []byte("x"), time.Now()) {
		t.Error("expected Notify for an unregistered event id to report false")
	}
}
