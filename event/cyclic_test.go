package event

import (
	"sync"
	"testing"
	"time"

	"github.com/someip-go/vsomeip/wire/someip"
)

func TestCyclicDriverFiresOnSchedule(t *testing.T) {
	g := NewEventgroup(1, 1, 0x8001)
	ev := &Event{ID: 0x8001, Kind: KindEvent, Cycle: 5 * time.Millisecond}
	g.AddEvent(ev)
	g.Notify(ev.ID, []byte("v1"), time.Now())

	var mu sync.Mutex
	var fired int
	d := NewCyclicDriver()
	d.Start(g, []*Event{ev}, func(id someip.MethodID, payload []byte) {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	defer d.Stop()

	time.Sleep(40 * time.Millisecond)
	mu.Lock()
	n := fired
	mu.Unlock()
	if n < 2 {
		t.Errorf("fired = %d, want at least 2 cyclic deliveries", n)
	}
}

func TestCyclicDriverStopHaltsFurtherFiring(t *testing.T) {
	g := NewEventgroup(1, 1, 0x8001)
	ev := &Event{ID: 0x8001, Kind: KindEvent, Cycle: 5 * time.Millisecond}
	g.AddEvent(ev)

	var mu sync.Mutex
	var fired int
	d := NewCyclicDriver()
	d.Start(g, []*Event{ev}, func(id someip.MethodID, payload []byte) {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	time.Sleep(12 * time.Millisecond)
	d.Stop()
	mu.Lock()
	afterStop := fired
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	final := fired
	mu.Unlock()
	if final > afterStop+1 {
		t.Errorf("fired count grew after Stop: %d -> %d", afterStop, final)
	}
}

func TestCyclicDriverSkipsZeroCycleEvents(t *testing.T) {
	g := NewEventgroup(1, 1, 0x8001)
	ev := &Event{ID: 0x8001, Kind: KindEvent, Cycle: 0}
	g.AddEvent(ev)
	d := NewCyclicDriver()
	var fired bool
	d.Start(g, []*Event{ev}, func(id someip.MethodID, payload []byte) { fired = true })
	defer d.Stop()
	time.Sleep(20 * time.Millisecond)
	if fired {
		t.Error("expected an event with Cycle=0 to never fire cyclically")
	}
}
