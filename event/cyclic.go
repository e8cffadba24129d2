package event

import (
	"sync"
	"time"

	"github.com/someip-go/vsomeip/wire/someip"
)

// CyclicDriver fires each registered event's non-zero Cycle on its own
// repeating timer, redelivering the event/field's most recently cached
// payload at a steady cadence.
type CyclicDriver struct {
	mu      sync.Mutex
	stopped bool
	timers  map[someip.MethodID]*time.Timer
}

// NewCyclicDriver returns a driver with no armed timers.
func NewCyclicDriver() *CyclicDriver {
	return &CyclicDriver{timers: make(map[someip.MethodID]*time.Timer)}
}

// Start arms a repeating timer for every event in events whose Cycle is
// non-zero. On each firing, deliver is called with the event id and its
// most recently cached payload (nil if never set; plain events are never
// cached, so they always get nil).
func (d *CyclicDriver) Start(group *Eventgroup, events []*Event, deliver func(eventID someip.MethodID, payload []byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ev := range events {
		if ev.Cycle <= 0 {
			continue
		}
		d.armLocked(group, ev, deliver)
	}
}

func (d *CyclicDriver) armLocked(group *Eventgroup, ev *Event, deliver func(someip.MethodID, []byte)) {
	id := ev.ID
	var fire func()
	fire = func() {
		payload, _ := group.Cached(id)
		deliver(id, payload)
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.stopped {
			return
		}
		d.timers[id] = time.AfterFunc(ev.Cycle, fire)
	}
	d.timers[id] = time.AfterFunc(ev.Cycle, fire)
}

// Stop cancels every armed timer. Safe to call more than once.
func (d *CyclicDriver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	for _, t := range d.timers {
		t.Stop()
	}
	d.timers = nil
}
