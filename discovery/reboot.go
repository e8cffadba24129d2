package discovery

import (
	"sync"

	"github.com/someip-go/vsomeip/wire/someip"
)

type rebootRecord struct {
	flag    bool
	session someip.SessionID
}

// RebootTracker maintains per-peer (reboot_flag, session_id) history and
// detects when a peer has rebooted, so cached offers/subscriptions from
// that peer can be invalidated.
type RebootTracker struct {
	mu      sync.Mutex
	records map[string]rebootRecord
}

// NewRebootTracker returns an empty [RebootTracker].
func NewRebootTracker() *RebootTracker {
	return &RebootTracker{records: make(map[string]rebootRecord)}
}

// Observe records one incoming SD message's (reboot_flag, session_id) from
// peer and reports whether this observation indicates the peer rebooted:
// the flag went from false to true, or, while the previous flag was clear,
// the session went backwards in a way that isn't the ordinary
// skip-0-wrap-to-1 progression.
func (t *RebootTracker) Observe(peer string, flag bool, session someip.SessionID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, known := t.records[peer]
	t.records[peer] = rebootRecord{flag: flag, session: session}
	if !known {
		return false
	}
	return (flag && !prev.flag) || (!isMonotonic(prev.session, session) && !prev.flag)
}

// Forget drops a peer's reboot bookkeeping, e.g. when its last offer or
// subscription is withdrawn.
func (t *RebootTracker) Forget(peer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, peer)
}

func isMonotonic(prev, next someip.SessionID) bool {
	if next > prev {
		return true
	}
	// Session ids skip 0 and wrap 0xFFFF -> 1; a wrap is still monotonic.
	return prev == 0xFFFF && next == 1
}
