// Package discovery implements the SOME/IP-SD finite-state machines: one
// offer machine per locally offered service instance, one find machine per
// requested service instance, and one subscribe machine per
// (service, instance, eventgroup) a local client has subscribed to.
package discovery

import (
	"math/rand"
	"time"
)

// jitteredDelay draws a uniform random duration in [min, max], the way the
// offer machine's Ready/Initial state picks its first announce delay.
// Grounded on the min-duration-plus-jitter shape of a jittered ticker
// (controller/cmd/service-mirror/jittered_ticker.go in the wider pack).
func jitteredDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}

// timer is a single re-armable countdown, standing in for fsm_base.hpp's
// start_timer/stop_timer pair; it has no remaining-time query.
type timer struct {
	t *time.Timer
}

func (tm *timer) start(d time.Duration, fire func()) {
	tm.stop()
	tm.t = time.AfterFunc(d, fire)
}

func (tm *timer) stop() {
	if tm.t != nil {
		tm.t.Stop()
		tm.t = nil
	}
}
