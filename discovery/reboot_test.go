package discovery

import "testing"

func TestRebootTrackerFirstObservationNeverReportsReboot(t *testing.T) {
	tr := NewRebootTracker()
	if tr.Observe("peer-1", false, 1) {
		t.Fatal("first observation must never report a reboot")
	}
}

func TestRebootTrackerFlagFlipDetectsReboot(t *testing.T) {
	tr := NewRebootTracker()
	tr.Observe("peer-1", false, 5)
	if !tr.Observe("peer-1", true, 1) {
		t.Fatal("expected reboot flag flip to be detected")
	}
}

func TestRebootTrackerMonotonicSessionIsNotReboot(t *testing.T) {
	tr := NewRebootTracker()
	tr.Observe("peer-1", false, 5)
	if tr.Observe("peer-1", false, 6) {
		t.Fatal("monotonic session progression must not be flagged as reboot")
	}
}

func TestRebootTrackerSessionWrapIsNotReboot(t *testing.T) {
	tr := NewRebootTracker()
	tr.Observe("peer-1", false, 0xFFFF)
	if tr.Observe("peer-1", false, 1) {
		t.Fatal("skip-0 wraparound must not be flagged as reboot")
	}
}

func TestRebootTrackerSessionRegressionWithoutFlagIsReboot(t *testing.T) {
	tr := NewRebootTracker()
	tr.Observe("peer-1", false, 100)
	if !tr.Observe("peer-1", false, 3) {
		t.Fatal("non-monotonic session without the expected wrap should be flagged as reboot")
	}
}

func TestRebootTrackerForget(t *testing.T) {
	tr := NewRebootTracker()
	tr.Observe("peer-1", false, 5)
	tr.Forget("peer-1")
	if tr.Observe("peer-1", false, 6) {
		t.Fatal("after Forget, the next observation should be treated as first-seen")
	}
}
