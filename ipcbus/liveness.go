package ipcbus

import (
	"time"

	"github.com/someip-go/vsomeip/obs"
	"github.com/someip-go/vsomeip/wire/ipc"
)

// LivenessMonitor periodically pings every registered application and
// drops ones that miss too many consecutive pongs.
type LivenessMonitor struct {
	registry     *Registry
	interval     time.Duration
	missedBudget time.Duration
	logger       obs.SLogger

	onDead func(app *App)
}

// NewLivenessMonitor builds a monitor that pings every interval and
// considers an application dead once it has gone missedBudget without a
// pong.
func NewLivenessMonitor(registry *Registry, interval, missedBudget time.Duration, onDead func(*App)) *LivenessMonitor {
	return &LivenessMonitor{
		registry:     registry,
		interval:     interval,
		missedBudget: missedBudget,
		logger:       obs.DefaultSLogger(),
		onDead:       onDead,
	}
}

// SetLogger overrides the monitor's [obs.SLogger].
func (m *LivenessMonitor) SetLogger(l obs.SLogger) { m.logger = l }

// Run pings and sweeps until stop is closed.
func (m *LivenessMonitor) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			m.tick(now)
		}
	}
}

func (m *LivenessMonitor) tick(now time.Time) {
	for _, app := range m.registry.All() {
		if app.State != AppStateStarted && app.State != AppStateInitialized {
			continue
		}
		if now.Sub(app.lastPongAt()) > m.missedBudget {
			m.logger.Warn("application missed liveness deadline", "client_id", app.ClientID, "name", app.Name)
			if m.onDead != nil {
				m.onDead(app)
			}
			continue
		}
		_ = app.Send(&ipc.Envelope{Command: ipc.CommandPing, SenderClientID: uint16(app.ClientID)})
	}
}

// HandlePong records a pong from clientID, resetting its liveness deadline.
func (m *LivenessMonitor) HandlePong(app *App, now time.Time) {
	app.touchPong(now)
}
