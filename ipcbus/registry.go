// Package ipcbus implements the routing manager's side of the local
// application bus: the client registry, each application's outbound queue,
// and the ping/pong liveness loop, generalized from a single per-service
// registry keyed by name into one keyed by client id and shared across
// every connected application.
package ipcbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/someip-go/vsomeip/obs"
	"github.com/someip-go/vsomeip/wire/ipc"
	"github.com/someip-go/vsomeip/wire/someip"
)

// AppState is an application's lifecycle state on the bus.
type AppState uint8

const (
	AppStateNew AppState = iota
	AppStateInitialized
	AppStateStarted
	AppStateStopped
)

func (s AppState) String() string {
	switch s {
	case AppStateNew:
		return "NEW"
	case AppStateInitialized:
		return "INITIALIZED"
	case AppStateStarted:
		return "STARTED"
	case AppStateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// App is one connected application's bus-side bookkeeping.
type App struct {
	ClientID someip.ClientID
	Name     string
	State    AppState

	lastPong time.Time

	mu    sync.Mutex
	queue chan *ipc.Envelope
}

// Send enqueues an envelope for delivery to this application. It returns a
// would-block error if the queue is full rather than blocking the caller,
// so one slow application cannot stall the routing core's dispatch loop.
func (a *App) Send(e *ipc.Envelope) error {
	select {
	case a.queue <- e:
		return nil
	default:
		return obs.New(obs.KindWouldBlock, "ipcbus.App.Send", fmt.Errorf("application %s outbound queue full", a.Name))
	}
}

// Outbound exposes the app's outbound queue for the connection's writer
// loop to drain.
func (a *App) Outbound() <-chan *ipc.Envelope { return a.queue }

func (a *App) touchPong(now time.Time) {
	a.mu.Lock()
	a.lastPong = now
	a.mu.Unlock()
}

func (a *App) lastPongAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastPong
}

// Registry tracks every connected application, keyed by client id.
type Registry struct {
	mu    sync.RWMutex
	byID  map[someip.ClientID]*App
	queueDepth int
}

// NewRegistry builds an empty [Registry]; queueDepth bounds each app's
// outbound queue.
func NewRegistry(queueDepth int) *Registry {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Registry{byID: make(map[someip.ClientID]*App), queueDepth: queueDepth}
}

// Register adds a new application in state NEW. It returns an error if the
// client id is already registered.
func (r *Registry) Register(clientID someip.ClientID, name string) (*App, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[clientID]; exists {
		return nil, obs.New(obs.KindProtocolViolation, "ipcbus.Registry.Register", fmt.Errorf("client id %#x already registered", uint16(clientID)))
	}
	app := &App{
		ClientID: clientID,
		Name:     name,
		State:    AppStateNew,
		lastPong: time.Now(),
		queue:    make(chan *ipc.Envelope, r.queueDepth),
	}
	r.byID[clientID] = app
	return app, nil
}

// Deregister removes an application from the registry.
func (r *Registry) Deregister(clientID someip.ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, clientID)
}

// Get returns the application registered under clientID, if any.
func (r *Registry) Get(clientID someip.ClientID) (*App, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	app, ok := r.byID[clientID]
	return app, ok
}

// SetState transitions an application to a new lifecycle state.
func (r *Registry) SetState(clientID someip.ClientID, state AppState) error {
	r.mu.RLock()
	app, ok := r.byID[clientID]
	r.mu.RUnlock()
	if !ok {
		return obs.New(obs.KindProtocolViolation, "ipcbus.Registry.SetState", fmt.Errorf("client id %#x not registered", uint16(clientID)))
	}
	app.State = state
	return nil
}

// All returns every registered application. Callers must not mutate the
// returned slice's Apps concurrently with registry writers beyond what the
// App type's own methods already guard.
func (r *Registry) All() []*App {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*App, 0, len(r.byID))
	for _, app := range r.byID {
		out = append(out, app)
	}
	return out
}

// Broadcast enqueues e for every registered application, skipping ones
// whose queue is full rather than failing the whole broadcast.
func (r *Registry) Broadcast(e *ipc.Envelope) {
	for _, app := range r.All() {
		_ = app.Send(e)
	}
}
