package ipcbus

import (
	"testing"
	"time"

	"github.com/someip-go/vsomeip/wire/ipc"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(8)
	app, err := r.Register(1, "client-a")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if app.State != AppStateNew {
		t.Errorf("initial state = %v, want NEW", app.State)
	}
	got, ok := r.Get(1)
	if !ok || got != app {
		t.Fatalf("Get() = %v, %v, want %v, true", got, ok, app)
	}
}

func TestRegistryRejectsDuplicateClientID(t *testing.T) {
	r := NewRegistry(8)
	if _, err := r.Register(1, "a"); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	if _, err := r.Register(1, "b"); err == nil {
		t.Fatal("expected error registering duplicate client id")
	}
}

func TestRegistrySetState(t *testing.T) {
	r := NewRegistry(8)
	app, _ := r.Register(1, "a")
	if err := r.SetState(1, AppStateStarted); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	if app.State != AppStateStarted {
		t.Errorf("State = %v, want STARTED", app.State)
	}
}

func TestAppSendQueueFull(t *testing.T) {
	r := NewRegistry(1)
	app, _ := r.Register(1, "a")
	if err := app.Send(&ipc.Envelope{Command: ipc.CommandPing}); err != nil {
		t.Fatalf("first Send() error = %v", err)
	}
	if err := app.Send(&ipc.Envelope{Command: ipc.CommandPing}); err == nil {
		t.Fatal("expected would-block error on full queue")
	}
}

func TestLivenessMonitorDropsDeadApp(t *testing.T) {
	r := NewRegistry(8)
	app, _ := r.Register(1, "a")
	app.State = AppStateStarted
	app.touchPong(time.Now().Add(-time.Hour))

	var dead *App
	mon := NewLivenessMonitor(r, time.Millisecond, time.Millisecond, func(a *App) { dead = a })
	mon.tick(time.Now())
	if dead != app {
		t.Errorf("onDead called with %v, want %v", dead, app)
	}
}
