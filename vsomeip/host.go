package vsomeip

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/someip-go/vsomeip/config"
	"github.com/someip-go/vsomeip/endpoint"
	"github.com/someip-go/vsomeip/event"
	"github.com/someip-go/vsomeip/ipcbus"
	"github.com/someip-go/vsomeip/obs"
	"github.com/someip-go/vsomeip/policy"
	"github.com/someip-go/vsomeip/routing"
	"github.com/someip-go/vsomeip/wire/ipc"
	"github.com/someip-go/vsomeip/wire/someip"
)

// RoutingHost is the routing manager process: it owns every external
// socket for a host (Design Notes §9, spec.md §2's "routing host"), accepts
// local-bus connections from application proxies, and runs the dispatch
// pipeline, Service Discovery, and event distribution over them.
type RoutingHost struct {
	cfg     *config.Config
	gateway policy.Gateway
	logger  obs.SLogger

	tables     *routing.Tables
	state      *routing.StateMachine
	dispatcher *routing.Dispatcher
	registry   *ipcbus.Registry
	liveness   *ipcbus.LivenessMonitor

	nextClientID uint32 // atomic, allocated after the static config range
	staticByName map[string]someip.ClientID

	eventgroupsMu sync.Mutex
	eventgroups   map[eventgroupKey]*event.Eventgroup
	cyclic        map[eventgroupKey]*event.CyclicDriver

	ln       net.Listener
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	sd *sdBridge // nil when service-discovery is disabled in config
}

type eventgroupKey struct {
	service  someip.ServiceID
	instance someip.InstanceID
	group    someip.EventgroupID
}

// NewRoutingHost builds a [RoutingHost] from the given configuration and
// policy gateway, listening at cfg.Routing.Host. Call [RoutingHost.Serve]
// to start accepting connections.
func NewRoutingHost(rt *Runtime, cfg *config.Config, gateway policy.Gateway) (*RoutingHost, error) {
	if gateway == nil {
		gateway = policy.NewAuditGateway(&policy.RuleGateway{AllowAnyRouter: true}, obs.DefaultSLogger())
	}
	if err := gateway.Initialize(); err != nil {
		return nil, err
	}

	h := &RoutingHost{
		cfg:          cfg,
		gateway:      gateway,
		logger:       rt.logger,
		tables:       routing.NewTables(),
		state:        routing.NewStateMachine(),
		registry:     ipcbus.NewRegistry(cfg.Routing.QueueSlots),
		staticByName: make(map[string]someip.ClientID),
		eventgroups:  make(map[eventgroupKey]*event.Eventgroup),
		cyclic:       make(map[eventgroupKey]*event.CyclicDriver),
		stop:         make(chan struct{}),
	}
	h.nextClientID = 0x1000

	for _, app := range cfg.Applications {
		h.staticByName[app.Name] = someip.ClientID(app.ID)
		if uint32(app.ID) > h.nextClientID {
			h.nextClientID = uint32(app.ID)
		}
	}
	for _, svc := range cfg.Services {
		for _, eg := range svc.Eventgroups {
			group := event.NewEventgroup(someip.ServiceID(svc.Service), someip.InstanceID(svc.Instance), someip.EventgroupID(eg.ID))
			for _, ev := range eg.Events {
				kind := event.KindEvent
				if ev.IsField {
					kind = event.KindField
				}
				group.AddEvent(&event.Event{
					ID:         someip.MethodID(ev.ID),
					Kind:       kind,
					Cycle:      time.Duration(ev.CycleMS) * time.Millisecond,
					IsReliable: ev.Reliable,
				})
			}
			h.eventgroups[eventgroupKey{someip.ServiceID(svc.Service), someip.InstanceID(svc.Instance), someip.EventgroupID(eg.ID)}] = group
		}
	}

	dispatchGateway := policy.RoutingAdapter{Gateway: gateway}
	h.dispatcher = routing.NewDispatcher(h.tables, h.state, dispatchGateway, h, notificationGate{h})
	h.liveness = ipcbus.NewLivenessMonitor(h.registry, cfg.PingInterval(), cfg.PingDeadline(), h.onApplicationLost)

	if cfg.ServiceDiscovery.Enabled {
		sd, err := newSDBridge(h)
		if err != nil {
			return nil, err
		}
		h.sd = sd
	}

	return h, nil
}

// SetLogger overrides the host's [obs.SLogger] and propagates it to the
// dispatcher and liveness monitor.
func (h *RoutingHost) SetLogger(l obs.SLogger) {
	h.logger = l
	h.dispatcher.SetLogger(l)
	h.liveness.SetLogger(l)
}

// Serve listens on the configured local-bus path and blocks accepting
// application connections until [RoutingHost.Close] is called or ctx is
// canceled.
func (h *RoutingHost) Serve(ctx context.Context) error {
	ln, err := endpoint.ListenLocal(h.cfg.Routing.Host)
	if err != nil {
		return err
	}
	h.ln = ln

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.liveness.Run(h.stop)
	}()

	if h.sd != nil {
		h.sd.start()
	}

	h.eventgroupsMu.Lock()
	for k, eg := range h.eventgroups {
		group := eg
		driver := event.NewCyclicDriver()
		driver.Start(group, group.Events(), func(eventID someip.MethodID, payload []byte) {
			h.deliverCyclic(group, eventID, payload)
		})
		h.cyclic[k] = driver
	}
	h.eventgroupsMu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		<-ctx.Done()
		h.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-h.stop:
				return nil
			default:
				return obs.New(obs.KindTransportFailure, "vsomeip.RoutingHost.Serve", err)
			}
		}
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.handleConn(conn)
		}()
	}
}

// Close stops accepting connections and tears down every running
// subsystem. Safe to call more than once.
func (h *RoutingHost) Close() error {
	h.stopOnce.Do(func() {
		close(h.stop)
		if h.ln != nil {
			_ = h.ln.Close()
		}
		if h.sd != nil {
			h.sd.stop()
		}
		h.eventgroupsMu.Lock()
		for _, driver := range h.cyclic {
			driver.Stop()
		}
		h.eventgroupsMu.Unlock()
	})
	return nil
}

// SetRoutingState transitions the host's [routing.State], the Go
// equivalent of SIGUSR1/SIGUSR2 from spec.md §6.
func (h *RoutingHost) SetRoutingState(next routing.State) bool {
	ok := h.state.Transition(next)
	if ok && h.sd != nil {
		h.sd.onRoutingStateChanged(next)
	}
	return ok
}

func (h *RoutingHost) allocateClientID(requestedName string) (someip.ClientID, error) {
	if id, ok := h.staticByName[requestedName]; ok {
		if _, registered := h.registry.Get(id); registered {
			return 0, obs.New(obs.KindProtocolViolation, "vsomeip.RoutingHost.allocateClientID",
				fmt.Errorf("application %q's statically assigned client id %#x is already registered", requestedName, uint16(id)))
		}
		return id, nil
	}
	id := someip.ClientID(atomic.AddUint32(&h.nextClientID, 1))
	return id, nil
}

func (h *RoutingHost) onApplicationLost(app *ipcbus.App) {
	h.logger.Info("application lost, withdrawing its state", "client_id", app.ClientID, "name", app.Name)
	h.withdrawApplication(someip.ClientID(app.ClientID))
	h.registry.Deregister(someip.ClientID(app.ClientID))
}

func (h *RoutingHost) withdrawApplication(clientID someip.ClientID) {
	h.tables.WithdrawOwner(clientID)
	h.eventgroupsMu.Lock()
	for _, g := range h.eventgroups {
		g.Unsubscribe(clientID)
	}
	h.eventgroupsMu.Unlock()
	if h.sd != nil {
		h.sd.onApplicationWithdrawn(clientID)
	}
}

// --- routing.Sender implementation -----------------------------------------

func (h *RoutingHost) SendLocal(clientID someip.ClientID, msg *someip.Message) error {
	app, ok := h.registry.Get(clientID)
	if !ok {
		return obs.New(obs.KindTransportFailure, "vsomeip.RoutingHost.SendLocal", fmt.Errorf("client %#x not connected", uint16(clientID)))
	}
	flags := uint8(0)
	if msg.IsReliable {
		flags |= ipc.SomeipFlagReliable
	}
	if msg.IsInitial {
		flags |= ipc.SomeipFlagInitial
	}
	payload := ipc.EncodeSomeipEnvelope(uint16(msg.InstanceID), flags, someip.Encode(msg))
	return app.Send(&ipc.Envelope{Command: ipc.CommandSomeipMessage, Payload: payload})
}

func (h *RoutingHost) SendRemote(peer someip.Peer, msg *someip.Message) error {
	if h.sd == nil {
		return obs.New(obs.KindTransportFailure, "vsomeip.RoutingHost.SendRemote", fmt.Errorf("no network transports configured"))
	}
	return h.sd.sendMessage(peer, msg)
}
