package vsomeip

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/someip-go/vsomeip/discovery"
	"github.com/someip-go/vsomeip/endpoint"
	"github.com/someip-go/vsomeip/obs"
	"github.com/someip-go/vsomeip/routing"
	"github.com/someip-go/vsomeip/wire/ipc"
	"github.com/someip-go/vsomeip/wire/sd"
	"github.com/someip-go/vsomeip/wire/someip"
)

// defaultOfferTTL is the announced lifetime of a single OFFER/SUBSCRIBE_ACK
// entry; the cyclic offer machinery renews it well before expiry.
const defaultOfferTTL = someip.TTL(3 * 3600)

const (
	subscribeAckWait  = 2 * time.Second
	subscribeMaxRetry = 3
)

type subscribeKey struct {
	key        routing.ServiceKey
	eventgroup someip.EventgroupID
}

// sdBridge is the routing host's Service Discovery side: it owns the
// multicast/unicast SD socket, one [discovery.OfferMachine] per locally
// offered service, one [discovery.FindMachine] per locally requested
// remote service, and one [discovery.SubscribeMachine] per outgoing
// eventgroup subscription, grounded on offer_fsm.hpp/find_fsm.hpp/
// subscription.hpp's per-instance machine ownership.
type sdBridge struct {
	host      *RoutingHost
	cfg       struct {
		multicastGroup string
		port           uint16
	}
	transport     *endpoint.UDPTransport
	multicastAddr *net.UDPAddr
	timing        discovery.Timing

	mu         sync.Mutex
	offers     map[routing.ServiceKey]*discovery.OfferMachine
	finds      map[routing.ServiceKey]*discovery.FindMachine
	subscribes map[subscribeKey]*discovery.SubscribeMachine

	sdSessionMu sync.Mutex
	sdSession   someip.SessionID

	reboot        *discovery.RebootTracker
	rebootPending atomic.Bool

	tcpMu    sync.Mutex
	tcpConns map[string]*endpoint.TCPTransport

	done chan struct{}
	wg   sync.WaitGroup
}

var _ discovery.Announcer = (*sdBridge)(nil)

// newSDBridge binds the SD multicast socket described by cfg.ServiceDiscovery
// and returns a bridge ready for [sdBridge.start].
func newSDBridge(h *RoutingHost) (*sdBridge, error) {
	sdCfg := h.cfg.ServiceDiscovery
	transport, err := endpoint.NewUDPTransport(fmt.Sprintf(":%d", sdCfg.Port))
	if err != nil {
		return nil, err
	}
	var maddr *net.UDPAddr
	if sdCfg.MulticastGroup != "" {
		group := net.JoinHostPort(sdCfg.MulticastGroup, strconv.Itoa(int(sdCfg.Port)))
		if err := transport.JoinMulticast(group, ""); err != nil {
			_ = transport.Close()
			return nil, err
		}
		maddr, err = net.ResolveUDPAddr("udp4", group)
		if err != nil {
			_ = transport.Close()
			return nil, obs.New(obs.KindConfigurationError, "vsomeip.newSDBridge", err)
		}
	}

	b := &sdBridge{
		host:          h,
		transport:     transport,
		multicastAddr: maddr,
		timing:        discovery.DefaultTiming(),
		offers:        make(map[routing.ServiceKey]*discovery.OfferMachine),
		finds:         make(map[routing.ServiceKey]*discovery.FindMachine),
		subscribes:    make(map[subscribeKey]*discovery.SubscribeMachine),
		reboot:        discovery.NewRebootTracker(),
		tcpConns:      make(map[string]*endpoint.TCPTransport),
		done:          make(chan struct{}),
	}
	b.cfg.multicastGroup = sdCfg.MulticastGroup
	b.cfg.port = sdCfg.Port
	b.rebootPending.Store(true) // the first SD message after process start carries the reboot flag.
	return b, nil
}

// start launches the SD receive loop.
func (b *sdBridge) start() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.run()
	}()
}

// stop tears down every running offer/find/subscribe machine and closes the
// SD socket and any cached reliable connections to remote peers.
func (b *sdBridge) stop() {
	close(b.done)
	_ = b.transport.Close()
	b.wg.Wait()

	b.mu.Lock()
	for _, m := range b.offers {
		m.Stop()
	}
	for _, m := range b.finds {
		m.StatusChange(false)
	}
	for _, m := range b.subscribes {
		m.Stop()
	}
	b.mu.Unlock()

	b.tcpMu.Lock()
	for _, t := range b.tcpConns {
		_ = t.Close()
	}
	b.tcpMu.Unlock()
}

func (b *sdBridge) run() {
	ctx := context.Background()
	for {
		packet, src, err := b.transport.Receive(ctx)
		if err != nil {
			select {
			case <-b.done:
				return
			default:
				continue
			}
		}
		b.handlePacket(packet, src)
	}
}

func (b *sdBridge) handlePacket(packet []byte, src net.Addr) {
	msg, _, err := someip.Decode(packet, 0)
	if err != nil || !msg.IsSDMessage() {
		return
	}
	sdMsg, err := sd.DecodeMessage(msg.Payload)
	if err != nil {
		b.host.logger.Warn("malformed SD payload", "error", err)
		return
	}
	from := udpAddrToPeer(src)
	if b.reboot.Observe(from.Address, sdMsg.Flags.Reboot, msg.SessionID) {
		b.host.logger.Info("peer reboot detected", "peer", from.Address)
	}
	for _, e := range sdMsg.Entries {
		b.handleEntry(sdMsg, e, from)
	}
}

func (b *sdBridge) handleEntry(sdMsg *sd.Message, e *sd.Entry, from someip.Peer) {
	key := routing.ServiceKey{Service: e.ServiceID, Instance: e.Instance}
	switch e.Type {
	case sd.EntryTypeFindService:
		b.mu.Lock()
		machine := b.offers[key]
		b.mu.Unlock()
		if machine != nil {
			machine.Find(from)
		}

	case sd.EntryTypeOfferService:
		b.mu.Lock()
		machine := b.finds[key]
		b.mu.Unlock()
		if machine != nil {
			machine.OfferSeen(e, sdMsg.ResolveOptions(e))
		}

	case sd.EntryTypeSubscribe:
		b.handleRemoteSubscribe(e, from)

	case sd.EntryTypeSubscribeAck:
		sk := subscribeKey{key: key, eventgroup: e.Eventgroup}
		b.mu.Lock()
		machine := b.subscribes[sk]
		b.mu.Unlock()
		if machine == nil {
			return
		}
		if e.TTL == 0 {
			machine.NegativeAcknowledged()
		} else {
			machine.Acknowledged()
		}
	}
}

func (b *sdBridge) handleRemoteSubscribe(e *sd.Entry, from someip.Peer) {
	key := routing.ServiceKey{Service: e.ServiceID, Instance: e.Instance}
	if _, ok := b.host.tables.LookupService(key); !ok {
		return
	}
	ack := &sd.Entry{Type: sd.EntryTypeSubscribeAck, ServiceID: e.ServiceID, Instance: e.Instance, Major: e.Major, TTL: e.TTL, Eventgroup: e.Eventgroup}
	if err := b.SendUnicast(from, []*sd.Entry{ack}, nil); err != nil {
		b.host.logger.Warn("subscribe ack send failed", "service", e.ServiceID, "instance", e.Instance, "error", err)
	}
}

// --- discovery.Announcer -----------------------------------------------

func (b *sdBridge) SendMulticast(entries []*sd.Entry, options []*sd.Option) error {
	if b.multicastAddr == nil {
		return obs.New(obs.KindConfigurationError, "vsomeip.sdBridge.SendMulticast", fmt.Errorf("no multicast group configured"))
	}
	return b.sendSD(entries, options, b.multicastAddr)
}

func (b *sdBridge) SendUnicast(dest someip.Peer, entries []*sd.Entry, options []*sd.Option) error {
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(dest.Address, strconv.Itoa(int(dest.Port))))
	if err != nil {
		return obs.New(obs.KindConfigurationError, "vsomeip.sdBridge.SendUnicast", err)
	}
	return b.sendSD(entries, options, addr)
}

func (b *sdBridge) sendSD(entries []*sd.Entry, options []*sd.Option, dest net.Addr) error {
	sdMsg := &sd.Message{
		Flags:   sd.Flags{Reboot: b.rebootPending.Swap(false), UnicastCapable: true},
		Entries: entries,
		Options: options,
	}
	msg := &someip.Message{
		ServiceID: sd.ServiceID, MethodID: sd.MethodID,
		SessionID:       b.nextSDSession(),
		ProtocolVersion: someip.ProtocolVersion,
		MessageType:     someip.MessageTypeNotification,
		Payload:         sd.EncodeMessage(sdMsg),
	}
	return b.transport.Send(context.Background(), someip.Encode(msg), dest)
}

func (b *sdBridge) nextSDSession() someip.SessionID {
	b.sdSessionMu.Lock()
	defer b.sdSessionMu.Unlock()
	next, _ := someip.NextSession(b.sdSession)
	b.sdSession = next
	return next
}

// --- hooks called from the local IPC command handlers -------------------

func (b *sdBridge) onLocalOffer(key routing.ServiceKey, major someip.MajorVersion, minor someip.MinorVersion, reliablePort, unreliablePort uint16) {
	reliableOpt, unreliableOpt := b.buildEndpointOptions(reliablePort, unreliablePort)
	machine := discovery.NewOfferMachine(discovery.ServiceOffer{
		Service: key.Service, Instance: key.Instance, Major: major, Minor: minor, TTL: defaultOfferTTL,
		ReliableEndpoint: reliableOpt, UnreliableEndpoint: unreliableOpt,
	}, b.timing, b)
	machine.SetLogger(b.host.logger)

	b.mu.Lock()
	b.offers[key] = machine
	b.mu.Unlock()
	machine.StatusChange(true)
}

func (b *sdBridge) onLocalStopOffer(key routing.ServiceKey) {
	b.mu.Lock()
	machine := b.offers[key]
	delete(b.offers, key)
	b.mu.Unlock()
	if machine != nil {
		machine.StatusChange(false)
	}
}

func (b *sdBridge) onLocalRequest(key routing.ServiceKey, major someip.MajorVersion, minor someip.MinorVersion) {
	machine := discovery.NewFindMachine(discovery.ServiceRequest{
		Service: key.Service, Instance: key.Instance, Major: major, Minor: minor,
	}, b.timing, b, func(entry *sd.Entry, options []*sd.Option) {
		b.onOfferFound(key, entry, options)
	})
	machine.SetLogger(b.host.logger)

	b.mu.Lock()
	b.finds[key] = machine
	b.mu.Unlock()
	machine.StatusChange(true)
}

func (b *sdBridge) onOfferFound(key routing.ServiceKey, entry *sd.Entry, options []*sd.Option) {
	var peer someip.Peer
	for _, opt := range options {
		switch opt.Type {
		case sd.OptionTypeIPv4Endpoint, sd.OptionTypeIPv6Endpoint:
			peer = someip.Peer{Address: opt.Address.String(), Port: opt.Port, Proto: transportToProtocol(opt.Transport)}
		}
		if peer.Address != "" {
			break
		}
	}
	b.host.tables.OfferService(&routing.ServiceEntry{
		Key: key, Major: entry.Major, Minor: entry.Minor, Peer: peer, IsLocal: false,
	})
	b.host.notifyAvailability(key, true)
}

func (b *sdBridge) onLocalSubscribe(p ipc.SubscribePayload, peer someip.Peer) {
	key := routing.ServiceKey{Service: someip.ServiceID(p.Service), Instance: someip.InstanceID(p.Instance)}
	sk := subscribeKey{key: key, eventgroup: someip.EventgroupID(p.Eventgroup)}

	b.mu.Lock()
	if _, exists := b.subscribes[sk]; exists {
		b.mu.Unlock()
		return
	}
	dest := someip.Peer{Address: peer.Address, Port: b.cfg.port, Proto: someip.ProtocolUDP}
	machine := discovery.NewSubscribeMachine(discovery.SubscribeRequest{
		Service: key.Service, Instance: key.Instance, Eventgroup: sk.eventgroup,
		Major: someip.MajorVersion(p.Major), TTL: someip.TTL(p.TTL),
	}, dest, subscribeAckWait, subscribeMaxRetry, b)
	machine.SetLogger(b.host.logger)
	b.subscribes[sk] = machine
	b.mu.Unlock()
	machine.Start()
}

func (b *sdBridge) onSessionWrapped(clientID someip.ClientID) {
	b.rebootPending.Store(true)
}

// onApplicationWithdrawn stops any offer machine whose service entry the
// routing tables no longer carry, the SD-side half of dead application
// cleanup ([RoutingHost.withdrawApplication] has already cleared the table
// entry by the time this runs).
func (b *sdBridge) onApplicationWithdrawn(clientID someip.ClientID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, machine := range b.offers {
		if _, ok := b.host.tables.LookupService(key); !ok {
			machine.StatusChange(false)
			delete(b.offers, key)
		}
	}
}

func (b *sdBridge) onRoutingStateChanged(next routing.State) {
	up := next == routing.StateRunning || next == routing.StateResumed
	b.mu.Lock()
	machines := make([]*discovery.OfferMachine, 0, len(b.offers))
	for _, m := range b.offers {
		machines = append(machines, m)
	}
	b.mu.Unlock()
	for _, m := range machines {
		m.StatusChange(up)
	}
}

// sendMessage delivers a non-SD SOME/IP message to a remote peer, reusing a
// cached reconnecting [endpoint.TCPTransport] for reliable traffic and the
// bridge's own UDP socket for unreliable traffic (the same socket SD
// traffic uses; separating data and discovery sockets is left to a future
// iteration, see DESIGN.md).
func (b *sdBridge) sendMessage(peer someip.Peer, msg *someip.Message) error {
	packet := someip.Encode(msg)
	if peer.Proto == someip.ProtocolTCP {
		return b.tcpTransport(peer).Send(context.Background(), packet, nil)
	}
	dest, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(peer.Address, strconv.Itoa(int(peer.Port))))
	if err != nil {
		return obs.New(obs.KindConfigurationError, "vsomeip.sdBridge.sendMessage", err)
	}
	return b.transport.Send(context.Background(), packet, dest)
}

func (b *sdBridge) tcpTransport(peer someip.Peer) *endpoint.TCPTransport {
	addr := net.JoinHostPort(peer.Address, strconv.Itoa(int(peer.Port)))
	b.tcpMu.Lock()
	defer b.tcpMu.Unlock()
	t, ok := b.tcpConns[addr]
	if !ok {
		t = endpoint.NewTCPTransport(addr, 100*time.Millisecond, 5*time.Second)
		b.tcpConns[addr] = t
	}
	return t
}

func (b *sdBridge) buildEndpointOptions(reliablePort, unreliablePort uint16) (*sd.Option, *sd.Option) {
	addr := net.ParseIP(b.host.cfg.UnicastAddress)
	if addr == nil {
		addr = net.IPv4zero
	}
	var reliable, unreliable *sd.Option
	if reliablePort != 0 {
		reliable = &sd.Option{Type: sd.OptionTypeIPv4Endpoint, Address: addr, Port: reliablePort, Transport: sd.EndpointTransportTCP}
	}
	if unreliablePort != 0 {
		unreliable = &sd.Option{Type: sd.OptionTypeIPv4Endpoint, Address: addr, Port: unreliablePort, Transport: sd.EndpointTransportUDP}
	}
	return reliable, unreliable
}

func transportToProtocol(t sd.EndpointTransport) someip.Protocol {
	if t == sd.EndpointTransportTCP {
		return someip.ProtocolTCP
	}
	return someip.ProtocolUDP
}

func udpAddrToPeer(addr net.Addr) someip.Peer {
	if ua, ok := addr.(*net.UDPAddr); ok {
		return someip.Peer{Address: ua.IP.String(), Port: uint16(ua.Port), Proto: someip.ProtocolUDP}
	}
	return someip.Peer{Address: addr.String(), Proto: someip.ProtocolUDP}
}
