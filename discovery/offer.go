package discovery

import (
	"sync"
	"time"

	"github.com/someip-go/vsomeip/obs"
	"github.com/someip-go/vsomeip/wire/sd"
	"github.com/someip-go/vsomeip/wire/someip"
)

// OfferState enumerates an offer machine's state.
type OfferState uint8

const (
	OfferInactive OfferState = iota
	OfferReadyInitial
	OfferReadyRepeating
	OfferReadyAnnouncing
)

func (s OfferState) String() string {
	switch s {
	case OfferInactive:
		return "Inactive"
	case OfferReadyInitial:
		return "Ready/Initial"
	case OfferReadyRepeating:
		return "Ready/Repeating"
	case OfferReadyAnnouncing:
		return "Ready/Announcing"
	default:
		return "Unknown"
	}
}

// Timing holds one service instance's SD timing parameters.
type Timing struct {
	InitialDelayMin     time.Duration
	InitialDelayMax     time.Duration
	RepetitionBaseDelay time.Duration
	RepetitionMax       int
	CyclicOfferDelay    time.Duration
	RequestResponseMin  time.Duration
	RequestResponseMax  time.Duration
}

// DefaultTiming returns the commonly used AUTOSAR SD timing defaults.
func DefaultTiming() Timing {
	return Timing{
		InitialDelayMin:     10 * time.Millisecond,
		InitialDelayMax:     100 * time.Millisecond,
		RepetitionBaseDelay: 200 * time.Millisecond,
		RepetitionMax:       3,
		CyclicOfferDelay:    2 * time.Second,
		RequestResponseMin:  10 * time.Millisecond,
		RequestResponseMax:  100 * time.Millisecond,
	}
}

// ServiceOffer is the announced (service, instance) tuple an OfferMachine
// advertises: major/minor version and the endpoints reachable for it.
type ServiceOffer struct {
	Service            someip.ServiceID
	Instance           someip.InstanceID
	Major              someip.MajorVersion
	Minor              someip.MinorVersion
	TTL                someip.TTL
	ReliableEndpoint   *sd.Option
	UnreliableEndpoint *sd.Option
}

// Announcer sends one SD message either to the configured multicast group
// or, for a unicast reply, to a single destination peer.
type Announcer interface {
	SendMulticast(entries []*sd.Entry, options []*sd.Option) error
	SendUnicast(dest someip.Peer, entries []*sd.Entry, options []*sd.Option) error
}

// OfferMachine drives one service instance's OFFER announcements through
// Inactive -> Ready/Initial -> Ready/Repeating -> Ready/Announcing.
type OfferMachine struct {
	mu        sync.Mutex
	state     OfferState
	offer     ServiceOffer
	timing    Timing
	run       int
	tmr       timer
	announcer Announcer
	logger    obs.SLogger

	nextCyclicAt time.Time
}

// NewOfferMachine returns an [OfferMachine] in state Inactive.
func NewOfferMachine(offer ServiceOffer, timing Timing, announcer Announcer) *OfferMachine {
	return &OfferMachine{offer: offer, timing: timing, announcer: announcer, logger: obs.DefaultSLogger()}
}

// SetLogger overrides the machine's [obs.SLogger].
func (m *OfferMachine) SetLogger(l obs.SLogger) { m.logger = l }

// State reports the current state.
func (m *OfferMachine) State() OfferState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StatusChange reports a change in whether the service is up (network
// available and offered locally). true moves Inactive -> Ready/Initial;
// false withdraws a Ready offer by sending STOP_OFFER and returns to
// Inactive.
func (m *OfferMachine) StatusChange(isUp bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if isUp && m.state == OfferInactive {
		m.enterReadyInitial()
		return
	}
	if !isUp && m.state != OfferInactive {
		m.tmr.stop()
		m.sendStopOffer()
		m.state = OfferInactive
	}
}

// Find handles an incoming FIND entry for this machine's service instance.
func (m *OfferMachine) Find(from someip.Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case OfferReadyRepeating:
		m.sendOffer(&from)
	case OfferReadyAnnouncing:
		remaining := time.Until(m.nextCyclicAt)
		if remaining > m.timing.CyclicOfferDelay/2 {
			m.sendOffer(&from)
		}
		// else: suppressed, the upcoming cyclic OFFER will reach the finder.
	}
}

// Stop tears down any running timer, e.g. on application shutdown.
func (m *OfferMachine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tmr.stop()
	m.state = OfferInactive
}

func (m *OfferMachine) enterReadyInitial() {
	m.state = OfferReadyInitial
	delay := jitteredDelay(m.timing.InitialDelayMin, m.timing.InitialDelayMax)
	m.tmr.start(delay, m.onInitialFired)
}

func (m *OfferMachine) onInitialFired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != OfferReadyInitial {
		return
	}
	m.sendOffer(nil)
	m.run = 0
	if m.timing.RepetitionMax > 0 {
		m.state = OfferReadyRepeating
		m.armRepeating()
	} else {
		m.enterAnnouncing()
	}
}

func (m *OfferMachine) armRepeating() {
	delay := m.timing.RepetitionBaseDelay << uint(m.run)
	m.tmr.start(delay, m.onRepeatingFired)
}

func (m *OfferMachine) onRepeatingFired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != OfferReadyRepeating {
		return
	}
	m.sendOffer(nil)
	m.run++
	if m.run >= m.timing.RepetitionMax {
		m.enterAnnouncing()
		return
	}
	m.armRepeating()
}

func (m *OfferMachine) enterAnnouncing() {
	m.state = OfferReadyAnnouncing
	m.nextCyclicAt = time.Now().Add(m.timing.CyclicOfferDelay)
	m.tmr.start(m.timing.CyclicOfferDelay, m.onCyclicFired)
}

func (m *OfferMachine) onCyclicFired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != OfferReadyAnnouncing {
		return
	}
	m.sendOffer(nil)
	m.nextCyclicAt = time.Now().Add(m.timing.CyclicOfferDelay)
	m.tmr.start(m.timing.CyclicOfferDelay, m.onCyclicFired)
}

func (m *OfferMachine) buildEntry() (*sd.Entry, []*sd.Option) {
	var opts []*sd.Option
	if m.offer.ReliableEndpoint != nil {
		opts = append(opts, m.offer.ReliableEndpoint)
	}
	if m.offer.UnreliableEndpoint != nil {
		opts = append(opts, m.offer.UnreliableEndpoint)
	}
	entry := &sd.Entry{
		Type:        sd.EntryTypeOfferService,
		ServiceID:   m.offer.Service,
		Instance:    m.offer.Instance,
		Major:       m.offer.Major,
		Minor:       m.offer.Minor,
		TTL:         m.offer.TTL,
		NumOptions1: uint8(len(opts)),
	}
	return entry, opts
}

func (m *OfferMachine) sendOffer(to *someip.Peer) {
	entry, opts := m.buildEntry()
	var err error
	if to != nil {
		err = m.announcer.SendUnicast(*to, []*sd.Entry{entry}, opts)
	} else {
		err = m.announcer.SendMulticast([]*sd.Entry{entry}, opts)
	}
	if err != nil {
		m.logger.Warn("offer send failed", "service", m.offer.Service, "instance", m.offer.Instance, "error", err)
	}
}

func (m *OfferMachine) sendStopOffer() {
	entry, opts := m.buildEntry()
	entry.TTL = 0
	if err := m.announcer.SendMulticast([]*sd.Entry{entry}, opts); err != nil {
		m.logger.Warn("stop-offer send failed", "service", m.offer.Service, "instance", m.offer.Instance, "error", err)
	}
}
