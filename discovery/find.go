package discovery

import (
	"sync"
	"time"

	"github.com/someip-go/vsomeip/obs"
	"github.com/someip-go/vsomeip/wire/sd"
	"github.com/someip-go/vsomeip/wire/someip"
)

// FindState enumerates a find machine's state. It mirrors [OfferState] with
// FIND entries in place of OFFER entries, plus a terminal Seen state
// entered once a matching OFFER is observed.
type FindState uint8

const (
	FindInactive FindState = iota
	FindReadyInitial
	FindReadyRepeating
	FindReadyAnnouncing
	FindSeen
)

func (s FindState) String() string {
	switch s {
	case FindInactive:
		return "Inactive"
	case FindReadyInitial:
		return "Ready/Initial"
	case FindReadyRepeating:
		return "Ready/Repeating"
	case FindReadyAnnouncing:
		return "Ready/Announcing"
	case FindSeen:
		return "Seen"
	default:
		return "Unknown"
	}
}

// ServiceRequest is the (service, instance, requested major/minor) tuple a
// FindMachine is driving FIND messages for.
type ServiceRequest struct {
	Service someip.ServiceID
	Instance someip.InstanceID
	Major   someip.MajorVersion
	Minor   someip.MinorVersion
}

// FindMachine drives one requested service instance's FIND announcements.
type FindMachine struct {
	mu        sync.Mutex
	state     FindState
	request   ServiceRequest
	timing    Timing
	run       int
	tmr       timer
	announcer Announcer
	logger    obs.SLogger

	onFound func(offer *sd.Entry, options []*sd.Option)
}

// NewFindMachine returns a [FindMachine] in state Inactive. onFound, if
// non-nil, is called once when a matching OFFER is observed.
func NewFindMachine(req ServiceRequest, timing Timing, announcer Announcer, onFound func(*sd.Entry, []*sd.Option)) *FindMachine {
	return &FindMachine{request: req, timing: timing, announcer: announcer, onFound: onFound, logger: obs.DefaultSLogger()}
}

// SetLogger overrides the machine's [obs.SLogger].
func (m *FindMachine) SetLogger(l obs.SLogger) { m.logger = l }

// State reports the current state.
func (m *FindMachine) State() FindState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StatusChange starts or stops FIND announcements as the network/request
// comes up or down.
func (m *FindMachine) StatusChange(isUp bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if isUp && m.state == FindInactive {
		m.state = FindReadyInitial
		delay := jitteredDelay(m.timing.InitialDelayMin, m.timing.InitialDelayMax)
		m.tmr.start(delay, m.onInitialFired)
		return
	}
	if !isUp {
		m.tmr.stop()
		m.state = FindInactive
	}
}

// OfferSeen reports an incoming OFFER that matches this machine's requested
// service instance. It stops FIND announcements and transitions to Seen.
func (m *FindMachine) OfferSeen(entry *sd.Entry, options []*sd.Option) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == FindSeen {
		return
	}
	m.tmr.stop()
	m.state = FindSeen
	if m.onFound != nil {
		m.onFound(entry, options)
	}
}

func (m *FindMachine) onInitialFired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != FindReadyInitial {
		return
	}
	m.sendFind()
	m.run = 0
	if m.timing.RepetitionMax > 0 {
		m.state = FindReadyRepeating
		m.armRepeating()
	} else {
		m.enterAnnouncing()
	}
}

func (m *FindMachine) armRepeating() {
	delay := m.timing.RepetitionBaseDelay << uint(m.run)
	m.tmr.start(delay, m.onRepeatingFired)
}

func (m *FindMachine) onRepeatingFired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != FindReadyRepeating {
		return
	}
	m.sendFind()
	m.run++
	if m.run >= m.timing.RepetitionMax {
		m.enterAnnouncing()
		return
	}
	m.armRepeating()
}

func (m *FindMachine) enterAnnouncing() {
	m.state = FindReadyAnnouncing
	m.tmr.start(m.timing.CyclicOfferDelay, m.onCyclicFired)
}

func (m *FindMachine) onCyclicFired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != FindReadyAnnouncing {
		return
	}
	m.sendFind()
	m.tmr.start(m.timing.CyclicOfferDelay, m.onCyclicFired)
}

func (m *FindMachine) sendFind() {
	entry := &sd.Entry{
		Type:      sd.EntryTypeFindService,
		ServiceID: m.request.Service,
		Instance:  m.request.Instance,
		Major:     m.request.Major,
		Minor:     m.request.Minor,
		TTL:       someip.TTL(time.Hour / time.Second),
	}
	if err := m.announcer.SendMulticast([]*sd.Entry{entry}, nil); err != nil {
		m.logger.Warn("find send failed", "service", m.request.Service, "instance", m.request.Instance, "error", err)
	}
}
