package discovery

import (
	"sync"
	"time"

	"github.com/someip-go/vsomeip/obs"
	"github.com/someip-go/vsomeip/wire/sd"
	"github.com/someip-go/vsomeip/wire/someip"
)

// SubscribeRequest is the local subscribe(service, instance, eventgroup,
// major, ttl) call a [SubscribeMachine] is servicing.
type SubscribeRequest struct {
	Service    someip.ServiceID
	Instance   someip.InstanceID
	Eventgroup someip.EventgroupID
	Major      someip.MajorVersion
	TTL        someip.TTL
}

// SubscribeMachine drives one client's SUBSCRIBE_EVENTGROUP handshake with
// a remote offering endpoint: send, await ACK within a deadline, retry up
// to a bound on NACK/timeout, and resubscribe on detected network loss.
type SubscribeMachine struct {
	mu       sync.Mutex
	state    SubscriptionState
	request  SubscribeRequest
	dest     someip.Peer
	ackWait  time.Duration
	maxRetry int
	retries  int
	tmr      timer
	announcer Announcer
	logger   obs.SLogger
}

// NewSubscribeMachine returns a [SubscribeMachine] in state UNKNOWN.
func NewSubscribeMachine(req SubscribeRequest, dest someip.Peer, ackWait time.Duration, maxRetry int, announcer Announcer) *SubscribeMachine {
	return &SubscribeMachine{
		state: SubscriptionUnknown, request: req, dest: dest,
		ackWait: ackWait, maxRetry: maxRetry, announcer: announcer,
		logger: obs.DefaultSLogger(),
	}
}

// SetLogger overrides the machine's [obs.SLogger].
func (m *SubscribeMachine) SetLogger(l obs.SLogger) { m.logger = l }

// State reports the current acknowledgment state.
func (m *SubscribeMachine) State() SubscriptionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start sends the initial SUBSCRIBE_EVENTGROUP entry and arms the ack-wait
// timer.
func (m *SubscribeMachine) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = SubscriptionNotAcknowledged
	m.retries = 0
	m.sendSubscribe()
	m.tmr.start(m.ackWait, m.onAckTimeout)
}

// Acknowledged handles an incoming SUBSCRIBE_EVENTGROUP_ACK.
func (m *SubscribeMachine) Acknowledged() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tmr.stop()
	m.state = SubscriptionAcknowledged
	m.retries = 0
}

// NegativeAcknowledged handles an incoming SUBSCRIBE_EVENTGROUP_NACK: retry
// up to maxRetry, else settle in NOT_ACKNOWLEDGED.
func (m *SubscribeMachine) NegativeAcknowledged() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tmr.stop()
	m.retryOrSettle()
}

func (m *SubscribeMachine) onAckTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != SubscriptionNotAcknowledged && m.state != SubscriptionResubscribing && m.state != SubscriptionResubscribingNotAcknowledged {
		return
	}
	m.retryOrSettle()
}

func (m *SubscribeMachine) retryOrSettle() {
	m.retries++
	if m.retries > m.maxRetry {
		if m.state == SubscriptionResubscribingNotAcknowledged {
			m.state = SubscriptionResubscribingNotAcknowledged
		} else {
			m.state = SubscriptionNotAcknowledged
		}
		return
	}
	m.sendSubscribe()
	m.tmr.start(m.ackWait, m.onAckTimeout)
}

// NetworkLost reports that the underlying transport to dest went down. The
// machine re-arms into RESUBSCRIBING and restarts the handshake once the
// caller calls Start again (typically after endpoint recovery).
func (m *SubscribeMachine) NetworkLost() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tmr.stop()
	if m.state == SubscriptionAcknowledged {
		m.state = SubscriptionResubscribing
	} else {
		m.state = SubscriptionResubscribingNotAcknowledged
	}
}

// Resubscribe re-sends SUBSCRIBE_EVENTGROUP after NetworkLost once the
// endpoint has recovered.
func (m *SubscribeMachine) Resubscribe() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries = 0
	m.sendSubscribe()
	m.tmr.start(m.ackWait, m.onAckTimeout)
}

// Stop cancels any pending timer, e.g. on explicit unsubscribe.
func (m *SubscribeMachine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tmr.stop()
}

func (m *SubscribeMachine) sendSubscribe() {
	entry := &sd.Entry{
		Type:       sd.EntryTypeSubscribe,
		ServiceID:  m.request.Service,
		Instance:   m.request.Instance,
		Major:      m.request.Major,
		TTL:        m.request.TTL,
		Eventgroup: m.request.Eventgroup,
	}
	if err := m.announcer.SendUnicast(m.dest, []*sd.Entry{entry}, nil); err != nil {
		m.logger.Warn("subscribe send failed", "service", m.request.Service, "instance", m.request.Instance, "eventgroup", m.request.Eventgroup, "error", err)
	}
}
