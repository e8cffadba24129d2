// Package policy implements the access-control predicates the routing core
// consults before honoring a registration, offer, request, or subscription:
// policy_initialize, authenticate_router, is_offer_allowed,
// is_request_allowed, and is_member_allowed.
package policy

import (
	"github.com/someip-go/vsomeip/obs"
	"github.com/someip-go/vsomeip/wire/someip"
)

// Identity is the caller a predicate is evaluated against.
type Identity struct {
	UID         uint32
	GID         uint32
	HostAddress string
	Port        uint16
}

// Gateway is the policy engine's predicate surface.
type Gateway interface {
	// Initialize validates the loaded policy configuration itself (schema,
	// referential integrity between rules and identities), independent of
	// any runtime request.
	Initialize() error

	// AuthenticateRouter decides whether identity may connect to the
	// routing manager host at all.
	AuthenticateRouter(identity Identity) bool

	// IsOfferAllowed decides whether identity may offer the given service
	// instance.
	IsOfferAllowed(identity Identity, service someip.ServiceID, instance someip.InstanceID) bool

	// IsRequestAllowed decides whether identity may invoke the given
	// method on the given service instance.
	IsRequestAllowed(identity Identity, service someip.ServiceID, instance someip.InstanceID, method someip.MethodID) bool

	// IsMemberAllowed decides whether identity may subscribe to the given
	// eventgroup.
	IsMemberAllowed(identity Identity, service someip.ServiceID, instance someip.InstanceID, eventgroup someip.EventgroupID) bool
}

// AllowRule grants identities matching UID/GID access to one service
// instance's offers, requests (optionally scoped to specific methods), and
// eventgroup subscriptions.
type AllowRule struct {
	UIDs        []uint32 // empty means "any"
	GIDs        []uint32 // empty means "any"
	Service     someip.ServiceID
	Instance    someip.InstanceID
	AllowOffer  bool
	Methods     []someip.MethodID // empty + AllowRequest means "any method"
	AllowRequest bool
	Eventgroups []someip.EventgroupID // empty + AllowSubscribe means "any eventgroup"
	AllowSubscribe bool
}

func (r *AllowRule) matchesIdentity(id Identity) bool {
	if len(r.UIDs) > 0 && !containsU32(r.UIDs, id.UID) {
		return false
	}
	if len(r.GIDs) > 0 && !containsU32(r.GIDs, id.GID) {
		return false
	}
	return true
}

func containsU32(haystack []uint32, v uint32) bool {
	for _, h := range haystack {
		if h == v {
			return true
		}
	}
	return false
}

// RuleGateway is the default [Gateway] implementation: a flat list of
// [AllowRule]s evaluated in order, default-deny.
type RuleGateway struct {
	Rules          []AllowRule
	AllowAnyRouter bool // authenticate_router default when no explicit router allowlist is configured
	RouterUIDs     []uint32
}

// Initialize rejects any rule whose Service and Instance are both 0. It
// checks nothing else about a rule; method and eventgroup lists are not
// validated.
func (g *RuleGateway) Initialize() error {
	for i := range g.Rules {
		r := &g.Rules[i]
		if r.Service == 0 && r.Instance == 0 {
			return obs.New(obs.KindConfigurationError, "policy.RuleGateway.Initialize", errInvalidRule(i))
		}
	}
	return nil
}

func errInvalidRule(i int) error {
	return &invalidRuleError{index: i}
}

type invalidRuleError struct{ index int }

func (e *invalidRuleError) Error() string {
	return "policy rule " + itoa(e.index) + " names no service/instance"
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func (g *RuleGateway) AuthenticateRouter(identity Identity) bool {
	if g.AllowAnyRouter {
		return true
	}
	return containsU32(g.RouterUIDs, identity.UID)
}

func (g *RuleGateway) IsOfferAllowed(identity Identity, service someip.ServiceID, instance someip.InstanceID) bool {
	for _, r := range g.Rules {
		if r.Service == service && r.Instance == instance && r.AllowOffer && r.matchesIdentity(identity) {
			return true
		}
	}
	return false
}

func (g *RuleGateway) IsRequestAllowed(identity Identity, service someip.ServiceID, instance someip.InstanceID, method someip.MethodID) bool {
	for _, r := range g.Rules {
		if r.Service != service || r.Instance != instance || !r.AllowRequest || !r.matchesIdentity(identity) {
			continue
		}
		if len(r.Methods) == 0 {
			return true
		}
		for _, m := range r.Methods {
			if m == method {
				return true
			}
		}
	}
	return false
}

func (g *RuleGateway) IsMemberAllowed(identity Identity, service someip.ServiceID, instance someip.InstanceID, eventgroup someip.EventgroupID) bool {
	for _, r := range g.Rules {
		if r.Service != service || r.Instance != instance || !r.AllowSubscribe || !r.matchesIdentity(identity) {
			continue
		}
		if len(r.Eventgroups) == 0 {
			return true
		}
		for _, eg := range r.Eventgroups {
			if eg == eventgroup {
				return true
			}
		}
	}
	return false
}
