package policy

import (
	"github.com/someip-go/vsomeip/obs"
	"github.com/someip-go/vsomeip/wire/someip"
)

// AuditGateway wraps a [Gateway] in "audit mode": every predicate always
// returns the permissive outcome, but a denial the inner gateway would have
// returned is logged through an [obs.SLogger] rather than enforced. This is
// a deployment-time choice (log-only rollout of a new policy) rather than a
// weaker security posture in code.
type AuditGateway struct {
	Inner  Gateway
	Logger obs.SLogger
}

// NewAuditGateway wraps inner in audit mode, logging through logger.
func NewAuditGateway(inner Gateway, logger obs.SLogger) *AuditGateway {
	if logger == nil {
		logger = obs.DefaultSLogger()
	}
	return &AuditGateway{Inner: inner, Logger: logger}
}

func (g *AuditGateway) Initialize() error {
	if err := g.Inner.Initialize(); err != nil {
		g.Logger.Warn("policy_initialize denied in audit mode", "error", err)
	}
	return nil
}

func (g *AuditGateway) AuthenticateRouter(identity Identity) bool {
	if !g.Inner.AuthenticateRouter(identity) {
		g.Logger.Warn("authenticate_router denied in audit mode", "uid", identity.UID)
	}
	return true
}

func (g *AuditGateway) IsOfferAllowed(identity Identity, service someip.ServiceID, instance someip.InstanceID) bool {
	if !g.Inner.IsOfferAllowed(identity, service, instance) {
		g.Logger.Warn("is_offer_allowed denied in audit mode", "uid", identity.UID, "service", service, "instance", instance)
	}
	return true
}

func (g *AuditGateway) IsRequestAllowed(identity Identity, service someip.ServiceID, instance someip.InstanceID, method someip.MethodID) bool {
	if !g.Inner.IsRequestAllowed(identity, service, instance, method) {
		g.Logger.Warn("is_request_allowed denied in audit mode", "uid", identity.UID, "service", service, "instance", instance, "method", method)
	}
	return true
}

func (g *AuditGateway) IsMemberAllowed(identity Identity, service someip.ServiceID, instance someip.InstanceID, eventgroup someip.EventgroupID) bool {
	if !g.Inner.IsMemberAllowed(identity, service, instance, eventgroup) {
		g.Logger.Warn("is_member_allowed denied in audit mode", "uid", identity.UID, "service", service, "instance", instance, "eventgroup", eventgroup)
	}
	return true
}
