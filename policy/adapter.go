package policy

import (
	"github.com/someip-go/vsomeip/routing"
	"github.com/someip-go/vsomeip/wire/someip"
)

// RoutingAdapter narrows a [Gateway] down to the two predicates
// [routing.Dispatcher] consults, converting routing's identity type to
// policy's. Routing never imports policy directly, so this adapter is the
// seam that plugs a configured policy engine into the dispatch pipeline.
type RoutingAdapter struct {
	Gateway Gateway
}

var _ routing.Gateway = RoutingAdapter{}

func (a RoutingAdapter) IsRequestAllowed(identity routing.Identity, service someip.ServiceID, instance someip.InstanceID, method someip.MethodID) bool {
	return a.Gateway.IsRequestAllowed(toPolicyIdentity(identity), service, instance, method)
}

func (a RoutingAdapter) IsOfferAllowed(identity routing.Identity, service someip.ServiceID, instance someip.InstanceID) bool {
	return a.Gateway.IsOfferAllowed(toPolicyIdentity(identity), service, instance)
}

func toPolicyIdentity(id routing.Identity) Identity {
	return Identity{UID: id.UID, GID: id.GID, HostAddress: id.HostAddress, Port: id.Port}
}
