package policy

import (
	"testing"

	"github.com/someip-go/vsomeip/wire/someip"
)

func TestRuleGatewayOfferAndRequest(t *testing.T) {
	g := &RuleGateway{
		Rules: []AllowRule{
			{UIDs: []uint32{1000}, Service: 1, Instance: 1, AllowOffer: true, AllowRequest: true, Methods: []someip.MethodID{1}},
		},
	}
	if err := g.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	id := Identity{UID: 1000}
	if !g.IsOfferAllowed(id, 1, 1) {
		t.Error("expected offer allowed")
	}
	if !g.IsRequestAllowed(id, 1, 1, 1) {
		t.Error("expected request allowed for method 1")
	}
	if g.IsRequestAllowed(id, 1, 1, 2) {
		t.Error("expected request denied for method 2")
	}
}

func TestRuleGatewayDefaultDeny(t *testing.T) {
	g := &RuleGateway{}
	id := Identity{UID: 1}
	if g.IsOfferAllowed(id, 1, 1) {
		t.Error("expected deny with no rules")
	}
	if g.IsRequestAllowed(id, 1, 1, 1) {
		t.Error("expected deny with no rules")
	}
	if g.IsMemberAllowed(id, 1, 1, 1) {
		t.Error("expected deny with no rules")
	}
}

func TestRuleGatewayAuthenticateRouter(t *testing.T) {
	g := &RuleGateway{RouterUIDs: []uint32{0}}
	if !g.AuthenticateRouter(Identity{UID: 0}) {
		t.Error("expected uid 0 allowed")
	}
	if g.AuthenticateRouter(Identity{UID: 99}) {
		t.Error("expected uid 99 denied")
	}
}

func TestRuleGatewayInitializeRejectsEmptyRule(t *testing.T) {
	g := &RuleGateway{Rules: []AllowRule{{}}}
	if err := g.Initialize(); err == nil {
		t.Fatal("expected error for rule with no service/instance")
	}
}

func TestAuditGatewayAlwaysAllows(t *testing.T) {
	deny := &RuleGateway{}
	audit := NewAuditGateway(deny, nil)
	id := Identity{UID: 1}
	if !audit.IsOfferAllowed(id, 1, 1) {
		t.Error("audit mode must allow despite inner denial")
	}
	if !audit.IsRequestAllowed(id, 1, 1, 1) {
		t.Error("audit mode must allow despite inner denial")
	}
	if !audit.IsMemberAllowed(id, 1, 1, 1) {
		t.Error("audit mode must allow despite inner denial")
	}
	if !audit.AuthenticateRouter(id) {
		t.Error("audit mode must allow despite inner denial")
	}
}
