package authgate_test

import (
	"testing"

	"github.com/oarkflow/authgate"
)

func pathRule(t *testing.T, id int64, priority int, pattern string) *authgate.Rule {
	t.Helper()
	r := &authgate.Rule{
		ID:       id,
		Service:  "api",
		Method:   authgate.MethodGet,
		PathDSL:  pattern,
		Priority: priority,
		IsActive: true,
	}
	if err := r.Compile(); err != nil {
		t.Fatalf("compile rule %d: %v", id, err)
	}
	return r
}

func routeRule(id int64, priority int, routeName string) *authgate.Rule {
	return &authgate.Rule{
		ID:        id,
		Service:   "api",
		Method:    authgate.MethodGet,
		RouteName: routeName,
		Priority:  priority,
		IsActive:  true,
	}
}

func TestSelectRuleFirstMatchInOrder(t *testing.T) {
	// Stored order is priority desc, id asc; the selector trusts it.
	rules := []*authgate.Rule{
		pathRule(t, 2, 100, "/api/orders/{id}"),
		pathRule(t, 1, 50, "/api/orders/**"),
	}
	got := authgate.SelectRule(rules, "/api/orders/7", "")
	if got == nil || got.ID != 2 {
		t.Fatalf("expected rule 2, got %+v", got)
	}
	got = authgate.SelectRule(rules, "/api/orders/7/items", "")
	if got == nil || got.ID != 1 {
		t.Fatalf("expected fallback rule 1, got %+v", got)
	}
}

func TestSelectRuleRouteNameBeatsPath(t *testing.T) {
	rules := []*authgate.Rule{
		pathRule(t, 1, 500, "/api/orders/**"),
		routeRule(2, 10, "orders.show"),
	}
	got := authgate.SelectRule(rules, "/api/orders/7", "orders.show")
	if got == nil || got.ID != 2 {
		t.Fatalf("route-name rule should win regardless of priority, got %+v", got)
	}
}

func TestSelectRuleRouteNameMissFallsBackToPath(t *testing.T) {
	rules := []*authgate.Rule{
		routeRule(1, 100, "orders.delete"),
		pathRule(t, 2, 50, "/api/orders/**"),
	}
	got := authgate.SelectRule(rules, "/api/orders/7", "orders.show")
	if got == nil || got.ID != 2 {
		t.Fatalf("expected path fallback, got %+v", got)
	}
}

func TestSelectRuleSkipsInertRules(t *testing.T) {
	inert := &authgate.Rule{ID: 1, Service: "api", Method: authgate.MethodGet, Priority: 900, IsActive: true}
	rules := []*authgate.Rule{inert, pathRule(t, 2, 10, "/api/orders")}
	got := authgate.SelectRule(rules, "/api/orders", "")
	if got == nil || got.ID != 2 {
		t.Fatalf("inert rule must never be selected, got %+v", got)
	}
}

func TestSelectRuleNoMatch(t *testing.T) {
	rules := []*authgate.Rule{pathRule(t, 1, 10, "/api/orders")}
	if got := authgate.SelectRule(rules, "/api/customers", ""); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}
