package authgate

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/authgate/logger"
	"github.com/oarkflow/authgate/utils"
)

// CheckRequest is one authorization question: is this verified caller
// allowed to perform Method on Path (or the named route) for Service,
// given the store context the boundary extracted from the request?
type CheckRequest struct {
	Service      string       `json:"service"`
	Method       string       `json:"method"`
	Path         string       `json:"path"`
	RouteName    string       `json:"route_name,omitempty"`
	Caller       CallerFacts  `json:"caller"`
	StoreContext StoreContext `json:"store_context"`
}

// Engine is the authorization oracle. It selects the highest-priority
// matching rule for a request and evaluates it under the rule's
// store-scope mode. All outcomes are verdicts; only store/cache
// infrastructure failures surface as errors.
type Engine struct {
	rules    RuleStore
	resolver *PermissionResolver
	cache    Cache

	superRoles    []string
	allowIfNoRule bool
	decisionTTL   time.Duration
	ruleListTTL   time.Duration

	log logger.Logger
}

// EngineOption configures an Engine.
type EngineOption func(e *Engine) error

// WithLogger installs a structured logger on the engine.
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		e.log = l
		return nil
	}
}

// WithSuperRoles sets the role names that bypass all rule evaluation.
func WithSuperRoles(roles ...string) EngineOption {
	return func(e *Engine) error {
		e.superRoles = roles
		return nil
	}
}

// WithAllowIfNoRule sets the fallback when no rule matches a request.
// Default is deny: failing open is a security bug, so turning this on is
// an explicit configuration decision.
func WithAllowIfNoRule(allow bool) EngineOption {
	return func(e *Engine) error {
		e.allowIfNoRule = allow
		return nil
	}
}

// WithDecisionTTL sets the decision-cache TTL.
func WithDecisionTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) error {
		if ttl <= 0 {
			return fmt.Errorf("decision ttl must be positive, got %s", ttl)
		}
		e.decisionTTL = ttl
		return nil
	}
}

// WithRuleListTTL sets the rule-list cache TTL.
func WithRuleListTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) error {
		if ttl <= 0 {
			return fmt.Errorf("rule list ttl must be positive, got %s", ttl)
		}
		e.ruleListTTL = ttl
		return nil
	}
}

// NewEngine builds an Engine over a rule store, a permission resolver and a
// shared cache. cache may be nil, in which case every lookup recomputes.
func NewEngine(rules RuleStore, resolver *PermissionResolver, cache Cache, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		rules:       rules,
		resolver:    resolver,
		cache:       cache,
		decisionTTL: 20 * time.Second,
		ruleListTTL: 60 * time.Second,
		log:         logger.NewNullLogger(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Check answers an authorization request.
func (e *Engine) Check(ctx context.Context, req CheckRequest) (*Verdict, error) {
	method := NormalizeMethod(req.Method)

	// Super-role bypass runs before rule selection even loads rules.
	if utils.HasAny(req.Caller.Roles, e.superRoles) {
		return allow(GrantedBySuperRole, nil, StoreMeta{StoreIDs: []int64{}, StoreMode: StoreModeNone}), nil
	}

	version := int64(0)
	if e.cache != nil {
		version = rulesetVersion(ctx, e.cache)
	}

	rules, err := e.loadActiveRules(ctx, version, req.Service, method)
	if err != nil {
		return nil, err
	}

	rule := SelectRule(rules, req.Path, req.RouteName)
	if rule == nil {
		e.log.Debug("no rule matched",
			"service", req.Service, "method", method, "path", req.Path, "allow_if_no_rule", e.allowIfNoRule)
		v := deny(GrantedByNoRule, nil, StoreMeta{StoreIDs: []int64{}, StoreMode: StoreModeNone})
		v.Authorized = e.allowIfNoRule
		return v, nil
	}

	storeIDs := []int64{}
	if rule.StoreScopeMode == StoreScopeScoped {
		storeIDs = ExtractStoreIDs(req.StoreContext, rule.StoreIDSources)
	}

	target := method + ":" + req.Path
	if req.RouteName != "" && rule.RouteName == req.RouteName {
		target = "route:" + req.RouteName
	}
	key := decisionKey(version, req.Service, method, target, req.Caller.UserID, storeIDs)
	if e.cache != nil {
		var cached Verdict
		if cachedJSON(ctx, e.cache, key, &cached) {
			return &cached, nil
		}
	}

	verdict, err := e.evaluate(ctx, rule, req.Caller, storeIDs)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		storeJSON(ctx, e.cache, key, verdict, e.decisionTTL)
	}
	e.log.Debug("authorization decision",
		"service", req.Service, "method", method, "path", req.Path,
		"rule_id", int(rule.ID), "authorized", verdict.Authorized, "granted_by", verdict.GrantedBy)
	return verdict, nil
}

// loadActiveRules fetches the active rule list for (service, method),
// memoized under the current ruleset version.
func (e *Engine) loadActiveRules(ctx context.Context, version int64, service, method string) ([]*Rule, error) {
	key := ruleListKey(version, service, method)
	if e.cache != nil {
		var cached []*Rule
		if cachedJSON(ctx, e.cache, key, &cached) {
			hydrateMatchers(cached, e.log)
			return cached, nil
		}
	}
	rules, err := e.rules.FindActiveRules(ctx, service, method)
	if err != nil {
		return nil, fmt.Errorf("load active rules: %w", err)
	}
	if e.cache != nil {
		storeJSON(ctx, e.cache, key, rules, e.ruleListTTL)
	}
	return rules, nil
}

// hydrateMatchers recompiles path matchers after a cache round-trip. A
// pattern that fails to compile leaves the rule inert and is logged, never
// thrown.
func hydrateMatchers(rules []*Rule, log logger.Logger) {
	for _, r := range rules {
		if r.RouteName != "" || r.PathDSL == "" || r.Matcher() != nil {
			continue
		}
		m, err := CompilePathDSL(r.PathDSL)
		if err != nil {
			log.Warn("rule path pattern failed to compile, rule is inert",
				"rule_id", int(r.ID), "path_dsl", r.PathDSL, "error", err.Error())
			continue
		}
		r.SetMatcher(m)
	}
}

// evaluate applies the matched rule to the caller's facts.
func (e *Engine) evaluate(ctx context.Context, rule *Rule, caller CallerFacts, storeIDs []int64) (*Verdict, error) {
	meta := StoreMeta{StoreIDs: storeIDs, StoreMode: StoreModeNone}

	// roles_any bypasses permission checks entirely, regardless of store
	// mode.
	if len(rule.RolesAny) > 0 && utils.HasAny(caller.Roles, rule.RolesAny) {
		return allow(GrantedByRoles, nil, meta), nil
	}

	switch rule.StoreScopeMode {
	case StoreScopeNone:
		ok, grantedBy, required := evaluatePermsAgainst(rule, caller.Permissions, caller.Abilities)
		if ok {
			return allow(grantedBy, required, meta), nil
		}
		return deny(DenyReason, required, meta), nil

	case StoreScopeScoped:
		return e.evaluateScoped(ctx, rule, caller, storeIDs)

	case StoreScopeAllStores:
		return e.evaluateAllStores(ctx, rule, caller)

	default:
		meta.StoreMode = string(rule.StoreScopeMode)
		return deny(DenyInvalidStoreMode, nil, meta), nil
	}
}

// evaluateScoped checks the rule per extracted store using the caller's
// effective permissions in each store, combining results under the rule's
// match policy.
func (e *Engine) evaluateScoped(ctx context.Context, rule *Rule, caller CallerFacts, storeIDs []int64) (*Verdict, error) {
	if len(storeIDs) == 0 {
		if rule.StoreAllowsEmpty {
			meta := StoreMeta{StoreIDs: []int64{}, StoreMode: StoreModeScopedEmpty}
			ok, grantedBy, required := evaluatePermsAgainst(rule, caller.Permissions, caller.Abilities)
			if ok {
				return allow(grantedBy, required, meta), nil
			}
			return deny(DenyReason, required, meta), nil
		}
		return deny(DenyNoStore, requiredPerms(rule), StoreMeta{StoreIDs: []int64{}, StoreMode: StoreModeScoped}), nil
	}

	meta := StoreMeta{StoreIDs: storeIDs, StoreMode: StoreModeScoped, PerStore: make(map[int64]bool, len(storeIDs))}
	grantedBy := ""
	passed := 0
	for _, storeID := range storeIDs {
		perms, err := e.resolver.EffectivePermissions(ctx, caller.UserID, storeID)
		if err != nil {
			return nil, fmt.Errorf("effective permissions for store %d: %w", storeID, err)
		}
		ok, gb, _ := evaluatePermsAgainst(rule, perms, caller.Abilities)
		meta.PerStore[storeID] = ok
		if ok {
			passed++
			if grantedBy == "" {
				grantedBy = gb
			}
		}
	}

	required := requiredPerms(rule)
	switch rule.StoreMatchPolicy {
	case StoreMatchAny:
		if passed > 0 {
			return allow(grantedBy, required, meta), nil
		}
		return deny(DenyStoreAny, required, meta), nil
	default: // StoreMatchAll
		if passed == len(storeIDs) {
			return allow(grantedBy, required, meta), nil
		}
		return deny(DenyStoreAll, required, meta), nil
	}
}

// evaluateAllStores handles rules requiring coverage of every active store,
// with the rule's own all-access bypass sets checked first.
func (e *Engine) evaluateAllStores(ctx context.Context, rule *Rule, caller CallerFacts) (*Verdict, error) {
	meta := StoreMeta{StoreIDs: []int64{}, StoreMode: StoreModeAllStores}

	if len(rule.StoreAllAccessRolesAny) > 0 && utils.HasAny(caller.Roles, rule.StoreAllAccessRolesAny) {
		return allow(GrantedByStoreAllAccess, nil, meta), nil
	}
	if len(rule.StoreAllAccessPermissionsAny) > 0 &&
		utils.HasAny(caller.Permissions, rule.StoreAllAccessPermissionsAny) &&
		abilitiesCoverAny(caller.Abilities, rule.StoreAllAccessPermissionsAny) {
		return allow(GrantedByStoreAllAccess, rule.StoreAllAccessPermissionsAny, meta), nil
	}

	covers, err := e.resolver.UserHasAllActiveStores(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	if !covers {
		return deny(DenyAllStores, requiredPerms(rule), meta), nil
	}

	ok, grantedBy, required := evaluatePermsAgainst(rule, caller.Permissions, caller.Abilities)
	if ok {
		return allow(grantedBy, required, meta), nil
	}
	return deny(DenyReason, required, meta), nil
}

// evaluatePermsAgainst is the shared permission sub-algorithm: the caller
// must hold the required permissions AND the token scope must cover them.
// Returns (authorized, grantedBy, requiredPermissions).
func evaluatePermsAgainst(rule *Rule, permSet, abilities []string) (bool, string, []string) {
	if len(rule.PermissionsAny) > 0 &&
		utils.HasAny(permSet, rule.PermissionsAny) &&
		abilitiesCoverAny(abilities, rule.PermissionsAny) {
		return true, GrantedByPermissionsAny, rule.PermissionsAny
	}
	if len(rule.PermissionsAll) > 0 &&
		utils.HasAll(permSet, rule.PermissionsAll) &&
		abilitiesCoverAll(abilities, rule.PermissionsAll) {
		return true, GrantedByPermissionsAll, rule.PermissionsAll
	}
	return false, DenyReason, requiredPerms(rule)
}

// requiredPerms reports which permission set a denial should name,
// preferring permissions_any when both are set.
func requiredPerms(rule *Rule) []string {
	if len(rule.PermissionsAny) > 0 {
		return rule.PermissionsAny
	}
	return rule.PermissionsAll
}
