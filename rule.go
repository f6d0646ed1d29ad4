package authgate

import (
	"strings"
	"time"
)

// HTTP methods a rule can bind to. MethodAny matches every method.
const (
	MethodGet    = "GET"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodPatch  = "PATCH"
	MethodDelete = "DELETE"
	MethodAny    = "ANY"
)

var knownMethods = map[string]bool{
	MethodGet: true, MethodPost: true, MethodPut: true,
	MethodPatch: true, MethodDelete: true, MethodAny: true,
}

// NormalizeMethod uppercases a method, defaulting a blank value to ANY.
func NormalizeMethod(method string) string {
	m := strings.ToUpper(strings.TrimSpace(method))
	if m == "" {
		return MethodAny
	}
	return m
}

// ValidMethod reports whether method is one of the allowed enum values.
func ValidMethod(method string) bool {
	return knownMethods[method]
}

// StoreScopeMode controls how a rule's permission requirement is scoped to
// stores.
type StoreScopeMode string

const (
	// StoreScopeNone evaluates permissions against the caller's global set.
	StoreScopeNone StoreScopeMode = "none"
	// StoreScopeScoped evaluates per extracted store ID using the caller's
	// effective permissions in that store.
	StoreScopeScoped StoreScopeMode = "scoped"
	// StoreScopeAllStores requires the caller to cover every active store
	// (or hold one of the rule's all-access bypass sets).
	StoreScopeAllStores StoreScopeMode = "all_stores"
)

// StoreMatchPolicy combines per-store results under scoped mode.
type StoreMatchPolicy string

const (
	// StoreMatchAll requires the rule to pass in every extracted store.
	StoreMatchAll StoreMatchPolicy = "all"
	// StoreMatchAny requires the rule to pass in at least one store.
	StoreMatchAny StoreMatchPolicy = "any"
)

// StoreIDSources names the dotted keys looked up in each request-context
// bucket when extracting candidate store IDs.
type StoreIDSources struct {
	Path  []string `json:"path,omitempty" yaml:"path,omitempty"`
	Query []string `json:"query,omitempty" yaml:"query,omitempty"`
	Body  []string `json:"body,omitempty" yaml:"body,omitempty"`
}

// IsZero reports whether no source keys are configured at all.
func (s StoreIDSources) IsZero() bool {
	return len(s.Path) == 0 && len(s.Query) == 0 && len(s.Body) == 0
}

// DefaultStoreIDSources is used when a rule does not configure its own
// source keys.
func DefaultStoreIDSources() StoreIDSources {
	return StoreIDSources{
		Path:  []string{"store_id", "store_ids"},
		Query: []string{"store_id", "store_ids"},
		Body:  []string{"store_id", "store_ids", "store.id"},
	}
}

// Rule is a single authorization rule. Exactly one of RouteName and PathDSL
// is meaningful: when both are present the route name wins at evaluation
// time, and a rule with neither is inert (never selected).
type Rule struct {
	ID        int64  `json:"id"`
	Service   string `json:"service"`
	Method    string `json:"method"`
	PathDSL   string `json:"path_dsl,omitempty"`
	RouteName string `json:"route_name,omitempty"`

	RolesAny       []string `json:"roles_any,omitempty"`
	PermissionsAny []string `json:"permissions_any,omitempty"`
	PermissionsAll []string `json:"permissions_all,omitempty"`

	StoreScopeMode               StoreScopeMode   `json:"store_scope_mode"`
	StoreIDSources               StoreIDSources   `json:"store_id_sources,omitempty"`
	StoreMatchPolicy             StoreMatchPolicy `json:"store_match_policy,omitempty"`
	StoreAllowsEmpty             bool             `json:"store_allows_empty"`
	StoreAllAccessRolesAny       []string         `json:"store_all_access_roles_any,omitempty"`
	StoreAllAccessPermissionsAny []string         `json:"store_all_access_permissions_any,omitempty"`

	Priority  int       `json:"priority"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`

	// matcher is compiled from PathDSL on create/update and cleared when a
	// route name is set instead.
	matcher *PathMatcher
}

// Matcher returns the compiled path matcher, or nil when the rule targets a
// route name or failed to compile.
func (r *Rule) Matcher() *PathMatcher { return r.matcher }

// SetMatcher installs a compiled matcher; stores use it when hydrating rules.
func (r *Rule) SetMatcher(m *PathMatcher) { r.matcher = m }

// Matchable reports whether the rule can ever be selected.
func (r *Rule) Matchable() bool {
	return r.RouteName != "" || r.matcher != nil
}

// Normalize uppercases the method (defaulting to ANY), trims the target
// fields and applies defaults for store-scope configuration.
func (r *Rule) Normalize() {
	r.Method = NormalizeMethod(r.Method)
	r.Service = strings.TrimSpace(r.Service)
	r.RouteName = strings.TrimSpace(r.RouteName)
	r.PathDSL = strings.TrimSpace(r.PathDSL)
	if r.StoreScopeMode == "" {
		r.StoreScopeMode = StoreScopeNone
	}
	if r.StoreMatchPolicy == "" {
		r.StoreMatchPolicy = StoreMatchAll
	}
}

// Compile validates the rule and compiles its path matcher. A route-name
// rule gets its matcher cleared so a stale compile never shadows the route
// binding.
func (r *Rule) Compile() error {
	r.Normalize()
	var errs []string
	if r.Service == "" {
		errs = append(errs, "service is required")
	}
	if !ValidMethod(r.Method) {
		errs = append(errs, "method must be one of GET, POST, PUT, PATCH, DELETE, ANY")
	}
	if r.RouteName == "" && r.PathDSL == "" {
		errs = append(errs, "either route_name or path_dsl is required")
	}
	switch r.StoreScopeMode {
	case StoreScopeNone, StoreScopeScoped, StoreScopeAllStores:
	default:
		errs = append(errs, "store_scope_mode must be one of none, scoped, all_stores")
	}
	switch r.StoreMatchPolicy {
	case StoreMatchAll, StoreMatchAny:
	default:
		errs = append(errs, "store_match_policy must be one of all, any")
	}
	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}

	if r.RouteName != "" {
		r.matcher = nil
		return nil
	}
	m, err := CompilePathDSL(r.PathDSL)
	if err != nil {
		return &ValidationError{Errors: []string{err.Error()}}
	}
	r.matcher = m
	return nil
}
