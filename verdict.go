package authgate

// Reason codes carried in Verdict.GrantedBy. Every evaluation path resolves
// to exactly one of these; denials are verdicts, never errors.
const (
	GrantedBySuperRole      = "super-role"
	GrantedByNoRule         = "no-rule"
	GrantedByRoles          = "roles"
	GrantedByPermissionsAny = "permissions_any"
	GrantedByPermissionsAll = "permissions_all"
	GrantedByStoreAllAccess = "store-all-access"

	DenyReason           = "deny"
	DenyNoStore          = "deny-no-store"
	DenyStoreAll         = "deny-store-all"
	DenyStoreAny         = "deny-store-any"
	DenyAllStores        = "deny-all-stores"
	DenyInvalidStoreMode = "deny-invalid-store-mode"
)

// Store-mode labels reported in Verdict.Meta.StoreMode.
const (
	StoreModeNone        = "none"
	StoreModeScoped      = "scoped"
	StoreModeScopedEmpty = "scoped-empty-allowed"
	StoreModeAllStores   = "all-stores"
)

// StoreMeta is the store-scoping diagnostic attached to every verdict.
type StoreMeta struct {
	StoreIDs  []int64        `json:"store_ids"`
	StoreMode string         `json:"store_mode"`
	PerStore  map[int64]bool `json:"per_store,omitempty"`
}

// Verdict is the outcome of an authorization check, with enough metadata
// for the caller to present an actionable message without seeing matcher
// internals.
type Verdict struct {
	Authorized          bool      `json:"authorized"`
	RequiredPermissions []string  `json:"required_permissions"`
	GrantedBy           string    `json:"granted_by"`
	Meta                StoreMeta `json:"store"`
}

func allow(grantedBy string, required []string, meta StoreMeta) *Verdict {
	return &Verdict{Authorized: true, RequiredPermissions: emptyIfNil(required), GrantedBy: grantedBy, Meta: meta}
}

func deny(reason string, required []string, meta StoreMeta) *Verdict {
	return &Verdict{Authorized: false, RequiredPermissions: emptyIfNil(required), GrantedBy: reason, Meta: meta}
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
