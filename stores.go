package authgate

import (
	"context"
	"time"
)

// Role is a named collection of permissions. Hierarchy edges and
// assignments reference roles by ID; rules reference them by name.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// StoreRecord is a tenant/organizational unit. Role hierarchies and
// effective permissions are computed per store.
type StoreRecord struct {
	ID       int64          `json:"id"`
	Name     string         `json:"name"`
	IsActive bool           `json:"is_active"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// HierarchyEdge records that the higher role manages the lower role within
// one store. The (higher, lower, store) triple is unique.
type HierarchyEdge struct {
	ID           int64          `json:"id"`
	HigherRoleID int64          `json:"higher_role_id"`
	LowerRoleID  int64          `json:"lower_role_id"`
	StoreID      int64          `json:"store_id"`
	IsActive     bool           `json:"is_active"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at,omitempty"`
}

// Assignment binds a user to a role within a store.
type Assignment struct {
	ID       int64          `json:"id"`
	UserID   int64          `json:"user_id"`
	RoleID   int64          `json:"role_id"`
	StoreID  int64          `json:"store_id"`
	IsActive bool           `json:"is_active"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RuleFilter narrows ListRules. A zero filter lists everything.
type RuleFilter struct {
	Service string
	Search  string // matches service, path_dsl, or route_name substrings
	Limit   int
	Offset  int
}

// RuleStore persists authorization rules. Implementations must return
// FindActiveRules results ordered by priority descending then id ascending,
// and must hydrate the compiled path matcher on every read.
type RuleStore interface {
	CreateRule(ctx context.Context, r *Rule) error
	UpdateRule(ctx context.Context, r *Rule) error
	DeleteRule(ctx context.Context, id int64) error
	GetRule(ctx context.Context, id int64) (*Rule, error)
	ListRules(ctx context.Context, filter RuleFilter) ([]*Rule, error)
	ListServices(ctx context.Context) ([]string, error)
	// FindActiveRules returns active rules for service whose method is
	// method or ANY.
	FindActiveRules(ctx context.Context, service, method string) ([]*Rule, error)
}

// RoleStore resolves roles and their permission sets.
type RoleStore interface {
	GetRole(ctx context.Context, id int64) (*Role, error)
	GetRolesByIDs(ctx context.Context, ids []int64) ([]*Role, error)
	CreateRole(ctx context.Context, r *Role) error
}

// HierarchyStore persists role-hierarchy edges. Cycle validation happens in
// HierarchyService over a bulk snapshot of these edges, not in the store.
type HierarchyStore interface {
	AddEdge(ctx context.Context, e *HierarchyEdge) error
	// RemoveEdge deletes by exact triple, reporting whether a row existed.
	RemoveEdge(ctx context.Context, higherRoleID, lowerRoleID, storeID int64) (bool, error)
	// ListActiveEdges returns every active edge in the store.
	ListActiveEdges(ctx context.Context, storeID int64) ([]*HierarchyEdge, error)
	EdgeExists(ctx context.Context, higherRoleID, lowerRoleID, storeID int64) (bool, error)
}

// AssignmentStore persists user-role-store assignments and knows which
// stores exist and are active.
type AssignmentStore interface {
	Assign(ctx context.Context, a *Assignment) error
	// Remove deletes by exact triple, reporting whether a row existed.
	Remove(ctx context.Context, userID, roleID, storeID int64) (bool, error)
	// Toggle flips is_active on an existing assignment.
	Toggle(ctx context.Context, userID, roleID, storeID int64) (bool, error)
	ListByUser(ctx context.Context, userID int64, storeID int64) ([]*Assignment, error)
	ListByStore(ctx context.Context, storeID int64, roleID int64) ([]*Assignment, error)
	// DirectRoleIDs returns the user's active role IDs in the store.
	DirectRoleIDs(ctx context.Context, userID, storeID int64) ([]int64, error)
	// AssignedStoreIDs returns stores where the user has any active
	// assignment.
	AssignedStoreIDs(ctx context.Context, userID int64) ([]int64, error)
	// ActiveStoreIDs returns every currently active store system-wide.
	ActiveStoreIDs(ctx context.Context) ([]int64, error)
	StoreExists(ctx context.Context, storeID int64) (bool, error)
	CreateStore(ctx context.Context, s *StoreRecord) error
}
