package authgate

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/authgate/logger"
	"github.com/oarkflow/authgate/utils"
)

// EffectiveRole is a role in a user's effective set for one store,
// annotated with how it got there.
type EffectiveRole struct {
	Role      *Role `json:"role"`
	Inherited bool  `json:"inherited"`
}

// PermissionResolver computes a user's effective roles and permissions per
// store by walking the hierarchy graph from their direct assignments.
//
// Results are cached per user+store with a short TTL that is deliberately
// NOT tied to the ruleset version: assignment data has its own lifecycle.
// InvalidateUser gives in-process mutators immediate convergence; other
// instances converge within the TTL.
type PermissionResolver struct {
	assignments AssignmentStore
	roles       RoleStore
	hierarchy   *HierarchyService
	cache       Cache
	ttl         time.Duration
	log         logger.Logger
}

// ResolverOption configures a PermissionResolver.
type ResolverOption func(*PermissionResolver)

// WithResolverCache enables caching with the given TTL.
func WithResolverCache(c Cache, ttl time.Duration) ResolverOption {
	return func(r *PermissionResolver) {
		r.cache = c
		r.ttl = ttl
	}
}

// WithResolverLogger installs a logger.
func WithResolverLogger(l logger.Logger) ResolverOption {
	return func(r *PermissionResolver) { r.log = l }
}

func NewPermissionResolver(assignments AssignmentStore, roles RoleStore, hierarchy *HierarchyService, opts ...ResolverOption) *PermissionResolver {
	r := &PermissionResolver{
		assignments: assignments,
		roles:       roles,
		hierarchy:   hierarchy,
		ttl:         30 * time.Second,
		log:         logger.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EffectiveRoles returns the user's direct roles in the store plus every
// role those roles transitively manage, each annotated direct vs inherited.
// A role that is both directly assigned and inherited counts as direct.
func (r *PermissionResolver) EffectiveRoles(ctx context.Context, userID, storeID int64) ([]EffectiveRole, error) {
	directIDs, err := r.assignments.DirectRoleIDs(ctx, userID, storeID)
	if err != nil {
		return nil, fmt.Errorf("load direct roles: %w", err)
	}
	direct := utils.Int64sToSet(directIDs)

	inherited := make(map[int64]struct{})
	for _, roleID := range directIDs {
		lowerIDs, err := r.hierarchy.TransitiveLowerRoleIDs(ctx, roleID, storeID)
		if err != nil {
			return nil, err
		}
		for _, id := range lowerIDs {
			if _, isDirect := direct[id]; !isDirect {
				inherited[id] = struct{}{}
			}
		}
	}

	all := append(utils.SortedInt64Set(direct), utils.SortedInt64Set(inherited)...)
	roles, err := r.roles.GetRolesByIDs(ctx, all)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	out := make([]EffectiveRole, 0, len(roles))
	for _, role := range roles {
		_, isDirect := direct[role.ID]
		out = append(out, EffectiveRole{Role: role, Inherited: !isDirect})
	}
	return out, nil
}

// EffectivePermissions unions the permission sets of every effective role.
func (r *PermissionResolver) EffectivePermissions(ctx context.Context, userID, storeID int64) ([]string, error) {
	key := permsKey(userID, storeID)
	if r.cache != nil {
		var cached []string
		if cachedJSON(ctx, r.cache, key, &cached) {
			return cached, nil
		}
	}

	roles, err := r.EffectiveRoles(ctx, userID, storeID)
	if err != nil {
		return nil, err
	}
	perms := make([]string, 0)
	for _, er := range roles {
		perms = append(perms, er.Role.Permissions...)
	}
	perms = utils.DedupeStrings(perms)

	if r.cache != nil {
		storeJSON(ctx, r.cache, key, perms, r.ttl)
	}
	return perms, nil
}

// HasPermissionInStore reports whether the user's effective permission set
// for the store contains permission.
func (r *PermissionResolver) HasPermissionInStore(ctx context.Context, userID int64, permission string, storeID int64) (bool, error) {
	perms, err := r.EffectivePermissions(ctx, userID, storeID)
	if err != nil {
		return false, err
	}
	return utils.ContainsString(perms, permission), nil
}

// UserHasAllActiveStores reports whether the user holds at least one active
// assignment in every currently active store. Vacuously true when there are
// no active stores.
func (r *PermissionResolver) UserHasAllActiveStores(ctx context.Context, userID int64) (bool, error) {
	key := allStoresKey(userID)
	if r.cache != nil {
		var cached bool
		if cachedJSON(ctx, r.cache, key, &cached) {
			return cached, nil
		}
	}

	active, err := r.assignments.ActiveStoreIDs(ctx)
	if err != nil {
		return false, fmt.Errorf("load active stores: %w", err)
	}
	result := true
	if len(active) > 0 {
		assigned, err := r.assignments.AssignedStoreIDs(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("load assigned stores: %w", err)
		}
		assignedSet := utils.Int64sToSet(assigned)
		for _, storeID := range active {
			if _, ok := assignedSet[storeID]; !ok {
				result = false
				break
			}
		}
	}

	if r.cache != nil {
		storeJSON(ctx, r.cache, key, result, r.ttl)
	}
	return result, nil
}

// InvalidateUser drops the user's cached permission sets for the given
// stores (and the all-active-stores flag), called on assignment mutation.
func (r *PermissionResolver) InvalidateUser(ctx context.Context, userID int64, storeIDs ...int64) {
	if r.cache == nil {
		return
	}
	for _, storeID := range storeIDs {
		if err := r.cache.Delete(ctx, permsKey(userID, storeID)); err != nil {
			r.log.Debug("invalidate perms cache", "user_id", userID, "store_id", storeID, "error", err.Error())
		}
	}
	_ = r.cache.Delete(ctx, allStoresKey(userID))
}
