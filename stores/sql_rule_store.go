package stores

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/authgate"
)

// SQLRuleStore persists authorization rules in SQL (squealx).
type SQLRuleStore struct {
	db *squealx.DB
}

func NewSQLRuleStore(db *squealx.DB) *SQLRuleStore {
	return &SQLRuleStore{db: db}
}

const ruleColumns = `id, service, method, path_dsl, route_name, roles_any_json,
	permissions_any_json, permissions_all_json, store_scope_mode,
	store_id_sources_json, store_match_policy, store_allows_empty,
	store_all_access_roles_any_json, store_all_access_permissions_any_json,
	priority, is_active, created_at, updated_at`

func ruleParams(r *authgate.Rule) map[string]any {
	sources := "{}"
	if !r.StoreIDSources.IsZero() {
		if b, err := json.Marshal(r.StoreIDSources); err == nil {
			sources = string(b)
		}
	}
	return map[string]any{
		"id":                                    r.ID,
		"service":                               r.Service,
		"method":                                r.Method,
		"path_dsl":                              r.PathDSL,
		"route_name":                            r.RouteName,
		"roles_any_json":                        marshalStrings(r.RolesAny),
		"permissions_any_json":                  marshalStrings(r.PermissionsAny),
		"permissions_all_json":                  marshalStrings(r.PermissionsAll),
		"store_scope_mode":                      string(r.StoreScopeMode),
		"store_id_sources_json":                 sources,
		"store_match_policy":                    string(r.StoreMatchPolicy),
		"store_allows_empty":                    boolToInt(r.StoreAllowsEmpty),
		"store_all_access_roles_any_json":       marshalStrings(r.StoreAllAccessRolesAny),
		"store_all_access_permissions_any_json": marshalStrings(r.StoreAllAccessPermissionsAny),
		"priority":                              r.Priority,
		"is_active":                             boolToInt(r.IsActive),
		"created_at":                            r.CreatedAt,
		"updated_at":                            r.UpdatedAt,
	}
}

func (s *SQLRuleStore) CreateRule(ctx context.Context, r *authgate.Rule) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	q := `INSERT INTO auth_rules(service, method, path_dsl, route_name, roles_any_json,
		permissions_any_json, permissions_all_json, store_scope_mode, store_id_sources_json,
		store_match_policy, store_allows_empty, store_all_access_roles_any_json,
		store_all_access_permissions_any_json, priority, is_active, created_at, updated_at)
		VALUES(:service, :method, :path_dsl, :route_name, :roles_any_json,
		:permissions_any_json, :permissions_all_json, :store_scope_mode, :store_id_sources_json,
		:store_match_policy, :store_allows_empty, :store_all_access_roles_any_json,
		:store_all_access_permissions_any_json, :priority, :is_active, :created_at, :updated_at)`
	res, err := s.db.NamedExecContext(ctx, q, ruleParams(r))
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		r.ID = id
	}
	return nil
}

func (s *SQLRuleStore) UpdateRule(ctx context.Context, r *authgate.Rule) error {
	r.UpdatedAt = time.Now()
	q := `UPDATE auth_rules SET service=:service, method=:method, path_dsl=:path_dsl,
		route_name=:route_name, roles_any_json=:roles_any_json,
		permissions_any_json=:permissions_any_json, permissions_all_json=:permissions_all_json,
		store_scope_mode=:store_scope_mode, store_id_sources_json=:store_id_sources_json,
		store_match_policy=:store_match_policy, store_allows_empty=:store_allows_empty,
		store_all_access_roles_any_json=:store_all_access_roles_any_json,
		store_all_access_permissions_any_json=:store_all_access_permissions_any_json,
		priority=:priority, is_active=:is_active, updated_at=:updated_at
		WHERE id=:id`
	res, err := s.db.NamedExecContext(ctx, q, ruleParams(r))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return authgate.ErrNotFound
	}
	return nil
}

func (s *SQLRuleStore) DeleteRule(ctx context.Context, id int64) error {
	res, err := s.db.NamedExecContext(ctx, `DELETE FROM auth_rules WHERE id = :id`, map[string]any{"id": id})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return authgate.ErrNotFound
	}
	return nil
}

func (s *SQLRuleStore) GetRule(ctx context.Context, id int64) (*authgate.Rule, error) {
	q := `SELECT ` + ruleColumns + ` FROM auth_rules WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, authgate.ErrNotFound
	}
	return scanRule(r)
}

func (s *SQLRuleStore) ListRules(ctx context.Context, filter authgate.RuleFilter) ([]*authgate.Rule, error) {
	var where []string
	args := map[string]any{}
	if filter.Service != "" {
		where = append(where, "service = :service")
		args["service"] = filter.Service
	}
	if filter.Search != "" {
		where = append(where, "(service LIKE :search OR path_dsl LIKE :search OR route_name LIKE :search)")
		args["search"] = "%" + filter.Search + "%"
	}
	q := `SELECT ` + ruleColumns + ` FROM auth_rules`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY service ASC, priority DESC, id ASC"
	if filter.Limit > 0 {
		q += " LIMIT :limit OFFSET :offset"
		args["limit"] = filter.Limit
		args["offset"] = filter.Offset
	}
	r, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return scanRules(r)
}

func (s *SQLRuleStore) ListServices(ctx context.Context) ([]string, error) {
	r, err := s.db.NamedQueryContext(ctx, `SELECT DISTINCT service FROM auth_rules ORDER BY service ASC`, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]string, 0)
	for r.Next() {
		var svc string
		if err := r.Scan(&svc); err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, nil
}

func (s *SQLRuleStore) FindActiveRules(ctx context.Context, service, method string) ([]*authgate.Rule, error) {
	q := `SELECT ` + ruleColumns + ` FROM auth_rules
		WHERE service = :service AND is_active = 1 AND (method = :method OR method = 'ANY')
		ORDER BY priority DESC, id ASC`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{
		"service": service,
		"method":  authgate.NormalizeMethod(method),
	})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return scanRules(r)
}

func scanRules(r *squealx.Rows) ([]*authgate.Rule, error) {
	out := make([]*authgate.Rule, 0)
	for r.Next() {
		rule, err := scanRule(r)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

func scanRule(r *squealx.Rows) (*authgate.Rule, error) {
	var (
		id                         int64
		service, method            string
		pathDSL, routeName         string
		rolesJSON, permsAnyJSON    string
		permsAllJSON, scopeMode    string
		sourcesJSON, matchPolicy   string
		allowsEmptyInt             int
		allRolesJSON, allPermsJSON string
		priority, activeInt        int
		createdRaw, updatedRaw     interface{}
	)
	if err := r.Scan(&id, &service, &method, &pathDSL, &routeName, &rolesJSON,
		&permsAnyJSON, &permsAllJSON, &scopeMode, &sourcesJSON, &matchPolicy,
		&allowsEmptyInt, &allRolesJSON, &allPermsJSON, &priority, &activeInt,
		&createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	rule := &authgate.Rule{
		ID:                           id,
		Service:                      service,
		Method:                       method,
		PathDSL:                      pathDSL,
		RouteName:                    routeName,
		RolesAny:                     unmarshalStrings(rolesJSON),
		PermissionsAny:               unmarshalStrings(permsAnyJSON),
		PermissionsAll:               unmarshalStrings(permsAllJSON),
		StoreScopeMode:               authgate.StoreScopeMode(scopeMode),
		StoreMatchPolicy:             authgate.StoreMatchPolicy(matchPolicy),
		StoreAllowsEmpty:             allowsEmptyInt != 0,
		StoreAllAccessRolesAny:       unmarshalStrings(allRolesJSON),
		StoreAllAccessPermissionsAny: unmarshalStrings(allPermsJSON),
		Priority:                     priority,
		IsActive:                     activeInt != 0,
		CreatedAt:                    scanTime(createdRaw),
		UpdatedAt:                    scanTime(updatedRaw),
	}
	if sourcesJSON != "" && sourcesJSON != "{}" {
		_ = json.Unmarshal([]byte(sourcesJSON), &rule.StoreIDSources)
	}
	// Hydrate the path matcher; a pattern that no longer compiles leaves
	// the rule inert rather than failing the whole read.
	if rule.RouteName == "" && rule.PathDSL != "" {
		if m, err := authgate.CompilePathDSL(rule.PathDSL); err == nil {
			rule.SetMatcher(m)
		}
	}
	return rule, nil
}
