package stores

import (
	"context"
	"encoding/json"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/authgate"
)

// SQLAssignmentStore persists user-role-store assignments and store records
// in SQL (squealx).
type SQLAssignmentStore struct {
	db *squealx.DB
}

func NewSQLAssignmentStore(db *squealx.DB) *SQLAssignmentStore {
	return &SQLAssignmentStore{db: db}
}

func (s *SQLAssignmentStore) Assign(ctx context.Context, a *authgate.Assignment) error {
	meta := "{}"
	if len(a.Metadata) > 0 {
		if b, err := json.Marshal(a.Metadata); err == nil {
			meta = string(b)
		}
	}
	// Re-assigning an existing triple reactivates it instead of failing the
	// unique constraint.
	q := `INSERT INTO user_role_store(user_id, role_id, store_id, is_active, metadata_json)
		VALUES(:user_id, :role_id, :store_id, :is_active, :metadata_json)
		ON CONFLICT(user_id, role_id, store_id)
		DO UPDATE SET is_active = :is_active, metadata_json = :metadata_json`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"user_id":       a.UserID,
		"role_id":       a.RoleID,
		"store_id":      a.StoreID,
		"is_active":     boolToInt(a.IsActive),
		"metadata_json": meta,
	})
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil && a.ID == 0 {
		a.ID = id
	}
	return nil
}

func (s *SQLAssignmentStore) Remove(ctx context.Context, userID, roleID, storeID int64) (bool, error) {
	q := `DELETE FROM user_role_store WHERE user_id = :user AND role_id = :role AND store_id = :store`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"user": userID, "role": roleID, "store": storeID,
	})
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLAssignmentStore) Toggle(ctx context.Context, userID, roleID, storeID int64) (bool, error) {
	q := `UPDATE user_role_store SET is_active = 1 - is_active
		WHERE user_id = :user AND role_id = :role AND store_id = :store`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"user": userID, "role": roleID, "store": storeID,
	})
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLAssignmentStore) ListByUser(ctx context.Context, userID int64, storeID int64) ([]*authgate.Assignment, error) {
	q := `SELECT id, user_id, role_id, store_id, is_active, metadata_json FROM user_role_store WHERE user_id = :user`
	args := map[string]any{"user": userID}
	if storeID > 0 {
		q += ` AND store_id = :store`
		args["store"] = storeID
	}
	q += ` ORDER BY id ASC`
	return s.queryAssignments(ctx, q, args)
}

func (s *SQLAssignmentStore) ListByStore(ctx context.Context, storeID int64, roleID int64) ([]*authgate.Assignment, error) {
	q := `SELECT id, user_id, role_id, store_id, is_active, metadata_json FROM user_role_store WHERE store_id = :store`
	args := map[string]any{"store": storeID}
	if roleID > 0 {
		q += ` AND role_id = :role`
		args["role"] = roleID
	}
	q += ` ORDER BY id ASC`
	return s.queryAssignments(ctx, q, args)
}

func (s *SQLAssignmentStore) queryAssignments(ctx context.Context, q string, args map[string]any) ([]*authgate.Assignment, error) {
	r, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*authgate.Assignment, 0)
	for r.Next() {
		var (
			id, user, role, store int64
			activeInt             int
			metaJSON              string
		)
		if err := r.Scan(&id, &user, &role, &store, &activeInt, &metaJSON); err != nil {
			return nil, err
		}
		a := &authgate.Assignment{
			ID: id, UserID: user, RoleID: role, StoreID: store,
			IsActive: activeInt != 0,
		}
		if metaJSON != "" && metaJSON != "{}" {
			_ = json.Unmarshal([]byte(metaJSON), &a.Metadata)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *SQLAssignmentStore) DirectRoleIDs(ctx context.Context, userID, storeID int64) ([]int64, error) {
	q := `SELECT DISTINCT role_id FROM user_role_store
		WHERE user_id = :user AND store_id = :store AND is_active = 1 ORDER BY role_id ASC`
	return s.queryInt64s(ctx, q, map[string]any{"user": userID, "store": storeID})
}

func (s *SQLAssignmentStore) AssignedStoreIDs(ctx context.Context, userID int64) ([]int64, error) {
	q := `SELECT DISTINCT store_id FROM user_role_store
		WHERE user_id = :user AND is_active = 1 ORDER BY store_id ASC`
	return s.queryInt64s(ctx, q, map[string]any{"user": userID})
}

func (s *SQLAssignmentStore) ActiveStoreIDs(ctx context.Context) ([]int64, error) {
	q := `SELECT id FROM stores WHERE is_active = 1 ORDER BY id ASC`
	return s.queryInt64s(ctx, q, map[string]any{})
}

func (s *SQLAssignmentStore) queryInt64s(ctx context.Context, q string, args map[string]any) ([]int64, error) {
	r, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]int64, 0)
	for r.Next() {
		var v int64
		if err := r.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *SQLAssignmentStore) StoreExists(ctx context.Context, storeID int64) (bool, error) {
	r, err := s.db.NamedQueryContext(ctx, `SELECT COUNT(1) FROM stores WHERE id = :id`, map[string]any{"id": storeID})
	if err != nil {
		return false, err
	}
	defer r.Close()
	if !r.Next() {
		return false, nil
	}
	var n int
	if err := r.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLAssignmentStore) CreateStore(ctx context.Context, rec *authgate.StoreRecord) error {
	meta := "{}"
	if len(rec.Metadata) > 0 {
		if b, err := json.Marshal(rec.Metadata); err == nil {
			meta = string(b)
		}
	}
	q := `INSERT INTO stores(name, is_active, metadata_json) VALUES(:name, :is_active, :metadata_json)`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"name":          rec.Name,
		"is_active":     boolToInt(rec.IsActive),
		"metadata_json": meta,
	})
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}
