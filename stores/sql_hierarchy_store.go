package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/authgate"
)

// SQLHierarchyStore persists role-hierarchy edges in SQL (squealx).
type SQLHierarchyStore struct {
	db *squealx.DB
}

func NewSQLHierarchyStore(db *squealx.DB) *SQLHierarchyStore {
	return &SQLHierarchyStore{db: db}
}

func (s *SQLHierarchyStore) AddEdge(ctx context.Context, e *authgate.HierarchyEdge) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	meta := "{}"
	if len(e.Metadata) > 0 {
		if b, err := json.Marshal(e.Metadata); err == nil {
			meta = string(b)
		}
	}
	q := `INSERT INTO role_hierarchy(higher_role_id, lower_role_id, store_id, is_active, metadata_json, created_at)
		VALUES(:higher_role_id, :lower_role_id, :store_id, :is_active, :metadata_json, :created_at)`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"higher_role_id": e.HigherRoleID,
		"lower_role_id":  e.LowerRoleID,
		"store_id":       e.StoreID,
		"is_active":      boolToInt(e.IsActive),
		"metadata_json":  meta,
		"created_at":     e.CreatedAt,
	})
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

func (s *SQLHierarchyStore) RemoveEdge(ctx context.Context, higherRoleID, lowerRoleID, storeID int64) (bool, error) {
	q := `DELETE FROM role_hierarchy WHERE higher_role_id = :higher AND lower_role_id = :lower AND store_id = :store`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"higher": higherRoleID,
		"lower":  lowerRoleID,
		"store":  storeID,
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

// ListActiveEdges returns active edges for one store, or for every store
// when storeID is zero. Cycle validation needs the full snapshot.
func (s *SQLHierarchyStore) ListActiveEdges(ctx context.Context, storeID int64) ([]*authgate.HierarchyEdge, error) {
	q := `SELECT id, higher_role_id, lower_role_id, store_id, is_active, metadata_json, created_at
		FROM role_hierarchy WHERE is_active = 1`
	args := map[string]any{}
	if storeID > 0 {
		q += ` AND store_id = :store_id`
		args["store_id"] = storeID
	}
	q += ` ORDER BY id ASC`
	r, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*authgate.HierarchyEdge, 0)
	for r.Next() {
		var (
			id, higher, lower, store int64
			activeInt                int
			metaJSON                 string
			createdRaw               interface{}
		)
		if err := r.Scan(&id, &higher, &lower, &store, &activeInt, &metaJSON, &createdRaw); err != nil {
			return nil, err
		}
		e := &authgate.HierarchyEdge{
			ID:           id,
			HigherRoleID: higher,
			LowerRoleID:  lower,
			StoreID:      store,
			IsActive:     activeInt != 0,
			CreatedAt:    scanTime(createdRaw),
		}
		if metaJSON != "" && metaJSON != "{}" {
			_ = json.Unmarshal([]byte(metaJSON), &e.Metadata)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *SQLHierarchyStore) EdgeExists(ctx context.Context, higherRoleID, lowerRoleID, storeID int64) (bool, error) {
	q := `SELECT COUNT(1) FROM role_hierarchy WHERE higher_role_id = :higher AND lower_role_id = :lower AND store_id = :store`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{
		"higher": higherRoleID,
		"lower":  lowerRoleID,
		"store":  storeID,
	})
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
