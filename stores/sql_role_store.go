package stores

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/authgate"
)

// SQLRoleStore persists roles and their permission sets in SQL (squealx).
type SQLRoleStore struct {
	db *squealx.DB
}

func NewSQLRoleStore(db *squealx.DB) *SQLRoleStore {
	return &SQLRoleStore{db: db}
}

func (s *SQLRoleStore) CreateRole(ctx context.Context, role *authgate.Role) error {
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now()
	}
	q := `INSERT INTO roles(name, permissions_json, created_at) VALUES(:name, :permissions_json, :created_at)`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"name":             role.Name,
		"permissions_json": marshalStrings(role.Permissions),
		"created_at":       role.CreatedAt,
	})
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		role.ID = id
	}
	return nil
}

func (s *SQLRoleStore) GetRole(ctx context.Context, id int64) (*authgate.Role, error) {
	q := `SELECT id, name, permissions_json, created_at FROM roles WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, authgate.ErrNotFound
	}
	return scanRole(r)
}

func (s *SQLRoleStore) GetRolesByIDs(ctx context.Context, ids []int64) ([]*authgate.Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := map[string]any{}
	holders := make([]string, 0, len(ids))
	for i, id := range ids {
		key := fmt.Sprintf("id%d", i)
		holders = append(holders, ":"+key)
		args[key] = id
	}
	q := `SELECT id, name, permissions_json, created_at FROM roles WHERE id IN (` +
		strings.Join(holders, ", ") + `) ORDER BY id ASC`
	r, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*authgate.Role, 0, len(ids))
	for r.Next() {
		role, err := scanRole(r)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, nil
}

func scanRole(r *squealx.Rows) (*authgate.Role, error) {
	var (
		id         int64
		name       string
		permsJSON  string
		createdRaw interface{}
	)
	if err := r.Scan(&id, &name, &permsJSON, &createdRaw); err != nil {
		return nil, err
	}
	return &authgate.Role{
		ID:          id,
		Name:        name,
		Permissions: unmarshalStrings(permsJSON),
		CreatedAt:   scanTime(createdRaw),
	}, nil
}
