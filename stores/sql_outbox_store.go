package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/authgate"
)

// SQLOutboxStore persists pending domain events in SQL (squealx) so they
// survive until a dispatcher pushes them to the stream.
type SQLOutboxStore struct {
	db *squealx.DB
}

func NewSQLOutboxStore(db *squealx.DB) *SQLOutboxStore {
	return &SQLOutboxStore{db: db}
}

func (s *SQLOutboxStore) Record(ctx context.Context, e *authgate.OutboxEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	payload := "{}"
	if len(e.Payload) > 0 {
		if b, err := json.Marshal(e.Payload); err == nil {
			payload = string(b)
		}
	}
	q := `INSERT INTO auth_outbox_events(subject, payload_json, created_at) VALUES(:subject, :payload_json, :created_at)`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"subject":      e.Subject,
		"payload_json": payload,
		"created_at":   e.CreatedAt,
	})
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

func (s *SQLOutboxStore) ListPending(ctx context.Context, limit int) ([]*authgate.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, subject, payload_json, created_at FROM auth_outbox_events
		WHERE published_at IS NULL ORDER BY id ASC LIMIT :limit`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*authgate.OutboxEvent, 0)
	for r.Next() {
		var (
			id          int64
			subject     string
			payloadJSON string
			createdRaw  interface{}
		)
		if err := r.Scan(&id, &subject, &payloadJSON, &createdRaw); err != nil {
			return nil, err
		}
		e := &authgate.OutboxEvent{ID: id, Subject: subject, CreatedAt: scanTime(createdRaw)}
		if payloadJSON != "" {
			_ = json.Unmarshal([]byte(payloadJSON), &e.Payload)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *SQLOutboxStore) MarkPublished(ctx context.Context, id int64) error {
	q := `UPDATE auth_outbox_events SET published_at = :now WHERE id = :id AND published_at IS NULL`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"now": time.Now(), "id": id})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return authgate.ErrNotFound
	}
	return nil
}
