package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rahul/taskmesh/internal/plan"
)

// SavePlan upserts a JSON snapshot of p.
func (s *Store) SavePlan(ctx context.Context, p *plan.Plan) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode plan %s: %w", p.ID, err)
	}
	query := `
		INSERT INTO plans (id, user_id, title, status, data, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			data = excluded.data,
			updated_at = excluded.updated_at`
	_, err = s.DB.ExecContext(ctx, query, p.ID, p.UserID, p.Title, string(p.Status), string(data), p.UpdatedAt.UnixNano())
	return err
}

// LoadPlan returns the last snapshot of a plan, or ErrNotFound.
func (s *Store) LoadPlan(ctx context.Context, id string) (*plan.Plan, error) {
	var data string
	err := s.DB.QueryRowContext(ctx, `SELECT data FROM plans WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var p plan.Plan
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decode plan %s: %w", id, err)
	}
	return &p, nil
}

// ListPlans returns the most recently updated plans of a user, or of every
// user when userID is empty.
func (s *Store) ListPlans(ctx context.Context, userID string, limit int) ([]PlanRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, user_id, title, status, updated_at FROM plans`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlanRecord
	for rows.Next() {
		var r PlanRecord
		var updated int64
		if err := rows.Scan(&r.ID, &r.UserID, &r.Title, &r.Status, &updated); err != nil {
			return nil, err
		}
		r.UpdatedAt = timeFromNano(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}
