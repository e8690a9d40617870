package persistence

import (
	"context"
	"fmt"
	"time"
)

// PlanRecord is one completed plan: outcome, summary, and the serialized
// task list.
type PlanRecord struct {
	PlanID    string
	SessionID string
	CreatedAt time.Time
	Success   bool
	Summary   string
	Document  string
}

// RecordPlan stores a completed plan.
func (s *Store) RecordPlan(ctx context.Context, rec PlanRecord) error {
	if rec.PlanID == "" {
		return fmt.Errorf("plan id cannot be empty")
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO plans (plan_id, session_id, created_at, success, summary, document)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.PlanID, rec.SessionID, formatTime(created), boolToInt(rec.Success), rec.Summary, rec.Document)
	if err != nil {
		return fmt.Errorf("failed to record plan %s: %w", rec.PlanID, err)
	}
	return nil
}

// RecentPlans returns the most recently completed plans, newest first.
// A limit of 0 or less means no limit.
func (s *Store) RecentPlans(ctx context.Context, limit int) ([]PlanRecord, error) {
	query := `
		SELECT plan_id, session_id, created_at, success, summary, document
		FROM plans ORDER BY created_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var out []PlanRecord
	for rows.Next() {
		var rec PlanRecord
		var created string
		var success int
		if err := rows.Scan(&rec.PlanID, &rec.SessionID, &created, &success, &rec.Summary, &rec.Document); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		rec.CreatedAt = parseTime(created)
		rec.Success = success != 0
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("plan row iteration failed: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
