package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/emperorhan/guardrail-tuner/internal/domain/model"
	"github.com/emperorhan/guardrail-tuner/internal/store"
)

// EventRepo is the durable adjustment audit log. It backs the file-based
// log when a shared database is available so multiple operators see the
// same history.
type EventRepo struct {
	db *DB
}

var _ store.EventLog = (*EventRepo)(nil)

func NewEventRepo(db *DB) *EventRepo {
	return &EventRepo{db: db}
}

// EnsureSchema creates the audit table when it does not exist yet.
func (r *EventRepo) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS threshold_adjustments (
			id             UUID PRIMARY KEY,
			occurred_at    TIMESTAMPTZ NOT NULL,
			threshold_name VARCHAR(128) NOT NULL,
			old_value      DOUBLE PRECISION NOT NULL,
			new_value      DOUBLE PRECISION NOT NULL,
			reason         TEXT NOT NULL,
			category       VARCHAR(64) NOT NULL,
			confidence     DOUBLE PRECISION NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create threshold_adjustments: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_threshold_adjustments_occurred_at
		ON threshold_adjustments (occurred_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("create occurred_at index: %w", err)
	}
	return nil
}

func (r *EventRepo) AppendEvent(ctx context.Context, event model.AdjustmentEvent) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO threshold_adjustments
			(id, occurred_at, threshold_name, old_value, new_value, reason, category, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`,
		event.ID,
		event.Timestamp,
		event.ThresholdName,
		event.OldValue,
		event.NewValue,
		event.Reason,
		string(event.Category),
		event.Confidence,
	)
	if err != nil {
		return fmt.Errorf("insert adjustment event: %w", err)
	}
	return nil
}

func (r *EventRepo) RecentEvents(ctx context.Context, since time.Time) ([]model.AdjustmentEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, occurred_at, threshold_name, old_value, new_value, reason, category, confidence
		FROM threshold_adjustments
		WHERE occurred_at >= $1
		ORDER BY occurred_at ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query adjustment events: %w", err)
	}
	defer rows.Close()

	var out []model.AdjustmentEvent
	for rows.Next() {
		var ev model.AdjustmentEvent
		var category string
		if err := rows.Scan(
			&ev.ID,
			&ev.Timestamp,
			&ev.ThresholdName,
			&ev.OldValue,
			&ev.NewValue,
			&ev.Reason,
			&category,
			&ev.Confidence,
		); err != nil {
			return nil, fmt.Errorf("scan adjustment event: %w", err)
		}
		ev.Category = model.AdjustmentCategory(category)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate adjustment events: %w", err)
	}
	return out, nil
}
