package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PG stores and searches trace events in Postgres. It is always present and
// serves as the search fallback when Meilisearch is down.
type PG struct {
	db *sql.DB
}

func NewPG(db *sql.DB) *PG {
	return &PG{db: db}
}

func (p *PG) Insert(ctx context.Context, event Event) error {
	var payload []byte
	if event.Payload != nil {
		encoded, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("marshal trace payload: %w", err)
		}
		payload = encoded
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO trace_events (id, matter_id, kind, message, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, event.ID, event.MatterID, event.Kind, event.Message, payload, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert trace event: %w", err)
	}
	return nil
}

func (p *PG) Search(ctx context.Context, query string, matterID int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, matter_id, kind, message, payload, created_at
		FROM trace_events
		WHERE ($1 = '' OR message ILIKE '%' || $1 || '%' OR kind ILIKE '%' || $1 || '%')
			AND ($2 = 0 OR matter_id = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, query, matterID, limit)
	if err != nil {
		return nil, fmt.Errorf("search trace events: %w", err)
	}
	defer rows.Close()

	items := make([]Event, 0)
	for rows.Next() {
		var event Event
		var payload []byte
		if err := rows.Scan(&event.ID, &event.MatterID, &event.Kind, &event.Message, &payload, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trace event: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &event.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal trace payload: %w", err)
			}
		}
		items = append(items, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace events: %w", err)
	}
	return items, nil
}
