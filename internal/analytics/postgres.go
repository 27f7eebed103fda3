package analytics

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the subset of a pgx pool the Postgres sink needs.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresSink stores events in the navigation_events table.
//
//	CREATE TABLE navigation_events (
//	    id          TEXT PRIMARY KEY,
//	    session_id  TEXT NOT NULL,
//	    event_type  TEXT NOT NULL,
//	    occurred_at TIMESTAMPTZ NOT NULL,
//	    payload     JSONB NOT NULL
//	);
type PostgresSink struct {
	db Execer
}

// NewPostgresSink creates a sink writing through db, typically a *pgxpool.Pool.
func NewPostgresSink(db Execer) *PostgresSink {
	return &PostgresSink{db: db}
}

const insertEventSQL = `
	INSERT INTO navigation_events (id, session_id, event_type, occurred_at, payload)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO NOTHING
`

// Send implements Sink. Re-sending an event is a no-op.
func (s *PostgresSink) Send(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Type, err)
	}

	if _, err := s.db.Exec(ctx, insertEventSQL, ev.ID, ev.SessionID, string(ev.Type), ev.OccurredAt, payload); err != nil {
		return fmt.Errorf("inserting %s event: %w", ev.Type, err)
	}
	return nil
}
