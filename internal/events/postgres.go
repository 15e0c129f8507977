package events

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Schema creates the audit table the Postgres sink appends to.
const Schema = `
CREATE TABLE IF NOT EXISTS match_events (
	id          BIGSERIAL PRIMARY KEY,
	tournament  TEXT        NOT NULL,
	event_type  TEXT        NOT NULL,
	arena       INTEGER,
	players     TEXT[]      NOT NULL DEFAULT '{}',
	winner      TEXT,
	loser       TEXT,
	detail      TEXT,
	occurred_at TIMESTAMPTZ NOT NULL
);`

// PostgresRecorder appends every event to match_events. Rows are an audit
// trail for organisers; the coordinator never queries them.
type PostgresRecorder struct {
	db *sql.DB
}

// NewPostgresRecorder appends to match_events. Call Migrate once before use.
func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

// Migrate creates the table if it does not exist.
func (r *PostgresRecorder) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create match_events: %w", err)
	}
	return nil
}

func (r *PostgresRecorder) Publish(ctx context.Context, ev Event) error {
	query := `
		INSERT INTO match_events (tournament, event_type, arena, players, winner, loser, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	var arena sql.NullInt64
	if ev.Arena != nil {
		arena = sql.NullInt64{Int64: int64(*ev.Arena), Valid: true}
	}
	players := ev.Players
	if players == nil {
		players = []string{}
	}
	_, err := r.db.ExecContext(ctx, query,
		ev.Tournament, string(ev.Type), arena, pq.Array(players),
		nullString(ev.Winner), nullString(ev.Loser), nullString(ev.Detail), ev.At,
	)
	if err != nil {
		return fmt.Errorf("insert %s event: %w", ev.Type, err)
	}
	return nil
}

func (r *PostgresRecorder) Close() error { return r.db.Close() }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
