package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/austindbirch/event_relay/internal/events"
)

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS eventrelay;
CREATE TABLE IF NOT EXISTS eventrelay.deliveries (
	id             BIGSERIAL PRIMARY KEY,
	kind           TEXT        NOT NULL,
	payload_id     TEXT,
	event_count    INTEGER     NOT NULL DEFAULT 0,
	success        BOOLEAN     NOT NULL,
	must_shut_down BOOLEAN     NOT NULL DEFAULT FALSE,
	failure        TEXT        NOT NULL,
	http_status    INTEGER,
	attempts       INTEGER     NOT NULL DEFAULT 0,
	server_time    TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS deliveries_created_at_idx ON eventrelay.deliveries (created_at);
`

const insertDeliverySQL = `
INSERT INTO eventrelay.deliveries
	(kind, payload_id, event_count, success, must_shut_down, failure, http_status, attempts, server_time, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// EnsureSchema creates the deliveries table when it does not exist yet
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure eventrelay schema: %w", err)
	}
	return nil
}

// PGRecorder writes one row per processed batch.
type PGRecorder struct {
	db  Execer
	now func() time.Time
}

func NewPGRecorder(db Execer) *PGRecorder {
	return &PGRecorder{db: db, now: time.Now}
}

func (r *PGRecorder) Record(ctx context.Context, kind events.Kind, eventCount int, res events.Result) error {
	_, err := r.db.Exec(ctx, insertDeliverySQL,
		kind.String(),
		nullString(res.PayloadID),
		eventCount,
		res.Success,
		res.MustShutDown,
		res.Failure.String(),
		nullInt(res.StatusCode),
		res.Attempts,
		nullTime(res.ServerTime),
		r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record %s delivery: %w", kind, err)
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullInt(i int) *int {
	if i == 0 {
		return nil
	}
	return &i
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
