package database

import (
	"context"
	"database/sql"
	"time"
)

// HealthStatus reports SQLite connectivity plus the applied schema state.
// Pool statistics are omitted: the client holds a single connection, so
// open/idle counts carry no signal. Schema version and the dirty flag do,
// a half-applied migration is the likeliest way this store breaks.
type HealthStatus struct {
	Status        string `json:"status"`
	ResponseTime  int64  `json:"response_time_ms"`
	SchemaVersion uint   `json:"schema_version"`
	SchemaDirty   bool   `json:"schema_dirty"`
	JournalMode   string `json:"journal_mode"`
}

// Health pings the database and collects schema and journal diagnostics.
// Diagnostics are best effort once the ping succeeds; a missing
// schema_migrations table reports version 0 rather than an error.
func Health(ctx context.Context, db *sql.DB) (*HealthStatus, error) {
	start := time.Now()

	if err := db.PingContext(ctx); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}

	h := &HealthStatus{Status: "healthy"}

	row := db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`)
	if err := row.Scan(&h.SchemaVersion, &h.SchemaDirty); err != nil && err != sql.ErrNoRows {
		h.SchemaVersion = 0
	}
	if h.SchemaDirty {
		h.Status = "degraded"
	}

	if err := db.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&h.JournalMode); err != nil {
		h.JournalMode = "unknown"
	}

	h.ResponseTime = time.Since(start).Milliseconds()
	return h, nil
}
