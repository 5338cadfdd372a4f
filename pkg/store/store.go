// Package store persists orchestration state: pipeline runs, steps, chats,
// messages, token records, and app settings. All access goes through raw SQL
// on the shared SQLite handle; higher layers never see database/sql.
package store

import (
	"database/sql"
	"time"
)

// writeTimeout bounds critical writes. Writes use a background context so a
// cancelled pipeline can still persist its terminal state.
const writeTimeout = 10 * time.Second

// timeLayout is fixed-width RFC3339 with nanoseconds so that lexicographic
// ordering of stored TEXT timestamps matches chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store bundles the per-table stores over one database handle.
type Store struct {
	db *sql.DB

	Chats      *ChatStore
	Executions *ExecutionStore
	Tokens     *TokenStore
	Settings   *SettingsStore
}

// New creates the store aggregate.
func New(db *sql.DB) *Store {
	return &Store{
		db:         db,
		Chats:      NewChatStore(db),
		Executions: NewExecutionStore(db),
		Tokens:     NewTokenStore(db),
		Settings:   NewSettingsStore(db),
	}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}
