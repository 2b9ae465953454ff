package database

import (
	"context"
	"fmt"
	"log"
)

// migration is one ordered schema step; version numbers never change once
// shipped
type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create accounts",
		sql: `CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	},
	{
		version: 2,
		name:    "create sessions",
		sql: `CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			owner_id TEXT NOT NULL REFERENCES accounts(id),
			participants JSONB NOT NULL DEFAULT '[]',
			invitations JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	},
	{
		version: 3,
		name:    "index sessions by owner and status",
		sql:     `CREATE INDEX IF NOT EXISTS idx_sessions_owner_status ON sessions (owner_id, status)`,
	},
	{
		version: 4,
		name:    "create participant states",
		sql: `CREATE TABLE IF NOT EXISTS participant_states (
			session_id TEXT NOT NULL REFERENCES sessions(id),
			account_id TEXT NOT NULL REFERENCES accounts(id),
			version INTEGER NOT NULL DEFAULT 0,
			items JSONB NOT NULL DEFAULT '[]',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (session_id, account_id)
		)`,
	},
	{
		version: 5,
		name:    "create exercises catalog",
		sql: `CREATE TABLE IF NOT EXISTS exercises (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL
		)`,
	},
	{
		version: 6,
		name:    "seed exercises catalog",
		sql: `INSERT INTO exercises (id, name, type) VALUES
			('barbell-squat', 'Barbell Squat', 'weight_reps'),
			('barbell-bench-press', 'Barbell Bench Press', 'weight_reps'),
			('deadlift', 'Deadlift', 'weight_reps'),
			('overhead-press', 'Overhead Press', 'weight_reps'),
			('barbell-row', 'Barbell Row', 'weight_reps'),
			('pull-up', 'Pull Up', 'reps'),
			('push-up', 'Push Up', 'reps'),
			('plank', 'Plank', 'time'),
			('farmers-carry', 'Farmer''s Carry', 'weight_time'),
			('rowing-machine', 'Rowing Machine', 'distance_time'),
			('treadmill-run', 'Treadmill Run', 'distance_time'),
			('outdoor-run', 'Outdoor Run', 'distance')
			ON CONFLICT (id) DO NOTHING`,
	},
}

// Migrate applies pending migrations in order, tracking progress in
// schema_migrations
func (m *Manager) Migrate(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	var current int
	err = m.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, mig := range migrations {
		if mig.version <= current {
			continue
		}
		if _, err := m.pool.Exec(ctx, mig.sql); err != nil {
			return fmt.Errorf("migration %d (%s): %w", mig.version, mig.name, err)
		}
		if _, err := m.pool.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, mig.version); err != nil {
			return fmt.Errorf("recording migration %d: %w", mig.version, err)
		}
		log.Printf("Database: applied migration %d (%s)", mig.version, mig.name)
	}
	return nil
}
