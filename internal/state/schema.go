/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package state

import "fmt"

// schemaVersion is the monotonically increasing version this binary knows
// how to read and write. A database created by a newer binary refuses to
// open (spec §4.1).
const schemaVersion = 1

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS schema_meta (version INTEGER NOT NULL);`,

	`CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		state TEXT NOT NULL,
		input_json TEXT,
		output_json TEXT,
		metadata_json TEXT
	);`,

	`CREATE TABLE IF NOT EXISTS turn_telemetry (
		turn_id TEXT PRIMARY KEY REFERENCES turns(id),
		survival_tier TEXT NOT NULL,
		estimated_usd INTEGER NOT NULL,
		queue_depth INTEGER NOT NULL,
		spend_proxy_usd REAL NOT NULL,
		actions_total INTEGER NOT NULL,
		action_failures INTEGER NOT NULL,
		brain_duration_ms INTEGER NOT NULL,
		brain_failures INTEGER NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		thread_id TEXT,
		content TEXT NOT NULL,
		received_at TEXT NOT NULL,
		processed_at TEXT
	);`,

	`CREATE TABLE IF NOT EXISTS memory_facts (
		id TEXT PRIMARY KEY,
		key TEXT NOT NULL UNIQUE,
		value TEXT NOT NULL,
		confidence REAL NOT NULL,
		source TEXT,
		updated_at TEXT NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS memory_episodes (
		id TEXT PRIMARY KEY,
		summary TEXT NOT NULL,
		outcome TEXT,
		action_type TEXT,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		severity TEXT NOT NULL,
		category TEXT NOT NULL,
		message TEXT NOT NULL,
		metadata_json TEXT,
		timestamp TEXT NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		severity TEXT NOT NULL,
		route TEXT NOT NULL,
		message TEXT NOT NULL,
		metadata_json TEXT,
		timestamp TEXT NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS self_mod_mutations (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		before_hash TEXT,
		after_hash TEXT NOT NULL,
		reason TEXT,
		created_at TEXT NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS rollback_points (
		id TEXT PRIMARY KEY,
		mutation_id TEXT NOT NULL REFERENCES self_mod_mutations(id),
		path TEXT NOT NULL,
		rollback_hash TEXT NOT NULL,
		created_at TEXT NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS emergency_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		enabled INTEGER NOT NULL,
		reason TEXT,
		updated_at TEXT NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS unlock_sessions (
		id TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		revoked_at TEXT
	);`,

	`CREATE TABLE IF NOT EXISTS survival_snapshots (
		id TEXT PRIMARY KEY,
		tier TEXT NOT NULL,
		estimated_usd INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`,

	`CREATE INDEX IF NOT EXISTS idx_messages_processed ON messages(processed_at);`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_severity_ts ON incidents(severity, timestamp);`,
	`CREATE INDEX IF NOT EXISTS idx_turns_timestamp ON turns(timestamp);`,
}

func checkSchemaVersion(got int) error {
	if got > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than this binary supports (%d)", got, schemaVersion)
	}
	return nil
}
