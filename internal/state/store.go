/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package state is the durable record of turns, messages, memory,
// telemetry, incidents, alerts, rollbacks, and KV entries (spec §4.1). It
// is backed by a single-file SQLite database under data/state.db, opened
// with the pure-Go modernc.org/sqlite driver so the agent has no cgo or
// external-service dependency for its home directory persistence.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/marcus-qen/legator/internal/shared/security"
	"github.com/marcus-qen/legator/internal/types"
)

// Store is the state store handle. All methods are safe for concurrent use;
// SQLite's own locking plus WAL mode gives per-statement atomicity and at
// least read-committed isolation across the daemon loop and the local HTTP
// surface sharing one Store (spec §5).
type Store struct {
	db  *sql.DB
	log logr.Logger
}

// Open opens (creating if absent) the state database at path, runs
// migrations, and refuses to proceed if the on-disk schema is newer than
// this binary understands.
func Open(ctx context.Context, path string, log logr.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer file store; avoids SQLITE_BUSY churn

	s := &Store{db: db, log: log}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		log.V(1).Info("chmod state db failed", "error", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range migrations {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	row := tx.QueryRowContext(ctx, `SELECT version FROM schema_meta LIMIT 1`)
	var current int
	if err := row.Scan(&current); err == sql.ErrNoRows {
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_meta(version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("seed schema version: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	} else {
		if err := checkSchemaVersion(current); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func newID() string { return uuid.NewString() }

func toJSON(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func redactedMetadataJSON(m map[string]interface{}) (sql.NullString, error) {
	return toJSON(security.RedactMetadata(m))
}

// --- Turns ---

// InsertTurn persists a Turn row. Turns are immutable after insertion.
func (s *Store) InsertTurn(ctx context.Context, t *types.Turn) error {
	if t.ID == "" {
		t.ID = newID()
	}
	inputJSON, err := toJSON(t.Input)
	if err != nil {
		return fmt.Errorf("marshal turn input: %w", err)
	}
	outputJSON, err := toJSON(t.Output)
	if err != nil {
		return fmt.Errorf("marshal turn output: %w", err)
	}
	metaJSON, err := redactedMetadataJSON(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshal turn metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO turns(id, timestamp, state, input_json, output_json, metadata_json) VALUES (?,?,?,?,?,?)`,
		t.ID, t.Timestamp.UTC().Format(time.RFC3339Nano), string(t.State), inputJSON, outputJSON, metaJSON)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// RecentTurns returns up to limit most-recent turn summaries, newest first.
func (s *Store) RecentTurns(ctx context.Context, limit int) ([]types.TurnSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, metadata_json FROM turns ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	var out []types.TurnSummary
	for rows.Next() {
		var id, ts string
		var metaJSON sql.NullString
		if err := rows.Scan(&id, &ts, &metaJSON); err != nil {
			return nil, err
		}
		t, _ := time.Parse(time.RFC3339Nano, ts)
		summary := types.TurnSummary{ID: id, Timestamp: t}
		if metaJSON.Valid {
			var meta map[string]interface{}
			if json.Unmarshal([]byte(metaJSON.String), &meta) == nil {
				if v, ok := meta["summary"].(string); ok {
					summary.Summary = v
				}
				if v, ok := meta["actions"].([]interface{}); ok {
					for _, a := range v {
						if str, ok := a.(string); ok {
							summary.Actions = append(summary.Actions, str)
						}
					}
				}
			}
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

// --- Turn telemetry ---

func (s *Store) InsertTurnTelemetry(ctx context.Context, tt *types.TurnTelemetry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turn_telemetry(turn_id, survival_tier, estimated_usd, queue_depth, spend_proxy_usd, actions_total, action_failures, brain_duration_ms, brain_failures)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		tt.TurnID, string(tt.SurvivalTier), tt.EstimatedUSD, tt.QueueDepth, tt.SpendProxyUSD,
		tt.ActionsTotal, tt.ActionFailures, tt.BrainDurationMs, tt.BrainFailures)
	if err != nil {
		return fmt.Errorf("insert turn telemetry: %w", err)
	}
	return nil
}

// --- Messages ---

func (s *Store) UpsertMessage(ctx context.Context, m *types.Message) error {
	if m.ID == "" {
		m.ID = newID()
	}
	var processedAt interface{}
	if m.ProcessedAt != nil {
		processedAt = m.ProcessedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(id, sender, recipient, thread_id, content, received_at, processed_at)
		 VALUES (?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET processed_at=excluded.processed_at`,
		m.ID, m.From, m.To, m.ThreadID, m.Content, m.ReceivedAt.UTC().Format(time.RFC3339Nano), processedAt)
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// PollMessages returns up to limit unprocessed messages, oldest first.
func (s *Store) PollMessages(ctx context.Context, limit int) ([]types.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender, recipient, thread_id, content, received_at FROM messages
		 WHERE processed_at IS NULL ORDER BY received_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("poll messages: %w", err)
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		var m types.Message
		var threadID sql.NullString
		var receivedAt string
		if err := rows.Scan(&m.ID, &m.From, &m.To, &threadID, &m.Content, &receivedAt); err != nil {
			return nil, err
		}
		m.ThreadID = threadID.String
		m.ReceivedAt, _ = time.Parse(time.RFC3339Nano, receivedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkMessageProcessed sets processedAt exactly once for a message.
func (s *Store) MarkMessageProcessed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET processed_at=? WHERE id=? AND processed_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("mark message processed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("message %s already processed or missing", id)
	}
	return nil
}

// CountMessages returns the number of unprocessed messages (queue depth).
func (s *Store) CountMessages(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE processed_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// --- Memory ---

// UpsertMemoryFact writes by key; the newer write wins.
func (s *Store) UpsertMemoryFact(ctx context.Context, key, value string, confidence float64, source string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_facts(id, key, value, confidence, source, updated_at) VALUES (?,?,?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, confidence=excluded.confidence, source=excluded.source, updated_at=excluded.updated_at`,
		newID(), key, value, confidence, source, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert memory fact: %w", err)
	}
	return nil
}

func (s *Store) MemoryFacts(ctx context.Context, limit int) ([]types.MemoryFact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key, value, confidence, source, updated_at FROM memory_facts ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query memory facts: %w", err)
	}
	defer rows.Close()

	var out []types.MemoryFact
	for rows.Next() {
		var f types.MemoryFact
		var source sql.NullString
		var updatedAt string
		if err := rows.Scan(&f.ID, &f.Key, &f.Value, &f.Confidence, &source, &updatedAt); err != nil {
			return nil, err
		}
		f.Source = source.String
		f.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

// AppendMemoryEpisode appends an episode row; episodes are append-only.
func (s *Store) AppendMemoryEpisode(ctx context.Context, e *types.MemoryEpisode) error {
	if e.ID == "" {
		e.ID = newID()
	}
	metaJSON, err := redactedMetadataJSON(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal episode metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memory_episodes(id, summary, outcome, action_type, metadata_json, created_at) VALUES (?,?,?,?,?,?)`,
		e.ID, e.Summary, e.Outcome, e.ActionType, metaJSON, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append memory episode: %w", err)
	}
	return nil
}

func (s *Store) MemoryEpisodes(ctx context.Context, limit int) ([]types.MemoryEpisode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, summary, outcome, action_type, created_at FROM memory_episodes ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query memory episodes: %w", err)
	}
	defer rows.Close()

	var out []types.MemoryEpisode
	for rows.Next() {
		var e types.MemoryEpisode
		var outcome, actionType sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Summary, &outcome, &actionType, &createdAt); err != nil {
			return nil, err
		}
		e.Outcome = outcome.String
		e.ActionType = actionType.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Incidents & alerts ---

func (s *Store) InsertIncident(ctx context.Context, in *types.Incident) error {
	if in.ID == "" {
		in.ID = newID()
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}
	in.Message = security.Sanitize(in.Message)
	metaJSON, err := redactedMetadataJSON(in.Metadata)
	if err != nil {
		return fmt.Errorf("marshal incident metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO incidents(id, code, severity, category, message, metadata_json, timestamp) VALUES (?,?,?,?,?,?,?)`,
		in.ID, string(in.Code), string(in.Severity), in.Category, in.Message, metaJSON, in.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// CountCriticalIncidentsSince counts critical incidents within a lookback window.
func (s *Store) CountCriticalIncidentsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM incidents WHERE severity='critical' AND timestamp >= ?`,
		since.UTC().Format(time.RFC3339Nano)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count critical incidents: %w", err)
	}
	return n, nil
}

func (s *Store) InsertAlert(ctx context.Context, a *types.Alert) error {
	if a.ID == "" {
		a.ID = newID()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	a.Message = security.Sanitize(a.Message)
	metaJSON, err := redactedMetadataJSON(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal alert metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alerts(id, code, severity, route, message, metadata_json, timestamp) VALUES (?,?,?,?,?,?,?)`,
		a.ID, string(a.Code), string(a.Severity), string(a.Route), a.Message, metaJSON, a.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *Store) RecentIncidents(ctx context.Context, limit int) ([]types.Incident, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, severity, category, message, timestamp FROM incidents ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()
	var out []types.Incident
	for rows.Next() {
		var in types.Incident
		var ts string
		if err := rows.Scan(&in.ID, &in.Code, &in.Severity, &in.Category, &in.Message, &ts); err != nil {
			return nil, err
		}
		in.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]types.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, severity, route, message, timestamp FROM alerts ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()
	var out []types.Alert
	for rows.Next() {
		var a types.Alert
		var ts string
		if err := rows.Scan(&a.ID, &a.Code, &a.Severity, &a.Route, &a.Message, &ts); err != nil {
			return nil, err
		}
		a.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Self-mod ---

func (s *Store) InsertSelfModMutation(ctx context.Context, m *types.SelfModMutation) error {
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO self_mod_mutations(id, path, before_hash, after_hash, reason, created_at) VALUES (?,?,?,?,?,?)`,
		m.ID, m.Path, nullable(m.BeforeHash), m.AfterHash, nullable(m.Reason), m.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert self-mod mutation: %w", err)
	}
	return nil
}

func (s *Store) InsertRollbackPoint(ctx context.Context, r *types.RollbackPoint) error {
	if r.ID == "" {
		r.ID = newID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rollback_points(id, mutation_id, path, rollback_hash, created_at) VALUES (?,?,?,?,?)`,
		r.ID, r.MutationID, r.Path, r.RollbackHash, r.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert rollback point: %w", err)
	}
	return nil
}

// LatestRollbackPoint returns the most recent rollback point for a path.
func (s *Store) LatestRollbackPoint(ctx context.Context, path string) (*types.RollbackPoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, mutation_id, path, rollback_hash, created_at FROM rollback_points
		 WHERE path = ? ORDER BY created_at DESC LIMIT 1`, path)
	var r types.RollbackPoint
	var createdAt string
	if err := row.Scan(&r.ID, &r.MutationID, &r.Path, &r.RollbackHash, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query rollback point: %w", err)
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &r, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// --- Emergency state ---

func (s *Store) GetEmergencyState(ctx context.Context) (*types.EmergencyState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT enabled, reason, updated_at FROM emergency_state WHERE id=1`)
	var enabled int
	var reason sql.NullString
	var updatedAt sql.NullString
	if err := row.Scan(&enabled, &reason, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return &types.EmergencyState{Enabled: false}, nil
		}
		return nil, fmt.Errorf("query emergency state: %w", err)
	}
	st := &types.EmergencyState{Enabled: enabled != 0, Reason: reason.String}
	if updatedAt.Valid {
		st.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt.String)
	}
	return st, nil
}

func (s *Store) SetEmergencyStop(ctx context.Context, enabled bool, reason string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO emergency_state(id, enabled, reason, updated_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET enabled=excluded.enabled, reason=excluded.reason, updated_at=excluded.updated_at`,
		boolToInt(enabled), nullable(reason), now)
	if err != nil {
		return fmt.Errorf("set emergency stop: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- Survival snapshots ---

func (s *Store) InsertSurvivalSnapshot(ctx context.Context, tier types.SurvivalTier, estimatedUSD int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO survival_snapshots(id, tier, estimated_usd, created_at) VALUES (?,?,?,?)`,
		newID(), string(tier), estimatedUSD, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert survival snapshot: %w", err)
	}
	return nil
}

type SurvivalSnapshot struct {
	Tier         types.SurvivalTier
	EstimatedUSD int64
	CreatedAt    time.Time
}

func (s *Store) GetLatestSurvivalSnapshot(ctx context.Context) (*SurvivalSnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT tier, estimated_usd, created_at FROM survival_snapshots ORDER BY created_at DESC LIMIT 1`)
	var snap SurvivalSnapshot
	var createdAt string
	if err := row.Scan(&snap.Tier, &snap.EstimatedUSD, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query survival snapshot: %w", err)
	}
	snap.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &snap, nil
}

// --- Unlock sessions ---

func (s *Store) CreateUnlockSession(ctx context.Context, sess *types.UnlockSession) error {
	if sess.ID == "" {
		sess.ID = newID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO unlock_sessions(id, address, created_at, expires_at) VALUES (?,?,?,?)`,
		sess.ID, sess.Address, sess.CreatedAt.UTC().Format(time.RFC3339Nano), sess.ExpiresAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create unlock session: %w", err)
	}
	return nil
}

// RevokeActiveSessions revokes every unlock session without a revokedAt.
func (s *Store) RevokeActiveSessions(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE unlock_sessions SET revoked_at=? WHERE revoked_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("revoke unlock sessions: %w", err)
	}
	return nil
}

// --- KV ---

func (s *Store) KVGet(ctx context.Context, key string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=?`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("kv get: %w", err)
	}
	return v, true, nil
}

func (s *Store) KVSet(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv(key, value) VALUES (?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("kv set: %w", err)
	}
	return nil
}

func (s *Store) KVGetJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	v, ok, err := s.KVGet(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal([]byte(v), out); err != nil {
		return true, fmt.Errorf("kv json unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) KVSetJSON(ctx context.Context, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv json marshal %s: %w", key, err)
	}
	return s.KVSet(ctx, key, string(b))
}

// WithTx runs fn inside a transaction, used by the self-mod rate limiter to
// read-filter-write the KV timestamp list atomically (spec §5).
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// SelfModRateLimitCount prunes entries outside window and reports how many
// self-modification timestamps remain under key, without mutating the
// persisted list (spec §4.6 step 1: a refusal never consumes budget).
func (s *Store) SelfModRateLimitCount(ctx context.Context, key string, now time.Time, window time.Duration) (int, error) {
	var raw []int64
	ok, err := s.KVGetJSON(ctx, key, &raw)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	cutoff := now.Add(-window)
	count := 0
	for _, ts := range raw {
		if time.Unix(ts, 0).UTC().After(cutoff) {
			count++
		}
	}
	return count, nil
}

// SelfModRecordRateLimitTimestamp atomically prunes expired entries and
// appends now to the persisted timestamp list under key. Callers record the
// timestamp only after the mutation it accounts for has succeeded (spec
// §4.6 step 9); the read-prune-write sequence runs inside one transaction so
// concurrent appends never drop each other's timestamps. The budget check
// (SelfModRateLimitCount) is a separate read outside that transaction.
func (s *Store) SelfModRecordRateLimitTimestamp(ctx context.Context, key string, now time.Time, window time.Duration) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var v sql.NullString
		row := tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=?`, key)
		if err := row.Scan(&v); err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("kv get: %w", err)
		}
		var raw []int64
		if v.Valid && v.String != "" {
			if err := json.Unmarshal([]byte(v.String), &raw); err != nil {
				return fmt.Errorf("kv json unmarshal %s: %w", key, err)
			}
		}
		cutoff := now.Add(-window)
		kept := make([]int64, 0, len(raw)+1)
		for _, ts := range raw {
			if time.Unix(ts, 0).UTC().After(cutoff) {
				kept = append(kept, ts)
			}
		}
		kept = append(kept, now.Unix())
		b, err := json.Marshal(kept)
		if err != nil {
			return fmt.Errorf("kv json marshal %s: %w", key, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO kv(key, value) VALUES (?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
			key, string(b))
		if err != nil {
			return fmt.Errorf("kv set: %w", err)
		}
		return nil
	})
}
