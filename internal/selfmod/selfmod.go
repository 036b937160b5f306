/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package selfmod implements the self-modification engine (spec §4.6): a
// rate-limited, scope-checked, atomic file writer the brain can use to
// change its own on-disk configuration or skill files, with a deterministic
// rollback path for every mutation it makes.
package selfmod

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/legator/internal/coreerr"
	"github.com/marcus-qen/legator/internal/metrics"
	"github.com/marcus-qen/legator/internal/telemetry"
	"github.com/marcus-qen/legator/internal/types"
)

const kvSelfModTimestamps = types.KVSelfModTimestamps

// Store is the subset of the state store the self-mod engine depends on.
type Store interface {
	KVGet(ctx context.Context, key string) (string, bool, error)
	KVSet(ctx context.Context, key, value string) error
	SelfModRateLimitCount(ctx context.Context, key string, now time.Time, window time.Duration) (int, error)
	SelfModRecordRateLimitTimestamp(ctx context.Context, key string, now time.Time, window time.Duration) error
	InsertSelfModMutation(ctx context.Context, m *types.SelfModMutation) error
	InsertRollbackPoint(ctx context.Context, r *types.RollbackPoint) error
	LatestRollbackPoint(ctx context.Context, path string) (*types.RollbackPoint, error)
}

// Engine applies and rolls back self-modification writes.
type Engine struct {
	store      Store
	log        logr.Logger
	engine     *protectionEngine
	scopeRoots []string // absolute, cleaned directories a write must resolve under
	dataDir    string    // rollbacks live under <dataDir>/rollbacks
}

// Config configures the self-mod engine's scope and protected paths.
type Config struct {
	ProtectedPaths []string
	ScopeRoots     []string // e.g. the agent's home directory and cwd
	DataDir        string   // holds the rollbacks/ directory
}

func New(store Store, cfg Config, log logr.Logger) *Engine {
	roots := make([]string, 0, len(cfg.ScopeRoots))
	for _, r := range cfg.ScopeRoots {
		if abs, err := filepath.Abs(r); err == nil {
			roots = append(roots, filepath.Clean(abs))
		}
	}
	return &Engine{
		store:      store,
		log:        log,
		engine:     newProtectionEngine(cfg.ProtectedPaths),
		scopeRoots: roots,
		dataDir:    cfg.DataDir,
	}
}

// Mutation is the write a brain-emitted self_modify action requests.
type Mutation struct {
	Path    string
	Content []byte
	Reason  string
}

// Result reports what happened after Apply.
type Result struct {
	MutationID string
	BeforeHash string
	AfterHash  string
}

// Apply runs the full self-modification procedure (spec §4.6 steps 1-10):
// rate limit, path resolution, protected-path check, scope check, read
// pre-image, write atomically with restrictive permissions, record the
// rate-limit timestamp, hash, persist the mutation row and a rollback
// point, and record the backup sentinel.
func (e *Engine) Apply(ctx context.Context, m Mutation) (result *Result, err error) {
	now := time.Now().UTC()
	ctx, span := telemetry.StartSelfModSpan(ctx, m.Path)
	defer func() {
		telemetry.EndSelfModSpan(span, err == nil, false)
	}()

	if err = e.checkRateLimit(ctx, now); err != nil {
		return nil, err
	}

	absPath, err := resolvePath(m.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	if blocked, reason := e.engine.Blocked(absPath); blocked {
		return nil, fmt.Errorf("%w: %s (%s)", coreerr.ErrProtectedPath, absPath, reason)
	}

	if !e.inScope(absPath) {
		return nil, fmt.Errorf("%w: %s", coreerr.ErrOutOfScope, absPath)
	}

	before, existed, err := readIfExists(absPath)
	if err != nil {
		return nil, fmt.Errorf("read pre-image: %w", err)
	}

	if err = atomicWrite(absPath, m.Content, 0o600); err != nil {
		return nil, fmt.Errorf("write mutation: %w", err)
	}
	if err = e.recordRateLimitTimestamp(ctx, now); err != nil {
		return nil, fmt.Errorf("record rate limit: %w", err)
	}

	mutationID := hashHex(absPath, now)
	afterHash := hashHex(m.Content, now)

	backupKey := types.SelfModBackupKey(mutationID)
	if !existed {
		if err := e.store.KVSet(ctx, backupKey, types.DeleteSentinel); err != nil {
			return nil, fmt.Errorf("record backup sentinel: %w", err)
		}
	} else {
		backupPath, err := e.writeBackup(absPath, now, before)
		if err != nil {
			return nil, fmt.Errorf("write backup: %w", err)
		}
		if err := e.store.KVSet(ctx, backupKey, backupPath); err != nil {
			return nil, fmt.Errorf("record backup path: %w", err)
		}
	}

	beforeHash := ""
	if existed {
		beforeHash = hashHex(before, time.Time{})
	}

	mutation := &types.SelfModMutation{
		ID:         mutationID,
		Path:       absPath,
		BeforeHash: beforeHash,
		AfterHash:  afterHash,
		Reason:     m.Reason,
		CreatedAt:  now,
	}
	if err := e.store.InsertSelfModMutation(ctx, mutation); err != nil {
		return nil, fmt.Errorf("persist mutation: %w", err)
	}

	rollback := &types.RollbackPoint{
		MutationID:   mutationID,
		Path:         absPath,
		RollbackHash: beforeHash,
		CreatedAt:    now,
	}
	if err := e.store.InsertRollbackPoint(ctx, rollback); err != nil {
		return nil, fmt.Errorf("persist rollback point: %w", err)
	}

	e.log.Info("self-modification applied", "path", absPath, "mutationId", mutationID)
	metrics.RecordSelfModWrite()
	return &Result{MutationID: mutationID, BeforeHash: beforeHash, AfterHash: afterHash}, nil
}

// Rollback restores path to its state before its most recent mutation,
// using the backup sentinel recorded at write time: __DELETE__ means the
// path did not exist before and is removed; otherwise the backup file
// content is copied back into place.
func (e *Engine) Rollback(ctx context.Context, path string) error {
	absPath, err := resolvePath(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	rp, err := e.store.LatestRollbackPoint(ctx, absPath)
	if err != nil {
		return fmt.Errorf("lookup rollback point: %w", err)
	}
	if rp == nil {
		return fmt.Errorf("no rollback point recorded for %s", absPath)
	}

	backupKey := types.SelfModBackupKey(rp.MutationID)
	backupVal, ok, err := e.store.KVGet(ctx, backupKey)
	if err != nil {
		return fmt.Errorf("read backup sentinel: %w", err)
	}
	if !ok {
		return fmt.Errorf("no backup sentinel for mutation %s", rp.MutationID)
	}

	if backupVal == types.DeleteSentinel {
		if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove mutated file: %w", err)
		}
		return nil
	}

	content, err := os.ReadFile(backupVal)
	if err != nil {
		return fmt.Errorf("read backup file: %w", err)
	}
	return atomicWrite(absPath, content, 0o600)
}

func (e *Engine) inScope(absPath string) bool {
	for _, root := range e.scopeRoots {
		if absPath == root || isSubPath(root, absPath) {
			return true
		}
	}
	return false
}

func isSubPath(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0:2] == ".." && (len(rel) == 2 || rel[2] == filepath.Separator)
}

func resolvePath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

func readIfExists(path string) ([]byte, bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

// atomicWrite writes content to a temp file in the same directory then
// renames it into place, so a concurrent reader never observes a partial
// write (spec §4.6 step 6).
func atomicWrite(path string, content []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".selfmod-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// writeBackup stores the pre-image under <dataDir>/rollbacks, named
// <basename-sanitized>.<epoch-ms>.bak (spec §4.6 step 7, §6).
func (e *Engine) writeBackup(originalPath string, now time.Time, content []byte) (string, error) {
	backupDir := filepath.Join(e.dataDir, "rollbacks")
	if err := os.MkdirAll(backupDir, 0o700); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s.%d.bak", sanitizeBasename(filepath.Base(originalPath)), now.UnixMilli())
	backupPath := filepath.Join(backupDir, name)
	if err := atomicWrite(backupPath, content, 0o600); err != nil {
		return "", err
	}
	return backupPath, nil
}

// sanitizeBasename replaces anything but letters, digits, dot, dash, and
// underscore so a backup filename never escapes the rollbacks directory
// or collides with shell metacharacters.
func sanitizeBasename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}

func hashHex(data interface{}, salt time.Time) string {
	h := sha256.New()
	switch v := data.(type) {
	case []byte:
		h.Write(v)
	case string:
		h.Write([]byte(v))
	}
	if !salt.IsZero() {
		h.Write([]byte(salt.Format(time.RFC3339Nano)))
	}
	return hex.EncodeToString(h.Sum(nil))
}
