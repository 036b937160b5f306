/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package wallet

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/legator/internal/types"
)

type fakeStore struct {
	sessions []*types.UnlockSession
	revoked  int
	kv       map[string]string
}

func newFakeStore() *fakeStore { return &fakeStore{kv: map[string]string{}} }

func (f *fakeStore) CreateUnlockSession(ctx context.Context, s *types.UnlockSession) error {
	f.sessions = append(f.sessions, s)
	return nil
}

func (f *fakeStore) RevokeActiveSessions(ctx context.Context) error {
	f.revoked++
	return nil
}

func (f *fakeStore) KVGetJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	_, ok := f.kv[key]
	return ok, nil
}

func (f *fakeStore) KVSetJSON(ctx context.Context, key string, v interface{}) error {
	f.kv[key] = "1"
	return nil
}

func newTestKeystore(t *testing.T, passphrase string) (path, address string) {
	t.Helper()
	dir := t.TempDir()
	path = filepath.Join(dir, "keystore.json")
	address, priv, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}
	if err := WriteKeystore(path, address, priv, passphrase); err != nil {
		t.Fatalf("WriteKeystore() error = %v", err)
	}
	return path, address
}

func TestGenerateKeypairProducesDistinctKeys(t *testing.T) {
	addr1, key1, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	addr2, key2, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	if addr1 == addr2 {
		t.Error("two calls produced the same address")
	}
	if string(key1) == string(key2) {
		t.Error("two calls produced the same key")
	}
	if len(addr1) == 0 || addr1[:2] != "0x" {
		t.Errorf("address = %q, want 0x-prefixed", addr1)
	}
}

func TestWriteKeystoreAndReadAddress(t *testing.T) {
	path, address := newTestKeystore(t, "correct-horse-battery-1")

	got, err := ReadAddress(path)
	if err != nil {
		t.Fatalf("ReadAddress() error = %v", err)
	}
	if got != address {
		t.Errorf("ReadAddress() = %q, want %q", got, address)
	}
}

func TestReadAddressMissingFile(t *testing.T) {
	if _, err := ReadAddress("/nonexistent/keystore.json"); err == nil {
		t.Fatal("expected error for missing keystore")
	}
}

func TestUnlockAndLock(t *testing.T) {
	path, address := newTestKeystore(t, "correct-horse-battery-1")
	store := newFakeStore()
	sess := New(path, store, logr.Discard())

	if sess.IsUnlocked() {
		t.Fatal("session should start locked")
	}

	if err := sess.Unlock(context.Background(), "correct-horse-battery-1", 60); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if !sess.IsUnlocked() {
		t.Fatal("expected unlocked after Unlock()")
	}
	if sess.Address() != address {
		t.Errorf("Address() = %q, want %q", sess.Address(), address)
	}
	if len(store.sessions) != 1 {
		t.Errorf("unlock sessions recorded = %d, want 1", len(store.sessions))
	}

	if err := sess.Lock(context.Background()); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if sess.IsUnlocked() {
		t.Fatal("expected locked after Lock()")
	}
	if sess.Address() != "" {
		t.Errorf("Address() after lock = %q, want empty", sess.Address())
	}
	if store.revoked != 1 {
		t.Errorf("revoked calls = %d, want 1", store.revoked)
	}
}

func TestUnlockWrongPassphrase(t *testing.T) {
	path, _ := newTestKeystore(t, "correct-horse-battery-1")
	store := newFakeStore()
	sess := New(path, store, logr.Discard())

	if err := sess.Unlock(context.Background(), "wrong-passphrase-entirely", 60); err == nil {
		t.Fatal("expected error for wrong passphrase")
	}
	if sess.IsUnlocked() {
		t.Fatal("session should remain locked on failed unlock")
	}
}

func TestRotate(t *testing.T) {
	path, address := newTestKeystore(t, "correct-horse-battery-1")
	store := newFakeStore()
	sess := New(path, store, logr.Discard())

	if err := sess.Rotate(context.Background(), "correct-horse-battery-1", "new-correct-horse-2"); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	if err := sess.Unlock(context.Background(), "new-correct-horse-2", 60); err != nil {
		t.Fatalf("Unlock() with new passphrase error = %v", err)
	}
	if sess.Address() != address {
		t.Errorf("Address() after rotate = %q, want %q", sess.Address(), address)
	}
}

func TestRotateRejectsSamePassphrase(t *testing.T) {
	path, _ := newTestKeystore(t, "correct-horse-battery-1")
	sess := New(path, newFakeStore(), logr.Discard())

	if err := sess.Rotate(context.Background(), "correct-horse-battery-1", "correct-horse-battery-1"); err == nil {
		t.Fatal("expected error when new passphrase equals old")
	}
}

func TestRotateRejectsWeakPassphrase(t *testing.T) {
	path, _ := newTestKeystore(t, "correct-horse-battery-1")
	sess := New(path, newFakeStore(), logr.Discard())

	if err := sess.Rotate(context.Background(), "correct-horse-battery-1", "short1A"); err == nil {
		t.Fatal("expected error for passphrase under 12 characters")
	}
	if err := sess.Rotate(context.Background(), "correct-horse-battery-1", "alllowercase1"); err == nil {
		t.Fatal("expected error for passphrase spanning only 2 character classes")
	}
}
