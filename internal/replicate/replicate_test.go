/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package replicate

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/legator/internal/types"
)

type fakeStore struct {
	kv       map[string]string
	episodes []*types.MemoryEpisode
}

func newFakeStore() *fakeStore { return &fakeStore{kv: map[string]string{}} }

func (f *fakeStore) KVGetJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	raw, ok := f.kv[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal([]byte(raw), out)
}

func (f *fakeStore) KVSetJSON(ctx context.Context, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.kv[key] = string(b)
	return nil
}

func (f *fakeStore) AppendMemoryEpisode(ctx context.Context, e *types.MemoryEpisode) error {
	f.episodes = append(f.episodes, e)
	return nil
}

type fakeMessenger struct {
	sent int
}

func (m *fakeMessenger) Send(ctx context.Context, to, content string, metadata map[string]interface{}) error {
	m.sent++
	return nil
}

func TestReplicateCreatesSandbox(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore()
	msgr := &fakeMessenger{}
	r := New(store, dir, "0xparent", "a-strong-passphrase-123", msgr, logr.Discard())

	childID, err := r.Replicate(context.Background(), map[string]interface{}{"name": "test-child"})
	if err != nil {
		t.Fatalf("Replicate() error = %v", err)
	}
	if childID == "" {
		t.Fatal("expected non-empty child id")
	}

	sandboxDir := filepath.Join(dir, "children", childID)
	if _, err := os.Stat(filepath.Join(sandboxDir, "genesis.json")); err != nil {
		t.Errorf("genesis.json missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(sandboxDir, "keystore.json")); err != nil {
		t.Errorf("keystore.json missing: %v", err)
	}

	if len(store.episodes) != 1 {
		t.Errorf("episodes = %d, want 1", len(store.episodes))
	}
	if msgr.sent != 1 {
		t.Errorf("messenger sends = %d, want 1", msgr.sent)
	}

	var children []string
	if _, err := store.KVGetJSON(context.Background(), types.KVSelfChildID, &children); err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0] != childID {
		t.Errorf("lineage list = %v, want [%s]", children, childID)
	}
}

func TestReplicateNilMessengerIsOptional(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore()
	r := New(store, dir, "0xparent", "a-strong-passphrase-123", nil, logr.Discard())

	if _, err := r.Replicate(context.Background(), map[string]interface{}{}); err != nil {
		t.Fatalf("Replicate() error = %v", err)
	}
}

func TestReplicateDefaultsPlan(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore()
	r := New(store, dir, "0xparent", "a-strong-passphrase-123", nil, logr.Discard())

	childID, err := r.Replicate(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatalf("Replicate() error = %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "children", childID, "genesis.json"))
	if err != nil {
		t.Fatal(err)
	}
	var g genesis
	if err := json.Unmarshal(b, &g); err != nil {
		t.Fatal(err)
	}
	if g.Name != "aethernet-child" {
		t.Errorf("Name = %q, want default", g.Name)
	}
	if g.InitialFundingUsdc != "0" {
		t.Errorf("InitialFundingUsdc = %q, want 0", g.InitialFundingUsdc)
	}
}
