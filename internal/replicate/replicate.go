/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package replicate implements the replicate action's side effects
// (spec §4.5): allocate a sandbox directory for a child agent, generate
// it a fresh signer key, write its genesis and keystore files, record
// the lineage edge, and best-effort notify it with a lineage-init
// message. There is no real compute-provider integration here — the
// "sandbox" is a local directory under the parent's data dir, and
// funding is recorded but never actually transferred; wiring a live
// compute/funding backend is future work.
package replicate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/legator/internal/types"
	"github.com/marcus-qen/legator/internal/wallet"
)

// Store is the subset of the state store replication reads and writes.
type Store interface {
	KVGetJSON(ctx context.Context, key string, out interface{}) (bool, error)
	KVSetJSON(ctx context.Context, key string, v interface{}) error
	AppendMemoryEpisode(ctx context.Context, e *types.MemoryEpisode) error
}

// Messenger sends the lineage-init message to the newly spawned child.
// Optional: a nil Messenger just skips that step.
type Messenger interface {
	Send(ctx context.Context, to, content string, metadata map[string]interface{}) error
}

// genesis is written into the child's sandbox directory as genesis.json.
type genesis struct {
	ChildID             string    `json:"childId"`
	Name                string    `json:"name"`
	GenesisPrompt       string    `json:"genesisPrompt"`
	Parent              string    `json:"parent"`
	Creator             string    `json:"creator"`
	InitialFundingUsdc  string    `json:"initialFundingUsdc"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Replicator spawns child agents into local sandbox directories.
type Replicator struct {
	store         Store
	dataDir       string
	parentAddress string
	keystorePass  string
	messenger     Messenger
	log           logr.Logger
}

// New creates a Replicator. keystorePassphrase encrypts every spawned
// child's keystore; in production this should be distinct per child and
// escrowed out of band, but the runtime core only needs a working
// encrypt/decrypt round trip to satisfy the keystore file format.
func New(store Store, dataDir, parentAddress, keystorePassphrase string, messenger Messenger, log logr.Logger) *Replicator {
	return &Replicator{
		store:         store,
		dataDir:       dataDir,
		parentAddress: parentAddress,
		keystorePass:  keystorePassphrase,
		messenger:     messenger,
		log:           log.WithName("replicate"),
	}
}

// Replicate allocates a sandbox for plan and returns the new child's ID.
// Failures allocating the sandbox, generating or writing the child's
// keystore, or writing genesis.json are fatal; the lineage record and the
// lineage-init message are best-effort and logged on failure. The
// requested funding is only written into genesis.json.
func (r *Replicator) Replicate(ctx context.Context, plan map[string]interface{}) (string, error) {
	childID, err := randomID()
	if err != nil {
		return "", fmt.Errorf("generate child id: %w", err)
	}

	sandboxDir := filepath.Join(r.dataDir, "children", childID)
	if err := os.MkdirAll(sandboxDir, 0o755); err != nil {
		return "", fmt.Errorf("allocate sandbox: %w", err)
	}

	address, privateKey, err := wallet.GenerateKeypair()
	if err != nil {
		return "", fmt.Errorf("generate child signer: %w", err)
	}
	keystorePath := filepath.Join(sandboxDir, "keystore.json")
	if err := wallet.WriteKeystore(keystorePath, address, privateKey, r.keystorePass); err != nil {
		return "", fmt.Errorf("write child keystore: %w", err)
	}

	g := genesis{
		ChildID:            childID,
		Name:               stringParam(plan, "name", "aethernet-child"),
		GenesisPrompt:      stringParam(plan, "genesisPrompt", "You are a newly spawned autonomous agent. Await instructions."),
		Parent:             r.parentAddress,
		Creator:            r.parentAddress,
		InitialFundingUsdc: stringParam(plan, "initialFundingUsdc", "0"),
		CreatedAt:          time.Now().UTC(),
	}
	genesisBytes, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal genesis: %w", err)
	}
	if err := os.WriteFile(filepath.Join(sandboxDir, "genesis.json"), genesisBytes, 0o644); err != nil {
		return "", fmt.Errorf("write genesis: %w", err)
	}

	if err := r.recordLineage(ctx, childID, address); err != nil {
		r.log.Info("lineage edge record failed", "childId", childID, "error", err)
	}

	if r.messenger != nil {
		err := r.messenger.Send(ctx, address,
			fmt.Sprintf("lineage-init: spawned by %s", r.parentAddress),
			map[string]interface{}{"type": "lineage_init", "parent": r.parentAddress, "childId": childID})
		if err != nil {
			r.log.Info("lineage-init message failed", "childId", childID, "error", err)
		}
	}

	return childID, nil
}

func (r *Replicator) recordLineage(ctx context.Context, childID, childAddress string) error {
	var children []string
	if _, err := r.store.KVGetJSON(ctx, types.KVSelfChildID, &children); err != nil {
		return err
	}
	children = append(children, childID)
	if err := r.store.KVSetJSON(ctx, types.KVSelfChildID, children); err != nil {
		return err
	}
	return r.store.AppendMemoryEpisode(ctx, &types.MemoryEpisode{
		Summary:    fmt.Sprintf("spawned child %s (%s)", childID, childAddress),
		Outcome:    "ok",
		ActionType: "replicate",
		Metadata:   map[string]interface{}{"childId": childID, "childAddress": childAddress},
	})
}

func stringParam(plan map[string]interface{}, key, def string) string {
	if v, ok := plan[key].(string); ok && v != "" {
		return v
	}
	return def
}

func randomID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
