/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package wallet manages the agent's wallet session (spec §4.10): unlocking
// a keystore into an in-memory signer for a bounded TTL, locking it again,
// and rotating the keystore passphrase. The keystore's on-disk encryption
// format is treated as a black box decrypted with scrypt + NaCl secretbox;
// this package never constructs or broadcasts chain transactions itself.
package wallet

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"github.com/marcus-qen/legator/internal/coreerr"
	"github.com/marcus-qen/legator/internal/types"
)

const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

// Store is the subset of the state store the wallet session depends on.
type Store interface {
	CreateUnlockSession(ctx context.Context, s *types.UnlockSession) error
	RevokeActiveSessions(ctx context.Context) error
	KVGetJSON(ctx context.Context, key string, out interface{}) (bool, error)
	KVSetJSON(ctx context.Context, key string, v interface{}) error
}

// walletLockAuditKey holds the append-only list of wallet:lock audit
// timestamps, mirroring the self-mod rate-limit KV log's shape.
const walletLockAuditKey = "wallet_lock_audit_v1"

const maxWalletLockAuditEntries = 500

// keystoreFile is the on-disk encrypted keystore envelope.
type keystoreFile struct {
	Address    string `json:"address"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// signer holds decrypted key material in memory for the session duration.
// The decrypted plaintext is never logged or persisted.
type signer struct {
	address   string
	plaintext []byte
}

// Session is the wallet session manager. All methods are safe for
// concurrent use; unlock/lock/rotate serialize on an internal mutex so a
// concurrent tick never observes a half-applied state change.
type Session struct {
	mu           sync.Mutex
	keystorePath string
	store        Store
	log          logr.Logger

	signer         *signer
	unlockedUntil  time.Time
}

func New(keystorePath string, store Store, log logr.Logger) *Session {
	return &Session{keystorePath: keystorePath, store: store, log: log}
}

// Unlock decrypts the keystore with passphrase and holds the signer in
// memory until ttlSec elapses.
func (s *Session) Unlock(ctx context.Context, passphrase string, ttlSec int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ks, err := loadKeystore(s.keystorePath)
	if err != nil {
		return fmt.Errorf("load keystore: %w", err)
	}

	plaintext, err := decrypt(ks, passphrase)
	if err != nil {
		return fmt.Errorf("decrypt keystore: %w", err)
	}

	now := time.Now().UTC()
	until := now.Add(time.Duration(ttlSec) * time.Second)
	s.signer = &signer{address: ks.Address, plaintext: plaintext}
	s.unlockedUntil = until

	sess := &types.UnlockSession{
		Address:   ks.Address,
		CreatedAt: now,
		ExpiresAt: until,
	}
	if err := s.store.CreateUnlockSession(ctx, sess); err != nil {
		return fmt.Errorf("record unlock session: %w", err)
	}

	s.log.Info("wallet unlocked", "address", ks.Address, "until", until)
	return nil
}

// Lock discards the in-memory signer and revokes active sessions.
func (s *Session) Lock(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.signer != nil {
		zero(s.signer.plaintext)
		s.signer = nil
	}
	s.unlockedUntil = time.Time{}

	if err := s.store.RevokeActiveSessions(ctx); err != nil {
		return fmt.Errorf("revoke unlock sessions: %w", err)
	}
	if err := s.appendLockAudit(ctx); err != nil {
		return fmt.Errorf("append wallet:lock audit row: %w", err)
	}
	s.log.Info("wallet locked")
	return nil
}

// appendLockAudit records a wallet:lock audit row distinct from the
// session-revocation write, so the audit trail shows every lock event
// even across sessions that were never unlocked.
func (s *Session) appendLockAudit(ctx context.Context) error {
	var entries []time.Time
	_, _ = s.store.KVGetJSON(ctx, walletLockAuditKey, &entries)
	entries = append(entries, time.Now().UTC())
	if len(entries) > maxWalletLockAuditEntries {
		entries = entries[len(entries)-maxWalletLockAuditEntries:]
	}
	return s.store.KVSetJSON(ctx, walletLockAuditKey, entries)
}

// ReadAddress reads the agent's address straight off the on-disk keystore
// without decrypting it, for callers (agent identity in turn inputs,
// message senders) that only need the address and shouldn't have to
// unlock the wallet to get it. The keystore envelope's address field is
// stored in the clear by design.
func ReadAddress(keystorePath string) (string, error) {
	ks, err := loadKeystore(keystorePath)
	if err != nil {
		return "", fmt.Errorf("read keystore: %w", err)
	}
	return ks.Address, nil
}

// IsUnlocked reports whether a signer is held and the TTL has not elapsed.
func (s *Session) IsUnlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signer != nil && time.Now().UTC().Before(s.unlockedUntil)
}

// Address returns the unlocked signer's address, or "" if locked.
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signer == nil {
		return ""
	}
	return s.signer.address
}

// Rotate re-encrypts the keystore under a new passphrase. oldPassphrase
// must decrypt the existing keystore; newPassphrase must differ from it,
// be at least 12 characters, and span at least 3 character classes
// (spec §4.10).
func (s *Session) Rotate(ctx context.Context, oldPassphrase, newPassphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if oldPassphrase == newPassphrase {
		return fmt.Errorf("new passphrase must differ from the old one")
	}
	if err := validatePassphraseStrength(newPassphrase); err != nil {
		return err
	}

	ks, err := loadKeystore(s.keystorePath)
	if err != nil {
		return fmt.Errorf("load keystore: %w", err)
	}
	plaintext, err := decrypt(ks, oldPassphrase)
	if err != nil {
		return fmt.Errorf("decrypt keystore: %w", err)
	}
	defer zero(plaintext)

	newKs, err := encrypt(ks.Address, plaintext, newPassphrase)
	if err != nil {
		return fmt.Errorf("re-encrypt keystore: %w", err)
	}
	if err := saveKeystore(s.keystorePath, newKs); err != nil {
		return fmt.Errorf("save keystore: %w", err)
	}

	s.log.Info("wallet passphrase rotated", "address", ks.Address)
	return nil
}

// GenerateKeypair produces a fresh black-box address and private key
// material for a newly spawned child agent. Like the rest of this
// package, it never constructs real chain key material: the address and
// key are random byte strings the same shape a real keystore would
// carry, deferring actual chain-specific key derivation to whatever
// signs transactions downstream.
func GenerateKeypair() (address string, privateKey []byte, err error) {
	addrBytes := make([]byte, 20)
	if _, err := rand.Read(addrBytes); err != nil {
		return "", nil, fmt.Errorf("generate address: %w", err)
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", nil, fmt.Errorf("generate key: %w", err)
	}
	return "0x" + hex.EncodeToString(addrBytes), key, nil
}

// WriteKeystore encrypts privateKey under passphrase and writes it to
// path in this package's keystore envelope format.
func WriteKeystore(path, address string, privateKey []byte, passphrase string) error {
	ks, err := encrypt(address, privateKey, passphrase)
	if err != nil {
		return fmt.Errorf("encrypt keystore: %w", err)
	}
	return saveKeystore(path, ks)
}

func validatePassphraseStrength(p string) error {
	if len(p) < 12 {
		return fmt.Errorf("passphrase must be at least 12 characters")
	}
	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range p {
		switch {
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= '0' && r <= '9':
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	classes := 0
	for _, ok := range []bool{hasLower, hasUpper, hasDigit, hasSymbol} {
		if ok {
			classes++
		}
	}
	if classes < 3 {
		return fmt.Errorf("passphrase must span at least 3 character classes")
	}
	return nil
}

func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
}

func decrypt(ks *keystoreFile, passphrase string) ([]byte, error) {
	key, err := deriveKey(passphrase, ks.Salt)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	var keyArr [32]byte
	copy(keyArr[:], key)
	var nonceArr [24]byte
	copy(nonceArr[:], ks.Nonce)

	plaintext, ok := secretbox.Open(nil, ks.Ciphertext, &nonceArr, &keyArr)
	if !ok {
		return nil, coreerr.ErrWalletLocked
	}
	return plaintext, nil
}

func encrypt(address string, plaintext []byte, passphrase string) (*keystoreFile, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	var keyArr [32]byte
	copy(keyArr[:], key)

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	ciphertext := secretbox.Seal(nil, plaintext, &nonce, &keyArr)
	return &keystoreFile{Address: address, Salt: salt, Nonce: nonce[:], Ciphertext: ciphertext}, nil
}

func loadKeystore(path string) (*keystoreFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ks keystoreFile
	if err := json.Unmarshal(b, &ks); err != nil {
		return nil, err
	}
	return &ks, nil
}

func saveKeystore(path string, ks *keystoreFile) error {
	b, err := json.Marshal(ks)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
