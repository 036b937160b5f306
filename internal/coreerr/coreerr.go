/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package coreerr holds the sentinel errors shared across the runtime core
// so callers can classify failures with errors.Is instead of matching on
// error strings.
package coreerr

import "errors"

var (
	// ErrEmergencyStopped is returned by the action executor when a mutating
	// action is attempted while emergency stop is engaged (spec §4.5 step 2).
	ErrEmergencyStopped = errors.New("emergency stop is engaged")

	// ErrSurvivalGated is returned when a mutating action is attempted while
	// the survival tier forbids it (spec §4.5 step 2).
	ErrSurvivalGated = errors.New("survival tier does not permit mutating actions")

	// ErrWalletLocked is returned when a chain-mutating action requires an
	// unlocked wallet session that is not present (spec §4.5 step 3).
	ErrWalletLocked = errors.New("wallet is locked")

	// ErrChainUnsupported is returned when the active chain profile does not
	// support the capability an action requires (spec §4.5 step 4).
	ErrChainUnsupported = errors.New("chain does not support this capability")

	// ErrSelfModifyDisabled is returned when self_modify actions are refused
	// by autonomy policy (spec §4.5 step 5).
	ErrSelfModifyDisabled = errors.New("self-modification is disabled by autonomy policy")

	// ErrRateLimited is returned when the self-modification rolling rate
	// limit has been exhausted (spec §4.6 step 1).
	ErrRateLimited = errors.New("self-modification rate limit exceeded")

	// ErrProtectedPath is returned when a self-modification targets a
	// protected path (spec §4.6 step 3).
	ErrProtectedPath = errors.New("path is protected from self-modification")

	// ErrOutOfScope is returned when a self-modification target resolves
	// outside the agent's writable scope (spec §4.6 step 4).
	ErrOutOfScope = errors.New("path is outside the agent's writable scope")

	// ErrAllowlistBlocked is returned when an action type is not in the
	// closed allowlist and strict mode is enabled (spec §4.4, §4.5 step 1).
	ErrAllowlistBlocked = errors.New("action type not allowed")
)
