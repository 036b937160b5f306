/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package selfmod

import (
	"context"
	"fmt"
	"time"

	"github.com/marcus-qen/legator/internal/coreerr"
)

const (
	rateLimitWindow   = time.Hour
	maxWritesInWindow = 6
)

// checkRateLimit enforces the rolling one-hour self-modification budget
// (spec §4.6 step 1): a read-only check against the persisted timestamp
// list. It never mutates state, so a refusal never consumes budget; the
// timestamp is recorded separately by recordRateLimitTimestamp, only once
// the write it gates has actually succeeded.
func (e *Engine) checkRateLimit(ctx context.Context, now time.Time) error {
	count, err := e.store.SelfModRateLimitCount(ctx, kvSelfModTimestamps, now, rateLimitWindow)
	if err != nil {
		return err
	}
	if count >= maxWritesInWindow {
		return fmt.Errorf("Self-modification denied: %d writes/hour limit exceeded: %w", maxWritesInWindow, coreerr.ErrRateLimited)
	}
	return nil
}

// recordRateLimitTimestamp appends now to the persisted rate-limit list
// (spec §4.6 step 9). Called only after the mutation's write has succeeded.
func (e *Engine) recordRateLimitTimestamp(ctx context.Context, now time.Time) error {
	return e.store.SelfModRecordRateLimitTimestamp(ctx, kvSelfModTimestamps, now, rateLimitWindow)
}
