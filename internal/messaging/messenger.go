/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package messaging backs the executor's send_message action. The runtime core treats the
// actual wallet-to-wallet messaging transport as pluggable (spec §4.9
// names it generically as "the messaging transport"); this package's
// StoreMessenger is the always-available local backend, recording
// outbound sends straight into the same mailbox table inbound messages
// land in, addressed from this agent. The package has no inbound side:
// no type here implements orchestrator.Transport, and the daemon passes
// the orchestrator a nil Transport.
package messaging

import (
	"context"
	"time"

	"github.com/marcus-qen/legator/internal/types"
)

// Store is the subset of the state store the local messenger writes
// outbound sends through.
type Store interface {
	UpsertMessage(ctx context.Context, m *types.Message) error
}

// StoreMessenger implements executor.Messenger by recording the send
// directly in the local mailbox, addressed from this agent.
type StoreMessenger struct {
	store Store
	from  string
}

// NewStoreMessenger creates a messenger that records every send as from
// the given agent address.
func NewStoreMessenger(store Store, from string) *StoreMessenger {
	return &StoreMessenger{store: store, from: from}
}

func (m *StoreMessenger) Send(ctx context.Context, to, content string, metadata map[string]interface{}) error {
	return m.store.UpsertMessage(ctx, &types.Message{
		From:       m.from,
		To:         to,
		Content:    content,
		ReceivedAt: time.Now().UTC(),
	})
}
