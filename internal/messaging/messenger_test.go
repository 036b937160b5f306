/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package messaging

import (
	"context"
	"testing"

	"github.com/marcus-qen/legator/internal/types"
)

type fakeStore struct {
	messages []*types.Message
}

func (f *fakeStore) UpsertMessage(ctx context.Context, m *types.Message) error {
	f.messages = append(f.messages, m)
	return nil
}

func TestStoreMessengerSend(t *testing.T) {
	store := &fakeStore{}
	m := NewStoreMessenger(store, "0xparent")

	if err := m.Send(context.Background(), "0xchild", "hello", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(store.messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(store.messages))
	}
	got := store.messages[0]
	if got.From != "0xparent" || got.To != "0xchild" || got.Content != "hello" {
		t.Errorf("message = %+v, unexpected", got)
	}
}
