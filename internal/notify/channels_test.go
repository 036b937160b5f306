/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marcus-qen/legator/internal/types"
)

func TestWebhookChannel_Send(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)

		if r.Header.Get("X-Custom") != "test-value" {
			t.Errorf("missing custom header")
		}
		w.WriteHeader(200)
	}))
	defer server.Close()

	ch := NewWebhookChannel(server.URL, map[string]string{"X-Custom": "test-value"}, nil)
	err := ch.Send(context.Background(), &types.Alert{
		ID:        "a1",
		Code:      types.CodeAlertTriggered,
		Severity:  types.SeverityWarning,
		Message:   "queue backing up",
		Timestamp: time.Date(2026, 2, 20, 22, 0, 0, 0, time.UTC),
	})

	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if received["message"] != "queue backing up" {
		t.Errorf("message = %v, want %q", received["message"], "queue backing up")
	}
	if received["severity"] != string(types.SeverityWarning) {
		t.Errorf("severity = %v, want %v", received["severity"], types.SeverityWarning)
	}
}

func TestWebhookChannel_SendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		w.Write([]byte("internal error"))
	}))
	defer server.Close()

	ch := NewWebhookChannel(server.URL, nil, nil)
	err := ch.Send(context.Background(), &types.Alert{
		Code:     types.CodeAlertTriggered,
		Severity: types.SeverityInfo,
		Message:  "test",
	})

	if err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestWebhookChannel_Type(t *testing.T) {
	ch := NewWebhookChannel("http://example.invalid", nil, nil)
	if ch.Type() != "webhook" {
		t.Errorf("Type() = %q, want webhook", ch.Type())
	}
}

func TestWebhookChannel_SignsWhenSecretConfigured(t *testing.T) {
	var gotSig string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Legator-Signature")
		w.WriteHeader(200)
	}))
	defer server.Close()

	ch := NewWebhookChannel(server.URL, nil, []byte("shared-secret"))
	alert := &types.Alert{ID: "a2", Code: types.CodeAlertTriggered, Severity: types.SeverityCritical, Message: "dead tier"}
	if err := ch.Send(context.Background(), alert); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if gotSig == "" {
		t.Error("expected X-Legator-Signature header to be set")
	}
}
