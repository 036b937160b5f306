/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package notify delivers survival alerts to the operator-configured
// webhook. AlertingConfig exposes a single delivery surface
// (webhookUrl); the runtime has no Slack, Telegram, or email
// configuration, so this package carries only the generic webhook
// channel the config schema can actually address.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/marcus-qen/legator/internal/shared/signing"
	"github.com/marcus-qen/legator/internal/types"
)

// Channel delivers an Alert to an external system. Implementations must
// be safe for concurrent use.
type Channel interface {
	Send(ctx context.Context, a *types.Alert) error
	Type() string
}

// WebhookChannel POSTs the alert as JSON to a fixed URL, with optional
// static headers (e.g. a bearer token for an authenticated collector).
// When a secret is configured, the body is HMAC-signed and the signature
// carried in X-Legator-Signature so the receiver can verify the alert
// actually came from this agent.
type WebhookChannel struct {
	URL     string
	Headers map[string]string
	signer  *signing.Signer
	client  *http.Client
}

// NewWebhookChannel creates a webhook delivery channel with a bounded
// request timeout. secret may be nil/empty to skip signing.
func NewWebhookChannel(url string, headers map[string]string, secret []byte) *WebhookChannel {
	w := &WebhookChannel{
		URL:     url,
		Headers: headers,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	if len(secret) > 0 {
		w.signer = signing.NewSigner(secret)
	}
	return w
}

func (w *WebhookChannel) Type() string { return "webhook" }

func (w *WebhookChannel) Send(ctx context.Context, a *types.Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}
	if w.signer != nil {
		sig, err := w.signer.Sign(a.ID, a)
		if err != nil {
			return fmt.Errorf("sign alert: %w", err)
		}
		req.Header.Set("X-Legator-Signature", sig)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
