/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package brain is the HTTP client for the agent's language-model backend
// (spec §4.3): it builds one request per turn, retries on transient
// failures with exponential backoff, and parses the response into a
// TurnOutput, falling back to safe defaults when the response cannot be
// trusted.
package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/legator/internal/telemetry"
	"github.com/marcus-qen/legator/internal/types"
)

// provider labels the gen_ai.system attribute on the brain-call span. The
// wire protocol is a generic OpenAI-Responses-shaped HTTP API, not any one
// vendor's SDK, so this names the protocol rather than a specific vendor.
const provider = "legator-brain-http"

// retryableStatus is the closed set of HTTP statuses worth retrying
// (spec §4.3): request timeout, conflict, too-early, rate-limited, and the
// 5xx statuses a load balancer or upstream commonly returns transiently.
var retryableStatus = map[int]bool{
	408: true, 409: true, 425: true, 429: true,
	500: true, 502: true, 503: true, 504: true,
}

const maxBackoffMs = 30000

// Config configures the brain client.
type Config struct {
	Model           string
	APIURL          string
	APIKeyEnv       string
	Temperature     float64
	MaxOutputTokens int
	TimeoutMs       int
	MaxRetries      int
	RetryBackoffMs  int
}

// Client calls the configured brain backend.
type Client struct {
	cfg    Config
	apiKey string
	http   *http.Client
	log    logr.Logger
}

func New(cfg Config, log logr.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		apiKey: os.Getenv(cfg.APIKeyEnv),
		http:   &http.Client{Timeout: timeout},
		log:    log,
	}
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type requestMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type wireRequest struct {
	Model           string           `json:"model"`
	Temperature     float64          `json:"temperature"`
	MaxOutputTokens int              `json:"max_output_tokens"`
	Input           []requestMessage `json:"input"`
}

// wireResponse accepts either shape the brain backend may reply with: a
// flat output_text, or the nested output[].content[].text form.
type wireResponse struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
	Error string `json:"error,omitempty"`
}

// text returns the first non-empty text payload from either response shape.
func (w wireResponse) text() string {
	if w.OutputText != "" {
		return w.OutputText
	}
	for _, o := range w.Output {
		for _, c := range o.Content {
			if c.Text != "" {
				return c.Text
			}
		}
	}
	return ""
}

// Call sends one turn's context to the brain and returns a validated-shape
// TurnOutput. It never returns an error for a malformed or empty model
// response: those are reported via Integrity so the turn validator (spec
// §4.4) can apply its own truncation and fallback rules. An error return
// means the request itself could not be completed (network, auth, timeout).
func (c *Client) Call(ctx context.Context, systemPrompt string, input *types.TurnInput) (out *types.TurnOutput, err error) {
	ctx, span := telemetry.StartBrainCallSpan(ctx, c.cfg.Model, provider)
	var inputTokens, outputTokens int64
	defer func() {
		actionCount := 0
		if out != nil {
			actionCount = len(out.NextActions)
		}
		if err != nil {
			span.RecordError(err)
		}
		telemetry.EndBrainCallSpan(span, inputTokens, outputTokens, actionCount)
	}()

	if c.apiKey == "" {
		return missingAPIKeyOutput(), nil
	}

	userJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal turn input: %w", err)
	}

	req := wireRequest{
		Model:           c.cfg.Model,
		Temperature:     c.cfg.Temperature,
		MaxOutputTokens: c.cfg.MaxOutputTokens,
		Input: []requestMessage{
			{Role: "system", Content: []contentPart{{Type: "input_text", Text: systemPrompt}}},
			{Role: "user", Content: []contentPart{{Type: "input_text", Text: string(userJSON)}}},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal brain request: %w", err)
	}

	respBody, err := c.doWithRetry(ctx, body)
	if err != nil {
		return nil, err
	}

	var wire wireResponse
	if jsonErr := json.Unmarshal(respBody, &wire); jsonErr == nil {
		inputTokens, outputTokens = wire.Usage.InputTokens, wire.Usage.OutputTokens
	}

	out = parseOutput(respBody)
	return out, nil
}

func (c *Client) doWithRetry(ctx context.Context, body []byte) ([]byte, error) {
	maxRetries := c.cfg.MaxRetries
	backoffBase := c.cfg.RetryBackoffMs
	if backoffBase < 100 {
		backoffBase = 100
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		if attempt > 1 {
			delay := time.Duration(math.Min(
				float64(backoffBase)*math.Pow(2, float64(attempt-2)),
				float64(maxBackoffMs),
			)) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create brain request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("brain request failed: %w", err)
			c.log.V(1).Info("brain request attempt failed", "attempt", attempt, "error", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read brain response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return respBody, nil
		}

		lastErr = fmt.Errorf("brain backend returned %d: %s", resp.StatusCode, truncate(string(respBody), 500))
		if !retryableStatus[resp.StatusCode] {
			return nil, lastErr
		}
		c.log.V(1).Info("brain request retryable failure", "attempt", attempt, "status", resp.StatusCode)
	}

	return nil, lastErr
}

// parseOutput applies strict-then-lenient JSON parsing (spec §4.3): first
// try the exact TurnOutput shape, then fall back to extracting a top-level
// JSON object and re-decoding it loosely. A response that survives neither
// pass is reported malformed with no actions.
func parseOutput(respBody []byte) *types.TurnOutput {
	var wire wireResponse
	text := ""
	if err := json.Unmarshal(respBody, &wire); err == nil {
		text = wire.text()
	}
	if text == "" {
		return malformedOutput()
	}

	var out types.TurnOutput
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		out.Integrity = types.IntegrityOK
		return sanitizeOutput(&out)
	}

	if obj := extractJSONObject(text); obj != "" {
		var lenient types.TurnOutput
		if err := json.Unmarshal([]byte(obj), &lenient); err == nil {
			lenient.Integrity = types.IntegrityOK
			return sanitizeOutput(&lenient)
		}
	}

	return malformedOutput()
}

// extractJSONObject returns the first balanced {...} span in s, or "".
func extractJSONObject(s string) string {
	start := -1
	depth := 0
	for i, r := range s {
		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

// sanitizeOutput drops actions with an empty type (the turn validator
// still applies the allowlist and structural checks) and marks the output
// malformed when no actions remain and the summary is empty.
func sanitizeOutput(out *types.TurnOutput) *types.TurnOutput {
	var kept []types.Action
	for _, a := range out.NextActions {
		if a.Type == "" {
			continue
		}
		kept = append(kept, a)
	}
	out.NextActions = kept
	if len(kept) == 0 && out.Summary == "" {
		out.Integrity = types.IntegrityMalformed
	}
	return out
}

func malformedOutput() *types.TurnOutput {
	return &types.TurnOutput{
		Summary:     "",
		NextActions: nil,
		Integrity:   types.IntegrityMalformed,
	}
}

// missingAPIKeyOutput is returned when no API key is configured for the
// brain backend (spec §4.3 step 1): a deliberate noop rather than a
// malformed response, since the brain was never actually called.
func missingAPIKeyOutput() *types.TurnOutput {
	return &types.TurnOutput{
		Summary:     "brain API key not configured",
		NextActions: []types.Action{{Type: types.ActionNoop, Reason: "missing_api_key"}},
		Integrity:   types.IntegrityOK,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
