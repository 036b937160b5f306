/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/marcus-qen/legator/internal/config"
)

// maxResponseBytes caps a readonly_api response body so a misbehaving
// upstream can't blow up the turn's context budget.
const maxResponseBytes = 8 * 1024

// ReadonlyAPIAdapter makes GET-only calls against a source's baseUrl,
// attaching a bearer token read from the source's configured env var
// (spec §4.2, §6). It never issues a mutating HTTP verb.
type ReadonlyAPIAdapter struct {
	client *http.Client
}

func NewReadonlyAPIAdapter() *ReadonlyAPIAdapter {
	return &ReadonlyAPIAdapter{client: &http.Client{Timeout: 10 * time.Second}}
}

func (a *ReadonlyAPIAdapter) Invoke(ctx context.Context, source config.ToolSource, toolName string, input map[string]interface{}) (map[string]interface{}, error) {
	if source.BaseURL == "" {
		return nil, fmt.Errorf("tool source %q has no baseUrl configured", source.ID)
	}

	reqURL := strings.TrimRight(source.BaseURL, "/") + "/v1/tools/" + url.PathEscape(toolName)
	if q := toQuery(input); q != "" {
		reqURL += "?" + q
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if source.AuthEnv != "" {
		if token := os.Getenv(source.AuthEnv); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", reqURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tool source %q returned %d: %s", source.ID, resp.StatusCode, truncate(body))
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err == nil {
		return decoded, nil
	}
	return map[string]interface{}{"text": string(body)}, nil
}

func toQuery(input map[string]interface{}) string {
	v := url.Values{}
	for k, val := range input {
		v.Set(k, fmt.Sprintf("%v", val))
	}
	return v.Encode()
}

func truncate(b []byte) string {
	if len(b) <= 500 {
		return string(b)
	}
	return string(b[:500]) + "..."
}
