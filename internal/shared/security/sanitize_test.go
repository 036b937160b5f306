/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package security

import (
	"strings"
	"testing"
)

func TestSanitize_BearerToken(t *testing.T) {
	input := `Authorization header carried Bearer eyJhbGciOiJSUzI1NiIsImtpZCI6IkRFIn0.sig`
	result := Sanitize(input)
	if strings.Contains(result, "eyJ") {
		t.Errorf("bearer token not sanitized: %s", result)
	}
	if !strings.Contains(result, "[REDACTED]") {
		t.Errorf("expected [REDACTED] in output: %s", result)
	}
}

func TestSanitize_HexSignature(t *testing.T) {
	input := "tx hash 0x" + strings.Repeat("ab", 32) + " confirmed"
	result := Sanitize(input)
	if strings.Contains(result, strings.Repeat("ab", 32)) {
		t.Errorf("0x-prefixed 64 hex digest not sanitized: %s", result)
	}
}

func TestSanitize_ShortHexPreserved(t *testing.T) {
	input := "short value 0xdeadbeef stays"
	result := Sanitize(input)
	if result != input {
		t.Errorf("short hex incorrectly redacted: %q", result)
	}
}

func TestSanitize_SignatureHeader(t *testing.T) {
	input := "x-request-signature: abcdef0123456789 ok"
	result := Sanitize(input)
	if strings.Contains(result, "abcdef0123456789") {
		t.Errorf("signature header not sanitized: %s", result)
	}
}

func TestSanitize_PreservesNormalText(t *testing.T) {
	input := `turn completed: 2 actions executed, queue depth 3`
	result := Sanitize(input)
	if result != input {
		t.Errorf("normal text was modified: %q -> %q", input, result)
	}
}

func TestContainsSecret(t *testing.T) {
	tests := []struct {
		text     string
		expected bool
	}{
		{"just normal text", false},
		{"Bearer eyJhbGciOiJSUzI1NiJ9.eyJ.sig", true},
		{"0x" + strings.Repeat("11", 32), true},
		{"queue depth is fine", false},
	}

	for _, tt := range tests {
		got := ContainsSecret(tt.text)
		if got != tt.expected {
			t.Errorf("ContainsSecret(%q) = %v, want %v", tt.text, got, tt.expected)
		}
	}
}

func TestSanitizeActionResult_Truncation(t *testing.T) {
	input := "some normal text that is longer than the limit"
	result := SanitizeActionResult(input, 20)
	if len(result) > 40 {
		t.Errorf("result too long: %d chars", len(result))
	}
	if !strings.Contains(result, "(truncated)") {
		t.Error("expected truncation marker")
	}
}

func TestSanitizeActionResult_NoTruncation(t *testing.T) {
	input := "short"
	result := SanitizeActionResult(input, 100)
	if result != input {
		t.Errorf("expected %q, got %q", input, result)
	}
}

func TestSanitizeMap(t *testing.T) {
	m := map[string]string{
		"endpoint":     "https://api.example.com",
		"api_token":    "secret-value-123",
		"namespace":    "default",
		"passphrase":   "hunter2",
		"normal_field": "Bearer eyJhbGciOiJSUzI1NiJ9.eyJpc3MiOiJrOHMifQ.sig123",
	}

	result := SanitizeMap(m)

	if result["endpoint"] != "https://api.example.com" {
		t.Errorf("endpoint modified: %s", result["endpoint"])
	}
	if result["api_token"] != "[REDACTED]" {
		t.Errorf("api_token not redacted: %s", result["api_token"])
	}
	if result["namespace"] != "default" {
		t.Errorf("namespace modified: %s", result["namespace"])
	}
	if result["passphrase"] != "[REDACTED]" {
		t.Errorf("passphrase not redacted: %s", result["passphrase"])
	}
	if strings.Contains(result["normal_field"], "eyJhbG") {
		t.Error("bearer token in normal_field not sanitized")
	}
}

func TestIsSecretKey(t *testing.T) {
	tests := []struct {
		key      string
		expected bool
	}{
		{"passphrase", true},
		{"PRIVATE_KEY", true},
		{"api_key", true},
		{"apiKey", true},
		{"ciphertext", true},
		{"salt", true},
		{"iv", true},
		{"tag", true},
		{"signature", true},
		{"authorization", true},
		{"endpoint", false},
		{"namespace", false},
		{"name", false},
	}

	for _, tt := range tests {
		got := IsSecretKey(tt.key)
		if got != tt.expected {
			t.Errorf("IsSecretKey(%q) = %v, want %v", tt.key, got, tt.expected)
		}
	}
}

func TestRedactMetadata_Nested(t *testing.T) {
	m := map[string]interface{}{
		"note": "contains Bearer eyJhbGciOiJSUzI1NiJ9.eyJ.sig",
		"auth": map[string]interface{}{
			"token": "should-not-survive",
		},
		"list": []interface{}{"Bearer eyJhbGciOiJSUzI1NiJ9.eyJ.sig2", "plain"},
	}

	out := RedactMetadata(m)

	if strings.Contains(out["note"].(string), "eyJhbG") {
		t.Errorf("nested note not sanitized: %v", out["note"])
	}
	auth := out["auth"].(map[string]interface{})
	if auth["token"] != "[REDACTED]" {
		t.Errorf("nested secret key not redacted: %v", auth["token"])
	}
	list := out["list"].([]interface{})
	if strings.Contains(list[0].(string), "eyJhbG") {
		t.Errorf("list element not sanitized: %v", list[0])
	}
	if list[1] != "plain" {
		t.Errorf("unrelated list element modified: %v", list[1])
	}
}
