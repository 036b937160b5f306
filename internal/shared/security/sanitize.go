/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package security implements the redaction contract the state store applies
// to Incident, Alert, Turn metadata, and payment event fields before they
// are persisted: values whose keys look like credentials are replaced with
// a redaction placeholder, and a
// handful of secret-shaped substrings are scrubbed out of free text.
package security

import (
	"regexp"
)

const redactedPlaceholder = "[REDACTED]"

// secretKeyPattern matches metadata/object keys that should never be
// persisted verbatim, per spec §4.1.
var secretKeyPattern = regexp.MustCompile(`(?i)api[_-]?key|private[_-]?key|passphrase|authorization|secret|token|ciphertext|salt|iv|tag|signature`)

// sensitivePatterns are free-text substrings redacted regardless of key.
var sensitivePatterns = []*regexp.Regexp{
	// Bearer <token>
	regexp.MustCompile(`(?i)(bearer\s+)[a-zA-Z0-9\-_.~+/]+=*`),
	// 0x + 64 hex chars (signatures, tx hashes, 32-byte digests)
	regexp.MustCompile(`0x[a-fA-F0-9]{64}`),
	// Named nonce/signature headers
	regexp.MustCompile(`(?i)(x-[a-z-]*(?:nonce|signature)[a-z-]*:\s*)\S+`),
	regexp.MustCompile(`(?i)((?:^|\n)(?:nonce|signature)[:=]\s*)\S+`),
}

// Sanitize scrubs sensitive substrings from free text, preserving any
// recognizable prefix label for readability.
func Sanitize(text string) string {
	result := text
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			loc := pattern.FindStringSubmatchIndex(match)
			if len(loc) >= 4 && loc[2] >= 0 {
				prefix := match[loc[2]:loc[3]]
				return prefix + redactedPlaceholder
			}
			return redactedPlaceholder
		})
	}
	return result
}

// ContainsSecret reports whether text contains a pattern Sanitize would redact.
func ContainsSecret(text string) bool {
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

// SanitizeActionResult sanitizes then truncates a tool/action result before
// it is recorded in an incident or turn log.
func SanitizeActionResult(result string, maxLen int) string {
	sanitized := Sanitize(result)
	if maxLen > 0 && len(sanitized) > maxLen {
		return sanitized[:maxLen] + "... (truncated)"
	}
	return sanitized
}

// IsSecretKey reports whether a metadata/object key matches the secret-key
// pattern and its value should be replaced wholesale rather than scanned.
func IsSecretKey(key string) bool {
	return secretKeyPattern.MatchString(key)
}

// SanitizeMap redacts values by key, then sanitizes whatever remains.
func SanitizeMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if IsSecretKey(k) {
			out[k] = redactedPlaceholder
		} else {
			out[k] = Sanitize(v)
		}
	}
	return out
}

// RedactMetadata applies the state store's redaction contract to an
// arbitrary metadata object before it is persisted on an Incident, Alert,
// or Turn row: keys matching the secret pattern are replaced wholesale;
// string values are passed through Sanitize; nested maps and slices recurse.
func RedactMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if IsSecretKey(k) {
			out[k] = redactedPlaceholder
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return Sanitize(val)
	case map[string]interface{}:
		return RedactMetadata(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}
