/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package selfmod

import (
	"path/filepath"
	"strings"
)

// ProtectionRule blocks a self-modification against a path pattern.
type ProtectionRule struct {
	Pattern     string
	Description string
}

// protectionEngine evaluates a write path against the built-in and
// operator-configured protected path patterns (spec §4.6 step 3). Built-in
// rules always apply and cannot be weakened by configuration.
type protectionEngine struct {
	rules []ProtectionRule
}

// newProtectionEngine builds an engine from the operator's configured
// protected paths, extended with the runtime's own non-negotiable rules:
// the state database, the wallet keystore, and the constitution/laws files
// are never writable by self_modify regardless of configuration.
func newProtectionEngine(configured []string) *protectionEngine {
	rules := []ProtectionRule{
		{Pattern: "*/data/state.db", Description: "state database"},
		{Pattern: "*/data/state.db-*", Description: "state database WAL/SHM files"},
		{Pattern: "*/keystore.json*", Description: "wallet keystore"},
		{Pattern: "*/constitution.md", Description: "constitution document"},
		{Pattern: "*/laws.md", Description: "laws document"},
		{Pattern: "*/.git/*", Description: "version control metadata"},
	}
	for _, p := range configured {
		rules = append(rules, ProtectionRule{Pattern: p, Description: "operator-configured protected path"})
	}
	return &protectionEngine{rules: rules}
}

// Blocked reports whether path matches a protected pattern, and if so, why.
func (e *protectionEngine) Blocked(path string) (bool, string) {
	clean := filepath.ToSlash(path)
	for _, r := range e.rules {
		if matchPattern(r.Pattern, clean) {
			return true, r.Description
		}
	}
	return false, ""
}

// matchPattern supports "*" glob segments, prefix, suffix, and substring
// forms, matched case-sensitively against filesystem paths.
func matchPattern(pattern, target string) bool {
	if matched, err := filepath.Match(pattern, target); err == nil && matched {
		return true
	}

	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1 {
		inner := strings.Trim(pattern, "*")
		return strings.Contains(target, inner)
	}
	if strings.HasPrefix(pattern, "*") {
		suffix := strings.TrimPrefix(pattern, "*")
		return strings.HasSuffix(target, suffix) || strings.Contains(target, suffix)
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(target, prefix)
	}
	return pattern == target
}
