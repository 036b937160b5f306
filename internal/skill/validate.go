/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package skill

import (
	"fmt"
	"strings"
)

// ValidationResult holds the outcome of skill validation.
type ValidationResult struct {
	// Valid is true if the skill passes all required checks.
	Valid bool

	// Errors are fatal issues that prevent the skill from being used.
	Errors []string

	// Warnings are non-fatal issues that should be addressed.
	Warnings []string
}

// Validate checks a loaded skill for required fields and common issues.
// Returns a ValidationResult with errors (fatal) and warnings (non-fatal).
func Validate(s *Skill) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if s == nil {
		result.Valid = false
		result.Errors = append(result.Errors, "skill is nil")
		return result
	}

	if s.ID == "" {
		result.Valid = false
		result.Errors = append(result.Errors, "missing required field: id")
	}

	if s.Name == "" {
		result.Valid = false
		result.Errors = append(result.Errors, "missing required field: name")
	}

	if s.Description == "" {
		result.Valid = false
		result.Errors = append(result.Errors, "missing required field: description")
	}

	if strings.TrimSpace(s.Instructions) == "" {
		result.Valid = false
		result.Errors = append(result.Errors, "skill has no instructions (empty SKILL.md body)")
	}

	if s.Manifest.Name != "" && s.Manifest.Name != s.Name {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("manifest.json name %q does not match SKILL.md name %q", s.Manifest.Name, s.Name))
	}

	if s.Manifest.Version == "" {
		result.Warnings = append(result.Warnings, "missing field: manifest.json version (recommended for reproducibility)")
	}

	if len(s.Manifest.Tags) == 0 {
		result.Warnings = append(result.Warnings, "missing field: manifest.json tags (helps with discovery)")
	}

	return result
}

// MustValidate validates a skill and returns an error if it's invalid.
func MustValidate(s *Skill) error {
	result := Validate(s)
	if !result.Valid {
		return fmt.Errorf("skill validation failed: %s", strings.Join(result.Errors, "; "))
	}
	return nil
}
