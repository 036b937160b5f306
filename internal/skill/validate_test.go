/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package skill

import (
	"testing"
)

func TestValidate_ValidSkill(t *testing.T) {
	s := &Skill{
		ID:           "endpoint-monitoring",
		Name:         "endpoint-monitoring",
		Description:  "Fast endpoint health probe",
		Instructions: "# Check endpoints\nVerify all endpoints are responding.",
		Manifest: Manifest{
			Name:    "endpoint-monitoring",
			Version: "1.0.0",
			Tags:    []string{"monitoring"},
		},
	}

	result := Validate(s)
	if !result.Valid {
		t.Errorf("expected valid, got errors: %v", result.Errors)
	}
	if len(result.Errors) != 0 {
		t.Errorf("expected 0 errors, got %d: %v", len(result.Errors), result.Errors)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("expected 0 warnings, got %d: %v", len(result.Warnings), result.Warnings)
	}
}

func TestValidate_MissingID(t *testing.T) {
	s := &Skill{
		Name:         "test",
		Description:  "test",
		Instructions: "do stuff",
	}

	result := Validate(s)
	if result.Valid {
		t.Error("expected invalid for missing id")
	}
}

func TestValidate_MissingName(t *testing.T) {
	s := &Skill{
		ID:           "test",
		Description:  "test",
		Instructions: "do stuff",
	}

	result := Validate(s)
	if result.Valid {
		t.Error("expected invalid for missing name")
	}
	if len(result.Errors) < 1 {
		t.Error("expected at least 1 error")
	}
}

func TestValidate_MissingDescription(t *testing.T) {
	s := &Skill{
		ID:           "test",
		Name:         "test",
		Instructions: "do stuff",
	}

	result := Validate(s)
	if result.Valid {
		t.Error("expected invalid for missing description")
	}
}

func TestValidate_EmptyInstructions(t *testing.T) {
	s := &Skill{
		ID:           "test",
		Name:         "test",
		Description:  "test",
		Instructions: "",
	}

	result := Validate(s)
	if result.Valid {
		t.Error("expected invalid for empty instructions")
	}
}

func TestValidate_WhitespaceOnlyInstructions(t *testing.T) {
	s := &Skill{
		ID:           "test",
		Name:         "test",
		Description:  "test",
		Instructions: "   \n\t  ",
	}

	result := Validate(s)
	if result.Valid {
		t.Error("expected invalid for whitespace-only instructions")
	}
}

func TestValidate_Nil(t *testing.T) {
	result := Validate(nil)
	if result.Valid {
		t.Error("expected invalid for nil skill")
	}
}

func TestValidate_Warnings(t *testing.T) {
	s := &Skill{
		ID:           "test",
		Name:         "test",
		Description:  "test skill",
		Instructions: "do stuff",
		// Missing: manifest version, tags
	}

	result := Validate(s)
	if !result.Valid {
		t.Errorf("should be valid despite warnings: %v", result.Errors)
	}
	if len(result.Warnings) < 2 {
		t.Errorf("expected at least 2 warnings (version, tags), got %d: %v",
			len(result.Warnings), result.Warnings)
	}
}

func TestValidate_ManifestNameMismatch(t *testing.T) {
	s := &Skill{
		ID:           "test",
		Name:         "test",
		Description:  "test",
		Instructions: "do stuff",
		Manifest:     Manifest{Name: "different-name", Version: "1.0.0", Tags: []string{"x"}},
	}

	result := Validate(s)
	if !result.Valid {
		t.Errorf("name mismatch should be a warning, not fatal: %v", result.Errors)
	}
	found := false
	for _, w := range result.Warnings {
		if w == `manifest.json name "different-name" does not match SKILL.md name "test"` {
			found = true
		}
	}
	if !found {
		t.Errorf("expected name mismatch warning, got: %v", result.Warnings)
	}
}

func TestMustValidate_Valid(t *testing.T) {
	s := &Skill{
		ID:           "test",
		Name:         "test",
		Description:  "test",
		Instructions: "do stuff",
	}

	err := MustValidate(s)
	if err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestMustValidate_Invalid(t *testing.T) {
	s := &Skill{} // Missing everything

	err := MustValidate(s)
	if err == nil {
		t.Error("expected error for invalid skill")
	}
}
