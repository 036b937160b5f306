/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package skill

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse_FullFrontmatter(t *testing.T) {
	content := `---
name: endpoint-monitoring
description: Fast endpoint health probe
enabled: true
---

# Endpoint Monitoring

Check all endpoints are responding.
`

	s, err := Parse(content)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if s.Name != "endpoint-monitoring" {
		t.Errorf("Name = %q, want %q", s.Name, "endpoint-monitoring")
	}
	if s.Description != "Fast endpoint health probe" {
		t.Errorf("Description = %q, want %q", s.Description, "Fast endpoint health probe")
	}
	if !s.Enabled {
		t.Error("Enabled should be true")
	}
	if !strings.Contains(s.Instructions, "# Endpoint Monitoring") {
		t.Errorf("Instructions should contain heading, got: %s", s.Instructions)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	content := "# Just Markdown\n\nNo frontmatter here."
	s, err := Parse(content)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if s.Name != "" {
		t.Errorf("Name should be empty, got %q", s.Name)
	}
	if !strings.Contains(s.Instructions, "Just Markdown") {
		t.Errorf("Instructions mismatch")
	}
}

func TestParse_EmptyContent(t *testing.T) {
	s, err := Parse("")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if s.Instructions != "" {
		t.Errorf("Instructions should be empty, got %q", s.Instructions)
	}
}

func TestSplitFrontmatter(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantFM   string
		wantBody string
	}{
		{
			name:     "with frontmatter",
			input:    "---\nname: test\n---\n# Body",
			wantFM:   "name: test",
			wantBody: "\n# Body",
		},
		{
			name:     "no frontmatter",
			input:    "# Just body",
			wantFM:   "",
			wantBody: "# Just body",
		},
		{
			name:     "empty",
			input:    "",
			wantFM:   "",
			wantBody: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fm, body, err := splitFrontmatter(tt.input)
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if fm != tt.wantFM {
				t.Errorf("frontmatter = %q, want %q", fm, tt.wantFM)
			}
			if body != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
		})
	}
}

func writeSkillDir(t *testing.T, root, id, skillMD, manifestJSON string) {
	t.Helper()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(skillMD), 0o644); err != nil {
		t.Fatal(err)
	}
	if manifestJSON != "" {
		if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(manifestJSON), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLoaderLoad(t *testing.T) {
	root := t.TempDir()
	writeSkillDir(t, root, "greeter",
		"---\nname: greeter\ndescription: Greets people\nenabled: true\n---\nSay hello warmly.",
		`{"name":"greeter","version":"1.0.0","tags":["social"],"toolSourceIds":["internal.runtime"]}`)

	l := NewLoader(root)
	s, err := l.Load("greeter")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.ID != "greeter" {
		t.Errorf("ID = %q, want greeter", s.ID)
	}
	if s.Manifest.Version != "1.0.0" {
		t.Errorf("Manifest.Version = %q, want 1.0.0", s.Manifest.Version)
	}
	if len(s.Manifest.ToolSourceIDs) != 1 {
		t.Errorf("Manifest.ToolSourceIDs = %v, want 1 entry", s.Manifest.ToolSourceIDs)
	}
}

func TestLoaderLoadMissingManifestIsOK(t *testing.T) {
	root := t.TempDir()
	writeSkillDir(t, root, "bare", "---\nname: bare\ndescription: No manifest\n---\nDo the thing.", "")

	l := NewLoader(root)
	s, err := l.Load("bare")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.Manifest.Name != "" {
		t.Errorf("expected empty manifest, got %+v", s.Manifest)
	}
}

func TestLoaderLoadAll(t *testing.T) {
	root := t.TempDir()
	writeSkillDir(t, root, "a", "---\nname: a\ndescription: A\n---\nbody a", "")
	writeSkillDir(t, root, "b", "---\nname: b\ndescription: B\n---\nbody b", "")
	if err := os.WriteFile(filepath.Join(root, "broken", "nope"), nil, 0o644); err == nil {
		// ignore — broken dir intentionally has no SKILL.md below
	}
	if err := os.MkdirAll(filepath.Join(root, "broken"), 0o755); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(root)
	loaded, failed := l.LoadAll()
	if len(loaded) != 2 {
		t.Errorf("loaded = %d, want 2", len(loaded))
	}
	if _, ok := failed["broken"]; !ok {
		t.Error("expected \"broken\" to be recorded as a load failure")
	}
}
