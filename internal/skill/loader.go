/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package skill

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/marcus-qen/legator/internal/skills"
)

// Loader reads skill files from skills/<id>/{SKILL.md,manifest.json}
// under a root directory, consumed read-only (spec §6). A disabled,
// opt-in path can pull a skill bundle down from an OCI registry first.
type Loader struct {
	skillsDir string
	registry  *skills.RegistryClient
}

// NewLoader creates a loader rooted at skillsDir (typically
// "<dataDir>/skills").
func NewLoader(skillsDir string) *Loader {
	return &Loader{skillsDir: skillsDir, registry: skills.NewRegistryClient()}
}

// Load reads one skill by its directory name.
func (l *Loader) Load(id string) (*Skill, error) {
	dir := filepath.Join(l.skillsDir, id)
	return loadFromDir(id, dir)
}

// LoadAll reads every skill subdirectory under skillsDir. A skill
// directory missing SKILL.md is skipped with its error recorded rather
// than aborting the whole load.
func (l *Loader) LoadAll() ([]*Skill, map[string]error) {
	entries, err := os.ReadDir(l.skillsDir)
	if err != nil {
		return nil, map[string]error{"": fmt.Errorf("read skills dir %s: %w", l.skillsDir, err)}
	}

	var loaded []*Skill
	failed := make(map[string]error)
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		s, err := l.Load(id)
		if err != nil {
			failed[id] = err
			continue
		}
		loaded = append(loaded, s)
	}
	return loaded, failed
}

// PullFromOCI pulls a skill bundle by OCI reference into skills/<id>/
// before parsing it, then loads it from disk. Only called when
// tooling.allowExternalSources is enabled — by default skills are read
// straight off disk.
func (l *Loader) PullFromOCI(ctx context.Context, id, ociRef string) (*Skill, error) {
	ref, err := skills.ParseOCIRef(ociRef)
	if err != nil {
		return nil, fmt.Errorf("invalid OCI reference %q: %w", ociRef, err)
	}

	destDir := filepath.Join(l.skillsDir, id)
	if _, err := l.registry.PullToDir(ctx, ref, destDir); err != nil {
		return nil, fmt.Errorf("pull skill %q from %q: %w", id, ociRef, err)
	}

	return loadFromDir(id, destDir)
}

func loadFromDir(id, dir string) (*Skill, error) {
	mdPath := filepath.Join(dir, "SKILL.md")
	mdContent, err := os.ReadFile(mdPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", mdPath, err)
	}

	s, err := Parse(string(mdContent))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", mdPath, err)
	}
	s.ID = id

	manifestPath := filepath.Join(dir, "manifest.json")
	manifestContent, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read %s: %w", manifestPath, err)
	}

	var m Manifest
	if err := json.Unmarshal(manifestContent, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", manifestPath, err)
	}
	s.Manifest = m
	return s, nil
}

// Parse parses a SKILL.md string into a Skill struct.
// Expects YAML frontmatter between --- delimiters followed by markdown body.
func Parse(content string) (*Skill, error) {
	frontmatter, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, err
	}

	s := &Skill{
		Instructions: strings.TrimSpace(body),
	}

	if frontmatter != "" {
		var fm map[string]interface{}
		if err := yaml.Unmarshal([]byte(frontmatter), &fm); err != nil {
			return nil, fmt.Errorf("invalid YAML frontmatter: %w", err)
		}
		s.RawFrontmatter = fm

		if v, ok := fm["name"].(string); ok {
			s.Name = v
		}
		if v, ok := fm["description"].(string); ok {
			s.Description = v
		}
		if v, ok := fm["enabled"].(bool); ok {
			s.Enabled = v
		}
	}

	return s, nil
}

// splitFrontmatter splits YAML frontmatter from markdown body.
func splitFrontmatter(content string) (frontmatter, body string, err error) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "---") {
		return "", content, nil
	}

	rest := content[3:]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return "", content, nil
	}

	frontmatter = strings.TrimSpace(rest[:idx])
	body = rest[idx+4:] // skip \n---
	return frontmatter, body, nil
}
