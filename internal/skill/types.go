/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package skill

// Skill represents a loaded skill: SKILL.md's parsed frontmatter and
// instructions body, plus its manifest.json metadata.
type Skill struct {
	// ID is the skill's directory name under skills/.
	ID string

	// Name is the skill identifier from SKILL.md frontmatter.
	Name string

	// Description is a human-readable summary.
	Description string

	// Enabled reflects SKILL.md frontmatter's default; the runtime's
	// actual enabled set is the config's enabledSkillIds list, which
	// overrides this when non-empty.
	Enabled bool

	// Instructions is the markdown body (frontmatter stripped), passed
	// to the brain as part of TurnInput.skills.
	Instructions string

	// Manifest is the skill's manifest.json metadata.
	Manifest Manifest

	// RawFrontmatter preserves the original YAML frontmatter.
	RawFrontmatter map[string]interface{}
}

// Manifest is a skill's manifest.json: supplementary metadata beyond
// what SKILL.md's frontmatter carries.
type Manifest struct {
	Name string `json:"name"`

	// Version is the skill version (semver).
	Version string `json:"version,omitempty"`

	// Tags categorize the skill for discovery.
	Tags []string `json:"tags,omitempty"`

	// ToolSourceIDs lists the tool sources this skill expects to be
	// available; informational only, never itself a permission grant —
	// the turn validator is the sole arbiter of what a turn may invoke.
	ToolSourceIDs []string `json:"toolSourceIds,omitempty"`
}
