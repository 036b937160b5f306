/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package skills implements the opt-in OCI distribution path for skill
// bundles: packing a skills/<id>/ directory into a content-addressed
// artifact, and pulling one back down before the local skill loader
// parses it. This path only runs when tooling.allowExternalSources is
// set — the default is to read skills/<id>/ straight off disk.
package skills

import (
	"fmt"
	"strings"
)

const (
	// MediaTypeConfig is the artifact config blob's media type: a small
	// JSON manifest describing the packed skill.
	MediaTypeConfig = "application/vnd.legator.skill.config.v1+json"

	// MediaTypeContent is the artifact content layer's media type: a
	// tar.gz of the skill directory.
	MediaTypeContent = "application/vnd.legator.skill.content.v1.tar+gzip"
)

// OCIRef identifies a skill artifact in an OCI registry.
type OCIRef struct {
	Registry string
	Path     string
	Tag      string
	Digest   string
}

// String renders the reference back into "registry/path[:tag|@digest]" form.
func (r *OCIRef) String() string {
	switch {
	case r.Digest != "":
		return fmt.Sprintf("%s/%s@%s", r.Registry, r.Path, r.Digest)
	case r.Tag != "":
		return fmt.Sprintf("%s/%s:%s", r.Registry, r.Path, r.Tag)
	default:
		return fmt.Sprintf("%s/%s", r.Registry, r.Path)
	}
}

// ParseOCIRef parses "registry/path[:tag][@digest]" into an OCIRef.
// The registry segment is whatever precedes the first "/".
func ParseOCIRef(ref string) (*OCIRef, error) {
	ref = strings.TrimPrefix(ref, "oci://")
	if ref == "" {
		return nil, fmt.Errorf("empty OCI reference")
	}

	digest := ""
	if idx := strings.Index(ref, "@"); idx >= 0 {
		digest = ref[idx+1:]
		ref = ref[:idx]
	}

	slash := strings.Index(ref, "/")
	if slash <= 0 {
		return nil, fmt.Errorf("OCI reference %q missing registry/path separator", ref)
	}
	registry := ref[:slash]
	rest := ref[slash+1:]

	tag := ""
	if idx := strings.LastIndex(rest, ":"); idx >= 0 {
		tag = rest[idx+1:]
		rest = rest[:idx]
	}
	if rest == "" {
		return nil, fmt.Errorf("OCI reference %q missing repository path", ref)
	}

	return &OCIRef{Registry: registry, Path: rest, Tag: tag, Digest: digest}, nil
}

// SkillManifest is the config blob stored alongside a packed skill's
// content layer: enough metadata to identify the skill without
// unpacking the tarball.
type SkillManifest struct {
	Name  string   `json:"name"`
	Files []string `json:"files"`
}
