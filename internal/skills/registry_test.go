/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package skills

import (
	"context"
	"testing"
)

func TestRegistryClient_NewAndConfigure(t *testing.T) {
	rc := NewRegistryClient()
	if rc == nil {
		t.Fatal("expected non-nil client")
	}

	rc.WithAuth("user", "pass")
	if rc.Username != "user" {
		t.Errorf("username = %q, want user", rc.Username)
	}
	if rc.Password != "pass" {
		t.Errorf("password = %q, want pass", rc.Password)
	}

	rc.WithPlainHTTP(true)
	if !rc.PlainHTTP {
		t.Error("expected PlainHTTP = true")
	}
}

func TestRegistryClient_PullBadRegistry(t *testing.T) {
	rc := NewRegistryClient().WithPlainHTTP(true)
	ref := &OCIRef{Registry: "localhost:1", Path: "test/skill", Tag: "v1"}

	_, _, err := rc.Pull(context.Background(), ref)
	if err == nil {
		t.Error("expected error for unreachable registry")
	}
}

func TestPullResult_Fields(t *testing.T) {
	r := PullResult{
		Ref:    "oci://ghcr.io/org/skill:v1",
		Digest: "sha256:def",
		Size:   8000,
		Name:   "my-skill",
		Files:  []string{"SKILL.md"},
	}

	if r.Name != "my-skill" {
		t.Error("name mismatch")
	}
}

func TestParseOCIRef(t *testing.T) {
	ref, err := ParseOCIRef("ghcr.io/org/skill:v1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.Registry != "ghcr.io" || ref.Path != "org/skill" || ref.Tag != "v1" {
		t.Errorf("got %+v", ref)
	}
}

func TestParseOCIRefWithDigest(t *testing.T) {
	ref, err := ParseOCIRef("ghcr.io/org/skill@sha256:abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.Digest != "sha256:abc123" || ref.Tag != "" {
		t.Errorf("got %+v", ref)
	}
}

func TestParseOCIRefMissingPath(t *testing.T) {
	if _, err := ParseOCIRef("ghcr.io"); err == nil {
		t.Error("expected error for missing repository path")
	}
}
