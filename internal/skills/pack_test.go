/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package skills

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "SKILL.md"), []byte("---\nname: greeter\n---\nSay hello."), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "manifest.json"), []byte(`{"name":"greeter"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	packed, err := Pack(src)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if len(packed.Manifest.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(packed.Manifest.Files))
	}

	dest := t.TempDir()
	if err := Unpack(packed.Content, dest); err != nil {
		t.Fatalf("Unpack: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dest, "SKILL.md"))
	if err != nil {
		t.Fatalf("read unpacked SKILL.md: %v", err)
	}
	if string(data) != "---\nname: greeter\n---\nSay hello." {
		t.Errorf("unpacked content mismatch: %q", data)
	}
}

func TestPackNonexistentDir(t *testing.T) {
	if _, err := Pack("/nonexistent/path/xyz"); err == nil {
		t.Error("expected error for nonexistent directory")
	}
}
