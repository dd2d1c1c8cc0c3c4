package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewUploadCmdFlags(t *testing.T) {
	cmd := newUploadCmd()
	if cmd.Use != "upload <file-or-glob> [more...]" {
		t.Errorf("Use = %q", cmd.Use)
	}
	if cmd.Flags().Lookup("folder-url") == nil {
		t.Error("--folder-url flag not found")
	}
	if cmd.Flags().Lookup("create-version") == nil {
		t.Error("--create-version flag not found")
	}
	if cmd.RunE == nil {
		t.Error("RunE is nil")
	}
}

func TestExpandGlobPatternsLiteralPath(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "a.bin")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := expandGlobPatterns([]string{f})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != f {
		t.Errorf("got = %v, want [%s]", got, f)
	}
}

func TestExpandGlobPatternsWildcard(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.bin", "b.bin", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := expandGlobPatterns([]string{filepath.Join(dir, "*.bin")})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got = %v, want 2 matches", got)
	}
}

func TestExpandGlobPatternsNoMatchErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := expandGlobPatterns([]string{filepath.Join(dir, "*.nope")})
	if err == nil {
		t.Fatal("expected an error when no files match")
	}
}

func TestExpandGlobPatternsDeduplicates(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "a.bin")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := expandGlobPatterns([]string{f, f})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("got = %v, want 1 deduplicated entry", got)
	}
}
