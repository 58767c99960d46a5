package resolver

import (
	"path/filepath"
	"testing"
)

func TestFileSystemResolverRelative(t *testing.T) {
	r := NewFileSystemResolver("/proj")
	got, err := r.Resolve("./util", "/proj/src/main.dryad")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join("/proj/src", "./util")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFileSystemResolverRelativeNoCurrentFile(t *testing.T) {
	r := NewFileSystemResolver("/proj")
	got, err := r.Resolve("./util", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join("/proj", "./util")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFileSystemResolverProjectAbsolute(t *testing.T) {
	r := NewFileSystemResolver("/proj")
	got, err := r.Resolve("@/lib/strings", "/proj/src/main.dryad")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join("/proj", "lib/strings")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFileSystemResolverRejectsAlias(t *testing.T) {
	r := NewFileSystemResolver("/proj")
	if _, err := r.Resolve("somepkg", "/proj/src/main.dryad"); err == nil {
		t.Errorf("expected an error for a bare package alias, got none")
	}
}
