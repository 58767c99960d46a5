package aot

import (
	"errors"
	"testing"

	"dryad/internal/chunk"
)

func TestBackendsListsX86AndArm64InOrder(t *testing.T) {
	backends := Backends()
	if len(backends) != 2 {
		t.Fatalf("expected 2 backends, got %d", len(backends))
	}
	if backends[0].Name() != "x86_64" || backends[1].Name() != "arm64" {
		t.Fatalf("expected [x86_64 arm64] order, got [%s %s]", backends[0].Name(), backends[1].Name())
	}
}

func TestLookupFindsRegisteredBackend(t *testing.T) {
	b, ok := Lookup("arm64")
	if !ok {
		t.Fatal("expected arm64 backend to be found")
	}
	if b.TargetTriple() != "aarch64-unknown-linux-gnu" {
		t.Fatalf("unexpected target triple: %s", b.TargetTriple())
	}
}

func TestLookupMissingBackend(t *testing.T) {
	if _, ok := Lookup("riscv64"); ok {
		t.Fatal("expected riscv64 to be unregistered")
	}
}

func TestEveryBackendReturnsNotImplemented(t *testing.T) {
	m := &Module{Name: "main", Chunk: chunk.New("main", "main.dryad")}
	for _, b := range Backends() {
		_, err := b.CompileModule(m)
		if !errors.Is(err, ErrNotImplemented) {
			t.Fatalf("backend %s: expected ErrNotImplemented, got %v", b.Name(), err)
		}
	}
}
