// Package aot sketches the ahead-of-time compilation contract spec §1
// scopes entirely out of conformance: original_source's dryad_aot
// crate lowers a chunk to its own IR (crates/dryad_aot/src/ir) and
// hands it to an architecture Backend (crates/dryad_aot/src/backend).
// Neither the IR lowering nor real code generation is implemented
// here — this package only carries the Backend contract and
// registers the two targets the original supports, both returning a
// "not yet implemented" error, so a future AOT effort has the seam
// the original already drew rather than inventing one.
package aot

import (
	"fmt"

	"dryad/internal/chunk"
)

// Module stands in for dryad_aot::ir::IrModule: the original lowers a
// chunk into a register-based IR (blocks, terminators, typed values)
// before a Backend ever sees it. That lowering pass is not
// implemented; Module carries the source chunk unlowered so a real
// implementation has a natural place to add it without reshaping this
// contract.
type Module struct {
	Name  string
	Chunk *chunk.Chunk
}

// Backend mirrors dryad_aot::backend::Backend's trait exactly
// (CompileModule/Name/TargetTriple), one implementation per
// architecture the original supports.
type Backend interface {
	// CompileModule lowers m to architecture-specific machine code.
	CompileModule(m *Module) ([]byte, error)
	Name() string
	TargetTriple() string
}

// ErrNotImplemented is returned by every stub backend's CompileModule.
var ErrNotImplemented = fmt.Errorf("aot: code generation is not implemented for this backend")

// Backends lists every registered backend, in the original's
// x86_64-then-arm64 order.
func Backends() []Backend {
	return []Backend{&X86_64Backend{}, &Arm64Backend{}}
}

// Lookup finds a backend by Name, the way a CLI --target flag would
// select one.
func Lookup(name string) (Backend, bool) {
	for _, b := range Backends() {
		if b.Name() == name {
			return b, true
		}
	}
	return nil, false
}
