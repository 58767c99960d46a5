// Package natives implements the built-in native-function modules
// (spec §6 Native Registry) the teacher wires directly into
// internal/vm/vm.go's registerBuiltins, split here one file per
// original_source/crates/dryad_runtime/src/native_modules/*.rs module
// so each can carry its own third-party dependency. RegisterAll is the
// single call site cmd/dryad/main.go uses to populate a fresh VM.
package natives

import "dryad/internal/vm"

// RegisterAll wires every native module's functions into m.
func RegisterAll(m *vm.VM) {
	registerCrypto(m)
	registerHTTP(m)
	registerDatabase(m)
	registerEncodeDecode(m)
	registerUtils(m)
	registerWebsocket(m)
}
