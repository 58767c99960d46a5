package aot

// Arm64Backend is the Go shape of dryad_aot::backend::arm64's backend
// struct: contract only, no code generator behind it.
type Arm64Backend struct{}

func (*Arm64Backend) Name() string         { return "arm64" }
func (*Arm64Backend) TargetTriple() string { return "aarch64-unknown-linux-gnu" }

func (*Arm64Backend) CompileModule(m *Module) ([]byte, error) {
	return nil, ErrNotImplemented
}
