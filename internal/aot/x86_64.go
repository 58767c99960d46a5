package aot

// X86_64Backend is the Go shape of dryad_aot::backend::x86_64's
// backend struct: contract only, no code generator behind it.
type X86_64Backend struct{}

func (*X86_64Backend) Name() string         { return "x86_64" }
func (*X86_64Backend) TargetTriple() string { return "x86_64-unknown-linux-gnu" }

func (*X86_64Backend) CompileModule(m *Module) ([]byte, error) {
	return nil, ErrNotImplemented
}
