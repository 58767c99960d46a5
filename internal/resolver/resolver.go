// Package resolver decouples import-path resolution from the module
// loader (spec §5 External Interfaces), generalized from
// original_source's dryad_runtime::resolver so a future package
// manager (internal/pkgmanager's "oak"-style fetcher, adapted here to
// dryad_libs/) can plug in without the loader needing to know the
// difference.
package resolver

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ModuleResolver turns an import path as written in source into a
// physical file path. currentFile is the file performing the import
// (empty for the entry script), used to resolve "./"/"../" paths
// relative to it rather than the process's working directory.
type ModuleResolver interface {
	Resolve(modulePath string, currentFile string) (string, error)
}

// FileSystemResolver resolves "./"/"../" paths relative to the
// importing file and "@/"-prefixed paths relative to projectRoot.
// Anything else is rejected — a package-alias resolver (oak) must
// handle those, matching the original's FileSystemResolver, which
// only ever understands local filesystem paths.
type FileSystemResolver struct {
	ProjectRoot string
}

func NewFileSystemResolver(projectRoot string) *FileSystemResolver {
	return &FileSystemResolver{ProjectRoot: projectRoot}
}

func (r *FileSystemResolver) Resolve(modulePath string, currentFile string) (string, error) {
	switch {
	case strings.HasPrefix(modulePath, "./") || strings.HasPrefix(modulePath, "../"):
		baseDir := r.ProjectRoot
		if currentFile != "" {
			baseDir = filepath.Dir(currentFile)
		}
		return filepath.Join(baseDir, modulePath), nil
	case strings.HasPrefix(modulePath, "@/"):
		return filepath.Join(r.ProjectRoot, modulePath[2:]), nil
	default:
		return "", fmt.Errorf("FileSystemResolver não suporta o alias '%s'. Configure um resolver de pacotes (ex: oak)", modulePath)
	}
}
