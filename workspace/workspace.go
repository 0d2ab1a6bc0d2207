// Package workspace lays out the per-target project folder spec.md §6
// describes and provides the atomic write-then-rename helper every
// output-writing stage (render, reassembler) uses so a crash never
// leaves a half-written file behind.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Root resolves the workspace root: the WORKSPACE environment variable
// if set, otherwise "./workspace" relative to the current directory,
// matching spec.md §6's fallback rule.
func Root() string {
	if v := os.Getenv("WORKSPACE"); v != "" {
		return v
	}
	return "workspace"
}

// ProjectDir returns the project-folder path for a given input binary:
// <root>/projects/<basename-without-ext>/.
func ProjectDir(root, inputPath string) string {
	base := filepath.Base(inputPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(root, "projects", base)
}

// Project is one target's on-disk working area: the directories
// spec.md §6 names for rendered output, re-assembled binaries, and
// analysis reports.
type Project struct {
	Dir        string
	SourceDir  string // rendered pseudo/C/Rust output
	BuildDir   string // re-assembled binaries
	ReportsDir string
}

// Open creates (if needed) and returns the project layout for inputPath
// under root. force controls whether a pre-existing, non-empty project
// directory is an error or is reused.
func Open(root, inputPath string, force bool) (*Project, error) {
	dir := ProjectDir(root, inputPath)
	p := &Project{
		Dir:        dir,
		SourceDir:  filepath.Join(dir, "source"),
		BuildDir:   filepath.Join(dir, "build"),
		ReportsDir: filepath.Join(dir, "reports"),
	}

	if !force {
		if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
			return nil, fmt.Errorf("project directory %q already exists and is not empty (use -force to overwrite)", dir)
		}
	}

	for _, d := range []string{p.SourceDir, p.BuildDir, p.ReportsDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("creating %q: %w", d, err)
		}
	}
	return p, nil
}

// WriteFileAtomic writes data to path by writing to a sibling temp file
// and renaming it over the destination, so a reader never observes a
// partially-written file. Grounded on the clone-then-patch-then-commit
// idiom the PE reassembler uses for the image buffer itself.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %q: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %q: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %q: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming %q to %q: %w", tmpName, path, err)
	}
	return nil
}
