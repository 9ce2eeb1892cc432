package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const partialDirName = ".partial"

// Root is the single directory every stored file lives in.
type Root struct {
	path string
}

// SafePath is a name that passed Resolve together with its absolute location
// inside the root. Only Resolve produces one.
type SafePath struct {
	Name string
	Path string
}

func NewRoot(dir string) (*Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %q: %v", ErrStorageInit, dir, err)
	}
	return &Root{path: filepath.Clean(abs)}, nil
}

func (r *Root) Path() string {
	return r.path
}

// PartialDir holds uploads that are still being received.
func (r *Root) PartialDir() string {
	return filepath.Join(r.path, partialDirName)
}

// EnsureRoot creates the root and its staging directory if absent. It is
// safe to call repeatedly.
func (r *Root) EnsureRoot() error {
	for _, dir := range []string{r.path, r.PartialDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageInit, err)
		}
	}
	info, err := os.Stat(r.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrStorageInit, r.path)
	}
	return nil
}

// Resolve maps a decoded logical name to its absolute path. Names must be a
// single path segment; absolute paths and ".." are rejected with
// ErrPathEscape before any file system call is made.
func (r *Root) Resolve(name string) (SafePath, error) {
	if name == "" {
		return SafePath{}, fmt.Errorf("%w: empty file name", ErrClientInput)
	}
	if strings.ContainsRune(name, 0) {
		return SafePath{}, fmt.Errorf("%w: file name contains NUL", ErrClientInput)
	}
	if filepath.IsAbs(name) || filepath.VolumeName(name) != "" ||
		strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return SafePath{}, fmt.Errorf("%w: absolute path %q", ErrPathEscape, name)
	}
	for _, segment := range strings.FieldsFunc(name, isSeparator) {
		if segment == ".." {
			return SafePath{}, fmt.Errorf("%w: traversal in %q", ErrPathEscape, name)
		}
	}
	if strings.ContainsFunc(name, isSeparator) || name == "." {
		return SafePath{}, fmt.Errorf("%w: %q is not a single path segment", ErrPathEscape, name)
	}

	joined := filepath.Join(r.path, name)
	rel, err := filepath.Rel(r.path, joined)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return SafePath{}, fmt.Errorf("%w: %q resolves outside root", ErrPathEscape, name)
	}
	return SafePath{Name: name, Path: joined}, nil
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}
