package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// Sandbox resolves caller supplied relative paths against a single root directory and
// refuses anything that would land outside it
type Sandbox struct {
	root     string // absolute, cleaned
	realRoot string // root with symbolic links evaluated
}

// NewSandbox creates a sandbox for root. The root does not need to exist yet.
func NewSandbox(root string) (*Sandbox, error) {
	if root == "" {
		return nil, fmt.Errorf("sandbox root is empty")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid sandbox root: %w", err)
	}
	// resolved the same way as candidates so a missing root under a linked parent still matches
	realRoot, err := evalExistingPrefix(absRoot)
	if err != nil {
		return nil, fmt.Errorf("unable to evaluate sandbox root: %w", err)
	}
	return &Sandbox{root: absRoot, realRoot: realRoot}, nil
}

// Root returns the absolute root of the sandbox
func (s *Sandbox) Root() string {
	return s.root
}

// Normalize cleans a relative path into its canonical slash separated form.
// "." refers to the root itself.
func Normalize(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", sandboxError(p, "path is empty")
	}
	native := filepath.FromSlash(p)
	if filepath.IsAbs(native) || filepath.VolumeName(native) != "" || strings.HasPrefix(p, "/") {
		return "", sandboxError(p, "absolute paths are not accepted")
	}
	clean := filepath.Clean(native)
	if escapes(clean) {
		return "", sandboxError(p, "path escapes the root directory")
	}
	return filepath.ToSlash(clean), nil
}

// Resolve joins rel onto the root and returns the absolute path, failing with a sandbox
// violation if the result (or the target of a symbolic link along it) is outside the root
func (s *Sandbox) Resolve(rel string) (string, error) {
	norm, err := Normalize(rel)
	if err != nil {
		return "", err
	}
	abs := filepath.Join(s.root, filepath.FromSlash(norm))

	resolved, err := evalExistingPrefix(abs)
	if err != nil {
		return "", NewError(KindSandboxViolation, rel, "unable to evaluate path", err)
	}
	if !within(s.realRoot, resolved) {
		return "", sandboxError(rel, "path leaves the root directory through a symbolic link")
	}
	return abs, nil
}

// ToRelative maps an absolute path under the root back to its slash separated relative form
func (s *Sandbox) ToRelative(abs string) (string, error) {
	rel, err := filepath.Rel(s.root, filepath.Clean(abs))
	if err != nil {
		return "", NewError(KindSandboxViolation, abs, "path is not under the root directory", err)
	}
	if escapes(rel) {
		return "", sandboxError(filepath.Base(abs), "path is not under the root directory")
	}
	return filepath.ToSlash(rel), nil
}

// evalExistingPrefix evaluates symbolic links on the longest existing prefix of abs
func evalExistingPrefix(abs string) (string, error) {
	var missing []string
	current := abs
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return abs, nil
		}
		missing = append(missing, filepath.Base(current))
		current = parent
	}
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel)
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && !escapes(rel)
}
