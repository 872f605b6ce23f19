// Package security guards the files an analysis run writes.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideOutputDir is returned for an output path that resolves outside
// its output directory.
var ErrOutsideOutputDir = errors.New("output path escapes output directory")

// maxPrefixLen bounds sanitized file name prefixes.
const maxPrefixLen = 64

// resolve returns the canonical form of path. Symlinks are resolved on the
// longest existing ancestor, so paths of files not yet written still resolve.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	for dir := abs; ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rest, _ := filepath.Rel(dir, abs)
			return filepath.Join(resolved, rest), nil
		}
		if filepath.Dir(dir) == dir {
			return abs, nil
		}
	}
}

// CheckOutput reports ErrOutsideOutputDir when path, after resolving
// symlinks, does not lie inside dir. An existing symlink at path pointing
// elsewhere is rejected too, so a rerun cannot truncate files outside dir.
func CheckOutput(path, dir string) error {
	canonicalDir, err := resolve(dir)
	if err != nil {
		return err
	}
	canonicalPath, err := resolve(path)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(canonicalDir, canonicalPath)
	if err != nil || rel == "." || rel == ".." ||
		strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s is not inside %s", ErrOutsideOutputDir, path, dir)
	}
	return nil
}

// PrepareOutputDir creates dir if needed and checks that every path lies
// inside it.
func PrepareOutputDir(dir string, paths ...string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for _, p := range paths {
		if err := CheckOutput(p, dir); err != nil {
			return err
		}
	}
	return nil
}

// SanitizePrefix makes a user supplied prefix safe to put in front of an
// output file name. Runs of characters other than ASCII letters, digits,
// dot, underscore and dash become one underscore. Leading dots are dropped
// so a prefix never produces a hidden file or a parent reference. The empty
// prefix stays empty.
func SanitizePrefix(s string) string {
	var b strings.Builder
	replaced := false
	for _, r := range s {
		if b.Len() >= maxPrefixLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			replaced = false
		case !replaced:
			b.WriteByte('_')
			replaced = true
		}
	}
	return strings.TrimLeft(b.String(), ".")
}
