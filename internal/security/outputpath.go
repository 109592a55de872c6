// Package security validates user supplied file locations before the tools
// write reports to them.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// canonical resolves symlinks of path, or of its closest existing parent
// when path does not exist yet.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	rest := ""
	for dir := abs; ; {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(resolved, rest), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(dir), rest)
		dir = parent
	}
}

// WithinDirectory reports an error unless path resolves inside dir, following
// symlinks in both.
func WithinDirectory(path, dir string) error {
	p, err := canonical(path)
	if err != nil {
		return err
	}
	d, err := canonical(dir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(d, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected: %s escapes %s", path, dir)
	}
	return nil
}

// ValidateOutputPath checks that path has one of the allowed extensions and
// lies in the working directory or the temp directory.
func ValidateOutputPath(path string, allowedExts []string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(allowedExts, ext) {
		return fmt.Errorf("output %s must have one of the extensions %v", path, allowedExts)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	for _, dir := range []string{cwd, os.TempDir()} {
		if WithinDirectory(path, dir) == nil {
			return nil
		}
	}
	return fmt.Errorf("output %s must be within the working or temp directory", path)
}

// SanitizeFilename turns an identifier such as a race ID into a safe file
// name. Runs of other characters become a single underscore.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// RaceOutputPath returns dir/<sanitized raceID><ext>.
func RaceOutputPath(dir, raceID, ext string) string {
	return filepath.Join(dir, SanitizeFilename(raceID)+ext)
}
