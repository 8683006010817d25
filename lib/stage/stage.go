// Package stage copies function sources into a build directory and removes
// build artifacts.
package stage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
)

var (
	ErrInvalidPattern  = errors.New("invalid include pattern")
	ErrDuplicateTarget = errors.New("two staged files share a target")
)

type Stager struct {
	Fs afero.Fs
}

func NewStager(fs afero.Fs) *Stager {
	return &Stager{Fs: fs}
}

// Stage copies everything matched by patterns into dest and returns the
// number of files written. A literal path lands at dest/<base name>, a glob
// match keeps its path relative to the static root of the glob, so
// shared/*/index.js stages shared/a/index.js as dest/a/index.js. Directories
// are copied as whole trees. A pattern without glob characters must exist, a
// glob may match nothing. Two sources staged to the same file are an error.
func (s *Stager) Stage(patterns []string, dest string) (int, error) {
	if err := s.Fs.MkdirAll(dest, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dest, err)
	}

	written := make(map[string]string)
	copied := 0
	for _, pattern := range patterns {
		matches, err := s.expand(pattern, dest)
		if err != nil {
			return copied, err
		}

		root := StaticRoot(pattern)
		for _, match := range matches {
			target := filepath.Join(dest, filepath.Base(match))
			if IsGlob(pattern) {
				rel, err := filepath.Rel(root, match)
				if err != nil {
					return copied, err
				}
				target = filepath.Join(dest, rel)
			}

			n, err := s.copyPath(match, target, written)
			copied += n
			if err != nil {
				return copied, err
			}
		}
	}
	return copied, nil
}

// Remove deletes every path, ignoring the ones already gone.
func (s *Stager) Remove(paths ...string) error {
	for _, path := range paths {
		if err := s.Fs.RemoveAll(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return nil
}

func (s *Stager) expand(pattern, dest string) ([]string, error) {
	if !IsGlob(pattern) {
		if _, err := s.Fs.Stat(pattern); err != nil {
			return nil, fmt.Errorf("failed to stage %s: %w", pattern, err)
		}
		return []string{pattern}, nil
	}

	slashed := filepath.ToSlash(pattern)
	if !doublestar.ValidatePattern(slashed) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPattern, pattern)
	}

	root := StaticRoot(pattern)
	if _, err := s.Fs.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	// Without ** nothing deeper than the pattern itself can match.
	depth := -1
	if !strings.Contains(slashed, "**") {
		depth = segments(strings.TrimPrefix(slashed, filepath.ToSlash(root)))
	}

	var matches []string
	err := afero.Walk(s.Fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if path == dest {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		ok, err := doublestar.Match(slashed, filepath.ToSlash(path))
		if err != nil {
			return err
		}
		if ok {
			matches = append(matches, path)
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.IsDir() && depth >= 0 {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			if segments(filepath.ToSlash(rel)) >= depth {
				return filepath.SkipDir
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to expand %s: %w", pattern, err)
	}
	return matches, nil
}

func segments(path string) int {
	path = strings.Trim(path, "/")
	if path == "" {
		return 0
	}
	return strings.Count(path, "/") + 1
}

func (s *Stager) copyPath(src, dst string, written map[string]string) (int, error) {
	info, err := s.Fs.Stat(src)
	if err != nil {
		return 0, err
	}

	if !info.IsDir() {
		if err := claim(written, src, dst); err != nil {
			return 0, err
		}
		return 1, s.copyFile(src, dst, info.Mode().Perm())
	}

	copied := 0
	err = afero.Walk(s.Fs, src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if fi.IsDir() {
			return s.Fs.MkdirAll(target, 0o755)
		}
		if err := claim(written, path, target); err != nil {
			return err
		}
		copied++
		return s.copyFile(path, target, fi.Mode().Perm())
	})
	return copied, err
}

func claim(written map[string]string, src, dst string) error {
	if prev, ok := written[dst]; ok && prev != src {
		return fmt.Errorf("%w: %s and %s both stage to %s", ErrDuplicateTarget, prev, src, dst)
	}
	written[dst] = src
	return nil
}

func (s *Stager) copyFile(src, dst string, perm os.FileMode) error {
	data, err := afero.ReadFile(s.Fs, src)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}
	if err := s.Fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := afero.WriteFile(s.Fs, dst, data, perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return nil
}

// IsGlob reports whether the pattern holds glob meta characters.
func IsGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// StaticRoot returns the longest leading part of pattern free of glob meta
// characters.
func StaticRoot(pattern string) string {
	if !IsGlob(pattern) {
		return filepath.Clean(pattern)
	}
	idx := strings.IndexAny(pattern, "*?[")
	return filepath.Dir(pattern[:idx+1])
}
