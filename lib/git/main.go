package git

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// GetChangedFiles returns the absolute paths of the files changed compared to a reference.
// If useMergeBase is true, it compares against the merge-base (common ancestor),
// which is useful in CI to detect changes in a PR/branch.
func GetChangedFiles(compareRef string, useMergeBase bool, dir string) ([]string, error) {
	root, err := GetRepoRoot(dir)
	if err != nil {
		return nil, err
	}

	ref := compareRef
	if useMergeBase {
		mergeBase, err := getMergeBase(compareRef, dir)
		if err != nil {
			return nil, fmt.Errorf("failed to get merge-base: %w", err)
		}
		ref = mergeBase
	}

	cmd := exec.Command("git", "diff", "--name-only", ref)
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("error executing git diff: %w", err)
	}

	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" {
		return []string{}, nil
	}

	// git diff paths are relative to the repository root
	files := strings.Split(trimmed, "\n")
	for i, f := range files {
		files[i] = filepath.Join(root, filepath.FromSlash(f))
	}
	return files, nil
}

// GetRepoRoot returns the top level directory of the repository holding dir.
func GetRepoRoot(dir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	root := strings.TrimSpace(string(output))
	// Resolve symlinks so the root compares with paths built from dir
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	return root, nil
}

// getMergeBase finds the common ancestor between HEAD and the given ref
func getMergeBase(ref string, dir string) (string, error) {
	cmd := exec.Command("git", "merge-base", ref, "HEAD")
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git merge-base failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// FindAffectedDirs determines which directories contain changed files.
// Both lists hold absolute paths. A file is attributed to the most specific
// directory containing it, or to a directory path equal to the file itself.
// The result is sorted.
func FindAffectedDirs(changedFiles []string, dirs []string) []string {
	sortedDirs := make([]string, len(dirs))
	copy(sortedDirs, dirs)
	// Longest first so a nested directory wins over its parent
	sort.Slice(sortedDirs, func(i, j int) bool { return len(sortedDirs[i]) > len(sortedDirs[j]) })

	affectedDirs := make(map[string]bool)
	for _, file := range changedFiles {
		file = filepath.Clean(file)
		for _, dir := range sortedDirs {
			if file == dir || strings.HasPrefix(file, dir+string(filepath.Separator)) {
				affectedDirs[dir] = true
				break
			}
		}
	}

	result := make([]string, 0, len(affectedDirs))
	for dir := range affectedDirs {
		result = append(result, dir)
	}
	sort.Strings(result)
	return result
}
