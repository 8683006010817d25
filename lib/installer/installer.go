// Package installer installs the npm dependencies of a function into its
// build directory.
package installer

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/nicolasgere/lambdaknit/lib/runner"
	"github.com/nicolasgere/lambdaknit/lib/utils"
	"github.com/spf13/afero"
)

const ManifestName = "package.json"

type NpmInstaller struct {
	Fs     afero.Fs
	Runner *runner.Runner
	// Command is the package manager binary, "npm" by default.
	Command string
	Args    []string
	// LookPath resolves Command, exec.LookPath by default.
	LookPath func(string) (string, error)
}

func NewNpmInstaller(fs afero.Fs, r *runner.Runner) *NpmInstaller {
	return &NpmInstaller{
		Fs:       fs,
		Runner:   r,
		Command:  "npm",
		Args:     []string{"install", "--progress=false"},
		LookPath: exec.LookPath,
	}
}

// Install writes the function manifest, with local "file:" dependencies made
// absolute, into buildDir and runs the package manager there.
// Functions without a manifest or without dependencies are left alone.
func (i *NpmInstaller) Install(ctx context.Context, id, functionDir, buildDir string) error {
	manifestPath := filepath.Join(functionDir, ManifestName)
	utils.LogWithTaskId(id, "Checking for manifest", utils.DEBUG, "path", manifestPath)

	exists, err := afero.Exists(i.Fs, manifestPath)
	if err != nil {
		return err
	}
	if !exists {
		utils.LogWithTaskId(id, "No manifest, skipping dependencies", utils.DEBUG, "path", manifestPath)
		return nil
	}

	data, err := afero.ReadFile(i.Fs, manifestPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", manifestPath, err)
	}
	var manifest map[string]any
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("failed to parse %s: %w", manifestPath, err)
	}

	if !RewriteLocalDependencies(manifest, functionDir) {
		utils.LogWithTaskId(id, "No dependencies to install", utils.INFO)
		return nil
	}

	rewritten, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	buildManifest := filepath.Join(buildDir, ManifestName)
	utils.LogWithTaskId(id, "Writing manifest", utils.DEBUG, "path", buildManifest)
	if err := afero.WriteFile(i.Fs, buildManifest, rewritten, 0o644); err != nil {
		return fmt.Errorf("could not create %s: %w", buildManifest, err)
	}

	if _, err := i.LookPath(i.Command); err != nil {
		return fmt.Errorf("can't install! `%s` doesn't seem to be installed: %w", i.Command, err)
	}

	cmdline := strings.Join(append([]string{i.Command}, i.Args...), " ")
	utils.LogTaskStart(id, cmdline)

	result := i.Runner.RunTask(runner.Task{
		Id:   id,
		Cmd:  i.Command,
		Args: i.Args,
		Root: buildDir,
	}).Log()
	if result.Err != nil {
		return fmt.Errorf("%s exited with code %d: %w", i.Command, result.Status, result.Err)
	}
	return nil
}

// RewriteLocalDependencies resolves every "file:" dependency of the manifest
// against functionDir, in place. It reports whether the manifest declares any
// dependency at all.
func RewriteLocalDependencies(manifest map[string]any, functionDir string) bool {
	deps, ok := manifest["dependencies"].(map[string]any)
	if !ok || len(deps) == 0 {
		return false
	}

	for name, value := range deps {
		version, ok := value.(string)
		if !ok || !strings.HasPrefix(version, "file:") {
			continue
		}
		target := strings.TrimPrefix(version, "file:")
		if !filepath.IsAbs(target) {
			target = filepath.Join(functionDir, target)
		}
		deps[name] = "file:" + filepath.Clean(target)
	}
	return true
}
