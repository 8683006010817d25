package installer

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nicolasgere/lambdaknit/lib/runner"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewriteLocalDependencies(t *testing.T) {
	manifest := map[string]any{
		"name": "fn",
		"dependencies": map[string]any{
			"lodash": "^4.17.0",
			"shared": "file:../shared",
			"abs":    "file:/opt/pkg",
		},
	}

	require.True(t, RewriteLocalDependencies(manifest, "/project/fn"))

	deps := manifest["dependencies"].(map[string]any)
	assert.Equal(t, "^4.17.0", deps["lodash"])
	assert.Equal(t, "file:/project/shared", deps["shared"])
	assert.Equal(t, "file:/opt/pkg", deps["abs"])
}

func TestRewriteLocalDependenciesWithoutDependencies(t *testing.T) {
	assert.False(t, RewriteLocalDependencies(map[string]any{"name": "fn"}, "/p"))
	assert.False(t, RewriteLocalDependencies(map[string]any{"dependencies": map[string]any{}}, "/p"))
}

func TestInstallSkipsWithoutManifest(t *testing.T) {
	fs := afero.NewMemMapFs()
	i := NewNpmInstaller(fs, nil)
	i.LookPath = func(string) (string, error) {
		t.Fatal("package manager must not be looked up")
		return "", nil
	}

	require.NoError(t, i.Install(context.Background(), "fn", "/p/fn", "/p/fn/build"))
}

func TestInstallMissingPackageManager(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/p/fn/package.json",
		[]byte(`{"dependencies": {"shared": "file:../shared"}}`), 0o644))
	require.NoError(t, fs.MkdirAll("/p/fn/build", 0o755))

	i := NewNpmInstaller(fs, nil)
	i.LookPath = func(string) (string, error) { return "", errors.New("not found") }

	err := i.Install(context.Background(), "fn", "/p/fn", "/p/fn/build")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "doesn't seem to be installed")

	// The manifest is written before the package manager runs
	data, err := afero.ReadFile(fs, "/p/fn/build/package.json")
	require.NoError(t, err)
	var manifest map[string]any
	require.NoError(t, json.Unmarshal(data, &manifest))
	assert.Equal(t, "file:/p/shared", manifest["dependencies"].(map[string]any)["shared"])
}

func TestInstallRunsPackageManager(t *testing.T) {
	dir := t.TempDir()
	functionDir := filepath.Join(dir, "fn")
	buildDir := filepath.Join(functionDir, "build")
	require.NoError(t, os.MkdirAll(buildDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(functionDir, "package.json"),
		[]byte(`{"dependencies": {"left-pad": "1.3.0"}}`), 0o644))

	r := runner.NewRunner(context.Background(), 1)
	i := NewNpmInstaller(afero.NewOsFs(), &r)
	// Stand-in package manager that records where it ran
	i.Command = "sh"
	i.Args = []string{"-c", "pwd > installed.txt"}

	require.NoError(t, i.Install(context.Background(), "fn", functionDir, buildDir))

	out, err := os.ReadFile(filepath.Join(buildDir, "installed.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(out), "build")
}

func TestInstallPropagatesFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"),
		[]byte(`{"dependencies": {"left-pad": "1.3.0"}}`), 0o644))
	buildDir := filepath.Join(dir, "build")
	require.NoError(t, os.MkdirAll(buildDir, 0o755))

	r := runner.NewRunner(context.Background(), 1)
	i := NewNpmInstaller(afero.NewOsFs(), &r)
	i.Command = "sh"
	i.Args = []string{"-c", "exit 2"}

	err := i.Install(context.Background(), "fn", dir, buildDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 2")
}
