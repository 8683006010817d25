package config

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const projectRoot = "/project"

func newTestResolver(t *testing.T, files map[string]string) *Resolver {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(projectRoot, 0o755))
	for name, content := range files {
		path := filepath.Join(projectRoot, name)
		require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	}
	return NewResolver(fs, projectRoot, log.New(io.Discard))
}

func TestResolveDefaults(t *testing.T) {
	r := newTestResolver(t, map[string]string{
		"hello/index.js": "exports.handler = () => {}",
	})

	cfg, err := r.Resolve("hello")
	require.NoError(t, err)

	assert.Equal(t, "index.handler", cfg.Handler)
	assert.Equal(t, int32(128), cfg.MemorySize)
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, "nodejs", cfg.Runtime)
	assert.Equal(t, int32(10), cfg.Timeout)
	assert.Equal(t, NamingCamel, cfg.NamingPolicy)
	assert.Equal(t, "Hello", cfg.FunctionName)
	assert.Equal(t, filepath.Join(projectRoot, "hello"), cfg.Dir)
}

func TestResolveCamelNaming(t *testing.T) {
	r := newTestResolver(t, map[string]string{
		"lambda-config.yaml":     "contextName: Foo\nnamingPolicy: camel\n",
		"bar/lambda-config.yaml": "functionName: bar\n",
	})

	cfg, err := r.Resolve("bar")
	require.NoError(t, err)
	assert.Equal(t, "FooBar", cfg.FunctionName)
}

func TestResolveSnakeNaming(t *testing.T) {
	r := newTestResolver(t, map[string]string{
		"lambda-config.yaml":     "contextName: foo\nnamingPolicy: snake\n",
		"baz/lambda-config.yaml": "functionName: Bar\n",
	})

	cfg, err := r.Resolve("baz")
	require.NoError(t, err)
	assert.Equal(t, "foo_bar", cfg.FunctionName)
}

func TestResolveLegacyNamingKey(t *testing.T) {
	r := newTestResolver(t, map[string]string{
		"lambda-config.json": `{"contextName": "Ctx", "naming": "snake"}`,
		"Thing/event.json":   `{}`,
	})

	cfg, err := r.Resolve("Thing")
	require.NoError(t, err)
	assert.Equal(t, "Ctx_thing", cfg.FunctionName)
}

func TestResolveNamingPolicyMissing(t *testing.T) {
	r := newTestResolver(t, map[string]string{
		"fn/lambda-config.yaml": "namingPolicy: ~\n",
	})

	_, err := r.Resolve("fn")
	require.ErrorIs(t, err, ErrNamingPolicyMissing)
}

func TestResolveUnknownNamingPolicy(t *testing.T) {
	r := newTestResolver(t, map[string]string{
		"fn/lambda-config.yaml": "namingPolicy: weird\n",
	})

	_, err := r.Resolve("fn")
	require.ErrorIs(t, err, ErrUnknownNamingPolicy)
	assert.Contains(t, err.Error(), "weird")
}

func TestResolveDirectoryNotFound(t *testing.T) {
	r := newTestResolver(t, nil)

	_, err := r.Resolve("missing")
	require.ErrorIs(t, err, ErrDirectoryNotFound)
}

func TestResolveFunctionOverridesProject(t *testing.T) {
	r := newTestResolver(t, map[string]string{
		"lambda-config.yaml": `
region: eu-west-1
timeout: 30
role: project-role
environment:
  STAGE: prod
  LOG_LEVEL: info
vpc:
  subnetIds: [subnet-a]
`,
		"fn/lambda-config.toml": `
timeout = 60
runtime = "python3.12"

[environment]
LOG_LEVEL = "debug"

[vpc]
securityGroupIds = ["sg-1"]
`,
	})

	cfg, err := r.Resolve("fn")
	require.NoError(t, err)

	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, int32(60), cfg.Timeout)
	assert.Equal(t, "python3.12", cfg.Runtime)
	assert.Equal(t, "project-role", cfg.Role)
	assert.Equal(t, map[string]string{"STAGE": "prod", "LOG_LEVEL": "debug"}, cfg.Environment)
	assert.Equal(t, []string{"subnet-a"}, cfg.VPC.SubnetIds)
	assert.Equal(t, []string{"sg-1"}, cfg.VPC.SecurityGroupIds)
}

func TestResolveIncludesAreAbsolute(t *testing.T) {
	r := newTestResolver(t, map[string]string{
		"fn/lambda-config.yaml": "include:\n  - shared/util.js\n  - /opt/lib/common.js\n  - ../outside/x.js\n  - shared/util.js\n",
	})

	cfg, err := r.Resolve("fn")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/project/shared/util.js",
		"/opt/lib/common.js",
		"/outside/x.js",
		"/project/shared/util.js",
	}, cfg.Include)
	for _, include := range cfg.Include {
		assert.True(t, filepath.IsAbs(include), include)
	}
}

func TestResolveBrokenProjectConfigFallsBackToDefaults(t *testing.T) {
	r := newTestResolver(t, map[string]string{
		"lambda-config.yaml": "region: [unterminated\n",
		"fn/index.js":        "",
	})

	cfg, err := r.Resolve("fn")
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", cfg.Region)
}

func TestResolveBrokenFunctionConfigFails(t *testing.T) {
	r := newTestResolver(t, map[string]string{
		"fn/lambda-config.json": "{not json",
	})

	_, err := r.Resolve("fn")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestResolveDoesNotLeakBetweenCalls(t *testing.T) {
	r := newTestResolver(t, map[string]string{
		"lambda-config.yaml": "include: [shared/a.js]\n",
		"one/index.js":       "",
		"two/index.js":       "",
	})

	first, err := r.Resolve("one")
	require.NoError(t, err)
	second, err := r.Resolve("two")
	require.NoError(t, err)

	assert.Equal(t, []string{"/project/shared/a.js"}, first.Include)
	assert.Equal(t, []string{"/project/shared/a.js"}, second.Include)
	assert.Equal(t, "One", first.FunctionName)
	assert.Equal(t, "Two", second.FunctionName)
}

func TestResolveDefaultRegion(t *testing.T) {
	r := newTestResolver(t, map[string]string{
		"plain/index.js":            "",
		"pinned/lambda-config.yaml": "region: ap-south-1\n",
	})
	r.SetDefaultRegion("eu-central-1")

	cfg, err := r.Resolve("plain")
	require.NoError(t, err)
	assert.Equal(t, "eu-central-1", cfg.Region)

	cfg, err = r.Resolve("pinned")
	require.NoError(t, err)
	assert.Equal(t, "ap-south-1", cfg.Region)
}

func TestResolveDefaultRegionLosesToProjectFile(t *testing.T) {
	r := newTestResolver(t, map[string]string{
		"lambda-config.yaml": "region: eu-west-3\n",
		"fn/index.js":        "",
	})
	r.SetDefaultRegion("eu-central-1")

	cfg, err := r.Resolve("fn")
	require.NoError(t, err)
	assert.Equal(t, "eu-west-3", cfg.Region)
}
