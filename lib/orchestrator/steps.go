package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/nicolasgere/lambdaknit/lib/cloud"
	"github.com/nicolasgere/lambdaknit/lib/utils"
	"github.com/spf13/afero"
)

// Build stages the function sources and includes into its build directory and
// installs dependencies for node functions.
func (o *Orchestrator) Build(ctx context.Context, name string) error {
	dir, buildDir, _ := o.paths(name)

	cfg, err := o.Resolver.Resolve(dir)
	if err != nil {
		return err
	}

	utils.LogWithTaskId(name, "Building", utils.INFO, "dir", buildDir)
	if err := o.Fs.MkdirAll(buildDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", buildDir, err)
	}

	var patterns []string
	family := runtimeFamily(cfg.Runtime)
	switch family {
	case "nodejs":
		patterns = append(patterns, filepath.Join(dir, "*.js"))
		patterns = o.appendIfExists(patterns, filepath.Join(dir, "package.json"))
	case "python":
		patterns = append(patterns, filepath.Join(dir, "*.py"))
		patterns = o.appendIfExists(patterns, filepath.Join(dir, "requirements.txt"))
	default:
		return fmt.Errorf("%w for %q: %q", ErrUnsupportedRuntime, name, cfg.Runtime)
	}
	patterns = append(patterns, cfg.Include...)

	n, err := o.Stager.Stage(patterns, buildDir)
	if err != nil {
		return err
	}
	utils.LogWithTaskId(name, "Staged sources", utils.INFO, "files", n)

	if family == "nodejs" && o.Installer != nil {
		if err := o.Installer.Install(ctx, name, dir, buildDir); err != nil {
			return err
		}
	}
	return nil
}

// Clean removes the build directory and the archive. Missing ones are fine.
func (o *Orchestrator) Clean(name string) error {
	_, buildDir, archivePath := o.paths(name)
	utils.LogWithTaskId(name, "Cleaning", utils.INFO)
	return o.Stager.Remove(archivePath, buildDir)
}

// Zip packs the build directory into the archive.
func (o *Orchestrator) Zip(name string) error {
	_, buildDir, archivePath := o.paths(name)
	utils.LogWithTaskId(name, "Packing", utils.INFO, "archive", archivePath)

	size, err := o.Archiver.ZipDir(buildDir, archivePath)
	if err != nil {
		return err
	}
	utils.LogWithTaskId(name, fmt.Sprintf("Wrote %db", size), utils.INFO, "archive", archivePath)
	return nil
}

// Upload deploys the archive with the resolved configuration.
func (o *Orchestrator) Upload(ctx context.Context, name string) (*cloud.Deployment, error) {
	dir, _, archivePath := o.paths(name)

	cfg, err := o.Resolver.Resolve(dir)
	if err != nil {
		return nil, err
	}

	exists, err := afero.Exists(o.Fs, archivePath)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, archivePath)
	}
	if o.Deployer == nil {
		return nil, ErrNoCloudClient
	}

	data, err := afero.ReadFile(o.Fs, archivePath)
	if err != nil {
		return nil, fmt.Errorf("reading zip file: %w", err)
	}

	utils.LogWithTaskId(name, "Uploading", utils.INFO, "function", cfg.FunctionName, "region", cfg.Region)
	deployment, err := o.Deployer.Deploy(ctx, data, cfg)
	if err != nil {
		return nil, err
	}
	utils.LogWithTaskId(name, "Deployed", utils.INFO, "arn", deployment.FunctionArn, "version", deployment.Version)
	return deployment, nil
}

// Invoke calls the deployed function with the event file of its directory.
func (o *Orchestrator) Invoke(ctx context.Context, name string) (*cloud.Invocation, error) {
	dir, _, _ := o.paths(name)

	cfg, err := o.Resolver.Resolve(dir)
	if err != nil {
		return nil, err
	}

	eventPath := filepath.Join(dir, EventFileName)
	exists, err := afero.Exists(o.Fs, eventPath)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w in %s", ErrEventFileNotFound, dir)
	}
	if o.Invoker == nil {
		return nil, ErrNoCloudClient
	}

	payload, err := afero.ReadFile(o.Fs, eventPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", eventPath, err)
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%s is not valid JSON", eventPath)
	}

	utils.LogWithTaskId(name, "Invoking", utils.INFO, "function", cfg.FunctionName)
	return o.Invoker.Invoke(ctx, cfg, payload)
}

// Deploy runs clean, build, zip and upload for one function, stopping at the
// first failing step.
func (o *Orchestrator) Deploy(ctx context.Context, name string) (*cloud.Deployment, error) {
	if err := o.Clean(name); err != nil {
		return nil, fmt.Errorf("clean: %w", err)
	}
	if err := o.Build(ctx, name); err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}
	if err := o.Zip(name); err != nil {
		return nil, fmt.Errorf("zip: %w", err)
	}
	deployment, err := o.Upload(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	return deployment, nil
}

// Tail fetches the recent log events of the deployed function.
func (o *Orchestrator) Tail(ctx context.Context, name string) ([]cloud.LogEvent, error) {
	dir, _, _ := o.paths(name)

	cfg, err := o.Resolver.Resolve(dir)
	if err != nil {
		return nil, err
	}
	if o.Logs == nil {
		return nil, ErrNoCloudClient
	}
	return o.Logs.Tail(ctx, cfg, o.TailOptions)
}

func (o *Orchestrator) appendIfExists(patterns []string, path string) []string {
	if exists, _ := afero.Exists(o.Fs, path); exists {
		return append(patterns, path)
	}
	return patterns
}
