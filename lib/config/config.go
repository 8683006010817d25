// Package config resolves the settings of one function directory by layering
// built-in defaults, the project override file and the function override file.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/afero"
)

// FunctionConfig is the resolved configuration of one function directory.
type FunctionConfig struct {
	Handler      string            `mapstructure:"handler" json:"handler"`
	ContextName  string            `mapstructure:"contextName" json:"contextName"`
	MemorySize   int32             `mapstructure:"memorySize" json:"memorySize"`
	Region       string            `mapstructure:"region" json:"region"`
	Role         string            `mapstructure:"role" json:"role"`
	Runtime      string            `mapstructure:"runtime" json:"runtime"`
	Timeout      int32             `mapstructure:"timeout" json:"timeout"`
	NamingPolicy string            `mapstructure:"namingPolicy" json:"namingPolicy"`
	FunctionName string            `mapstructure:"functionName" json:"functionName"`
	Description  string            `mapstructure:"description" json:"description,omitempty"`
	Publish      bool              `mapstructure:"publish" json:"publish,omitempty"`
	Include      []string          `mapstructure:"include" json:"include,omitempty"`
	Environment  map[string]string `mapstructure:"environment" json:"environment,omitempty"`
	VPC          VPCConfig         `mapstructure:"vpc" json:"vpc"`

	// Dir is the absolute path of the function directory.
	Dir string `mapstructure:"-" json:"dir"`
}

type VPCConfig struct {
	SubnetIds        []string `mapstructure:"subnetIds" json:"subnetIds,omitempty"`
	SecurityGroupIds []string `mapstructure:"securityGroupIds" json:"securityGroupIds,omitempty"`
}

// Defaults returns the built-in settings every resolution starts from.
func Defaults() map[string]any {
	return map[string]any{
		"handler":      "index.handler",
		"contextName":  "",
		"memorySize":   128,
		"region":       "us-east-1",
		"role":         "",
		"runtime":      "nodejs",
		"timeout":      10,
		"namingPolicy": NamingCamel,
	}
}

// Resolver produces a FunctionConfig for a function directory.
type Resolver struct {
	fs      afero.Fs
	workDir string
	logger  *log.Logger

	defaultRegion string
}

// NewResolver creates a resolver whose project override file is looked up in
// workDir. Relative function directories are taken relative to workDir too.
func NewResolver(fs afero.Fs, workDir string, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{fs: fs, workDir: workDir, logger: logger}
}

// SetDefaultRegion replaces the built-in region default. Override files still
// take precedence over it.
func (r *Resolver) SetDefaultRegion(region string) {
	r.defaultRegion = region
}

// FunctionDir returns the absolute directory of the named function.
func (r *Resolver) FunctionDir(name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(r.workDir, name)
}

// Resolve builds the configuration of the function living in dir.
func (r *Resolver) Resolve(dir string) (*FunctionConfig, error) {
	dir = r.FunctionDir(dir)
	defaults := Defaults()
	if r.defaultRegion != "" {
		defaults["region"] = r.defaultRegion
	}
	settings := Merge(defaults, r.projectSettings())

	exists, err := afero.DirExists(r.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, dir)
	}

	localPath, err := FindOverrideFile(r.fs, dir)
	if err != nil {
		return nil, err
	}
	if localPath != "" {
		local, err := LoadOverrideFile(r.fs, localPath)
		if err != nil {
			return nil, err
		}
		settings = Merge(settings, local)
	}

	cfg, err := decode(settings)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", dir, err)
	}
	cfg.Dir = dir

	if cfg.FunctionName == "" {
		cfg.FunctionName = filepath.Base(dir)
	}

	name, err := ApplyNamingPolicy(cfg.NamingPolicy, cfg.ContextName, cfg.FunctionName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(dir), err)
	}
	cfg.FunctionName = name

	// Includes are relative to the directory holding the function directories
	contextPath := filepath.Dir(dir)
	for i, include := range cfg.Include {
		if !filepath.IsAbs(include) {
			include = filepath.Join(contextPath, include)
		}
		cfg.Include[i] = filepath.Clean(include)
	}

	return cfg, nil
}

// projectSettings loads the project override file. A missing or broken file
// only produces a notice and the defaults stay in effect.
func (r *Resolver) projectSettings() map[string]any {
	path, err := FindOverrideFile(r.fs, r.workDir)
	if err == nil && path != "" {
		var settings map[string]any
		settings, err = LoadOverrideFile(r.fs, path)
		if err == nil {
			return settings
		}
	}

	if err != nil {
		r.logger.Info("NOTICE: project-level config could not be loaded, using defaults", "error", err)
	} else {
		r.logger.Info("NOTICE: no project-level " + FileBaseName + " found, skipping")
	}
	return nil
}

func decode(settings map[string]any) (*FunctionConfig, error) {
	var cfg FunctionConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, err
	}
	return &cfg, nil
}
