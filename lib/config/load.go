package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// FileBaseName is the override file name, without extension, looked up in the
// project root and in every function directory.
const FileBaseName = "lambda-config"

// Extensions in lookup order.
var Extensions = []string{".yaml", ".yml", ".json", ".toml"}

// FindOverrideFile returns the first override file present in dir, or "" when
// there is none.
func FindOverrideFile(fs afero.Fs, dir string) (string, error) {
	for _, ext := range Extensions {
		candidate := filepath.Join(dir, FileBaseName+ext)
		exists, err := afero.Exists(fs, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", candidate, err)
		}
		if exists {
			return candidate, nil
		}
	}
	return "", nil
}

// LoadOverrideFile decodes an override file into a settings map.
// The format is picked from the file extension.
func LoadOverrideFile(fs afero.Fs, path string) (map[string]any, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	settings := map[string]any{}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &settings)
	case ".json":
		err = json.Unmarshal(data, &settings)
	case ".toml":
		err = toml.Unmarshal(data, &settings)
	default:
		return nil, fmt.Errorf("unsupported config format: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	// An empty YAML document decodes to a nil map
	if settings == nil {
		settings = map[string]any{}
	}

	// "naming" is the historical name of the policy key
	if naming, ok := settings["naming"]; ok {
		if _, set := settings["namingPolicy"]; !set {
			settings["namingPolicy"] = naming
		}
		delete(settings, "naming")
	}

	return settings, nil
}
