// Package config loads and validates the extractor configuration.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/nebula-firebird/pkg/nebulaerrors"
)

// configFileNames are tried in order inside the data directory.
var configFileNames = []string{"config.json", "config.yml", "config.yaml"}

// LoadFromDataDir finds and loads the configuration file of a data directory.
func LoadFromDataDir(dataDir string) (*Config, error) {
	for _, name := range configFileNames {
		path := filepath.Join(dataDir, name)
		if _, err := os.Stat(path); err == nil {
			cfg := &Config{}
			if err := Load(path, cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
	}

	return nil, nebulaerrors.Newf(nebulaerrors.KindConfiguration,
		"Configuration file not found in %s", dataDir).WithDetail("tried", configFileNames)
}

// Load loads a configuration from a YAML or JSON file
func Load(filePath string, config interface{}) error {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: File path is controlled by caller and validated
	if err != nil {
		return nebulaerrors.Wrap(err, nebulaerrors.KindConfiguration, "failed to read config file")
	}

	// Substitute environment variables
	content := substituteEnvVars(string(data))

	// JSON is a subset of YAML 1.2, so one decoder reads both formats
	if err := yaml.Unmarshal([]byte(content), config); err != nil {
		return nebulaerrors.Wrap(err, nebulaerrors.KindConfiguration, "failed to parse config file").
			WithDetail("path", filePath)
	}

	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with the value of a set environment
// variable. References to unset variables are kept verbatim.
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		if value, ok := os.LookupEnv(content[start+2 : end]); ok {
			b.WriteString(value)
		} else {
			b.WriteString(content[start : end+1])
		}
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
