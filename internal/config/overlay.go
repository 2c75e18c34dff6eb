package config

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnvVar names the optional YAML overlay applied on top of the
// environment-derived Config, for settings more naturally expressed as a
// checked-in file than a pile of env vars (storage layout, facet-batch
// tuning).
const ConfigFileEnvVar = "CONFIG_FILE"

// fileOverlay mirrors the subset of Config a YAML file may override. Zero
// values are treated as "not set" and leave the env-derived default in place.
type fileOverlay struct {
	Storage struct {
		Kind     string `yaml:"kind"`
		BasePath string `yaml:"base_path"`
	} `yaml:"storage"`
	FacetBatch struct {
		MaxValuesPerFacet int `yaml:"max_values_per_facet"`
	} `yaml:"facet_batch"`
}

// applyFileOverlay layers the YAML file named by CONFIG_FILE onto cfg. A
// missing file is not an error — the overlay is optional, following the
// same graceful-degradation contract as the rest of this package's env
// getters: a malformed or absent file never prevents startup, it just logs
// and leaves cfg as the env/default build produced it.
func applyFileOverlay(cfg *Config) {
	path := GetEnvStr(ConfigFileEnvVar, "")
	if path == "" {
		return
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted deployment config
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to read config overlay, continuing with env/defaults",
				slog.String("path", path), slog.String("error", err.Error()))
		}

		return
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		slog.Warn("failed to parse config overlay, continuing with env/defaults",
			slog.String("path", path), slog.String("error", err.Error()))

		return
	}

	if overlay.Storage.Kind != "" {
		cfg.Storage.Kind = overlay.Storage.Kind
	}

	if overlay.Storage.BasePath != "" {
		cfg.Storage.BasePath = overlay.Storage.BasePath
	}

	if overlay.FacetBatch.MaxValuesPerFacet != 0 {
		cfg.FacetBatch.MaxValuesPerFacet = overlay.FacetBatch.MaxValuesPerFacet
	}
}
