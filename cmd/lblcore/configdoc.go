package main

import (
	"fmt"
	"os"
	"strings"

	sigsyaml "sigs.k8s.io/yaml"

	"github.com/lionxlover/lblcore/internal/config"
)

// loadConfigDocument reads a config document from disk and validates it.
// The engine itself only ever loads JSON off a mounted volume, but the CLI
// also accepts a .yaml/.yml file for convenience, converting it to JSON
// first — sigs.k8s.io/yaml round-trips through JSON tags rather than YAML
// tags, so the converted document validates against the same schema and
// struct tags the JSON path uses, with no separate YAML schema to maintain.
func loadConfigDocument(path string) (*config.LblConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = sigsyaml.YAMLToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("convert yaml config to json: %w", err)
		}
	}

	cfg, err := config.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
