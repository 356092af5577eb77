package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"firestige.xyz/flowscope/internal/core"
)

// aggregatesFile is the on-disk layout of analyzer.aggregates_file.
type aggregatesFile struct {
	Aggregates []AggregateConfig `yaml:"aggregates" json:"aggregates"`
}

// LoadAggregates reads static aggregate definitions from a YAML or JSON
// file. The format is chosen by extension; anything but .json is YAML.
func LoadAggregates(path string) ([]AggregateConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read aggregates file: %w", err)
	}

	var f aggregatesFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &f)
	default:
		err = yaml.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", core.ErrConfigInvalid, path, err)
	}
	return f.Aggregates, nil
}
