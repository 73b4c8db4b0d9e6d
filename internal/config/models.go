package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ent0n29/complyassist/internal/history"
)

// modelLimitsFile is the on-disk shape of MODEL_LIMITS_FILE:
//
//	models:
//	  claude-sonnet-4-5:
//	    context_window: 200000
//	    max_output_tokens: 8192
//	    reserved_overhead_tokens: 1024
type modelLimitsFile struct {
	Models map[string]history.ModelLimits `yaml:"models"`
}

// LoadModelLimits returns the built-in model table with the entries from path
// merged over it. An empty path yields the built-ins alone.
func LoadModelLimits(path string) (map[string]history.ModelLimits, error) {
	models := history.DefaultModelLimits()
	path = strings.TrimSpace(path)
	if path == "" {
		return models, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model limits file: %w", err)
	}
	overrides, err := ParseModelLimits(data)
	if err != nil {
		return nil, err
	}
	for name, limits := range overrides {
		models[strings.ToLower(strings.TrimSpace(name))] = limits
	}
	return models, nil
}

// ParseModelLimits decodes and validates a model limits document.
func ParseModelLimits(data []byte) (map[string]history.ModelLimits, error) {
	var file modelLimitsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse model limits file: %w", err)
	}
	for name, limits := range file.Models {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("model limits file contains an empty model identifier")
		}
		if err := limits.Validate(); err != nil {
			return nil, fmt.Errorf("model %q: %w", name, err)
		}
	}
	return file.Models, nil
}
