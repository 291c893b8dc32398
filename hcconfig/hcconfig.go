// Package hcconfig loads and validates a pipeline configuration file.
// The engine itself never reads a file — it only ever consumes an
// already-validated model.Configuration value.
package hcconfig

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hookci/hookci/model"
)

// wireConfiguration mirrors model.Configuration with struct-tag
// validation layered on top of the hand-written invariant checks in
// model.Configuration.Validate — validator/v10 catches shape problems
// (a missing required field) cheaply before the richer DAG/XOR checks
// run.
type wireConfiguration struct {
	Version  string           `yaml:"version" validate:"required"`
	LogLevel model.LogLevel   `yaml:"log_level" validate:"required,oneof=DEBUG INFO ERROR"`
	Docker   model.DockerSpec `yaml:"docker"`
	Hooks    model.Hooks      `yaml:"hooks"`
	Filters  *model.Filters   `yaml:"filters,omitempty"`
	Steps    []model.Step     `yaml:"steps" validate:"dive"`
}

var validate = validator.New()

// Load reads, parses, and validates the pipeline configuration at path,
// returning a model.Configuration ready to pass to orchestrator.Run.
func Load(path string) (model.Configuration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.Configuration{}, fmt.Errorf("hcconfig: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse parses and validates raw YAML bytes into a model.Configuration.
func Parse(raw []byte) (model.Configuration, error) {
	var wire wireConfiguration
	if err := yaml.Unmarshal(raw, &wire); err != nil {
		return model.Configuration{}, fmt.Errorf("hcconfig: parse: %w", err)
	}

	if err := validate.Struct(wire); err != nil {
		return model.Configuration{}, fmt.Errorf("hcconfig: %w", err)
	}

	cfg := model.Configuration{
		Version:  wire.Version,
		LogLevel: wire.LogLevel,
		Docker:   wire.Docker,
		Hooks:    wire.Hooks,
		Filters:  wire.Filters,
		Steps:    wire.Steps,
	}

	if err := cfg.Validate(); err != nil {
		return model.Configuration{}, fmt.Errorf("hcconfig: %w", err)
	}

	return cfg, nil
}
