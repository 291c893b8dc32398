package model

import (
	"fmt"
)

// LogLevel is the configuration's logging verbosity, passed through
// unchanged on PipelineStart so a consumer can match its own verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelError LogLevel = "ERROR"
)

func (l LogLevel) valid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelError:
		return true
	}
	return false
}

// DockerSpec is the "exactly one of image or dockerfile" union from the
// configuration's docker block. It isn't modeled as a Go sum type because
// the wire format is YAML, and yaml.v3 has no native support for decoding
// a tagged union from sibling keys; validation enforces the XOR instead.
type DockerSpec struct {
	Image      string `yaml:"image,omitempty"`
	Dockerfile string `yaml:"dockerfile,omitempty"`
}

func (d DockerSpec) IsRecipe() bool {
	return d.Dockerfile != ""
}

func (d DockerSpec) Validate() error {
	switch {
	case d.Image == "" && d.Dockerfile == "":
		return fmt.Errorf("docker: exactly one of image or dockerfile must be set, got neither")
	case d.Image != "" && d.Dockerfile != "":
		return fmt.Errorf("docker: exactly one of image or dockerfile must be set, got both")
	}
	return nil
}

// Hooks gates which git hook types a configuration permits running under.
type Hooks struct {
	PreCommit bool `yaml:"pre_commit"`
	PrePush   bool `yaml:"pre_push"`
}

// Filters optionally narrows hook-triggered runs by branch name and/or
// staged commit message, each an anchored regular expression.
type Filters struct {
	Branches string `yaml:"branches,omitempty"`
	Commits  string `yaml:"commits,omitempty"`
}

// Step is a single shell command executed in a container as part of a
// pipeline.
type Step struct {
	Name      string            `yaml:"name"`
	Command   string            `yaml:"command"`
	Critical  *bool             `yaml:"critical,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	DependsOn []string          `yaml:"depends_on,omitempty"`
}

// IsCritical returns the step's critical flag, defaulting to true when
// unset.
func (s Step) IsCritical() bool {
	if s.Critical == nil {
		return true
	}
	return *s.Critical
}

// Configuration is the fully validated, immutable input to a pipeline run.
type Configuration struct {
	Version  string     `yaml:"version"`
	LogLevel LogLevel   `yaml:"log_level"`
	Docker   DockerSpec `yaml:"docker"`
	Hooks    Hooks      `yaml:"hooks"`
	Filters  *Filters   `yaml:"filters,omitempty"`
	Steps    []Step     `yaml:"steps"`
}

// Validate enforces the configuration invariants: unique step names, an
// acyclic and referentially closed depends_on graph, image XOR dockerfile,
// and a present (boolean, so always "valid" once parsed) hooks block.
func (c Configuration) Validate() error {
	if !c.LogLevel.valid() {
		return fmt.Errorf("log_level: invalid value %q", c.LogLevel)
	}

	if err := c.Docker.Validate(); err != nil {
		return err
	}

	names := make(map[string]struct{}, len(c.Steps))
	for _, s := range c.Steps {
		if s.Name == "" {
			return fmt.Errorf("step: name must not be empty")
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("step %q: duplicate step name", s.Name)
		}
		names[s.Name] = struct{}{}
	}

	for _, s := range c.Steps {
		for _, dep := range s.DependsOn {
			if dep == s.Name {
				return fmt.Errorf("step %q: depends on itself", s.Name)
			}
			if _, ok := names[dep]; !ok {
				return fmt.Errorf("step %q: depends_on references undeclared step %q", s.Name, dep)
			}
		}
	}

	if err := checkAcyclic(c.Steps); err != nil {
		return err
	}

	return nil
}

// checkAcyclic validates that the depends_on graph has no cycles. It is
// validated only, per spec's Non-goals: execution always runs steps in
// declaration order regardless of this graph.
func checkAcyclic(steps []Step) error {
	const (
		white = iota
		gray
		black
	)

	byName := make(map[string]Step, len(steps))
	for _, s := range steps {
		byName[s.Name] = s
	}

	color := make(map[string]int, len(steps))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("depends_on graph has a cycle: %v", append(path, name))
		}
		color[name] = gray
		for _, dep := range byName[name].DependsOn {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}

	for _, s := range steps {
		if err := visit(s.Name, nil); err != nil {
			return err
		}
	}
	return nil
}
