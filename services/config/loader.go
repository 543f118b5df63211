// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "abraxus.yaml"

// Load reads the YAML file at path over Default(). A missing file is not an
// error and yields the defaults. The result is not validated; call
// ApplyEnv then Validate.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides the file values with OLLAMA_HOST, OLLAMA_MODEL and
// ABRAXUS_LOG_LEVEL when they are set. A host without a scheme is treated
// as http.
func (c *Config) ApplyEnv() {
	if host := strings.TrimSpace(os.Getenv("OLLAMA_HOST")); host != "" {
		if !strings.Contains(host, "://") {
			host = "http://" + host
		}
		c.LLM.BaseURL = host
	}
	if model := strings.TrimSpace(os.Getenv("OLLAMA_MODEL")); model != "" {
		c.LLM.Model = model
	}
	if level := strings.TrimSpace(os.Getenv("ABRAXUS_LOG_LEVEL")); level != "" {
		c.Logging.Level = strings.ToLower(level)
	}
}

// Write saves cfg as YAML at path, creating or truncating the file.
func Write(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// =============================================================================
// Experiment Files
// =============================================================================

// ExperimentSpec describes one experiment to register through a file or
// POST /v1/experiments. Name and procedure are required on both paths.
type ExperimentSpec struct {
	Name       string `yaml:"name" json:"name" binding:"required" validate:"required"`
	Hypothesis string `yaml:"hypothesis" json:"hypothesis"`
	Procedure  string `yaml:"procedure" json:"procedure" binding:"required" validate:"required"`
}

// ExperimentFile is the layout of an --experiments file.
type ExperimentFile struct {
	Experiments []ExperimentSpec `yaml:"experiments" validate:"required,min=1,dive"`
}

// LoadExperiments reads and validates an experiment file.
func LoadExperiments(path string) ([]ExperimentSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read experiments %s: %w", path, err)
	}
	var file ExperimentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse experiments %s: %w", path, err)
	}
	if err := validate.Struct(&file); err != nil {
		return nil, fmt.Errorf("%w: experiments %s: %v", ErrInvalid, path, err)
	}
	return file.Experiments, nil
}

// BicycleExperiments returns the two demo experiments.
func BicycleExperiments() []ExperimentSpec {
	return []ExperimentSpec{
		{
			Name:       "Bicycle Balance",
			Hypothesis: "A moving bicycle is naturally stable due to gyroscopic effects",
			Procedure:  "Analyze the physics of a moving bicycle and its stability factors",
		},
		{
			Name:       "Bicycle Frame Materials",
			Hypothesis: "Carbon fiber frames provide the best strength-to-weight ratio for bicycles",
			Procedure:  "Compare different bicycle frame materials and their properties",
		},
	}
}
