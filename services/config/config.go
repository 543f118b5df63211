// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads abraxus.yaml and converts it into the option structs
// of each component.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/abraxus/pkg/logging"
	"github.com/AleutianAI/abraxus/services/kernel"
	"github.com/AleutianAI/abraxus/services/llm"
	"github.com/AleutianAI/abraxus/services/telemetry"
	"github.com/go-playground/validator/v10"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

var validate = validator.New()

// Config is the root of abraxus.yaml.
type Config struct {
	LLM       LLMSection       `yaml:"llm"`
	Kernel    KernelSection    `yaml:"kernel"`
	Logging   LoggingSection   `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Server    ServerSection    `yaml:"server"`
}

type LLMSection struct {
	BaseURL        string        `yaml:"base_url" validate:"required,url"`
	Model          string        `yaml:"model" validate:"required"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout" validate:"gt=0"`
	// QueryTimeout of zero disables the per-query deadline.
	QueryTimeout time.Duration `yaml:"query_timeout" validate:"gte=0"`
}

// KernelSection carries the kernel constructor arguments. They are reported
// in status output; nothing is read from or written to these paths.
type KernelSection struct {
	KnowledgeDir string `yaml:"kb_dir"`
	OutputDir    string `yaml:"output_dir"`
	MaxMemory    int64  `yaml:"max_memory" validate:"gte=0"`
}

type LoggingSection struct {
	Level   string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir     string `yaml:"dir"`
	JSON    bool   `yaml:"json"`
	Service string `yaml:"service"`
}

type ServerSection struct {
	Port            int           `yaml:"port" validate:"gte=1,lte=65535"`
	GinMode         string        `yaml:"gin_mode" validate:"omitempty,oneof=debug release test"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// Default returns the built-in configuration. It matches the demo driver's
// kernel arguments and a local Ollama server.
func Default() Config {
	lc := llm.DefaultConfig()
	return Config{
		LLM: LLMSection{
			BaseURL:        lc.BaseURL,
			Model:          lc.Model,
			AcquireTimeout: lc.AcquireTimeout,
			QueryTimeout:   lc.QueryTimeout,
		},
		Kernel: KernelSection{
			KnowledgeDir: "kb_dir",
			OutputDir:    "output_dir",
			MaxMemory:    1000000,
		},
		Logging: LoggingSection{
			Level:   "info",
			Service: "abraxus",
		},
		Telemetry: telemetry.DefaultConfig(),
		Server: ServerSection{
			Port:            12310,
			GinMode:         "release",
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Validate checks every section against its struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// LLMConfig converts the llm section.
func (c *Config) LLMConfig() llm.Config {
	return llm.Config{
		BaseURL:        c.LLM.BaseURL,
		Model:          c.LLM.Model,
		AcquireTimeout: c.LLM.AcquireTimeout,
		QueryTimeout:   c.LLM.QueryTimeout,
	}
}

// KernelConfig converts the kernel and llm sections.
func (c *Config) KernelConfig() kernel.Config {
	return kernel.Config{
		LLM:          c.LLMConfig(),
		KnowledgeDir: c.Kernel.KnowledgeDir,
		OutputDir:    c.Kernel.OutputDir,
		MaxMemory:    c.Kernel.MaxMemory,
	}
}

// LoggingConfig converts the logging section.
func (c *Config) LoggingConfig() (logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: c.Logging.Service,
		JSON:    c.Logging.JSON,
	}, nil
}

// TelemetryConfig returns the telemetry section.
func (c *Config) TelemetryConfig() telemetry.Config {
	return c.Telemetry
}
