// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"time"

	"github.com/OvertureAI/OvertureFOSS/services/conductor/ensemble"
)

// Config is the process configuration, loaded from overture.yaml.
type Config struct {
	// ListenAddr is the serve command's bind address.
	ListenAddr string `yaml:"listenAddr"`

	// DefinitionsDir holds the ensemble YAML files.
	DefinitionsDir string `yaml:"definitionsDir"`

	// DataDir holds the suspension database. Empty keeps suspensions in
	// memory, which does not survive restarts.
	DataDir string `yaml:"dataDir"`

	// SuspendTTL bounds how long suspended executions wait for resume.
	SuspendTTL ensemble.Duration `yaml:"suspendTTL"`

	// LogDir enables file logging when set.
	LogDir string `yaml:"logDir"`

	// LogLevel is debug, info, warn, or error.
	LogLevel string `yaml:"logLevel"`

	// Judge configures the LLM evaluator used by scored steps.
	Judge JudgeConfig `yaml:"judge"`

	// Chat configures the LLM member available to definitions.
	Chat ChatConfig `yaml:"chat"`
}

// JudgeConfig selects the scoring evaluator's endpoint and model.
type JudgeConfig struct {
	// BaseURL targets an OpenAI-compatible endpoint. Empty uses the
	// OpenAI API.
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`

	// Disabled skips evaluator construction; scored steps then fail.
	Disabled bool `yaml:"disabled"`
}

// ChatConfig selects the chat member's endpoint and model.
type ChatConfig struct {
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`
}

// DefaultConfig returns the defaults used when overture.yaml is absent.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":8085",
		DefinitionsDir: "ensembles",
		SuspendTTL:     ensemble.Duration(72 * time.Hour),
		LogLevel:       "info",
	}
}
