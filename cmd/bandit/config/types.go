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
	"github.com/AleutianAI/AleutianBandit/services/bandit"
)

// BanditConfig is the on-disk CLI configuration.
type BanditConfig struct {
	// Output is rich, plain or machine. Empty means detect from the terminal.
	Output string `yaml:"output"`

	Engine  EngineConfig  `yaml:"engine"`
	Logging LoggingConfig `yaml:"logging"`

	// Server configures "bandit serve".
	Server bandit.Config `yaml:"server"`
}

// EngineConfig holds defaults for allocate and intervals.
type EngineConfig struct {
	Samples    int     `yaml:"samples"`
	Shards     int     `yaml:"shards"`
	Confidence float64 `yaml:"confidence"`
	ZMode      string  `yaml:"z_mode"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() BanditConfig {
	return BanditConfig{
		Engine: EngineConfig{
			Samples:    10000,
			Shards:     1,
			Confidence: 0.95,
			ZMode:      "fixed",
		},
		Logging: LoggingConfig{
			Level: "warn",
			Dir:   "~/.aleutian/logs",
		},
		Server: bandit.Config{
			Port:       12310,
			Store:      bandit.StoreBadger,
			DataDir:    "~/.aleutian/bandit/data",
			NumSamples: 10000,
			Shards:     1,
			MaxSamples: 200000,
			Confidence: 0.95,
			ZMode:      "fixed",
			WriteBurst: 20,
		},
	}
}
