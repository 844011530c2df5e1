// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command bandit-server runs the bandit allocation HTTP API.
//
// Configuration comes from environment variables.
//
// # Environment Variables
//
//   - BANDIT_PORT: HTTP port (default: 12310)
//   - BANDIT_STORE: badger, memory, sqlite or postgres (default: badger)
//   - BANDIT_DSN: sqlite path or postgres URL
//   - BANDIT_DATA_DIR: badger directory (default: ./data/bandit)
//   - BANDIT_NUM_SAMPLES: Monte Carlo rounds (default: 10000)
//   - BANDIT_SHARDS: sampling goroutines (default: 1)
//   - BANDIT_CONFIDENCE / BANDIT_Z_MODE: interval settings
//   - BANDIT_INFLUX_URL, _TOKEN, _ORG, _BUCKET: allocation history
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP gRPC collector, empty disables
//   - BANDIT_LOG_LEVEL, BANDIT_LOG_DIR, BANDIT_LOG_JSON: logging
//
// # Usage
//
//	go build -o bandit-server ./cmd/bandit-server
//	BANDIT_STORE=sqlite ./bandit-server
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"

	"github.com/AleutianAI/AleutianBandit/pkg/logging"
	"github.com/AleutianAI/AleutianBandit/services/bandit"
)

// serverConfig is everything the binary reads from the environment.
type serverConfig struct {
	bandit.Config

	LogLevel string `env:"BANDIT_LOG_LEVEL" envDefault:"info"`
	LogDir   string `env:"BANDIT_LOG_DIR"`
	LogJSON  bool   `env:"BANDIT_LOG_JSON" envDefault:"true"`
}

func loadConfig() (serverConfig, error) {
	var cfg serverConfig
	if err := env.Parse(&cfg); err != nil {
		return serverConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bandit-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.LogDir,
		Service: "bandit-server",
		JSON:    cfg.LogJSON,
	})
	defer logger.Close()
	logger.Install()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting bandit service",
		"port", cfg.Port,
		"store", cfg.Store,
		"num_samples", cfg.NumSamples,
		"shards", cfg.Shards,
		"z_mode", cfg.ZMode,
		"influx", cfg.Influx.URL != "",
	)

	svc, err := bandit.New(ctx, cfg.Config)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	return svc.Run(ctx)
}
