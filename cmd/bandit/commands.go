// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianBandit/cmd/bandit/config"
	"github.com/AleutianAI/AleutianBandit/pkg/logging"
	"github.com/AleutianAI/AleutianBandit/pkg/ux"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// cli holds state shared by subcommands for one invocation.
type cli struct {
	configPath string
	output     string
	logLevel   string

	cfg    config.BanditConfig
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "bandit",
		Short: "Thompson-sampling traffic allocation for A/B experiments",
		Long: `bandit turns per-variant success and trial counts into a recommended
traffic split and confidence intervals, or serves the same over HTTP.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default ~/.aleutian/bandit.yaml)")
	root.PersistentFlags().StringVarP(&c.output, "output", "o", "", "output style: rich, plain or machine")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		newAllocateCmd(c),
		newIntervalsCmd(c),
		newServeCmd(c),
		newVersionCmd(),
	)
	return root
}

// setup loads configuration, output mode and logging.
func (c *cli) setup(cmd *cobra.Command, args []string) error {
	var err error
	if c.configPath != "" {
		c.cfg, err = config.LoadFrom(c.configPath)
	} else {
		err = config.Load()
		c.cfg = config.Global
	}
	if err != nil {
		return err
	}

	switch {
	case c.output != "":
		ux.SetMode(ux.ParseMode(c.output))
	case c.cfg.Output != "":
		ux.SetMode(ux.ParseMode(c.cfg.Output))
	default:
		ux.InitMode()
	}

	levelName := c.cfg.Logging.Level
	if c.logLevel != "" {
		levelName = c.logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	c.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  c.cfg.Logging.Dir,
		Service: "bandit",
		Output:  cmd.ErrOrStderr(),
	})
	c.logger.Install()
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the bandit version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bandit %s\n", Version)
		},
	}
}

// openInput opens path for reading, with "-" meaning the command's stdin.
func openInput(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open counts file: %w", err)
	}
	return f, nil
}
