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
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianBandit/services/bandit"
)

func newServeCmd(c *cli) *cobra.Command {
	var (
		port  int
		store string
		dsn   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bandit HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg.Server
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("store") {
				cfg.Store = store
			}
			if cmd.Flags().Changed("dsn") {
				cfg.DSN = dsn
			}
			cfg.DataDir = expandHome(cfg.DataDir)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 12310, "HTTP port")
	cmd.Flags().StringVar(&store, "store", bandit.StoreBadger, "badger, memory, sqlite or postgres")
	cmd.Flags().StringVar(&dsn, "dsn", "", "sqlite path or postgres URL")
	return cmd
}

func serve(ctx context.Context, cfg bandit.Config) error {
	svc, err := bandit.New(ctx, cfg)
	if err != nil {
		return err
	}
	return svc.Run(ctx)
}

func expandHome(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
