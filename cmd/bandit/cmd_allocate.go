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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianBandit/pkg/ux"
	"github.com/AleutianAI/AleutianBandit/services/bandit/ab"
)

func newAllocateCmd(c *cli) *cobra.Command {
	var (
		file     string
		samples  int
		seed     uint64
		shards   int
		barWidth int
	)

	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Recommend a traffic split from success/trial counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("samples") {
				samples = c.cfg.Engine.Samples
			}
			if !cmd.Flags().Changed("shards") {
				shards = c.cfg.Engine.Shards
			}

			in, err := openInput(cmd, file)
			if err != nil {
				return err
			}
			defer in.Close()
			counts, err := readCounts(in)
			if err != nil {
				return err
			}

			opts := []ab.SamplerOption{ab.WithSamples(samples), ab.WithShards(shards)}
			if cmd.Flags().Changed("seed") {
				opts = append(opts, ab.WithSeed(seed))
			}
			sampler, err := ab.NewSampler(opts...)
			if err != nil {
				return err
			}

			alloc, err := sampler.Allocate(cmd.Context(), counts)
			if err != nil {
				return err
			}
			slog.Debug("allocation computed",
				"variants", len(counts),
				"samples", alloc.Samples,
				"shards", alloc.Shards,
				"seed", alloc.Seed,
				"duration", alloc.Duration,
			)

			out := cmd.OutOrStdout()
			ranked := ab.Rank(alloc)
			rows := make([]ux.AllocationRow, len(ranked))
			for i, s := range ranked {
				rows[i] = ux.AllocationRow{VariantID: s.ID, Percentage: s.Percentage}
			}
			if ux.Mode() != ux.ModeMachine {
				ux.Box(out, "Thompson sampling",
					fmt.Sprintf("%d rounds, %d shard(s), seed %d", alloc.Samples, alloc.Shards, alloc.Seed))
			}
			ux.AllocationTable(out, rows, barWidth)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "counts YAML file, or - for stdin")
	cmd.Flags().IntVarP(&samples, "samples", "n", ab.DefaultSamples, "Monte Carlo rounds")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed for reproducible output")
	cmd.Flags().IntVar(&shards, "shards", 1, "goroutines to split rounds across")
	cmd.Flags().IntVar(&barWidth, "bar-width", 24, "width of the percentage bar, 0 to hide")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
