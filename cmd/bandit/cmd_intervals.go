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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianBandit/pkg/ux"
	"github.com/AleutianAI/AleutianBandit/services/bandit/ab"
)

func newIntervalsCmd(c *cli) *cobra.Command {
	var (
		file       string
		confidence float64
		zMode      string
	)

	cmd := &cobra.Command{
		Use:   "intervals",
		Short: "Wilson score intervals on each variant's success rate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("confidence") {
				confidence = c.cfg.Engine.Confidence
			}
			if !cmd.Flags().Changed("z-mode") {
				zMode = c.cfg.Engine.ZMode
			}
			mode, err := ab.ParseZMode(zMode)
			if err != nil {
				return err
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

			ivs, err := ab.ConfidenceIntervals(counts, confidence, mode)
			if err != nil {
				return err
			}

			rows := make([]ux.IntervalRow, len(ivs.Variants))
			for i, v := range ivs.Variants {
				rows[i] = ux.IntervalRow{
					VariantID: v.ID,
					Successes: counts[i].Successes,
					Trials:    counts[i].Trials,
					Rate:      v.Rate,
					Lower:     v.Lower,
					Upper:     v.Upper,
				}
			}
			ux.IntervalTable(cmd.OutOrStdout(), rows, ivs.Confidence)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "counts YAML file, or - for stdin")
	cmd.Flags().Float64Var(&confidence, "confidence", ab.DefaultConfidence, "confidence level in (0, 1)")
	cmd.Flags().StringVar(&zMode, "z-mode", "fixed", "fixed (z=1.96) or exact (z from confidence)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
