// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianBandit/services/bandit/ab"
	"github.com/AleutianAI/AleutianBandit/services/bandit/datatypes"
	"github.com/AleutianAI/AleutianBandit/services/bandit/history"
	"github.com/AleutianAI/AleutianBandit/services/bandit/observability"
	"github.com/AleutianAI/AleutianBandit/services/bandit/storage"
)

// GetAllocation recommends tomorrow's traffic split for an experiment.
//
// Query parameters:
//   - experiment_id (required)
//   - target_date: YYYY-MM-DD, defaults to tomorrow (UTC)
//   - samples: overrides the configured number of Monte Carlo rounds
//   - seed: makes the response reproducible
//
// Allocations are ranked by percentage, rounded to two decimals.
func GetAllocation(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := banditTracer.Start(c.Request.Context(), "handlers.GetAllocation")
		defer span.End()

		experimentID := c.Query("experiment_id")
		if experimentID == "" {
			abortWithError(c, d, observability.EndpointAllocation, http.StatusUnprocessableEntity,
				"experiment_id is required", observability.ErrValidation)
			return
		}
		span.SetAttributes(attribute.String("experiment_id", experimentID))

		target := d.now().AddDate(0, 0, 1)
		if raw := c.Query("target_date"); raw != "" {
			parsed, err := time.Parse(storage.DateLayout, raw)
			if err != nil {
				abortWithError(c, d, observability.EndpointAllocation, http.StatusUnprocessableEntity,
					fmt.Sprintf("invalid target_date %q, expected YYYY-MM-DD", raw), observability.ErrValidation)
				return
			}
			target = parsed
		}

		sampler, err := d.samplerFor(c)
		if err != nil {
			abortWithError(c, d, observability.EndpointAllocation, http.StatusUnprocessableEntity,
				err.Error(), fmt.Errorf("%w: %v", observability.ErrValidation, err))
			return
		}

		rows, ok := loadCumulative(ctx, c, d, observability.EndpointAllocation, experimentID)
		if !ok {
			return
		}

		alloc, err := sampler.Allocate(ctx, storage.ToCounts(rows))
		if err != nil {
			abortWithError(c, d, observability.EndpointAllocation, statusFor(err), err.Error(), err)
			return
		}
		d.Metrics.ObserveAllocation(alloc)

		ranked := ab.Rank(alloc)
		resp := datatypes.AllocationResponse{
			ExperimentID: experimentID,
			Date:         target.Format(storage.DateLayout),
			Allocations:  make([]datatypes.AllocationVariant, len(ranked)),
		}
		for i, s := range ranked {
			resp.Allocations[i] = datatypes.AllocationVariant{
				VariantID:  s.ID,
				Percentage: datatypes.Round(s.Percentage, 2),
			}
		}

		snap := history.Snapshot{
			ExperimentID: experimentID,
			TargetDate:   target,
			ComputedAt:   d.now(),
			Shares:       alloc.Shares,
			Samples:      alloc.Samples,
			Seed:         alloc.Seed,
		}
		if err := d.recorder().Record(ctx, snap); err != nil {
			slog.Warn("Failed to record allocation history", "experiment_id", experimentID, "error", err)
		}

		c.JSON(http.StatusOK, resp)
	}
}

// samplerFor returns the configured sampler, or a new one when the request
// overrides samples or seed.
func (d *Deps) samplerFor(c *gin.Context) (*ab.Sampler, error) {
	rawSamples, rawSeed := c.Query("samples"), c.Query("seed")
	if rawSamples == "" && rawSeed == "" {
		return d.Sampler, nil
	}

	opts := []ab.SamplerOption{ab.WithSamples(d.Sampler.Samples())}
	if d.Shards > 0 {
		opts = append(opts, ab.WithShards(d.Shards))
	}
	if rawSamples != "" {
		n, err := strconv.Atoi(rawSamples)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("samples must be a positive integer")
		}
		if d.MaxSamples > 0 && n > d.MaxSamples {
			return nil, fmt.Errorf("samples must not exceed %d", d.MaxSamples)
		}
		opts = append(opts, ab.WithSamples(n))
	}
	if rawSeed != "" {
		seed, err := strconv.ParseUint(rawSeed, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("seed must be an unsigned integer")
		}
		opts = append(opts, ab.WithSeed(seed))
	}
	return ab.NewSampler(opts...)
}

// loadCumulative fetches cumulative rows under ctx, answering 404 when the
// experiment is unknown or has no data. It reports whether the handler
// should go on.
func loadCumulative(ctx context.Context, c *gin.Context, d *Deps, endpoint observability.Endpoint, experimentID string) ([]storage.Cumulative, bool) {
	exists, err := d.Store.ExperimentExists(ctx, experimentID)
	if err != nil {
		abortWithError(c, d, endpoint, http.StatusInternalServerError, "Internal server error", err)
		return nil, false
	}
	if !exists {
		abortWithError(c, d, endpoint, http.StatusNotFound,
			fmt.Sprintf("Experiment '%s' not found", experimentID), storage.ErrNotFound)
		return nil, false
	}

	rows, err := d.Store.CumulativeMetrics(ctx, experimentID)
	if err != nil {
		status := statusFor(err)
		detail := "Internal server error"
		if errors.Is(err, storage.ErrNotFound) {
			detail = fmt.Sprintf("Experiment '%s' not found", experimentID)
		}
		abortWithError(c, d, endpoint, status, detail, err)
		return nil, false
	}
	if len(rows) == 0 {
		abortWithError(c, d, endpoint, http.StatusNotFound,
			fmt.Sprintf("No data available for experiment '%s'", experimentID), storage.ErrNotFound)
		return nil, false
	}
	return rows, true
}
