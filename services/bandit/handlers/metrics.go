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
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianBandit/services/bandit/ab"
	"github.com/AleutianAI/AleutianBandit/services/bandit/datatypes"
	"github.com/AleutianAI/AleutianBandit/services/bandit/observability"
	"github.com/AleutianAI/AleutianBandit/services/bandit/storage"
)

// GetMetrics reports cumulative clicks, impressions and CTR per variant,
// optionally with Wilson score bounds (include_confidence=true).
func GetMetrics(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := banditTracer.Start(c.Request.Context(), "handlers.GetMetrics")
		defer span.End()

		experimentID := c.Query("experiment_id")
		if experimentID == "" {
			abortWithError(c, d, observability.EndpointMetrics, http.StatusUnprocessableEntity,
				"experiment_id is required", observability.ErrValidation)
			return
		}
		span.SetAttributes(attribute.String("experiment_id", experimentID))

		includeConfidence := false
		if raw := c.Query("include_confidence"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				abortWithError(c, d, observability.EndpointMetrics, http.StatusUnprocessableEntity,
					"include_confidence must be a boolean", observability.ErrValidation)
				return
			}
			includeConfidence = v
		}

		confidence := d.Confidence
		if confidence == 0 {
			confidence = ab.DefaultConfidence
		}
		if raw := c.Query("confidence"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || !(v > 0 && v < 1) {
				abortWithError(c, d, observability.EndpointMetrics, http.StatusUnprocessableEntity,
					"confidence must be a number in (0, 1)", observability.ErrValidation)
				return
			}
			confidence = v
		}

		rows, ok := loadCumulative(ctx, c, d, observability.EndpointMetrics, experimentID)
		if !ok {
			return
		}
		counts := storage.ToCounts(rows)

		var intervals map[string]ab.Interval
		if includeConfidence {
			ivs, err := ab.ConfidenceIntervals(counts, confidence, d.ZMode)
			if err != nil {
				abortWithError(c, d, observability.EndpointMetrics, statusFor(err), err.Error(), err)
				return
			}
			intervals = ivs.Map()
		}

		resp := datatypes.MetricsResponse{
			ExperimentID: experimentID,
			Date:         d.now().Format(storage.DateLayout),
			Variants:     make([]datatypes.VariantMetrics, len(counts)),
		}
		for i, vc := range counts {
			vm := datatypes.VariantMetrics{
				VariantID:   vc.ID,
				Clicks:      vc.Successes,
				Impressions: vc.Trials,
				CTR:         datatypes.Round(vc.Rate(), 4),
			}
			if iv, ok := intervals[vc.ID]; ok {
				lower := datatypes.Round(iv.Lower, 4)
				upper := datatypes.Round(iv.Upper, 4)
				vm.LowerBound = &lower
				vm.UpperBound = &upper
			}
			resp.Variants[i] = vm
		}
		c.JSON(http.StatusOK, resp)
	}
}

// ListExperiments returns every known experiment.
func ListExperiments(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		exps, err := d.Store.ListExperiments(c.Request.Context())
		if err != nil {
			abortWithError(c, d, observability.EndpointExperiments, http.StatusInternalServerError,
				"Internal server error", err)
			return
		}
		resp := datatypes.ExperimentsResponse{Experiments: make([]datatypes.ExperimentSummary, len(exps))}
		for i, e := range exps {
			resp.Experiments[i] = datatypes.ExperimentSummary{ExperimentID: e.ExperimentID, CreatedAt: e.CreatedAt}
		}
		c.JSON(http.StatusOK, resp)
	}
}
