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
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianBandit/services/bandit/datatypes"
	"github.com/AleutianAI/AleutianBandit/services/bandit/observability"
)

// PostData stores one day of metrics for an experiment.
//
// Body: datatypes.ExperimentData. Invalid bodies get 422, storage failures
// get 500 with a generic message.
func PostData(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := banditTracer.Start(c.Request.Context(), "handlers.PostData")
		defer span.End()

		var req datatypes.ExperimentData
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, d, observability.EndpointData, http.StatusUnprocessableEntity,
				fmt.Sprintf("Invalid request body: %v", err), fmt.Errorf("%w: %v", observability.ErrValidation, err))
			return
		}
		if err := req.Validate(); err != nil {
			abortWithError(c, d, observability.EndpointData, http.StatusUnprocessableEntity,
				fmt.Sprintf("Validation failed: %v", err), fmt.Errorf("%w: %v", observability.ErrValidation, err))
			return
		}
		day, err := req.Day()
		if err != nil {
			abortWithError(c, d, observability.EndpointData, http.StatusUnprocessableEntity,
				err.Error(), fmt.Errorf("%w: %v", observability.ErrValidation, err))
			return
		}
		span.SetAttributes(
			attribute.String("experiment_id", req.ExperimentID),
			attribute.Int("variants", len(req.Variants)),
		)

		if err := d.Store.UpsertDailyMetrics(ctx, req.ExperimentID, day, req.Metrics()); err != nil {
			span.RecordError(err)
			abortWithError(c, d, observability.EndpointData, http.StatusInternalServerError,
				"Internal server error", err)
			return
		}
		d.Metrics.ObserveIngest(len(req.Variants))

		slog.Info("Data stored",
			"experiment_id", req.ExperimentID,
			"date", req.Date,
			"variants", len(req.Variants))
		c.JSON(http.StatusOK, datatypes.SuccessResponse{Detail: "Data stored successfully"})
	}
}
