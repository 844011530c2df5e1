// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the request and response bodies of the bandit
// HTTP API.
package datatypes

import (
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianBandit/pkg/validation"
	"github.com/AleutianAI/AleutianBandit/services/bandit/storage"
)

// banditValidate is shared by all request types. validator.Validate caches
// struct metadata and is safe for concurrent use.
var banditValidate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// "identifier" rejects IDs that cannot be stored as key segments or tags.
	if err := v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return validation.IsIdentifier(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// =============================================================================
// Requests
// =============================================================================

// VariantData is one variant's metrics for a day.
type VariantData struct {
	VariantID   string `json:"variant_id" validate:"required,identifier"`
	Impressions int64  `json:"impressions" validate:"gte=0"`
	Clicks      int64  `json:"clicks" validate:"gte=0,ltefield=Impressions"`
}

// ExperimentData is the body of POST /data.
//
// Date is a calendar day in YYYY-MM-DD form. Variant IDs must be unique
// within one request and clicks may not exceed impressions.
type ExperimentData struct {
	ExperimentID string        `json:"experiment_id" validate:"required,identifier"`
	Date         string        `json:"date" validate:"required,datetime=2006-01-02"`
	Variants     []VariantData `json:"variants" validate:"required,min=1,max=1000,unique=VariantID,dive"`
}

// Validate checks the request against its validation tags.
func (r *ExperimentData) Validate() error {
	return banditValidate.Struct(r)
}

// Day returns the parsed metric date.
func (r *ExperimentData) Day() (time.Time, error) {
	d, err := time.Parse(storage.DateLayout, r.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", r.Date, err)
	}
	return d, nil
}

// Metrics converts the variants to storage rows.
func (r *ExperimentData) Metrics() []storage.VariantMetric {
	out := make([]storage.VariantMetric, len(r.Variants))
	for i, v := range r.Variants {
		out[i] = storage.VariantMetric{VariantID: v.VariantID, Impressions: v.Impressions, Clicks: v.Clicks}
	}
	return out
}

// =============================================================================
// Responses
// =============================================================================

// AllocationVariant is one variant's recommended traffic share.
type AllocationVariant struct {
	VariantID  string  `json:"variant_id"`
	Percentage float64 `json:"percentage"`
}

// AllocationResponse is the body of GET /allocation.
type AllocationResponse struct {
	ExperimentID string              `json:"experiment_id"`
	Date         string              `json:"date"`
	Allocations  []AllocationVariant `json:"allocations"`
}

// VariantMetrics is one variant's cumulative performance.
//
// LowerBound and UpperBound are null unless confidence intervals were
// requested.
type VariantMetrics struct {
	VariantID   string   `json:"variant_id"`
	Clicks      int64    `json:"clicks"`
	Impressions int64    `json:"impressions"`
	CTR         float64  `json:"ctr"`
	LowerBound  *float64 `json:"lower_bound"`
	UpperBound  *float64 `json:"upper_bound"`
}

// MetricsResponse is the body of GET /metrics.
type MetricsResponse struct {
	ExperimentID string           `json:"experiment_id"`
	Date         string           `json:"date"`
	Variants     []VariantMetrics `json:"variants"`
}

// ExperimentSummary is one entry of GET /experiments.
type ExperimentSummary struct {
	ExperimentID string    `json:"experiment_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// ExperimentsResponse is the body of GET /experiments.
type ExperimentsResponse struct {
	Experiments []ExperimentSummary `json:"experiments"`
}

// SuccessResponse is a generic success body.
type SuccessResponse struct {
	Detail string `json:"detail"`
}

// ErrorResponse is a generic error body.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
