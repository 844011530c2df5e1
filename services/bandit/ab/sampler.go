// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ab

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultSamples is the default number of Monte Carlo rounds.
const DefaultSamples = 10000

// cancelCheckInterval is how many rounds run between context checks.
const cancelCheckInterval = 1024

// -----------------------------------------------------------------------------
// Allocation
// -----------------------------------------------------------------------------

// Share is one variant's slice of traffic, in percent.
type Share struct {
	ID         string  `json:"variant_id" yaml:"id"`
	Percentage float64 `json:"percentage" yaml:"percentage"`
}

// Allocation is the result of a Thompson-sampling run.
//
// Shares are in the same order as the input variants. Percentages are in
// [0, 100] and sum to 100 up to floating-point error.
type Allocation struct {
	Shares   []Share
	Samples  int
	Seed     uint64
	Shards   int
	Duration time.Duration
}

// Map returns the allocation keyed by variant ID.
func (a Allocation) Map() map[string]float64 {
	m := make(map[string]float64, len(a.Shares))
	for _, s := range a.Shares {
		m[s.ID] = s.Percentage
	}
	return m
}

// Get returns the percentage for a variant.
func (a Allocation) Get(id string) (float64, bool) {
	for _, s := range a.Shares {
		if s.ID == id {
			return s.Percentage, true
		}
	}
	return 0, false
}

// Sum returns the total of all percentages.
func (a Allocation) Sum() float64 {
	var total float64
	for _, s := range a.Shares {
		total += s.Percentage
	}
	return total
}

// -----------------------------------------------------------------------------
// Sampler
// -----------------------------------------------------------------------------

// SamplerOption configures a Sampler.
type SamplerOption func(*Sampler)

// WithSamples sets the number of Monte Carlo rounds.
func WithSamples(n int) SamplerOption {
	return func(s *Sampler) {
		s.samples = n
	}
}

// WithSeed fixes the random seed so results are reproducible.
func WithSeed(seed uint64) SamplerOption {
	return func(s *Sampler) {
		s.seed = seed
		s.seeded = true
	}
}

// WithShards splits the rounds across n goroutines. Results for a fixed
// seed depend on n.
func WithShards(n int) SamplerOption {
	return func(s *Sampler) {
		s.shards = n
	}
}

// SourceFunc builds the random source for one shard. stream is the shard
// index.
type SourceFunc func(seed, stream uint64) rand.Source

func pcgSource(seed, stream uint64) rand.Source {
	return rand.NewPCG(seed, stream)
}

// WithSource replaces the default PCG generator. The function must return
// independent sources for distinct streams when sharding.
func WithSource(fn SourceFunc) SamplerOption {
	return func(s *Sampler) {
		if fn != nil {
			s.source = fn
		}
	}
}

// Sampler estimates, for each variant, the probability that its posterior
// draw is the largest.
//
// Description:
//
//	Each round draws one value from every variant's Beta posterior, in input
//	order, and credits the variant holding the first maximum. The share of
//	rounds a variant wins becomes its traffic percentage.
//
// Thread Safety: Safe for concurrent use. Configuration is immutable after
// NewSampler returns.
type Sampler struct {
	samples int
	shards  int
	seed    uint64
	seeded  bool
	source  SourceFunc
}

// NewSampler creates a Sampler.
//
// Inputs:
//   - opts: Optional settings. Defaults are 10000 rounds, one shard and a
//     fresh random seed per call.
//
// Outputs:
//   - *Sampler: The configured sampler.
//   - error: ErrInvalidSampleCount or ErrInvalidShardCount for bad settings.
func NewSampler(opts ...SamplerOption) (*Sampler, error) {
	s := &Sampler{
		samples: DefaultSamples,
		shards:  1,
		source:  pcgSource,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.samples <= 0 {
		return nil, fmt.Errorf("samples=%d: %w", s.samples, ErrInvalidSampleCount)
	}
	if s.shards <= 0 {
		return nil, fmt.Errorf("shards=%d: %w", s.shards, ErrInvalidShardCount)
	}
	return s, nil
}

// Samples returns the configured number of rounds.
func (s *Sampler) Samples() int {
	return s.samples
}

// Allocate computes a Thompson-sampling allocation over counts.
//
// Description:
//
//	Validates counts, builds Beta(1+successes, 1+trials-successes)
//	posteriors and runs the Monte Carlo rounds. Input order is preserved in
//	the result and decides ties.
//
// Inputs:
//   - ctx: Cancels long runs. Checked between blocks of rounds.
//   - counts: Variants in the order to process them. Not modified.
//
// Outputs:
//   - Allocation: Percentages per variant, in input order.
//   - error: ErrEmptyInput, ErrInvalidCount, or the context error.
func (s *Sampler) Allocate(ctx context.Context, counts []VariantCount) (Allocation, error) {
	posteriors, err := Posteriors(counts)
	if err != nil {
		return Allocation{}, err
	}
	return s.AllocatePosteriors(ctx, posteriors)
}

// AllocatePosteriors runs the Monte Carlo rounds over prepared posteriors.
func (s *Sampler) AllocatePosteriors(ctx context.Context, posteriors []Posterior) (Allocation, error) {
	if len(posteriors) == 0 {
		return Allocation{}, ErrEmptyInput
	}
	for _, p := range posteriors {
		if !(p.Alpha > 0) || !(p.Beta > 0) {
			return Allocation{}, fmt.Errorf("variant %q: alpha=%v beta=%v: %w", p.ID, p.Alpha, p.Beta, ErrInvalidCount)
		}
	}

	seed := s.seed
	if !s.seeded {
		seed = rand.Uint64()
	}
	shards := s.shards
	if shards > s.samples {
		shards = s.samples
	}

	ctx, span := otel.Tracer("bandit.ab").Start(ctx, "ab.Sampler.Allocate",
		trace.WithAttributes(
			attribute.Int("variants", len(posteriors)),
			attribute.Int("samples", s.samples),
			attribute.Int("shards", shards),
		),
	)
	defer span.End()

	start := time.Now()
	wins, err := s.run(ctx, posteriors, seed, shards)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "allocation cancelled")
		return Allocation{}, err
	}

	shares := make([]Share, len(posteriors))
	for i, p := range posteriors {
		shares[i] = Share{
			ID:         p.ID,
			Percentage: float64(wins[i]) / float64(s.samples) * 100,
		}
	}

	return Allocation{
		Shares:   shares,
		Samples:  s.samples,
		Seed:     seed,
		Shards:   shards,
		Duration: time.Since(start),
	}, nil
}

// run returns the win count per posterior. Shard i draws from the stream
// (seed, i) and partial counts are summed in shard order.
func (s *Sampler) run(ctx context.Context, posteriors []Posterior, seed uint64, shards int) ([]int64, error) {
	if shards == 1 {
		wins := make([]int64, len(posteriors))
		if err := runRounds(ctx, s.source(seed, 0), posteriors, s.samples, wins); err != nil {
			return nil, err
		}
		return wins, nil
	}

	partial := make([][]int64, shards)
	base, rem := s.samples/shards, s.samples%shards

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < shards; i++ {
		rounds := base
		if i < rem {
			rounds++
		}
		partial[i] = make([]int64, len(posteriors))
		g.Go(func() error {
			return runRounds(gctx, s.source(seed, uint64(i)), posteriors, rounds, partial[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	wins := make([]int64, len(posteriors))
	for _, p := range partial {
		for j, w := range p {
			wins[j] += w
		}
	}
	return wins, nil
}

// runRounds plays rounds of Thompson sampling and adds the winners to wins.
// Every posterior draws from src. Ties go to the earliest variant.
func runRounds(ctx context.Context, src rand.Source, posteriors []Posterior, rounds int, wins []int64) error {
	betas := newBetas(posteriors, src)
	for round := 0; round < rounds; round++ {
		if round%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("allocation interrupted: %w", err)
			}
		}
		best := 0
		bestDraw := math.Inf(-1)
		for i := range betas {
			if d := betas[i].Rand(); d > bestDraw {
				best, bestDraw = i, d
			}
		}
		wins[best]++
	}
	return nil
}

// newBetas builds one Beta distribution per posterior, all sharing src.
func newBetas(posteriors []Posterior, src rand.Source) []distuv.Beta {
	betas := make([]distuv.Beta, len(posteriors))
	for i, p := range posteriors {
		betas[i] = distuv.Beta{Alpha: p.Alpha, Beta: p.Beta, Src: src}
	}
	return betas
}

// Allocate is a convenience wrapper that runs a single-shard Sampler.
//
// A nil seed draws a fresh one.
func Allocate(counts []VariantCount, numSamples int, seed *uint64) (Allocation, error) {
	opts := []SamplerOption{WithSamples(numSamples)}
	if seed != nil {
		opts = append(opts, WithSeed(*seed))
	}
	s, err := NewSampler(opts...)
	if err != nil {
		return Allocation{}, err
	}
	return s.Allocate(context.Background(), counts)
}
