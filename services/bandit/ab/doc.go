// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ab implements Thompson-sampling traffic allocation for A/B/n
// experiments.
//
// Each variant carries a cumulative success count (clicks) and a trial
// count (impressions). Under a uniform Beta(1,1) prior the posterior of a
// variant's success rate is Beta(1+successes, 1+trials-successes). The
// allocation for a variant is the Monte Carlo estimate of the probability
// that its posterior draw is the largest:
//
//	for round := 0; round < samples; round++ {
//	    draw θ_i ~ Beta(α_i, β_i) for every variant i
//	    wins[argmax θ]++   // first maximum wins ties
//	}
//	percentage_i = wins_i / samples * 100
//
// The package also provides Wilson score intervals for observed rates and a
// ranking helper for presenting allocations.
//
// # Determinism
//
// Variants are processed in the order the caller supplies them. Given the
// same seed, the same counts and the same shard count, [Sampler.Allocate]
// returns bit-identical percentages. Sharded runs derive one PCG stream per
// shard from the seed and sum shard results in shard order.
//
// # Usage
//
//	sampler, err := ab.NewSampler(ab.WithSamples(10000), ab.WithSeed(42))
//	if err != nil {
//	    return err
//	}
//	alloc, err := sampler.Allocate(ctx, []ab.VariantCount{
//	    {ID: "control", Successes: 50, Trials: 1000},
//	    {ID: "treatment", Successes: 65, Trials: 1000},
//	})
//
// # Thread Safety
//
// [Sampler] is immutable after construction and safe for concurrent use.
// Every call builds its own random streams.
package ab
