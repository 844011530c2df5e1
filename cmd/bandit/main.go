// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command bandit computes Thompson-sampling traffic allocations and Wilson
// confidence intervals from the command line, and can run the HTTP service.
//
// # Usage
//
//	bandit allocate --file counts.yaml --seed 42
//	bandit intervals --file counts.yaml --confidence 0.9 --z-mode exact
//	bandit serve --store sqlite
//
// Counts files list variants in the order they should be considered:
//
//	variants:
//	  - id: control
//	    successes: 120
//	    trials: 1000
//	  - id: B
//	    successes: 141
//	    trials: 1000
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
