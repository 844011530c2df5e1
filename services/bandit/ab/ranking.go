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

import "sort"

// Rank returns the shares sorted by percentage, highest first.
// Equal percentages keep their allocation order. The input is not modified.
func Rank(a Allocation) []Share {
	ranked := make([]Share, len(a.Shares))
	copy(ranked, a.Shares)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Percentage > ranked[j].Percentage
	})
	return ranked
}

// Best returns the top-ranked share. The boolean is false for an empty allocation.
func Best(a Allocation) (Share, bool) {
	ranked := Rank(a)
	if len(ranked) == 0 {
		return Share{}, false
	}
	return ranked[0], true
}
