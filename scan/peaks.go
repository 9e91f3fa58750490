package scan

import "sort"

// FindPeaks returns the indices of local maxima in power that exceed
// minHeight, enforcing a minimum separation of minDistance samples between
// accepted peaks. When two maxima sit closer than minDistance, the stronger
// one wins. Indices are returned in ascending order.
func FindPeaks(power []float64, minHeight float64, minDistance int) []int {
	if len(power) < 3 {
		return nil
	}
	if minDistance < 1 {
		minDistance = 1
	}

	// Candidate local maxima above the height threshold. A plateau counts
	// through its left edge (strictly greater than the left neighbour,
	// greater-or-equal to the right).
	var candidates []int
	for i := 1; i < len(power)-1; i++ {
		if power[i] <= minHeight {
			continue
		}
		if power[i] > power[i-1] && power[i] >= power[i+1] {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	// Strongest-first acceptance: a candidate is dropped when an already
	// accepted (stronger) peak sits within minDistance samples.
	sort.Slice(candidates, func(a, b int) bool {
		return power[candidates[a]] > power[candidates[b]]
	})

	var accepted []int
	for _, idx := range candidates {
		ok := true
		for _, kept := range accepted {
			if abs(idx-kept) < minDistance {
				ok = false
				break
			}
		}
		if ok {
			accepted = append(accepted, idx)
		}
	}

	sort.Ints(accepted)
	return accepted
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
