package core

import (
	"math"
	"sort"
)

// -----------------------------------------------------------------------------

// Percentile returns the nearest-rank p-th percentile (0 < p <= 100) of data.
func Percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

// -----------------------------------------------------------------------------

// Sign returns -1, 0 or +1.
func Sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// -----------------------------------------------------------------------------

// Log1pClipped returns log10(1 + min(v, clip)). A non-positive clip disables
// clipping.
func Log1pClipped(v, clip float64) float64 {
	if clip > 0 && v > clip {
		v = clip
	}
	if v <= 0 {
		return 0
	}
	return math.Log10(1 + v)
}
