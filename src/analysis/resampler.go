package analysis

import (
	"sort"

	"flow-observer/src/utils"
)

// -----------------------------------------------------------------------------

// BucketWindow returns the start times of the last limit buckets of tf, oldest
// first, ending with the bucket that contains nowMs.
func BucketWindow(nowMs int64, tf string, limit int) []int64 {
	if limit <= 0 {
		return []int64{}
	}

	step := utils.TimeframeMillis(tf)
	last := utils.BucketStart(nowMs, tf)

	window := make([]int64, limit)
	for i := 0; i < limit; i++ {
		window[i] = last - int64(limit-1-i)*step
	}
	return window
}

// -----------------------------------------------------------------------------

// BucketIndex returns the position of the bucket holding ts inside window, or
// -1 when ts falls outside it.
func BucketIndex(window []int64, ts int64, tf string) int {
	if len(window) == 0 {
		return -1
	}
	start := utils.BucketStart(ts, tf)
	idx := sort.Search(len(window), func(i int) bool { return window[i] >= start })
	if idx < len(window) && window[idx] == start {
		return idx
	}
	return -1
}
