package cvd

import (
	"math"

	"flow-observer/src/models"
)

type tranche struct {
	key string
	min float64
	max float64
}

// Notional tranches, each [min, max).
var tranches = [models.NumDeltaBuckets]tranche{
	{key: "0-10k", min: 0, max: 1e4},
	{key: "10k-100k", min: 1e4, max: 1e5},
	{key: "100k-1m", min: 1e5, max: 1e6},
	{key: "1m-10m", min: 1e6, max: 1e7},
	{key: "10m+", min: 1e7, max: math.Inf(1)},
}

// -----------------------------------------------------------------------------

// BucketKeys returns the tranche keys in bucket order.
func BucketKeys() []string {
	keys := make([]string, len(tranches))
	for i, t := range tranches {
		keys[i] = t.key
	}
	return keys
}

// -----------------------------------------------------------------------------

// TrancheIndex classifies a notional. Anything no range accepts (NaN) lands in
// the last tranche.
func TrancheIndex(notional float64) int {
	for i, t := range tranches {
		if notional >= t.min && notional < t.max {
			return i
		}
	}
	return len(tranches) - 1
}

// -----------------------------------------------------------------------------

// TradeSign is +1 for an aggressive buy (the buyer took liquidity) and -1 for
// an aggressive sell.
func TradeSign(isBuyerMaker bool) float64 {
	if isBuyerMaker {
		return -1
	}
	return 1
}
