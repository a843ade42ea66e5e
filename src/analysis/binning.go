package analysis

import (
	"math"
	"sort"

	"flow-observer/src/analysis/core"
	"flow-observer/src/models"
)

const (
	// rangePadFraction widens a degenerate price range on both sides.
	rangePadFraction = 0.0005
	clipPercentile   = 99.0
)

var niceMultipliers = []float64{1, 2, 2.5, 5, 10}

// -----------------------------------------------------------------------------

// NiceStep returns the smallest of {1,2,2.5,5,10}x10^floor(log10(raw)) that
// is >= raw.
func NiceStep(raw float64) float64 {
	if raw <= 0 || math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 1
	}

	mag := math.Pow(10, math.Floor(math.Log10(raw)))
	for _, m := range niceMultipliers {
		step := m * mag
		if step >= raw*(1-1e-12) {
			return step
		}
	}
	return 10 * mag
}

// -----------------------------------------------------------------------------

// PadRange widens min==max so that a single price still spans a bin.
func PadRange(min, max float64) (float64, float64) {
	if max > min {
		return min, max
	}
	pad := math.Abs(min) * rangePadFraction
	if pad == 0 {
		pad = 1
	}
	return min - pad, max + pad
}

// -----------------------------------------------------------------------------

// NewPriceBins lays out bins equal-width price bins of a nice step starting at
// min and covering at least [min, max].
func NewPriceBins(min, max float64, bins int) models.MPriceBins {
	if bins < 1 {
		bins = 1
	}
	min, max = PadRange(min, max)
	step := NiceStep((max - min) / float64(bins))

	centers := make([]float64, bins)
	for i := range centers {
		centers[i] = min + (float64(i)+0.5)*step
	}

	return models.MPriceBins{
		Count:   bins,
		Min:     min,
		Max:     min + step*float64(bins),
		Step:    step,
		Centers: centers,
	}
}

// -----------------------------------------------------------------------------

// BinIndex maps price into [0, Count-1].
func BinIndex(b models.MPriceBins, price float64) int {
	if b.Step <= 0 || b.Count < 1 {
		return 0
	}
	idx := int(math.Floor((price - b.Min) / b.Step))
	if idx < 0 {
		return 0
	}
	if idx >= b.Count {
		return b.Count - 1
	}
	return idx
}

// -----------------------------------------------------------------------------

// LiquidationGrid is the time x price accumulation of liquidation notional.
type LiquidationGrid struct {
	Timestamps  []int64
	Matrix      [][]float64
	LongSeries  []float64
	ShortSeries []float64
	Totals      models.MLiquidationTotals
	PriceBins   models.MPriceBins
	MaxValue    float64
	Clip        float64
}

// BuildLiquidationHeatmap accumulates events into window x bins cells and
// log-compresses them under the 99th percentile of per-event notional.
// fallbackPrice centres the bins when no event is present.
func BuildLiquidationHeatmap(events []models.MLiquidationEvent, window []int64, tf string, bins int, fallbackPrice float64) LiquidationGrid {
	if bins < 1 {
		bins = 1
	}

	inWindow := make([]models.MLiquidationEvent, 0, len(events))
	for _, ev := range events {
		if BucketIndex(window, ev.EventTime, tf) >= 0 {
			inWindow = append(inWindow, ev)
		}
	}

	min, max := fallbackPrice, fallbackPrice
	for i, ev := range inWindow {
		if i == 0 || ev.Price < min {
			min = ev.Price
		}
		if i == 0 || ev.Price > max {
			max = ev.Price
		}
	}

	grid := LiquidationGrid{
		Timestamps:  append([]int64{}, window...),
		Matrix:      make([][]float64, len(window)),
		LongSeries:  make([]float64, len(window)),
		ShortSeries: make([]float64, len(window)),
		PriceBins:   NewPriceBins(min, max, bins),
	}
	for i := range grid.Matrix {
		grid.Matrix[i] = make([]float64, bins)
	}

	notionals := make([]float64, 0, len(inWindow))
	for _, ev := range inWindow {
		row := BucketIndex(window, ev.EventTime, tf)
		col := BinIndex(grid.PriceBins, ev.Price)
		grid.Matrix[row][col] += ev.Notional
		notionals = append(notionals, ev.Notional)

		switch ev.Side {
		case models.SideLong:
			grid.LongSeries[row] += ev.Notional
			grid.Totals.Long += ev.Notional
		case models.SideShort:
			grid.ShortSeries[row] += ev.Notional
			grid.Totals.Short += ev.Notional
		}
		grid.Totals.Count++
	}

	grid.Clip = core.Percentile(notionals, clipPercentile)
	for _, row := range grid.Matrix {
		for c, v := range row {
			row[c] = core.Log1pClipped(v, grid.Clip)
			if row[c] > grid.MaxValue {
				grid.MaxValue = row[c]
			}
		}
	}
	return grid
}

// -----------------------------------------------------------------------------

// DepthGrid is a dense time x price matrix of resting quantity.
type DepthGrid struct {
	Rows     []int64
	Cols     []float64
	Matrix   [][]float64
	PriceMin float64
	PriceMax float64
}

// DownsampleDepth arranges snapshots (oldest first) into a matrix. When the
// distinct prices exceed bins they are sliced into equal-count ranges whose
// quantities are summed.
func DownsampleDepth(snapshots []models.MDepthSnapshotRecord, bins int) DepthGrid {
	grid := DepthGrid{
		Rows:   make([]int64, 0, len(snapshots)),
		Cols:   []float64{},
		Matrix: make([][]float64, 0, len(snapshots)),
	}
	if bins < 1 {
		bins = 1
	}

	seen := make(map[float64]struct{})
	for _, snap := range snapshots {
		for _, lvl := range snap.Bids {
			seen[lvl[0]] = struct{}{}
		}
		for _, lvl := range snap.Asks {
			seen[lvl[0]] = struct{}{}
		}
	}

	prices := make([]float64, 0, len(seen))
	for p := range seen {
		prices = append(prices, p)
	}
	sort.Float64s(prices)

	column := make(map[float64]int, len(prices))
	n := len(prices)
	if n <= bins {
		grid.Cols = prices
		for i, p := range prices {
			column[p] = i
		}
	} else {
		grid.Cols = make([]float64, bins)
		for i := 0; i < bins; i++ {
			lo, hi := i*n/bins, (i+1)*n/bins
			grid.Cols[i] = (prices[lo] + prices[hi-1]) / 2
			for _, p := range prices[lo:hi] {
				column[p] = i
			}
		}
	}
	if n > 0 {
		grid.PriceMin, grid.PriceMax = prices[0], prices[n-1]
	}

	for _, snap := range snapshots {
		row := make([]float64, len(grid.Cols))
		for _, lvl := range snap.Bids {
			row[column[lvl[0]]] += lvl[1]
		}
		for _, lvl := range snap.Asks {
			row[column[lvl[0]]] += lvl[1]
		}
		grid.Rows = append(grid.Rows, snap.BucketStart)
		grid.Matrix = append(grid.Matrix, row)
	}
	return grid
}
