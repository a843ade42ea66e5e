package analysis

import (
	"math"
	"testing"

	"flow-observer/src/models"
)

func isNiceStep(step float64) bool {
	mag := math.Pow(10, math.Floor(math.Log10(step)))
	m := step / mag
	for _, want := range []float64{1, 2, 2.5, 5, 10} {
		if math.Abs(m-want) < 1e-9 {
			return true
		}
	}
	return false
}

func TestNiceStepMembership(t *testing.T) {
	for _, raw := range []float64{0.0003, 0.7, 1, 1.01, 2.2, 3, 7.5, 9.99, 12, 260, 4321, 99999} {
		step := NiceStep(raw)
		if step < raw {
			t.Fatalf("NiceStep(%v) = %v below raw", raw, step)
		}
		if !isNiceStep(step) {
			t.Fatalf("NiceStep(%v) = %v not in {1,2,2.5,5}x10^k", raw, step)
		}
	}

	cases := map[float64]float64{1.5: 2, 2.1: 2.5, 3: 5, 6: 10, 0.012: 0.02}
	for raw, want := range cases {
		if got := NiceStep(raw); math.Abs(got-want) > 1e-12 {
			t.Fatalf("NiceStep(%v) = %v, want %v", raw, got, want)
		}
	}
	if NiceStep(0) != 1 {
		t.Fatalf("non-positive input should give 1")
	}
}

func TestPadRange(t *testing.T) {
	lo, hi := PadRange(100, 100)
	if !(lo < 100 && hi > 100) {
		t.Fatalf("degenerate range not padded: %v %v", lo, hi)
	}
	lo, hi = PadRange(0, 0)
	if lo != -1 || hi != 1 {
		t.Fatalf("zero range should pad by 1, got %v %v", lo, hi)
	}
}

func TestNewPriceBinsCentres(t *testing.T) {
	for _, bins := range []int{1, 7, 60, 400} {
		b := NewPriceBins(27000, 27350, bins)
		if len(b.Centers) != bins || b.Count != bins {
			t.Fatalf("bins=%d: got %d centres", bins, len(b.Centers))
		}
		if b.Max < 27350 {
			t.Fatalf("bins=%d: max %v does not cover range", bins, b.Max)
		}
		if !isNiceStep(b.Step) {
			t.Fatalf("bins=%d: step %v not nice", bins, b.Step)
		}
	}
	if BinIndex(NewPriceBins(0, 10, 10), 1e9) != 9 {
		t.Fatalf("out of range price must clamp to last bin")
	}
}

func TestBuildLiquidationHeatmap(t *testing.T) {
	tf := "1m"
	window := BucketWindow(180_000, tf, 3) // 60000, 120000, 180000
	events := []models.MLiquidationEvent{
		{Symbol: "BTCUSDT", EventTime: 61_000, Side: models.SideLong, Price: 100, Quantity: 1, Notional: 100},
		{Symbol: "BTCUSDT", EventTime: 121_000, Side: models.SideShort, Price: 110, Quantity: 2, Notional: 220},
		{Symbol: "BTCUSDT", EventTime: 122_000, Side: models.SideLong, Price: 110, Quantity: 1, Notional: 110},
		{Symbol: "BTCUSDT", EventTime: 1_000, Side: models.SideLong, Price: 50, Quantity: 1, Notional: 50}, // outside
	}

	grid := BuildLiquidationHeatmap(events, window, tf, 10, 0)

	if len(grid.Timestamps) != 3 || len(grid.Matrix) != 3 || len(grid.Matrix[0]) != 10 {
		t.Fatalf("unexpected shape: %d x %d", len(grid.Matrix), len(grid.Matrix[0]))
	}
	if grid.Totals.Count != 3 || grid.Totals.Long != 210 || grid.Totals.Short != 220 {
		t.Fatalf("totals = %+v", grid.Totals)
	}
	if grid.LongSeries[0] != 100 || grid.ShortSeries[1] != 220 || grid.LongSeries[1] != 110 {
		t.Fatalf("series long=%v short=%v", grid.LongSeries, grid.ShortSeries)
	}
	if grid.Clip != 220 {
		t.Fatalf("clip = %v", grid.Clip)
	}
	if grid.PriceBins.Min != 100 {
		t.Fatalf("min = %v", grid.PriceBins.Min)
	}
	want := math.Log10(1 + 220)
	if math.Abs(grid.MaxValue-want) > 1e-9 {
		t.Fatalf("maxValue = %v, want %v", grid.MaxValue, want)
	}
}

func TestBuildLiquidationHeatmapEmpty(t *testing.T) {
	window := BucketWindow(600_000, "5m", 4)
	grid := BuildLiquidationHeatmap(nil, window, "5m", 20, 30000)
	if grid.Totals.Count != 0 || grid.MaxValue != 0 {
		t.Fatalf("empty grid should be zero: %+v", grid.Totals)
	}
	if len(grid.PriceBins.Centers) != 20 {
		t.Fatalf("centres = %d", len(grid.PriceBins.Centers))
	}
	if grid.PriceBins.Min >= 30000 || grid.PriceBins.Max <= 30000 {
		t.Fatalf("fallback price not covered: %+v", grid.PriceBins)
	}
}

func TestDownsampleDepthSums(t *testing.T) {
	snaps := []models.MDepthSnapshotRecord{
		{BucketStart: 0, Bids: []models.MPriceLevel{{99, 1}, {98, 2}}, Asks: []models.MPriceLevel{{101, 3}, {102, 4}}},
		{BucketStart: 60_000, Bids: []models.MPriceLevel{{100, 5}}, Asks: []models.MPriceLevel{{103, 6}}},
	}

	full := DownsampleDepth(snaps, 10)
	if len(full.Cols) != 6 || full.PriceMin != 98 || full.PriceMax != 103 {
		t.Fatalf("unexpected columns: %v", full.Cols)
	}

	grid := DownsampleDepth(snaps, 3)
	if len(grid.Cols) != 3 || len(grid.Rows) != 2 {
		t.Fatalf("shape rows=%d cols=%d", len(grid.Rows), len(grid.Cols))
	}
	// ranges: [98,99] [100,101] [102,103]
	if grid.Cols[0] != 98.5 || grid.Cols[2] != 102.5 {
		t.Fatalf("representatives = %v", grid.Cols)
	}
	if grid.Matrix[0][0] != 3 || grid.Matrix[0][1] != 3 || grid.Matrix[0][2] != 4 {
		t.Fatalf("row 0 = %v", grid.Matrix[0])
	}
	if grid.Matrix[1][1] != 5 || grid.Matrix[1][2] != 6 {
		t.Fatalf("row 1 = %v", grid.Matrix[1])
	}

	var before, after float64
	for _, row := range full.Matrix {
		for _, v := range row {
			before += v
		}
	}
	for _, row := range grid.Matrix {
		for _, v := range row {
			after += v
		}
	}
	if before != after {
		t.Fatalf("downsampling changed total volume: %v != %v", before, after)
	}
}

func TestBucketWindowAndIndex(t *testing.T) {
	w := BucketWindow(3_700_000, "1h", 2)
	if len(w) != 2 || w[0] != 0 || w[1] != 3_600_000 {
		t.Fatalf("window = %v", w)
	}
	if BucketIndex(w, 3_650_000, "1h") != 1 || BucketIndex(w, 7_300_000, "1h") != -1 {
		t.Fatalf("bucket index mismatch")
	}
}
