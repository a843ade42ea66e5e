package storage

import (
	"path/filepath"
	"testing"

	"flow-observer/src/logger"
	"flow-observer/src/models"
)

func newTestDB(t *testing.T) *AsyncSQLiteDB {
	t.Helper()
	cfg := &models.MConfig{Storage: models.MStorageConfig{DBPath: filepath.Join(t.TempDir(), "observer.db")}}
	db, err := NewAsyncSQLiteDB(cfg, logger.NewLogger(nil, "test"))
	if err != nil {
		t.Fatalf("NewAsyncSQLiteDB: %v", err)
	}
	if err := db.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMinuteBarRoundTrip(t *testing.T) {
	db := newTestDB(t)

	if bar, err := db.LoadLatestMinuteBar("BTCUSDT"); err != nil || bar != nil {
		t.Fatalf("expected no bar, got %+v %v", bar, err)
	}

	for i, total := range []float64{10, 25, -5} {
		bar := models.MTradeDeltaMinuteBar{
			Symbol:            "BTCUSDT",
			MinuteStart:       int64(i) * 60_000,
			CumulativeTotal:   total,
			CumulativeBuckets: [models.NumDeltaBuckets]float64{total, 0, 0, 0, 1},
			LastPrice:         100 + float64(i),
		}
		if err := db.SaveMinuteBar(bar, nil); err != nil {
			t.Fatalf("SaveMinuteBar: %v", err)
		}
	}

	latest, err := db.LoadLatestMinuteBar("BTCUSDT")
	if err != nil || latest == nil {
		t.Fatalf("LoadLatestMinuteBar: %v", err)
	}
	if latest.MinuteStart != 120_000 || latest.CumulativeTotal != -5 || latest.CumulativeBuckets[4] != 1 {
		t.Fatalf("unexpected latest bar %+v", latest)
	}

	points, err := db.ListCvdPoints("BTCUSDT", "1m", 2)
	if err != nil {
		t.Fatalf("ListCvdPoints: %v", err)
	}
	if len(points) != 2 || points[0].BucketStart != 60_000 || points[1].BucketStart != 120_000 {
		t.Fatalf("expected the two newest minutes oldest first, got %+v", points)
	}
}

func TestRollupDoesNotRegress(t *testing.T) {
	db := newTestDB(t)

	newer := models.MTradeDeltaRollup{Symbol: "BTCUSDT", Timeframe: "5m", BucketStart: 0, SourceMinute: 240_000, CumulativeTotal: 50, LastPrice: 105}
	older := models.MTradeDeltaRollup{Symbol: "BTCUSDT", Timeframe: "5m", BucketStart: 0, SourceMinute: 120_000, CumulativeTotal: 20, LastPrice: 102}

	bar := models.MTradeDeltaMinuteBar{Symbol: "BTCUSDT", MinuteStart: 240_000, CumulativeTotal: 50}
	if err := db.SaveMinuteBar(bar, []models.MTradeDeltaRollup{newer}); err != nil {
		t.Fatalf("SaveMinuteBar: %v", err)
	}
	bar.MinuteStart = 120_000
	if err := db.SaveMinuteBar(bar, []models.MTradeDeltaRollup{older}); err != nil {
		t.Fatalf("SaveMinuteBar: %v", err)
	}

	points, err := db.ListCvdPoints("BTCUSDT", "5m", 10)
	if err != nil {
		t.Fatalf("ListCvdPoints: %v", err)
	}
	if len(points) != 1 || points[0].CumulativeTotal != 50 || points[0].SourceMinute != 240_000 {
		t.Fatalf("older minute regressed the rollup: %+v", points)
	}
}

func TestLiquidationDeduplicated(t *testing.T) {
	db := newTestDB(t)

	ev := models.MLiquidationEvent{Symbol: "ETHUSDT", EventTime: 1000, Side: models.SideLong, Price: 2000, Quantity: 1.5, Notional: 3000}
	inserted, err := db.InsertLiquidation(ev)
	if err != nil || !inserted {
		t.Fatalf("first insert: %v %v", inserted, err)
	}
	inserted, err = db.InsertLiquidation(ev)
	if err != nil || inserted {
		t.Fatalf("duplicate insert should be ignored: %v %v", inserted, err)
	}

	ev.Side = models.SideShort
	if inserted, _ = db.InsertLiquidation(ev); !inserted {
		t.Fatalf("different side is a distinct event")
	}

	events, err := db.ListLiquidations("ETHUSDT", 0)
	if err != nil {
		t.Fatalf("ListLiquidations: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(events))
	}

	n, err := db.PruneLiquidations(1001)
	if err != nil || n != 2 {
		t.Fatalf("PruneLiquidations = %d, %v", n, err)
	}
}

func TestDepthSnapshotsUpsertAndPrune(t *testing.T) {
	db := newTestDB(t)

	rec := models.MDepthSnapshotRecord{
		Symbol:      "BTCUSDT",
		Timeframe:   "5m",
		BucketStart: 0,
		CapturedAt:  30_000,
		Bids:        []models.MPriceLevel{{100, 1}},
		Asks:        []models.MPriceLevel{{102, 2}},
		LastPrice:   101,
	}
	if err := db.SaveDepthSnapshots([]models.MDepthSnapshotRecord{rec}); err != nil {
		t.Fatalf("SaveDepthSnapshots: %v", err)
	}
	rec.CapturedAt = 60_000
	rec.Bids = []models.MPriceLevel{{100, 3}}
	if err := db.SaveDepthSnapshots([]models.MDepthSnapshotRecord{rec}); err != nil {
		t.Fatalf("SaveDepthSnapshots: %v", err)
	}

	list, err := db.ListDepthSnapshots("BTCUSDT", "5m", 10)
	if err != nil {
		t.Fatalf("ListDepthSnapshots: %v", err)
	}
	if len(list) != 1 || list[0].Bids[0][1] != 3 || list[0].CapturedAt != 60_000 {
		t.Fatalf("later capture should overwrite the bucket: %+v", list)
	}

	if n, err := db.PruneDepthSnapshots("1m", 1<<40); err != nil || n != 0 {
		t.Fatalf("pruning another timeframe touched rows: %d %v", n, err)
	}
	if n, err := db.PruneDepthSnapshots("5m", 60_001); err != nil || n != 1 {
		t.Fatalf("PruneDepthSnapshots = %d %v", n, err)
	}
}

func TestPruneTradeDeltas(t *testing.T) {
	db := newTestDB(t)

	for _, m := range []int64{0, 60_000, 120_000} {
		bar := models.MTradeDeltaMinuteBar{Symbol: "BTCUSDT", MinuteStart: m}
		roll := models.MTradeDeltaRollup{Symbol: "BTCUSDT", Timeframe: "1h", BucketStart: 0, SourceMinute: m}
		if err := db.SaveMinuteBar(bar, []models.MTradeDeltaRollup{roll}); err != nil {
			t.Fatalf("SaveMinuteBar: %v", err)
		}
	}

	n, err := db.PruneTradeDeltas(60_000)
	if err != nil {
		t.Fatalf("PruneTradeDeltas: %v", err)
	}
	if n != 2 { // one minute bar plus the 1h rollup at bucket 0
		t.Fatalf("pruned %d rows", n)
	}
}
