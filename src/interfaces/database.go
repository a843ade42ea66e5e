package interfaces

import "flow-observer/src/models"

// -----------------------------------------------------------------------------
// ITimeSeriesStore is the hot relational store: minute bars, rollups and
// liquidation events.
// -----------------------------------------------------------------------------

type ITimeSeriesStore interface {

	// Initialize sets up the database schema and tables.
	Initialize() error

	// -----------------------------------------------------------------------------

	// SaveMinuteBar writes a minute bar and its coarser rollups atomically.
	// A rollup only replaces an existing bucket row when its SourceMinute is
	// not older than the stored one.
	SaveMinuteBar(bar models.MTradeDeltaMinuteBar, rollups []models.MTradeDeltaRollup) error

	// -----------------------------------------------------------------------------

	// LoadLatestMinuteBar returns the newest bar for symbol, or nil if none.
	LoadLatestMinuteBar(symbol string) (*models.MTradeDeltaMinuteBar, error)

	// -----------------------------------------------------------------------------

	// ListCvdPoints returns the newest limit points of a timeframe, oldest first.
	// The base minute timeframe reads minute bars directly.
	ListCvdPoints(symbol, timeframe string, limit int) ([]models.MTradeDeltaRollup, error)

	// -----------------------------------------------------------------------------

	// InsertLiquidation stores one event; inserted is false for an exact duplicate.
	InsertLiquidation(event models.MLiquidationEvent) (inserted bool, err error)

	// -----------------------------------------------------------------------------

	// ListLiquidations returns events for symbol with eventTime >= since, oldest first.
	ListLiquidations(symbol string, since int64) ([]models.MLiquidationEvent, error)

	// -----------------------------------------------------------------------------

	// PruneTradeDeltas deletes minute bars and rollups older than before (unix ms).
	PruneTradeDeltas(before int64) (int64, error)

	// -----------------------------------------------------------------------------

	// PruneLiquidations deletes events older than before (unix ms).
	PruneLiquidations(before int64) (int64, error)

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}

// -----------------------------------------------------------------------------
// ISnapshotStore is the document store for order book snapshots.
// -----------------------------------------------------------------------------

type ISnapshotStore interface {
	Initialize() error

	// SaveDepthSnapshots upserts records keyed by (symbol, timeframe, bucketStart).
	SaveDepthSnapshots(records []models.MDepthSnapshotRecord) error

	// ListDepthSnapshots returns the newest limit records, oldest first.
	ListDepthSnapshots(symbol, timeframe string, limit int) ([]models.MDepthSnapshotRecord, error)

	// PruneDepthSnapshots deletes records of one timeframe captured before before (unix ms).
	PruneDepthSnapshots(timeframe string, before int64) (int64, error)

	Close() error
}
