package interfaces

import "flow-observer/src/models"

// -----------------------------------------------------------------------------
// Trackers are the narrow read-only views the query side takes of running
// engines: the tracked set plus cheap last-known-value fields.
// -----------------------------------------------------------------------------

type ICvdTracker interface {
	IsTracked(symbol string) bool

	// LastPrice returns the last traded price and its trade time.
	LastPrice(symbol string) (price float64, tradeTime int64, ok bool)
}

// -----------------------------------------------------------------------------

type IDepthTracker interface {
	IsTracked(symbol string) bool
	MidPrice(symbol string) (float64, bool)
}

// -----------------------------------------------------------------------------

type ILiquidationTracker interface {
	IsTracked(symbol string) bool
	LastPrice(symbol string) (float64, bool)

	// Tracked returns the current ranked symbol set.
	Tracked() models.MLiquidationSymbols
}
