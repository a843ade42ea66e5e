package utils

import "time"

// -----------------------------------------------------------------------------

// Defaults applied when the configuration leaves a value unset.
const (
	DefaultStalenessInterval = 15 * time.Second
	DefaultSnapshotInterval  = 30 * time.Second
	DefaultSnapshotRetention = 48 * time.Hour
	DefaultPruneInterval     = 10 * time.Minute
	DefaultRankingRefresh    = 30 * time.Minute
	DefaultRequestTimeout    = 10 * time.Second

	DefaultRetentionDays  = 7
	DefaultTopN           = 30
	DefaultQuoteAsset     = "USDT"
	DefaultMaxLevels      = 1000
	DefaultSnapshotLevels = 200
	DefaultWriteQueueSize = 1024
	DefaultWriteAttempts  = 3

	DefaultCacheCapacity = 256
	DefaultCacheTTL      = 10 * time.Second

	DefaultQueryLimit      = 240
	DefaultQueryMaxLimit   = 2000
	DefaultBins            = 60
	DefaultMaxBins         = 400
	DefaultIntegritySample = 30
)

// Binance USDⓈ-M futures endpoints.
const (
	DefaultRestBaseURL = "https://fapi.binance.com"
	DefaultWsBaseURL   = "wss://fstream.binance.com/ws"
)

// -----------------------------------------------------------------------------

// CalculateMaxDataPoints returns the number of minute bars covering days.
func CalculateMaxDataPoints(days int) int {
	return days * 24 * 60
}
