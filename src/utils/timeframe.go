package utils

import (
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Timeframe registry
// -----------------------------------------------------------------------------

const DefaultTimeframe = "1m"

// supported timeframes, finest first
var timeframeOrder = []string{"1m", "5m", "15m", "1h", "4h", "1d"}

var timeframeDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

var timeframeAliases = map[string]string{
	"1min":  "1m",
	"5min":  "5m",
	"15min": "15m",
	"60m":   "1h",
	"240m":  "4h",
	"24h":   "1d",
	"1440m": "1d",
}

// -----------------------------------------------------------------------------

// Timeframes returns every supported timeframe, finest first.
func Timeframes() []string {
	out := make([]string, len(timeframeOrder))
	copy(out, timeframeOrder)
	return out
}

// -----------------------------------------------------------------------------

// CoarserTimeframes returns every supported timeframe except the base minute.
func CoarserTimeframes() []string {
	return Timeframes()[1:]
}

// -----------------------------------------------------------------------------

// IsTimeframe reports whether tf is a canonical identifier.
func IsTimeframe(tf string) bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// -----------------------------------------------------------------------------

// NormalizeTimeframe maps arbitrary input onto a supported timeframe,
// falling back to DefaultTimeframe.
func NormalizeTimeframe(input string) string {
	tf := strings.ToLower(strings.TrimSpace(input))
	if IsTimeframe(tf) {
		return tf
	}
	if alias, ok := timeframeAliases[tf]; ok {
		return alias
	}
	return DefaultTimeframe
}

// -----------------------------------------------------------------------------

// TimeframeDuration returns the bucket width of tf (the default's width for
// unknown input).
func TimeframeDuration(tf string) time.Duration {
	return timeframeDurations[NormalizeTimeframe(tf)]
}

// -----------------------------------------------------------------------------

// TimeframeMillis returns the bucket width of tf in milliseconds.
func TimeframeMillis(tf string) int64 {
	return TimeframeDuration(tf).Milliseconds()
}

// -----------------------------------------------------------------------------

// BucketStart floors a unix-ms timestamp into its timeframe bucket.
func BucketStart(tsMs int64, tf string) int64 {
	start, _ := CalculateWindowBoundaries(tsMs, TimeframeMillis(tf))
	return start
}

// -----------------------------------------------------------------------------

// CalculateWindowBoundaries returns the [start, end) window containing ts.
// Negative timestamps floor toward minus infinity.
func CalculateWindowBoundaries(ts int64, window int64) (int64, int64) {
	if window <= 0 {
		return ts, ts
	}
	start := ts - (ts % window)
	if ts < 0 && ts%window != 0 {
		start -= window
	}
	return start, start + window
}

// -----------------------------------------------------------------------------

// MinuteStart floors a unix-ms timestamp to its minute.
func MinuteStart(tsMs int64) int64 {
	return BucketStart(tsMs, DefaultTimeframe)
}

// -----------------------------------------------------------------------------

// TableSuffix returns a SQL-safe suffix for per-timeframe table names.
func TableSuffix(tf string) string {
	return NormalizeTimeframe(tf)
}
