package models

// NumDeltaBuckets is the number of notional tranches tracked by the CVD engine.
const NumDeltaBuckets = 5

// MTrade is a single aggressive trade as delivered by the exchange.
type MTrade struct {
	Symbol       string  `json:"symbol"`
	Price        float64 `json:"price"`
	Quantity     float64 `json:"quantity"`
	Notional     float64 `json:"notional"`
	TradeTime    int64   `json:"trade_time"` // unix ms
	IsBuyerMaker bool    `json:"is_buyer_maker"`
}

// MTradeDeltaMinuteBar is the cumulative signed-notional state at the close of a minute.
type MTradeDeltaMinuteBar struct {
	Symbol            string                   `json:"symbol"`
	MinuteStart       int64                    `json:"minute_start"` // unix ms
	CumulativeTotal   float64                  `json:"cumulative_total"`
	CumulativeBuckets [NumDeltaBuckets]float64 `json:"cumulative_buckets"`
	LastPrice         float64                  `json:"last_price"`
}

// MTradeDeltaRollup is a minute bar re-keyed into a coarser timeframe bucket.
// SourceMinute records which minute produced the values so that an older
// minute never overwrites a newer one.
type MTradeDeltaRollup struct {
	Symbol            string                   `json:"symbol"`
	Timeframe         string                   `json:"timeframe"`
	BucketStart       int64                    `json:"bucket_start"`
	SourceMinute      int64                    `json:"source_minute"`
	CumulativeTotal   float64                  `json:"cumulative_total"`
	CumulativeBuckets [NumDeltaBuckets]float64 `json:"cumulative_buckets"`
	LastPrice         float64                  `json:"last_price"`
}
