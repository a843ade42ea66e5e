package models

// MPriceLevel is a [price, quantity] pair.
type MPriceLevel [2]float64

// MDepthBootstrap is the one-shot REST order book snapshot.
type MDepthBootstrap struct {
	Symbol       string        `json:"symbol"`
	LastUpdateID int64         `json:"lastUpdateId"`
	Bids         []MPriceLevel `json:"bids"`
	Asks         []MPriceLevel `json:"asks"`
}

// MDepthDiff is one incremental batch from the diff depth stream.
type MDepthDiff struct {
	Symbol        string        `json:"symbol"`
	EventTime     int64         `json:"event_time"`
	FirstUpdateID int64         `json:"first_update_id"`
	LastUpdateID  int64         `json:"last_update_id"`
	PrevUpdateID  int64         `json:"prev_update_id"` // futures "pu", 0 when absent
	BidUpdates    []MPriceLevel `json:"bid_updates"`
	AskUpdates    []MPriceLevel `json:"ask_updates"`
}

// MDepthSnapshotRecord is a captured replica stored under one timeframe bucket.
type MDepthSnapshotRecord struct {
	Symbol      string        `json:"symbol"`
	Timeframe   string        `json:"timeframe"`
	BucketStart int64         `json:"bucket_start"`
	CapturedAt  int64         `json:"captured_at"`
	Bids        []MPriceLevel `json:"bids"`
	Asks        []MPriceLevel `json:"asks"`
	LastPrice   float64       `json:"last_price"`
}
