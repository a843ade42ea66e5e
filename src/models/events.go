package models

const (
	EngineCvd         = "cvd"
	EngineHeatmap     = "heatmap"
	EngineLiquidation = "liquidation"
)

const (
	EventMinute      = "minute"
	EventSnapshot    = "snapshot"
	EventLiquidation = "liquidation"
	EventRanking     = "ranking"
)

// MEngineEvent is published by an engine after its state reached the store.
type MEngineEvent struct {
	Engine    string `json:"engine"`
	Kind      string `json:"kind"`
	Symbol    string `json:"symbol"`
	Timestamp int64  `json:"timestamp"`
}

// -----------------------------------------------------------------------------
// SubscribeCommand for client messages
// -----------------------------------------------------------------------------

type MSubscribeCommand struct {
	Command string   `json:"command"`
	Symbols []string `json:"symbols"`
	Engines []string `json:"engines"`
}

// MWriteQueueStats exposes write-queue backpressure and failures.
type MWriteQueueStats struct {
	Enqueued uint64 `json:"enqueued"`
	Written  uint64 `json:"written"`
	Failed   uint64 `json:"failed"`
	Dropped  uint64 `json:"dropped"`
	Pending  int    `json:"pending"`
}

// MEngineHealth is one engine's entry in the health report.
type MEngineHealth struct {
	Engine          string           `json:"engine"`
	Running         bool             `json:"running"`
	Symbols         int              `json:"symbols"`
	Reconnects      uint64           `json:"reconnects"`
	Messages        uint64           `json:"messages"`
	Malformed       uint64           `json:"malformed"`
	Resyncs         uint64           `json:"resyncs"`
	EventsPublished uint64           `json:"events_published"`
	EventsMissed    uint64           `json:"events_missed"`
	WriteQueue      MWriteQueueStats `json:"write_queue"`
}
