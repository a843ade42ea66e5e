package models

import "time"

const (
	SideLong  = "long"
	SideShort = "short"
)

// MLiquidationEvent is a forced position closure.
type MLiquidationEvent struct {
	Symbol    string  `json:"symbol"`
	EventTime int64   `json:"event_time"` // unix ms
	Side      string  `json:"side"`       // long | short
	Price     float64 `json:"price"`
	Quantity  float64 `json:"quantity"`
	Notional  float64 `json:"notional"`
}

// MSymbolTicker is one row of the upstream 24h volume ranking.
type MSymbolTicker struct {
	Symbol      string  `json:"symbol"`
	LastPrice   float64 `json:"lastPrice"`
	QuoteVolume float64 `json:"quoteVolume"`
}

// MTrackedSymbol is an entry of the ranked liquidation symbol set.
type MTrackedSymbol struct {
	Symbol      string    `json:"symbol"`
	Rank        int       `json:"rank"`
	LastPrice   float64   `json:"lastPrice"`
	QuoteVolume float64   `json:"quoteVolume"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
