package models

import "time"

// MPoint is a [timestamp, value] pair as consumed by charting clients.
type MPoint [2]float64

// MIntegrity reports the CVD-vs-price direction check.
type MIntegrity struct {
	SampledPairs  int     `json:"sampled_pairs"`
	Disagreements int     `json:"disagreements"`
	Ratio         float64 `json:"ratio"`
	Warning       string  `json:"warning,omitempty"`
}

type MCvdMeta struct {
	LastPrice     float64    `json:"lastPrice"`
	LastTimestamp int64      `json:"lastTimestamp"`
	Integrity     MIntegrity `json:"integrity"`
}

// MCvdHistory is the cvd-history response.
type MCvdHistory struct {
	Symbol    string              `json:"symbol"`
	Timeframe string              `json:"timeframe"`
	Buckets   []string            `json:"buckets"`
	Series    map[string][]MPoint `json:"series"`
	Price     []MPoint            `json:"price"`
	Deltas    map[string]float64  `json:"deltas"`
	Meta      MCvdMeta            `json:"meta"`
}

type MPriceMeta struct {
	LastPrice float64 `json:"lastPrice"`
}

// MPriceHistory is the price-history response.
type MPriceHistory struct {
	Symbol    string     `json:"symbol"`
	Timeframe string     `json:"timeframe"`
	Prices    []MPoint   `json:"prices"`
	Meta      MPriceMeta `json:"meta"`
}

// MDepthHeatmap is the depth-heatmap response.
type MDepthHeatmap struct {
	Symbol    string      `json:"symbol"`
	Timeframe string      `json:"timeframe"`
	Rows      []int64     `json:"rows"`
	Cols      []float64   `json:"cols"`
	Matrix    [][]float64 `json:"matrix"`
	PriceMin  float64     `json:"priceMin"`
	PriceMax  float64     `json:"priceMax"`
	LastPrice float64     `json:"lastPrice"`
}

type MLiquidationTotals struct {
	Long  float64 `json:"long"`
	Short float64 `json:"short"`
	Count int     `json:"count"`
}

type MPriceBins struct {
	Count   int       `json:"count"`
	Min     float64   `json:"min"`
	Max     float64   `json:"max"`
	Step    float64   `json:"step"`
	Centers []float64 `json:"centers"`
}

type MLiquidationMeta struct {
	LastPrice float64 `json:"lastPrice"`
	Clip      float64 `json:"clip"`
}

// MLiquidationHeatmap is the liquidation-heatmap response.
type MLiquidationHeatmap struct {
	Symbol      string             `json:"symbol"`
	Timeframe   string             `json:"timeframe"`
	Timestamps  []int64            `json:"timestamps"`
	Matrix      [][]float64        `json:"matrix"`
	LongSeries  []float64          `json:"longSeries"`
	ShortSeries []float64          `json:"shortSeries"`
	PriceSeries []MPoint           `json:"priceSeries"`
	Totals      MLiquidationTotals `json:"totals"`
	PriceBins   MPriceBins         `json:"priceBins"`
	MaxValue    float64            `json:"maxValue"`
	Meta        MLiquidationMeta   `json:"meta"`
}

type MLiquidationSymbols struct {
	Symbols   []MTrackedSymbol `json:"symbols"`
	UpdatedAt time.Time        `json:"updatedAt"`
}
