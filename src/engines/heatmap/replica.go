package heatmap

import (
	"sort"

	"flow-observer/src/helpers"
	"flow-observer/src/models"
)

// Replica is a local order book rebuilt from a REST bootstrap and the diff
// stream. It is not safe for concurrent use; its worker owns it.
type Replica struct {
	symbol       string
	maxLevels    int
	bids         map[float64]float64
	asks         map[float64]float64
	lastUpdateID int64
	lastMid      float64
	ready        bool
}

// DiffResult tells the worker what happened to one diff batch.
type DiffResult int

const (
	DiffApplied DiffResult = iota
	DiffNotReady
	DiffStale
)

// -----------------------------------------------------------------------------

func NewReplica(symbol string, maxLevels int) *Replica {
	r := &Replica{symbol: symbol, maxLevels: maxLevels}
	r.Invalidate()
	return r
}

// -----------------------------------------------------------------------------

// Invalidate drops all levels. Diffs are discarded until the next bootstrap.
func (r *Replica) Invalidate() {
	r.bids = make(map[float64]float64)
	r.asks = make(map[float64]float64)
	r.lastUpdateID = 0
	r.ready = false
}

// -----------------------------------------------------------------------------

// ApplyBootstrap replaces the book with a full snapshot.
func (r *Replica) ApplyBootstrap(book models.MDepthBootstrap) {
	r.Invalidate()
	upsertLevels(r.bids, book.Bids)
	upsertLevels(r.asks, book.Asks)
	r.lastUpdateID = book.LastUpdateID
	r.ready = true
	r.trim()
}

// -----------------------------------------------------------------------------

// ApplyDiff applies one diff batch. A batch that skips past the last applied
// update id invalidates the book and returns a ProtocolGapError.
func (r *Replica) ApplyDiff(diff models.MDepthDiff) (DiffResult, error) {
	if !r.ready {
		return DiffNotReady, nil
	}
	if diff.LastUpdateID <= r.lastUpdateID {
		return DiffStale, nil
	}
	if diff.FirstUpdateID > r.lastUpdateID+1 {
		err := helpers.NewProtocolGapError(r.symbol, r.lastUpdateID+1, diff.FirstUpdateID)
		r.Invalidate()
		return DiffNotReady, err
	}

	upsertLevels(r.bids, diff.BidUpdates)
	upsertLevels(r.asks, diff.AskUpdates)
	r.lastUpdateID = diff.LastUpdateID
	r.trim()
	return DiffApplied, nil
}

// -----------------------------------------------------------------------------

func (r *Replica) Ready() bool {
	return r.ready
}

func (r *Replica) LastUpdateID() int64 {
	return r.lastUpdateID
}

// Mid is the last computed mid price; it survives invalidation.
func (r *Replica) Mid() float64 {
	return r.lastMid
}

func (r *Replica) Depth() (bids, asks int) {
	return len(r.bids), len(r.asks)
}

// -----------------------------------------------------------------------------

// TopLevels returns up to k levels per side nearest the inside of the book:
// bids best (highest) first, asks best (lowest) first.
func (r *Replica) TopLevels(k int) (bids, asks []models.MPriceLevel) {
	return sideLevels(r.bids, k, true), sideLevels(r.asks, k, false)
}

// -----------------------------------------------------------------------------

// trim bounds each side to maxLevels and recomputes the mid price.
func (r *Replica) trim() {
	if r.maxLevels > 0 {
		trimSide(r.bids, r.maxLevels, true)
		trimSide(r.asks, r.maxLevels, false)
	}

	bestBid, okBid := bestPrice(r.bids, true)
	bestAsk, okAsk := bestPrice(r.asks, false)
	if okBid && okAsk {
		r.lastMid = (bestBid + bestAsk) / 2
	}
}

// -----------------------------------------------------------------------------

func upsertLevels(side map[float64]float64, levels []models.MPriceLevel) {
	for _, lvl := range levels {
		price, qty := lvl[0], lvl[1]
		if qty <= 0 {
			delete(side, price)
			continue
		}
		side[price] = qty
	}
}

func sortedPrices(side map[float64]float64, descending bool) []float64 {
	prices := make([]float64, 0, len(side))
	for p := range side {
		prices = append(prices, p)
	}
	if descending {
		sort.Sort(sort.Reverse(sort.Float64Slice(prices)))
	} else {
		sort.Float64s(prices)
	}
	return prices
}

func trimSide(side map[float64]float64, max int, descending bool) {
	if len(side) <= max {
		return
	}
	for _, p := range sortedPrices(side, descending)[max:] {
		delete(side, p)
	}
}

func sideLevels(side map[float64]float64, k int, descending bool) []models.MPriceLevel {
	prices := sortedPrices(side, descending)
	if k > 0 && len(prices) > k {
		prices = prices[:k]
	}
	out := make([]models.MPriceLevel, len(prices))
	for i, p := range prices {
		out[i] = models.MPriceLevel{p, side[p]}
	}
	return out
}

func bestPrice(side map[float64]float64, highest bool) (float64, bool) {
	var best float64
	found := false
	for p := range side {
		if !found || (highest && p > best) || (!highest && p < best) {
			best, found = p, true
		}
	}
	return best, found
}
