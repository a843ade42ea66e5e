package cvd

import (
	"math"

	"flow-observer/src/models"
	"flow-observer/src/utils"
)

const minuteMs = int64(60_000)

// maxSyntheticBars bounds how many flat bars one rollover may emit. A larger
// jump skips ahead and leaves a hole rather than flooding the store.
var maxSyntheticBars = int64(utils.CalculateMaxDataPoints(1))

// symbolState is one symbol's running delta. It is owned by a single worker
// goroutine.
type symbolState struct {
	symbol        string
	currentMinute int64

	pending      [models.NumDeltaBuckets]float64
	pendingTotal float64

	cumulative      [models.NumDeltaBuckets]float64
	cumulativeTotal float64

	lastPrice     float64
	lastTradeTime int64
}

// -----------------------------------------------------------------------------

// newSymbolState resumes from the latest persisted bar, or from zero. When
// resuming, the pending minute is the one after the stored bar so the first
// rollover fills the downtime with flat bars.
func newSymbolState(symbol string, prev *models.MTradeDeltaMinuteBar, nowMs int64) *symbolState {
	s := &symbolState{
		symbol:        symbol,
		currentMinute: utils.MinuteStart(nowMs),
	}
	if prev != nil {
		s.cumulative = prev.CumulativeBuckets
		s.cumulativeTotal = prev.CumulativeTotal
		s.lastPrice = prev.LastPrice
		if next := prev.MinuteStart + minuteMs; next < s.currentMinute {
			s.currentMinute = next
		}
	}
	return s
}

// -----------------------------------------------------------------------------

// apply folds one trade into the pending minute. Bars of minutes completed
// before the trade are returned for persistence. Late trades count towards
// the current pending minute.
func (s *symbolState) apply(trade models.MTrade) []models.MTradeDeltaMinuteBar {
	bars := s.rollover(utils.MinuteStart(trade.TradeTime))

	notional := math.Abs(trade.Notional)
	if notional == 0 {
		notional = math.Abs(trade.Price * trade.Quantity)
	}
	signed := TradeSign(trade.IsBuyerMaker) * notional

	s.pending[TrancheIndex(notional)] += signed
	s.pendingTotal += signed
	s.lastPrice = trade.Price
	if trade.TradeTime > s.lastTradeTime {
		s.lastTradeTime = trade.TradeTime
	}
	return bars
}

// -----------------------------------------------------------------------------

// rollover closes every minute before minute. The first closed minute carries
// the pending delta; further minutes are flat copies.
func (s *symbolState) rollover(minute int64) []models.MTradeDeltaMinuteBar {
	if minute <= s.currentMinute {
		return nil
	}

	if skipped := (minute - s.currentMinute) / minuteMs; skipped > maxSyntheticBars {
		s.currentMinute = minute - maxSyntheticBars*minuteMs
	}

	var bars []models.MTradeDeltaMinuteBar
	for s.currentMinute < minute {
		bars = append(bars, s.flush())
		s.currentMinute += minuteMs
	}
	return bars
}

// -----------------------------------------------------------------------------

func (s *symbolState) flush() models.MTradeDeltaMinuteBar {
	for i := range s.pending {
		s.cumulative[i] += s.pending[i]
		s.pending[i] = 0
	}
	s.cumulativeTotal += s.pendingTotal
	s.pendingTotal = 0

	return models.MTradeDeltaMinuteBar{
		Symbol:            s.symbol,
		MinuteStart:       s.currentMinute,
		CumulativeTotal:   s.cumulativeTotal,
		CumulativeBuckets: s.cumulative,
		LastPrice:         s.lastPrice,
	}
}

// -----------------------------------------------------------------------------

// rollupsFor re-keys bar into every coarser timeframe bucket.
func rollupsFor(bar models.MTradeDeltaMinuteBar) []models.MTradeDeltaRollup {
	tfs := utils.CoarserTimeframes()
	out := make([]models.MTradeDeltaRollup, 0, len(tfs))
	for _, tf := range tfs {
		out = append(out, models.MTradeDeltaRollup{
			Symbol:            bar.Symbol,
			Timeframe:         tf,
			BucketStart:       utils.BucketStart(bar.MinuteStart, tf),
			SourceMinute:      bar.MinuteStart,
			CumulativeTotal:   bar.CumulativeTotal,
			CumulativeBuckets: bar.CumulativeBuckets,
			LastPrice:         bar.LastPrice,
		})
	}
	return out
}
