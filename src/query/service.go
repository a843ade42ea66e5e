package query

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"flow-observer/src/analysis"
	"flow-observer/src/analysis/core"
	"flow-observer/src/cache"
	"flow-observer/src/engines/cvd"
	"flow-observer/src/interfaces"
	"flow-observer/src/logger"
	"flow-observer/src/models"
	"flow-observer/src/utils"
)

// ErrNotTracked is returned for a symbol no engine serves.
var ErrNotTracked = errors.New("symbol not tracked")

const (
	EndpointCvd                = "cvd-history"
	EndpointPrice              = "price-history"
	EndpointDepthHeatmap       = "depth-heatmap"
	EndpointLiquidationHeatmap = "liquidation-heatmap"
	EndpointLiquidationSymbols = "liquidation-symbols"

	totalKey            = "total"
	disagreementWarning = 0.5
)

// Sources groups the engine views the service reads. A nil field means the
// engine is disabled and none of its symbols are tracked.
type Sources struct {
	Cvd         interfaces.ICvdTracker
	Depth       interfaces.IDepthTracker
	Liquidation interfaces.ILiquidationTracker
}

// Params is one read request before normalisation.
type Params struct {
	Symbol    string
	Timeframe string
	Limit     int
	Bins      int
}

// -----------------------------------------------------------------------------

// Service answers read requests from the stores, caching every response.
type Service struct {
	Config    models.MQueryConfig
	Logger    *logger.Logger
	Now       func() time.Time
	store     interfaces.ITimeSeriesStore
	snapshots interfaces.ISnapshotStore
	cache     *cache.ResponseCache
	sources   Sources
}

// -----------------------------------------------------------------------------

func NewService(cfg models.MQueryConfig, store interfaces.ITimeSeriesStore, snapshots interfaces.ISnapshotStore, rc *cache.ResponseCache, sources Sources, log *logger.Logger) *Service {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = utils.DefaultQueryLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = utils.DefaultQueryMaxLimit
	}
	if cfg.DefaultBins <= 0 {
		cfg.DefaultBins = utils.DefaultBins
	}
	if cfg.MaxBins <= 0 {
		cfg.MaxBins = utils.DefaultMaxBins
	}
	if cfg.IntegritySample <= 0 {
		cfg.IntegritySample = utils.DefaultIntegritySample
	}
	return &Service{
		Config:    cfg,
		Logger:    log,
		Now:       time.Now,
		store:     store,
		snapshots: snapshots,
		cache:     rc,
		sources:   sources,
	}
}

// -----------------------------------------------------------------------------

// Normalize upper-cases the symbol, maps the timeframe onto a supported one
// and clamps limit and bins into their configured ranges.
func (s *Service) Normalize(p Params) Params {
	p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
	p.Timeframe = utils.NormalizeTimeframe(p.Timeframe)
	p.Limit = clamp(p.Limit, s.Config.DefaultLimit, s.Config.MaxLimit)
	p.Bins = clamp(p.Bins, s.Config.DefaultBins, s.Config.MaxBins)
	return p
}

func clamp(v, def, max int) int {
	if v <= 0 {
		v = def
	}
	if v > max {
		v = max
	}
	if v < 1 {
		v = 1
	}
	return v
}

// -----------------------------------------------------------------------------

// CvdHistory returns per-tranche cumulative series with price and an
// integrity diagnostic.
func (s *Service) CvdHistory(p Params) (*models.MCvdHistory, error) {
	p = s.Normalize(p)
	if s.sources.Cvd == nil || !s.sources.Cvd.IsTracked(p.Symbol) {
		return nil, ErrNotTracked
	}

	key := cache.Key(EndpointCvd, p.Symbol, p.Timeframe, 0, p.Limit)
	if v, ok := s.cached(key); ok {
		if res, ok := v.(*models.MCvdHistory); ok {
			return res, nil
		}
	}

	points, err := s.store.ListCvdPoints(p.Symbol, p.Timeframe, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("load %s cvd points: %w", p.Symbol, err)
	}

	keys := cvd.BucketKeys()
	res := &models.MCvdHistory{
		Symbol:    p.Symbol,
		Timeframe: p.Timeframe,
		Buckets:   keys,
		Series:    make(map[string][]models.MPoint, len(keys)+1),
		Price:     make([]models.MPoint, 0, len(points)),
		Deltas:    make(map[string]float64, len(keys)+1),
	}

	for i, k := range keys {
		series := make([]models.MPoint, len(points))
		for j, pt := range points {
			series[j] = models.MPoint{float64(pt.BucketStart), pt.CumulativeBuckets[i]}
		}
		res.Series[k] = series
		res.Deltas[k] = seriesDelta(series)
	}
	total := make([]models.MPoint, len(points))
	for j, pt := range points {
		total[j] = models.MPoint{float64(pt.BucketStart), pt.CumulativeTotal}
		if pt.LastPrice > 0 {
			res.Price = append(res.Price, models.MPoint{float64(pt.BucketStart), pt.LastPrice})
		}
	}
	res.Series[totalKey] = total
	res.Deltas[totalKey] = seriesDelta(total)

	if n := len(points); n > 0 {
		res.Meta.LastPrice = points[n-1].LastPrice
		res.Meta.LastTimestamp = points[n-1].BucketStart
	}
	if price, ts, ok := s.sources.Cvd.LastPrice(p.Symbol); ok && price > 0 {
		res.Meta.LastPrice, res.Meta.LastTimestamp = price, ts
	}
	res.Meta.Integrity = CheckIntegrity(points, s.Config.IntegritySample)
	if res.Meta.Integrity.Warning != "" {
		s.Logger.Warning("%s %s: %s", p.Symbol, p.Timeframe, res.Meta.Integrity.Warning)
	}

	s.remember(key, res)
	return res, nil
}

func seriesDelta(series []models.MPoint) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1][1] - series[0][1]
}

// -----------------------------------------------------------------------------

// CheckIntegrity compares, over the newest sample points, the direction of
// each cumulative-total step with the direction of the matching price step.
// Steps where either side is flat are not counted.
func CheckIntegrity(points []models.MTradeDeltaRollup, sample int) models.MIntegrity {
	if sample > 0 && len(points) > sample {
		points = points[len(points)-sample:]
	}

	var out models.MIntegrity
	for i := 1; i < len(points); i++ {
		dc := core.Sign(points[i].CumulativeTotal - points[i-1].CumulativeTotal)
		if points[i].LastPrice <= 0 || points[i-1].LastPrice <= 0 {
			continue
		}
		dp := core.Sign(points[i].LastPrice - points[i-1].LastPrice)
		if dc == 0 || dp == 0 {
			continue
		}
		out.SampledPairs++
		if dc != dp {
			out.Disagreements++
		}
	}

	if out.SampledPairs > 0 {
		out.Ratio = float64(out.Disagreements) / float64(out.SampledPairs)
	}
	if out.Ratio > disagreementWarning {
		out.Warning = fmt.Sprintf("cvd direction disagrees with price on %d of %d sampled steps", out.Disagreements, out.SampledPairs)
	}
	return out
}

// -----------------------------------------------------------------------------

func (s *Service) PriceHistory(p Params) (*models.MPriceHistory, error) {
	p = s.Normalize(p)
	if s.sources.Cvd == nil || !s.sources.Cvd.IsTracked(p.Symbol) {
		return nil, ErrNotTracked
	}

	key := cache.Key(EndpointPrice, p.Symbol, p.Timeframe, 0, p.Limit)
	if v, ok := s.cached(key); ok {
		if res, ok := v.(*models.MPriceHistory); ok {
			return res, nil
		}
	}

	points, err := s.store.ListCvdPoints(p.Symbol, p.Timeframe, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("load %s prices: %w", p.Symbol, err)
	}

	res := &models.MPriceHistory{
		Symbol:    p.Symbol,
		Timeframe: p.Timeframe,
		Prices:    make([]models.MPoint, 0, len(points)),
	}
	for _, pt := range points {
		if pt.LastPrice > 0 {
			res.Prices = append(res.Prices, models.MPoint{float64(pt.BucketStart), pt.LastPrice})
		}
	}
	if n := len(res.Prices); n > 0 {
		res.Meta.LastPrice = res.Prices[n-1][1]
	}
	if price, _, ok := s.sources.Cvd.LastPrice(p.Symbol); ok && price > 0 {
		res.Meta.LastPrice = price
	}

	s.remember(key, res)
	return res, nil
}

// -----------------------------------------------------------------------------

// DepthHeatmap returns stored book snapshots as a time x price matrix with at
// most p.Bins columns.
func (s *Service) DepthHeatmap(p Params) (*models.MDepthHeatmap, error) {
	p = s.Normalize(p)
	if s.sources.Depth == nil || !s.sources.Depth.IsTracked(p.Symbol) {
		return nil, ErrNotTracked
	}

	key := cache.Key(EndpointDepthHeatmap, p.Symbol, p.Timeframe, p.Bins, p.Limit)
	if v, ok := s.cached(key); ok {
		if res, ok := v.(*models.MDepthHeatmap); ok {
			return res, nil
		}
	}

	records, err := s.snapshots.ListDepthSnapshots(p.Symbol, p.Timeframe, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("load %s depth snapshots: %w", p.Symbol, err)
	}

	grid := analysis.DownsampleDepth(records, p.Bins)
	res := &models.MDepthHeatmap{
		Symbol:    p.Symbol,
		Timeframe: p.Timeframe,
		Rows:      grid.Rows,
		Cols:      grid.Cols,
		Matrix:    grid.Matrix,
		PriceMin:  grid.PriceMin,
		PriceMax:  grid.PriceMax,
	}
	if n := len(records); n > 0 {
		res.LastPrice = records[n-1].LastPrice
	}
	if mid, ok := s.sources.Depth.MidPrice(p.Symbol); ok && mid > 0 {
		res.LastPrice = mid
	}

	s.remember(key, res)
	return res, nil
}

// -----------------------------------------------------------------------------

// LiquidationHeatmap bins the events of the last p.Limit buckets into
// p.Bins price rows.
func (s *Service) LiquidationHeatmap(p Params) (*models.MLiquidationHeatmap, error) {
	p = s.Normalize(p)
	if s.sources.Liquidation == nil || !s.sources.Liquidation.IsTracked(p.Symbol) {
		return nil, ErrNotTracked
	}

	key := cache.Key(EndpointLiquidationHeatmap, p.Symbol, p.Timeframe, p.Bins, p.Limit)
	if v, ok := s.cached(key); ok {
		if res, ok := v.(*models.MLiquidationHeatmap); ok {
			return res, nil
		}
	}

	window := analysis.BucketWindow(s.Now().UnixMilli(), p.Timeframe, p.Limit)
	events, err := s.store.ListLiquidations(p.Symbol, window[0])
	if err != nil {
		return nil, fmt.Errorf("load %s liquidations: %w", p.Symbol, err)
	}

	lastPrice, _ := s.sources.Liquidation.LastPrice(p.Symbol)
	grid := analysis.BuildLiquidationHeatmap(events, window, p.Timeframe, p.Bins, lastPrice)

	res := &models.MLiquidationHeatmap{
		Symbol:      p.Symbol,
		Timeframe:   p.Timeframe,
		Timestamps:  grid.Timestamps,
		Matrix:      grid.Matrix,
		LongSeries:  grid.LongSeries,
		ShortSeries: grid.ShortSeries,
		PriceSeries: s.priceSeries(p, window, events),
		Totals:      grid.Totals,
		PriceBins:   grid.PriceBins,
		MaxValue:    grid.MaxValue,
		Meta:        models.MLiquidationMeta{LastPrice: lastPrice, Clip: grid.Clip},
	}

	s.remember(key, res)
	return res, nil
}

// priceSeries prefers the stored trade price of the symbol and falls back to
// the last liquidation price seen in each bucket.
func (s *Service) priceSeries(p Params, window []int64, events []models.MLiquidationEvent) []models.MPoint {
	out := make([]models.MPoint, 0, len(window))

	if points, err := s.store.ListCvdPoints(p.Symbol, p.Timeframe, p.Limit); err != nil {
		s.Logger.Warning("Price series for %s unavailable: %v", p.Symbol, err)
	} else {
		for _, pt := range points {
			if pt.LastPrice > 0 && analysis.BucketIndex(window, pt.BucketStart, p.Timeframe) >= 0 {
				out = append(out, models.MPoint{float64(pt.BucketStart), pt.LastPrice})
			}
		}
	}
	if len(out) > 0 {
		return out
	}

	last := make([]float64, len(window))
	for _, ev := range events {
		if i := analysis.BucketIndex(window, ev.EventTime, p.Timeframe); i >= 0 {
			last[i] = ev.Price
		}
	}
	for i, price := range last {
		if price > 0 {
			out = append(out, models.MPoint{float64(window[i]), price})
		}
	}
	return out
}

// -----------------------------------------------------------------------------

func (s *Service) LiquidationSymbols() (*models.MLiquidationSymbols, error) {
	if s.sources.Liquidation == nil {
		return &models.MLiquidationSymbols{Symbols: []models.MTrackedSymbol{}}, nil
	}

	key := cache.Key(EndpointLiquidationSymbols, "", "", 0, 0)
	if v, ok := s.cached(key); ok {
		if res, ok := v.(*models.MLiquidationSymbols); ok {
			return res, nil
		}
	}

	res := s.sources.Liquidation.Tracked()
	s.remember(key, &res)
	return &res, nil
}

// -----------------------------------------------------------------------------

func (s *Service) cached(key string) (interface{}, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(key)
}

func (s *Service) remember(key string, value interface{}) {
	if s.cache != nil {
		s.cache.Set(key, value)
	}
}
