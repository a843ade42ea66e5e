package liquidation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	datasource "flow-observer/src/data_source"
	"flow-observer/src/data_source/binance"
	"flow-observer/src/engines"
	"flow-observer/src/interfaces"
	"flow-observer/src/logger"
	"flow-observer/src/models"
	"flow-observer/src/network"
	"flow-observer/src/utils"
)

const (
	retryBacklog  = 1024
	retryInterval = time.Second
)

// Engine follows forced liquidations of the top symbols by 24h quote volume.
type Engine struct {
	*engines.Base
	store interfaces.ITimeSeriesStore
	rest  interfaces.IMarketDataClient
	table *datasource.SymbolTable[*worker]

	refreshEvery time.Duration
	retryEvery   time.Duration
	retention    time.Duration
	topN         int
	quoteAsset   string

	mu        sync.RWMutex
	tracked   map[string]models.MTrackedSymbol
	updatedAt time.Time
}

// -----------------------------------------------------------------------------

func NewEngine(cfg *models.MConfig, store interfaces.ITimeSeriesStore, rest interfaces.IMarketDataClient, streams engines.StreamFactory, log *logger.Logger) *Engine {
	log = log.Named(models.EngineLiquidation)
	e := &Engine{
		Base:         engines.NewBase(models.EngineLiquidation, cfg, streams, log),
		store:        store,
		rest:         rest,
		refreshEvery: time.Duration(cfg.Liquidation.RefreshMinutes) * time.Minute,
		retryEvery:   retryInterval,
		retention:    time.Duration(cfg.Liquidation.RetentionDays) * 24 * time.Hour,
		topN:         cfg.Liquidation.TopN,
		quoteAsset:   cfg.Liquidation.QuoteAsset,
		tracked:      make(map[string]models.MTrackedSymbol),
	}
	if e.refreshEvery <= 0 {
		e.refreshEvery = utils.DefaultRankingRefresh
	}
	if e.retention <= 0 {
		e.retention = utils.DefaultRetentionDays * 24 * time.Hour
	}
	if e.topN <= 0 {
		e.topN = utils.DefaultTopN
	}
	if e.quoteAsset == "" {
		e.quoteAsset = utils.DefaultQuoteAsset
	}

	e.table = datasource.NewSymbolTable(models.EngineLiquidation, func(symbol string) *worker {
		return &worker{engine: e, symbol: symbol, retry: make(chan models.MLiquidationEvent, retryBacklog)}
	}, log)
	return e
}

// -----------------------------------------------------------------------------

// Start opens streams for the current ranking and refreshes it periodically.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, err := e.Begin(ctx)
	if err != nil {
		return err
	}
	if err := e.table.Start(runCtx); err != nil {
		return err
	}

	e.Go(runCtx, func(ctx context.Context) {
		e.Refresh(ctx)
		ticker := time.NewTicker(e.refreshEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Refresh(ctx)
			}
		}
	})
	e.Every(runCtx, utils.DefaultPruneInterval, e.prune)
	return nil
}

// -----------------------------------------------------------------------------

func (e *Engine) Stop() error {
	return e.Halt(e.table.Stop)
}

// -----------------------------------------------------------------------------

// Refresh re-ranks symbols and opens or closes streams to match. On failure
// the previous set stays in place.
func (e *Engine) Refresh(ctx context.Context) error {
	tickers, err := e.rest.FetchTickerRanking(ctx)
	if err != nil {
		e.Logger.Warning("Keeping %d tracked symbols: %v", e.table.Len(), err)
		return err
	}

	ranked := binance.RankByQuoteVolume(tickers, e.quoteAsset, e.topN)
	now := e.Now().UTC()

	next := make(map[string]models.MTrackedSymbol, len(ranked))
	symbols := make([]string, 0, len(ranked))
	for i, t := range ranked {
		symbols = append(symbols, t.Symbol)
		next[t.Symbol] = models.MTrackedSymbol{
			Symbol:      t.Symbol,
			Rank:        i + 1,
			LastPrice:   t.LastPrice,
			QuoteVolume: t.QuoteVolume,
			UpdatedAt:   now,
		}
	}

	e.mu.Lock()
	e.tracked = next
	e.updatedAt = now
	e.mu.Unlock()

	added, removed := e.table.Sync(symbols)
	e.Logger.Info("Ranking refreshed: %d tracked, %d opened, %d closed", len(symbols), len(added), len(removed))
	e.Publish(models.EventRanking, "", now.UnixMilli())
	return nil
}

// -----------------------------------------------------------------------------

func (e *Engine) Symbols() []string {
	return e.table.Symbols()
}

// -----------------------------------------------------------------------------

func (e *Engine) IsTracked(symbol string) bool {
	return e.table.Has(symbol)
}

// -----------------------------------------------------------------------------

func (e *Engine) Health() models.MEngineHealth {
	var live []network.StreamStats
	e.table.Each(func(_ string, w *worker) {
		if st, ok := w.streamStats(); ok {
			live = append(live, st)
		}
	})
	return e.HealthReport(e.table.Len(), live)
}

// -----------------------------------------------------------------------------

// Tracked returns the ranked symbol set, best rank first.
func (e *Engine) Tracked() models.MLiquidationSymbols {
	e.mu.RLock()
	defer e.mu.RUnlock()

	list := make([]models.MTrackedSymbol, 0, len(e.tracked))
	for _, t := range e.tracked {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Rank < list[j].Rank })
	return models.MLiquidationSymbols{Symbols: list, UpdatedAt: e.updatedAt}
}

// -----------------------------------------------------------------------------

// LastPrice returns the most recent price known for symbol from the ranking
// or its liquidations.
func (e *Engine) LastPrice(symbol string) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tracked[symbol]
	return t.LastPrice, ok
}

// -----------------------------------------------------------------------------

func (e *Engine) notePrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tracked[symbol]; ok && price > 0 {
		t.LastPrice = price
		e.tracked[symbol] = t
	}
}

// -----------------------------------------------------------------------------

func (e *Engine) prune() {
	cutoff := e.Now().Add(-e.retention).UnixMilli()
	e.Persist("prune liquidations", func() error {
		n, err := e.store.PruneLiquidations(cutoff)
		if err != nil {
			return err
		}
		if n > 0 {
			e.Logger.Info("Pruned %d liquidation events older than %d", n, cutoff)
		}
		return nil
	}, nil, nil)
}

// -----------------------------------------------------------------------------

// -----------------------------------------------------------------------------
// worker
// -----------------------------------------------------------------------------

type worker struct {
	engine *Engine
	symbol string

	// events not yet accepted by the write queue or whose write failed
	retry chan models.MLiquidationEvent

	mu     sync.RWMutex
	stream engines.FrameStream
}

// -----------------------------------------------------------------------------

func (w *worker) Run(ctx context.Context) {
	e := w.engine
	log := e.Logger.WithFields(logger.Fields{"symbol": w.symbol})

	stream := e.Streams(models.EngineLiquidation+"-"+w.symbol, binance.LiquidationStream(w.symbol))
	w.setStream(stream)
	stopStream := e.RunStream(ctx, stream)
	defer func() {
		w.setStream(nil)
		stopStream()
	}()

	ticker := time.NewTicker(e.retryEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			w.persist(nil)

		case ev, ok := <-stream.Events():
			if !ok {
				return
			}
			if ev.Type != network.StreamMessage {
				continue
			}
			if ev.Frame.Kind != binance.FrameLiquidation || ev.Frame.Liquidation == nil {
				log.Warning("Dropping unexpected %s frame on liquidation stream", ev.Frame.Kind)
				continue
			}
			liq := *ev.Frame.Liquidation
			if liq.Symbol != w.symbol {
				log.Warning("Dropping liquidation for %s on %s stream", liq.Symbol, w.symbol)
				continue
			}
			e.notePrice(liq.Symbol, liq.Price)
			w.persist([]models.MLiquidationEvent{liq})
		}
	}
}

// -----------------------------------------------------------------------------

// persist queues events after any backlog. A refused event and the ones after
// it wait in the backlog for the next event or retry tick.
func (w *worker) persist(events []models.MLiquidationEvent) {
	if len(events) == 0 && len(w.retry) == 0 {
		return
	}

	var backlog []models.MLiquidationEvent
drain:
	for {
		select {
		case ev := <-w.retry:
			backlog = append(backlog, ev)
		default:
			break drain
		}
	}

	pending := append(backlog, events...)
	for i, ev := range pending {
		if !w.record(ev) {
			for _, rest := range pending[i:] {
				w.requeue(rest)
			}
			return
		}
	}
}

// -----------------------------------------------------------------------------

// record queues ev for insertion and publishes only when it was not a
// duplicate. It reports whether the queue accepted the job.
func (w *worker) record(ev models.MLiquidationEvent) bool {
	e := w.engine
	return e.Persist(
		fmt.Sprintf("liquidation %s %d", ev.Symbol, ev.EventTime),
		func() error {
			inserted, err := e.store.InsertLiquidation(ev)
			if err != nil {
				return err
			}
			if inserted {
				e.Publish(models.EventLiquidation, ev.Symbol, ev.EventTime)
			}
			return nil
		},
		nil,
		func(error) { w.requeue(ev) },
	)
}

// -----------------------------------------------------------------------------

func (w *worker) requeue(ev models.MLiquidationEvent) {
	select {
	case w.retry <- ev:
	default:
		w.engine.Logger.Error("Retry backlog full, liquidation %s %d stays unsaved", ev.Symbol, ev.EventTime)
	}
}

// -----------------------------------------------------------------------------

func (w *worker) setStream(s engines.FrameStream) {
	w.mu.Lock()
	w.stream = s
	w.mu.Unlock()
}

func (w *worker) streamStats() (network.StreamStats, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stream == nil {
		return network.StreamStats{}, false
	}
	return w.stream.Stats(), true
}
