package cvd

import (
	"context"
	"fmt"
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

// Engine tracks the cumulative volume delta of every configured symbol.
type Engine struct {
	*engines.Base
	store     interfaces.ITimeSeriesStore
	table     *datasource.SymbolTable[*worker]
	staleness time.Duration
	retention time.Duration
}

// -----------------------------------------------------------------------------

func NewEngine(cfg *models.MConfig, store interfaces.ITimeSeriesStore, streams engines.StreamFactory, log *logger.Logger) *Engine {
	log = log.Named(models.EngineCvd)
	e := &Engine{
		Base:      engines.NewBase(models.EngineCvd, cfg, streams, log),
		store:     store,
		staleness: time.Duration(cfg.Cvd.StalenessSeconds) * time.Second,
		retention: time.Duration(cfg.Cvd.RetentionDays) * 24 * time.Hour,
	}
	if e.staleness <= 0 {
		e.staleness = utils.DefaultStalenessInterval
	}
	if e.retention <= 0 {
		e.retention = utils.DefaultRetentionDays * 24 * time.Hour
	}

	e.table = datasource.NewSymbolTable(models.EngineCvd, func(symbol string) *worker {
		return &worker{engine: e, symbol: symbol, retry: make(chan models.MTradeDeltaMinuteBar, 2*maxSyntheticBars)}
	}, log)
	for _, sym := range cfg.Cvd.Symbols {
		e.table.Add(sym)
	}
	return e
}

// -----------------------------------------------------------------------------

func (e *Engine) Start(ctx context.Context) error {
	runCtx, err := e.Begin(ctx)
	if err != nil {
		return err
	}
	if err := e.table.Start(runCtx); err != nil {
		return err
	}
	e.Every(runCtx, utils.DefaultPruneInterval, e.prune)
	return nil
}

// -----------------------------------------------------------------------------

func (e *Engine) Stop() error {
	return e.Halt(e.table.Stop)
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

// LastPrice returns the last traded price and trade time seen for symbol.
func (e *Engine) LastPrice(symbol string) (float64, int64, bool) {
	w, ok := e.table.Get(symbol)
	if !ok {
		return 0, 0, false
	}
	return w.quote()
}

// -----------------------------------------------------------------------------

// prune is queued behind pending bar writes so the store keeps one writer.
func (e *Engine) prune() {
	cutoff := e.Now().Add(-e.retention).UnixMilli()
	e.Persist("prune cvd", func() error {
		n, err := e.store.PruneTradeDeltas(cutoff)
		if err != nil {
			return err
		}
		if n > 0 {
			e.Logger.Info("Pruned %d trade delta rows older than %d", n, cutoff)
		}
		return nil
	}, nil, nil)
}

// -----------------------------------------------------------------------------
// worker
// -----------------------------------------------------------------------------

type worker struct {
	engine *Engine
	symbol string

	// bars whose write failed or was refused by a full queue, re-queued on
	// the next flush
	retry chan models.MTradeDeltaMinuteBar

	mu            sync.RWMutex
	stream        engines.FrameStream
	lastPrice     float64
	lastTradeTime int64
	hasQuote      bool
}

// -----------------------------------------------------------------------------

func (w *worker) Run(ctx context.Context) {
	e := w.engine
	log := e.Logger.WithFields(logger.Fields{"symbol": w.symbol})

	prev, err := e.store.LoadLatestMinuteBar(w.symbol)
	if err != nil {
		log.Error("Failed to load cumulative state, starting from zero: %v", err)
		prev = nil
	}
	state := newSymbolState(w.symbol, prev, e.Now().UnixMilli())
	if prev != nil {
		w.setQuote(prev.LastPrice, prev.MinuteStart)
		log.Info("Resumed cumulative delta %.2f from minute %d", prev.CumulativeTotal, prev.MinuteStart)
	}

	stream := e.Streams(models.EngineCvd+"-"+w.symbol, binance.TradeStream(w.symbol))
	w.setStream(stream)
	stopStream := e.RunStream(ctx, stream)
	defer func() {
		w.setStream(nil)
		stopStream()
	}()

	ticker := time.NewTicker(e.staleness)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-stream.Events():
			if !ok {
				return
			}
			if ev.Type != network.StreamMessage {
				continue
			}
			if ev.Frame.Kind != binance.FrameTrade || ev.Frame.Trade == nil {
				log.Warning("Dropping unexpected %s frame on trade stream", ev.Frame.Kind)
				continue
			}
			trade := *ev.Frame.Trade
			if trade.Symbol != "" && trade.Symbol != w.symbol {
				log.Warning("Dropping trade for %s on %s stream", trade.Symbol, w.symbol)
				continue
			}
			if bars := state.apply(trade); len(bars) > 0 {
				w.persist(bars)
			}
			w.setQuote(state.lastPrice, state.lastTradeTime)

		case <-ticker.C:
			w.persist(state.rollover(utils.MinuteStart(e.Now().UnixMilli())))
		}
	}
}

// -----------------------------------------------------------------------------

// persist queues bars, preceded by any bars whose earlier write failed. Once
// the queue refuses a bar, it and every later bar go back to the backlog so
// minutes stay in order.
func (w *worker) persist(bars []models.MTradeDeltaMinuteBar) {
	if len(bars) == 0 && len(w.retry) == 0 {
		return
	}

	var backlog []models.MTradeDeltaMinuteBar
drain:
	for {
		select {
		case bar := <-w.retry:
			backlog = append(backlog, bar)
		default:
			break drain
		}
	}

	pending := append(backlog, bars...)
	for i, bar := range pending {
		if !w.save(bar) {
			for _, rest := range pending[i:] {
				w.requeue(rest)
			}
			return
		}
	}
}

// -----------------------------------------------------------------------------

// save queues one bar and reports whether the queue accepted it.
func (w *worker) save(bar models.MTradeDeltaMinuteBar) bool {
	e := w.engine
	rollups := rollupsFor(bar)

	return e.Persist(
		fmt.Sprintf("cvd %s %d", bar.Symbol, bar.MinuteStart),
		func() error { return e.store.SaveMinuteBar(bar, rollups) },
		&models.MEngineEvent{Kind: models.EventMinute, Symbol: bar.Symbol, Timestamp: bar.MinuteStart},
		func(error) { w.requeue(bar) },
	)
}

// -----------------------------------------------------------------------------

func (w *worker) requeue(bar models.MTradeDeltaMinuteBar) {
	select {
	case w.retry <- bar:
	default:
		w.engine.Logger.Error("Retry backlog full, minute %d of %s stays unsaved", bar.MinuteStart, bar.Symbol)
	}
}

// -----------------------------------------------------------------------------

func (w *worker) setQuote(price float64, ts int64) {
	w.mu.Lock()
	w.lastPrice, w.lastTradeTime, w.hasQuote = price, ts, true
	w.mu.Unlock()
}

func (w *worker) quote() (float64, int64, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastPrice, w.lastTradeTime, w.hasQuote
}

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
