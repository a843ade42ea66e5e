package heatmap

import (
	"context"
	"fmt"
	"sync"
	"time"

	datasource "flow-observer/src/data_source"
	"flow-observer/src/data_source/binance"
	"flow-observer/src/engines"
	"flow-observer/src/helpers"
	"flow-observer/src/interfaces"
	"flow-observer/src/logger"
	"flow-observer/src/models"
	"flow-observer/src/network"
	"flow-observer/src/utils"
)

// Engine keeps an order book replica per symbol and snapshots it into every
// timeframe bucket at a fixed interval.
type Engine struct {
	*engines.Base
	store interfaces.ISnapshotStore
	rest  interfaces.IMarketDataClient
	table *datasource.SymbolTable[*worker]

	snapshotEvery  time.Duration
	retention      time.Duration
	maxLevels      int
	snapshotLevels int
}

// -----------------------------------------------------------------------------

func NewEngine(cfg *models.MConfig, store interfaces.ISnapshotStore, rest interfaces.IMarketDataClient, streams engines.StreamFactory, log *logger.Logger) *Engine {
	log = log.Named(models.EngineHeatmap)
	e := &Engine{
		Base:           engines.NewBase(models.EngineHeatmap, cfg, streams, log),
		store:          store,
		rest:           rest,
		snapshotEvery:  time.Duration(cfg.Heatmap.SnapshotIntervalSeconds) * time.Second,
		retention:      time.Duration(cfg.Heatmap.RetentionHours) * time.Hour,
		maxLevels:      cfg.Heatmap.MaxLevels,
		snapshotLevels: cfg.Heatmap.SnapshotLevels,
	}
	if e.snapshotEvery <= 0 {
		e.snapshotEvery = utils.DefaultSnapshotInterval
	}
	if e.retention <= 0 {
		e.retention = utils.DefaultSnapshotRetention
	}
	if e.maxLevels <= 0 {
		e.maxLevels = utils.DefaultMaxLevels
	}
	if e.snapshotLevels <= 0 {
		e.snapshotLevels = utils.DefaultSnapshotLevels
	}

	e.table = datasource.NewSymbolTable(models.EngineHeatmap, func(symbol string) *worker {
		return &worker{engine: e, symbol: symbol}
	}, log)
	for _, sym := range cfg.Heatmap.Symbols {
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

// MidPrice returns the last mid price of symbol's replica.
func (e *Engine) MidPrice(symbol string) (float64, bool) {
	w, ok := e.table.Get(symbol)
	if !ok {
		return 0, false
	}
	return w.mid()
}

// -----------------------------------------------------------------------------

// prune deletes snapshots past retention, each timeframe on its own.
func (e *Engine) prune() {
	cutoff := e.Now().Add(-e.retention).UnixMilli()
	for _, tf := range utils.Timeframes() {
		tf := tf
		e.Persist("prune depth "+tf, func() error {
			n, err := e.store.PruneDepthSnapshots(tf, cutoff)
			if err != nil {
				return err
			}
			if n > 0 {
				e.Logger.Info("Pruned %d %s depth snapshots older than %d", n, tf, cutoff)
			}
			return nil
		}, nil, nil)
	}
}

// -----------------------------------------------------------------------------
// worker
// -----------------------------------------------------------------------------

type bootstrapResult struct {
	session string
	book    *models.MDepthBootstrap
	err     error
}

type worker struct {
	engine *Engine
	symbol string

	mu       sync.RWMutex
	stream   engines.FrameStream
	lastMid  float64
	hasPrice bool
}

// -----------------------------------------------------------------------------

func (w *worker) Run(parent context.Context) {
	e := w.engine
	log := e.Logger.WithFields(logger.Fields{"symbol": w.symbol})

	var boots sync.WaitGroup
	defer boots.Wait()
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	replica := NewReplica(w.symbol, e.maxLevels)
	results := make(chan bootstrapResult, 4)
	retry := helpers.NewBackoff(time.Second, time.Minute)
	var retryAt <-chan time.Time
	session := ""

	bootstrap := func(session string) {
		boots.Add(1)
		go func() {
			defer boots.Done()
			book, err := e.rest.FetchDepthBootstrap(ctx, w.symbol)
			select {
			case results <- bootstrapResult{session: session, book: book, err: err}:
			case <-ctx.Done():
			}
		}()
	}

	stream := e.Streams(models.EngineHeatmap+"-"+w.symbol, binance.DepthStream(w.symbol))
	w.setStream(stream)
	stopStream := e.RunStream(ctx, stream)
	defer func() {
		w.setStream(nil)
		stopStream()
	}()

	ticker := time.NewTicker(e.snapshotEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-stream.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case network.StreamConnected:
				session = ev.Session
				replica.Invalidate()
				retryAt = nil
				bootstrap(session)

			case network.StreamDisconnected:
				session = ""
				replica.Invalidate()
				retryAt = nil

			case network.StreamMessage:
				if ev.Frame.Kind != binance.FrameDepth || ev.Frame.Depth == nil {
					log.Warning("Dropping unexpected %s frame on depth stream", ev.Frame.Kind)
					continue
				}
				if _, err := replica.ApplyDiff(*ev.Frame.Depth); err != nil {
					log.Warning("%v, resyncing", err)
					e.CountResync()
					session = ""
					stream.Resync()
					continue
				}
				w.setMid(replica)
			}

		case res := <-results:
			if res.session != session || session == "" {
				continue
			}
			if res.err != nil {
				delay := retry.Duration()
				log.Error("Depth bootstrap failed, retrying in %v: %v", delay, res.err)
				retryAt = time.After(delay)
				continue
			}
			retry.Reset()
			replica.ApplyBootstrap(*res.book)
			w.setMid(replica)
			bids, asks := replica.Depth()
			log.Info("Bootstrapped book at update %d (%d bids, %d asks)", replica.LastUpdateID(), bids, asks)

		case <-retryAt:
			retryAt = nil
			if session != "" && !replica.Ready() {
				bootstrap(session)
			}

		case <-ticker.C:
			if replica.Ready() {
				w.capture(replica, e.Now().UnixMilli())
			}
		}
	}
}

// -----------------------------------------------------------------------------

// capture stores the top of the book once per timeframe bucket.
func (w *worker) capture(replica *Replica, nowMs int64) {
	e := w.engine
	bids, asks := replica.TopLevels(e.snapshotLevels)

	tfs := utils.Timeframes()
	records := make([]models.MDepthSnapshotRecord, 0, len(tfs))
	for _, tf := range tfs {
		records = append(records, models.MDepthSnapshotRecord{
			Symbol:      w.symbol,
			Timeframe:   tf,
			BucketStart: utils.BucketStart(nowMs, tf),
			CapturedAt:  nowMs,
			Bids:        bids,
			Asks:        asks,
			LastPrice:   replica.Mid(),
		})
	}

	e.Persist(
		fmt.Sprintf("depth %s %d", w.symbol, nowMs),
		func() error { return e.store.SaveDepthSnapshots(records) },
		&models.MEngineEvent{Kind: models.EventSnapshot, Symbol: w.symbol, Timestamp: nowMs},
		nil,
	)
}

// -----------------------------------------------------------------------------

func (w *worker) setMid(replica *Replica) {
	if replica.Mid() == 0 {
		return
	}
	w.mu.Lock()
	w.lastMid, w.hasPrice = replica.Mid(), true
	w.mu.Unlock()
}

func (w *worker) mid() (float64, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastMid, w.hasPrice
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
