package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"flow-observer/src/cache"
	"flow-observer/src/config"
	"flow-observer/src/data_source/binance"
	"flow-observer/src/engines"
	"flow-observer/src/engines/cvd"
	"flow-observer/src/engines/heatmap"
	"flow-observer/src/engines/liquidation"
	"flow-observer/src/events"
	"flow-observer/src/grpc_control"
	"flow-observer/src/helpers"
	"flow-observer/src/interfaces"
	"flow-observer/src/logger"
	"flow-observer/src/network"
	"flow-observer/src/query"
	"flow-observer/src/server"
	"flow-observer/src/storage"
	"flow-observer/src/utils"
)

const (
	subscriberBuffer = 256
	healthInterval   = 5 * time.Second
)

// App holds the loaded configuration and the root logger shared by every
// command.
type App struct {
	Config *config.Config
	Logger *logger.Logger
}

func NewApp(cfg *config.Config, log *logger.Logger) *App {
	return &App{Config: cfg, Logger: log}
}

// -----------------------------------------------------------------------------
// Stores
// -----------------------------------------------------------------------------

type stores struct {
	series    *storage.AsyncSQLiteDB
	snapshots interfaces.ISnapshotStore
}

func (s *stores) Close() {
	if s.snapshots != nil && s.snapshots != interfaces.ISnapshotStore(s.series) {
		s.snapshots.Close()
	}
	s.series.Close()
}

// openStores opens the sqlite time-series store and the configured snapshot
// store, both with their schema in place.
func (a *App) openStores() (*stores, error) {
	db, err := storage.NewAsyncSQLiteDB(a.Config.MConfig, a.Logger.Named("sqlite"))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	st := &stores{series: db, snapshots: db}
	if a.Config.Storage.SnapshotStore == "postgres" {
		pg, err := storage.NewPostgresDB(a.Config.MConfig, a.Logger.Named("postgres"))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := pg.Initialize(); err != nil {
			pg.Close()
			db.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		st.snapshots = pg
	}
	return st, nil
}

// -----------------------------------------------------------------------------
// Run
// -----------------------------------------------------------------------------

// Run starts the enabled engines, the HTTP/WebSocket server and the gRPC
// health service, and blocks until a signal arrives or the server fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	helpers.ApplyMemoryLimit(a.Logger)

	st, err := a.openStores()
	if err != nil {
		return err
	}
	defer st.Close()

	nm := network.NewAsyncNetworkManager(a.Config.MConfig, a.Logger.Named("network"))
	rest := binance.NewRestClient(nm)
	streams := engines.NewStreamFactory(nm, a.Logger.Named("stream"))
	rc := cache.NewResponseCache(a.Config.Cache)

	var (
		running []interfaces.IEngine
		brokers []*events.Broker
		sources query.Sources
	)

	if a.Config.Cvd.Enabled {
		e := cvd.NewEngine(a.Config.MConfig, st.series, streams, a.Logger.Named("engine.cvd"))
		running = append(running, e)
		brokers = append(brokers, e.Broker)
		sources.Cvd = e
	}
	if a.Config.Heatmap.Enabled {
		e := heatmap.NewEngine(a.Config.MConfig, st.snapshots, rest, streams, a.Logger.Named("engine.heatmap"))
		running = append(running, e)
		brokers = append(brokers, e.Broker)
		sources.Depth = e
	}
	if a.Config.Liquidation.Enabled {
		e := liquidation.NewEngine(a.Config.MConfig, st.series, rest, streams, a.Logger.Named("engine.liquidation"))
		running = append(running, e)
		brokers = append(brokers, e.Broker)
		sources.Liquidation = e
	}

	q := query.NewService(a.Config.Query, st.series, st.snapshots, rc, sources, a.Logger.Named("query"))
	srv := server.NewFastAPIServer(a.Config.MConfig, q, rc, running, a.Logger.Named("server"))

	// Subscribe before the engines start so no completion is missed.
	for _, b := range brokers {
		invalidations, stopInv := b.Subscribe(subscriberBuffer)
		defer stopInv()
		go rc.InvalidateOn(ctx, invalidations)

		updates, stopUpd := b.Subscribe(subscriberBuffer)
		defer stopUpd()
		go srv.Follow(ctx, updates)
	}

	started := make([]interfaces.IEngine, 0, len(running))
	defer func() {
		for i := len(started) - 1; i >= 0; i-- {
			if err := started[i].Stop(); err != nil {
				a.Logger.Warning("Stopping %s: %v", started[i].Name(), err)
			}
		}
	}()
	for _, e := range running {
		if err := e.Start(ctx); err != nil {
			return fmt.Errorf("start %s engine: %w", e.Name(), err)
		}
		started = append(started, e)
	}

	failed := make(chan error, 2)
	go func() {
		if err := srv.Start(); err != nil {
			failed <- fmt.Errorf("http server: %w", err)
		}
	}()
	defer srv.Stop()

	if a.Config.GrpcPort != 0 {
		ctl := grpc_control.NewControlService(a.Config.MConfig, running, a.Logger.Named("grpc"))
		go ctl.Watch(ctx, healthInterval)
		go func() {
			if err := ctl.Start(); err != nil {
				failed <- fmt.Errorf("grpc server: %w", err)
			}
		}()
		defer ctl.Stop()
	}

	a.Logger.Info("%s running with %d engine(s)", a.Config.Name, len(running))

	select {
	case <-ctx.Done():
		a.Logger.Info("Shutting down...")
		return nil
	case err := <-failed:
		a.Logger.Error("Shutting down after failure: %v", err)
		return err
	}
}

// -----------------------------------------------------------------------------
// Prune
// -----------------------------------------------------------------------------

// PruneReport counts the rows removed by one retention pass.
type PruneReport struct {
	TradeDeltas    int64
	Liquidations   int64
	DepthSnapshots int64
}

// Prune applies every retention window once against the stores, as of now.
func (a *App) Prune(ctx context.Context, now time.Time) (PruneReport, error) {
	var report PruneReport

	st, err := a.openStores()
	if err != nil {
		return report, err
	}
	defer st.Close()

	days := func(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

	cutoff := now.Add(-days(a.Config.Cvd.RetentionDays)).UnixMilli()
	if report.TradeDeltas, err = st.series.PruneTradeDeltas(cutoff); err != nil {
		return report, helpers.NewPersistenceWriteError("prune trade deltas", err)
	}

	cutoff = now.Add(-days(a.Config.Liquidation.RetentionDays)).UnixMilli()
	if report.Liquidations, err = st.series.PruneLiquidations(cutoff); err != nil {
		return report, helpers.NewPersistenceWriteError("prune liquidations", err)
	}

	cutoff = now.Add(-time.Duration(a.Config.Heatmap.RetentionHours) * time.Hour).UnixMilli()
	for _, tf := range utils.Timeframes() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		n, err := st.snapshots.PruneDepthSnapshots(tf, cutoff)
		if err != nil {
			return report, helpers.NewPersistenceWriteError("prune depth snapshots "+tf, err)
		}
		report.DepthSnapshots += n
	}
	return report, nil
}
