package engines

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"flow-observer/src/data_source/binance"
	"flow-observer/src/events"
	"flow-observer/src/logger"
	"flow-observer/src/models"
	"flow-observer/src/network"
	"flow-observer/src/storage"
)

// FrameStream is one upstream websocket stream of decoded frames.
// *network.StreamConn[binance.Frame] implements it.
type FrameStream interface {
	Run(ctx context.Context)
	Events() <-chan network.StreamEvent[binance.Frame]
	Resync()
	Stats() network.StreamStats
}

// StreamFactory opens the named stream (e.g. "btcusdt@aggTrade").
type StreamFactory func(name, stream string) FrameStream

// -----------------------------------------------------------------------------

// NewStreamFactory dials streams below the configured websocket base URL with
// the configured reconnect backoff.
func NewStreamFactory(nm *network.AsyncNetworkManager, log *logger.Logger) StreamFactory {
	min, max := nm.BackoffBounds()
	base := nm.Config.Network.WsBaseURL
	return func(name, stream string) FrameStream {
		return network.NewStreamConn(name, base, stream, binance.ParseFrame, min, max, log)
	}
}

// -----------------------------------------------------------------------------

// Base holds what every engine shares: lifecycle, the write queue, the
// completion broker and stream counters.
type Base struct {
	name    string
	Config  *models.MConfig
	Logger  *logger.Logger
	Queue   *storage.WriteQueue
	Broker  *events.Broker
	Streams StreamFactory
	Now     func() time.Time

	mu      sync.Mutex
	running atomic.Bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	retired  network.StreamStats
	retireMu sync.Mutex
	resyncs  atomic.Uint64
}

// -----------------------------------------------------------------------------

func NewBase(name string, cfg *models.MConfig, streams StreamFactory, log *logger.Logger) *Base {
	return &Base{
		name:    name,
		Config:  cfg,
		Logger:  log,
		Queue:   storage.NewWriteQueue(name, cfg.Storage.WriteQueueSize, log),
		Broker:  events.NewBroker(name),
		Streams: streams,
		Now:     time.Now,
	}
}

// -----------------------------------------------------------------------------

func (b *Base) Name() string {
	return b.name
}

// -----------------------------------------------------------------------------

func (b *Base) IsRunning() bool {
	return b.running.Load()
}

// -----------------------------------------------------------------------------

// Begin marks the engine running and derives its lifecycle context.
func (b *Base) Begin(parent context.Context) (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return nil, fmt.Errorf("engine %s was stopped and cannot be restarted", b.name)
	}
	if b.running.Load() {
		return nil, fmt.Errorf("engine %s is already running", b.name)
	}

	ctx, cancel := context.WithCancel(parent)
	b.cancel = cancel
	b.running.Store(true)
	b.Logger.Info("Started %s engine", b.name)
	return ctx, nil
}

// -----------------------------------------------------------------------------

// Halt cancels background jobs, runs stopWorkers, then drains the write
// queue and closes the broker. Nothing is published after it returns.
func (b *Base) Halt(stopWorkers func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running.Load() {
		return fmt.Errorf("engine %s is not running", b.name)
	}

	b.cancel()
	if stopWorkers != nil {
		stopWorkers()
	}
	b.wg.Wait()
	b.Queue.Close()
	b.Broker.Close()

	b.running.Store(false)
	b.stopped = true
	b.Logger.Info("Stopped %s engine", b.name)
	return nil
}

// -----------------------------------------------------------------------------

// Go runs fn on a goroutine that Halt waits for.
func (b *Base) Go(ctx context.Context, fn func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn(ctx)
	}()
}

// -----------------------------------------------------------------------------

// Every calls fn each interval until ctx is done.
func (b *Base) Every(ctx context.Context, interval time.Duration, fn func()) {
	b.Go(ctx, func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	})
}

// -----------------------------------------------------------------------------

// Publish emits a completion event on the engine broker.
func (b *Base) Publish(kind, symbol string, ts int64) {
	b.Broker.Publish(models.MEngineEvent{
		Engine:    b.name,
		Kind:      kind,
		Symbol:    symbol,
		Timestamp: ts,
	})
}

// -----------------------------------------------------------------------------

// Persist queues run. When event is non-nil it is published after run
// succeeded.
func (b *Base) Persist(name string, run func() error, event *models.MEngineEvent, onFailure func(error)) bool {
	job := storage.WriteJob{Name: name, Run: run, OnFailure: onFailure}
	if event != nil {
		ev := *event
		ev.Engine = b.name
		job.OnSuccess = func() { b.Broker.Publish(ev) }
	}
	return b.Queue.Enqueue(job)
}

// -----------------------------------------------------------------------------

// RunStream runs s until ctx is done. The returned stop func closes the
// stream, waits for it to exit and folds its counters into the engine totals.
func (b *Base) RunStream(ctx context.Context, s FrameStream) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	return func() {
		cancel()
		for range s.Events() {
		}
		<-done

		st := s.Stats()
		b.retireMu.Lock()
		b.retired.Reconnects += st.Reconnects
		b.retired.Messages += st.Messages
		b.retired.Malformed += st.Malformed
		b.retireMu.Unlock()
	}
}

// -----------------------------------------------------------------------------

func (b *Base) CountResync() {
	b.resyncs.Add(1)
}

// -----------------------------------------------------------------------------

// HealthReport combines retired and live stream counters with queue and
// broker stats.
func (b *Base) HealthReport(symbols int, live []network.StreamStats) models.MEngineHealth {
	b.retireMu.Lock()
	total := b.retired
	b.retireMu.Unlock()

	for _, st := range live {
		total.Reconnects += st.Reconnects
		total.Messages += st.Messages
		total.Malformed += st.Malformed
	}
	published, missed := b.Broker.Published()

	return models.MEngineHealth{
		Engine:          b.name,
		Running:         b.running.Load(),
		Symbols:         symbols,
		Reconnects:      total.Reconnects,
		Messages:        total.Messages,
		Malformed:       total.Malformed,
		Resyncs:         b.resyncs.Load(),
		EventsPublished: published,
		EventsMissed:    missed,
		WriteQueue:      b.Queue.Stats(),
	}
}
