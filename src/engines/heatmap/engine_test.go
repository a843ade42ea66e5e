package heatmap

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"flow-observer/src/data_source/binance"
	"flow-observer/src/engines"
	"flow-observer/src/logger"
	"flow-observer/src/models"
	"flow-observer/src/network"
)

type fakeStream struct {
	events  chan network.StreamEvent[binance.Frame]
	resyncs chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		events:  make(chan network.StreamEvent[binance.Frame], 16),
		resyncs: make(chan struct{}, 4),
	}
}

func (f *fakeStream) Run(ctx context.Context) {
	<-ctx.Done()
	close(f.events)
}
func (f *fakeStream) Events() <-chan network.StreamEvent[binance.Frame] { return f.events }
func (f *fakeStream) Resync() { f.resyncs <- struct{}{} }
func (f *fakeStream) Stats() network.StreamStats { return network.StreamStats{} }

func (f *fakeStream) connect(session string) {
	f.events <- network.StreamEvent[binance.Frame]{Type: network.StreamConnected, Session: session}
}

func (f *fakeStream) disconnect(session string) {
	f.events <- network.StreamEvent[binance.Frame]{Type: network.StreamDisconnected, Session: session}
}

func (f *fakeStream) send(d models.MDepthDiff) {
	f.events <- network.StreamEvent[binance.Frame]{
		Type:  network.StreamMessage,
		Frame: binance.Frame{Kind: binance.FrameDepth, Depth: &d},
	}
}

type fakeRest struct {
	calls atomic.Int32
	book  models.MDepthBootstrap
}

func (f *fakeRest) FetchDepthBootstrap(ctx context.Context, symbol string) (*models.MDepthBootstrap, error) {
	f.calls.Add(1)
	b := f.book
	return &b, nil
}

func (f *fakeRest) FetchTickerRanking(ctx context.Context) ([]models.MSymbolTicker, error) {
	return nil, nil
}

type memSnapshots struct {
	mu      sync.Mutex
	records []models.MDepthSnapshotRecord
}

func (m *memSnapshots) Initialize() error { return nil }
func (m *memSnapshots) SaveDepthSnapshots(records []models.MDepthSnapshotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}
func (m *memSnapshots) ListDepthSnapshots(string, string, int) ([]models.MDepthSnapshotRecord, error) {
	return nil, nil
}
func (m *memSnapshots) PruneDepthSnapshots(string, int64) (int64, error) { return 0, nil }
func (m *memSnapshots) Close() error { return nil }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func newTestEngine(t *testing.T, store *memSnapshots, rest *fakeRest, snapshotEvery time.Duration) (*Engine, chan *fakeStream) {
	t.Helper()
	cfg := &models.MConfig{}
	cfg.Heatmap.Enabled = true
	cfg.Heatmap.Symbols = []string{"BTCUSDT"}
	cfg.Heatmap.MaxLevels = 100
	cfg.Heatmap.SnapshotLevels = 10

	streams := make(chan *fakeStream, 4)
	factory := func(name, stream string) engines.FrameStream {
		s := newFakeStream()
		streams <- s
		return s
	}

	e := NewEngine(cfg, store, rest, factory, logger.NewLogger(nil, "test"))
	e.snapshotEvery = snapshotEvery
	return e, streams
}

func midIs(e *Engine, want float64) func() bool {
	return func() bool {
		mid, ok := e.MidPrice("BTCUSDT")
		return ok && mid == want
	}
}

func TestEngineGapForcesResyncAndNewBootstrap(t *testing.T) {
	rest := &fakeRest{book: book(100, []models.MPriceLevel{{100, 1}}, []models.MPriceLevel{{102, 1}})}
	e, streams := newTestEngine(t, &memSnapshots{}, rest, time.Hour)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()
	stream := <-streams

	stream.connect("s1")
	waitFor(t, "bootstrap mid", midIs(e, 101))

	stream.send(diff(101, 102, []models.MPriceLevel{{100.5, 2}}, nil))
	waitFor(t, "diff applied", midIs(e, 101.25))

	stream.send(diff(110, 111, []models.MPriceLevel{{101.5, 1}}, nil))
	select {
	case <-stream.resyncs:
	case <-time.After(5 * time.Second):
		t.Fatalf("gap did not request a resync")
	}
	if h := e.Health(); h.Resyncs != 1 {
		t.Fatalf("resyncs = %d", h.Resyncs)
	}

	rest.book = book(300, []models.MPriceLevel{{200, 1}}, []models.MPriceLevel{{204, 1}})
	stream.disconnect("s1")
	stream.connect("s2")
	waitFor(t, "second bootstrap", midIs(e, 202))
	if rest.calls.Load() != 2 {
		t.Fatalf("bootstrap calls = %d", rest.calls.Load())
	}
}

func TestEngineCapturesEveryTimeframe(t *testing.T) {
	store := &memSnapshots{}
	rest := &fakeRest{book: book(1, []models.MPriceLevel{{100, 1}}, []models.MPriceLevel{{102, 1}})}
	e, streams := newTestEngine(t, store, rest, 10*time.Millisecond)
	events, cancel := e.Broker.Subscribe(16)
	defer cancel()

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	stream := <-streams
	stream.connect("s1")

	select {
	case ev := <-events:
		if ev.Kind != models.EventSnapshot || ev.Symbol != "BTCUSDT" || ev.Engine != models.EngineHeatmap {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no snapshot event")
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.records)%6 != 0 || len(store.records) == 0 {
		t.Fatalf("expected whole captures of 6 timeframes, got %d records", len(store.records))
	}
	seen := map[string]bool{}
	for _, r := range store.records[:6] {
		seen[r.Timeframe] = true
		if r.LastPrice != 101 || len(r.Bids) != 1 || len(r.Asks) != 1 {
			t.Fatalf("unexpected record %+v", r)
		}
	}
	if len(seen) != 6 {
		t.Fatalf("timeframes captured: %v", seen)
	}
}
