package engines

import (
	"context"
	"testing"

	"flow-observer/src/data_source/binance"
	"flow-observer/src/logger"
	"flow-observer/src/models"
	"flow-observer/src/network"
)

type fixedStream struct {
	stats  network.StreamStats
	events chan network.StreamEvent[binance.Frame]
}

func newFixedStream(stats network.StreamStats) *fixedStream {
	return &fixedStream{stats: stats, events: make(chan network.StreamEvent[binance.Frame])}
}

func (s *fixedStream) Run(ctx context.Context) {
	<-ctx.Done()
	close(s.events)
}

func (s *fixedStream) Events() <-chan network.StreamEvent[binance.Frame] { return s.events }
func (s *fixedStream) Resync()                                          {}
func (s *fixedStream) Stats() network.StreamStats                       { return s.stats }

func newTestBase(t *testing.T) *Base {
	t.Helper()
	b := NewBase(models.EngineCvd, &models.MConfig{}, nil, logger.NewLogger(nil, "test"))
	t.Cleanup(b.Queue.Close)
	return b
}

func TestHealthReportSumsRetiredAndLiveStreams(t *testing.T) {
	b := newTestBase(t)

	retired := newFixedStream(network.StreamStats{Reconnects: 2, Messages: 40, Malformed: 1})
	stop := b.RunStream(context.Background(), retired)
	stop()

	live := []network.StreamStats{
		{Reconnects: 1, Messages: 10},
		{Messages: 5, Malformed: 3},
	}
	h := b.HealthReport(2, live)

	if h.Reconnects != 3 || h.Messages != 55 || h.Malformed != 4 {
		t.Fatalf("stream counters = reconnects %d messages %d malformed %d", h.Reconnects, h.Messages, h.Malformed)
	}
	if h.Symbols != 2 || h.Engine != models.EngineCvd {
		t.Fatalf("unexpected report %+v", h)
	}
}

func TestHealthReportCountsBrokerEvents(t *testing.T) {
	b := newTestBase(t)

	events, cancel := b.Broker.Subscribe(1)
	defer cancel()

	b.Publish(models.EventMinute, "BTCUSDT", 1)
	b.Publish(models.EventMinute, "BTCUSDT", 2)
	b.Publish(models.EventMinute, "BTCUSDT", 3)

	h := b.HealthReport(0, nil)
	if h.EventsPublished != 3 || h.EventsMissed != 2 {
		t.Fatalf("events published %d missed %d", h.EventsPublished, h.EventsMissed)
	}
	if ev := <-events; ev.Timestamp != 1 || ev.Engine != models.EngineCvd {
		t.Fatalf("unexpected first event %+v", ev)
	}
}
