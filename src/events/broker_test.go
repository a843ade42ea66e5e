package events

import (
	"testing"

	"flow-observer/src/models"
)

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker(models.EngineCvd)
	a, cancelA := b.Subscribe(4)
	c, cancelC := b.Subscribe(4)
	defer cancelA()
	defer cancelC()

	ev := models.MEngineEvent{Engine: models.EngineCvd, Kind: models.EventMinute, Symbol: "BTCUSDT", Timestamp: 60_000}
	b.Publish(ev)

	if got := <-a; got != ev {
		t.Fatalf("subscriber a got %+v", got)
	}
	if got := <-c; got != ev {
		t.Fatalf("subscriber c got %+v", got)
	}
}

func TestBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker(models.EngineHeatmap)
	_, cancel := b.Subscribe(1)
	defer cancel()

	for i := 0; i < 3; i++ {
		b.Publish(models.MEngineEvent{Kind: models.EventSnapshot, Timestamp: int64(i)})
	}

	published, missed := b.Published()
	if published != 3 || missed != 2 {
		t.Fatalf("published=%d missed=%d", published, missed)
	}
}

func TestBrokerUnsubscribeAndClose(t *testing.T) {
	b := NewBroker(models.EngineLiquidation)
	ch, cancel := b.Subscribe(1)
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after cancel")
	}

	other, _ := b.Subscribe(1)
	b.Close()
	if _, ok := <-other; ok {
		t.Fatalf("channel should be closed after broker Close")
	}

	b.Publish(models.MEngineEvent{})
	late, _ := b.Subscribe(1)
	if _, ok := <-late; ok {
		t.Fatalf("subscribing to a closed broker returns a closed channel")
	}
}
