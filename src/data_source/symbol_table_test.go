package datasource

import (
	"context"
	"reflect"
	"sync/atomic"
	"testing"

	"flow-observer/src/logger"
)

type countingWorker struct {
	running *int32
	exited  *int32
}

func (w countingWorker) Run(ctx context.Context) {
	atomic.AddInt32(w.running, 1)
	<-ctx.Done()
	atomic.AddInt32(w.running, -1)
	atomic.AddInt32(w.exited, 1)
}

func newCountingTable() (*SymbolTable[countingWorker], *int32, *int32) {
	var running, exited int32
	table := NewSymbolTable("test", func(string) countingWorker {
		return countingWorker{running: &running, exited: &exited}
	}, logger.NewLogger(nil, "test"))
	return table, &running, &exited
}

func TestSymbolTableSync(t *testing.T) {
	table, _, exited := newCountingTable()
	if err := table.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer table.Stop()

	added, removed := table.Sync([]string{"BTCUSDT", "ETHUSDT"})
	if len(added) != 2 || len(removed) != 0 {
		t.Fatalf("added=%v removed=%v", added, removed)
	}

	added, removed = table.Sync([]string{"ETHUSDT", "SOLUSDT"})
	if !reflect.DeepEqual(added, []string{"SOLUSDT"}) || !reflect.DeepEqual(removed, []string{"BTCUSDT"}) {
		t.Fatalf("added=%v removed=%v", added, removed)
	}
	if atomic.LoadInt32(exited) != 1 {
		t.Fatalf("removed worker should have exited before Sync returned")
	}
	if !reflect.DeepEqual(table.Symbols(), []string{"ETHUSDT", "SOLUSDT"}) {
		t.Fatalf("Symbols() = %v", table.Symbols())
	}
	if table.Has("BTCUSDT") {
		t.Fatalf("BTCUSDT should be untracked")
	}
}

func TestSymbolTableStopWaitsForWorkers(t *testing.T) {
	table, running, exited := newCountingTable()
	table.Add("BTCUSDT")
	table.Add("BTCUSDT")

	if table.Len() != 1 {
		t.Fatalf("duplicate add should be ignored")
	}
	if err := table.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := table.Start(context.Background()); err == nil {
		t.Fatalf("second Start should fail")
	}

	table.Stop()
	if atomic.LoadInt32(running) != 0 || atomic.LoadInt32(exited) != 1 {
		t.Fatalf("running=%d exited=%d", *running, *exited)
	}
	if table.Running() {
		t.Fatalf("table should not be running after Stop")
	}
	if !table.Has("BTCUSDT") {
		t.Fatalf("symbols survive Stop")
	}
}
