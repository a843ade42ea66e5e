package heatmap

import (
	"reflect"
	"testing"

	"flow-observer/src/helpers"
	"flow-observer/src/models"
)

func book(last int64, bids, asks []models.MPriceLevel) models.MDepthBootstrap {
	return models.MDepthBootstrap{Symbol: "BTCUSDT", LastUpdateID: last, Bids: bids, Asks: asks}
}

func diff(first, last int64, bids, asks []models.MPriceLevel) models.MDepthDiff {
	return models.MDepthDiff{Symbol: "BTCUSDT", FirstUpdateID: first, LastUpdateID: last, BidUpdates: bids, AskUpdates: asks}
}

func TestMidPriceFromBestLevels(t *testing.T) {
	r := NewReplica("BTCUSDT", 100)
	r.ApplyBootstrap(book(10, []models.MPriceLevel{{100, 1}, {99, 3}}, []models.MPriceLevel{{102, 1}, {105, 2}}))
	if r.Mid() != 101 {
		t.Fatalf("mid = %v, want 101", r.Mid())
	}
}

func TestDiffsBeforeBootstrapAreDiscarded(t *testing.T) {
	r := NewReplica("BTCUSDT", 100)
	res, err := r.ApplyDiff(diff(1, 2, []models.MPriceLevel{{100, 1}}, nil))
	if err != nil || res != DiffNotReady {
		t.Fatalf("got %v %v", res, err)
	}
	if b, a := r.Depth(); b != 0 || a != 0 {
		t.Fatalf("book should stay empty")
	}
}

func TestStaleDiffIsDiscarded(t *testing.T) {
	r := NewReplica("BTCUSDT", 100)
	r.ApplyBootstrap(book(100, []models.MPriceLevel{{100, 1}}, []models.MPriceLevel{{102, 1}}))

	res, err := r.ApplyDiff(diff(90, 100, []models.MPriceLevel{{100, 0}}, nil))
	if err != nil || res != DiffStale {
		t.Fatalf("got %v %v", res, err)
	}
	if bids, _ := r.TopLevels(1); len(bids) != 1 {
		t.Fatalf("stale diff must not change the book")
	}
}

func TestGapInvalidatesReplica(t *testing.T) {
	r := NewReplica("BTCUSDT", 100)
	r.ApplyBootstrap(book(100, []models.MPriceLevel{{100, 1}}, []models.MPriceLevel{{102, 1}}))

	if res, err := r.ApplyDiff(diff(95, 105, []models.MPriceLevel{{100.5, 2}}, nil)); err != nil || res != DiffApplied {
		t.Fatalf("overlapping first diff should apply: %v %v", res, err)
	}

	_, err := r.ApplyDiff(diff(107, 110, []models.MPriceLevel{{101, 1}}, nil))
	if !helpers.IsProtocolGap(err) {
		t.Fatalf("expected protocol gap, got %v", err)
	}
	if r.Ready() {
		t.Fatalf("replica must be invalidated after a gap")
	}

	// nothing applies until a fresh bootstrap
	if res, _ := r.ApplyDiff(diff(106, 106, []models.MPriceLevel{{101, 1}}, nil)); res != DiffNotReady {
		t.Fatalf("diff applied to invalidated replica")
	}
	r.ApplyBootstrap(book(200, []models.MPriceLevel{{99, 1}}, []models.MPriceLevel{{103, 1}}))
	if res, err := r.ApplyDiff(diff(201, 202, nil, []models.MPriceLevel{{102.5, 1}})); err != nil || res != DiffApplied {
		t.Fatalf("diff after resync: %v %v", res, err)
	}
	if r.LastUpdateID() != 202 {
		t.Fatalf("last update id = %d", r.LastUpdateID())
	}
}

func TestZeroQuantityRemovesLevel(t *testing.T) {
	r := NewReplica("BTCUSDT", 100)
	r.ApplyBootstrap(book(1, []models.MPriceLevel{{100, 1}, {99, 1}}, []models.MPriceLevel{{102, 1}}))
	r.ApplyDiff(diff(2, 2, []models.MPriceLevel{{100, 0}, {98, 4}}, []models.MPriceLevel{{102, 0}, {101, 2}}))

	bids, asks := r.TopLevels(0)
	want := []models.MPriceLevel{{99, 1}, {98, 4}}
	if !reflect.DeepEqual(bids, want) {
		t.Fatalf("bids = %v, want %v", bids, want)
	}
	if len(asks) != 1 || asks[0] != (models.MPriceLevel{101, 2}) {
		t.Fatalf("asks = %v", asks)
	}
	if r.Mid() != 100 {
		t.Fatalf("mid = %v", r.Mid())
	}
}

func TestReplicaIsBoundedToMaxLevels(t *testing.T) {
	r := NewReplica("BTCUSDT", 2)
	r.ApplyBootstrap(book(1,
		[]models.MPriceLevel{{98, 1}, {100, 1}, {99, 1}},
		[]models.MPriceLevel{{103, 1}, {101, 1}, {102, 1}},
	))

	bids, asks := r.TopLevels(0)
	if !reflect.DeepEqual(bids, []models.MPriceLevel{{100, 1}, {99, 1}}) {
		t.Fatalf("bids = %v", bids)
	}
	if !reflect.DeepEqual(asks, []models.MPriceLevel{{101, 1}, {102, 1}}) {
		t.Fatalf("asks = %v", asks)
	}
}

func TestReplayIsIdempotent(t *testing.T) {
	boot := book(500,
		[]models.MPriceLevel{{100, 1}, {99.5, 2}, {99, 3}},
		[]models.MPriceLevel{{100.5, 1}, {101, 2}, {101.5, 3}},
	)
	diffs := []models.MDepthDiff{
		diff(480, 499, []models.MPriceLevel{{90, 9}}, nil), // stale
		diff(495, 505, []models.MPriceLevel{{100, 4}}, []models.MPriceLevel{{100.5, 0}}),
		diff(506, 510, []models.MPriceLevel{{100.25, 1}}, []models.MPriceLevel{{100.75, 5}}),
		diff(511, 520, []models.MPriceLevel{{99.5, 0}}, []models.MPriceLevel{{102, 1}}),
	}

	replay := func() *Replica {
		r := NewReplica("BTCUSDT", 50)
		r.ApplyDiff(diffs[1]) // before bootstrap, discarded
		r.ApplyBootstrap(boot)
		for _, d := range diffs {
			if _, err := r.ApplyDiff(d); err != nil {
				t.Fatalf("replay: %v", err)
			}
		}
		return r
	}

	a, b := replay(), replay()
	aBids, aAsks := a.TopLevels(0)
	bBids, bAsks := b.TopLevels(0)
	if !reflect.DeepEqual(aBids, bBids) || !reflect.DeepEqual(aAsks, bAsks) {
		t.Fatalf("replays diverged")
	}
	if a.LastUpdateID() != b.LastUpdateID() || a.Mid() != b.Mid() {
		t.Fatalf("replays diverged: %d/%v vs %d/%v", a.LastUpdateID(), a.Mid(), b.LastUpdateID(), b.Mid())
	}
	if a.LastUpdateID() != 520 || a.Mid() != (100.25+100.75)/2 {
		t.Fatalf("unexpected final state %d %v", a.LastUpdateID(), a.Mid())
	}
}
