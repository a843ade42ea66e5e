package storage

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"flow-observer/src/helpers"
	"flow-observer/src/logger"
)

func TestWriteQueueRetriesThenSucceeds(t *testing.T) {
	q := NewWriteQueue("test", 4, logger.NewLogger(nil, "test"))
	q.SetRetryDelay(time.Millisecond)

	var calls, published int32
	q.Enqueue(WriteJob{
		Name: "flaky",
		Run: func() error {
			if atomic.AddInt32(&calls, 1) < 3 {
				return errors.New("locked")
			}
			return nil
		},
		OnSuccess: func() { atomic.AddInt32(&published, 1) },
	})
	q.Close()

	if calls != 3 || published != 1 {
		t.Fatalf("calls=%d published=%d", calls, published)
	}
	if s := q.Stats(); s.Written != 1 || s.Failed != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestWriteQueueFailureIsCountedNotPublished(t *testing.T) {
	q := NewWriteQueue("test", 4, logger.NewLogger(nil, "test"))
	q.SetRetryDelay(time.Millisecond)

	var published int32
	var failure error
	q.Enqueue(WriteJob{
		Name:      "broken",
		Run:       func() error { return errors.New("disk full") },
		OnSuccess: func() { atomic.AddInt32(&published, 1) },
		OnFailure: func(err error) { failure = err },
	})
	q.Close()

	if published != 0 {
		t.Fatalf("failed job must not publish")
	}
	var werr *helpers.PersistenceWriteError
	if !errors.As(failure, &werr) {
		t.Fatalf("expected PersistenceWriteError, got %v", failure)
	}
	if s := q.Stats(); s.Failed != 1 || s.Enqueued != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestWriteQueueDropsWhenFull(t *testing.T) {
	q := NewWriteQueue("test", 1, logger.NewLogger(nil, "test"))

	release := make(chan struct{})
	started := make(chan struct{})
	q.Enqueue(WriteJob{Name: "blocker", Run: func() error {
		close(started)
		<-release
		return nil
	}})
	<-started

	if !q.Enqueue(WriteJob{Name: "queued", Run: func() error { return nil }}) {
		t.Fatalf("second job should fit in the buffer")
	}
	if q.Enqueue(WriteJob{Name: "dropped", Run: func() error { return nil }}) {
		t.Fatalf("third job should be dropped")
	}

	close(release)
	q.Close()

	if s := q.Stats(); s.Dropped != 1 || s.Written != 2 {
		t.Fatalf("unexpected stats %+v", s)
	}
	if q.Enqueue(WriteJob{Name: "late", Run: func() error { return nil }}) {
		t.Fatalf("enqueue after close must be rejected")
	}
}
