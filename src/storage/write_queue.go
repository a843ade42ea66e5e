package storage

import (
	"sync"
	"time"

	"flow-observer/src/helpers"
	"flow-observer/src/logger"
	"flow-observer/src/models"
	"flow-observer/src/utils"
)

// WriteJob is one persistence unit. OnSuccess and OnFailure run on the writer
// goroutine once the job is settled.
type WriteJob struct {
	Name      string
	Run       func() error
	OnSuccess func()
	OnFailure func(err error)
}

// -----------------------------------------------------------------------------

// WriteQueue decouples an engine's ingestion path from the store. Enqueue
// never blocks; a full queue drops the job and counts it.
type WriteQueue struct {
	name       string
	jobs       chan WriteJob
	attempts   int
	retryDelay time.Duration
	log        *logger.Logger

	stats      models.MWriteQueueStats
	statsMutex sync.RWMutex

	closeMutex sync.RWMutex
	closed     bool
	done       chan struct{}
}

// -----------------------------------------------------------------------------

func NewWriteQueue(name string, size int, log *logger.Logger) *WriteQueue {
	if size <= 0 {
		size = utils.DefaultWriteQueueSize
	}
	q := &WriteQueue{
		name:       name,
		jobs:       make(chan WriteJob, size),
		attempts:   utils.DefaultWriteAttempts,
		retryDelay: 100 * time.Millisecond,
		log:        log.Named(name + "_writer"),
		done:       make(chan struct{}),
	}
	go q.run()
	return q
}

// -----------------------------------------------------------------------------

// SetRetryDelay changes the pause between attempts of a failing job.
func (q *WriteQueue) SetRetryDelay(d time.Duration) {
	q.retryDelay = d
}

// -----------------------------------------------------------------------------

// Enqueue submits job without blocking. It returns false when the job was
// dropped because the queue is full or closed.
func (q *WriteQueue) Enqueue(job WriteJob) bool {
	q.closeMutex.RLock()
	defer q.closeMutex.RUnlock()

	if q.closed {
		q.incDropped()
		return false
	}

	select {
	case q.jobs <- job:
		q.statsMutex.Lock()
		q.stats.Enqueued++
		q.statsMutex.Unlock()
		return true
	default:
		q.incDropped()
		q.log.Warning("write queue full, dropped %s", job.Name)
		return false
	}
}

// -----------------------------------------------------------------------------

// Close stops accepting jobs and waits until queued ones are written.
func (q *WriteQueue) Close() {
	q.closeMutex.Lock()
	if q.closed {
		q.closeMutex.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.jobs)
	q.closeMutex.Unlock()

	<-q.done
}

// -----------------------------------------------------------------------------

func (q *WriteQueue) Stats() models.MWriteQueueStats {
	q.statsMutex.RLock()
	defer q.statsMutex.RUnlock()
	s := q.stats
	s.Pending = len(q.jobs)
	return s
}

// -----------------------------------------------------------------------------

func (q *WriteQueue) run() {
	defer close(q.done)

	for job := range q.jobs {
		var err error
		for attempt := 1; attempt <= q.attempts; attempt++ {
			if err = job.Run(); err == nil {
				break
			}
			if attempt < q.attempts {
				time.Sleep(q.retryDelay * time.Duration(attempt))
			}
		}

		if err != nil {
			werr := helpers.NewPersistenceWriteError(job.Name, err)
			q.log.Error("%v (after %d attempts)", werr, q.attempts)
			q.statsMutex.Lock()
			q.stats.Failed++
			q.statsMutex.Unlock()
			if job.OnFailure != nil {
				job.OnFailure(werr)
			}
			continue
		}

		q.statsMutex.Lock()
		q.stats.Written++
		q.statsMutex.Unlock()

		if job.OnSuccess != nil {
			job.OnSuccess()
		}
	}
}

// -----------------------------------------------------------------------------

func (q *WriteQueue) incDropped() {
	q.statsMutex.Lock()
	q.stats.Dropped++
	q.statsMutex.Unlock()
}
