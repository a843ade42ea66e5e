package network

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"flow-observer/src/helpers"
	"flow-observer/src/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	streamReadTimeout  = 90 * time.Second
	streamWriteTimeout = 5 * time.Second
	streamBuffer       = 1024
)

var errResyncRequested = errors.New("resync requested")

// StreamEventType tags what happened on a stream connection.
type StreamEventType int

const (
	StreamConnected StreamEventType = iota
	StreamMessage
	StreamDisconnected
)

// StreamEvent is delivered in order on StreamConn.Events. Session changes on
// every successful dial.
type StreamEvent[T any] struct {
	Type    StreamEventType
	Session string
	Frame   T
	Err     error
}

// StreamStats counts connection churn and dropped frames.
type StreamStats struct {
	Reconnects uint64
	Messages   uint64
	Malformed  uint64
}

// -----------------------------------------------------------------------------

// StreamConn keeps one websocket stream open. Its reader goroutine only
// decodes frames and hands them to the consumer; it reconnects with capped
// exponential backoff that resets after every successful dial.
type StreamConn[T any] struct {
	name   string
	url    string
	decode func([]byte) (T, error)
	dialer *websocket.Dialer
	min    time.Duration
	max    time.Duration
	log    *logger.Logger

	events chan StreamEvent[T]
	resync chan struct{}

	reconnects atomic.Uint64
	messages   atomic.Uint64
	malformed  atomic.Uint64
}

// -----------------------------------------------------------------------------

func NewStreamConn[T any](name, baseURL, stream string, decode func([]byte) (T, error), min, max time.Duration, log *logger.Logger) *StreamConn[T] {
	return &StreamConn[T]{
		name:   name,
		url:    strings.TrimRight(baseURL, "/") + "/" + stream,
		decode: decode,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Proxy:            websocket.DefaultDialer.Proxy,
		},
		min:    min,
		max:    max,
		log:    log.Named(name),
		events: make(chan StreamEvent[T], streamBuffer),
		resync: make(chan struct{}, 1),
	}
}

// -----------------------------------------------------------------------------

func (s *StreamConn[T]) URL() string {
	return s.url
}

// -----------------------------------------------------------------------------

// Events is closed once Run returns.
func (s *StreamConn[T]) Events() <-chan StreamEvent[T] {
	return s.events
}

// -----------------------------------------------------------------------------

// Resync drops the current connection and dials a fresh one immediately.
func (s *StreamConn[T]) Resync() {
	select {
	case s.resync <- struct{}{}:
	default:
	}
}

// -----------------------------------------------------------------------------

func (s *StreamConn[T]) Stats() StreamStats {
	return StreamStats{
		Reconnects: s.reconnects.Load(),
		Messages:   s.messages.Load(),
		Malformed:  s.malformed.Load(),
	}
}

// -----------------------------------------------------------------------------

// Run blocks until ctx is done.
func (s *StreamConn[T]) Run(ctx context.Context) {
	defer close(s.events)

	b := helpers.NewBackoff(s.min, s.max)
	first := true

	for ctx.Err() == nil {
		if !first {
			s.reconnects.Add(1)
		}
		first = false

		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := b.Duration()
			s.log.Warning("%v, retrying in %v", helpers.NewTransientNetworkError("dial "+s.url, err), delay)
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}
		b.Reset()

		// a resync requested while disconnected is already satisfied
		select {
		case <-s.resync:
		default:
		}

		session := uuid.NewString()
		s.log.Info("Connected to %s (session %s)", s.url, session)
		if !s.emit(ctx, StreamEvent[T]{Type: StreamConnected, Session: session}) {
			conn.Close()
			return
		}

		err = s.readLoop(ctx, conn, session)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		s.emit(ctx, StreamEvent[T]{Type: StreamDisconnected, Session: session, Err: err})

		if errors.Is(err, errResyncRequested) {
			s.log.Info("Resync requested, reconnecting %s", s.url)
			continue
		}

		delay := b.Duration()
		s.log.Warning("%v, reconnecting in %v", helpers.NewTransientNetworkError("stream "+s.url+" closed", err), delay)
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

// -----------------------------------------------------------------------------

func (s *StreamConn[T]) readLoop(ctx context.Context, conn *websocket.Conn, session string) error {
	var reason atomic.Value
	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			reason.Store(ctx.Err())
			conn.Close()
		case <-s.resync:
			reason.Store(errResyncRequested)
			conn.Close()
		case <-done:
		}
	}()
	defer func() {
		close(done)
		wg.Wait()
	}()

	conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(streamWriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if r, ok := reason.Load().(error); ok {
				return r
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))

		frame, err := s.decode(payload)
		if err != nil {
			s.malformed.Add(1)
			s.log.Warning("Dropping frame: %v", err)
			continue
		}
		s.messages.Add(1)

		if !s.emit(ctx, StreamEvent[T]{Type: StreamMessage, Session: session, Frame: frame}) {
			return ctx.Err()
		}
	}
}

// -----------------------------------------------------------------------------

func (s *StreamConn[T]) emit(ctx context.Context, ev StreamEvent[T]) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// -----------------------------------------------------------------------------

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
