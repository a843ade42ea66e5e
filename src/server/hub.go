package server

import (
	"context"
	"encoding/json"
	"net/http"

	"flow-observer/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Hub Pattern Implementation
// -----------------------------------------------------------------------------

// handleWebsockets is the main Hub loop
func (s *FastAPIServer) handleWebsockets() {
	for {
		select {
		case <-s.done:
			for client := range s.clients {
				delete(s.clients, client)
				client.close()
			}
			s.connections.Store(0)
			return

		case client := <-s.register:
			s.clients[client] = struct{}{}
			s.connections.Store(int64(len(s.clients)))

		case client := <-s.unregister:
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.close()
				s.connections.Store(int64(len(s.clients)))
			}

		case event := <-s.broadcast:
			for client := range s.clients {
				if !client.wants(event) {
					continue
				}
				if !client.deliver(event) {
					// Client too slow, disconnect to prevent Hub blocking
					delete(s.clients, client)
					client.close()
					s.connections.Store(int64(len(s.clients)))
				}
			}
		}
	}
}

// -----------------------------------------------------------------------------
// Data Exchange Interface Implementation
// -----------------------------------------------------------------------------

// Broadcast queues an engine event for every subscribed client. Events are
// dropped when the queue is full so engines never wait on slow clients.
func (s *FastAPIServer) Broadcast(event models.MEngineEvent) {
	select {
	case s.broadcast <- event:
	default:
		s.Logger.Debug("Broadcast queue full, dropping %s %s event", event.Engine, event.Symbol)
	}
}

// -----------------------------------------------------------------------------

// Follow forwards events from one engine broker until ctx is done or the
// channel closes.
func (s *FastAPIServer) Follow(ctx context.Context, updates <-chan models.MEngineEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-updates:
			if !ok {
				return
			}
			s.Broadcast(event)
		}
	}
}

// -----------------------------------------------------------------------------
// WebSocket Handlers
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	client := &Client{
		hub:  s,
		conn: conn,
		// Buffered channel to prevent blocking the Hub loop
		send: make(chan interface{}, 256),
	}

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// -----------------------------------------------------------------------------
// Client Message Handling
// -----------------------------------------------------------------------------

func (s *FastAPIServer) HandleClientMessage(client *Client, message []byte) {
	var cmd models.MSubscribeCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		s.Logger.Info("Failed to parse client command: %v, disconnecting client", err)
		client.conn.Close()
		return
	}

	switch cmd.Command {
	case "subscribe":
		client.setFilter(cmd.Symbols, cmd.Engines)
	case "unsubscribe":
		client.setFilter(nil, nil)
	default:
		return
	}

	symbols, engines := client.filter()
	ack := gin.H{"type": "subscribed", "symbols": symbols, "engines": engines}

	client.deliver(ack)
}
