// Package events fans result status events out to websocket subscribers.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/lyzr/taskplane/common/logger"
)

// Hub maintains active websocket connections per session and broadcasts messages
type Hub struct {
	// Map: session id → clients
	connections map[string][]*Client
	mutex       sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{}

	log *logger.Logger
}

var errHubStopped = errors.New("event hub stopped")

// Message is an encoded event for the subscribers of one session
type Message struct {
	SessionID string
	Data      []byte
}

// NewHub creates a new Hub instance
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		connections: make(map[string][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		done:        make(chan struct{}),
		log:         log,
	}
}

// Run is the hub's main loop. It returns when ctx ends, closing every client.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("event hub started")

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			h.log.Info("event hub stopped")
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToSession(message)
		}
	}
}

// Broadcast queues a message. It gives up when ctx ends.
func (h *Hub) Broadcast(ctx context.Context, msg *Message) error {
	select {
	case <-h.done:
		return errHubStopped
	default:
	}

	select {
	case h.broadcast <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return errHubStopped
	}
}

// add registers client; false once the hub has stopped
func (h *Hub) add(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.connections[client.sessionID] = append(h.connections[client.sessionID], client)
	h.log.Debug("subscriber registered",
		"session_id", client.sessionID,
		"total_for_session", len(h.connections[client.sessionID]))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.removeLocked(client)
}

// removeLocked drops client and closes its send channel once
func (h *Hub) removeLocked(client *Client) {
	clients := h.connections[client.sessionID]
	for i, c := range clients {
		if c != client {
			continue
		}
		h.connections[client.sessionID] = append(clients[:i:i], clients[i+1:]...)
		close(client.send)

		if len(h.connections[client.sessionID]) == 0 {
			delete(h.connections, client.sessionID)
		}
		h.log.Debug("subscriber unregistered",
			"session_id", client.sessionID,
			"remaining_for_session", len(h.connections[client.sessionID]))
		return
	}
}

// broadcastToSession sends a message to all connections of a session
func (h *Hub) broadcastToSession(message *Message) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	clients := h.connections[message.SessionID]
	if len(clients) == 0 {
		return
	}

	// iterate a copy, slow clients are removed on the way
	for _, client := range append([]*Client(nil), clients...) {
		select {
		case client.send <- message.Data:
		default:
			h.log.Warn("subscriber send buffer full, closing connection", "session_id", client.sessionID)
			h.removeLocked(client)
		}
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for _, clients := range h.connections {
		for _, c := range clients {
			close(c.send)
		}
	}
	h.connections = make(map[string][]*Client)
}

// ConnectionCount returns the total number of active connections
func (h *Hub) ConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	count := 0
	for _, clients := range h.connections {
		count += len(clients)
	}
	return count
}

// SessionCount returns the number of sessions with subscribers
func (h *Hub) SessionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.connections)
}
