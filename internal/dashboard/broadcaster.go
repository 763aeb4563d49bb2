// Package dashboard implements the read-only status surface (spec.md
// §7 supplemental feature): a WebSocket push feed plus a polled JSON
// snapshot of ledger state, for an operator dashboard that must never
// be able to mutate a position. Adapted from the teacher's WebSocket
// broadcaster, re-pointed at ledger snapshots instead of Postgres
// trade-table rows.
package dashboard

import (
	"log"
	"sync"
)

// Client represents one connected WebSocket subscriber.
type Client struct {
	ID   string
	Send chan WebSocketMessage
}

// WebSocketMessage is the envelope for every message pushed to clients.
// Data is a Snapshot, not a bare interface{}: the dashboard push feed
// only ever carries one payload shape, the same read-only ledger view
// the polled status endpoint serves, so the envelope says so.
type WebSocketMessage struct {
	Type      string   `json:"type"`
	Data      Snapshot `json:"data"`
	Timestamp string   `json:"timestamp"`
}

// Broadcaster manages WebSocket client connections and fans out snapshots.
type Broadcaster struct {
	clients    map[*Client]bool
	broadcast  chan WebSocketMessage
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *log.Logger
	shutdown   chan struct{}
}

// NewBroadcaster creates a new Broadcaster instance.
func NewBroadcaster(logger *log.Logger) *Broadcaster {
	if logger == nil {
		logger = log.New(log.Writer(), "[dashboard-broadcaster] ", log.LstdFlags)
	}
	return &Broadcaster{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan WebSocketMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		shutdown:   make(chan struct{}),
	}
}

// Register registers a new client for broadcasts.
func (b *Broadcaster) Register(client *Client) {
	b.register <- client
}

// Unregister removes a client from broadcasts.
func (b *Broadcaster) Unregister(client *Client) {
	b.unregister <- client
}

// Broadcast sends a message to all connected clients.
func (b *Broadcaster) Broadcast(message WebSocketMessage) {
	select {
	case b.broadcast <- message:
	case <-b.shutdown:
	}
}

// Run starts the broadcaster loop. Call in a goroutine.
func (b *Broadcaster) Run() {
	defer func() {
		b.logger.Println("broadcaster: shutting down")
		close(b.shutdown)
	}()

	for {
		select {
		case client := <-b.register:
			b.mu.Lock()
			b.clients[client] = true
			b.mu.Unlock()
			b.logger.Printf("broadcaster: client registered (total: %d)", len(b.clients))

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				delete(b.clients, client)
				close(client.Send)
			}
			b.mu.Unlock()
			b.logger.Printf("broadcaster: client unregistered (total: %d)", len(b.clients))

		case message, ok := <-b.broadcast:
			if !ok {
				return
			}
			b.mu.RLock()
			clients := make([]*Client, 0, len(b.clients))
			for client := range b.clients {
				clients = append(clients, client)
			}
			b.mu.RUnlock()

			for _, client := range clients {
				select {
				case client.Send <- message:
				default:
					b.logger.Printf("broadcaster: client %s send channel full, skipping", client.ID)
				}
			}

		case <-b.shutdown:
			return
		}
	}
}

// Shutdown gracefully shuts down the broadcaster.
func (b *Broadcaster) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for client := range b.clients {
		close(client.Send)
	}
	b.clients = make(map[*Client]bool)
	close(b.broadcast)
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
