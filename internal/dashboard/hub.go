// Package dashboard serves the read-only web UI: a websocket feed of
// bot state snapshots plus a small REST surface for health, metrics
// and (when enabled) operator controls.
package dashboard

import (
	"context"
	"sync"

	"gridbot/internal/core"
)

// Message is one websocket frame
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	// TypeSnapshot carries a full bot.Snapshot
	TypeSnapshot = "snapshot"
)

// Client is one connected websocket consumer. Send never blocks; a
// slow client overflows its buffer and gets dropped.
type Client struct {
	id     string
	send   chan Message
	mu     sync.Mutex
	closed bool
}

// NewClient creates a client with a buffered send queue
func NewClient(id string) *Client {
	return &Client{id: id, send: make(chan Message, 64)}
}

// Send queues a message, reporting false when the client is closed or
// its buffer is full.
func (c *Client) Send(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// SendChan exposes the queue to the write pump
func (c *Client) SendChan() <-chan Message {
	return c.send
}

// Close closes the client's queue. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub fans broadcast messages out to every registered client
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	logger     core.ILogger
}

// NewHub creates a hub
func NewHub(logger core.ILogger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.WithField("component", "dashboard_hub"),
	}
}

// Run pumps registrations and broadcasts until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("Dashboard client connected", "client_id", client.id, "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("Dashboard client disconnected", "client_id", client.id, "total", total)

		case msg := <-h.broadcast:
			h.mu.RLock()
			targets := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				targets = append(targets, client)
			}
			h.mu.RUnlock()

			for _, client := range targets {
				if !client.Send(msg) {
					select {
					case h.unregister <- client:
					default:
					}
				}
			}
		}
	}
}

// Register adds a client
func (h *Hub) Register(client *Client) { h.register <- client }

// Unregister removes a client
func (h *Hub) Unregister(client *Client) { h.unregister <- client }

// Broadcast queues a message for every client, dropping it when the
// broadcast queue itself is full.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Broadcast queue full, dropping frame", "type", msg.Type)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
