package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultSendBufferSize is the number of frames queued per client before
// the client is considered too slow and disconnected.
const DefaultSendBufferSize = 256

// Client represents a WebSocket client connection.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool

	// Binding to a session, set by a successful join.
	bindMu    sync.Mutex
	hub       *Hub
	sessionID string
	userID    string
}

// NewClient creates a new WebSocket client with a bounded outbound queue.
func NewClient(conn *websocket.Conn, bufferSize int) *Client {
	if bufferSize <= 0 {
		bufferSize = DefaultSendBufferSize
	}
	return &Client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, bufferSize),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Send queues a message to be sent to the client. It reports whether the
// message was queued. A client whose queue is full is closed.
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		// Buffer full, close the client
		log.Printf("Client %s cannot keep up, disconnecting", c.id)
		c.closeLocked()
		return false
	}
}

// Close closes the client's outbound queue.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Binding returns the session and user the client joined as.
func (c *Client) Binding() (sessionID, userID string, ok bool) {
	c.bindMu.Lock()
	defer c.bindMu.Unlock()
	return c.sessionID, c.userID, c.hub != nil
}

func (c *Client) bind(hub *Hub, sessionID, userID string) {
	c.bindMu.Lock()
	defer c.bindMu.Unlock()
	c.hub = hub
	c.sessionID = sessionID
	c.userID = userID
}

// unbind clears the binding and returns what it was.
func (c *Client) unbind() (hub *Hub, sessionID, userID string, ok bool) {
	c.bindMu.Lock()
	defer c.bindMu.Unlock()

	hub, sessionID, userID = c.hub, c.sessionID, c.userID
	c.hub, c.sessionID, c.userID = nil, "", ""
	return hub, sessionID, userID, hub != nil
}

// boundHub returns the client's hub if it is joined to sessionID.
func (c *Client) boundHub(sessionID string) (*Hub, string, bool) {
	c.bindMu.Lock()
	defer c.bindMu.Unlock()

	if c.hub == nil || c.sessionID != sessionID {
		return nil, "", false
	}
	return c.hub, c.userID, true
}

// Hub holds the connections currently joined to one session.
type Hub struct {
	sessionID string
	clients   map[*Client]bool
	mu        sync.RWMutex

	// order serializes a session's mutations together with their fan-out,
	// so every recipient sees snapshots in mutation order.
	order sync.Mutex
}

// NewHub creates a new Hub for the given session.
func NewHub(sessionID string) *Hub {
	return &Hub{
		sessionID: sessionID,
		clients:   make(map[*Client]bool),
	}
}

// SessionID returns the session ID for this hub.
func (h *Hub) SessionID() string {
	return h.sessionID
}

// Do runs fn while holding the hub's ordering lock.
func (h *Hub) Do(fn func()) {
	h.order.Lock()
	defer h.order.Unlock()
	fn()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

// Unregister removes a client from the hub and returns the remaining count.
// The client's connection is left open.
func (h *Hub) Unregister(client *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client)
	return len(h.clients)
}

// Broadcast sends data to every registered client except exclude, skipping
// clients that are already closed. It returns the number of clients the
// data was queued for.
func (h *Hub) Broadcast(data []byte, exclude *Client) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.clients {
		if client == exclude {
			continue
		}
		if client.Send(data) {
			delivered++
		}
	}
	return delivered
}

// BroadcastMessage encodes v and broadcasts it.
func (h *Hub) BroadcastMessage(v any, exclude *Client) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(data, exclude)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HasClients returns true if there are connected clients.
func (h *Hub) HasClients() bool {
	return h.ClientCount() > 0
}

// Has reports whether the client is registered.
func (h *Hub) Has(client *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[client]
}

// Close closes all client connections and empties the hub.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}

// HubManager indexes hubs by session id. A hub exists exactly while at
// least one client is joined to its session.
type HubManager struct {
	hubs map[string]*Hub
	mu   sync.RWMutex
}

// NewHubManager creates a new HubManager.
func NewHubManager() *HubManager {
	return &HubManager{
		hubs: make(map[string]*Hub),
	}
}

// Join registers the client under the session, creating the hub if needed.
func (m *HubManager) Join(sessionID string, client *Client) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()

	hub, ok := m.hubs[sessionID]
	if !ok {
		hub = NewHub(sessionID)
		m.hubs[sessionID] = hub
	}
	hub.Register(client)
	return hub
}

// Leave unregisters the client from the session and drops the hub once empty.
func (m *HubManager) Leave(sessionID string, client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hub, ok := m.hubs[sessionID]
	if !ok {
		return
	}
	if hub.Unregister(client) == 0 {
		delete(m.hubs, sessionID)
	}
}

// Get returns the hub for the session, or nil if not found.
func (m *HubManager) Get(sessionID string) *Hub {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hubs[sessionID]
}

// Broadcast delivers data to the clients joined to the session, except
// exclude. It returns the number of clients the data was queued for.
func (m *HubManager) Broadcast(sessionID string, data []byte, exclude *Client) int {
	hub := m.Get(sessionID)
	if hub == nil {
		return 0
	}
	return hub.Broadcast(data, exclude)
}

// Remove closes and removes the hub for the session.
func (m *HubManager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, ok := m.hubs[sessionID]; ok {
		hub.Close()
		delete(m.hubs, sessionID)
	}
}

// SessionCount returns the number of sessions with joined clients.
func (m *HubManager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hubs)
}

// ConnectionCount returns the number of joined clients across all sessions.
func (m *HubManager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, hub := range m.hubs {
		total += hub.ClientCount()
	}
	return total
}

// Close closes all hubs.
func (m *HubManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, hub := range m.hubs {
		hub.Close()
	}
	m.hubs = make(map[string]*Hub)
}
