package websocket

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"carbon-scribe/verification-service/internal/notifications"
	"carbon-scribe/verification-service/internal/verification"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// Manager streams verification progress to WebSocket subscribers
type Manager struct {
	connections map[string]*Connection
	mu          sync.RWMutex
	hub         *Hub
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// Connection is one subscribed dashboard
type Connection struct {
	ID           string
	Filter       notifications.Filter
	Conn         *websocket.Conn
	Send         chan notifications.Message
	ConnectedAt  time.Time
	LastActivity time.Time
	RemoteAddr   string
	mu           sync.Mutex
}

func (c *Connection) wants(event verification.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Filter.Matches(event)
}

// Hub owns the connection set and fans broadcasts out to it
type Hub struct {
	connections map[*Connection]bool
	broadcast   chan notifications.Message
	register    chan *Connection
	unregister  chan *Connection
	reply       chan reply
	stop        chan struct{}
	done        chan struct{}
	logger      *zap.Logger
}

type reply struct {
	conn    *Connection
	message notifications.Message
}

// NewManager creates a manager and starts its hub
func NewManager(logger *zap.Logger) *Manager {
	hub := &Hub{
		connections: make(map[*Connection]bool),
		broadcast:   make(chan notifications.Message, 256),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		reply:       make(chan reply, 16),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logger,
	}

	go hub.run()

	return &Manager{
		connections: make(map[string]*Connection),
		hub:         hub,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleConnection upgrades the request and subscribes it. The submission_id and
// kind query parameters narrow the stream.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := time.Now()
	connection := &Connection{
		ID: uuid.New().String(),
		Filter: notifications.Filter{
			SubmissionID: r.URL.Query().Get("submission_id"),
			Kind:         verification.Kind(r.URL.Query().Get("kind")),
		},
		Conn:         conn,
		Send:         make(chan notifications.Message, sendBuffer),
		ConnectedAt:  now,
		LastActivity: now,
		RemoteAddr:   r.RemoteAddr,
	}

	select {
	case m.hub.register <- connection:
	case <-m.hub.done:
		conn.Close()
		return nil, fmt.Errorf("progress hub is closed")
	}

	m.mu.Lock()
	m.connections[connection.ID] = connection
	m.mu.Unlock()

	go m.readPump(connection)
	go m.writePump(connection)

	return connection, nil
}

// Serve is HandleConnection for callers that do not need the connection
func (m *Manager) Serve(w http.ResponseWriter, r *http.Request) error {
	_, err := m.HandleConnection(w, r)
	return err
}

// readPump handles subscription changes until the client goes away
func (m *Manager) readPump(conn *Connection) {
	defer func() {
		select {
		case m.hub.unregister <- conn:
		case <-m.hub.done:
		}
		m.mu.Lock()
		delete(m.connections, conn.ID)
		m.mu.Unlock()
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(512)
	conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg notifications.Message
		if err := conn.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Debug("Progress connection closed", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			return
		}

		conn.mu.Lock()
		conn.LastActivity = time.Now()
		conn.mu.Unlock()

		m.handleMessage(conn, &msg)
	}
}

// writePump forwards hub messages and keeps the connection alive
func (m *Manager) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (m *Manager) handleMessage(conn *Connection, msg *notifications.Message) {
	switch msg.Type {
	case notifications.MessageTypeSubscribe:
		conn.mu.Lock()
		if msg.Filter != nil {
			conn.Filter = *msg.Filter
		} else {
			conn.Filter = notifications.Filter{}
		}
		filter := conn.Filter
		conn.mu.Unlock()

		ack := notifications.Message{
			Type:      notifications.MessageTypeStatus,
			Filter:    &filter,
			Timestamp: time.Now().UTC(),
		}
		select {
		case m.hub.reply <- reply{conn: conn, message: ack}:
		case <-m.hub.done:
		}
	default:
		m.logger.Debug("Unknown progress message type", zap.String("type", msg.Type))
	}
}

// Notify broadcasts a progress event. It never blocks; events are dropped when the hub
// is saturated.
func (m *Manager) Notify(event verification.Event) {
	msg := notifications.Message{
		Type:      notifications.MessageTypeProgress,
		Event:     &event,
		Timestamp: event.Timestamp,
	}
	select {
	case m.hub.broadcast <- msg:
	case <-m.hub.done:
	default:
		m.logger.Debug("Progress broadcast channel full, dropping event", zap.String("event", event.Name))
	}
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case conn := <-h.register:
			h.connections[conn] = true
			h.logger.Debug("Progress connection registered", zap.String("connection_id", conn.ID))

		case conn := <-h.unregister:
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				close(conn.Send)
			}

		case r := <-h.reply:
			if _, ok := h.connections[r.conn]; ok {
				select {
				case r.conn.Send <- r.message:
				default:
				}
			}

		case message := <-h.broadcast:
			for conn := range h.connections {
				if message.Event != nil && !conn.wants(*message.Event) {
					continue
				}
				select {
				case conn.Send <- message:
				default:
					// slow consumer
					close(conn.Send)
					delete(h.connections, conn)
				}
			}

		case <-h.stop:
			for conn := range h.connections {
				close(conn.Send)
				delete(h.connections, conn)
			}
			return
		}
	}
}

// GetConnectionCount returns the number of active connections
func (m *Manager) GetConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// ConnectionInfo describes a connection for monitoring
type ConnectionInfo struct {
	ConnectionID string               `json:"connection_id"`
	Filter       notifications.Filter `json:"filter"`
	ConnectedAt  time.Time            `json:"connected_at"`
	LastActivity time.Time            `json:"last_activity"`
	RemoteAddr   string               `json:"remote_addr"`
}

// GetConnectionInfo returns information about all active connections
func (m *Manager) GetConnectionInfo() []ConnectionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info := make([]ConnectionInfo, 0, len(m.connections))
	for _, conn := range m.connections {
		conn.mu.Lock()
		info = append(info, ConnectionInfo{
			ConnectionID: conn.ID,
			Filter:       conn.Filter,
			ConnectedAt:  conn.ConnectedAt,
			LastActivity: conn.LastActivity,
			RemoteAddr:   conn.RemoteAddr,
		})
		conn.mu.Unlock()
	}
	return info
}

// Close stops the hub and disconnects every client
func (m *Manager) Close() {
	close(m.hub.stop)
	<-m.hub.done

	m.mu.Lock()
	for _, conn := range m.connections {
		conn.Conn.Close()
	}
	m.connections = make(map[string]*Connection)
	m.mu.Unlock()
}
