// Package websocket pushes reload notifications to the browsers of the
// development server.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/assetmin/internal/logging"
	"github.com/conneroisu/assetmin/internal/monitoring"
)

const (
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
	sendBuffer   = 16
)

// Manager handles WebSocket connections and broadcasting. A hub goroutine
// owns registration, removal and broadcast; clients map access is
// protected by clientsMutex.
type Manager struct {
	clients      map[*websocket.Conn]*Client
	clientsMutex sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *websocket.Conn

	originPatterns []string
	logger         logging.Logger
	metrics        *monitoring.Metrics

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	done         chan struct{}
}

// NewManager creates a Manager and starts its hub. Connections are accepted
// from the request host and from origins matching originPatterns.
func NewManager(originPatterns []string, logger logging.Logger, metrics *monitoring.Metrics) *Manager {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())

	manager := &Manager{
		clients:        make(map[*websocket.Conn]*Client),
		broadcast:      make(chan []byte, 256),
		register:       make(chan *Client, 32),
		unregister:     make(chan *websocket.Conn, 32),
		originPatterns: originPatterns,
		logger:         logger.WithComponent("websocket"),
		metrics:        metrics,
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}

	go manager.runHub()

	return manager
}

// HandleWebSocket upgrades the request and registers the client.
func (wm *Manager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if wm.ctx.Err() != nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  wm.originPatterns,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		// Accept has written the response
		wm.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote_addr", r.RemoteAddr)
		return
	}

	client := &Client{
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		remoteAddr:   r.RemoteAddr,
		lastActivity: time.Now(),
	}

	select {
	case wm.register <- client:
	case <-wm.ctx.Done():
		_ = conn.Close(websocket.StatusServiceRestart, "Server shutting down")
		return
	}

	wm.handleClient(client)
}

func (wm *Manager) runHub() {
	defer close(wm.done)
	for {
		select {
		case client := <-wm.register:
			wm.registerClient(client)
		case conn := <-wm.unregister:
			wm.unregisterClient(conn)
		case message := <-wm.broadcast:
			wm.broadcastToClients(message)
		case <-wm.ctx.Done():
			wm.closeAll()
			return
		}
	}
}

func (wm *Manager) registerClient(client *Client) {
	wm.clientsMutex.Lock()
	wm.clients[client.conn] = client
	total := len(wm.clients)
	wm.clientsMutex.Unlock()

	wm.metrics.ReloadClientConnected(true)
	wm.logger.Debug(wm.ctx, "WebSocket client connected", "remote_addr", client.remoteAddr, "clients", total)
}

func (wm *Manager) unregisterClient(conn *websocket.Conn) {
	wm.clientsMutex.Lock()
	client, exists := wm.clients[conn]
	if exists {
		delete(wm.clients, conn)
		close(client.send)
	}
	total := len(wm.clients)
	wm.clientsMutex.Unlock()

	if exists {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		wm.metrics.ReloadClientConnected(false)
		wm.logger.Debug(wm.ctx, "WebSocket client disconnected", "remote_addr", client.remoteAddr, "clients", total)
	}
}

func (wm *Manager) closeAll() {
	wm.clientsMutex.Lock()
	defer wm.clientsMutex.Unlock()

	for conn, client := range wm.clients {
		close(client.send)
		_ = conn.Close(websocket.StatusGoingAway, "Server shutdown")
		wm.metrics.ReloadClientConnected(false)
	}
	wm.clients = make(map[*websocket.Conn]*Client)
}

// broadcastToClients queues message on every client. Clients whose buffer
// is full are dropped.
func (wm *Manager) broadcastToClients(message []byte) {
	wm.clientsMutex.RLock()
	var slow []*websocket.Conn
	for conn, client := range wm.clients {
		select {
		case client.send <- message:
		default:
			slow = append(slow, conn)
		}
	}
	wm.clientsMutex.RUnlock()

	for _, conn := range slow {
		wm.unregisterClient(conn)
	}
}

// handleClient runs the write pump and blocks on the read pump until the
// connection ends.
func (wm *Manager) handleClient(client *Client) {
	defer func() {
		select {
		case wm.unregister <- client.conn:
		case <-wm.ctx.Done():
		}
	}()

	go wm.writeToClient(client)

	// Browsers only listen; reading handles control frames and notices closes.
	for {
		if _, _, err := client.conn.Read(wm.ctx); err != nil {
			return
		}
		client.lastActivity = time.Now()
	}
}

func (wm *Manager) writeToClient(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(wm.ctx, writeTimeout)
			err := client.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(wm.ctx, writeTimeout)
			err := client.conn.Ping(ctx)
			cancel()
			if err != nil {
				return
			}
		case <-wm.ctx.Done():
			return
		}
	}
}

// Broadcast sends message to all connected clients. It never blocks; the
// message is dropped when the hub is saturated or shut down.
func (wm *Manager) Broadcast(message UpdateMessage) {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	data, err := json.Marshal(message)
	if err != nil {
		wm.logger.Error(wm.ctx, err, "Failed to marshal broadcast message")
		return
	}

	select {
	case wm.broadcast <- data:
	case <-wm.ctx.Done():
	default:
		wm.logger.Warn(wm.ctx, nil, "Broadcast channel full, dropping message", "type", message.Type)
	}
}

// Reload asks every browser to reload target, the whole page when empty.
func (wm *Manager) Reload(target string) {
	wm.Broadcast(UpdateMessage{Type: TypeReload, Target: target})
}

// ConnectedClients returns the number of connected clients
func (wm *Manager) ConnectedClients() int {
	wm.clientsMutex.RLock()
	defer wm.clientsMutex.RUnlock()
	return len(wm.clients)
}

// Shutdown closes every connection and stops the hub.
func (wm *Manager) Shutdown(ctx context.Context) error {
	wm.shutdownOnce.Do(wm.cancel)

	select {
	case <-wm.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
