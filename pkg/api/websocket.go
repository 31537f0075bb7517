package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tcmartin/flowconsole/pkg/logging"
	"github.com/tcmartin/flowconsole/pkg/models"
	"github.com/tcmartin/flowconsole/pkg/runtime"
)

// WebSocketManager streams execution logs and status to subscribed clients
type WebSocketManager struct {
	upgrader websocket.Upgrader

	// connections maps execution IDs to subscribed connections
	connections map[string]map[*wsConn]bool

	// monitored holds the executions with a running log monitor
	monitored map[string]bool

	mu      sync.RWMutex
	runtime runtime.JobRuntime
	logger  logging.Logger
}

// wsConn serializes writes to one connection
type wsConn struct {
	conn          *websocket.Conn
	userID        string
	writeMu       sync.Mutex
	subscriptions map[string]bool
}

// ExecutionUpdate is one message sent to subscribers
type ExecutionUpdate struct {
	Type        string                `json:"type"` // "log", "status", "complete", "error", "pong"
	ExecutionID string                `json:"execution_id,omitempty"`
	Timestamp   time.Time             `json:"timestamp"`
	Message     string                `json:"message,omitempty"`
	Status      models.RemoteStatus   `json:"status,omitempty"`
	Kind        models.JobKind        `json:"kind,omitempty"`
	Log         *runtime.ExecutionLog `json:"log,omitempty"`
}

// WebSocketMessage is a message received from a client
type WebSocketMessage struct {
	Type        string `json:"type"` // "subscribe", "unsubscribe", "ping"
	ExecutionID string `json:"execution_id,omitempty"`
}

// NewWebSocketManager creates a new WebSocket manager
func NewWebSocketManager(rt runtime.JobRuntime, logger logging.Logger) *WebSocketManager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &WebSocketManager{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[string]map[*wsConn]bool),
		monitored:   make(map[string]bool),
		runtime:     rt,
		logger:      logger,
	}
}

// HandleWebSocket upgrades the connection and serves its messages until it closes
func (wsm *WebSocketManager) HandleWebSocket(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := wsm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wsm.logger.Warn("WebSocket upgrade failed", logging.Err(err))
		return
	}

	c := &wsConn{conn: conn, userID: userID, subscriptions: make(map[string]bool)}
	defer wsm.removeConnection(c)

	wsm.logger.Debug("WebSocket connection established", logging.F("user_id", userID))

	done := make(chan struct{})
	defer close(done)
	go wsm.pingRoutine(c, done)

	for {
		var msg WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsm.logger.Warn("WebSocket error", logging.Err(err))
			}
			return
		}
		wsm.handleMessage(c, &msg)
	}
}

func (wsm *WebSocketManager) handleMessage(c *wsConn, msg *WebSocketMessage) {
	switch msg.Type {
	case "subscribe":
		if msg.ExecutionID != "" {
			wsm.subscribe(c, msg.ExecutionID)
		}
	case "unsubscribe":
		if msg.ExecutionID != "" {
			wsm.unsubscribe(c, msg.ExecutionID)
		}
	case "ping":
		wsm.send(c, ExecutionUpdate{Type: "pong", Timestamp: time.Now()})
	default:
		wsm.send(c, ExecutionUpdate{Type: "error", Timestamp: time.Now(), Message: "unknown message type: " + msg.Type})
	}
}

// subscribe sends the current status, then streams logs until the execution ends
func (wsm *WebSocketManager) subscribe(c *wsConn, executionID string) {
	record, err := wsm.runtime.GetStatus(executionID)
	if err != nil {
		wsm.send(c, ExecutionUpdate{
			Type:        "error",
			ExecutionID: executionID,
			Timestamp:   time.Now(),
			Message:     "execution not found",
		})
		return
	}

	wsm.mu.Lock()
	if wsm.connections[executionID] == nil {
		wsm.connections[executionID] = make(map[*wsConn]bool)
	}
	wsm.connections[executionID][c] = true
	c.subscriptions[executionID] = true
	startMonitor := !record.Status.Terminal() && !wsm.monitored[executionID]
	if startMonitor {
		wsm.monitored[executionID] = true
	}
	wsm.mu.Unlock()

	wsm.send(c, statusUpdate("status", record))

	if record.Status.Terminal() {
		wsm.send(c, statusUpdate("complete", record))
		return
	}
	if startMonitor {
		go wsm.monitorExecution(executionID)
	}
}

func (wsm *WebSocketManager) unsubscribe(c *wsConn, executionID string) {
	wsm.mu.Lock()
	defer wsm.mu.Unlock()
	wsm.detach(c, executionID)
}

// detach must be called with mu held
func (wsm *WebSocketManager) detach(c *wsConn, executionID string) {
	if conns, ok := wsm.connections[executionID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(wsm.connections, executionID)
		}
	}
	delete(c.subscriptions, executionID)
}

// monitorExecution relays the logs of an execution, then its final status
func (wsm *WebSocketManager) monitorExecution(executionID string) {
	defer func() {
		wsm.mu.Lock()
		delete(wsm.monitored, executionID)
		wsm.mu.Unlock()
	}()

	logs, err := wsm.runtime.SubscribeToLogs(executionID)
	if err != nil {
		wsm.logger.Warn("Failed to subscribe to logs", logging.F("execution_id", executionID), logging.Err(err))
		return
	}

	for entry := range logs {
		entry := entry
		wsm.broadcast(executionID, ExecutionUpdate{
			Type:        "log",
			ExecutionID: executionID,
			Timestamp:   entry.Timestamp,
			Message:     entry.Message,
			Log:         &entry,
		})
	}

	record, err := wsm.runtime.GetStatus(executionID)
	if err != nil {
		return
	}
	wsm.broadcast(executionID, statusUpdate("status", record))
	if record.Status.Terminal() {
		wsm.broadcast(executionID, statusUpdate("complete", record))
	}
}

func statusUpdate(kind string, record models.ExecutionRecord) ExecutionUpdate {
	update := ExecutionUpdate{
		Type:        kind,
		ExecutionID: record.ID,
		Timestamp:   time.Now(),
		Status:      record.Status,
		Kind:        record.Job.Kind,
		Message:     record.Error,
	}
	if kind == "complete" && update.Message == "" {
		update.Message = "Execution finished with status: " + string(record.Status)
	}
	return update
}

// broadcast sends an update to every subscriber of an execution
func (wsm *WebSocketManager) broadcast(executionID string, update ExecutionUpdate) {
	wsm.mu.RLock()
	conns := make([]*wsConn, 0, len(wsm.connections[executionID]))
	for c := range wsm.connections[executionID] {
		conns = append(conns, c)
	}
	wsm.mu.RUnlock()

	for _, c := range conns {
		wsm.send(c, update)
	}
}

func (wsm *WebSocketManager) send(c *wsConn, update ExecutionUpdate) {
	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	err := c.conn.WriteJSON(update)
	c.writeMu.Unlock()

	if err != nil {
		wsm.logger.Debug("Failed to send WebSocket message", logging.Err(err))
		wsm.removeConnection(c)
	}
}

// removeConnection drops every subscription of a connection and closes it
func (wsm *WebSocketManager) removeConnection(c *wsConn) {
	wsm.mu.Lock()
	for executionID := range c.subscriptions {
		wsm.detach(c, executionID)
	}
	wsm.mu.Unlock()
	c.conn.Close()
}

func (wsm *WebSocketManager) pingRoutine(c *wsConn, done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				wsm.removeConnection(c)
				return
			}
		}
	}
}

// GetExecutionSubscribers returns the number of subscribers of an execution
func (wsm *WebSocketManager) GetExecutionSubscribers(executionID string) int {
	wsm.mu.RLock()
	defer wsm.mu.RUnlock()
	return len(wsm.connections[executionID])
}
