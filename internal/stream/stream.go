// Package stream pushes live supervisor state to connected dashboards
// over websocket: worker start/stop transitions and recorded incidents.
package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rigops/rigagent/internal/types"
)

// Manager tracks connected websocket clients and broadcasts to them.
type Manager struct {
	clients    map[*websocket.Conn]bool
	clientsMux sync.RWMutex
}

// Global is the process-wide stream manager.
var Global = &Manager{
	clients: make(map[*websocket.Conn]bool),
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards connect from other origins on the LAN
	},
	Subprotocols: []string{"Authorization"}, // token smuggled via subprotocol
}

// AddClient registers a connection.
func (m *Manager) AddClient(conn *websocket.Conn) {
	m.clientsMux.Lock()
	defer m.clientsMux.Unlock()
	m.clients[conn] = true
}

// RemoveClient unregisters a connection.
func (m *Manager) RemoveClient(conn *websocket.Conn) {
	m.clientsMux.Lock()
	defer m.clientsMux.Unlock()
	delete(m.clients, conn)
}

// Publish broadcasts a typed message to all connected clients. The
// signature matches what the supervisor expects of its notify hook.
func (m *Manager) Publish(msgType string, data interface{}) {
	m.Broadcast(types.WSMessage{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// Broadcast sends the message to every client, dropping connections
// whose writes fail.
func (m *Manager) Broadcast(message types.WSMessage) {
	m.clientsMux.RLock()
	defer m.clientsMux.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		return
	}

	for client := range m.clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			go func(conn *websocket.Conn) {
				m.RemoveClient(conn)
				conn.Close()
			}(client)
		}
	}
}

// ClientCount reports the number of connected clients.
func (m *Manager) ClientCount() int {
	m.clientsMux.RLock()
	defer m.clientsMux.RUnlock()
	return len(m.clients)
}

// HandleWebSocket upgrades the request and keeps the connection alive,
// answering ping messages until the client disconnects.
func HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "WebSocket upgrade failed"})
		return
	}
	defer func() {
		Global.RemoveClient(conn)
		conn.Close()
	}()

	Global.AddClient(conn)
	log.Printf("WebSocket client connected, total clients: %d", Global.ClientCount())

	connected := types.WSMessage{
		Type:      "connected",
		Timestamp: time.Now(),
		Data:      map[string]string{"message": "connected"},
	}
	connectedData, _ := json.Marshal(connected)
	if err := conn.WriteMessage(websocket.TextMessage, connectedData); err != nil {
		log.Printf("Error writing connected message: %v", err)
		return
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var clientMsg map[string]interface{}
		if json.Unmarshal(message, &clientMsg) == nil {
			if msgType, ok := clientMsg["type"].(string); ok && msgType == "ping" {
				pong := types.WSMessage{
					Type:      "pong",
					Timestamp: time.Now(),
					Data:      map[string]string{"message": "pong"},
				}
				pongData, _ := json.Marshal(pong)
				if err := conn.WriteMessage(websocket.TextMessage, pongData); err != nil {
					log.Printf("Error writing pong message: %v", err)
					return
				}
			}
		}
	}

	log.Printf("WebSocket client disconnected, remaining clients: %d", Global.ClientCount())
}
