package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
)

// wsMessage is the envelope for every message on the feed
type wsMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// WebSocketServer streams detected opportunities to connected clients
type WebSocketServer struct {
	upgrader websocket.Upgrader
	mutex    sync.RWMutex
	clients  map[*websocket.Conn]*wsClient

	broadcast  chan *types.Opportunity
	register   chan *wsClient
	unregister chan *wsClient
	shutdown   chan struct{}
}

type wsClient struct {
	conn     *websocket.Conn
	send     chan *wsMessage
	lastPing time.Time
}

// NewWebSocketServer creates the feed hub
func NewWebSocketServer() *WebSocketServer {
	return &WebSocketServer{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:    make(map[*websocket.Conn]*wsClient),
		broadcast:  make(chan *types.Opportunity, 100),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		shutdown:   make(chan struct{}),
	}
}

// Start launches the hub loop
func (ws *WebSocketServer) Start(ctx context.Context) error {
	go ws.run(ctx)
	return nil
}

// Stop closes every client connection
func (ws *WebSocketServer) Stop(ctx context.Context) error {
	close(ws.shutdown)

	ws.mutex.Lock()
	for conn, client := range ws.clients {
		close(client.send)
		conn.Close()
		delete(ws.clients, conn)
	}
	ws.mutex.Unlock()
	return nil
}

// HandleWebSocket upgrades a connection onto the feed
func (ws *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("api: websocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		conn:     conn,
		send:     make(chan *wsMessage, 256),
		lastPing: time.Now(),
	}
	ws.register <- client

	go ws.writePump(client)
	go ws.readPump(client)
}

// BroadcastOpportunity pushes an opportunity onto the feed. A full
// buffer drops the message; the feed is best-effort.
func (ws *WebSocketServer) BroadcastOpportunity(opp *types.Opportunity) error {
	select {
	case ws.broadcast <- opp:
		return nil
	default:
		return fmt.Errorf("opportunity broadcast channel full")
	}
}

// GetConnectedClients returns the number of connected clients
func (ws *WebSocketServer) GetConnectedClients() int {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()
	return len(ws.clients)
}

func (ws *WebSocketServer) run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ws.shutdown:
			return
		case client := <-ws.register:
			ws.registerClient(client)
		case client := <-ws.unregister:
			ws.unregisterClient(client)
		case opp := <-ws.broadcast:
			ws.broadcastToClients(&wsMessage{Type: "opportunity", Data: opp, Timestamp: time.Now()})
		case <-ticker.C:
			ws.pingClients()
		}
	}
}

func (ws *WebSocketServer) registerClient(client *wsClient) {
	ws.mutex.Lock()
	ws.clients[client.conn] = client
	total := len(ws.clients)
	ws.mutex.Unlock()

	log.Printf("api: websocket client connected (total: %d)", total)
}

func (ws *WebSocketServer) unregisterClient(client *wsClient) {
	ws.mutex.Lock()
	if _, ok := ws.clients[client.conn]; ok {
		delete(ws.clients, client.conn)
		close(client.send)
		client.conn.Close()
	}
	total := len(ws.clients)
	ws.mutex.Unlock()

	log.Printf("api: websocket client disconnected (total: %d)", total)
}

func (ws *WebSocketServer) broadcastToClients(message *wsMessage) {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()

	for conn, client := range ws.clients {
		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(ws.clients, conn)
		}
	}
}

func (ws *WebSocketServer) pingClients() {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()

	for conn, client := range ws.clients {
		if time.Since(client.lastPing) > 60*time.Second {
			close(client.send)
			delete(ws.clients, conn)
			continue
		}
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			close(client.send)
			delete(ws.clients, conn)
		}
	}
}

func (ws *WebSocketServer) readPump(client *wsClient) {
	defer func() {
		select {
		case ws.unregister <- client:
		case <-ws.shutdown:
		}
	}()

	client.conn.SetReadLimit(512)
	client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.conn.SetPongHandler(func(string) error {
		client.lastPing = time.Now()
		client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("api: websocket error: %v", err)
			}
			break
		}
	}
}

func (ws *WebSocketServer) writePump(client *wsClient) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
