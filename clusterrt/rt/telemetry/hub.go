package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultWriteTimeout bounds how long one Broadcast may block on its viewers.
const DefaultWriteTimeout = 20 * time.Millisecond

// Hub broadcasts per-frame light statistics as JSON to websocket viewers.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex

	// OnError receives upgrade and read failures. It may be nil.
	OnError func(err error)
	// WriteTimeout is the write deadline of each Broadcast. Viewers that miss
	// it are dropped.
	WriteTimeout time.Duration
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:      make(map[*websocket.Conn]*sync.Mutex),
		WriteTimeout: DefaultWriteTimeout,
	}
}

// ServeHTTP upgrades the request and keeps the connection until the viewer
// goes away. Incoming messages are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.report(err)
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = &sync.Mutex{}
	h.mu.Unlock()
	defer h.remove(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.report(err)
			}
			return
		}
	}
}

func (h *Hub) report(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

// Clients is the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends v to every viewer and drops the ones that fail or miss the
// write deadline. It returns the number of viewers reached.
func (h *Hub) Broadcast(v any) int {
	h.mu.RLock()
	var failed []*websocket.Conn
	sent := 0
	deadline := time.Now().Add(h.WriteTimeout)
	for conn, mu := range h.clients {
		mu.Lock()
		err := conn.SetWriteDeadline(deadline)
		if err == nil {
			err = conn.WriteJSON(v)
		}
		mu.Unlock()
		if err != nil {
			failed = append(failed, conn)
			continue
		}
		sent++
	}
	h.mu.RUnlock()

	for _, conn := range failed {
		h.remove(conn)
		conn.Close()
	}
	return sent
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
