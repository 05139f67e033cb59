// Package realtime is a slimmed websocket fan-out used only by the event
// sink's optional broadcast leg. Grounded on realtime/websocket.go, narrowed
// from a general-purpose multi-message-kind hub to broadcasting the
// engine's fixed events.Event taxonomy.
package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Message is the envelope broadcast to every connected client.
type Message struct {
	Kind      string      `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Broadcaster fans out engine events to connected websocket clients.
type Broadcaster struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan Message
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.Mutex
	upgrader   websocket.Upgrader
}

// NewBroadcaster builds a Broadcaster. Call Run in its own goroutine before
// broadcasting or accepting connections.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Message),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run drives the manager's connection/broadcast loop until stop is closed.
func (b *Broadcaster) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			b.mu.Lock()
			for conn := range b.clients {
				conn.Close()
			}
			b.mu.Unlock()
			return

		case conn := <-b.register:
			b.mu.Lock()
			b.clients[conn] = true
			b.mu.Unlock()
			log.Info().Msg("realtime client connected")

		case conn := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[conn]; ok {
				delete(b.clients, conn)
				conn.Close()
				log.Info().Msg("realtime client disconnected")
			}
			b.mu.Unlock()

		case msg := <-b.broadcast:
			b.mu.Lock()
			for conn := range b.clients {
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					log.Error().Err(err).Msg("failed to write to realtime client, closing connection")
					conn.Close()
					delete(b.clients, conn)
				}
			}
			b.mu.Unlock()
		}
	}
}

// Broadcast sends kind/payload to every connected client. Safe to call
// before Run starts draining, it simply blocks until a receiver is ready;
// callers running this from the event sink should do so in a goroutine or
// accept that a slow broadcast stalls emission.
func (b *Broadcaster) Broadcast(kind string, payload interface{}) {
	b.broadcast <- Message{Kind: kind, Timestamp: time.Now(), Payload: payload}
}

// ClientCount reports the number of currently connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// HandleWebSocket upgrades an HTTP connection and registers it for broadcast.
func (b *Broadcaster) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade realtime connection")
		return
	}
	b.register <- conn

	go func() {
		defer func() { b.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Error().Err(err).Msg("realtime connection closed unexpectedly")
				}
				break
			}
		}
	}()
}
