package events

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// upgrader accepts any origin; the route it backs is read-only and the
// CORS policy for the rest of the API already gates browser access.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connection is one subscriber's socket, keyed by sponsor address.
type connection struct {
	id      string
	sponsor string
	conn    *websocket.Conn
	send    chan []byte
}

// streamMessage is the envelope pushed to a sponsor's connections.
type streamMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Sponsor   string      `json:"sponsor"`
	Data      interface{} `json:"data"`
}

// Hub fans out lifecycle events to the sponsors currently watching them
// over a websocket. It subscribes to the same publish() calls NATS does,
// so a missing or unreachable NATS deployment never affects this stream.
type Hub struct {
	mu    sync.RWMutex
	conns map[string][]*connection

	register   chan *connection
	unregister chan *connection
	broadcast  chan streamMessage
}

var defaultHub = newHub()

func newHub() *Hub {
	h := &Hub{
		conns:      make(map[string][]*connection),
		register:   make(chan *connection),
		unregister: make(chan *connection),
		broadcast:  make(chan streamMessage, 256),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.conns[c.sponsor] = append(h.conns[c.sponsor], c)
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			conns := h.conns[c.sponsor]
			for i, existing := range conns {
				if existing.id == c.id {
					h.conns[c.sponsor] = append(conns[:i], conns[i+1:]...)
					break
				}
			}
			if len(h.conns[c.sponsor]) == 0 {
				delete(h.conns, c.sponsor)
			}
			h.mu.Unlock()
			close(c.send)

		case msg := <-h.broadcast:
			h.mu.RLock()
			conns := h.conns[msg.Sponsor]
			body, err := json.Marshal(msg)
			if err != nil {
				h.mu.RUnlock()
				log.Printf("marshal stream message: %v", err)
				continue
			}
			for _, c := range conns {
				select {
				case c.send <- body:
				default:
					log.Printf("dropping stream message for connection %s: send buffer full", c.id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ServeSponsorStream upgrades the request and streams lifecycle events for
// one sponsor until the client disconnects. Read-only: the connection
// never accepts input beyond pings.
func ServeSponsorStream(w http.ResponseWriter, r *http.Request, sponsor string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	c := &connection{
		id:      fmt.Sprintf("conn_%d", time.Now().UnixNano()),
		sponsor: sponsor,
		conn:    conn,
		send:    make(chan []byte, 64),
	}

	defaultHub.register <- c
	go readLoop(c)
	writeLoop(c)
}

func writeLoop(c *connection) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop only drains incoming frames (pongs) so the connection's
// deadline keeps advancing; the stream carries no client input.
func readLoop(c *connection) {
	defer func() { defaultHub.unregister <- c }()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func broadcast(eventType, sponsor string, data interface{}) {
	defaultHub.broadcast <- streamMessage{
		Type:      eventType,
		Timestamp: time.Now(),
		Sponsor:   sponsor,
		Data:      data,
	}
}
