// Package chart streams bar and level snapshots to browser clients over websockets.
package chart

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"volumebot-go/internal/candle"
	"volumebot-go/internal/level"
)

// Snapshot is the visual state of one instrument at a point in time.
type Snapshot struct {
	Instrument string              `json:"instrument"`
	Period     time.Duration       `json:"period"`
	At         time.Time           `json:"at"`
	Bars       []candle.Bar        `json:"bars"`
	Confirmed  []time.Time         `json:"confirmed"`
	Rejected   []time.Time         `json:"rejected"`
	Levels     []level.VolumeLevel `json:"levels"`
}

type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func marshalWS(t string, v any) []byte {
	b, _ := json.Marshal(wsMessage{Type: t, Data: v})
	return b
}

// Hub keeps the latest snapshot per instrument and broadcasts new ones to every client.
type Hub struct {
	log        zerolog.Logger
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan Snapshot
	done       chan struct{}

	mu     sync.RWMutex
	latest map[string]Snapshot
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub returns a hub; call Run before serving clients.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    map[*client]bool{},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Snapshot, 64),
		done:       make(chan struct{}),
		latest:     map[string]Snapshot{},
	}
}

// Publish queues a snapshot without blocking; it reports false when the queue is full.
func (h *Hub) Publish(s Snapshot) bool {
	select {
	case h.broadcast <- s:
		return true
	default:
		return false
	}
}

// Latest returns the most recent snapshot for instrument.
func (h *Hub) Latest(instrument string) (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.latest[instrument]
	return s, ok
}

// Run owns the client set until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
			h.mu.RLock()
			for _, s := range h.latest {
				select {
				case c.send <- marshalWS("snapshot", s):
				default:
				}
			}
			h.mu.RUnlock()
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case s := <-h.broadcast:
			h.mu.Lock()
			h.latest[s.Instrument] = s
			h.mu.Unlock()
			msg := marshalWS("snapshot", s)
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   4096,
	WriteBufferSize:  4096,
	CheckOrigin:      func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and streams snapshots to the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("ws upgrade")
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, 256)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// ServeSnapshot answers GET ?instrument=X with the latest snapshot as JSON.
func (h *Hub) ServeSnapshot(w http.ResponseWriter, r *http.Request) {
	s, ok := h.Latest(r.URL.Query().Get("instrument"))
	if !ok {
		http.Error(w, "no snapshot", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s)
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(25 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}
