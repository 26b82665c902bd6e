// Package web serves the push-to-talk page and a WebSocket hub. Browsers send
// press gestures in; status line and icon colour updates are fanned out to
// every connected browser. The hub is the controller's UI surface.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"pushtalk/internal/ptt"
)

const (
	pingInterval = 20 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 3 * time.Second
)

// Presser receives press gestures from browsers.
type Presser interface {
	OnPressStart() error
	OnPressEnd() error
}

// Event is a daemon → browser update.
type Event struct {
	Type      string `json:"type"` // status, icon
	Text      string `json:"text,omitempty"`
	Connected bool   `json:"connected,omitempty"`
	Color     string `json:"color,omitempty"`
}

// Input is a browser → daemon gesture.
type Input struct {
	Type string `json:"type"` // press_start, press_end
}

const (
	InputPressStart = "press_start"
	InputPressEnd   = "press_end"
)

// Hub manages browser connections. Register, unregister and broadcast go
// through channels; only Run writes to connections.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
	done       chan struct{}
	upgrader   websocket.Upgrader
	logger     *logrus.Logger

	mu      sync.Mutex
	presser Presser
	status  Event
	icon    Event
}

// NewHub allocates a hub. Call Run in a goroutine and Bind a Presser.
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn, 16),
		unregister: make(chan *websocket.Conn, 16),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
		status: Event{Type: "status", Text: ptt.StatusConnecting},
		icon:   Event{Type: "icon", Color: ptt.IconIdle},
	}
}

// Bind routes browser gestures to p.
func (h *Hub) Bind(p Presser) {
	h.mu.Lock()
	h.presser = p
	h.mu.Unlock()
}

// SetStatus implements ptt.Surface.
func (h *Hub) SetStatus(text string, connected bool) {
	ev := Event{Type: "status", Text: text, Connected: connected}
	h.mu.Lock()
	h.status = ev
	h.mu.Unlock()
	h.BroadcastJSON(ev)
}

// SetIconColor implements ptt.Surface.
func (h *Hub) SetIconColor(color string) {
	ev := Event{Type: "icon", Color: color}
	h.mu.Lock()
	h.icon = ev
	h.mu.Unlock()
	h.BroadcastJSON(ev)
}

// Run processes registrations, broadcasts and keepalive pings until ctx is
// cancelled, then closes all clients. Run must be called at most once.
func (h *Hub) Run(ctx context.Context) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				_ = c.Close()
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			for _, msg := range h.snapshot() {
				h.write(c, websocket.TextMessage, msg)
			}

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				_ = c.Close()
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				h.write(c, websocket.TextMessage, msg)
			}

		case <-ping.C:
			for c := range h.clients {
				h.write(c, websocket.PingMessage, nil)
			}
		}
	}
}

func (h *Hub) write(c *websocket.Conn, kind int, msg []byte) {
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.WriteMessage(kind, msg); err != nil {
		delete(h.clients, c)
		_ = c.Close()
	}
}

func (h *Hub) snapshot() [][]byte {
	h.mu.Lock()
	status, icon := h.status, h.icon
	h.mu.Unlock()
	out := make([][]byte, 0, 2)
	for _, ev := range []Event{status, icon} {
		if b, err := json.Marshal(ev); err == nil {
			out = append(out, b)
		}
	}
	return out
}

// ServeWS upgrades the request and reads gestures until the browser goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debugf("websocket upgrade: %v", err)
		return
	}
	if !h.enqueue(h.register, conn) {
		_ = conn.Close()
		return
	}
	h.logger.WithField("remote", r.RemoteAddr).Debug("browser connected")

	go func() {
		defer func() {
			if !h.enqueue(h.unregister, conn) {
				_ = conn.Close()
			}
		}()
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debugf("browser read: %v", err)
				}
				return
			}
			h.dispatch(data)
		}
	}()
}

// enqueue hands c to Run. It reports false once Run has returned.
func (h *Hub) enqueue(ch chan<- *websocket.Conn, c *websocket.Conn) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case ch <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) dispatch(data []byte) {
	var in Input
	if err := json.Unmarshal(data, &in); err != nil {
		h.logger.Debugf("bad browser message: %v", err)
		return
	}
	h.mu.Lock()
	p := h.presser
	h.mu.Unlock()
	if p == nil {
		h.logger.Warn("press received before controller was bound")
		return
	}
	switch in.Type {
	case InputPressStart:
		_ = p.OnPressStart()
	case InputPressEnd:
		_ = p.OnPressEnd()
	default:
		h.logger.Debugf("unknown browser message type %q", in.Type)
	}
}

// BroadcastJSON queues v for every browser. Dropped if the queue is full.
func (h *Hub) BroadcastJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- b:
	default:
	}
}

// Handler returns the page, script and WebSocket routes.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", handleIndex)
	mux.HandleFunc("/app.js", handleAppJS)
	mux.HandleFunc("/ws", h.ServeWS)
	return mux
}
