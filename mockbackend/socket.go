package mockbackend

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/DachengChen/sqlpilot/applog"
	"github.com/DachengChen/sqlpilot/logstream"
)

// DefaultPingInterval is the Engine.IO heartbeat sent to clients.
const DefaultPingInterval = 25 * time.Second

// Hub is a minimal Socket.IO server on the default namespace. It only
// broadcasts; client events other than connect are ignored.
type Hub struct {
	upgrader     websocket.Upgrader
	pingInterval time.Duration

	mu     sync.Mutex
	conns  map[*socketConn]bool // value: joined the namespace
	closed bool
	wg     sync.WaitGroup
}

type socketConn struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *socketConn) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// NewHub creates a hub. A non-positive interval uses DefaultPingInterval.
func NewHub(pingInterval time.Duration) *Hub {
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		pingInterval: pingInterval,
		conns:        make(map[*socketConn]bool),
	}
}

// ServeHTTP upgrades a websocket transport request. Polling is not offered.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("transport") != "websocket" {
		http.Error(w, `{"code":0,"message":"Transport unknown"}`, http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Error("socket upgrade: %v", err)
		return
	}

	c := &socketConn{conn: conn, send: make(chan []byte, 64), done: make(chan struct{})}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.conns[c] = false
	h.wg.Add(2)
	h.mu.Unlock()

	open, _ := json.Marshal(map[string]any{
		"sid":          uuid.NewString(),
		"upgrades":     []string{},
		"pingInterval": h.pingInterval.Milliseconds(),
		"pingTimeout":  (20 * time.Second).Milliseconds(),
		"maxPayload":   1000000,
	})
	c.send <- append([]byte("0"), open...)

	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) writeLoop(c *socketConn) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		var msg []byte
		select {
		case msg = <-c.send:
		case <-ticker.C:
			msg = []byte("2")
		case <-c.done:
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.close()
			return
		}
	}
}

func (h *Hub) readLoop(c *socketConn) {
	defer h.wg.Done()
	defer h.remove(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		switch string(data) {
		case "40":
			ack, _ := json.Marshal(map[string]string{"sid": uuid.NewString()})
			h.queue(c, append([]byte("40"), ack...))
			h.mu.Lock()
			h.conns[c] = true
			h.mu.Unlock()
		case "41":
			return
		}
	}
}

func (h *Hub) remove(c *socketConn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) queue(c *socketConn, msg []byte) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		applog.Debug("socket client too slow, dropping message")
	}
}

// Emit broadcasts an event to every connected client.
func (h *Hub) Emit(event string, data any) {
	msg, err := logstream.EncodeEvent(event, data)
	if err != nil {
		applog.Error("encode %s event: %v", event, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c, joined := range h.conns {
		if joined {
			h.queue(c, msg)
		}
	}
}

// Log broadcasts a "log" event.
func (h *Hub) Log(typ, message, summary string) {
	h.Emit("log", logstream.Payload{
		Type:      typ,
		Message:   message,
		Summary:   summary,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// StreamLog broadcasts one chunk of a streamed message.
func (h *Hub) StreamLog(chunk string, first bool) {
	h.Emit("stream_log", logstream.Payload{
		Type:      "ai",
		Message:   chunk,
		Timestamp: time.Now().Format(time.RFC3339),
		IsFirst:   first,
	})
}

// Clients returns the number of clients connected to the namespace.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, joined := range h.conns {
		if joined {
			n++
		}
	}
	return n
}

// Close disconnects every client and waits for their goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*socketConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	h.wg.Wait()
}
