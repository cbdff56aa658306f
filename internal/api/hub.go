package api

import (
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"directindex/internal/metrics"
	"directindex/internal/model"
	"directindex/internal/ringbuf"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// replayDefault caps how many buffered events a fresh client receives
// on connect.
const replayDefault = 64

// Hub fans rebalance cycle events out to connected WebSocket clients.
// Events enter through Broadcast, pick up a monotonic sequence number
// from the replay ring and go out as {"seq":N,"event":{...}} frames.
// A client that reconnects after a drop passes ?since_seq=N to replay
// what it missed.
type Hub struct {
	replay *ringbuf.Ring
	m      *metrics.Metrics // optional

	mu      sync.RWMutex
	clients map[*wsClient]bool
}

// NewHub creates a hub with a replay ring of the given capacity.
func NewHub(replayCapacity int, m *metrics.Metrics) *Hub {
	return &Hub{
		replay:  ringbuf.New(replayCapacity),
		m:       m,
		clients: make(map[*wsClient]bool),
	}
}

// Broadcast buffers the event for replay and sends it to every client.
// A client with a full send queue drops the frame instead of blocking
// the fan-out; the ring covers the gap on its next reconnect.
func (h *Hub) Broadcast(ev model.CycleEvent) {
	seq := h.replay.Push(ev)
	frame := envelope(seq, ev)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// LastSeq returns the sequence number of the newest buffered event.
func (h *Hub) LastSeq() int64 {
	return h.replay.LastSeq()
}

// ServeWS upgrades the request and registers the client. The handler
// layer has already checked the session.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[api] ws upgrade error: %v", err)
		return
	}

	c := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
		hub:  h,
	}

	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	if h.m != nil {
		h.m.WSClients.Set(float64(count))
	}
	log.Printf("[api] ws client connected (%d total)", count)

	c.replayTail(r.URL.Query().Get("since_seq"))
	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	close(c.send)

	if h.m != nil {
		h.m.WSClients.Set(float64(count))
	}
}

// envelope builds the wire frame for one event. Hand-assembled so the
// sequence number rides outside the event payload.
func envelope(seq int64, ev model.CycleEvent) []byte {
	data := ev.JSON()
	buf := make([]byte, 0, len(data)+24)
	buf = append(buf, `{"seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"event":`...)
	buf = append(buf, data...)
	buf = append(buf, '}')
	return buf
}

// wsClient is one WebSocket peer.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// replayTail queues buffered events the client has not seen yet. With
// since_seq set, everything after that sequence number; otherwise the
// recent tail. Runs before the pumps start, so the queue is ours alone.
func (c *wsClient) replayTail(sinceSeq string) {
	var entries []ringbuf.Entry
	if n, err := strconv.ParseInt(sinceSeq, 10, 64); err == nil && n >= 0 {
		entries = c.hub.replay.Since(n)
	} else {
		entries = c.hub.replay.Recent(replayDefault)
	}
	for _, e := range entries {
		select {
		case c.send <- envelope(e.Seq, e.Event):
		default:
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
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

func (c *wsClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
		log.Println("[api] ws client disconnected")
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// The stream is one-way; reads only service control frames.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
