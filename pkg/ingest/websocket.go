package ingest

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nicktill/impact/pkg/config"
)

// Event types pushed to WebSocket clients
const (
	EventHello       = "hello"
	EventRunIngested = "run_ingested"
	EventRunDeleted  = "run_deleted"
	EventRebuilt     = "experiment_rebuilt"
	EventStats       = "stats_update"
)

// Event is one message pushed to WebSocket clients
type Event struct {
	Type            string      `json:"type"`
	Timestamp       int64       `json:"timestamp"`
	Run             string      `json:"run,omitempty"`
	Readings        int         `json:"readings,omitempty"`
	ReplicateTrials int         `json:"replicate_trials,omitempty"`
	Data            interface{} `json:"data,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts browsers on the serving host and non-browser clients,
// which send no Origin header
func sameOrigin(r *http.Request) bool {
	switch r.Header.Get("Origin") {
	case "", "http://" + r.Host, "https://" + r.Host:
		return true
	}
	return false
}

// EventHub fans ingest events out to connected WebSocket clients. All
// writes to a connection happen on the hub goroutine, except pings.
type EventHub struct {
	conns map[*websocket.Conn]struct{}
	mu    sync.RWMutex

	join     chan *websocket.Conn
	leave    chan *websocket.Conn
	messages chan []byte
}

// NewEventHub creates a hub; call Run to start delivering events
func NewEventHub() *EventHub {
	return &EventHub{
		conns:    make(map[*websocket.Conn]struct{}),
		join:     make(chan *websocket.Conn, config.WSChannelBuffer),
		leave:    make(chan *websocket.Conn, config.WSChannelBuffer),
		messages: make(chan []byte, config.WSBroadcastBuffer),
	}
}

// Run delivers events until ctx is cancelled, then closes every connection
func (h *EventHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.conns {
				conn.Close()
			}
			h.conns = make(map[*websocket.Conn]struct{})
			h.mu.Unlock()
			return

		case conn := <-h.join:
			h.mu.Lock()
			h.conns[conn] = struct{}{}
			n := len(h.conns)
			h.mu.Unlock()
			log.Printf("WebSocket client connected (total: %d)", n)

		case conn := <-h.leave:
			h.drop(conn)

		case msg := <-h.messages:
			for _, conn := range h.deliver(msg) {
				h.drop(conn)
			}
		}
	}
}

// deliver writes msg to every client and returns the ones that failed
func (h *EventHub) deliver(msg []byte) []*websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var failed []*websocket.Conn
	for conn := range h.conns {
		conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Printf("WebSocket write error: %v", err)
			failed = append(failed, conn)
		}
	}
	return failed
}

func (h *EventHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.conns[conn]
	delete(h.conns, conn)
	n := len(h.conns)
	h.mu.Unlock()

	if ok {
		conn.Close()
		log.Printf("WebSocket client disconnected (total: %d)", n)
	}
}

// Publish stamps and queues an event. Publishing on a nil hub is a no-op.
// Events are dropped rather than blocking ingest when the queue is full.
func (h *EventHub) Publish(e Event) error {
	if h == nil {
		return nil
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}
	msg, err := json.Marshal(e)
	if err != nil {
		return err
	}

	select {
	case h.messages <- msg:
	default:
		log.Printf("Event queue full, dropping %s event", e.Type)
	}
	return nil
}

// HasClients reports whether any WebSocket client is connected
func (h *EventHub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns) > 0
}

// HandleWebSocket upgrades the request and streams hub events to it. New
// clients first receive a hello event with the current experiment counts.
func (h *Handler) HandleWebSocket(hub *EventHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed: %v", err)
			return
		}

		summary, _ := h.summary()
		hello := Event{
			Type:            EventHello,
			Timestamp:       time.Now().Unix(),
			ReplicateTrials: summary.ReplicateTrials,
			Data:            summary,
		}
		conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
		if err := conn.WriteJSON(hello); err != nil {
			conn.Close()
			return
		}

		hub.join <- conn
		defer func() { hub.leave <- conn }()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go keepAlive(ctx, conn)

		readUntilClosed(conn)
	}
}

// keepAlive pings the client until ctx is done or a ping fails
func keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(config.WSPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(config.WSWriteDeadline)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// readUntilClosed drains client frames so pongs and close frames are
// processed; clients are not expected to send data
func readUntilClosed(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
	}
}
