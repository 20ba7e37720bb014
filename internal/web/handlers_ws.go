package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/KongGithubDev/LightLink/internal/core"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// socketFrame is the browser socket wire format: {"event": ..., "data": ...}.
type socketFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WSHub manages browser socket connections and broadcasts frames.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan interface{}

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// trySend queues data for the client. It reports false when the buffer is
// full or the client is closed.
func (c *wsClient) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close ends the client's send channel once.
func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan interface{}, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			// Close all remaining clients on shutdown
			h.mu.Lock()
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("socket client connected", "id", client.id, "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("socket client disconnected", "id", client.id, "total", total)

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("socket marshal", "err", err)
				continue
			}
			h.mu.Lock()
			var slow []*wsClient
			for client := range h.clients {
				if !client.trySend(data) {
					// Client too slow, mark for eviction
					slow = append(slow, client)
				}
			}
			for _, client := range slow {
				delete(h.clients, client)
				client.close()
				h.logger.Warn("socket client evicted (too slow)", "id", client.id)
			}
			h.mu.Unlock()
		}
	}
}

// Stop signals the hub to shut down. Safe to call multiple times.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast queues a message for all connected clients. It reports false
// when the queue is full and the message was dropped.
func (h *WSHub) Broadcast(msg interface{}) bool {
	select {
	case h.broadcast <- msg:
		return true
	default:
		h.logger.Warn("socket broadcast channel full, dropping message")
		return false
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func encodeFrame(event string, data any) []byte {
	b, _ := json.Marshal(socketFrame{Event: event, Data: data})
	return b
}

// handleSocket serves the browser channel. The client gets the current
// status on connect, then every broadcast status; cmd frames it sends are
// dispatched and answered with a cmd_ack to that client only.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	// If no allowedOrigins configured, nhooyr defaults to same-origin check.

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("socket accept", "err", err)
		return
	}

	conn.SetReadLimit(8192)

	client := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
	}

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	if m, err := s.snapshot(); err == nil {
		client.trySend(encodeFrame(core.EventStatus, m))
	} else {
		s.logger.Error("socket initial status", "err", err)
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *Server) wsWritePump(client *wsClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	// Channel closed by hub; close connection.
	client.conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) wsReadPump(client *wsClient) {
	defer func() {
		select {
		case s.wsHub.unregister <- client:
		case <-s.wsHub.done:
			// Hub already shut down; close connection directly.
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel read context when hub shuts down.
	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	go s.wsPingLoop(ctx, client)

	for {
		_, data, err := client.conn.Read(ctx)
		if err != nil {
			return
		}
		if reply := s.handleSocketFrame(data); reply != nil {
			if !client.trySend(reply) {
				s.logger.Warn("socket ack dropped", "id", client.id)
			}
		}
	}
}

// wsPingLoop pings the client until ctx ends. A missed pong closes the
// connection, which ends the read pump.
func (s *Server) wsPingLoop(ctx context.Context, client *wsClient) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, s.pongTimeout)
			err := client.conn.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Debug("socket ping failed", "id", client.id, "err", err)
					client.conn.Close(websocket.StatusPolicyViolation, "ping timeout")
				}
				return
			}
		}
	}
}

// handleSocketFrame processes one browser frame and returns the encoded
// reply, if any.
func (s *Server) handleSocketFrame(data []byte) []byte {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		ack := core.Ack(nil, core.Errorf(core.CodeInvalidJSON, "decode frame: %v", err))
		return encodeFrame(ack.Type, ack.Payload)
	}
	switch f.Event {
	case core.EventCommand:
		cmd, _, err := core.DecodeCommand(f.Data)
		var res *core.Result
		if err == nil {
			res, err = s.dispatcher.Dispatch(cmd)
		}
		ack := core.Ack(res, err)
		return encodeFrame(ack.Type, ack.Payload)
	case "get_status":
		m, err := s.snapshot()
		if err != nil {
			ack := core.Ack(nil, err)
			return encodeFrame(ack.Type, ack.Payload)
		}
		return encodeFrame(core.EventStatus, m)
	default:
		ack := core.Ack(nil, core.Errorf(core.CodeInvalidBody, "unknown event %q", f.Event))
		return encodeFrame(ack.Type, ack.Payload)
	}
}
